package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"comanda-pos/internal/backend"
	"comanda-pos/internal/channel/channeltest"
	"comanda-pos/internal/guard"
	"comanda-pos/internal/poserr"
	"comanda-pos/internal/tab"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu          sync.Mutex
	rounds      map[string]tab.Snapshot
	fetched     []string
	transferred []string
	deleted     []string
	fail        error
}

func (f *fakeAPI) FetchLines(_ context.Context, tabID string, order int) (tab.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s@%d", tabID, order)
	f.fetched = append(f.fetched, key)
	if f.fail != nil {
		return tab.Snapshot{}, f.fail
	}
	s := f.rounds[key]
	s.TabID, s.Partial = tabID, true
	return s, nil
}

func (f *fakeAPI) Payments(_ context.Context, tabID string) ([]backend.Payment, error) {
	return []backend.Payment{{ID: "p1", Method: "Pix", Amount: decimal.NewFromInt(10)}}, nil
}

func (f *fakeAPI) DeletePayment(_ context.Context, tabID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, tabID+"/"+id)
	return f.fail
}

func (f *fakeAPI) TransferTab(_ context.Context, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferred = append(f.transferred, from+"->"+to)
	return f.fail
}

func pricePush(tabID string, qty int, remaining string) map[string]any {
	return map[string]any{
		"comanda": tabID,
		"dados": []map[string]any{
			{"id": "1", "pedido": "Burger", "quantidade": fmt.Sprint(qty), "quantidade_paga": 0, "preco": fmt.Sprintf("%d.00", qty*10), "nome": "Ana"},
			{"id": "2", "pedido": "Suco", "quantidade": "1", "quantidade_paga": 1, "preco": "8.00", "nome": "Bia"},
		},
		"preco_a_pagar": remaining,
		"preco_pago":    "8",
		"preco_total":   "28",
		"desconto":      0,
		"nomes":         []string{"Ana", "Bia"},
	}
}

func newReconciler(t *testing.T) (*Reconciler, *channeltest.Recorder, *fakeAPI) {
	t.Helper()
	rec := channeltest.New()
	api := &fakeAPI{rounds: map[string]tab.Snapshot{}}
	r := New(rec, api, guard.New(0), Config{
		Shop:         "loja1",
		Username:     "ana",
		Token:        "tok",
		TokenUser:    "alt",
		ItemTimeout:  200 * time.Millisecond,
		UndoCooldown: 50 * time.Millisecond,
	})
	t.Cleanup(r.Close)
	return r, rec, api
}

// openTab answers get_cardapio the way the backend does.
func openTab(t *testing.T, r *Reconciler, rec *channeltest.Recorder, tabID string) {
	t.Helper()
	rec.OnEmit(func(e channeltest.Emitted) {
		if e.Event == "get_cardapio" {
			rec.Push(EventPrice, pricePush("other", 9, "90"))
			rec.Push(EventPrice, pricePush(tabID, 2, "20"))
		}
	})
	require.NoError(t, r.Open(context.Background(), tabID, 0))
	rec.OnEmit(nil)
}

// -- Replies --

func TestRepliesDeliverOnce(t *testing.T) {
	rec := channeltest.New()
	replies := NewReplies(rec)

	p := replies.Expect("open", "preco", time.Second, nil)
	assert.True(t, replies.Busy("open"))
	rec.Push("preco", `{"comanda":"1"}`)
	rec.Push("preco", `{"comanda":"2"}`)

	data, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"comanda":"1"}`, string(data))
	assert.False(t, replies.Busy("open"))
	assert.Equal(t, 0, rec.Count("preco"))
}

func TestRepliesNewRequestReplacesPending(t *testing.T) {
	rec := channeltest.New()
	replies := NewReplies(rec)

	first := replies.Expect("open", "preco", time.Second, nil)
	second := replies.Expect("open", "preco", time.Second, nil)

	_, err := first.Wait(context.Background())
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, 1, rec.Count("preco"))

	rec.Push("preco", `{}`)
	_, err = second.Wait(context.Background())
	assert.NoError(t, err)
}

func TestRepliesTimeoutAndTeardown(t *testing.T) {
	rec := channeltest.New()
	replies := NewReplies(rec)

	p := replies.Expect("lines", "preco", 20*time.Millisecond, nil)
	_, err := p.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNoResponse)
	assert.Equal(t, 0, rec.Count("preco"))

	p = replies.Expect("lines", "preco", time.Minute, nil)
	replies.Close()
	_, err = p.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, 0, rec.Count("preco"))

	ctx, cancel := context.WithCancel(context.Background())
	p = replies.Expect("lines", "preco", time.Minute, nil)
	cancel()
	_, err = p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, replies.Busy("lines"))
}

func TestRepliesMatchFilters(t *testing.T) {
	rec := channeltest.New()
	replies := NewReplies(rec)
	p := replies.Expect("open", "preco", time.Second, func(d json.RawMessage) bool {
		return string(d) == `"yes"`
	})
	rec.Push("preco", `"no"`)
	assert.True(t, replies.Busy("open"))
	rec.Push("preco", `"yes"`)
	data, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"yes"`, string(data))
}

// -- Opening and pushes --

func TestOpenWaitsForTheTabSnapshot(t *testing.T) {
	r, rec, _ := newReconciler(t)
	openTab(t, r, rec, "12")

	sent := rec.Events("get_cardapio")
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"fcomanda":"12","ordem":0,"carrinho":"loja1","username":"ana","token_user":"alt"}`, string(sent[0].Payload))

	st := r.State()
	assert.Equal(t, "12", st.TabID)
	require.Len(t, st.Lines, 2)
	assert.Equal(t, 2, st.Lines[0].Quantity)
	assert.True(t, decimal.NewFromInt(20).Equal(st.Totals.Remaining))
	assert.Equal(t, []string{"Ana", "Bia"}, st.Names)
	assert.Equal(t, 1, rec.Count(EventPrice))
}

func TestOpenTimesOut(t *testing.T) {
	r, rec, _ := newReconciler(t)
	err := r.Open(context.Background(), "12", 0)
	assert.True(t, poserr.Is(err, poserr.KindTransport))
	assert.ErrorIs(t, err, ErrNoResponse)
	assert.Equal(t, 1, rec.Count(EventPrice))

	rec.SetConnected(false)
	err = r.Open(context.Background(), "12", 0)
	assert.True(t, poserr.Is(err, poserr.KindConnectivity))
}

func TestPushesReplaceAndClear(t *testing.T) {
	r, rec, _ := newReconciler(t)
	openTab(t, r, rec, "12")

	rec.Push(EventPrice, pricePush("12", 5, "50"))
	st := r.State()
	assert.Equal(t, 5, st.Lines[0].Quantity)
	assert.True(t, decimal.NewFromInt(50).Equal(st.Totals.Remaining))

	rec.Push(EventPrice, pricePush("13", 7, "70"))
	assert.Equal(t, 5, r.State().Lines[0].Quantity)

	rec.Push(EventDeleted, map[string]any{"fcomanda": "13"})
	assert.Len(t, r.State().Lines, 2)
	rec.Push(EventDeleted, map[string]any{"fcomanda": "12"})
	assert.Empty(t, r.State().Lines)
	assert.True(t, r.State().Totals.Remaining.IsZero())

	rec.Push(EventPrice, `not json`)
	rec.Push(EventError, map[string]any{"message": "estoque"})
	assert.Equal(t, "estoque", r.LastError())
}

func TestOptimisticDeductionLosesToPush(t *testing.T) {
	r, rec, _ := newReconciler(t)
	openTab(t, r, rec, "12")

	r.View().DeductRemaining(decimal.NewFromInt(15))
	assert.True(t, decimal.NewFromInt(5).Equal(r.State().Totals.Remaining))

	rec.Push(EventPrice, pricePush("12", 2, "12"))
	assert.True(t, decimal.NewFromInt(12).Equal(r.State().Totals.Remaining))
}

func TestNameFilter(t *testing.T) {
	r, rec, _ := newReconciler(t)
	openTab(t, r, rec, "12")

	r.FilterByName("Bia")
	st := r.State()
	require.Len(t, st.Lines, 1)
	assert.Equal(t, "Suco", st.Lines[0].OrderText)
	assert.Equal(t, "Bia", st.Filter)

	r.ShowAll()
	assert.Len(t, r.State().Lines, 2)
}

// -- Edit mode --

func TestEditCancelRestoresSnapshot(t *testing.T) {
	r, rec, _ := newReconciler(t)
	openTab(t, r, rec, "12")

	require.NoError(t, r.BeginEdit())
	l, err := r.AdjustLine(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, l.Quantity)
	assert.True(t, decimal.NewFromInt(30).Equal(l.LineTotal))

	require.NoError(t, r.CancelEdit())
	assert.Equal(t, 2, r.State().Lines[0].Quantity)
	assert.False(t, r.State().Editing)
	assert.Empty(t, rec.Events("atualizar_comanda"))
}

func TestEditConfirmSendsTouchedLines(t *testing.T) {
	r, rec, _ := newReconciler(t)
	openTab(t, r, rec, "12")

	require.NoError(t, r.BeginEdit())
	_, err := r.AdjustLine(0, -1)
	require.NoError(t, err)
	_, err = r.AdjustLine(1, -1)
	assert.ErrorIs(t, err, tab.ErrBelowPaid)

	rec.SetConnected(false)
	_, err = r.ConfirmEdit(context.Background())
	assert.True(t, poserr.Is(err, poserr.KindConnectivity))
	assert.True(t, r.State().Editing)

	rec.SetConnected(true)
	n, err := r.ConfirmEdit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, r.State().Editing)

	sent := rec.Events("atualizar_comanda")
	require.Len(t, sent, 1)
	var body struct {
		Changed  []map[string]any `json:"itensAlterados"`
		TabID    string           `json:"comanda"`
		Username string           `json:"username"`
		Token    string           `json:"token"`
		Shop     string           `json:"carrinho"`
	}
	require.NoError(t, sent[0].Decode(&body))
	require.Len(t, body.Changed, 1)
	assert.Equal(t, "1", body.Changed[0]["quantidade"])
	assert.Equal(t, "10.00", body.Changed[0]["preco"])
	assert.Equal(t, "12", body.TabID)
	assert.Equal(t, "tok", body.Token)
}

func TestConfirmEditWithoutChangesSendsNothing(t *testing.T) {
	r, rec, _ := newReconciler(t)
	openTab(t, r, rec, "12")

	require.NoError(t, r.BeginEdit())
	n, err := r.ConfirmEdit(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, rec.Events("atualizar_comanda"))
}

// -- Rounds --

func TestNavigateAndUndo(t *testing.T) {
	r, rec, api := newReconciler(t)
	openTab(t, r, rec, "12")

	assert.True(t, poserr.Is(r.UndoLastPayment(context.Background()), poserr.KindValidation))
	_, err := r.Navigate(context.Background(), -1)
	assert.True(t, poserr.Is(err, poserr.KindValidation))

	api.rounds["12@1"] = tab.Snapshot{
		Lines:  []tab.Line{{ID: "1", OrderText: "Burger", Quantity: 1, QuantityPaid: 1, LineTotal: decimal.NewFromInt(10)}},
		Totals: tab.Totals{Remaining: decimal.NewFromInt(10)},
	}
	order, err := r.Navigate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, order)
	assert.Len(t, r.State().Lines, 1)
	assert.Equal(t, []string{"12@1"}, api.fetched)
	assert.Equal(t, []string{"Ana", "Bia"}, r.State().Names, "partial fetch keeps the facets")

	require.NoError(t, r.UndoLastPayment(context.Background()))
	assert.ErrorIs(t, r.UndoLastPayment(context.Background()), guard.ErrBusy)

	sent := rec.Events("desfazer_pagamento")
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"comanda":"12","preco":10,"ordem":1,"carrinho":"loja1"}`, string(sent[0].Payload))

	assert.Eventually(t, func() bool { return r.State().Order == 0 }, time.Second, 10*time.Millisecond)
}

func TestNavigateFailureKeepsCursor(t *testing.T) {
	r, rec, api := newReconciler(t)
	openTab(t, r, rec, "12")

	api.fail = poserr.Transport("backend.fetch_lines", errors.New("timeout"))
	order, err := r.Navigate(context.Background(), 1)
	assert.True(t, poserr.Is(err, poserr.KindTransport))
	assert.Equal(t, 0, order)
	assert.Equal(t, 0, r.State().Order)
}

// -- Transfer, payments, adjustments --

func TestTransferFollowsDestination(t *testing.T) {
	r, rec, api := newReconciler(t)
	openTab(t, r, rec, "12")

	assert.True(t, poserr.Is(r.Transfer(context.Background(), " "), poserr.KindValidation))
	assert.True(t, poserr.Is(r.Transfer(context.Background(), "12"), poserr.KindValidation))
	assert.Empty(t, api.transferred)

	api.rounds["30@0"] = tab.Snapshot{
		Lines:  []tab.Line{{ID: "9", OrderText: "Cerveja", Quantity: 4, LineTotal: decimal.NewFromInt(40)}},
		Totals: tab.Totals{Remaining: decimal.NewFromInt(40)},
	}
	require.NoError(t, r.Transfer(context.Background(), "30"))
	assert.Equal(t, []string{"12->30"}, api.transferred)
	assert.Len(t, rec.Events("faturamento"), 1)

	st := r.State()
	assert.Equal(t, "30", st.TabID)
	assert.Equal(t, 0, st.Order)
	require.Len(t, st.Lines, 1)
	assert.Equal(t, "Cerveja", st.Lines[0].OrderText)
}

func TestTransferFailureStaysOnTab(t *testing.T) {
	r, rec, api := newReconciler(t)
	openTab(t, r, rec, "12")
	api.fail = poserr.Transport("backend.transfer_tab", errors.New("HTTP 500"))

	err := r.Transfer(context.Background(), "30")
	assert.True(t, poserr.Is(err, poserr.KindTransport))
	assert.Equal(t, "12", r.State().TabID)
	assert.Empty(t, rec.Events("faturamento"))
}

func TestPaymentsAndDelete(t *testing.T) {
	r, rec, api := newReconciler(t)
	_, err := r.Payments(context.Background())
	assert.True(t, poserr.Is(err, poserr.KindValidation))

	openTab(t, r, rec, "12")
	ps, err := r.Payments(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 1)

	assert.True(t, poserr.Is(r.DeletePayment(context.Background(), ""), poserr.KindValidation))
	require.NoError(t, r.DeletePayment(context.Background(), "p1"))
	assert.Equal(t, []string{"12/p1"}, api.deleted)
	assert.Len(t, rec.Events("faturamento"), 1)
}

func TestAlterValue(t *testing.T) {
	r, rec, _ := newReconciler(t)
	openTab(t, r, rec, "12")

	assert.True(t, poserr.Is(r.AlterValue(context.Background(), "", "5"), poserr.KindValidation))
	assert.True(t, poserr.Is(r.AlterValue(context.Background(), "desconto", "-5"), poserr.KindValidation))
	require.NoError(t, r.AlterValue(context.Background(), "desconto", "5,00"))

	sent := rec.Events("alterarValor")
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"valor":"5,00","categoria":"desconto","comanda":"12","carrinho":"loja1"}`, string(sent[0].Payload))
}

func TestCloseUnsubscribes(t *testing.T) {
	r, rec, _ := newReconciler(t)
	r.Close()
	r.Close()
	assert.Equal(t, 0, rec.Count(EventPrice))
	assert.Equal(t, 0, rec.Count(EventDeleted))
	assert.Equal(t, 0, rec.Count(EventError))
}
