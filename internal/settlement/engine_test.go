package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"comanda-pos/internal/channel/channeltest"
	"comanda-pos/internal/guard"
	"comanda-pos/internal/poserr"
	"comanda-pos/internal/tab"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func scenarioLines() []tab.Line {
	return []tab.Line{
		{ID: "1", OrderText: "Burger", Quantity: 3, QuantityPaid: 1, UnitPrice: dec("5.00"), HasUnitPrice: true, LineTotal: dec("15.00")},
		{ID: "2", OrderText: "Suco", Quantity: 2, UnitPrice: dec("8.00"), HasUnitPrice: true, LineTotal: dec("16.00")},
	}
}

func newEngine(t *testing.T, lines []tab.Line, remaining string, cooldown time.Duration) (*Engine, *channeltest.Recorder, *tab.View) {
	t.Helper()
	view := tab.NewView("12", 0)
	require.True(t, view.Apply(tab.Snapshot{
		TabID:  "12",
		Lines:  lines,
		Totals: tab.Totals{Remaining: dec(remaining), Total: dec(remaining)},
	}))
	rec := channeltest.New()
	e := New(rec, view, guard.New(cooldown), Config{Shop: "loja1", Methods: []string{"Crédito", "Pix"}})
	return e, rec, view
}

type fakeLedger struct{ records []Record }

func (f *fakeLedger) RecordSettlement(_ context.Context, r Record) error {
	f.records = append(f.records, r)
	return nil
}

func TestPayItemsWithServiceAndGratuity(t *testing.T) {
	e, rec, view := newEngine(t, scenarioLines(), "23.00", 0)
	ledger := &fakeLedger{}
	e.WithLedger(ledger)

	require.NoError(t, e.Begin(ModeItems))
	for range 3 {
		_, err := e.IncrementUnits(0)
		require.NoError(t, err)
	}
	n, err := e.IncrementUnits(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, e.Units()[view.AllLines()[0].Key(0)], "clamped to the unpaid units")

	require.NoError(t, e.SetServiceCharge(true))
	require.NoError(t, e.SetGratuity("2,00"))

	q := e.Quote()
	assert.True(t, dec("18.00").Equal(q.Base))
	assert.True(t, dec("1.80").Equal(q.ServiceCharge))
	assert.True(t, dec("21.80").Equal(q.Total))

	require.NoError(t, e.SetMethod("Pix"))
	out, err := e.Confirm(context.Background())
	require.NoError(t, err)
	assert.True(t, dec("21.80").Equal(out.Quote.Total))

	sent := rec.Events("pagar_itens")
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{
		"comanda": "12",
		"itens": [
			{"index": 0, "id": "1", "pedido": "Burger", "extra": "", "quantidade": 2},
			{"index": 1, "id": "2", "pedido": "Suco", "extra": "", "quantidade": 1}
		],
		"forma_de_pagamento": "Pix",
		"aplicarDez": true,
		"caixinha": 2,
		"carrinho": "loja1"
	}`, string(sent[0].Payload))

	assert.Equal(t, Idle, e.State())
	assert.Empty(t, e.Units())
	require.Len(t, ledger.records, 1)
	assert.Equal(t, "pagar_itens", ledger.records[0].Event)
	assert.NotEmpty(t, ledger.records[0].ID)

	for _, l := range view.AllLines() {
		assert.LessOrEqual(t, l.QuantityPaid, l.Quantity)
	}
}

func TestItemsNeedAUnit(t *testing.T) {
	e, rec, _ := newEngine(t, scenarioLines(), "23.00", 0)
	require.NoError(t, e.Begin(ModeItems))
	require.NoError(t, e.SetMethod("Crédito"))

	_, err := e.Confirm(context.Background())
	assert.True(t, poserr.Is(err, poserr.KindValidation))
	assert.Equal(t, ChoosingMethod, e.State())
	assert.Empty(t, rec.Emitted())
}

func TestPartialAboveRemainingIsRejected(t *testing.T) {
	e, rec, view := newEngine(t, scenarioLines(), "50.00", 0)
	require.NoError(t, e.Begin(ModePartial))
	require.NoError(t, e.SetPartialAmount("999.00"))
	require.NoError(t, e.SetMethod("Pix"))

	_, err := e.Confirm(context.Background())
	assert.True(t, poserr.Is(err, poserr.KindValidation))
	assert.Empty(t, rec.Emitted())
	assert.True(t, dec("50").Equal(view.Totals().Remaining))
}

func TestPartialDeductsRemaining(t *testing.T) {
	e, rec, view := newEngine(t, scenarioLines(), "50.00", 0)
	require.NoError(t, e.Begin(ModePartial))
	require.NoError(t, e.SetPartialAmount("30,00"))
	require.NoError(t, e.SetGratuity("-1"))
	require.NoError(t, e.SetMethod("Pix"))

	_, err := e.Confirm(context.Background())
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(view.Totals().Remaining))

	sent := rec.Events("pagar_parcial")
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{
		"valor_pago": 30,
		"fcomanda": "12",
		"caixinha": null,
		"dez_por_cento": null,
		"forma_de_pagamento": "Pix",
		"carrinho": "loja1"
	}`, string(sent[0].Payload))
	assert.Len(t, rec.Events("faturamento"), 1)

	emitted := rec.Emitted()
	require.Len(t, emitted, 2)
	assert.Equal(t, "faturamento", emitted[0].Event)
	assert.Equal(t, "pagar_parcial", emitted[1].Event)
}

func TestItemsQuoteStaysOnCentsWithoutUnitPrice(t *testing.T) {
	lines := []tab.Line{{ID: "7", OrderText: "Porção", Quantity: 3, LineTotal: dec("10.00")}}
	e, rec, _ := newEngine(t, lines, "10.00", 0)
	ledger := &fakeLedger{}
	e.WithLedger(ledger)

	require.NoError(t, e.Begin(ModeItems))
	_, err := e.IncrementUnits(0)
	require.NoError(t, err)

	q := e.Quote()
	assert.Equal(t, "3.33", q.Base.StringFixed(2))
	assert.True(t, dec("3.33").Equal(q.Base))

	for range 2 {
		_, err = e.IncrementUnits(0)
		require.NoError(t, err)
	}
	require.NoError(t, e.SetServiceCharge(true))

	q = e.Quote()
	assert.True(t, dec("10.00").Equal(q.Base), q.Base.String())
	assert.True(t, dec("1.00").Equal(q.ServiceCharge), q.ServiceCharge.String())
	assert.True(t, dec("11.00").Equal(q.Total), q.Total.String())

	require.NoError(t, e.SetMethod("Pix"))
	out, err := e.Confirm(context.Background())
	require.NoError(t, err)
	assert.True(t, dec("11.00").Equal(out.Record.Total))
	require.Len(t, ledger.records, 1)
	assert.True(t, dec("10.00").Equal(ledger.records[0].Base))
	assert.True(t, dec("1.00").Equal(ledger.records[0].ServiceCharge))
	assert.Len(t, rec.Events("pagar_itens"), 1)
}

func TestPayAllClosesTab(t *testing.T) {
	e, rec, view := newEngine(t, scenarioLines(), "50.00", 0)
	require.NoError(t, e.Begin(ModeAll))
	require.NoError(t, e.SetServiceCharge(true))
	require.NoError(t, e.SetMethod("Crédito"))

	out, err := e.Confirm(context.Background())
	require.NoError(t, err)
	assert.True(t, dec("55").Equal(out.Quote.Total))

	sent := rec.Events("delete_comanda")
	require.Len(t, sent, 1)
	var body map[string]any
	require.NoError(t, sent[0].Decode(&body))
	assert.Equal(t, float64(50), body["valor_pago"])
	assert.Equal(t, float64(5), body["dez_por_cento"])
	assert.Nil(t, body["caixinha"])

	assert.True(t, view.Totals().Remaining.IsZero())
	for _, l := range view.AllLines() {
		assert.Equal(t, l.Quantity, l.QuantityPaid)
	}
}

func TestNothingToPay(t *testing.T) {
	e, _, _ := newEngine(t, scenarioLines(), "0", 0)
	err := e.Begin(ModeAll)
	assert.True(t, poserr.Is(err, poserr.KindValidation))
}

func TestMethodIsRequired(t *testing.T) {
	e, rec, _ := newEngine(t, scenarioLines(), "50.00", 0)
	require.NoError(t, e.Begin(ModeAll))

	_, err := e.Confirm(context.Background())
	assert.Equal(t, "select a payment method", poserr.Message(err))
	assert.Error(t, e.SetMethod("Bitcoin"))
	assert.Empty(t, rec.Emitted())
}

func TestHistoricalViewRejectsPayments(t *testing.T) {
	e, rec, view := newEngine(t, scenarioLines(), "50.00", 0)
	require.NoError(t, e.Begin(ModeAll))
	require.NoError(t, e.SetMethod("Pix"))
	view.SetOrder(1)

	_, err := e.Confirm(context.Background())
	assert.True(t, poserr.Is(err, poserr.KindValidation))
	assert.True(t, poserr.Is(e.Begin(ModePartial), poserr.KindValidation))
	assert.Empty(t, rec.Emitted())
}

func TestFailedDispatchStaysConfirming(t *testing.T) {
	e, rec, view := newEngine(t, scenarioLines(), "50.00", 0)
	require.NoError(t, e.Begin(ModePartial))
	require.NoError(t, e.SetPartialAmount("10"))
	require.NoError(t, e.SetMethod("Pix"))

	rec.FailEmits(errors.New("write: broken pipe"))
	_, err := e.Confirm(context.Background())
	assert.True(t, poserr.Is(err, poserr.KindTransport))
	assert.Equal(t, Confirming, e.State())
	assert.True(t, dec("50").Equal(view.Totals().Remaining))

	rec.FailEmits(nil)
	rec.SetConnected(false)
	_, err = e.Confirm(context.Background())
	assert.True(t, poserr.Is(err, poserr.KindConnectivity))
	assert.Equal(t, Confirming, e.State())

	rec.SetConnected(true)
	_, err = e.Confirm(context.Background())
	require.NoError(t, err)
	assert.Len(t, rec.Events("pagar_parcial"), 1)
}

func TestDuplicateConfirmEmitsOnce(t *testing.T) {
	e, rec, _ := newEngine(t, scenarioLines(), "50.00", time.Minute)
	require.NoError(t, e.Begin(ModeAll))
	require.NoError(t, e.SetMethod("Pix"))

	var inFlight []error
	rec.OnEmit(func(channeltest.Emitted) {
		_, err := e.Confirm(context.Background())
		inFlight = append(inFlight, err)
	})

	_, err := e.Confirm(context.Background())
	require.NoError(t, err)
	require.Len(t, inFlight, 1)
	assert.ErrorIs(t, inFlight[0], guard.ErrBusy)
	assert.Len(t, rec.Events("delete_comanda"), 1)

	rec.OnEmit(nil)
	_, err = e.Confirm(context.Background())
	assert.Equal(t, "no payment in progress", poserr.Message(err))
}

func TestPaymentGuardHoldsThroughCooldown(t *testing.T) {
	e, rec, _ := newEngine(t, scenarioLines(), "50.00", time.Minute)
	require.NoError(t, e.Begin(ModePartial))
	require.NoError(t, e.SetPartialAmount("5"))
	require.NoError(t, e.SetMethod("Pix"))
	_, err := e.Confirm(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.Begin(ModePartial))
	require.NoError(t, e.SetPartialAmount("5"))
	require.NoError(t, e.SetMethod("Pix"))
	_, err = e.Confirm(context.Background())
	assert.ErrorIs(t, err, guard.ErrBusy)
	assert.Len(t, rec.Events("pagar_parcial"), 1)
}

func TestUnitsOnlyInItemsMode(t *testing.T) {
	e, _, _ := newEngine(t, scenarioLines(), "50.00", 0)
	_, err := e.IncrementUnits(0)
	assert.Equal(t, "no payment in progress", poserr.Message(err))

	require.NoError(t, e.Begin(ModePartial))
	_, err = e.IncrementUnits(0)
	assert.True(t, poserr.Is(err, poserr.KindValidation))

	e.Cancel()
	require.NoError(t, e.Begin(ModeItems))
	_, err = e.IncrementUnits(9)
	assert.ErrorIs(t, err, tab.ErrLineNotFound)
	n, err := e.DecrementUnits(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFilteredViewKeysByTabPosition(t *testing.T) {
	lines := scenarioLines()
	lines[0].CustomerName = "Ana"
	lines[1].CustomerName = "Bia"
	e, rec, view := newEngine(t, lines, "23.00", 0)
	view.FilterByName("Bia")

	require.NoError(t, e.Begin(ModeItems))
	_, err := e.IncrementUnits(0)
	require.NoError(t, err)
	require.NoError(t, e.SetMethod("Pix"))
	_, err = e.Confirm(context.Background())
	require.NoError(t, err)

	var body struct {
		Items []ItemPayment `json:"itens"`
	}
	require.NoError(t, rec.Events("pagar_itens")[0].Decode(&body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, 1, body.Items[0].Index)
	assert.Equal(t, "Suco", body.Items[0].OrderText)
}
