package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"comanda-pos/internal/backend"
	"comanda-pos/internal/channel/channeltest"
	"comanda-pos/internal/database"
	"comanda-pos/internal/guard"
	"comanda-pos/internal/menu"
	"comanda-pos/internal/poserr"
	"comanda-pos/internal/realtime"
	"comanda-pos/internal/settlement"
	"comanda-pos/internal/tab"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	notice   backend.StockNotice
	stockErr error
	checked  []string
}

func (f *fakeAPI) VerifyStock(_ context.Context, item string, qty int) (backend.StockNotice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, fmt.Sprintf("%s x%d", item, qty))
	return f.notice, f.stockErr
}

func (f *fakeAPI) FetchLines(_ context.Context, tabID string, _ int) (tab.Snapshot, error) {
	return tab.Snapshot{TabID: tabID, Partial: true}, nil
}

func (f *fakeAPI) Payments(context.Context, string) ([]backend.Payment, error) { return nil, nil }

func (f *fakeAPI) DeletePayment(context.Context, string, string) error { return nil }

func (f *fakeAPI) TransferTab(context.Context, string, string) error { return nil }

type fakeLedger struct {
	mu          sync.Mutex
	orders      []database.OrderEntry
	settlements []settlement.Record
}

func (l *fakeLedger) RecordOrder(_ context.Context, e database.OrderEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders = append(l.orders, e)
	return nil
}

func (l *fakeLedger) RecordSettlement(_ context.Context, r settlement.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settlements = append(l.settlements, r)
	return nil
}

func testMenu() []menu.Item {
	return []menu.Item{
		{
			ID:        "10",
			Name:      "Burger",
			BasePrice: decimal.RequireFromString("10.00"),
			OptionGroups: []menu.OptionGroup{{
				Name:        "Tamanho",
				MaxSelected: 1,
				Options: []menu.Option{
					{Name: "Pequeno", ExtraPrice: decimal.Zero},
					{Name: "Grande", ExtraPrice: decimal.RequireFromString("3.50")},
				},
			}},
		},
		{
			ID:        "11",
			Name:      "Pizza",
			BasePrice: decimal.RequireFromString("40"),
			OptionGroups: []menu.OptionGroup{{
				Name:        "Sabor",
				MaxSelected: 2,
				Required:    true,
				Options:     []menu.Option{{Name: "Calabresa"}, {Name: "Queijo"}},
			}},
		},
		{ID: "12", Name: "Suco", BasePrice: decimal.RequireFromString("8")},
	}
}

func newHandler(t *testing.T) (*POSHandler, *channeltest.Recorder, *fakeAPI, *fakeLedger) {
	t.Helper()
	rec := channeltest.New()
	api := &fakeAPI{notice: backend.StockNotice{Stock: -200}}
	ledger := &fakeLedger{}
	h := NewPOSHandler(rec, api, guard.New(0), Options{
		Shop:           "loja1",
		Username:       "ana",
		Token:          "tok",
		TokenUser:      "alt",
		PaymentMethods: []string{"Pix", "Dinheiro"},
		ServiceRate:    decimal.New(10, -2),
		TabListTimeout: 100 * time.Millisecond,
		ItemTimeout:    200 * time.Millisecond,
	}).WithLedger(ledger)
	h.LoadMenu(testMenu())
	t.Cleanup(h.Close)
	return h, rec, api, ledger
}

func TestAddToCartPricesOptions(t *testing.T) {
	h, _, api, _ := newHandler(t)

	_, err := h.SelectItem("burger")
	require.NoError(t, err)
	sel, err := h.ToggleOption(0, "Grande")
	require.NoError(t, err)
	assert.True(t, sel.UnitPrice.Equal(decimal.RequireFromString("13.50")))
	_, err = h.SetQuantity(2)
	require.NoError(t, err)

	res, err := h.AddToCart(context.Background(), " sem cebola ", "Ana")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Index)
	assert.True(t, res.Line.UnitPrice.Equal(decimal.RequireFromString("13.50")))
	assert.True(t, res.Line.Total().Equal(decimal.RequireFromString("27.00")))
	assert.Equal(t, "sem cebola", res.Line.Note)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []string{"Burger x2"}, api.checked)

	_, selected := h.Selected()
	assert.False(t, selected, "selection resets after adding")
	assert.True(t, h.CartSubtotal().Equal(decimal.RequireFromString("27")))
}

func TestAddToCartWarnsOnLowStock(t *testing.T) {
	h, _, api, _ := newHandler(t)
	api.notice = backend.StockNotice{Known: true, Stock: 3}

	_, err := h.SelectItem("Suco")
	require.NoError(t, err)
	res, err := h.AddToCart(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"only 2 left, restock recommended"}, res.Warnings)
	assert.Len(t, h.Cart(), 1)
}

func TestAddToCartRequiresGroups(t *testing.T) {
	h, _, api, _ := newHandler(t)

	_, err := h.SelectItem("Pizza")
	require.NoError(t, err)
	_, err = h.AddToCart(context.Background(), "", "")
	require.Error(t, err)
	assert.True(t, poserr.Is(err, poserr.KindValidation))
	assert.Contains(t, err.Error(), "Sabor")
	assert.Empty(t, api.checked)
	assert.Empty(t, h.Cart())
}

func TestAddToCartStopsOnConnectivityAndTransport(t *testing.T) {
	h, rec, api, _ := newHandler(t)
	_, err := h.SelectItem("Suco")
	require.NoError(t, err)

	rec.SetConnected(false)
	_, err = h.AddToCart(context.Background(), "", "")
	assert.True(t, poserr.Is(err, poserr.KindConnectivity))

	rec.SetConnected(true)
	api.stockErr = poserr.Transport("backend.verify_stock", errors.New("HTTP 502"))
	_, err = h.AddToCart(context.Background(), "", "")
	assert.True(t, poserr.Is(err, poserr.KindTransport))
	assert.Empty(t, h.Cart())

	_, selected := h.Selected()
	assert.True(t, selected, "selection survives a failed add")
}

func TestToggleOptionRejections(t *testing.T) {
	h, _, _, _ := newHandler(t)

	_, err := h.ToggleOption(0, "Grande")
	assert.True(t, poserr.Is(err, poserr.KindValidation))

	_, err = h.SelectItem("Burger")
	require.NoError(t, err)
	_, err = h.ToggleOption(3, "Grande")
	assert.True(t, poserr.Is(err, poserr.KindValidation))
	_, err = h.SetQuantity(0)
	assert.True(t, poserr.Is(err, poserr.KindValidation))

	_, err = h.SelectItem("Lasanha")
	assert.True(t, poserr.Is(err, poserr.KindValidation))
}

func TestPlaceOrderSendsCartAndClears(t *testing.T) {
	h, rec, _, ledger := newHandler(t)

	_, err := h.SelectItem("Burger")
	require.NoError(t, err)
	_, err = h.ToggleOption(0, "Grande")
	require.NoError(t, err)
	_, err = h.AddToCart(context.Background(), "", "Ana")
	require.NoError(t, err)
	_, err = h.SelectItem("Suco")
	require.NoError(t, err)
	_, err = h.AddToCart(context.Background(), "gelo", "")
	require.NoError(t, err)
	require.NoError(t, h.CartDecrement(1))
	require.NoError(t, h.CartIncrement(0))

	payload, err := h.PlaceOrder(context.Background(), " 12 ")
	require.NoError(t, err)
	assert.Equal(t, "12", payload.Comanda)
	assert.Equal(t, []string{"Burger"}, payload.Items)
	assert.Equal(t, []int{2}, payload.Quantities)
	assert.Equal(t, []string{"Ana"}, payload.Names)
	assert.Empty(t, h.Cart())

	sent := rec.Events(EventInsertOrder)
	require.Len(t, sent, 1)
	var body map[string]any
	require.NoError(t, sent[0].Decode(&body))
	assert.Equal(t, "loja1", body["carrinho"])
	assert.Equal(t, "ana", body["username"])
	assert.Equal(t, "alt", body["token_user"])
	assert.NotContains(t, body, "preco")

	require.Len(t, ledger.orders, 1)
	assert.True(t, ledger.orders[0].Subtotal.Equal(decimal.RequireFromString("27")))
}

func TestPlaceOrderSingleItem(t *testing.T) {
	h, rec, _, _ := newHandler(t)

	_, err := h.PlaceOrder(context.Background(), "12")
	assert.True(t, poserr.Is(err, poserr.KindValidation), "nothing to send")

	_, err = h.SelectItem("Suco")
	require.NoError(t, err)
	_, err = h.SetQuantity(3)
	require.NoError(t, err)

	_, err = h.PlaceOrder(context.Background(), "")
	assert.True(t, poserr.Is(err, poserr.KindValidation))

	payload, err := h.PlaceOrder(context.Background(), "12")
	require.NoError(t, err)
	assert.Equal(t, []string{"Suco"}, payload.Items)
	assert.Equal(t, []int{3}, payload.Quantities)
	assert.Len(t, rec.Events(EventInsertOrder), 1)
}

func TestPlaceOrderRestoresCartOnFailure(t *testing.T) {
	h, rec, _, ledger := newHandler(t)
	_, err := h.SelectItem("Suco")
	require.NoError(t, err)
	_, err = h.AddToCart(context.Background(), "", "")
	require.NoError(t, err)

	rec.FailEmits(errors.New("broken pipe"))
	_, err = h.PlaceOrder(context.Background(), "12")
	assert.True(t, poserr.Is(err, poserr.KindTransport))
	assert.Len(t, h.Cart(), 1)
	assert.Empty(t, ledger.orders)
}

func TestPlaceOrderRejectsZeroQuantityCart(t *testing.T) {
	h, rec, _, _ := newHandler(t)
	_, err := h.SelectItem("Suco")
	require.NoError(t, err)
	_, err = h.AddToCart(context.Background(), "", "")
	require.NoError(t, err)
	require.NoError(t, h.CartDecrement(0))

	_, err = h.PlaceOrder(context.Background(), "12")
	assert.True(t, poserr.Is(err, poserr.KindValidation))
	assert.Len(t, h.Cart(), 1)
	assert.Empty(t, rec.Events(EventInsertOrder))
}

func TestPlaceOrderRejectsDoubleSubmit(t *testing.T) {
	h, rec, _, _ := newHandler(t)
	_, err := h.SelectItem("Suco")
	require.NoError(t, err)
	_, err = h.AddToCart(context.Background(), "", "")
	require.NoError(t, err)

	var inner error
	rec.OnEmit(func(e channeltest.Emitted) {
		if e.Event == EventInsertOrder {
			_, inner = h.PlaceOrder(context.Background(), "12")
		}
	})
	_, err = h.PlaceOrder(context.Background(), "12")
	require.NoError(t, err)
	assert.ErrorIs(t, inner, guard.ErrBusy)
	assert.Len(t, rec.Events(EventInsertOrder), 1)
}

func TestAddGift(t *testing.T) {
	h, rec, _, _ := newHandler(t)

	_, err := h.AddGift(context.Background(), "12", "Feijoada")
	assert.True(t, poserr.Is(err, poserr.KindValidation))

	_, err = h.AddGift(context.Background(), "12", "suco")
	require.NoError(t, err)
	sent := rec.Events(EventInsertOrder)
	require.Len(t, sent, 1)
	var body map[string]any
	require.NoError(t, sent[0].Decode(&body))
	assert.Equal(t, true, body["preco"])
	assert.Equal(t, []any{"Suco"}, body["pedidosSelecionados"])
	assert.Equal(t, []any{float64(1)}, body["quantidadeSelecionada"])
}

func TestMenuAndTabPushes(t *testing.T) {
	h, rec, _, _ := newHandler(t)

	rec.Push(EventMenu, `{"dataCardapio":[{"id":1,"item":"Caipirinha","preco":"15"},{"id":2,"item":"Café","preco":5}]}`)
	assert.Len(t, h.Menu(), 2)
	got := h.SearchMenu("cafe")
	require.Len(t, got, 1)
	assert.Equal(t, "Café", got[0].Name)

	require.NoError(t, h.RefreshTabs(context.Background()))
	assert.True(t, h.TabsLoading())
	err := h.RefreshTabs(context.Background())
	assert.ErrorIs(t, err, guard.ErrBusy)

	rec.Push(EventTabs, `{"dados_comandaAberta":[{"id":1,"comanda":"mesa 4"},{"id":2,"comanda":"12"}]}`)
	assert.False(t, h.TabsLoading())
	assert.Len(t, h.OpenTabs(), 2)
	assert.Len(t, h.SearchTabs("mesa"), 1)
}

func TestRefreshTabsTimesOut(t *testing.T) {
	h, rec, _, _ := newHandler(t)
	require.NoError(t, h.RefreshTabs(context.Background()))
	assert.Eventually(t, func() bool { return !h.TabsLoading() }, time.Second, 10*time.Millisecond)

	var body map[string]any
	sent := rec.Events("getComandas")
	require.Len(t, sent, 1)
	require.NoError(t, sent[0].Decode(&body))
	assert.Equal(t, false, body["emitir"])
	assert.Equal(t, "loja1", body["carrinho"])
}

func TestStockAlerts(t *testing.T) {
	h, rec, _, _ := newHandler(t)

	rec.Push(EventStockLeft, `{"quantidade":"2","item":"Suco"}`)
	rec.Push(EventStockShortage, `{"erro":true,"quantidade":0}`)
	rec.Push(EventStockShortage, `{"erro":false}`)

	assert.Equal(t, []string{
		"only 2 left of Suco",
		"server reported insufficient stock (0 left), order sent anyway",
	}, h.Alerts())
	assert.Empty(t, h.Alerts())
}

func pricePush(tabID string) map[string]any {
	return map[string]any{
		"comanda": tabID,
		"dados": []map[string]any{
			{"id": "1", "pedido": "Burger", "quantidade": "2", "quantidade_paga": 0, "preco": "20.00"},
		},
		"preco_a_pagar": "20",
		"preco_pago":    "0",
		"preco_total":   "20",
	}
}

func TestOpenTabBuildsSession(t *testing.T) {
	h, rec, _, ledger := newHandler(t)
	rec.OnEmit(func(e channeltest.Emitted) {
		if e.Event == "get_cardapio" {
			var body map[string]any
			if err := e.Decode(&body); err == nil {
				rec.Push(realtime.EventPrice, pricePush(fmt.Sprint(body["fcomanda"])))
			}
		}
	})

	s, err := h.OpenTab(context.Background(), "12", 0)
	require.NoError(t, err)
	assert.Equal(t, "12", s.View().TabID())
	assert.Len(t, s.View().Lines(), 1)
	assert.Equal(t, []string{"Pix", "Dinheiro"}, s.Settlement.Methods())

	require.NoError(t, s.Settlement.Begin(settlement.ModeAll))
	require.NoError(t, s.Settlement.SetMethod("Pix"))
	_, err = s.Settlement.Confirm(context.Background())
	require.NoError(t, err)
	assert.Len(t, ledger.settlements, 1)

	next, err := h.OpenTab(context.Background(), "13", 0)
	require.NoError(t, err)
	current, ok := h.Tab()
	require.True(t, ok)
	assert.Same(t, next, current)

	h.CloseTab()
	_, ok = h.Tab()
	assert.False(t, ok)
}

func TestOpenTabTimeout(t *testing.T) {
	h, _, _, _ := newHandler(t)
	_, err := h.OpenTab(context.Background(), "12", 0)
	assert.True(t, poserr.Is(err, poserr.KindTransport))
	_, ok := h.Tab()
	assert.False(t, ok)
}
