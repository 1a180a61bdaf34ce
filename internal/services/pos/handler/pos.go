package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"comanda-pos/internal/backend"
	"comanda-pos/internal/cart"
	"comanda-pos/internal/channel"
	"comanda-pos/internal/database"
	"comanda-pos/internal/guard"
	"comanda-pos/internal/menu"
	"comanda-pos/internal/poserr"
	"comanda-pos/internal/realtime"
	"comanda-pos/internal/settlement"
	"comanda-pos/internal/tab"
	"comanda-pos/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventMenu          = "respostaCardapio"
	EventTabs          = "respostaComandas"
	EventStockLeft     = "alerta_restantes"
	EventStockShortage = "quantidade_insuficiente"
	EventInsertOrder   = "insert_order"

	DefaultTabListTimeout = 8 * time.Second
	DefaultGuardTimeout   = 12 * time.Second
)

// API is the HTTP side of the backend the terminal needs.
type API interface {
	realtime.Backend
	VerifyStock(ctx context.Context, item string, quantity int) (backend.StockNotice, error)
}

// Ledger records what the terminal sent. It is optional.
type Ledger interface {
	settlement.Ledger
	RecordOrder(ctx context.Context, e database.OrderEntry) error
}

type Options struct {
	Shop      string
	Username  string
	Token     string
	TokenUser string

	PaymentMethods []string
	ServiceRate    decimal.Decimal

	TabListTimeout time.Duration
	ItemTimeout    time.Duration
	UndoCooldown   time.Duration
	GuardTimeout   time.Duration
}

func (o *Options) defaults() {
	if o.TabListTimeout <= 0 {
		o.TabListTimeout = DefaultTabListTimeout
	}
	if o.GuardTimeout <= 0 {
		o.GuardTimeout = DefaultGuardTimeout
	}
}

// -- Handler --

// POSHandler is one signed-in terminal: the menu and tab lists it mirrors,
// the item being composed, its cart and the tab it has open.
type POSHandler struct {
	ch     channel.Channel
	api    API
	guards *guard.Set
	opts   Options
	ledger Ledger

	catalog *menu.Catalog
	tabs    *tab.Directory
	cart    *cart.Cart
	subs    []channel.Subscription

	mu          sync.Mutex
	selected    *menu.Item
	selection   menu.SelectionState
	quantity    int
	tabsLoading bool
	tabsGen     uint64
	alerts      []string
	session     *TabSession
	closed      bool
}

func NewPOSHandler(ch channel.Channel, api API, guards *guard.Set, opts Options) *POSHandler {
	opts.defaults()
	h := &POSHandler{
		ch:      ch,
		api:     api,
		guards:  guards,
		opts:    opts,
		catalog: menu.NewCatalog(),
		tabs:    tab.NewDirectory(),
		cart:    cart.New(),
	}
	h.subs = []channel.Subscription{
		ch.On(EventMenu, h.onMenu),
		ch.On(EventTabs, h.onTabs),
		ch.On(EventStockLeft, h.onStockLeft),
		ch.On(EventStockShortage, h.onStockShortage),
	}
	return h
}

func (h *POSHandler) WithLedger(l Ledger) *POSHandler {
	h.ledger = l
	return h
}

func (h *POSHandler) Options() Options { return h.opts }

// Close drops every subscription the terminal holds, including the open tab.
func (h *POSHandler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	s := h.session
	h.session = nil
	h.mu.Unlock()

	if s != nil {
		s.Close()
	}
	for _, sub := range h.subs {
		sub.Unsubscribe()
	}
}

func (h *POSHandler) requireConnected(op string) error {
	if !h.ch.Connected() {
		return poserr.Connectivity(op, "not connected to the server")
	}
	return nil
}

// -- Push handlers --

func (h *POSHandler) onMenu(data json.RawMessage) {
	if err := h.catalog.ReplaceFromSnapshot(data); err != nil {
		log.Printf("pos: dropped menu snapshot: %v", err)
	}
}

func (h *POSHandler) onTabs(data json.RawMessage) {
	if err := h.tabs.ReplaceFromSnapshot(data); err != nil {
		log.Printf("pos: dropped tab list: %v", err)
		return
	}
	h.mu.Lock()
	h.tabsLoading = false
	h.tabsGen++
	h.mu.Unlock()
}

type stockLeftPush struct {
	Quantity utils.FlexInt    `json:"quantidade"`
	Item     utils.FlexString `json:"item"`
}

func (h *POSHandler) onStockLeft(data json.RawMessage) {
	var p stockLeftPush
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("pos: dropped stock alert: %v", err)
		return
	}
	h.alert(fmt.Sprintf("only %d left of %s", p.Quantity.Int(), p.Item.String()))
}

type stockShortagePush struct {
	Error    bool          `json:"erro"`
	Quantity utils.FlexInt `json:"quantidade"`
}

func (h *POSHandler) onStockShortage(data json.RawMessage) {
	var p stockShortagePush
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("pos: dropped stock shortage notice: %v", err)
		return
	}
	if p.Error {
		h.alert(fmt.Sprintf("server reported insufficient stock (%d left), order sent anyway", p.Quantity.Int()))
	}
}

func (h *POSHandler) alert(msg string) {
	h.mu.Lock()
	h.alerts = append(h.alerts, msg)
	h.mu.Unlock()
}

// Alerts returns and clears the stock alerts pushed since the last call.
func (h *POSHandler) Alerts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.alerts
	h.alerts = nil
	return out
}

// -- Menu and tab lists --

func (h *POSHandler) LoadMenu(items []menu.Item) {
	h.catalog.Replace(items)
}

func (h *POSHandler) Menu() []menu.Item {
	return h.catalog.Items()
}

type refreshRequest struct {
	Emit bool   `json:"emitir"`
	Shop string `json:"carrinho"`
}

func (h *POSHandler) RefreshMenu(ctx context.Context) error {
	const op = "pos.refresh_menu"
	if err := h.requireConnected(op); err != nil {
		return err
	}
	return channel.EmitError(op, h.ch.Emit(ctx, "getCardapio", refreshRequest{Shop: h.opts.Shop}))
}

// RefreshTabs asks for the tab list. The loading flag clears on the next
// list push or after TabListTimeout, whichever comes first.
func (h *POSHandler) RefreshTabs(ctx context.Context) error {
	const op = "pos.refresh_tabs"
	if err := h.requireConnected(op); err != nil {
		return err
	}

	h.mu.Lock()
	if h.tabsLoading {
		h.mu.Unlock()
		return poserr.Wrap(poserr.KindValidation, op, guard.ErrBusy)
	}
	h.tabsLoading = true
	h.tabsGen++
	gen := h.tabsGen
	h.mu.Unlock()

	if err := h.ch.Emit(ctx, "getComandas", refreshRequest{Shop: h.opts.Shop}); err != nil {
		h.stopTabsLoading(gen)
		return channel.EmitError(op, err)
	}
	time.AfterFunc(h.opts.TabListTimeout, func() { h.stopTabsLoading(gen) })
	return nil
}

func (h *POSHandler) stopTabsLoading(gen uint64) {
	h.mu.Lock()
	if h.tabsGen == gen {
		h.tabsLoading = false
	}
	h.mu.Unlock()
}

func (h *POSHandler) TabsLoading() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tabsLoading
}

func (h *POSHandler) SearchMenu(q string) []menu.Item {
	return h.catalog.Search(q)
}

func (h *POSHandler) SearchTabs(q string) []tab.Entry {
	return h.tabs.Search(q)
}

func (h *POSHandler) OpenTabs() []tab.Entry {
	return h.tabs.Open()
}

// -- Item selection --

type Selection struct {
	Item      menu.Item           `json:"item"`
	State     menu.SelectionState `json:"selected"`
	Quantity  int                 `json:"quantity"`
	UnitPrice decimal.Decimal     `json:"unit_price"`
}

func (h *POSHandler) SelectItem(idOrName string) (Selection, error) {
	const op = "pos.select_item"
	item, ok := h.catalog.Find(idOrName)
	if !ok {
		return Selection{}, poserr.Validation(op, "item does not exist")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.selected = &item
	h.selection = menu.NewSelection(item.OptionGroups)
	h.quantity = 1
	return h.selectionLocked(), nil
}

// Selected reports the item being composed; ok is false when there is none.
func (h *POSHandler) Selected() (Selection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.selected == nil {
		return Selection{}, false
	}
	return h.selectionLocked(), true
}

func (h *POSHandler) selectionLocked() Selection {
	item := *h.selected
	extras := menu.SumExtras(menu.Resolve(item.OptionGroups, h.selection))
	return Selection{
		Item:      item,
		State:     h.selection.Clone(),
		Quantity:  h.quantity,
		UnitPrice: item.BasePrice.Add(extras),
	}
}

func (h *POSHandler) ClearSelection() {
	h.mu.Lock()
	h.resetSelectionLocked()
	h.mu.Unlock()
}

func (h *POSHandler) resetSelectionLocked() {
	h.selected = nil
	h.selection = nil
	h.quantity = 1
}

func (h *POSHandler) ToggleOption(group int, option string) (Selection, error) {
	const op = "pos.toggle_option"
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.selected == nil {
		return Selection{}, poserr.Validation(op, "select an item first")
	}

	next, err := menu.Toggle(h.selected.OptionGroups, h.selection, group, option)
	h.selection = next
	if err != nil {
		return h.selectionLocked(), poserr.Wrap(poserr.KindValidation, op, err)
	}
	return h.selectionLocked(), nil
}

func (h *POSHandler) SetQuantity(n int) (Selection, error) {
	const op = "pos.set_quantity"
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.selected == nil {
		return Selection{}, poserr.Validation(op, "select an item first")
	}
	if n < 1 {
		return h.selectionLocked(), poserr.Validation(op, "quantity must be at least 1")
	}
	h.quantity = n
	return h.selectionLocked(), nil
}

// composeLocked prices the selected item into a cart line.
func (h *POSHandler) composeLocked(op, note, customer string) (cart.Line, error) {
	if h.selected == nil {
		return cart.Line{}, poserr.Validation(op, "select an item first")
	}
	line, err := cart.ComposeLine(*h.selected, h.selection, h.quantity, note, customer)
	if err != nil {
		return cart.Line{}, poserr.Wrap(poserr.KindValidation, op, err)
	}
	return line, nil
}

// -- Cart --

type AddResult struct {
	Index    int       `json:"index"`
	Line     cart.Line `json:"line"`
	Warnings []string  `json:"warnings,omitempty"`
}

// AddToCart checks stock for the composed item and appends it. Low or unknown
// stock only produces warnings; a failed stock request aborts the add.
func (h *POSHandler) AddToCart(ctx context.Context, note, customer string) (AddResult, error) {
	const op = "pos.add_to_cart"
	h.mu.Lock()
	line, err := h.composeLocked(op, note, customer)
	h.mu.Unlock()
	if err != nil {
		return AddResult{}, err
	}
	if err := h.requireConnected(op); err != nil {
		return AddResult{}, err
	}

	notice, err := h.api.VerifyStock(ctx, line.ItemName, line.Quantity)
	if err != nil {
		return AddResult{}, err
	}

	idx, err := h.cart.AddLine(line)
	if err != nil {
		return AddResult{}, poserr.Wrap(poserr.KindValidation, op, err)
	}
	h.ClearSelection()
	return AddResult{Index: idx, Line: line, Warnings: notice.Warnings(line.Quantity)}, nil
}

func (h *POSHandler) cartError(op string, err error) error {
	if errors.Is(err, cart.ErrLineNotFound) {
		return poserr.Validation(op, "cart line not found")
	}
	return poserr.Wrap(poserr.KindValidation, op, err)
}

func (h *POSHandler) CartIncrement(i int) error {
	if err := h.cart.Increment(i); err != nil {
		return h.cartError("pos.cart_increment", err)
	}
	return nil
}

func (h *POSHandler) CartDecrement(i int) error {
	if err := h.cart.Decrement(i); err != nil {
		return h.cartError("pos.cart_decrement", err)
	}
	return nil
}

func (h *POSHandler) CartRemove(i int) error {
	if err := h.cart.Remove(i); err != nil {
		return h.cartError("pos.cart_remove", err)
	}
	return nil
}

func (h *POSHandler) Cart() []cart.Line {
	return h.cart.Lines()
}

func (h *POSHandler) CartSubtotal() decimal.Decimal {
	return h.cart.Subtotal()
}

// -- Orders --

func (h *POSHandler) submitParams(tabID string) cart.SubmitParams {
	return cart.SubmitParams{
		TabID:     tabID,
		Username:  h.opts.Username,
		TokenUser: h.opts.TokenUser,
		Shop:      h.opts.Shop,
		At:        time.Now(),
	}
}

// PlaceOrder sends the cart to tabID. With an empty cart the composed item is
// sent on its own. The cart is cleared when the order leaves; if the emit
// fails its lines are put back.
func (h *POSHandler) PlaceOrder(ctx context.Context, tabID string) (cart.OrderPayload, error) {
	const op = "pos.place_order"
	if err := h.requireConnected(op); err != nil {
		return cart.OrderPayload{}, err
	}
	release, err := h.guards.Acquire("order:submit", h.opts.GuardTimeout)
	if err != nil {
		return cart.OrderPayload{}, poserr.Wrap(poserr.KindValidation, op, err)
	}
	defer release()

	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return cart.OrderPayload{}, poserr.Validation(op, "enter the tab")
	}

	var (
		payload  cart.OrderPayload
		subtotal decimal.Decimal
		previous []cart.Line
	)
	if h.cart.Len() > 0 {
		previous = h.cart.Lines()
		if !anyPositive(previous) {
			return cart.OrderPayload{}, poserr.Validation(op, "cart is empty")
		}
		subtotal = h.cart.Subtotal()
		payload = h.cart.SubmitAndClear(h.submitParams(tabID))
	} else {
		h.mu.Lock()
		line, err := h.composeLocked(op, "", "")
		h.mu.Unlock()
		if err != nil {
			return cart.OrderPayload{}, err
		}
		subtotal = line.Total()
		payload = cart.SingleOrder(line, h.submitParams(tabID))
	}

	if err := h.ch.Emit(ctx, EventInsertOrder, payload); err != nil {
		for _, l := range previous {
			if l.Quantity > 0 {
				h.cart.AddLine(l)
			}
		}
		return cart.OrderPayload{}, channel.EmitError(op, err)
	}
	h.ClearSelection()
	h.record(ctx, payload, subtotal)
	return payload, nil
}

func anyPositive(lines []cart.Line) bool {
	for _, l := range lines {
		if l.Quantity > 0 {
			return true
		}
	}
	return false
}

// AddGift registers one complimentary unit of itemName on tabID.
func (h *POSHandler) AddGift(ctx context.Context, tabID, itemName string) (cart.OrderPayload, error) {
	const op = "pos.add_gift"
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return cart.OrderPayload{}, poserr.Validation(op, "enter the tab")
	}
	item, ok := h.catalog.Find(itemName)
	if !ok {
		return cart.OrderPayload{}, poserr.Validation(op, "item does not exist")
	}
	if err := h.requireConnected(op); err != nil {
		return cart.OrderPayload{}, err
	}
	release, err := h.guards.Acquire("order:submit", h.opts.GuardTimeout)
	if err != nil {
		return cart.OrderPayload{}, poserr.Wrap(poserr.KindValidation, op, err)
	}
	defer release()

	payload := cart.GiftOrder(item.Name, h.submitParams(tabID))
	if err := h.ch.Emit(ctx, EventInsertOrder, payload); err != nil {
		return cart.OrderPayload{}, channel.EmitError(op, err)
	}
	h.record(ctx, payload, decimal.Zero)
	return payload, nil
}

func (h *POSHandler) record(ctx context.Context, payload cart.OrderPayload, subtotal decimal.Decimal) {
	if h.ledger == nil {
		return
	}
	err := h.ledger.RecordOrder(ctx, database.OrderEntry{
		ID:       uuid.NewString(),
		Payload:  payload,
		Subtotal: subtotal,
		At:       time.Now(),
	})
	if err != nil {
		log.Printf("pos: failed to record order for tab %s: %v", payload.Comanda, err)
	}
}

// -- Tabs --

// TabSession is an open tab: its live view and the payment flow over it.
type TabSession struct {
	*realtime.Reconciler
	Settlement *settlement.Engine
}

// OpenTab follows tabID, replacing any tab opened before.
func (h *POSHandler) OpenTab(ctx context.Context, tabID string, order int) (*TabSession, error) {
	rec := realtime.New(h.ch, h.api, h.guards, realtime.Config{
		Shop:         h.opts.Shop,
		Username:     h.opts.Username,
		Token:        h.opts.Token,
		TokenUser:    h.opts.TokenUser,
		ItemTimeout:  h.opts.ItemTimeout,
		UndoCooldown: h.opts.UndoCooldown,
		GuardTimeout: h.opts.GuardTimeout,
	})
	if err := rec.Open(ctx, tabID, order); err != nil {
		rec.Close()
		return nil, err
	}

	engine := settlement.New(h.ch, rec.View(), h.guards, settlement.Config{
		Shop:         h.opts.Shop,
		Methods:      h.opts.PaymentMethods,
		ServiceRate:  h.opts.ServiceRate,
		GuardTimeout: h.opts.GuardTimeout,
	})
	if h.ledger != nil {
		engine.WithLedger(h.ledger)
	}
	s := &TabSession{Reconciler: rec, Settlement: engine}

	h.mu.Lock()
	prev := h.session
	h.session = s
	closed := h.closed
	h.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	if closed {
		s.Close()
		return nil, poserr.Validation("pos.open_tab", "terminal is closed")
	}
	return s, nil
}

// Tab returns the open tab, if any.
func (h *POSHandler) Tab() (*TabSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session, h.session != nil
}

func (h *POSHandler) CloseTab() {
	h.mu.Lock()
	s := h.session
	h.session = nil
	h.mu.Unlock()
	if s != nil {
		s.Close()
	}
}
