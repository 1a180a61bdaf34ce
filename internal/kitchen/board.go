package kitchen

import (
	"context"
	"encoding/json"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"comanda-pos/internal/channel"
	"comanda-pos/internal/guard"
	"comanda-pos/internal/poserr"
	"comanda-pos/internal/search"
)

type Config struct {
	Shop     string
	Username string
	Token    string
	Role     string

	// RefreshTimeout clears the refreshing flag when no snapshot arrives.
	RefreshTimeout time.Duration
	GuardTimeout   time.Duration
}

type Filter struct {
	Tab      string
	Item     string
	Category string
	// Status is "aberta" (unpaid), "fechada" (paid) or empty for both.
	Status string
}

type Board struct {
	ch     channel.Channel
	guards *guard.Set
	cfg    Config
	sub    channel.Subscription

	mu         sync.RWMutex
	orders     []Order
	categories []string
	refreshing bool
	refreshGen uint64
}

// NewBoard follows the order snapshot event that matches the operator's
// role: the kitchen has its own feed.
func NewBoard(ch channel.Channel, guards *guard.Set, cfg Config) *Board {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 10 * time.Second
	}
	if cfg.GuardTimeout <= 0 {
		cfg.GuardTimeout = 12 * time.Second
	}
	b := &Board{ch: ch, guards: guards, cfg: cfg}
	b.sub = ch.On(b.snapshotEvent(), b.onSnapshot)
	return b
}

func (b *Board) kitchen() bool { return b.cfg.Role == RoleKitchen }

func (b *Board) snapshotEvent() string {
	if b.kitchen() {
		return "respostaPedidosCC"
	}
	return "respostaPedidos"
}

func (b *Board) Close() {
	b.sub.Unsubscribe()
}

func (b *Board) onSnapshot(data json.RawMessage) {
	orders, err := ParseSnapshot(data)
	if err != nil {
		log.Printf("kitchen: dropping order snapshot: %v", err)
		return
	}
	b.Replace(orders)
}

// Replace installs a snapshot: newest first, and only kitchen lines for the
// kitchen role.
func (b *Board) Replace(orders []Order) {
	kept := make([]Order, 0, len(orders))
	for _, o := range orders {
		if b.kitchen() && o.Category != CategoryKitchen {
			continue
		}
		kept = append(kept, o)
	}
	slices.Reverse(kept)

	var cats []string
	for _, o := range kept {
		if o.Category != "" && !slices.Contains(cats, o.Category) {
			cats = append(cats, o.Category)
		}
	}

	b.mu.Lock()
	b.orders = kept
	b.categories = cats
	b.refreshing = false
	b.refreshGen++
	b.mu.Unlock()
}

func (b *Board) Categories() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.categories)
}

func (b *Board) Refreshing() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.refreshing
}

// Orders lists the board under f. Text filters ignore case and accents.
func (b *Board) Orders(f Filter) []Order {
	tabQ := search.Normalize(f.Tab)
	itemQ := search.Normalize(f.Item)

	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		if tabQ != "" && !strings.Contains(search.Normalize(o.TabID), tabQ) {
			continue
		}
		if itemQ != "" && !strings.Contains(search.Normalize(o.Item), itemQ) {
			continue
		}
		if f.Category != "" && o.Category != f.Category {
			continue
		}
		switch f.Status {
		case "aberta":
			if o.Paid() {
				continue
			}
		case "fechada":
			if !o.Paid() {
				continue
			}
		}
		out = append(out, o)
	}
	return out
}

func (b *Board) find(id string) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, o := range b.orders {
		if o.ID == id {
			return o, true
		}
	}
	return Order{}, false
}

func (b *Board) requireConnected(op string) error {
	if !b.ch.Connected() {
		return poserr.Connectivity(op, "not connected to the server")
	}
	return nil
}

// -- Actions --

type refreshRequest struct {
	Emit bool   `json:"emitir"`
	Shop string `json:"carrinho"`
}

// Refresh asks for a new snapshot. The refreshing flag clears when it
// arrives or after the refresh timeout.
func (b *Board) Refresh(ctx context.Context) error {
	const op = "kitchen.refresh"
	if err := b.requireConnected(op); err != nil {
		return err
	}
	release, err := b.guards.Acquire("kitchen:refresh", b.cfg.GuardTimeout)
	if err != nil {
		return poserr.Wrap(poserr.KindValidation, op, err)
	}
	defer release()

	event, req := "getPedidos", refreshRequest{Emit: false, Shop: b.cfg.Shop}
	if b.kitchen() {
		event, req = "getPedidosCC", refreshRequest{Emit: true, Shop: b.cfg.Shop}
	}

	b.mu.Lock()
	b.refreshing = true
	b.refreshGen++
	gen := b.refreshGen
	b.mu.Unlock()

	if err := b.ch.Emit(ctx, event, req); err != nil {
		b.stopRefreshing(gen)
		return channel.EmitError(op, err)
	}
	time.AfterFunc(b.cfg.RefreshTimeout, func() { b.stopRefreshing(gen) })
	return nil
}

func (b *Board) stopRefreshing(gen uint64) {
	b.mu.Lock()
	if b.refreshGen == gen {
		b.refreshing = false
	}
	b.mu.Unlock()
}

type saveRequest struct {
	Order editPayload `json:"pedidoAlterado"`
	User  string      `json:"usuario"`
	Token string      `json:"token"`
	Shop  string      `json:"carrinho"`
}

func (b *Board) SaveEdit(ctx context.Context, e Edit) error {
	const op = "kitchen.save"
	payload, problem := e.validate()
	if problem != "" {
		return poserr.Validation(op, problem)
	}
	if err := b.requireConnected(op); err != nil {
		return err
	}
	release, err := b.guards.Acquire("kitchen:save", b.cfg.GuardTimeout)
	if err != nil {
		return poserr.Wrap(poserr.KindValidation, op, err)
	}
	defer release()

	err = b.ch.Emit(ctx, "atualizar_pedidos", saveRequest{
		Order: payload,
		User:  b.cfg.Username,
		Token: b.cfg.Token,
		Shop:  b.cfg.Shop,
	})
	return channel.EmitError(op, err)
}

type orderAction struct {
	ID    string `json:"id"`
	TabID string `json:"comanda"`
	User  string `json:"usuario"`
	Token string `json:"token"`
	Shop  string `json:"carrinho"`
}

// Confirm marks an order as printed at its station.
func (b *Board) Confirm(ctx context.Context, id string) error {
	const op = "kitchen.confirm"
	o, err := b.actionable(op, id)
	if err != nil {
		return err
	}
	release, err := b.guards.Acquire("kitchen:confirm", b.cfg.GuardTimeout)
	if err != nil {
		return poserr.Wrap(poserr.KindValidation, op, err)
	}
	defer release()

	if err := b.ch.Emit(ctx, "confirmar_pedido", b.action(o)); err != nil {
		return channel.EmitError(op, err)
	}
	b.mu.Lock()
	for i := range b.orders {
		if b.orders[i].ID == id {
			b.orders[i].Printed = true
		}
	}
	b.mu.Unlock()
	return nil
}

// Delete removes an order line. Only admins and the kitchen may do it.
func (b *Board) Delete(ctx context.Context, id string) error {
	const op = "kitchen.delete"
	if b.cfg.Role != RoleAdmin && b.cfg.Role != RoleKitchen {
		return poserr.Validation(op, "not allowed to delete orders")
	}
	o, err := b.actionable(op, id)
	if err != nil {
		return err
	}
	release, err := b.guards.Acquire("kitchen:delete", b.cfg.GuardTimeout)
	if err != nil {
		return poserr.Wrap(poserr.KindValidation, op, err)
	}
	defer release()

	if err := b.ch.Emit(ctx, "excluir_pedido", b.action(o)); err != nil {
		return channel.EmitError(op, err)
	}
	b.mu.Lock()
	b.orders = slices.DeleteFunc(b.orders, func(o Order) bool { return o.ID == id })
	b.mu.Unlock()
	return nil
}

func (b *Board) actionable(op, id string) (Order, error) {
	if strings.TrimSpace(id) == "" {
		return Order{}, poserr.Validation(op, "order id is required")
	}
	o, ok := b.find(id)
	if !ok {
		return Order{}, poserr.Validation(op, "order not found")
	}
	if err := b.requireConnected(op); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (b *Board) action(o Order) orderAction {
	return orderAction{ID: o.ID, TabID: o.TabID, User: b.cfg.Username, Token: b.cfg.Token, Shop: b.cfg.Shop}
}
