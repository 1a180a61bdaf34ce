// Package realtime keeps the terminal's view of an open tab in step with the
// server's push stream. Pushes always win: a price snapshot replaces the view
// wholesale, whatever optimistic change was made before it.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"comanda-pos/internal/backend"
	"comanda-pos/internal/channel"
	"comanda-pos/internal/guard"
	"comanda-pos/internal/poserr"
	"comanda-pos/internal/tab"
	"comanda-pos/internal/utils"
)

const (
	EventPrice   = "preco"
	EventDeleted = "comanda_deleted"
	EventError   = "error"
)

// Backend is the request/response side the tab actions need.
type Backend interface {
	FetchLines(ctx context.Context, tabID string, order int) (tab.Snapshot, error)
	Payments(ctx context.Context, tabID string) ([]backend.Payment, error)
	DeletePayment(ctx context.Context, tabID, paymentID string) error
	TransferTab(ctx context.Context, from, to string) error
}

type Config struct {
	Shop      string
	Username  string
	Token     string
	TokenUser string

	ItemTimeout  time.Duration
	UndoCooldown time.Duration
	GuardTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 9 * time.Second
	}
	if c.UndoCooldown <= 0 {
		c.UndoCooldown = 1200 * time.Millisecond
	}
	if c.GuardTimeout <= 0 {
		c.GuardTimeout = 12 * time.Second
	}
}

type Reconciler struct {
	ch      channel.Channel
	api     Backend
	view    *tab.View
	guards  *guard.Set
	replies *Replies
	cfg     Config

	mu        sync.Mutex
	subs      []channel.Subscription
	lastError string
	closed    bool
}

// New subscribes to the tab pushes. Close releases the subscriptions and any
// pending reply.
func New(ch channel.Channel, api Backend, guards *guard.Set, cfg Config) *Reconciler {
	cfg.defaults()
	r := &Reconciler{
		ch:      ch,
		api:     api,
		view:    tab.NewView("", 0),
		guards:  guards,
		replies: NewReplies(ch),
		cfg:     cfg,
	}
	r.subs = []channel.Subscription{
		ch.On(EventPrice, r.onPrice),
		ch.On(EventDeleted, r.onDeleted),
		ch.On(EventError, r.onError),
	}
	return r
}

func (r *Reconciler) View() *tab.View { return r.view }

func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	r.replies.Close()
}

// LastError is the message of the last "error" push.
func (r *Reconciler) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// -- Push handlers --

func (r *Reconciler) onPrice(data json.RawMessage) {
	s, err := tab.ParsePricePush(data)
	if err != nil {
		log.Printf("realtime: dropping price push: %v", err)
		return
	}
	r.view.Apply(s)
}

func (r *Reconciler) onDeleted(data json.RawMessage) {
	id, err := tab.ParseDeletedPush(data)
	if err != nil {
		log.Printf("realtime: dropping delete push: %v", err)
		return
	}
	r.view.Clear(id)
}

func (r *Reconciler) onError(data json.RawMessage) {
	var p struct {
		Message utils.FlexString `json:"message"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		p.Message = utils.FlexString(strings.Trim(string(data), `"`))
	}
	log.Printf("realtime: server error: %s", p.Message)
	r.mu.Lock()
	r.lastError = p.Message.String()
	r.mu.Unlock()
}

// -- Opening a tab --

type openRequest struct {
	TabID     string `json:"fcomanda"`
	Order     int    `json:"ordem"`
	Shop      string `json:"carrinho"`
	Username  string `json:"username"`
	TokenUser string `json:"token_user"`
}

// Open points the view at tabID and waits for the server's first price
// snapshot of it. Opening another tab while one is pending replaces the
// pending request.
func (r *Reconciler) Open(ctx context.Context, tabID string, order int) error {
	const op = "realtime.open"
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return poserr.Validation(op, "enter a tab number")
	}
	if !r.ch.Connected() {
		return poserr.Connectivity(op, "not connected to the server")
	}
	release, err := r.guards.Acquire("open:"+tabID, r.cfg.ItemTimeout)
	if err != nil {
		return poserr.Wrap(poserr.KindValidation, op, err)
	}
	defer release()

	r.view.Reset(tabID, order)
	pending := r.replies.Expect("open", EventPrice, r.cfg.ItemTimeout, func(data json.RawMessage) bool {
		s, err := tab.ParsePricePush(data)
		return err == nil && (s.TabID == tabID || s.TabID == "")
	})

	err = r.ch.Emit(ctx, "get_cardapio", openRequest{
		TabID:     tabID,
		Order:     max(order, 0),
		Shop:      r.cfg.Shop,
		Username:  r.cfg.Username,
		TokenUser: r.cfg.TokenUser,
	})
	if err != nil {
		pending.Cancel()
		return channel.EmitError(op, err)
	}

	data, err := pending.Wait(ctx)
	if err != nil {
		return poserr.Transport(op, err)
	}
	s, err := tab.ParsePricePush(data)
	if err != nil {
		return poserr.Transport(op, err)
	}
	s.TabID = tabID
	r.view.Apply(s)
	return nil
}

// Leave stops following the current tab and drops any pending reply.
func (r *Reconciler) Leave() {
	r.replies.Cancel("open")
	r.view.Reset("", 0)
}

func (r *Reconciler) currentTab(op string) (string, error) {
	id := r.view.TabID()
	if id == "" {
		return "", poserr.Validation(op, "no tab is open")
	}
	return id, nil
}

func (r *Reconciler) requireConnected(op string) error {
	if !r.ch.Connected() {
		return poserr.Connectivity(op, "not connected to the server")
	}
	return nil
}

// -- Edit mode --

func (r *Reconciler) BeginEdit() error {
	if _, err := r.currentTab("realtime.edit"); err != nil {
		return err
	}
	return poserr.Wrap(poserr.KindValidation, "realtime.edit", r.view.BeginEdit())
}

func (r *Reconciler) AdjustLine(i, delta int) (tab.Line, error) {
	l, err := r.view.AdjustLine(i, delta)
	return l, poserr.Wrap(poserr.KindValidation, "realtime.adjust_line", err)
}

func (r *Reconciler) CancelEdit() error {
	return poserr.Wrap(poserr.KindValidation, "realtime.cancel_edit", r.view.CancelEdit())
}

type editRequest struct {
	Changed  []tab.Line `json:"itensAlterados"`
	TabID    string     `json:"comanda"`
	Username string     `json:"username"`
	Token    string     `json:"token"`
	Shop     string     `json:"carrinho"`
}

// ConfirmEdit sends the lines touched since BeginEdit and leaves edit mode.
// On a failed dispatch the edit stays open.
func (r *Reconciler) ConfirmEdit(ctx context.Context) (int, error) {
	const op = "realtime.confirm_edit"
	tabID, err := r.currentTab(op)
	if err != nil {
		return 0, err
	}
	changed, err := r.view.PendingEdits()
	if err != nil {
		return 0, poserr.Wrap(poserr.KindValidation, op, err)
	}
	if len(changed) == 0 {
		r.view.EndEdit()
		return 0, nil
	}
	if err := r.requireConnected(op); err != nil {
		return 0, err
	}
	release, err := r.guards.Acquire("edit:"+tabID, r.cfg.GuardTimeout)
	if err != nil {
		return 0, poserr.Wrap(poserr.KindValidation, op, err)
	}
	defer release()

	err = r.ch.Emit(ctx, "atualizar_comanda", editRequest{
		Changed:  changed,
		TabID:    tabID,
		Username: r.cfg.Username,
		Token:    r.cfg.Token,
		Shop:     r.cfg.Shop,
	})
	if err != nil {
		return 0, channel.EmitError(op, err)
	}
	r.view.EndEdit()
	return len(changed), nil
}

// -- Payment rounds --

type undoRequest struct {
	TabID     string      `json:"comanda"`
	Remaining json.Number `json:"preco"`
	Order     int         `json:"ordem"`
	Shop      string      `json:"carrinho"`
}

// UndoLastPayment reverts the payment round shown at order cursor 1. The
// request is fire and forget; the action stays blocked for the cooldown and
// the view then returns to the live tab.
func (r *Reconciler) UndoLastPayment(ctx context.Context) error {
	const op = "realtime.undo_payment"
	tabID, err := r.currentTab(op)
	if err != nil {
		return err
	}
	if r.view.Order() != 1 || !r.view.HasLines() {
		return poserr.Validation(op, "only the last payment can be undone")
	}
	if err := r.requireConnected(op); err != nil {
		return err
	}
	if err := r.guards.Hold("undo:"+tabID, r.cfg.UndoCooldown); err != nil {
		return poserr.Wrap(poserr.KindValidation, op, err)
	}

	err = r.ch.Emit(ctx, "desfazer_pagamento", undoRequest{
		TabID:     tabID,
		Remaining: json.Number(r.view.Totals().Remaining.String()),
		Order:     r.view.Order(),
		Shop:      r.cfg.Shop,
	})
	if err != nil {
		return channel.EmitError(op, err)
	}
	time.AfterFunc(r.cfg.UndoCooldown, func() {
		if r.view.TabID() == tabID {
			r.view.SetOrder(0)
		}
	})
	return nil
}

// Navigate moves the order cursor by delta (0 is the live tab, n > 0 the
// n-th earlier payment round) and loads that round's lines.
func (r *Reconciler) Navigate(ctx context.Context, delta int) (int, error) {
	const op = "realtime.navigate"
	tabID, err := r.currentTab(op)
	if err != nil {
		return 0, err
	}
	if delta == 0 {
		return r.view.Order(), nil
	}
	next := r.view.Order() + delta
	if next < 0 {
		return r.view.Order(), poserr.Validation(op, "already showing the current tab")
	}
	release, err := r.guards.Acquire("navigate:"+tabID, r.cfg.GuardTimeout)
	if err != nil {
		return r.view.Order(), poserr.Wrap(poserr.KindValidation, op, err)
	}
	defer release()

	s, err := r.api.FetchLines(ctx, tabID, next)
	if err != nil {
		return r.view.Order(), err
	}
	if r.view.TabID() != tabID {
		return 0, poserr.Validation(op, "tab changed while loading")
	}
	r.view.SetOrder(next)
	r.view.Apply(s)
	return next, nil
}

// -- Adjustments --

type alterValueRequest struct {
	Value    string `json:"valor"`
	Category string `json:"categoria"`
	TabID    string `json:"comanda"`
	Shop     string `json:"carrinho"`
}

// AlterValue asks the server to change a tab level amount, such as the
// discount ("desconto").
func (r *Reconciler) AlterValue(ctx context.Context, category, value string) error {
	const op = "realtime.alter_value"
	tabID, err := r.currentTab(op)
	if err != nil {
		return err
	}
	category = strings.TrimSpace(category)
	if category == "" {
		return poserr.Validation(op, "choose what to change")
	}
	if strings.TrimSpace(value) == "" || utils.ParseMoney(value).IsNegative() {
		return poserr.Validation(op, "enter a valid amount")
	}
	if err := r.requireConnected(op); err != nil {
		return err
	}
	err = r.ch.Emit(ctx, "alterarValor", alterValueRequest{
		Value:    value,
		Category: category,
		TabID:    tabID,
		Shop:     r.cfg.Shop,
	})
	return channel.EmitError(op, err)
}

type billingRefresh struct {
	Emit bool   `json:"emitir"`
	Shop string `json:"carrinho"`
}

func (r *Reconciler) refreshBilling(ctx context.Context) {
	if err := r.ch.Emit(ctx, "faturamento", billingRefresh{Emit: true, Shop: r.cfg.Shop}); err != nil {
		log.Printf("realtime: billing refresh failed: %v", err)
	}
}

// Transfer moves every line of the open tab to dest and follows it there.
func (r *Reconciler) Transfer(ctx context.Context, dest string) error {
	const op = "realtime.transfer"
	tabID, err := r.currentTab(op)
	if err != nil {
		return err
	}
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return poserr.Validation(op, "enter the destination tab")
	}
	if dest == tabID {
		return poserr.Validation(op, "destination must be a different tab")
	}
	release, err := r.guards.Acquire("transfer:"+tabID, r.cfg.GuardTimeout)
	if err != nil {
		return poserr.Wrap(poserr.KindValidation, op, err)
	}
	defer release()

	if err := r.api.TransferTab(ctx, tabID, dest); err != nil {
		return err
	}

	r.view.Reset(dest, 0)
	r.refreshBilling(ctx)

	s, err := r.api.FetchLines(ctx, dest, 0)
	if err != nil {
		log.Printf("realtime: failed to load lines of tab %s after transfer: %v", dest, err)
		return nil
	}
	r.view.Apply(s)
	return nil
}

func (r *Reconciler) Payments(ctx context.Context) ([]backend.Payment, error) {
	tabID, err := r.currentTab("realtime.payments")
	if err != nil {
		return nil, err
	}
	return r.api.Payments(ctx, tabID)
}

func (r *Reconciler) DeletePayment(ctx context.Context, paymentID string) error {
	const op = "realtime.delete_payment"
	tabID, err := r.currentTab(op)
	if err != nil {
		return err
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return poserr.Validation(op, "payment id is required")
	}
	release, err := r.guards.Acquire(fmt.Sprintf("payment:delete:%s", tabID), r.cfg.GuardTimeout)
	if err != nil {
		return poserr.Wrap(poserr.KindValidation, op, err)
	}
	defer release()

	if err := r.api.DeletePayment(ctx, tabID, paymentID); err != nil {
		return err
	}
	r.refreshBilling(ctx)
	return nil
}

// -- Name facet --

func (r *Reconciler) FilterByName(name string) { r.view.FilterByName(name) }

func (r *Reconciler) ShowAll() { r.view.ShowAll() }

// State is a read-only copy of the view for presentation.
type State struct {
	TabID   string     `json:"comanda"`
	Order   int        `json:"ordem"`
	Lines   []tab.Line `json:"dados"`
	Totals  tab.Totals `json:"totals"`
	Names   []string   `json:"nomes"`
	Filter  string     `json:"filtro"`
	Editing bool       `json:"editando"`
}

func (r *Reconciler) State() State {
	return State{
		TabID:   r.view.TabID(),
		Order:   r.view.Order(),
		Lines:   r.view.Lines(),
		Totals:  r.view.Totals(),
		Names:   r.view.Names(),
		Filter:  r.view.Filter(),
		Editing: r.view.Editing(),
	}
}
