// Package settlement negotiates one payment against an open tab.
//
// A payment dialog walks Idle -> ChoosingMethod -> Confirming -> Submitting
// and back to Idle. Exactly one request leaves the terminal per confirmation;
// the server's next price push is the final word on the amounts.
package settlement

import (
	"context"
	"log"
	"slices"
	"sync"
	"time"

	"comanda-pos/internal/channel"
	"comanda-pos/internal/guard"
	"comanda-pos/internal/poserr"
	"comanda-pos/internal/tab"
	"comanda-pos/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeAll     Mode = "tudo"
	ModePartial Mode = "parcial"
	ModeItems   Mode = "itens"
)

func (m Mode) valid() bool {
	return m == ModeAll || m == ModePartial || m == ModeItems
}

type State int

const (
	Idle State = iota
	ChoosingMethod
	Confirming
	Submitting
)

func (s State) String() string {
	switch s {
	case ChoosingMethod:
		return "choosing_method"
	case Confirming:
		return "confirming"
	case Submitting:
		return "submitting"
	default:
		return "idle"
	}
}

var DefaultServiceRate = decimal.RequireFromString("0.10")

type Config struct {
	Shop        string
	Methods     []string
	ServiceRate decimal.Decimal
	// GuardTimeout frees the per-tab payment guard if a dispatch never returns.
	GuardTimeout time.Duration
}

// Ledger keeps an audit trail of emitted settlement requests.
type Ledger interface {
	RecordSettlement(ctx context.Context, r Record) error
}

type Record struct {
	ID            string
	TabID         string
	Mode          Mode
	Method        string
	Base          decimal.Decimal
	ServiceCharge decimal.Decimal
	Gratuity      decimal.Decimal
	Total         decimal.Decimal
	Event         string
	At            time.Time
}

type Quote struct {
	Mode          Mode            `json:"mode"`
	Base          decimal.Decimal `json:"base"`
	ServiceCharge decimal.Decimal `json:"service_charge"`
	Gratuity      decimal.Decimal `json:"gratuity"`
	Total         decimal.Decimal `json:"total"`
}

type Outcome struct {
	Record Record `json:"record"`
	Quote  Quote  `json:"quote"`
}

const op = "settlement.confirm"

type Engine struct {
	ch     channel.Channel
	view   *tab.View
	guards *guard.Set
	cfg    Config
	ledger Ledger
	now    func() time.Time

	mu            sync.Mutex
	state         State
	mode          Mode
	units         map[string]int
	amount        decimal.Decimal
	method        string
	serviceCharge bool
	gratuity      decimal.Decimal
}

func New(ch channel.Channel, view *tab.View, guards *guard.Set, cfg Config) *Engine {
	if cfg.ServiceRate.IsZero() {
		cfg.ServiceRate = DefaultServiceRate
	}
	if cfg.GuardTimeout <= 0 {
		cfg.GuardTimeout = 12 * time.Second
	}
	return &Engine{
		ch:     ch,
		view:   view,
		guards: guards,
		cfg:    cfg,
		now:    time.Now,
		units:  make(map[string]int),
	}
}

func (e *Engine) WithLedger(l Ledger) *Engine {
	e.ledger = l
	return e
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

func (e *Engine) Methods() []string {
	return slices.Clone(e.cfg.Methods)
}

// -- Dialog --

// Begin opens a payment dialog in mode m. Payments are only taken on the
// live tab (order cursor 0).
func (e *Engine) Begin(m Mode) error {
	if !m.valid() {
		return poserr.Validation("settlement.begin", "unknown payment mode")
	}
	if e.view.Order() > 0 {
		return poserr.Validation("settlement.begin", "payments are only allowed on the current tab")
	}
	if m == ModeAll && !e.view.Totals().Remaining.IsPositive() {
		return poserr.Validation("settlement.begin", "nothing to pay")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Submitting {
		return poserr.Wrap(poserr.KindValidation, "settlement.begin", guard.ErrBusy)
	}
	e.resetLocked()
	e.state = ChoosingMethod
	e.mode = m
	return nil
}

func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Submitting {
		return
	}
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.state = Idle
	e.mode = ""
	e.units = make(map[string]int)
	e.amount = decimal.Zero
	e.method = ""
	e.serviceCharge = false
	e.gratuity = decimal.Zero
}

func (e *Engine) editable(opName string) error {
	switch e.state {
	case Idle:
		return poserr.Validation(opName, "no payment in progress")
	case Submitting:
		return poserr.Wrap(poserr.KindValidation, opName, guard.ErrBusy)
	}
	return nil
}

// IncrementUnits selects one more unit of visible line i, up to its unpaid
// quantity. It returns the units now selected for that line.
func (e *Engine) IncrementUnits(i int) (int, error) {
	return e.moveUnits(i, 1)
}

func (e *Engine) DecrementUnits(i int) (int, error) {
	return e.moveUnits(i, -1)
}

func (e *Engine) moveUnits(i, delta int) (int, error) {
	l, okLine := e.view.Line(i)
	pos, okPos := e.view.Position(i)
	if !okLine || !okPos {
		return 0, tab.ErrLineNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.editable("settlement.units"); err != nil {
		return 0, err
	}
	if e.mode != ModeItems {
		return 0, poserr.Validation("settlement.units", "unit selection is only used when paying items")
	}

	key := l.Key(pos)
	n := min(max(e.units[key]+delta, 0), l.Remaining())
	if n == 0 {
		delete(e.units, key)
	} else {
		e.units[key] = n
	}
	return n, nil
}

// Units returns the selected units keyed by line key.
func (e *Engine) Units() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int, len(e.units))
	for k, v := range e.units {
		out[k] = v
	}
	return out
}

// SetPartialAmount takes the operator's typed amount ("12,50" or "12.50").
func (e *Engine) SetPartialAmount(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.editable("settlement.amount"); err != nil {
		return err
	}
	if e.mode != ModePartial {
		return poserr.Validation("settlement.amount", "amount is only used for partial payments")
	}
	e.amount = utils.ParseMoney(text)
	return nil
}

func (e *Engine) SetMethod(method string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.editable("settlement.method"); err != nil {
		return err
	}
	if method == "" || (len(e.cfg.Methods) > 0 && !slices.Contains(e.cfg.Methods, method)) {
		return poserr.Validation("settlement.method", "unknown payment method")
	}
	e.method = method
	e.state = Confirming
	return nil
}

func (e *Engine) SetServiceCharge(on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.editable("settlement.service_charge"); err != nil {
		return err
	}
	e.serviceCharge = on
	return nil
}

// SetGratuity takes the typed tip. Anything that is not a positive amount
// counts as no tip.
func (e *Engine) SetGratuity(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.editable("settlement.gratuity"); err != nil {
		return err
	}
	e.gratuity = utils.ParseMoney(text)
	return nil
}

// -- Amounts --

func (e *Engine) Quote() Quote {
	lines := e.view.AllLines()
	remaining := e.view.Totals().Remaining

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quoteLocked(lines, remaining)
}

func (e *Engine) quoteLocked(lines []tab.Line, remaining decimal.Decimal) Quote {
	q := Quote{Mode: e.mode}
	switch e.mode {
	case ModeAll:
		q.Base = remaining
	case ModePartial:
		q.Base = e.amount
	case ModeItems:
		for pos, l := range lines {
			if n := e.units[l.Key(pos)]; n > 0 {
				q.Base = q.Base.Add(l.PriceOf(n))
			}
		}
	}
	q.Base = utils.Cents(q.Base)
	q.ServiceCharge = decimal.Zero
	if e.serviceCharge {
		q.ServiceCharge = utils.PercentOf(q.Base, e.cfg.ServiceRate)
	}
	q.Gratuity = decimal.Zero
	if e.gratuity.IsPositive() {
		q.Gratuity = utils.Cents(e.gratuity)
	}
	q.Total = q.Base.Add(q.ServiceCharge).Add(q.Gratuity)
	return q
}

// -- Confirmation --

// Confirm emits the payment request for the open dialog. Validation and
// connectivity failures send nothing and change nothing. A failed dispatch
// leaves the dialog in Confirming so the operator can retry.
func (e *Engine) Confirm(ctx context.Context) (Outcome, error) {
	tabID := e.view.TabID()
	if e.view.Order() > 0 {
		return Outcome{}, poserr.Validation(op, "payments are only allowed on the current tab")
	}
	lines := e.view.AllLines()
	remaining := e.view.Totals().Remaining

	e.mu.Lock()
	if err := e.editable(op); err != nil {
		e.mu.Unlock()
		return Outcome{}, err
	}
	if e.method == "" {
		e.mu.Unlock()
		return Outcome{}, poserr.Validation(op, "select a payment method")
	}
	q := e.quoteLocked(lines, remaining)
	items, err := e.validateLocked(q, lines, remaining)
	if err != nil {
		e.mu.Unlock()
		return Outcome{}, err
	}
	if !e.ch.Connected() {
		e.mu.Unlock()
		return Outcome{}, poserr.Connectivity(op, "not connected to the server")
	}
	release, err := e.guards.Acquire("pay:"+tabID, e.cfg.GuardTimeout)
	if err != nil {
		e.mu.Unlock()
		return Outcome{}, poserr.Wrap(poserr.KindValidation, op, err)
	}
	defer release()

	event, payload := e.requestLocked(tabID, q, items)
	rec := Record{
		ID:            uuid.NewString(),
		TabID:         tabID,
		Mode:          e.mode,
		Method:        e.method,
		Base:          q.Base,
		ServiceCharge: q.ServiceCharge,
		Gratuity:      q.Gratuity,
		Total:         q.Total,
		Event:         event,
		At:            e.now(),
	}
	e.state = Submitting
	e.mu.Unlock()

	if q.Mode == ModePartial {
		if err := e.ch.Emit(ctx, "faturamento", billingRefresh{Emit: true, Shop: e.cfg.Shop}); err != nil {
			log.Printf("settlement: billing refresh before partial payment on tab %s failed: %v", tabID, err)
		}
	}
	if err := e.ch.Emit(ctx, event, payload); err != nil {
		e.mu.Lock()
		e.state = Confirming
		e.mu.Unlock()
		return Outcome{}, channel.EmitError(op, err)
	}

	switch q.Mode {
	case ModePartial:
		e.view.DeductRemaining(q.Base)
	case ModeAll:
		e.view.MarkAllPaid()
	}

	if e.ledger != nil {
		if err := e.ledger.RecordSettlement(ctx, rec); err != nil {
			log.Printf("settlement: failed to record %s on tab %s: %v", rec.Event, tabID, err)
		}
	}

	e.mu.Lock()
	e.resetLocked()
	e.mu.Unlock()
	return Outcome{Record: rec, Quote: q}, nil
}

func (e *Engine) validateLocked(q Quote, lines []tab.Line, remaining decimal.Decimal) ([]ItemPayment, error) {
	switch e.mode {
	case ModeItems:
		if !q.Base.IsPositive() {
			e.state = ChoosingMethod
			return nil, poserr.Validation(op, "select at least 1 unit to pay")
		}
		var items []ItemPayment
		for pos, l := range lines {
			n := e.units[l.Key(pos)]
			if n <= 0 {
				continue
			}
			if n > l.Remaining() {
				return nil, poserr.Validation(op, "selected units exceed what is still owed")
			}
			items = append(items, ItemPayment{
				Index:     pos,
				ID:        nullable(l.ID),
				OrderText: l.OrderText,
				Extra:     l.Extra,
				Quantity:  n,
			})
		}
		return items, nil
	case ModePartial:
		if !q.Base.IsPositive() || q.Base.GreaterThan(remaining) {
			return nil, poserr.Validation(op, "enter a valid amount for the partial payment")
		}
	case ModeAll:
		if !q.Base.IsPositive() {
			return nil, poserr.Validation(op, "nothing to pay")
		}
	}
	return nil, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
