package tab

import (
	"errors"
	"sync"

	"comanda-pos/internal/utils"

	"github.com/shopspring/decimal"
)

var (
	ErrLineNotFound   = errors.New("tab line not found")
	ErrNotEditing     = errors.New("tab is not in edit mode")
	ErrAlreadyEditing = errors.New("tab is already in edit mode")
	ErrBelowPaid      = errors.New("quantity cannot go below the paid units")
)

// View is the terminal's mirror of one tab. Pushes replace it wholesale; the
// only local changes are optimistic ones made while a request is in flight or
// while the operator is editing quantities.
type View struct {
	mu      sync.RWMutex
	tabID   string
	order   int
	lines   []Line
	visible []int
	filter  string
	totals  Totals
	names   []string
	edit    *editState
}

type editState struct {
	snapshot []Line
	touched  map[string]Line
}

func NewView(tabID string, order int) *View {
	v := &View{}
	v.Reset(tabID, order)
	return v
}

// Reset points the view at another tab and drops everything it held.
func (v *View) Reset(tabID string, order int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tabID = tabID
	v.order = max(order, 0)
	v.lines = nil
	v.filter = ""
	v.totals = Totals{}
	v.names = nil
	v.edit = nil
	v.refilter()
}

func (v *View) TabID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.tabID
}

func (v *View) Order() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.order
}

func (v *View) SetOrder(order int) {
	v.mu.Lock()
	v.order = max(order, 0)
	v.mu.Unlock()
}

// Apply replaces the view with s when s is for the viewed tab. Lines touched
// in an open edit keep their working quantities on top of the new baseline.
func (v *View) Apply(s Snapshot) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s.TabID != v.tabID {
		return false
	}

	lines := make([]Line, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = l.normalized()
	}

	if v.edit != nil {
		v.edit.snapshot = cloneLines(lines)
		for i, l := range lines {
			if w, ok := v.edit.touched[l.identity(i)]; ok {
				lines[i].Quantity = w.Quantity
				lines[i].LineTotal = w.LineTotal
				lines[i] = lines[i].normalized()
			}
		}
	}

	v.lines = lines
	if s.Partial {
		v.totals.Remaining = s.Totals.Remaining
	} else {
		v.totals = s.Totals
		v.names = append([]string(nil), s.Names...)
	}
	v.refilter()
	return true
}

// Clear empties the view when tabID is the viewed tab.
func (v *View) Clear(tabID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if tabID != v.tabID {
		return false
	}
	v.lines = nil
	v.names = nil
	v.totals = Totals{Discount: v.totals.Discount}
	v.edit = nil
	v.refilter()
	return true
}

// Lines returns the lines shown under the current name filter.
func (v *View) Lines() []Line {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Line, len(v.visible))
	for i, idx := range v.visible {
		out[i] = v.lines[idx]
	}
	return out
}

func (v *View) AllLines() []Line {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return cloneLines(v.lines)
}

func (v *View) Line(i int) (Line, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if i < 0 || i >= len(v.visible) {
		return Line{}, false
	}
	return v.lines[v.visible[i]], true
}

// Position maps visible line i to its position in the whole tab.
func (v *View) Position(i int) (int, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if i < 0 || i >= len(v.visible) {
		return 0, false
	}
	return v.visible[i], true
}

func (v *View) Totals() Totals {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totals
}

func (v *View) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.names...)
}

func (v *View) HasLines() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.lines) > 0
}

// -- Name facet --

func (v *View) FilterByName(name string) {
	v.mu.Lock()
	v.filter = name
	v.refilter()
	v.mu.Unlock()
}

func (v *View) ShowAll() {
	v.FilterByName("")
}

func (v *View) Filter() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.filter
}

func (v *View) refilter() {
	v.visible = v.visible[:0]
	for i, l := range v.lines {
		if v.filter == "" || l.CustomerName == v.filter {
			v.visible = append(v.visible, i)
		}
	}
}

// -- Optimistic settlement updates --

// DeductRemaining lowers the remaining amount, never below zero.
func (v *View) DeductRemaining(amount decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r := v.totals.Remaining.Sub(amount)
	if r.IsNegative() {
		r = decimal.Zero
	}
	v.totals.Remaining = r
}

// MarkAllPaid shows every line as settled.
func (v *View) MarkAllPaid() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.lines {
		v.lines[i].QuantityPaid = v.lines[i].Quantity
	}
	v.totals.Paid = v.totals.Paid.Add(v.totals.Remaining)
	v.totals.Remaining = decimal.Zero
}

// -- Edit mode --

func (v *View) BeginEdit() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.edit != nil {
		return ErrAlreadyEditing
	}
	v.edit = &editState{snapshot: cloneLines(v.lines), touched: make(map[string]Line)}
	return nil
}

func (v *View) Editing() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.edit != nil
}

// AdjustLine changes the quantity of visible line i by delta, moving the line
// total by the unit price per unit.
func (v *View) AdjustLine(i, delta int) (Line, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.edit == nil {
		return Line{}, ErrNotEditing
	}
	if i < 0 || i >= len(v.visible) {
		return Line{}, ErrLineNotFound
	}

	idx := v.visible[i]
	l := v.lines[idx]
	q := l.Quantity + delta
	if q < 0 {
		q = 0
	}
	if q < l.QuantityPaid {
		return l, ErrBelowPaid
	}
	if q == l.Quantity {
		return l, nil
	}

	unit := l.Unit()
	l.LineTotal = l.LineTotal.Add(l.PriceOf(q - l.Quantity))
	if l.LineTotal.IsNegative() {
		l.LineTotal = decimal.Zero
	}
	if !l.HasUnitPrice {
		l.UnitPrice, l.HasUnitPrice = utils.Cents(unit), true
	}
	l.Quantity = q

	v.lines[idx] = l
	v.edit.touched[l.identity(idx)] = l
	return l, nil
}

// CancelEdit restores the lines as they were when the edit began (or as the
// last push during the edit left them).
func (v *View) CancelEdit() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.edit == nil {
		return ErrNotEditing
	}
	v.lines = v.edit.snapshot
	v.edit = nil
	v.refilter()
	return nil
}

// PendingEdits lists the lines changed since BeginEdit in tab order.
func (v *View) PendingEdits() ([]Line, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.edit == nil {
		return nil, ErrNotEditing
	}
	out := make([]Line, 0, len(v.edit.touched))
	for i, l := range v.lines {
		if _, ok := v.edit.touched[l.identity(i)]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// EndEdit leaves edit mode keeping the working copy.
func (v *View) EndEdit() {
	v.mu.Lock()
	v.edit = nil
	v.mu.Unlock()
}
