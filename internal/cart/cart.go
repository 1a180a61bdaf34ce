// Package cart keeps the order lines an operator is composing before they are
// sent to a tab.
package cart

import (
	"errors"
	"strings"
	"sync"
	"time"

	"comanda-pos/internal/menu"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrLineNotFound    = errors.New("cart line not found")
)

type Line struct {
	ItemName     string               `json:"item"`
	Quantity     int                  `json:"quantity"`
	UnitPrice    decimal.Decimal      `json:"unit_price"`
	Note         string               `json:"note"`
	CustomerName string               `json:"customer_name"`
	Options      []menu.ResolvedGroup `json:"options"`
}

func (l Line) Total() decimal.Decimal {
	if l.Quantity <= 0 {
		return decimal.Zero
	}
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ComposeLine checks required groups and prices the item as base plus the
// extras of every selected option.
func ComposeLine(item menu.Item, state menu.SelectionState, quantity int, note, customer string) (Line, error) {
	if quantity < 1 {
		return Line{}, ErrInvalidQuantity
	}
	if err := menu.Validate(item.OptionGroups, state); err != nil {
		return Line{}, err
	}

	resolved := menu.Resolve(item.OptionGroups, state)
	return Line{
		ItemName:     item.Name,
		Quantity:     quantity,
		UnitPrice:    item.BasePrice.Add(menu.SumExtras(resolved)),
		Note:         strings.TrimSpace(note),
		CustomerName: strings.TrimSpace(customer),
		Options:      resolved,
	}, nil
}

type Cart struct {
	mu    sync.Mutex
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

// AddLine appends l and returns its index. Identical lines are never merged.
func (c *Cart) AddLine(l Line) (int, error) {
	if l.Quantity < 1 {
		return -1, ErrInvalidQuantity
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, l)
	return len(c.lines) - 1, nil
}

func (c *Cart) Increment(i int) error {
	return c.update(i, func(l *Line) { l.Quantity++ })
}

// Decrement floors at zero. A zero quantity line stays listed but is left out
// of the subtotal and the submitted order.
func (c *Cart) Decrement(i int) error {
	return c.update(i, func(l *Line) {
		if l.Quantity > 0 {
			l.Quantity--
		}
	})
}

func (c *Cart) update(i int, f func(*Line)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.lines) {
		return ErrLineNotFound
	}
	f(&c.lines[i])
	return nil
}

func (c *Cart) Remove(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.lines) {
		return ErrLineNotFound
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	return nil
}

func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Line(nil), c.lines...)
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func (c *Cart) Subtotal() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	sum := decimal.Zero
	for _, l := range c.lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

func (c *Cart) Clear() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
}

// -- Order payload --

type SubmitParams struct {
	TabID     string
	Username  string
	TokenUser string
	Shop      string
	At        time.Time
}

// OrderPayload is the insert_order request body.
type OrderPayload struct {
	Comanda    string                 `json:"comanda"`
	Items      []string               `json:"pedidosSelecionados"`
	Quantities []int                  `json:"quantidadeSelecionada"`
	Notes      []string               `json:"extraSelecionados"`
	Names      []string               `json:"nomeSelecionado"`
	Time       string                 `json:"horario"`
	Username   string                 `json:"username"`
	Options    [][]menu.ResolvedGroup `json:"opcoesSelecionadas"`
	TokenUser  string                 `json:"token_user,omitempty"`
	Shop       string                 `json:"carrinho"`
	Gift       bool                   `json:"preco,omitempty"`
}

func (p OrderPayload) Empty() bool {
	return len(p.Items) == 0
}

func newPayload(p SubmitParams) OrderPayload {
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	return OrderPayload{
		Comanda:    strings.TrimSpace(p.TabID),
		Items:      []string{},
		Quantities: []int{},
		Notes:      []string{},
		Names:      []string{},
		Options:    [][]menu.ResolvedGroup{},
		Time:       at.Format("15:04"),
		Username:   p.Username,
		TokenUser:  p.TokenUser,
		Shop:       p.Shop,
	}
}

func (o *OrderPayload) add(l Line) {
	opts := l.Options
	if opts == nil {
		opts = []menu.ResolvedGroup{}
	}
	o.Items = append(o.Items, l.ItemName)
	o.Quantities = append(o.Quantities, l.Quantity)
	o.Notes = append(o.Notes, l.Note)
	o.Names = append(o.Names, l.CustomerName)
	o.Options = append(o.Options, opts)
}

// SubmitAndClear builds the order from every line with a positive quantity
// and empties the cart. The cart is cleared as soon as it is asked; a second
// call yields an empty payload.
func (c *Cart) SubmitAndClear(p SubmitParams) OrderPayload {
	c.mu.Lock()
	lines := c.lines
	c.lines = nil
	c.mu.Unlock()

	payload := newPayload(p)
	for _, l := range lines {
		if l.Quantity > 0 {
			payload.add(l)
		}
	}
	return payload
}

// SingleOrder sends one composed line straight to a tab, bypassing the cart.
func SingleOrder(l Line, p SubmitParams) OrderPayload {
	payload := newPayload(p)
	payload.add(l)
	return payload
}

// GiftOrder registers a complimentary item: one unit, priced by the backend
// as free.
func GiftOrder(itemName string, p SubmitParams) OrderPayload {
	payload := newPayload(p)
	payload.Items = []string{strings.TrimSpace(itemName)}
	payload.Quantities = []int{1}
	payload.Notes = []string{""}
	payload.Gift = true
	return payload
}
