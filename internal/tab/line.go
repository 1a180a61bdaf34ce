// Package tab mirrors the server owned state of an open tab (comanda): its
// order lines and money totals.
package tab

import (
	"encoding/json"
	"fmt"
	"strings"

	"comanda-pos/internal/utils"

	"github.com/shopspring/decimal"
)

// Line is one order line of a tab. QuantityPaid never exceeds Quantity.
type Line struct {
	ID           string
	OrderText    string
	Extra        string
	Quantity     int
	QuantityPaid int
	LineTotal    decimal.Decimal
	UnitPrice    decimal.Decimal
	HasUnitPrice bool
	OptionsRaw   string
	CustomerName string
}

// Key tells apart lines that share a name by id, text, note and position.
func (l Line) Key(index int) string {
	return fmt.Sprintf("%s|%s|%s|%d", l.ID, l.OrderText, l.Extra, index)
}

func (l Line) Remaining() int {
	r := l.Quantity - l.QuantityPaid
	if r < 0 {
		return 0
	}
	return r
}

// Unit is the explicit unit price when the backend sent one, otherwise the
// line total spread over the quantity.
func (l Line) Unit() decimal.Decimal {
	if l.HasUnitPrice {
		return l.UnitPrice
	}
	if l.Quantity <= 0 {
		return decimal.Zero
	}
	return l.LineTotal.Div(decimal.NewFromInt(int64(l.Quantity)))
}

// PriceOf is what n units of the line cost, in cents. Without a unit price
// the line total is scaled by n before dividing by the quantity.
func (l Line) PriceOf(n int) decimal.Decimal {
	units := decimal.NewFromInt(int64(n))
	if l.HasUnitPrice {
		return utils.Cents(l.UnitPrice.Mul(units))
	}
	if l.Quantity <= 0 {
		return decimal.Zero
	}
	return utils.Cents(l.LineTotal.Mul(units).Div(decimal.NewFromInt(int64(l.Quantity))))
}

func (l Line) identity(pos int) string {
	if l.ID != "" {
		return "id:" + l.ID
	}
	return fmt.Sprintf("%s|%s|%d", l.OrderText, l.Extra, pos)
}

func (l Line) normalized() Line {
	if l.Quantity < 0 {
		l.Quantity = 0
	}
	if l.QuantityPaid < 0 {
		l.QuantityPaid = 0
	}
	if l.QuantityPaid > l.Quantity {
		l.QuantityPaid = l.Quantity
	}
	return l
}

// -- Wire form --

type wireLine struct {
	ID           utils.FlexString   `json:"id"`
	OrderText    utils.FlexString   `json:"pedido"`
	Extra        utils.FlexString   `json:"extra"`
	Quantity     utils.FlexInt      `json:"quantidade"`
	QuantityPaid utils.FlexInt      `json:"quantidade_paga"`
	LineTotal    utils.FlexDecimal  `json:"preco"`
	UnitPrice    *utils.FlexDecimal `json:"preco_unitario,omitempty"`
	Options      json.RawMessage    `json:"opcoes,omitempty"`
	Name         utils.FlexString   `json:"nome"`
}

func (l *Line) UnmarshalJSON(b []byte) error {
	var w wireLine
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*l = Line{
		ID:           strings.TrimSpace(w.ID.String()),
		OrderText:    w.OrderText.String(),
		Extra:        w.Extra.String(),
		Quantity:     w.Quantity.Int(),
		QuantityPaid: w.QuantityPaid.Int(),
		LineTotal:    w.LineTotal.Decimal,
		OptionsRaw:   optionsText(w.Options),
		CustomerName: w.Name.String(),
	}
	if w.UnitPrice != nil {
		l.UnitPrice = w.UnitPrice.Decimal
		l.HasUnitPrice = true
	}
	*l = l.normalized()
	return nil
}

// MarshalJSON writes the line back in the shape the backend sent it, which is
// what atualizar_comanda expects for edited lines.
func (l Line) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":              l.ID,
		"pedido":          l.OrderText,
		"extra":           l.Extra,
		"quantidade":      fmt.Sprint(l.Quantity),
		"quantidade_paga": l.QuantityPaid,
		"preco":           l.LineTotal.StringFixed(2),
		"opcoes":          l.OptionsRaw,
		"nome":            l.CustomerName,
	}
	if l.HasUnitPrice {
		out["preco_unitario"] = json.Number(l.UnitPrice.String())
	}
	return json.Marshal(out)
}

func optionsText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func cloneLines(lines []Line) []Line {
	return append([]Line(nil), lines...)
}
