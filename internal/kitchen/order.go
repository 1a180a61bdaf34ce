// Package kitchen is the order board used by the bar and the kitchen: the
// order lines of every tab, with print confirmation and line corrections.
package kitchen

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"comanda-pos/internal/utils"

	"github.com/shopspring/decimal"
)

const (
	RoleKitchen = "Cozinha"
	RoleAdmin   = "ADM"

	CategoryKitchen = "3"
)

// CategoryLabel names the preparation station of a category code.
func CategoryLabel(c string) string {
	switch c {
	case "1":
		return "Pegar"
	case "2":
		return "Barman"
	case "3":
		return "Cozinha"
	case "":
		return "—"
	}
	return c
}

type Order struct {
	ID           string          `json:"id"`
	TabID        string          `json:"comanda"`
	Item         string          `json:"pedido"`
	Quantity     int             `json:"quantidade"`
	QuantityPaid int             `json:"quantidade_paga"`
	Price        decimal.Decimal `json:"preco"`
	UnitPrice    decimal.Decimal `json:"preco_unitario"`
	Extra        string          `json:"extra"`
	Options      string          `json:"opcoes"`
	Username     string          `json:"username"`
	CustomerName string          `json:"nome"`
	Round        int             `json:"ordem"`
	Category     string          `json:"categoria"`
	Start        string          `json:"inicio"`
	Day          string          `json:"dia"`
	DeliveryTime string          `json:"horario_para_entrega"`
	Printed      bool            `json:"printed"`
}

// Paid orders belong to a closed payment round.
func (o Order) Paid() bool { return o.Round > 0 }

type wireOrder struct {
	ID           utils.FlexString  `json:"id"`
	TabID        utils.FlexString  `json:"comanda"`
	Item         utils.FlexString  `json:"pedido"`
	Quantity     utils.FlexInt     `json:"quantidade"`
	QuantityPaid utils.FlexInt     `json:"quantidade_paga"`
	Price        utils.FlexDecimal `json:"preco"`
	UnitPrice    utils.FlexDecimal `json:"preco_unitario"`
	Extra        utils.FlexString  `json:"extra"`
	Options      json.RawMessage   `json:"opcoes"`
	Username     utils.FlexString  `json:"username"`
	CustomerName utils.FlexString  `json:"nome"`
	Round        utils.FlexInt     `json:"ordem"`
	Category     utils.FlexString  `json:"categoria"`
	Start        utils.FlexString  `json:"inicio"`
	Day          utils.FlexString  `json:"dia"`
	DeliveryTime utils.FlexString  `json:"horario_para_entrega"`
	Printed      utils.FlexBool    `json:"printed"`
}

func (w wireOrder) order() Order {
	return Order{
		ID:           strings.TrimSpace(w.ID.String()),
		TabID:        w.TabID.String(),
		Item:         w.Item.String(),
		Quantity:     w.Quantity.Int(),
		QuantityPaid: w.QuantityPaid.Int(),
		Price:        w.Price.Decimal,
		UnitPrice:    w.UnitPrice.Decimal,
		Extra:        w.Extra.String(),
		Options:      rawText(w.Options),
		Username:     w.Username.String(),
		CustomerName: w.CustomerName.String(),
		Round:        w.Round.Int(),
		Category:     normalizeCategory(w.Category.String()),
		Start:        w.Start.String(),
		Day:          w.Day.String(),
		DeliveryTime: w.DeliveryTime.String(),
		Printed:      bool(w.Printed),
	}
}

func normalizeCategory(c string) string {
	c = strings.TrimSpace(c)
	if c == "null" || c == "undefined" {
		return ""
	}
	return c
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ParseSnapshot decodes a respostaPedidos payload in server order.
func ParseSnapshot(payload []byte) ([]Order, error) {
	var p struct {
		Orders []wireOrder `json:"dataPedidos"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(p.Orders))
	for _, w := range p.Orders {
		out = append(out, w.order())
	}
	return out, nil
}

// -- Edits --

var hhmm = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

var (
	nonInt   = regexp.MustCompile(`[^0-9-]`)
	nonFloat = regexp.MustCompile(`[^0-9.\-]`)
)

// Edit holds the fields of an order as the operator typed them.
type Edit struct {
	ID           string `json:"id"`
	TabID        string `json:"comanda"`
	Quantity     string `json:"quantidade"`
	QuantityPaid string `json:"quantidade_paga"`
	UnitPrice    string `json:"preco_unitario"`
	Price        string `json:"preco"`
	Options      string `json:"opcoes"`
	Extra        string `json:"extra"`
	DeliveryTime string `json:"horario_para_entrega"`
}

func EditFor(o Order) Edit {
	return Edit{
		ID:           o.ID,
		TabID:        o.TabID,
		Quantity:     strconv.Itoa(o.Quantity),
		QuantityPaid: strconv.Itoa(o.QuantityPaid),
		UnitPrice:    o.UnitPrice.String(),
		Price:        o.Price.String(),
		Options:      o.Options,
		Extra:        o.Extra,
		DeliveryTime: o.DeliveryTime,
	}
}

// SetQuantity reprices the line and keeps the paid units within it.
func (e *Edit) SetQuantity(text string) {
	e.Quantity = text
	q, _ := typedInt(text)
	q = max(q, 0)
	unit, _ := typedDecimal(e.UnitPrice)
	e.Price = unit.Mul(decimal.NewFromInt(int64(q))).StringFixed(2)
	paid, _ := typedInt(e.QuantityPaid)
	e.QuantityPaid = strconv.Itoa(min(q, max(paid, 0)))
}

func (e *Edit) SetUnitPrice(text string) {
	e.UnitPrice = text
	unit, _ := typedDecimal(text)
	q, _ := typedInt(e.Quantity)
	e.Price = unit.Mul(decimal.NewFromInt(int64(max(q, 0)))).StringFixed(2)
}

func typedInt(s string) (int, bool) {
	n, err := strconv.Atoi(nonInt.ReplaceAllString(s, ""))
	return n, err == nil
}

func typedDecimal(s string) (decimal.Decimal, bool) {
	s = nonFloat.ReplaceAllString(strings.Replace(s, ",", ".", 1), "")
	d, err := decimal.NewFromString(s)
	return d, err == nil
}

type editPayload struct {
	ID           string `json:"id"`
	TabID        string `json:"comanda"`
	Price        string `json:"preco"`
	Quantity     string `json:"quantidade"`
	QuantityPaid string `json:"quantidade_paga"`
	UnitPrice    string `json:"preco_unitario"`
	Options      string `json:"opcoes"`
	Extra        string `json:"extra"`
	DeliveryTime string `json:"horario_para_entrega"`
}

// validate returns the normalized payload or the first problem found.
func (e Edit) validate() (editPayload, string) {
	q, ok := typedInt(e.Quantity)
	if !ok {
		return editPayload{}, "invalid quantity (numbers only)"
	}
	qp, ok := typedInt(e.QuantityPaid)
	if !ok {
		return editPayload{}, "invalid paid quantity (numbers only)"
	}
	if qp > q {
		return editPayload{}, "paid quantity cannot exceed the quantity"
	}
	unit, ok := typedDecimal(e.UnitPrice)
	if !ok {
		return editPayload{}, "invalid unit price"
	}
	price, ok := typedDecimal(e.Price)
	if !ok {
		return editPayload{}, "invalid price"
	}
	h := strings.TrimSpace(e.DeliveryTime)
	if h != "" && !hhmm.MatchString(h) {
		return editPayload{}, "delivery time must be HH:MM"
	}
	return editPayload{
		ID:           e.ID,
		TabID:        e.TabID,
		Price:        price.String(),
		Quantity:     strconv.Itoa(q),
		QuantityPaid: strconv.Itoa(qp),
		UnitPrice:    unit.String(),
		Options:      e.Options,
		Extra:        e.Extra,
		DeliveryTime: h,
	}, ""
}
