package tab

import (
	"encoding/json"
	"fmt"
	"strings"

	"comanda-pos/internal/utils"

	"github.com/shopspring/decimal"
)

type Totals struct {
	Remaining decimal.Decimal `json:"remaining"`
	Paid      decimal.Decimal `json:"paid"`
	Total     decimal.Decimal `json:"total"`
	Discount  decimal.Decimal `json:"discount"`
}

// Snapshot is an authoritative copy of a tab. Partial snapshots (from the
// line fetch endpoint) carry only lines and the remaining amount.
type Snapshot struct {
	TabID   string
	Lines   []Line
	Totals  Totals
	Names   []string
	Partial bool
}

type pricePush struct {
	TabID     utils.FlexString  `json:"comanda"`
	Lines     []Line            `json:"dados"`
	Remaining utils.FlexDecimal `json:"preco_a_pagar"`
	Paid      utils.FlexDecimal `json:"preco_pago"`
	Total     utils.FlexDecimal `json:"preco_total"`
	Discount  utils.FlexDecimal `json:"desconto"`
	Names     []any             `json:"nomes"`
}

// ParsePricePush decodes the "preco" event.
func ParsePricePush(payload []byte) (Snapshot, error) {
	var p pricePush
	if err := json.Unmarshal(payload, &p); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode price push: %w", err)
	}
	return Snapshot{
		TabID: strings.TrimSpace(p.TabID.String()),
		Lines: nonNil(p.Lines),
		Totals: Totals{
			Remaining: p.Remaining.Decimal,
			Paid:      p.Paid.Decimal,
			Total:     p.Total.Decimal,
			Discount:  p.Discount.Decimal,
		},
		Names: parseNames(p.Names),
	}, nil
}

type deletedPush struct {
	TabID utils.FlexString `json:"fcomanda"`
}

// ParseDeletedPush returns the tab id of a "comanda_deleted" event.
func ParseDeletedPush(payload []byte) (string, error) {
	var p deletedPush
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("failed to decode deleted push: %w", err)
	}
	return strings.TrimSpace(p.TabID.String()), nil
}

func parseNames(raw []any) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool)
	for _, v := range raw {
		name := ""
		if m, ok := v.(map[string]any); ok {
			name = utils.AnyString(m["nome"])
		} else {
			name = utils.AnyString(v)
		}
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func nonNil(lines []Line) []Line {
	if lines == nil {
		return []Line{}
	}
	return lines
}
