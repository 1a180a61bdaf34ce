package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"comanda-pos/internal/cart"
	"comanda-pos/internal/database/models"
	"comanda-pos/internal/settlement"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ledger keeps a local audit trail of the orders and payments a terminal
// sent. The backend stays the source of truth for tab contents.
type Ledger struct {
	db       *gorm.DB
	shop     string
	operator string
}

func NewLedger(db *gorm.DB, shop, operator string) *Ledger {
	return &Ledger{db: db, shop: shop, operator: operator}
}

// ForOperator returns a ledger writing under another operator name.
func (l *Ledger) ForOperator(operator string) *Ledger {
	return &Ledger{db: l.db, shop: l.shop, operator: operator}
}

func (l *Ledger) RecordSettlement(ctx context.Context, r settlement.Record) error {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}

	row := models.SettlementRecord{
		ID:            id,
		TabID:         r.TabID,
		Shop:          l.shop,
		Operator:      l.operator,
		Mode:          string(r.Mode),
		Event:         r.Event,
		PaymentMethod: r.Method,
		BaseAmount:    r.Base.StringFixed(2),
		ServiceCharge: r.ServiceCharge.StringFixed(2),
		Gratuity:      r.Gratuity.StringFixed(2),
		TotalAmount:   r.Total.StringFixed(2),
		RequestedAt:   at,
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record settlement for tab %s: %w", r.TabID, err)
	}
	return nil
}

type OrderEntry struct {
	ID       string
	Payload  cart.OrderPayload
	Subtotal decimal.Decimal
	At       time.Time
}

func (l *Ledger) RecordOrder(ctx context.Context, e OrderEntry) error {
	if e.Payload.Empty() {
		return nil
	}
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	row := models.OrderRecord{
		ID:        id,
		TabID:     e.Payload.Comanda,
		Shop:      l.shop,
		Operator:  l.operator,
		Gift:      e.Payload.Gift,
		Subtotal:  e.Subtotal.StringFixed(2),
		OrderedAt: at,
	}
	p := e.Payload
	for i, item := range p.Items {
		line := models.OrderLineRecord{
			ID:       uuid.NewString(),
			OrderID:  id,
			Position: int32(i),
			ItemName: item,
			Options:  models.StringArray{},
		}
		if i < len(p.Quantities) {
			line.Quantity = int32(p.Quantities[i])
		}
		if i < len(p.Notes) {
			line.Note = p.Notes[i]
		}
		if i < len(p.Names) {
			line.CustomerName = p.Names[i]
		}
		if i < len(p.Options) {
			for _, g := range p.Options[i] {
				names := make([]string, 0, len(g.Options))
				for _, o := range g.Options {
					names = append(names, o.Name)
				}
				line.Options = append(line.Options, g.Name+": "+strings.Join(names, ", "))
			}
		}
		row.Lines = append(row.Lines, line)
	}

	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record order for tab %s: %w", row.TabID, err)
	}
	return nil
}

// Settlements lists the payments recorded for tabID, newest first.
func (l *Ledger) Settlements(ctx context.Context, tabID string) ([]models.SettlementRecord, error) {
	var rows []models.SettlementRecord
	err := l.db.WithContext(ctx).
		Where("tab_id = ?", tabID).
		Order("requested_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements for tab %s: %w", tabID, err)
	}
	return rows, nil
}

var _ settlement.Ledger = (*Ledger)(nil)
