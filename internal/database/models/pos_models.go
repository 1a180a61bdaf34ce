package models

import "time"

// SettlementRecord is one payment request sent for a tab. Amounts are
// decimal strings.
type SettlementRecord struct {
	ID            string    `gorm:"type:varchar(36);primaryKey"`
	TabID         string    `gorm:"type:varchar(64);index;not null"`
	Shop          string    `gorm:"type:varchar(64);index"`
	Operator      string    `gorm:"type:varchar(64)"`
	Mode          string    `gorm:"type:varchar(16);not null"`
	Event         string    `gorm:"type:varchar(32);not null"`
	PaymentMethod string    `gorm:"type:varchar(64);not null"`
	BaseAmount    string    `gorm:"type:varchar(32);not null"`
	ServiceCharge string    `gorm:"type:varchar(32);not null"`
	Gratuity      string    `gorm:"type:varchar(32);not null"`
	TotalAmount   string    `gorm:"type:varchar(32);not null"`
	RequestedAt   time.Time `gorm:"not null"`
	CreatedAt     time.Time
}

// OrderRecord is one insert_order request.
type OrderRecord struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	TabID     string    `gorm:"type:varchar(64);index;not null"`
	Shop      string    `gorm:"type:varchar(64);index"`
	Operator  string    `gorm:"type:varchar(64)"`
	Gift      bool      `gorm:"not null"`
	Subtotal  string    `gorm:"type:varchar(32);not null"`
	OrderedAt time.Time `gorm:"not null"`
	CreatedAt time.Time

	Lines []OrderLineRecord `gorm:"foreignKey:OrderID"`
}

type OrderLineRecord struct {
	ID           string      `gorm:"type:varchar(36);primaryKey"`
	OrderID      string      `gorm:"type:varchar(36);index;not null"`
	Position     int32       `gorm:"not null"`
	ItemName     string      `gorm:"type:varchar(128);not null"`
	Quantity     int32       `gorm:"not null"`
	Note         string      `gorm:"type:text"`
	CustomerName string      `gorm:"type:varchar(64)"`
	Options      StringArray `gorm:"type:text"`
	CreatedAt    time.Time
}
