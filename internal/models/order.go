package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order is a customer's purchase intent. Created PENDING at checkout and
// mutated only by the reconciler once a payment webhook resolves it; orders
// are never deleted, only transitioned.
type Order struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	OrderNumber   string          `gorm:"size:32;not null;uniqueIndex" json:"order_number"`
	UserID        uint            `gorm:"not null;index" json:"user_id"`
	Status        string          `gorm:"size:20;not null;index;default:'PENDING'" json:"status"` // PENDING, PROCESSING, COMPLETED, CANCELLED, FAILED
	TotalAmount   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_amount"`
	Currency      string          `gorm:"size:3;not null;default:'TRY'" json:"currency"`
	PaymentMethod string          `gorm:"size:50" json:"payment_method"`
	CompletedAt   *time.Time      `json:"completed_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`

	User  User        `gorm:"foreignKey:UserID" json:"-"`
	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderItem is a line item priced at purchase time. Immutable after order
// creation; delivery side effects are recorded on StockItem.
type OrderItem struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	OrderID   uint            `gorm:"not null;index" json:"order_id"`
	PlanID    uint            `gorm:"not null;index" json:"plan_id"`
	Quantity  int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	CreatedAt time.Time       `json:"created_at"`

	Plan Plan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

func (OrderItem) TableName() string {
	return "order_items"
}
