package models

import (
	"time"
)

// StockItem is one unit of automatically-deliverable inventory for a Plan.
// IsUsed flips false→true exactly once, via a conditional update, at the
// moment the item is allocated to an OrderItem; it never reverts.
type StockItem struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	PlanID      uint       `gorm:"not null;index:idx_stock_plan_used" json:"plan_id"`
	Content     string     `gorm:"type:text;not null" json:"content"` // opaque deliverable payload (e.g. credentials)
	IsUsed      bool       `gorm:"not null;default:false;index:idx_stock_plan_used" json:"is_used"`
	OrderItemID *uint      `gorm:"index" json:"order_item_id"`
	UsedAt      *time.Time `json:"used_at"`
	CreatedAt   time.Time  `json:"created_at"`

	Plan Plan `gorm:"foreignKey:PlanID" json:"-"`
}

func (StockItem) TableName() string {
	return "stock_items"
}
