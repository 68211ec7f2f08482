package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Plan is a sellable subscription product. DeliveryType AUTOMATIC means the
// plan is fulfilled by handing out a pre-provisioned StockItem; MANUAL plans
// are fulfilled by support staff out-of-band.
type Plan struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Name         string          `gorm:"size:255;not null" json:"name"`
	Slug         string          `gorm:"size:255;not null;uniqueIndex" json:"slug"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Currency     string          `gorm:"size:3;not null;default:'TRY'" json:"currency"`
	DurationDays int             `gorm:"not null;default:30" json:"duration_days"`
	DeliveryType string          `gorm:"size:20;not null;default:'MANUAL'" json:"delivery_type"` // AUTOMATIC, MANUAL
	IsActive     bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Plan) TableName() string {
	return "plans"
}
