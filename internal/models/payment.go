package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Payment is one attempt to pay for an Order. An order may accumulate several
// attempts across retries; each webhook resolves to exactly one Payment.
// Once Status reaches a terminal value it is never downgraded.
type Payment struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	OrderID           uint            `gorm:"not null;index" json:"order_id"`
	Method            string          `gorm:"size:50;not null" json:"method"`
	Amount            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency          string          `gorm:"size:3;not null;default:'TRY'" json:"currency"`
	Status            string          `gorm:"size:20;not null;index;default:'PENDING'" json:"status"` // PENDING, COMPLETED, FAILED, CANCELLED
	ProviderPaymentID string          `gorm:"size:255;index" json:"provider_payment_id"`
	ProviderData      datatypes.JSON  `json:"provider_data"`            // checkout/callback URLs etc., always JSON we marshal ourselves
	WebhookData       []byte          `gorm:"type:longblob" json:"-"`   // last raw webhook payload, stored verbatim for audit; iyzico posts form-encoded bodies, so this column must accept non-JSON
	FailureReason     *string         `gorm:"size:500" json:"failure_reason"`
	CompletedAt       *time.Time      `json:"completed_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeletedAt         gorm.DeletedAt  `gorm:"index" json:"-"`

	Order Order `gorm:"foreignKey:OrderID" json:"-"`
}

func (Payment) TableName() string {
	return "payments"
}
