package service

import (
	"errors"
	"strconv"

	"abonix/internal/models"
	"abonix/pkg/payment"

	"gorm.io/gorm"
)

// paymentLookup is one strategy for matching a webhook to a Payment record.
// Strategies are tried in declaration order; the first match wins, which
// makes the tie-break order auditable instead of burying it in a compound
// OR query.
type paymentLookup struct {
	name string
	find func(db *gorm.DB, ev *payment.Event) (*models.Payment, error)
}

var paymentLookups = []paymentLookup{
	// Preferred: the correlation id is minted as the Payment id at
	// session-creation time.
	{"payment_id", func(db *gorm.DB, ev *payment.Event) (*models.Payment, error) {
		id, err := strconv.ParseUint(ev.CorrelationID, 10, 32)
		if err != nil {
			return nil, gorm.ErrRecordNotFound
		}
		var p models.Payment
		if err := db.First(&p, uint(id)).Error; err != nil {
			return nil, err
		}
		return &p, nil
	}},
	{"provider_payment_id", func(db *gorm.DB, ev *payment.Event) (*models.Payment, error) {
		if ev.ProviderPaymentID == "" {
			return nil, gorm.ErrRecordNotFound
		}
		var p models.Payment
		err := db.Where("provider_payment_id = ?", ev.ProviderPaymentID).
			Order("created_at DESC").First(&p).Error
		if err != nil {
			return nil, err
		}
		return &p, nil
	}},
	// Legacy: some sessions were created with the order id as correlation id.
	{"order_id", func(db *gorm.DB, ev *payment.Event) (*models.Payment, error) {
		id, err := strconv.ParseUint(ev.CorrelationID, 10, 32)
		if err != nil {
			return nil, gorm.ErrRecordNotFound
		}
		var p models.Payment
		if err := db.Where("order_id = ?", uint(id)).Order("created_at DESC").First(&p).Error; err != nil {
			return nil, err
		}
		return &p, nil
	}},
	// Last resort: correlation id matches an order number; take that
	// order's latest payment attempt.
	{"order_number", func(db *gorm.DB, ev *payment.Event) (*models.Payment, error) {
		var o models.Order
		if err := db.Where("order_number = ?", ev.CorrelationID).First(&o).Error; err != nil {
			return nil, err
		}
		var p models.Payment
		if err := db.Where("order_id = ?", o.ID).Order("created_at DESC").First(&p).Error; err != nil {
			return nil, err
		}
		return &p, nil
	}},
}

// resolvePayment runs the lookup strategies in order and returns the first
// match together with the strategy name for diagnostics.
func resolvePayment(db *gorm.DB, ev *payment.Event) (*models.Payment, string, error) {
	for _, lookup := range paymentLookups {
		p, err := lookup.find(db, ev)
		if err == nil {
			return p, lookup.name, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lookup.name, err
		}
	}
	return nil, "", gorm.ErrRecordNotFound
}
