package repository

import (
	"abonix/internal/models"

	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(p *models.Payment) error {
	return r.db.Create(p).Error
}

func (r *PaymentRepository) GetByID(id uint) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByProviderPaymentID(providerPaymentID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.Where("provider_payment_id = ?", providerPaymentID).
		Order("created_at DESC").First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetLatestByOrderID returns the most recent payment attempt for an order.
func (r *PaymentRepository) GetLatestByOrderID(orderID uint) (*models.Payment, error) {
	var p models.Payment
	err := r.db.Where("order_id = ?", orderID).
		Order("created_at DESC").First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) Update(p *models.Payment) error {
	return r.db.Save(p).Error
}

func (r *PaymentRepository) ListByOrder(orderID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("order_id = ?", orderID).Order("created_at DESC").Find(&payments).Error
	return payments, err
}
