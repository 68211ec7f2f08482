package repository

import (
	"abonix/internal/models"

	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists the order together with its items.
func (r *OrderRepository) Create(o *models.Order) error {
	return r.db.Create(o).Error
}

// CreateWithPayment persists the order, its items and the initial payment
// attempt in one transaction, so a failed payment insert never strands a
// PENDING order without a payment to reconcile against.
func (r *OrderRepository) CreateWithPayment(o *models.Order, p *models.Payment) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(o).Error; err != nil {
			return err
		}
		p.OrderID = o.ID
		return tx.Create(p).Error
	})
}

func (r *OrderRepository) GetByID(id uint) (*models.Order, error) {
	var o models.Order
	if err := r.db.Preload("Items").Preload("Items.Plan").First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) GetByOrderNumber(number string) (*models.Order, error) {
	var o models.Order
	if err := r.db.Preload("Items").Preload("Items.Plan").Where("order_number = ?", number).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) ListByUser(userID uint, page, limit int) ([]models.Order, int64, error) {
	q := r.db.Model(&models.Order{}).Where("user_id = ?", userID)
	var total int64
	q.Count(&total)
	var orders []models.Order
	err := q.Preload("Items").Preload("Items.Plan").
		Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&orders).Error
	return orders, total, err
}

// List returns all orders, newest first, with an optional status filter.
func (r *OrderRepository) List(status string, page, limit int) ([]models.Order, int64, error) {
	q := r.db.Model(&models.Order{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	q.Count(&total)
	var orders []models.Order
	err := q.Preload("Items").Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&orders).Error
	return orders, total, err
}
