package repository

import (
	"errors"
	"time"

	"abonix/internal/models"

	"gorm.io/gorm"
)

var ErrNoStockAvailable = errors.New("no unused stock item available")

type StockRepository struct {
	db *gorm.DB
}

func NewStockRepository(db *gorm.DB) *StockRepository {
	return &StockRepository{db: db}
}

func (r *StockRepository) CreateBatch(items []models.StockItem) error {
	return r.db.Create(&items).Error
}

// CountAvailable counts unused stock items for a plan.
func (r *StockRepository) CountAvailable(planID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.StockItem{}).
		Where("plan_id = ? AND is_used = ?", planID, false).
		Count(&count).Error
	return count, err
}

// CountAvailableTx counts unused stock items within the caller's
// transaction, so the shortfall check reads the same snapshot the commit
// writes against. Allocation itself is a separate conditional update per
// row, which is what prevents over-consumption under concurrency.
func (r *StockRepository) CountAvailableTx(tx *gorm.DB, planID uint) (int64, error) {
	var count int64
	err := tx.Model(&models.StockItem{}).
		Where("plan_id = ? AND is_used = ?", planID, false).
		Count(&count).Error
	return count, err
}

// CountAllocated counts stock items already allocated to an order item. Used
// to keep delivery idempotent across duplicate webhook deliveries.
func (r *StockRepository) CountAllocated(orderItemID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.StockItem{}).
		Where("order_item_id = ?", orderItemID).
		Count(&count).Error
	return count, err
}

// ClaimUnused atomically allocates one unused stock item for the plan to the
// given order item. The is_used flip is a conditional update: two concurrent
// claims can never consume the same row — the loser's UPDATE matches zero
// rows and it moves on to the next candidate.
func (r *StockRepository) ClaimUnused(planID, orderItemID uint) (*models.StockItem, error) {
	for {
		var candidate models.StockItem
		err := r.db.Where("plan_id = ? AND is_used = ?", planID, false).
			Order("id").First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoStockAvailable
		}
		if err != nil {
			return nil, err
		}
		now := time.Now()
		res := r.db.Model(&models.StockItem{}).
			Where("id = ? AND is_used = ?", candidate.ID, false).
			Updates(map[string]interface{}{
				"is_used":       true,
				"order_item_id": orderItemID,
				"used_at":       now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			candidate.IsUsed = true
			candidate.OrderItemID = &orderItemID
			candidate.UsedAt = &now
			return &candidate, nil
		}
		// lost the race on this row, try the next unused one
	}
}

// ListByOrderItem returns the stock items delivered for an order item.
func (r *StockRepository) ListByOrderItem(orderItemID uint) ([]models.StockItem, error) {
	var items []models.StockItem
	err := r.db.Where("order_item_id = ?", orderItemID).Order("id").Find(&items).Error
	return items, err
}
