package service

import (
	"fmt"
	"log"

	"abonix/internal/domain"
	"abonix/internal/models"
	"abonix/internal/repository"
)

// DeliveryService allocates pre-provisioned stock items to order items.
// ProcessDelivery is safe to call more than once per item: already-allocated
// units are counted before claiming new ones, so duplicate webhook deliveries
// and manual redelivery never over-allocate.
type DeliveryService struct {
	stockRepo *repository.StockRepository
}

func NewDeliveryService(stockRepo *repository.StockRepository) *DeliveryService {
	return &DeliveryService{stockRepo: stockRepo}
}

// ProcessDelivery fulfills one order item. MANUAL plans are skipped — support
// staff fulfill those out-of-band. Returns every stock item now allocated to
// the order item, including ones claimed by earlier attempts.
func (s *DeliveryService) ProcessDelivery(orderID uint, item *models.OrderItem) ([]models.StockItem, error) {
	if item.Plan.DeliveryType != domain.DeliveryTypeAutomatic {
		log.Printf("[Delivery] order %d item %d plan %d is %s delivery, skipping", orderID, item.ID, item.PlanID, item.Plan.DeliveryType)
		return nil, nil
	}
	allocated, err := s.stockRepo.CountAllocated(item.ID)
	if err != nil {
		return nil, fmt.Errorf("count allocated: %w", err)
	}
	for allocated < int64(item.Quantity) {
		claimed, err := s.stockRepo.ClaimUnused(item.PlanID, item.ID)
		if err != nil {
			delivered, _ := s.stockRepo.ListByOrderItem(item.ID)
			return delivered, fmt.Errorf("claim stock for plan %d: %w", item.PlanID, err)
		}
		log.Printf("[Delivery] order %d item %d claimed stock item %d", orderID, item.ID, claimed.ID)
		allocated++
	}
	return s.stockRepo.ListByOrderItem(item.ID)
}
