package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"abonix/internal/domain"
	"abonix/internal/models"
	"abonix/internal/repository"
	"abonix/pkg/payment"

	"gorm.io/gorm"
)

var (
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrPaymentNotFound  = errors.New("no payment matches webhook correlation keys")
)

// ReconcileResult is the normalized acknowledgment returned to the HTTP
// layer. Success covers committed terminal outcomes, idempotent duplicates
// and deferred statuses alike — the provider must receive 200 in all of
// those cases to stop retrying.
type ReconcileResult struct {
	Success   bool   `json:"success"`
	Deferred  bool   `json:"-"`
	Duplicate bool   `json:"-"`
	PaymentID uint   `json:"payment_id,omitempty"`
	OrderID   uint   `json:"order_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Reconciler maps verified provider webhooks onto the internal payment/order
// state machine. It owns the only code path that moves a Payment or Order to
// a terminal status.
type Reconciler struct {
	db        *gorm.DB
	userRepo  *repository.UserRepository
	stockRepo *repository.StockRepository
	auditRepo *repository.AuditLogRepository
	delivery  *DeliveryService
	notifier  Notifier
}

func NewReconciler(
	db *gorm.DB,
	userRepo *repository.UserRepository,
	stockRepo *repository.StockRepository,
	auditRepo *repository.AuditLogRepository,
	delivery *DeliveryService,
	notifier Notifier,
) *Reconciler {
	return &Reconciler{
		db:        db,
		userRepo:  userRepo,
		stockRepo: stockRepo,
		auditRepo: auditRepo,
		delivery:  delivery,
		notifier:  notifier,
	}
}

// Reconcile processes one webhook delivery end to end: verify, normalize,
// resolve the target payment, commit the state transition atomically, then
// run delivery and email best-effort. Returns ErrInvalidSignature or
// ErrPaymentNotFound without mutating anything; any other error means the
// transaction aborted and the provider should retry.
func (r *Reconciler) Reconcile(ctx context.Context, provider payment.Provider, raw []byte, clientIP string) (*ReconcileResult, error) {
	if !provider.VerifyWebhook(ctx, raw) {
		log.Printf("[Reconcile] %s: signature rejected from %s", provider.Name(), clientIP)
		_ = r.auditRepo.Create(&models.AuditLog{
			Action:   "webhook_signature_rejected",
			Resource: "webhook",
			IP:       clientIP,
			Detail:   fmt.Sprintf("provider=%s", provider.Name()),
		})
		return nil, ErrInvalidSignature
	}

	ev, err := provider.Normalize(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("normalize %s webhook: %w", provider.Name(), err)
	}
	log.Printf("[Reconcile] %s: correlation_id=%s provider_payment_id=%s status=%s outcome=%s amount=%s %s",
		provider.Name(), ev.CorrelationID, ev.ProviderPaymentID, ev.RawStatus, ev.Outcome, ev.Amount, ev.Currency)

	if ev.Outcome == payment.OutcomeDefer {
		log.Printf("[Reconcile] %s: unhandled status %q for correlation_id=%s — acknowledging without mutation",
			provider.Name(), ev.RawStatus, ev.CorrelationID)
		return &ReconcileResult{Success: true, Deferred: true}, nil
	}

	p, strategy, err := resolvePayment(r.db, ev)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[Reconcile] %s: no payment found (correlation_id=%s provider_payment_id=%s)",
				provider.Name(), ev.CorrelationID, ev.ProviderPaymentID)
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("resolve payment: %w", err)
	}
	log.Printf("[Reconcile] %s: payment %d resolved via %s", provider.Name(), p.ID, strategy)

	// Cheap pre-check; the authoritative guard re-reads under lock inside
	// the transaction.
	if domain.PaymentTerminal(p.Status) {
		log.Printf("[Reconcile] %s: payment %d already %s — duplicate delivery acknowledged", provider.Name(), p.ID, p.Status)
		return &ReconcileResult{Success: true, Duplicate: true, PaymentID: p.ID, OrderID: p.OrderID, Status: p.Status}, nil
	}

	if !ev.Amount.IsZero() && !ev.Amount.Equal(p.Amount) {
		log.Printf("[Reconcile] %s: payment %d amount mismatch: webhook=%s recorded=%s",
			provider.Name(), p.ID, ev.Amount, p.Amount)
	}

	var (
		order       models.Order
		items       []models.OrderItem
		duplicate   bool
		finalStatus string
	)
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Payment
		if err := tx.First(&current, p.ID).Error; err != nil {
			return err
		}
		if domain.PaymentTerminal(current.Status) {
			duplicate = true
			finalStatus = current.Status
			return nil
		}
		if err := tx.First(&order, current.OrderID).Error; err != nil {
			return err
		}
		if err := tx.Preload("Plan").Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
			return err
		}

		paymentStatus := string(ev.Outcome)
		orderStatus := string(ev.Outcome)
		var failureReason string

		if ev.Outcome == payment.OutcomeCompleted {
			var shortfalls []string
			for i := range items {
				item := &items[i]
				if item.Plan.DeliveryType != domain.DeliveryTypeAutomatic {
					continue
				}
				available, err := r.stockRepo.CountAvailableTx(tx, item.PlanID)
				if err != nil {
					return err
				}
				if available < int64(item.Quantity) {
					shortfalls = append(shortfalls, fmt.Sprintf("plan %q: need %d, available %d", item.Plan.Name, item.Quantity, available))
				}
			}
			if len(shortfalls) > 0 {
				// Payment was captured but we cannot fulfill: record the
				// money, cancel the order and leave the refund to support.
				orderStatus = domain.OrderStatusCancelled
				failureReason = "insufficient stock: " + strings.Join(shortfalls, "; ")
			}
		} else {
			failureReason = fmt.Sprintf("provider %s reported %s", provider.Name(), ev.RawStatus)
		}

		now := time.Now()
		paymentUpdates := map[string]interface{}{
			"status":       paymentStatus,
			"webhook_data": raw,
		}
		if ev.ProviderPaymentID != "" {
			paymentUpdates["provider_payment_id"] = ev.ProviderPaymentID
		}
		if paymentStatus == domain.PaymentStatusCompleted {
			paymentUpdates["completed_at"] = now
		}
		if failureReason != "" {
			paymentUpdates["failure_reason"] = failureReason
		}
		// Conditional transition: only the writer that still sees PENDING
		// wins. A concurrent reconciliation of the same payment matches
		// zero rows here and takes the idempotent path.
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", current.ID, domain.PaymentStatusPending).
			Updates(paymentUpdates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			duplicate = true
			var again models.Payment
			if err := tx.First(&again, current.ID).Error; err != nil {
				return err
			}
			finalStatus = again.Status
			return nil
		}

		if domain.OrderTerminal(order.Status) {
			// e.g. admin-cancelled while the webhook was in flight: the money
			// state is recorded truthfully, the order keeps its terminal status.
			log.Printf("[Reconcile] order %d already terminal (%s), payment %d updated to %s without order transition",
				order.ID, order.Status, current.ID, paymentStatus)
		} else {
			orderUpdates := map[string]interface{}{"status": orderStatus}
			if orderStatus == domain.OrderStatusCompleted {
				orderUpdates["completed_at"] = now
			}
			res = tx.Model(&models.Order{}).
				Where("id = ? AND status IN ?", order.ID, []string{domain.OrderStatusPending, domain.OrderStatusProcessing}).
				Updates(orderUpdates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				order.Status = orderStatus
			}
		}
		finalStatus = paymentStatus
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile transaction: %w", err)
	}
	if duplicate {
		log.Printf("[Reconcile] %s: payment %d already %s — lost transition race, acknowledging", provider.Name(), p.ID, finalStatus)
		return &ReconcileResult{Success: true, Duplicate: true, PaymentID: p.ID, OrderID: p.OrderID, Status: finalStatus}, nil
	}

	r.runSideEffects(provider.Name(), &order, items, finalStatus, clientIP)

	return &ReconcileResult{Success: true, PaymentID: p.ID, OrderID: order.ID, Status: finalStatus}, nil
}

// runSideEffects performs delivery, email and audit logging after the
// transaction committed. Each action fails independently; none of them can
// undo the financial state or turn the webhook response into an error.
func (r *Reconciler) runSideEffects(providerName string, order *models.Order, items []models.OrderItem, paymentStatus, clientIP string) {
	var email string
	if u, err := r.userRepo.GetByID(order.UserID); err == nil {
		email = u.Email
	} else {
		log.Printf("[Reconcile] order %d: load user %d: %v", order.ID, order.UserID, err)
	}

	switch {
	case order.Status == domain.OrderStatusCompleted:
		var delivered []DeliveredItem
		for i := range items {
			item := &items[i]
			stock, err := r.delivery.ProcessDelivery(order.ID, item)
			if err != nil {
				log.Printf("[Reconcile] order %d item %d delivery failed: %v", order.ID, item.ID, err)
			}
			if len(stock) == 0 {
				continue
			}
			d := DeliveredItem{PlanName: item.Plan.Name}
			for _, s := range stock {
				d.Contents = append(d.Contents, s.Content)
			}
			delivered = append(delivered, d)
		}
		if email != "" {
			if err := r.notifier.SendOrderConfirmation(email, order, delivered); err != nil {
				log.Printf("[Reconcile] order %d confirmation email failed: %v", order.ID, err)
			}
		}
		_ = r.auditRepo.Create(&models.AuditLog{
			UserID:     &order.UserID,
			Action:     "payment_completed",
			Resource:   "order",
			ResourceID: order.OrderNumber,
			IP:         clientIP,
			Detail:     fmt.Sprintf("provider=%s", providerName),
		})

	case paymentStatus == domain.PaymentStatusCompleted && order.Status == domain.OrderStatusCancelled:
		// Stock shortfall: money captured, order cancelled, refund owed.
		if email != "" {
			if err := r.notifier.SendOrderCancelled(email, order, "one or more items went out of stock"); err != nil {
				log.Printf("[Reconcile] order %d cancellation email failed: %v", order.ID, err)
			}
		}
		_ = r.auditRepo.Create(&models.AuditLog{
			UserID:     &order.UserID,
			Action:     "order_cancelled_stock_shortfall",
			Resource:   "order",
			ResourceID: order.OrderNumber,
			IP:         clientIP,
			Detail:     fmt.Sprintf("provider=%s payment captured, refund required", providerName),
		})

	default:
		_ = r.auditRepo.Create(&models.AuditLog{
			UserID:     &order.UserID,
			Action:     "payment_" + strings.ToLower(paymentStatus),
			Resource:   "order",
			ResourceID: order.OrderNumber,
			IP:         clientIP,
			Detail:     fmt.Sprintf("provider=%s", providerName),
		})
	}
}
