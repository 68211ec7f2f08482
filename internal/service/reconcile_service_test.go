package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"abonix/internal/database"
	"abonix/internal/domain"
	"abonix/internal/models"
	"abonix/internal/repository"
	"abonix/pkg/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const stubSecret = "stub-secret"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

type fakeNotifier struct {
	mu            sync.Mutex
	confirmations int
	cancellations int
	lastDelivered []DeliveredItem
	lastReason    string
}

func (f *fakeNotifier) SendOrderConfirmation(to string, order *models.Order, delivered []DeliveredItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmations++
	f.lastDelivered = delivered
	return nil
}

func (f *fakeNotifier) SendOrderCancelled(to string, order *models.Order, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancellations++
	f.lastReason = reason
	return nil
}

type fixture struct {
	db        *gorm.DB
	rec       *Reconciler
	notifier  *fakeNotifier
	stockRepo *repository.StockRepository
	auditRepo *repository.AuditLogRepository
	provider  *payment.StubProvider
	user      models.User
	plan      models.Plan
	order     models.Order
	payment   models.Payment
}

// newFixture seeds one user, one AUTOMATIC plan with stockCount unused items,
// and a PENDING order/payment pair for quantity units of the plan.
func newFixture(t *testing.T, stockCount, quantity int) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		db:        db,
		notifier:  &fakeNotifier{},
		stockRepo: repository.NewStockRepository(db),
		auditRepo: repository.NewAuditLogRepository(db),
		provider:  &payment.StubProvider{Secret: stubSecret},
	}
	f.user = models.User{Email: "customer@example.com", PasswordHash: "x", Role: domain.RoleUser}
	require.NoError(t, db.Create(&f.user).Error)

	f.plan = models.Plan{
		Name:         "Netflix Premium 1 Month",
		Slug:         "netflix-premium-1m",
		Price:        decimal.RequireFromString("49.90"),
		Currency:     "TRY",
		DeliveryType: domain.DeliveryTypeAutomatic,
		IsActive:     true,
	}
	require.NoError(t, db.Create(&f.plan).Error)

	for i := 0; i < stockCount; i++ {
		require.NoError(t, db.Create(&models.StockItem{
			PlanID:  f.plan.ID,
			Content: fmt.Sprintf("user%d@netflix.example:pass%d", i, i),
		}).Error)
	}

	total := f.plan.Price.Mul(decimal.NewFromInt(int64(quantity)))
	f.order = models.Order{
		OrderNumber:   "ORD-TEST0001",
		UserID:        f.user.ID,
		Status:        domain.OrderStatusPending,
		TotalAmount:   total,
		Currency:      "TRY",
		PaymentMethod: "stub",
		Items: []models.OrderItem{{
			PlanID:    f.plan.ID,
			Quantity:  quantity,
			UnitPrice: f.plan.Price,
		}},
	}
	require.NoError(t, db.Create(&f.order).Error)

	f.payment = models.Payment{
		OrderID:  f.order.ID,
		Method:   "stub",
		Amount:   total,
		Currency: "TRY",
		Status:   domain.PaymentStatusPending,
	}
	require.NoError(t, db.Create(&f.payment).Error)

	f.rec = NewReconciler(
		db,
		repository.NewUserRepository(db),
		f.stockRepo,
		f.auditRepo,
		NewDeliveryService(f.stockRepo),
		f.notifier,
	)
	return f
}

func (f *fixture) webhookBody(t *testing.T, status string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]string{
		"secret":              stubSecret,
		"correlation_id":      strconv.FormatUint(uint64(f.payment.ID), 10),
		"provider_payment_id": "prov-1",
		"status":              status,
		"amount":              f.payment.Amount.String(),
		"currency":            "TRY",
	})
	require.NoError(t, err)
	return raw
}

func (f *fixture) reloadPayment(t *testing.T) *models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, f.db.First(&p, f.payment.ID).Error)
	return &p
}

func (f *fixture) reloadOrder(t *testing.T) *models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, f.db.First(&o, f.order.ID).Error)
	return &o
}

func (f *fixture) usedStockCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.StockItem{}).
		Where("plan_id = ? AND is_used = ?", f.plan.ID, true).Count(&count).Error)
	return count
}

func TestReconcileHappyPath(t *testing.T) {
	f := newFixture(t, 3, 1)
	raw := f.webhookBody(t, "completed")

	res, err := f.rec.Reconcile(context.Background(), f.provider, raw, "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, f.payment.ID, res.PaymentID)
	assert.Equal(t, f.order.ID, res.OrderID)
	assert.Equal(t, domain.PaymentStatusCompleted, res.Status)

	p := f.reloadPayment(t)
	assert.Equal(t, domain.PaymentStatusCompleted, p.Status)
	assert.NotNil(t, p.CompletedAt)
	assert.Equal(t, "prov-1", p.ProviderPaymentID)
	assert.JSONEq(t, string(raw), string(p.WebhookData))
	assert.Nil(t, p.FailureReason)

	o := f.reloadOrder(t)
	assert.Equal(t, domain.OrderStatusCompleted, o.Status)
	assert.NotNil(t, o.CompletedAt)

	assert.EqualValues(t, 1, f.usedStockCount(t))
	assert.Equal(t, 1, f.notifier.confirmations)
	require.Len(t, f.notifier.lastDelivered, 1)
	assert.Equal(t, f.plan.Name, f.notifier.lastDelivered[0].PlanName)
	assert.Len(t, f.notifier.lastDelivered[0].Contents, 1)
}

func TestReconcileStockShortfall(t *testing.T) {
	f := newFixture(t, 1, 2)
	res, err := f.rec.Reconcile(context.Background(), f.provider, f.webhookBody(t, "completed"), "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.PaymentStatusCompleted, res.Status)

	p := f.reloadPayment(t)
	assert.Equal(t, domain.PaymentStatusCompleted, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Contains(t, *p.FailureReason, "insufficient stock")

	o := f.reloadOrder(t)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assert.Nil(t, o.CompletedAt)

	// payment captured, nothing consumed, refund notice sent
	assert.EqualValues(t, 0, f.usedStockCount(t))
	assert.Equal(t, 0, f.notifier.confirmations)
	assert.Equal(t, 1, f.notifier.cancellations)
}

func TestReconcileDuplicateDelivery(t *testing.T) {
	f := newFixture(t, 3, 1)
	raw := f.webhookBody(t, "completed")

	first, err := f.rec.Reconcile(context.Background(), f.provider, raw, "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.rec.Reconcile(context.Background(), f.provider, raw, "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, domain.PaymentStatusCompleted, second.Status)

	// the duplicate re-runs neither delivery nor email
	assert.EqualValues(t, 1, f.usedStockCount(t))
	assert.Equal(t, 1, f.notifier.confirmations)
}

func TestReconcileDeferredStatus(t *testing.T) {
	f := newFixture(t, 3, 1)
	res, err := f.rec.Reconcile(context.Background(), f.provider, f.webhookBody(t, "processing"), "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Deferred)

	assert.Equal(t, domain.PaymentStatusPending, f.reloadPayment(t).Status)
	assert.Equal(t, domain.OrderStatusPending, f.reloadOrder(t).Status)
	assert.EqualValues(t, 0, f.usedStockCount(t))
	assert.Equal(t, 0, f.notifier.confirmations)
}

func TestReconcileInvalidSignature(t *testing.T) {
	f := newFixture(t, 3, 1)
	raw, _ := json.Marshal(map[string]string{
		"secret":         "wrong-secret",
		"correlation_id": strconv.FormatUint(uint64(f.payment.ID), 10),
		"status":         "completed",
	})

	_, err := f.rec.Reconcile(context.Background(), f.provider, raw, "203.0.113.9")
	require.ErrorIs(t, err, ErrInvalidSignature)

	// no state change of any kind
	assert.Equal(t, domain.PaymentStatusPending, f.reloadPayment(t).Status)
	assert.Equal(t, domain.OrderStatusPending, f.reloadOrder(t).Status)
	assert.EqualValues(t, 0, f.usedStockCount(t))

	// but the rejection is audited
	logs, total, err := f.auditRepo.List("webhook_signature_rejected", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "203.0.113.9", logs[0].IP)
}

func TestReconcilePaymentNotFound(t *testing.T) {
	f := newFixture(t, 3, 1)
	raw, _ := json.Marshal(map[string]string{
		"secret":         stubSecret,
		"correlation_id": "999999",
		"status":         "completed",
	})
	_, err := f.rec.Reconcile(context.Background(), f.provider, raw, "203.0.113.9")
	require.ErrorIs(t, err, ErrPaymentNotFound)
	assert.Equal(t, domain.PaymentStatusPending, f.reloadPayment(t).Status)
}

func TestReconcileFailedOutcome(t *testing.T) {
	f := newFixture(t, 3, 1)
	res, err := f.rec.Reconcile(context.Background(), f.provider, f.webhookBody(t, "failed"), "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, res.Status)

	p := f.reloadPayment(t)
	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
	assert.Nil(t, p.CompletedAt)
	require.NotNil(t, p.FailureReason)
	assert.Contains(t, *p.FailureReason, "failed")

	assert.Equal(t, domain.OrderStatusFailed, f.reloadOrder(t).Status)
	assert.EqualValues(t, 0, f.usedStockCount(t))
	assert.Equal(t, 0, f.notifier.confirmations)
}

func TestReconcileCancelledOutcome(t *testing.T) {
	f := newFixture(t, 3, 1)
	_, err := f.rec.Reconcile(context.Background(), f.provider, f.webhookBody(t, "cancelled"), "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, f.reloadPayment(t).Status)
	assert.Equal(t, domain.OrderStatusCancelled, f.reloadOrder(t).Status)
}

func TestReconcileTerminalStatusNeverDowngraded(t *testing.T) {
	f := newFixture(t, 3, 1)
	_, err := f.rec.Reconcile(context.Background(), f.provider, f.webhookBody(t, "completed"), "203.0.113.9")
	require.NoError(t, err)

	// a late FAILED delivery for the same payment must not undo COMPLETED
	res, err := f.rec.Reconcile(context.Background(), f.provider, f.webhookBody(t, "failed"), "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, domain.PaymentStatusCompleted, f.reloadPayment(t).Status)
	assert.Equal(t, domain.OrderStatusCompleted, f.reloadOrder(t).Status)
}

func TestReconcileConcurrentDuplicates(t *testing.T) {
	f := newFixture(t, 3, 1)
	raw := f.webhookBody(t, "completed")

	const n = 6
	var wg sync.WaitGroup
	results := make([]*ReconcileResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.rec.Reconcile(context.Background(), f.provider, raw, "203.0.113.9")
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		if errs[i] == nil && results[i] != nil && !results[i].Duplicate {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one delivery wins the terminal transition")
	assert.Equal(t, domain.PaymentStatusCompleted, f.reloadPayment(t).Status)
	assert.Equal(t, domain.OrderStatusCompleted, f.reloadOrder(t).Status)
	assert.EqualValues(t, 1, f.usedStockCount(t), "no over-allocation under concurrency")
	assert.Equal(t, 1, f.notifier.confirmations)
}

// formProvider mimics processors whose callbacks arrive form-encoded rather
// than as JSON, the way the iyzico checkout form posts its token.
type formProvider struct{}

func (formProvider) Name() string { return "formpay" }

func (formProvider) CreatePayment(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	return &payment.CheckoutSession{ProviderPaymentID: "form-1"}, nil
}

func (formProvider) VerifyWebhook(ctx context.Context, raw []byte) bool {
	values, err := url.ParseQuery(string(raw))
	return err == nil && values.Get("token") != ""
}

func (formProvider) Normalize(ctx context.Context, raw []byte) (*payment.Event, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, err
	}
	outcome := payment.OutcomeDefer
	if values.Get("status") == "SUCCESS" {
		outcome = payment.OutcomeCompleted
	}
	return &payment.Event{
		CorrelationID:     values.Get("conversationId"),
		ProviderPaymentID: values.Get("paymentId"),
		RawStatus:         values.Get("status"),
		Outcome:           outcome,
	}, nil
}

func TestReconcileFormEncodedWebhook(t *testing.T) {
	f := newFixture(t, 3, 1)
	raw := []byte(fmt.Sprintf("token=abc123&conversationId=%d&paymentId=form-1&status=SUCCESS", f.payment.ID))

	res, err := f.rec.Reconcile(context.Background(), formProvider{}, raw, "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.PaymentStatusCompleted, res.Status)

	// the raw body is not JSON and must still persist byte-for-byte
	p := f.reloadPayment(t)
	assert.Equal(t, raw, p.WebhookData)
	assert.False(t, json.Valid(p.WebhookData))
	assert.Equal(t, domain.PaymentStatusCompleted, p.Status)
	assert.Equal(t, domain.OrderStatusCompleted, f.reloadOrder(t).Status)
}

func TestReconcileOrderTerminalBeforePayment(t *testing.T) {
	f := newFixture(t, 3, 1)
	// admin cancelled the order while the webhook was in flight
	require.NoError(t, f.db.Model(&models.Order{}).
		Where("id = ?", f.order.ID).
		Update("status", domain.OrderStatusCancelled).Error)

	res, err := f.rec.Reconcile(context.Background(), f.provider, f.webhookBody(t, "completed"), "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, res.Status)

	// money state is recorded; the order keeps its terminal status
	assert.Equal(t, domain.PaymentStatusCompleted, f.reloadPayment(t).Status)
	assert.Equal(t, domain.OrderStatusCancelled, f.reloadOrder(t).Status)
	assert.EqualValues(t, 0, f.usedStockCount(t))
	assert.Equal(t, 0, f.notifier.confirmations)
}

func TestReconcileManualPlanSkipsStock(t *testing.T) {
	f := newFixture(t, 0, 1)
	require.NoError(t, f.db.Model(&models.Plan{}).
		Where("id = ?", f.plan.ID).
		Update("delivery_type", domain.DeliveryTypeManual).Error)

	res, err := f.rec.Reconcile(context.Background(), f.provider, f.webhookBody(t, "completed"), "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, res.Status)

	// manual plans never hit the stock pool and cannot shortfall
	assert.Equal(t, domain.OrderStatusCompleted, f.reloadOrder(t).Status)
	assert.Equal(t, 1, f.notifier.confirmations)
	assert.Empty(t, f.notifier.lastDelivered)
}
