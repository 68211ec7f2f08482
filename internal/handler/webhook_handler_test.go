package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"abonix/config"
	"abonix/internal/database"
	"abonix/internal/domain"
	"abonix/internal/models"
	"abonix/internal/repository"
	"abonix/internal/service"
	"abonix/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const stubSecret = "webhook-test-secret"

type webhookFixture struct {
	db      *gorm.DB
	engine  *gin.Engine
	payment models.Payment
	order   models.Order
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	user := models.User{Email: "hook@example.com", PasswordHash: "x", Role: domain.RoleUser}
	require.NoError(t, db.Create(&user).Error)
	plan := models.Plan{
		Name: "Spotify Premium 1 Month", Slug: "spotify-premium-1m",
		Price: decimal.RequireFromString("29.90"), Currency: "TRY",
		DeliveryType: domain.DeliveryTypeAutomatic, IsActive: true,
	}
	require.NoError(t, db.Create(&plan).Error)
	require.NoError(t, db.Create(&models.StockItem{PlanID: plan.ID, Content: "acct:pass"}).Error)

	order := models.Order{
		OrderNumber: "ORD-HOOK0001", UserID: user.ID,
		Status: domain.OrderStatusPending, TotalAmount: plan.Price, Currency: "TRY",
		PaymentMethod: "stub",
		Items:         []models.OrderItem{{PlanID: plan.ID, Quantity: 1, UnitPrice: plan.Price}},
	}
	require.NoError(t, db.Create(&order).Error)
	pay := models.Payment{
		OrderID: order.ID, Method: "stub",
		Amount: plan.Price, Currency: "TRY", Status: domain.PaymentStatusPending,
	}
	require.NoError(t, db.Create(&pay).Error)

	stockRepo := repository.NewStockRepository(db)
	reconciler := service.NewReconciler(
		db,
		repository.NewUserRepository(db),
		stockRepo,
		repository.NewAuditLogRepository(db),
		service.NewDeliveryService(stockRepo),
		service.NewEmailService(&config.SMTPConfig{}),
	)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewWebhookHandler(reconciler, 15*time.Second)
	engine.POST("/api/v1/webhooks/stub", h.Handle(&payment.StubProvider{Secret: stubSecret}))

	return &webhookFixture{db: db, engine: engine, payment: pay, order: order}
}

func (f *webhookFixture) post(t *testing.T, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stub", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	f.engine.ServeHTTP(w, req)
	return w
}

func TestWebhookCompletedReturns200(t *testing.T) {
	f := newWebhookFixture(t)
	w := f.post(t, map[string]string{
		"secret":         stubSecret,
		"correlation_id": strconv.FormatUint(uint64(f.payment.ID), 10),
		"status":         "completed",
		"amount":         f.payment.Amount.String(),
		"currency":       "TRY",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["received"])
	assert.Equal(t, domain.PaymentStatusCompleted, resp["status"])

	var p models.Payment
	require.NoError(t, f.db.First(&p, f.payment.ID).Error)
	assert.Equal(t, domain.PaymentStatusCompleted, p.Status)
}

func TestWebhookBadSignatureReturns401(t *testing.T) {
	f := newWebhookFixture(t)
	w := f.post(t, map[string]string{
		"secret":         "wrong",
		"correlation_id": strconv.FormatUint(uint64(f.payment.ID), 10),
		"status":         "completed",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var p models.Payment
	require.NoError(t, f.db.First(&p, f.payment.ID).Error)
	assert.Equal(t, domain.PaymentStatusPending, p.Status)
}

func TestWebhookUnknownPaymentReturns404(t *testing.T) {
	f := newWebhookFixture(t)
	w := f.post(t, map[string]string{
		"secret":         stubSecret,
		"correlation_id": "424242",
		"status":         "completed",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookUnknownStatusReturns200WithoutMutation(t *testing.T) {
	f := newWebhookFixture(t)
	w := f.post(t, map[string]string{
		"secret":         stubSecret,
		"correlation_id": strconv.FormatUint(uint64(f.payment.ID), 10),
		"status":         "3ds_waiting",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var p models.Payment
	require.NoError(t, f.db.First(&p, f.payment.ID).Error)
	assert.Equal(t, domain.PaymentStatusPending, p.Status)
}

func TestWebhookDuplicateReturns200(t *testing.T) {
	f := newWebhookFixture(t)
	body := map[string]string{
		"secret":         stubSecret,
		"correlation_id": strconv.FormatUint(uint64(f.payment.ID), 10),
		"status":         "completed",
		"amount":         f.payment.Amount.String(),
		"currency":       "TRY",
	}
	assert.Equal(t, http.StatusOK, f.post(t, body).Code)
	assert.Equal(t, http.StatusOK, f.post(t, body).Code)

	var used int64
	require.NoError(t, f.db.Model(&models.StockItem{}).Where("is_used = ?", true).Count(&used).Error)
	assert.EqualValues(t, 1, used)
}
