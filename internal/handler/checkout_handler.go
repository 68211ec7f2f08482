package handler

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"abonix/config"
	"abonix/internal/domain"
	"abonix/internal/middleware"
	"abonix/internal/models"
	"abonix/internal/repository"
	"abonix/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type CheckoutHandler struct {
	cfg         *config.Config
	planRepo    *repository.PlanRepository
	orderRepo   *repository.OrderRepository
	paymentRepo *repository.PaymentRepository
	providers   map[string]payment.Provider
}

func NewCheckoutHandler(
	cfg *config.Config,
	planRepo *repository.PlanRepository,
	orderRepo *repository.OrderRepository,
	paymentRepo *repository.PaymentRepository,
	providers map[string]payment.Provider,
) *CheckoutHandler {
	return &CheckoutHandler{
		cfg:         cfg,
		planRepo:    planRepo,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		providers:   providers,
	}
}

type checkoutItemReq struct {
	PlanID   uint `json:"plan_id" binding:"required"`
	Quantity int  `json:"quantity" binding:"required,min=1"`
}

type checkoutReq struct {
	Items         []checkoutItemReq `json:"items" binding:"required,min=1,dive"`
	PaymentMethod string            `json:"payment_method" binding:"required"`
	ReturnURL     string            `json:"return_url"`
}

// newOrderNumber mints a human-readable unique order reference.
func newOrderNumber() string {
	return "ORD-" + strings.ToUpper(uuid.NewString()[:8])
}

// Checkout creates a PENDING order with its payment attempt, opens a payment
// session at the selected provider using the minted payment id as the
// correlation id, and returns the checkout URL.
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	userID := middleware.GetUserID(c)
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	provider, ok := h.providers[req.PaymentMethod]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported payment method"})
		return
	}

	order := &models.Order{
		OrderNumber:   newOrderNumber(),
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		TotalAmount:   decimal.Zero,
		PaymentMethod: provider.Name(),
	}
	for _, it := range req.Items {
		plan, err := h.planRepo.GetByID(it.PlanID)
		if err != nil || !plan.IsActive {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("plan %d not available", it.PlanID)})
			return
		}
		if order.Currency == "" {
			order.Currency = plan.Currency
		} else if order.Currency != plan.Currency {
			c.JSON(http.StatusBadRequest, gin.H{"error": "all items must share one currency"})
			return
		}
		order.Items = append(order.Items, models.OrderItem{
			PlanID:    plan.ID,
			Quantity:  it.Quantity,
			UnitPrice: plan.Price,
		})
		order.TotalAmount = order.TotalAmount.Add(plan.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	p := &models.Payment{
		Method:   provider.Name(),
		Amount:   order.TotalAmount,
		Currency: order.Currency,
		Status:   domain.PaymentStatusPending,
	}
	if err := h.orderRepo.CreateWithPayment(order, p); err != nil {
		log.Printf("[Checkout] create order: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}

	var email string
	if v, exists := c.Get("email"); exists {
		email, _ = v.(string)
	}
	callbackURL := h.cfg.Server.BaseURL + "/api/v1/webhooks/" + provider.Name()
	session, err := provider.CreatePayment(c.Request.Context(), payment.CheckoutRequest{
		PaymentID:     strconv.FormatUint(uint64(p.ID), 10),
		OrderNumber:   order.OrderNumber,
		Amount:        p.Amount,
		Currency:      p.Currency,
		ReturnURL:     req.ReturnURL,
		CallbackURL:   callbackURL,
		CustomerEmail: email,
	})
	if err != nil {
		log.Printf("[Checkout] %s session for payment %d: %v", provider.Name(), p.ID, err)
		reason := "payment session creation failed"
		p.Status = domain.PaymentStatusFailed
		p.FailureReason = &reason
		_ = h.paymentRepo.Update(p)
		c.JSON(http.StatusBadGateway, gin.H{"error": reason})
		return
	}

	p.ProviderPaymentID = session.ProviderPaymentID
	providerData, _ := json.Marshal(map[string]string{
		"checkout_url": session.CheckoutURL,
		"callback_url": callbackURL,
		"return_url":   req.ReturnURL,
	})
	p.ProviderData = datatypes.JSON(providerData)
	if err := h.paymentRepo.Update(p); err != nil {
		log.Printf("[Checkout] persist session for payment %d: %v", p.ID, err)
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":        order,
		"payment_id":   p.ID,
		"checkout_url": session.CheckoutURL,
	})
}
