package handler

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"abonix/internal/service"
	"abonix/pkg/payment"

	"github.com/gin-gonic/gin"
)

// WebhookHandler is the shared ingestion endpoint for every provider. Rate
// limiting runs as route middleware before this handler; signature checks
// and all state transitions live in the reconciler.
type WebhookHandler struct {
	reconciler *service.Reconciler
	timeout    time.Duration
}

func NewWebhookHandler(reconciler *service.Reconciler, timeout time.Duration) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, timeout: timeout}
}

// Handle returns the gin handler for one provider's callback route.
func (h *WebhookHandler) Handle(provider payment.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		// Bounded processing time: if the commit cannot finish, the provider
		// gets a retryable 500 instead of a false 200.
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
		defer cancel()

		res, err := h.reconciler.Reconcile(ctx, provider, body, c.ClientIP())
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidSignature):
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			case errors.Is(err, service.ErrPaymentNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
			default:
				log.Printf("[Webhook] %s: %v", provider.Name(), err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return
		}
		if res.PaymentID == 0 {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"received":   true,
			"success":    res.Success,
			"payment_id": res.PaymentID,
			"order_id":   res.OrderID,
			"status":     res.Status,
		})
	}
}
