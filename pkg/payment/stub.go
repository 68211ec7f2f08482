package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StubProvider is a no-op provider for development and tests. Webhooks are
// plain JSON events; verification checks a static secret field.
type StubProvider struct {
	Secret string
}

func (s *StubProvider) Name() string { return "stub" }

func (s *StubProvider) CreatePayment(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	return &CheckoutSession{
		ProviderPaymentID: fmt.Sprintf("stub_%d", time.Now().UnixNano()),
		CheckoutURL:       "https://example.com/checkout/" + req.PaymentID,
	}, nil
}

type stubWebhook struct {
	Secret            string `json:"secret"`
	CorrelationID     string `json:"correlation_id"`
	ProviderPaymentID string `json:"provider_payment_id"`
	Status            string `json:"status"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
}

func (s *StubProvider) VerifyWebhook(ctx context.Context, raw []byte) bool {
	var payload stubWebhook
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false
	}
	return payload.Secret == s.Secret
}

var stubStatuses = map[string]Outcome{
	"completed": OutcomeCompleted,
	"failed":    OutcomeFailed,
	"cancelled": OutcomeCancelled,
}

func (s *StubProvider) Normalize(ctx context.Context, raw []byte) (*Event, error) {
	var payload stubWebhook
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		amount = decimal.Zero
	}
	return &Event{
		CorrelationID:     payload.CorrelationID,
		ProviderPaymentID: payload.ProviderPaymentID,
		RawStatus:         payload.Status,
		Outcome:           mapStatus(stubStatuses, payload.Status),
		Amount:            amount,
		Currency:          payload.Currency,
	}, nil
}
