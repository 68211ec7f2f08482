package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Outcome is the internal vocabulary every provider status maps onto.
// DEFER means the webhook is acknowledged but must not mutate state.
type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeCancelled Outcome = "CANCELLED"
	OutcomeDefer     Outcome = "DEFER"
)

// Event is a provider webhook normalized into provider-independent terms.
type Event struct {
	CorrelationID     string // the id the provider echoes back; minted as the Payment id at session creation
	ProviderPaymentID string
	RawStatus         string
	Outcome           Outcome
	Amount            decimal.Decimal
	Currency          string
}

type CheckoutRequest struct {
	PaymentID     string // internal payment id, sent to the provider as the correlation id
	OrderNumber   string
	Amount        decimal.Decimal
	Currency      string
	ReturnURL     string
	CallbackURL   string
	CustomerEmail string
}

type CheckoutSession struct {
	ProviderPaymentID string
	CheckoutURL       string
}

// Provider isolates one payment processor's wire format and verification.
//
// VerifyWebhook fails closed: any parse error or signature mismatch returns
// false. Normalize maps the provider's status vocabulary onto Outcome;
// unknown statuses map to DEFER, never to FAILED.
type Provider interface {
	Name() string
	CreatePayment(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	VerifyWebhook(ctx context.Context, raw []byte) bool
	Normalize(ctx context.Context, raw []byte) (*Event, error)
}

// mapStatus resolves a raw provider status against a vocabulary table.
// Unrecognized statuses defer rather than fail, so a vocabulary gap can
// never wrongly fail a real purchase.
func mapStatus(vocab map[string]Outcome, raw string) Outcome {
	if out, ok := vocab[raw]; ok {
		return out
	}
	return OutcomeDefer
}
