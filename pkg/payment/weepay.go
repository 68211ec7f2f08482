package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// WeepayProvider handles card payments via the Weepay dealer API. Callbacks
// carry a hash = base64(sha256(bayiId + secretKey + orderId)).
type WeepayProvider struct {
	BaseURL   string
	BayiID    string
	SecretKey string
	client    *http.Client
}

func NewWeepayProvider(baseURL, bayiID, secretKey string) *WeepayProvider {
	if baseURL == "" {
		baseURL = "https://api.weepay.co"
	}
	return &WeepayProvider{
		BaseURL:   baseURL,
		BayiID:    bayiID,
		SecretKey: secretKey,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *WeepayProvider) Name() string { return "weepay" }

var weepayStatuses = map[string]Outcome{
	"SUCCESS": OutcomeCompleted,
	"FAILURE": OutcomeFailed,
	"FAILED":  OutcomeFailed,
	"CANCEL":  OutcomeCancelled,
	// WAITING, PENDING and anything new defer
}

func (p *WeepayProvider) callbackHash(orderID string) string {
	sum := sha256.Sum256([]byte(p.BayiID + p.SecretKey + orderID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

type weepayCreateReq struct {
	BayiID      string `json:"bayiId"`
	Hash        string `json:"hash"`
	OrderID     string `json:"orderId"`
	Amount      string `json:"paymentAmount"`
	Currency    string `json:"currency"`
	ReturnURL   string `json:"returnUrl"`
	CallbackURL string `json:"callbackUrl"`
	Email       string `json:"customerEmail"`
}

type weepayCreateResp struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	PaymentID  string `json:"paymentId"`
	PaymentURL string `json:"paymentUrl"`
}

func (p *WeepayProvider) CreatePayment(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	body, _ := json.Marshal(weepayCreateReq{
		BayiID:      p.BayiID,
		Hash:        p.callbackHash(req.PaymentID),
		OrderID:     req.PaymentID,
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		ReturnURL:   req.ReturnURL,
		CallbackURL: req.CallbackURL,
		Email:       req.CustomerEmail,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/Payment/PaymentCreate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weepay create: %d %s", resp.StatusCode, string(respBody))
	}
	var out weepayCreateResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if out.Status != "SUCCESS" || out.PaymentURL == "" {
		return nil, fmt.Errorf("weepay create: %s %s", out.Status, out.Message)
	}
	return &CheckoutSession{ProviderPaymentID: out.PaymentID, CheckoutURL: out.PaymentURL}, nil
}

type weepayCallback struct {
	BayiID    string `json:"bayiId"`
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
	Amount    string `json:"paymentAmount"`
	Currency  string `json:"currency"`
	Hash      string `json:"hash"`
}

// VerifyWebhook recomputes the callback hash from the dealer id, the shared
// secret and the order id, and compares it in constant time.
func (p *WeepayProvider) VerifyWebhook(ctx context.Context, raw []byte) bool {
	var payload weepayCallback
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false
	}
	if payload.Hash == "" || payload.OrderID == "" {
		return false
	}
	expected := p.callbackHash(payload.OrderID)
	return hmac.Equal([]byte(payload.Hash), []byte(expected))
}

func (p *WeepayProvider) Normalize(ctx context.Context, raw []byte) (*Event, error) {
	var payload weepayCallback
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("weepay callback: %w", err)
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		amount = decimal.Zero
	}
	return &Event{
		CorrelationID:     payload.OrderID,
		ProviderPaymentID: payload.PaymentID,
		RawStatus:         payload.Status,
		Outcome:           mapStatus(weepayStatuses, payload.Status),
		Amount:            amount,
		Currency:          payload.Currency,
	}, nil
}
