package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IyzicoProvider handles card payments via the iyzico checkout form. The
// callback only carries a token; the adapter turns that callback style into
// a synchronous retrieve against the iyzico API, so callers never see the
// provider's token indirection.
type IyzicoProvider struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	client    *http.Client
}

func NewIyzicoProvider(baseURL, apiKey, secretKey string) *IyzicoProvider {
	if baseURL == "" {
		baseURL = "https://api.iyzipay.com"
	}
	return &IyzicoProvider{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		SecretKey: secretKey,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *IyzicoProvider) Name() string { return "iyzico" }

var iyzicoStatuses = map[string]Outcome{
	"SUCCESS": OutcomeCompleted,
	"FAILURE": OutcomeFailed,
	// INIT_THREEDS, CALLBACK_THREEDS, BKM_POS_SELECTED and anything new defer
}

// authorization builds the IYZWSv2 header: an HMAC-SHA256 over a random key,
// the request path and the body, keyed with the secret.
func (p *IyzicoProvider) authorization(path string, body []byte) string {
	randomKey := uuid.NewString()
	mac := hmac.New(sha256.New, []byte(p.SecretKey))
	mac.Write([]byte(randomKey + path))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))
	auth := fmt.Sprintf("apiKey:%s&randomKey:%s&signature:%s", p.APIKey, randomKey, signature)
	return "IYZWSv2 " + base64.StdEncoding.EncodeToString([]byte(auth))
}

func (p *IyzicoProvider) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", p.authorization(path, body))
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("iyzico %s: %d %s", path, resp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, out)
}

type iyzicoInitializeReq struct {
	Locale         string `json:"locale"`
	ConversationID string `json:"conversationId"`
	Price          string `json:"price"`
	PaidPrice      string `json:"paidPrice"`
	Currency       string `json:"currency"`
	BasketID       string `json:"basketId"`
	CallbackURL    string `json:"callbackUrl"`
	Email          string `json:"email"`
}

type iyzicoInitializeResp struct {
	Status         string `json:"status"`
	ErrorMessage   string `json:"errorMessage"`
	Token          string `json:"token"`
	PaymentPageURL string `json:"paymentPageUrl"`
}

func (p *IyzicoProvider) CreatePayment(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	var out iyzicoInitializeResp
	err := p.post(ctx, "/payment/iyzipos/checkoutform/initialize/auth/ecom", iyzicoInitializeReq{
		Locale:         "tr",
		ConversationID: req.PaymentID,
		Price:          req.Amount.StringFixed(2),
		PaidPrice:      req.Amount.StringFixed(2),
		Currency:       req.Currency,
		BasketID:       req.OrderNumber,
		CallbackURL:    req.CallbackURL,
		Email:          req.CustomerEmail,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Status != "success" || out.Token == "" {
		return nil, fmt.Errorf("iyzico initialize: %s", out.ErrorMessage)
	}
	return &CheckoutSession{ProviderPaymentID: out.Token, CheckoutURL: out.PaymentPageURL}, nil
}

// callbackToken extracts the token from the callback, which arrives either
// form-encoded or as JSON depending on provider configuration.
func callbackToken(raw []byte) string {
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Token != "" {
		return payload.Token
	}
	values, err := url.ParseQuery(strings.TrimSpace(string(raw)))
	if err != nil {
		return ""
	}
	return values.Get("token")
}

// VerifyWebhook fails closed on an unparseable callback or a missing token.
// The callback carries no signature; authenticity comes from Normalize
// resolving the token against the iyzico API server-side.
func (p *IyzicoProvider) VerifyWebhook(ctx context.Context, raw []byte) bool {
	return callbackToken(raw) != ""
}

type iyzicoRetrieveResp struct {
	Status         string          `json:"status"`
	ErrorMessage   string          `json:"errorMessage"`
	PaymentStatus  string          `json:"paymentStatus"`
	PaymentID      json.Number     `json:"paymentId"`
	ConversationID string          `json:"conversationId"`
	Price          decimal.Decimal `json:"price"`
	Currency       string          `json:"currency"`
}

func (p *IyzicoProvider) Normalize(ctx context.Context, raw []byte) (*Event, error) {
	token := callbackToken(raw)
	if token == "" {
		return nil, fmt.Errorf("iyzico callback: missing token")
	}
	var out iyzicoRetrieveResp
	err := p.post(ctx, "/payment/iyzipos/checkoutform/auth/ecom/detail", map[string]string{"token": token}, &out)
	if err != nil {
		return nil, fmt.Errorf("iyzico retrieve: %w", err)
	}
	if out.Status != "success" {
		return nil, fmt.Errorf("iyzico retrieve: %s", out.ErrorMessage)
	}
	return &Event{
		CorrelationID:     out.ConversationID,
		ProviderPaymentID: out.PaymentID.String(),
		RawStatus:         out.PaymentStatus,
		Outcome:           mapStatus(iyzicoStatuses, out.PaymentStatus),
		Amount:            out.Price,
		Currency:          out.Currency,
	}, nil
}
