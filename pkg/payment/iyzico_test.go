package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIyzicoCallbackToken(t *testing.T) {
	assert.Equal(t, "tok-1", callbackToken([]byte(`{"token":"tok-1"}`)))
	assert.Equal(t, "tok-2", callbackToken([]byte("token=tok-2&locale=tr")))
	assert.Equal(t, "", callbackToken([]byte(`{"other":"x"}`)))
	assert.Equal(t, "", callbackToken([]byte("%%%")))
}

func TestIyzicoVerifyWebhookFailsClosed(t *testing.T) {
	p := NewIyzicoProvider("", "api-key", "secret-key")
	assert.False(t, p.VerifyWebhook(context.Background(), []byte(`{}`)))
	assert.True(t, p.VerifyWebhook(context.Background(), []byte(`{"token":"tok-1"}`)))
}

// retrieveServer fakes the iyzico checkout-form detail endpoint.
func retrieveServer(t *testing.T, paymentStatus string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment/iyzipos/checkoutform/auth/ecom/detail", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "IYZWSv2 "))
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tok-1", req["token"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         "success",
			"paymentStatus":  paymentStatus,
			"paymentId":      123456,
			"conversationId": "42",
			"price":          "59.99",
			"currency":       "TRY",
		})
	}))
}

func TestIyzicoNormalize(t *testing.T) {
	cases := []struct {
		paymentStatus string
		want          Outcome
	}{
		{"SUCCESS", OutcomeCompleted},
		{"FAILURE", OutcomeFailed},
		{"CALLBACK_THREEDS", OutcomeDefer},
	}
	for _, tc := range cases {
		t.Run(tc.paymentStatus, func(t *testing.T) {
			srv := retrieveServer(t, tc.paymentStatus)
			defer srv.Close()
			p := NewIyzicoProvider(srv.URL, "api-key", "secret-key")
			ev, err := p.Normalize(context.Background(), []byte(`{"token":"tok-1"}`))
			require.NoError(t, err)
			assert.Equal(t, tc.want, ev.Outcome)
			assert.Equal(t, "42", ev.CorrelationID)
			assert.Equal(t, "123456", ev.ProviderPaymentID)
			assert.Equal(t, "59.99", ev.Amount.StringFixed(2))
		})
	}
}

func TestIyzicoNormalizeRetrieveFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "failure", "errorMessage": "token expired"})
	}))
	defer srv.Close()
	p := NewIyzicoProvider(srv.URL, "api-key", "secret-key")
	_, err := p.Normalize(context.Background(), []byte(`{"token":"tok-1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")
}

func TestIyzicoCreatePayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment/iyzipos/checkoutform/initialize/auth/ecom", r.URL.Path)
		var req iyzicoInitializeReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "7", req.ConversationID)
		assert.Equal(t, "ORD-TEST", req.BasketID)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":         "success",
			"token":          "tok-1",
			"paymentPageUrl": "https://cpp.iyzipay.com?token=tok-1",
		})
	}))
	defer srv.Close()

	p := NewIyzicoProvider(srv.URL, "api-key", "secret-key")
	session, err := p.CreatePayment(context.Background(), CheckoutRequest{
		PaymentID:   "7",
		OrderNumber: "ORD-TEST",
		Amount:      decimal.RequireFromString("59.99"),
		Currency:    "TRY",
		CallbackURL: "https://shop.example.com/api/v1/webhooks/iyzico",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", session.ProviderPaymentID)
	assert.Equal(t, "https://cpp.iyzipay.com?token=tok-1", session.CheckoutURL)
}
