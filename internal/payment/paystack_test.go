package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToKobo(t *testing.T) {
	cases := map[string]int64{
		"100":     10000,
		"19.99":   1999,
		"0.005":   1,
		"1250.50": 125050,
		"0":       0,
	}
	for in, want := range cases {
		assert.Equal(t, want, toKobo(decimal.RequireFromString(in)), in)
	}
	assert.True(t, decimal.RequireFromString("19.99").Equal(fromKobo(1999)))
}

func TestPaystack_Initialize(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"DOM-1-1"}}`))
	}))
	defer srv.Close()

	p := NewPaystack(PaystackConfig{SecretKey: "sk_test", BaseURL: srv.URL}, nil)
	res, err := p.Initialize(context.Background(), InitializeRequest{
		Amount: decimal.RequireFromString("250.75"), Email: "a@b.c", Reference: "DOM-1-1", CallbackURL: "https://shop/cb",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", res.RedirectURL)
	assert.Equal(t, "DOM-1-1", res.ProviderReference)
	assert.EqualValues(t, 25075, got["amount"])
	assert.Equal(t, "DOM-1-1", got["reference"])
}

func TestPaystack_InitializeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	}))
	defer srv.Close()

	p := NewPaystack(PaystackConfig{SecretKey: "bad", BaseURL: srv.URL}, nil)
	_, err := p.Initialize(context.Background(), InitializeRequest{Amount: decimal.NewFromInt(1), Reference: "r"})
	require.ErrorIs(t, err, orders.ErrPaymentInitializationFailed)
}

func TestPaystack_Verify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/DOM-1-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":true,"data":{"id":4099,"status":"success","reference":"DOM-1-1","amount":1999,"currency":"NGN"}}`))
	}))
	defer srv.Close()

	p := NewPaystack(PaystackConfig{SecretKey: "sk", BaseURL: srv.URL}, nil)
	res, err := p.Verify(context.Background(), "DOM-1-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, decimal.RequireFromString("19.99").Equal(res.Amount))
	assert.Equal(t, "4099", res.ProviderTransactionID)
}

func TestPaystack_VerifyTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewPaystack(PaystackConfig{SecretKey: "sk", BaseURL: srv.URL}, nil)
	_, err := p.Verify(context.Background(), "DOM-1-1")
	require.ErrorIs(t, err, orders.ErrPaymentVerificationFailed)
}

func TestPaystack_Refund(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refund", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"pending","transaction":{"reference":"DOM-1-1"}}}`))
	}))
	defer srv.Close()

	p := NewPaystack(PaystackConfig{SecretKey: "sk", BaseURL: srv.URL}, nil)
	amt := decimal.RequireFromString("5.5")
	res, err := p.Refund(context.Background(), "DOM-1-1", &amt)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 550, got["amount"])
	assert.Equal(t, "DOM-1-1", got["transaction"])
}

func signSHA512(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaystack_VerifySignature(t *testing.T) {
	p := NewPaystack(PaystackConfig{SecretKey: "sk_live"}, nil)
	body := []byte(`{"event":"charge.success","data":{"id":1,"reference":"DOM-1-1"}}`)

	assert.True(t, p.VerifySignature(body, signSHA512("sk_live", body)))
	assert.False(t, p.VerifySignature(body, signSHA512("other", body)))
	assert.False(t, p.VerifySignature(append(body, ' '), signSHA512("sk_live", body)))
	assert.False(t, p.VerifySignature(body, "not-hex"))
	assert.False(t, p.VerifySignature(body, ""))
}

func TestPaystack_ParseWebhook(t *testing.T) {
	p := NewPaystack(PaystackConfig{SecretKey: "sk"}, nil)

	ev, err := p.ParseWebhook([]byte(`{"event":"charge.success","data":{"id":302961,"reference":"DOM-1-1","status":"success"}}`))
	require.NoError(t, err)
	assert.Equal(t, "charge.success:302961", ev.ID)
	assert.Equal(t, EventCharge, ev.Kind)
	assert.Equal(t, "DOM-1-1", ev.Reference)

	ev, err = p.ParseWebhook([]byte(`{"event":"refund.processed","data":{"id":77,"transaction_reference":"DOM-1-1","amount":500050}}`))
	require.NoError(t, err)
	assert.Equal(t, EventRefund, ev.Kind)
	assert.Equal(t, "DOM-1-1", ev.Reference)
	assert.Equal(t, "5000.5", ev.Amount.String())

	_, err = p.ParseWebhook([]byte(`{"event":"charge.success","data":{}}`))
	require.Error(t, err)
	_, err = p.ParseWebhook([]byte(`nope`))
	require.Error(t, err)
}
