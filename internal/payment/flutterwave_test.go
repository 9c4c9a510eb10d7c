package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMajorUnits(t *testing.T) {
	assert.Equal(t, json.Number("19.99"), majorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, json.Number("100.00"), majorUnits(decimal.NewFromInt(100)))
	assert.Equal(t, json.Number("0.01"), majorUnits(decimal.RequireFromString("0.005")))
}

func TestFlutterwave_Initialize(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "Bearer FLWSECK", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"status":"success","message":"Hosted Link","data":{"link":"https://checkout.flutterwave.com/v3/hosted/pay/xyz"}}`))
	}))
	defer srv.Close()

	f := NewFlutterwave(FlutterwaveConfig{SecretKey: "FLWSECK", BaseURL: srv.URL, Currency: "NGN"}, nil)
	res, err := f.Initialize(context.Background(), InitializeRequest{
		Amount: decimal.RequireFromString("250.75"), Email: "a@b.c", Reference: "DOM-2-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.flutterwave.com/v3/hosted/pay/xyz", res.RedirectURL)
	assert.Equal(t, `250.75`, string(raw["amount"]))
	assert.Equal(t, `"NGN"`, string(raw["currency"]))
	assert.Equal(t, `"DOM-2-1"`, string(raw["tx_ref"]))
}

func TestFlutterwave_Verify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/verify_by_reference", r.URL.Path)
		assert.Equal(t, "DOM-2-1", r.URL.Query().Get("tx_ref"))
		_, _ = w.Write([]byte(`{"status":"success","data":{"id":288200,"tx_ref":"DOM-2-1","status":"successful","amount":250.75,"currency":"NGN"}}`))
	}))
	defer srv.Close()

	f := NewFlutterwave(FlutterwaveConfig{SecretKey: "k", BaseURL: srv.URL}, nil)
	res, err := f.Verify(context.Background(), "DOM-2-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, decimal.RequireFromString("250.75").Equal(res.Amount))
	assert.Equal(t, "288200", res.ProviderTransactionID)
}

func TestFlutterwave_VerifyNotSuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{"id":1,"tx_ref":"DOM-2-1","status":"failed","amount":250.75,"currency":"NGN"}}`))
	}))
	defer srv.Close()

	f := NewFlutterwave(FlutterwaveConfig{SecretKey: "k", BaseURL: srv.URL}, nil)
	res, err := f.Verify(context.Background(), "DOM-2-1")
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestFlutterwave_Refund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/288200/refund", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"success","data":{"id":75923,"status":"completed"}}`))
	}))
	defer srv.Close()

	f := NewFlutterwave(FlutterwaveConfig{SecretKey: "k", BaseURL: srv.URL}, nil)
	res, err := f.Refund(context.Background(), "288200", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "75923", res.Reference)
}

func TestFlutterwave_VerifySignature(t *testing.T) {
	f := NewFlutterwave(FlutterwaveConfig{SecretHash: "hash"}, nil)
	body := []byte(`{"event":"charge.completed","data":{"id":1}}`)

	mac := hmac.New(sha256.New, []byte("hash"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, f.VerifySignature(body, sig))
	assert.False(t, f.VerifySignature(body, signSHA512("hash", body)))
	assert.False(t, NewFlutterwave(FlutterwaveConfig{}, nil).VerifySignature(body, sig))
}

func TestFlutterwave_ParseWebhook(t *testing.T) {
	f := NewFlutterwave(FlutterwaveConfig{}, nil)

	ev, err := f.ParseWebhook([]byte(`{"event":"charge.completed","data":{"id":285959875,"tx_ref":"DOM-2-1","status":"successful"}}`))
	require.NoError(t, err)
	assert.Equal(t, "charge.completed:285959875", ev.ID)
	assert.Equal(t, EventCharge, ev.Kind)
	assert.Equal(t, "DOM-2-1", ev.Reference)

	assert.True(t, ev.Amount.IsZero())

	ev, err = f.ParseWebhook([]byte(`{"event":"refund.completed","data":{"id":31,"tx_ref":"DOM-2-1","amount":200,"amount_refunded":50.25}}`))
	require.NoError(t, err)
	assert.Equal(t, EventRefund, ev.Kind)
	assert.Equal(t, "50.25", ev.Amount.String())

	ev, err = f.ParseWebhook([]byte(`{"event":"refund.completed","data":{"id":32,"tx_ref":"DOM-2-1","amount":75}}`))
	require.NoError(t, err)
	assert.Equal(t, "75", ev.Amount.String())

	ev, err = f.ParseWebhook([]byte(`{"event":"transfer.completed","data":{"id":9,"tx_ref":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventOther, ev.Kind)
}
