package httpx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/storefront-settlement/internal/checkout"
	"github.com/ariefcatur/storefront-settlement/internal/inventory"
	"github.com/ariefcatur/storefront-settlement/internal/lifecycle"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/ariefcatur/storefront-settlement/internal/payment"
	"github.com/ariefcatur/storefront-settlement/internal/redisx"
	"github.com/ariefcatur/storefront-settlement/internal/store"
	"github.com/ariefcatur/storefront-settlement/internal/webhook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "sk_test_paystack"

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Enqueue(_ context.Context, _, eventType, _ string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return nil
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// fakePaystack answers initialize and verify like the real API and remembers charged amounts.
type fakePaystack struct {
	mu       sync.Mutex
	amounts  map[string]int64
	verifies int
	down     bool
}

func (f *fakePaystack) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.URL.Path == "/transaction/initialize":
		var body struct {
			Amount    int64  `json:"amount"`
			Reference string `json:"reference"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.amounts[body.Reference] = body.Amount
		writeJSON(w, http.StatusOK, map[string]any{
			"status": true, "message": "ok",
			"data": map[string]any{"authorization_url": "https://checkout.paystack.test/" + body.Reference, "reference": body.Reference},
		})
	case strings.HasPrefix(r.URL.Path, "/transaction/verify/"):
		f.verifies++
		if f.down {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		ref := strings.TrimPrefix(r.URL.Path, "/transaction/verify/")
		writeJSON(w, http.StatusOK, map[string]any{
			"status": true, "message": "ok",
			"data": map[string]any{"id": 555, "status": "success", "reference": ref, "amount": f.amounts[ref], "currency": "NGN"},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakePaystack) verifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifies
}

func (f *fakePaystack) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

type testEnv struct {
	router   http.Handler
	auth     *Authenticator
	machine  *lifecycle.Machine
	ledger   *inventory.Ledger
	events   *recorder
	provider *fakePaystack
}

type staticCatalog map[string]orders.Product

func (c staticCatalog) ListProducts(context.Context) ([]orders.Product, error) {
	out := make([]orders.Product, 0, len(c))
	for _, p := range c {
		out = append(out, p)
	}
	return out, nil
}

func (c staticCatalog) GetProduct(_ context.Context, id string) (orders.Product, error) {
	p, ok := c[id]
	if !ok {
		return orders.Product{}, orders.ErrNotFound
	}
	return p, nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newLimitedTestEnv(t, RateLimit{})
}

func newLimitedTestEnv(t *testing.T, limit RateLimit) *testEnv {
	t.Helper()
	provider := &fakePaystack{amounts: map[string]int64{}}
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	logger := zap.NewNop()
	st := store.NewMemory()
	ledger := inventory.NewLedger(st, logger, nil)
	events := &recorder{}
	machine := lifecycle.NewMachine(st, ledger, events, logger, nil)
	gateways := payment.NewRegistry(payment.ProviderPaystack,
		payment.NewPaystack(payment.PaystackConfig{SecretKey: testSecret, BaseURL: srv.URL}, nil))
	catalog := staticCatalog{
		"sku-1": {ID: "sku-1", Name: "Batik Tulis", Price: decimal.RequireFromString("100.00"), CurrentStock: 5},
	}
	orch := checkout.NewOrchestrator(catalog, ledger, machine, gateways, events, logger, nil, checkout.Config{})

	auth := NewAuthenticator("jwt-secret")
	router := NewRouter(logger, nil)
	Mount(router, Handlers{
		Auth:      auth,
		Checkout:  &CheckoutHandler{Orchestrator: orch, Idempotency: redisx.NewIdempotency(rdb, time.Hour), Logger: logger},
		Orders:    &OrdersHandler{Orchestrator: orch, Machine: machine, Logger: logger},
		Inventory: &InventoryHandler{Ledger: ledger, Logger: logger},
		Products:  &ProductsHandler{Catalog: catalog, Logger: logger},
		Webhooks: &WebhookHandler{
			Gateways:  gateways,
			Dedup:     webhook.NewRedisDeduplicator(rdb, time.Hour),
			Processor: orch,
			Logger:    logger,
		},
		RateLimit: limit,
	})
	return &testEnv{router: router, auth: auth, machine: machine, ledger: ledger, events: events, provider: provider}
}

func (e *testEnv) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := e.auth.Issue(userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) checkout(t *testing.T, token, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return e.do(req)
}

func sign(payload []byte) string {
	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (e *testEnv) webhook(provider, signature string, payload []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
	if provider != "" {
		req.Header.Set("X-Payment-Provider", provider)
	}
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	return e.do(req)
}

const cartBody = `{"items":[{"product_id":"sku-1","quantity":2}],"payment_method":"paystack","email":"buyer@shop.test"}`

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) placeOrder(t *testing.T) (orderID, reference string) {
	t.Helper()
	rec := e.checkout(t, e.token(t, "user-1", ""), cartBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	return body["order_id"].(string), body["reference"].(string)
}

func chargeSuccess(reference string) []byte {
	return []byte(`{"event":"charge.success","data":{"id":9001,"reference":"` + reference + `","status":"success","amount":20000}}`)
}

func TestWebhook_DuplicateDeliveriesSettleOnce(t *testing.T) {
	env := newTestEnv(t)
	orderID, reference := env.placeOrder(t)
	payload := chargeSuccess(reference)

	for i := 0; i < 3; i++ {
		rec := env.webhook(payment.ProviderPaystack, sign(payload), payload)
		assert.Equal(t, http.StatusOK, rec.Code, "delivery %d: %s", i, rec.Body.String())
	}

	o, err := env.machine.Get(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, o.Status)
	assert.Equal(t, orders.PaymentSuccessful, o.PaymentStatus)
	assert.Equal(t, 1, env.events.count(orders.EventOrderConfirmed))
	assert.Equal(t, 1, env.provider.verifyCount())

	rec, err := env.ledger.Stock(context.Background(), "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Available)
	assert.Zero(t, rec.Reserved)
}

func TestWebhook_Rejections(t *testing.T) {
	env := newTestEnv(t)
	payload := chargeSuccess("DOM-x-1")

	assert.Equal(t, http.StatusUnauthorized, env.webhook(payment.ProviderPaystack, sign([]byte("other")), payload).Code)
	assert.Equal(t, http.StatusBadRequest, env.webhook("stripe", sign(payload), payload).Code)
	assert.Equal(t, http.StatusBadRequest, env.webhook("", sign(payload), payload).Code)
	assert.Equal(t, http.StatusBadRequest, env.webhook(payment.ProviderPaystack, "", payload).Code)

	garbage := []byte(`not json`)
	assert.Equal(t, http.StatusBadRequest, env.webhook(payment.ProviderPaystack, sign(garbage), garbage).Code)

	// unknown reference is acknowledged
	assert.Equal(t, http.StatusOK, env.webhook(payment.ProviderPaystack, sign(payload), payload).Code)
}

func TestWebhook_FailureIsRetriedByProvider(t *testing.T) {
	env := newTestEnv(t)
	orderID, reference := env.placeOrder(t)
	payload := chargeSuccess(reference)

	env.provider.setDown(true)
	rec := env.webhook(payment.ProviderPaystack, sign(payload), payload)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode(t, rec)["error"])

	env.provider.setDown(false)
	rec = env.webhook(payment.ProviderPaystack, sign(payload), payload)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	o, err := env.machine.Get(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentSuccessful, o.PaymentStatus)
}

func TestCheckout_Auth(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.checkout(t, "", cartBody).Code)
	assert.Equal(t, http.StatusUnauthorized, env.checkout(t, "not-a-jwt", cartBody).Code)

	other := NewAuthenticator("other-secret")
	forged, err := other.Issue("user-1", "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, env.checkout(t, forged, cartBody).Code)
}

func TestCheckout_Responses(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "user-1", "")

	rec := env.checkout(t, tok, cartBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.NotEmpty(t, body["order_id"])
	assert.True(t, strings.HasPrefix(body["payment_url"].(string), "https://checkout.paystack.test/DOM-"))
	assert.Equal(t, "200", body["total"])

	rec = env.checkout(t, tok, `{"items":[{"product_id":"sku-1","quantity":10}],"payment_method":"paystack"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", decode(t, rec)["code"])

	rec = env.checkout(t, tok, `{"items":[],"payment_method":"paystack"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", decode(t, rec)["code"])

	rec = env.checkout(t, tok, `{"items":[{"product_id":"sku-1","quantity":1}],"payment_method":"flutterwave"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "PAYMENT_INITIALIZATION_FAILED", decode(t, rec)["code"])

	rec = env.checkout(t, tok, `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckout_IdempotencyKeyReplaysOrder(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "user-1", "")

	first := env.checkout(t, tok, cartBody, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := env.checkout(t, tok, cartBody, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, second.Code)

	a, b := decode(t, first), decode(t, second)
	assert.Equal(t, a["order_id"], b["order_id"])
	assert.Equal(t, true, b["idempotent"])
	require.NotEmpty(t, a["payment_url"])
	assert.Equal(t, a["payment_url"], b["payment_url"])
	assert.Equal(t, a["reference"], b["reference"])
	assert.Equal(t, a["total"], b["total"])

	rec, err := env.ledger.Stock(context.Background(), "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Reserved)
}

func TestOrders_AccessAndLifecycle(t *testing.T) {
	env := newTestEnv(t)
	orderID, reference := env.placeOrder(t)
	owner := env.token(t, "user-1", "")
	stranger := env.token(t, "user-2", "")
	admin := env.token(t, "ops", RoleAdmin)

	get := func(tok string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/orders/"+orderID, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		return env.do(req)
	}
	assert.Equal(t, http.StatusOK, get(owner).Code)
	assert.Equal(t, http.StatusNotFound, get(stranger).Code)
	assert.Equal(t, http.StatusOK, get(admin).Code)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/payments/verify?reference="+reference, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(orders.StatusProcessing), decode(t, rec)["status"])

	advance := func(tok, status string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID+"/advance", strings.NewReader(`{"status":"`+status+`"}`))
		req.Header.Set("Authorization", "Bearer "+tok)
		return env.do(req)
	}
	assert.Equal(t, http.StatusForbidden, advance(owner, "READY_FOR_SHIPPING").Code)
	assert.Equal(t, http.StatusOK, advance(admin, "READY_FOR_SHIPPING").Code)
	assert.Equal(t, http.StatusConflict, advance(admin, "PENDING").Code)
	assert.Equal(t, http.StatusBadRequest, advance(admin, "LOST").Code)
}

func TestOrders_CancelUnpaid(t *testing.T) {
	env := newTestEnv(t)
	orderID, _ := env.placeOrder(t)

	req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID+"/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "user-1", ""))
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(orders.StatusCancelled), decode(t, rec)["status"])

	rec = env.do(req.Clone(context.Background()))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInventory_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.ledger.EnsureStock(context.Background(), "sku-9", 4))

	adjust := func(tok, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/inventory/sku-9/adjust", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+tok)
		return env.do(req)
	}
	assert.Equal(t, http.StatusForbidden, adjust(env.token(t, "user-1", ""), `{"delta":3,"reason":"restock"}`).Code)

	admin := env.token(t, "ops", RoleAdmin)
	rec := adjust(admin, `{"delta":3,"reason":"restock"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 7, decode(t, rec)["available"])

	assert.Equal(t, http.StatusBadRequest, adjust(admin, `{"delta":-50,"reason":"shrinkage"}`).Code)
	assert.Equal(t, http.StatusBadRequest, adjust(admin, `{"delta":0}`).Code)

	req := httptest.NewRequest(http.MethodGet, "/inventory/sku-9?history=true", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["history"])
}

func TestProducts_Public(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/products", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "sku-1", out[0]["id"])
	assert.Equal(t, "100", out[0]["price"])
}

func TestCheckout_ReplayAfterPaymentHasNoPaymentURL(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "user-1", "")

	first := env.checkout(t, tok, cartBody, "Idempotency-Key", "k-paid")
	require.Equal(t, http.StatusCreated, first.Code)
	reference := decode(t, first)["reference"].(string)

	payload := chargeSuccess(reference)
	require.Equal(t, http.StatusOK, env.webhook("paystack", sign(payload), payload).Code)

	second := env.checkout(t, tok, cartBody, "Idempotency-Key", "k-paid")
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	body := decode(t, second)
	assert.Nil(t, body["payment_url"])
	assert.Equal(t, reference, body["reference"])
	assert.Equal(t, string(orders.StatusProcessing), body["status"])
}

func TestRateLimit_PaymentRoutes(t *testing.T) {
	env := newLimitedTestEnv(t, RateLimit{Requests: 2, Window: time.Minute})

	verify := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/payments/verify?reference=DOM-missing", nil)
		req.RemoteAddr = remoteAddr
		return env.do(req)
	}
	assert.NotEqual(t, http.StatusTooManyRequests, verify("203.0.113.5:4000").Code)
	assert.NotEqual(t, http.StatusTooManyRequests, verify("203.0.113.5:4001").Code)

	rec := verify("203.0.113.5:4002")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decode(t, rec)["code"])

	payload := chargeSuccess("DOM-missing")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
	req.RemoteAddr = "203.0.113.5:4003"
	req.Header.Set("X-Payment-Provider", "paystack")
	req.Header.Set("X-Webhook-Signature", sign(payload))
	assert.Equal(t, http.StatusTooManyRequests, env.do(req).Code, "routes share one budget per client")

	assert.NotEqual(t, http.StatusTooManyRequests, verify("198.51.100.9:4000").Code, "other clients keep their own budget")

	products := httptest.NewRequest(http.MethodGet, "/products", nil)
	products.RemoteAddr = "203.0.113.5:4004"
	assert.Equal(t, http.StatusOK, env.do(products).Code)
}

func TestInventory_LowStockAndThreshold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.ledger.EnsureStock(ctx, "sku-low", 3))
	require.NoError(t, env.ledger.EnsureStock(ctx, "sku-plenty", 40))
	admin := env.token(t, "ops", RoleAdmin)

	call := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+admin)
		return env.do(req)
	}
	ids := func(rec *httptest.ResponseRecorder) []string {
		var out []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
		var got []string
		for _, v := range out {
			got = append(got, v["product_id"].(string))
		}
		return got
	}

	rec := call(http.MethodGet, "/inventory/low-stock", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"sku-low"}, ids(rec))

	rec = call(http.MethodGet, "/inventory/low-stock?threshold=50", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"sku-low", "sku-plenty"}, ids(rec))
	assert.Equal(t, http.StatusBadRequest, call(http.MethodGet, "/inventory/low-stock?threshold=-1", "").Code)

	rec = call(http.MethodPost, "/inventory/sku-plenty/threshold", `{"threshold":45}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 45, decode(t, rec)["low_stock_threshold"])
	assert.Equal(t, http.StatusBadRequest, call(http.MethodPost, "/inventory/sku-plenty/threshold", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, call(http.MethodPost, "/inventory/sku-none/threshold", `{"threshold":1}`).Code)

	rec = call(http.MethodGet, "/inventory/low-stock", "")
	assert.ElementsMatch(t, []string{"sku-low", "sku-plenty"}, ids(rec))

	req := httptest.NewRequest(http.MethodGet, "/inventory/low-stock", nil)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "user-1", ""))
	assert.Equal(t, http.StatusForbidden, env.do(req).Code)
}

func TestInventory_HistoryRange(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.ledger.EnsureStock(context.Background(), "sku-9", 4))
	admin := env.token(t, "ops", RoleAdmin)

	get := func(query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/inventory/sku-9?history=true"+query, nil)
		req.Header.Set("Authorization", "Bearer "+admin)
		return env.do(req)
	}
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)

	rec := get("&from=" + past + "&to=" + future)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["history"], 1)

	rec = get("&from=" + future)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode(t, rec)["history"])

	assert.Equal(t, http.StatusBadRequest, get("&from=yesterday").Code)
	assert.Equal(t, http.StatusBadRequest, get("&from="+future+"&to="+past).Code)
}

func TestWriteError_RefundInProgress(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders/o-1/refund", nil)
	writeError(rec, req, zap.NewNop(), fmt.Errorf("order o-1: %w", orders.ErrRefundInProgress))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "REFUND_IN_PROGRESS", decode(t, rec)["code"])
}
