package payment

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/metrics"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
)

// apiClient is the HTTP plumbing shared by the provider adapters: one resty client and one
// circuit breaker per provider.
type apiClient struct {
	provider string
	http     *resty.Client
	cb       *gobreaker.CircuitBreaker
	metrics  *metrics.Metrics
}

func newAPIClient(provider, baseURL, secretKey string, timeout time.Duration, m *metrics.Metrics) *apiClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &apiClient{
		provider: provider,
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetAuthToken(secretKey).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        provider,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		}),
		metrics: m,
	}
}

// providerError is a non-2xx answer. It does not count against the breaker.
type providerError struct {
	status int
	body   string
}

func (e *providerError) Error() string {
	return fmt.Sprintf("provider responded %d: %s", e.status, e.body)
}

// call runs one request through the breaker and decodes a 2xx body into out.
func (c *apiClient) call(ctx context.Context, op, method, path string, body, out any) error {
	start := time.Now()
	var apiErr *providerError

	_, err := c.cb.Execute(func() (interface{}, error) {
		req := c.http.R().SetContext(ctx).SetResult(out)
		if body != nil {
			req.SetBody(body)
		}
		resp, err := req.Execute(method, path)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 {
			return nil, &providerError{status: resp.StatusCode(), body: truncate(resp.String())}
		}
		if resp.IsError() {
			apiErr = &providerError{status: resp.StatusCode(), body: truncate(resp.String())}
		}
		return nil, nil
	})
	if err == nil && apiErr != nil {
		err = apiErr
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.ProviderCall(c.provider, op, outcome, time.Since(start).Seconds())
	return err
}

func truncate(s string) string {
	if len(s) > 256 {
		return s[:256]
	}
	return s
}

// verifyHexHMAC compares a hex digest header against the HMAC of payload in constant time.
func verifyHexHMAC(newHash func() hash.Hash, secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
