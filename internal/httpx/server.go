package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/metrics"
	"github.com/ariefcatur/storefront-settlement/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func NewRouter(logger *zap.Logger, m *metrics.Metrics) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, tracing, accessLog(logger), middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}
	return r
}

// Handlers groups everything Mount wires onto the router. Nil handlers are skipped.
type Handlers struct {
	Auth      *Authenticator
	Checkout  *CheckoutHandler
	Orders    *OrdersHandler
	Inventory *InventoryHandler
	Webhooks  *WebhookHandler
	Products  *ProductsHandler
	RateLimit RateLimit
}

// RateLimit caps requests per client IP on the payment routes. Zero Requests disables it.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

func (rl RateLimit) middleware() func(http.Handler) http.Handler {
	if rl.Requests <= 0 || rl.Window <= 0 {
		return nil
	}
	return httprate.Limit(rl.Requests, rl.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests, please try again later", Code: "RATE_LIMITED"})
		}),
	)
}

// Mount registers public routes, authenticated customer routes and admin routes.
// Checkout, the payment webhook and the payment callback share one rate limiter.
func Mount(r chi.Router, h Handlers) {
	limited := func(r chi.Router) chi.Router { return r }
	if mw := h.RateLimit.middleware(); mw != nil {
		limited = func(r chi.Router) chi.Router { return r.With(mw) }
	}

	if h.Webhooks != nil {
		h.Webhooks.Register(limited(r))
	}
	if h.Orders != nil {
		h.Orders.RegisterPublic(limited(r))
	}
	if h.Products != nil {
		h.Products.Register(r)
	}
	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Middleware)
		if h.Checkout != nil {
			h.Checkout.Register(limited(r))
		}
		if h.Orders != nil {
			h.Orders.Register(r)
		}
		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			if h.Orders != nil {
				h.Orders.RegisterAdmin(r)
			}
			if h.Inventory != nil {
				h.Inventory.Register(r)
			}
		})
	})
}

func tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := telemetry.Tracer().Start(ctx, r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.request.method", r.Method)))
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))

		// pakai route template biar cardinality rendah
		if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
			span.SetName(r.Method + " " + rc.RoutePattern())
			span.SetAttributes(attribute.String("http.route", rc.RoutePattern()))
		}
	})
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logging.Info(r.Context(), logger, "http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
