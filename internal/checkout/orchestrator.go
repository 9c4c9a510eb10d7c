// Package checkout coordinates a purchase across the inventory ledger, the order state machine
// and the payment gateways, and settles payments from webhooks or polling.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/inventory"
	"github.com/ariefcatur/storefront-settlement/internal/lifecycle"
	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/metrics"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/ariefcatur/storefront-settlement/internal/payment"
	"github.com/ariefcatur/storefront-settlement/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Catalog is the authoritative source of prices and stock baselines.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (orders.Product, error)
}

type Config struct {
	CallbackURL string
}

type Orchestrator struct {
	catalog    Catalog
	ledger     *inventory.Ledger
	machine    *lifecycle.Machine
	gateways   *payment.Registry
	dispatcher lifecycle.Dispatcher
	logger     *zap.Logger
	metrics    *metrics.Metrics
	cfg        Config
	now        func() time.Time
}

func NewOrchestrator(
	catalog Catalog,
	ledger *inventory.Ledger,
	machine *lifecycle.Machine,
	gateways *payment.Registry,
	d lifecycle.Dispatcher,
	logger *zap.Logger,
	m *metrics.Metrics,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		catalog:    catalog,
		ledger:     ledger,
		machine:    machine,
		gateways:   gateways,
		dispatcher: d,
		logger:     logger,
		metrics:    m,
		cfg:        cfg,
		now:        time.Now,
	}
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Checkout reserves the cart, creates a PENDING order and, for hosted-checkout methods,
// opens a payment with the provider.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "checkout.Checkout",
		trace.WithAttributes(attribute.String("user.id", req.UserID), attribute.String("payment.method", string(req.PaymentMethod))))
	start := o.now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = checkoutOutcome(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		o.metrics.Checkout(outcome, time.Since(start).Seconds())
		span.End()
	}()

	if err := req.validate(); err != nil {
		return Result{}, err
	}
	items := merged(req.Items)

	lines := make([]orders.LineItem, 0, len(items))
	holds := make([]inventory.Item, 0, len(items))
	for _, it := range items {
		p, err := o.catalog.GetProduct(ctx, it.ProductID)
		if errors.Is(err, orders.ErrNotFound) {
			return Result{}, &ValidationError{Fields: map[string]string{"items": fmt.Sprintf("product %s does not exist", it.ProductID)}}
		}
		if err != nil {
			return Result{}, fmt.Errorf("load product %s: %w", it.ProductID, err)
		}
		if err := o.ledger.EnsureStock(ctx, p.ID, p.CurrentStock); err != nil {
			return Result{}, err
		}
		lines = append(lines, orders.LineItem{ProductID: p.ID, Quantity: it.Quantity, UnitPrice: p.Price})
		holds = append(holds, inventory.Item{ProductID: p.ID, Quantity: it.Quantity})
	}

	orderID := uuid.NewString()
	span.SetAttributes(attribute.String("order.id", orderID))
	if _, err := o.ledger.ReserveAll(ctx, orderID, holds); err != nil {
		return Result{}, err
	}

	order, err := o.machine.Create(ctx, orders.Order{
		ID:            orderID,
		UserID:        req.UserID,
		LineItems:     lines,
		PaymentMethod: req.PaymentMethod,
		ShippingInfo:  req.Shipping,
		BillingInfo:   req.Billing,
	})
	if err != nil {
		if rerr := o.ledger.ReleaseAll(context.WithoutCancel(ctx), orderID, inventory.ReasonCheckoutCompensated); rerr != nil {
			logging.Error(ctx, o.logger, "release after failed order create",
				zap.String("order_id", orderID), zap.Error(rerr))
		}
		return Result{}, fmt.Errorf("create order: %w", err)
	}

	res = Result{OrderID: order.ID, Total: order.Total, Status: order.Status}
	if !req.PaymentMethod.Redirects() {
		logging.Info(ctx, o.logger, "order awaiting manual payment",
			zap.String("order_id", order.ID), zap.String("method", string(req.PaymentMethod)))
		return res, nil
	}

	redirect, reference, err := o.openPayment(ctx, order, req)
	if err != nil {
		return Result{}, err
	}
	res.RedirectURL, res.Reference = redirect, reference
	logging.Info(ctx, o.logger, "checkout created",
		zap.String("order_id", order.ID), zap.String("reference", reference), zap.String("total", order.Total.StringFixed(2)))
	return res, nil
}

// Lookup rebuilds the checkout result of an existing order owned by userID. The payment URL
// is only returned while the payment can still be completed.
func (o *Orchestrator) Lookup(ctx context.Context, userID, orderID string) (Result, error) {
	order, err := o.machine.Get(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if order.UserID != userID {
		return Result{}, fmt.Errorf("order %s: %w", orderID, orders.ErrNotFound)
	}
	res := Result{OrderID: order.ID, Total: order.Total, Status: order.Status}
	p, err := o.machine.LatestPayment(ctx, order.ID)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return res, nil
	case err != nil:
		return Result{}, err
	}
	res.Reference = p.Reference
	if p.Status.Open() && order.Status == orders.StatusPending {
		res.RedirectURL = p.RedirectURL
	}
	return res, nil
}

// openPayment binds the reference to the order, then calls the provider outside any transaction.
func (o *Orchestrator) openPayment(ctx context.Context, order orders.Order, req Request) (string, string, error) {
	gw, err := o.gateways.ForMethod(req.PaymentMethod)
	if err != nil {
		o.failInit(ctx, order.ID, err)
		return "", "", fmt.Errorf("%w: %v", orders.ErrPaymentInitializationFailed, err)
	}

	reference := fmt.Sprintf("DOM-%s-%d", order.ID, o.now().UnixMilli())
	p := orders.Payment{
		ID:        uuid.NewString(),
		Provider:  gw.Name(),
		OrderID:   order.ID,
		Reference: reference,
		Amount:    order.Total,
	}
	if err := o.machine.BindPayment(ctx, p); err != nil {
		o.failInit(ctx, order.ID, err)
		return "", "", fmt.Errorf("%w: bind reference: %v", orders.ErrPaymentInitializationFailed, err)
	}

	email := req.Email
	if email == "" {
		email = req.Billing.Email
	}
	init, err := gw.Initialize(ctx, payment.InitializeRequest{
		Amount:      order.Total,
		Email:       email,
		Reference:   reference,
		CallbackURL: o.cfg.CallbackURL,
		Metadata:    map[string]string{"order_id": order.ID, "user_id": order.UserID},
	})
	if err != nil {
		o.failInit(ctx, order.ID, err)
		if errors.Is(err, orders.ErrPaymentInitializationFailed) {
			return "", "", err
		}
		return "", "", fmt.Errorf("%w: %v", orders.ErrPaymentInitializationFailed, err)
	}

	if err := o.machine.MarkPaymentInitialized(ctx, p.ID, init.ProviderReference, init.RedirectURL); err != nil {
		// webhook bisa datang lebih dulu
		logging.Warn(ctx, o.logger, "payment record not marked initialized",
			zap.String("order_id", order.ID), zap.String("reference", reference), zap.Error(err))
	}
	return init.RedirectURL, reference, nil
}

func (o *Orchestrator) failInit(ctx context.Context, orderID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	logging.Warn(ctx, o.logger, "payment initialization failed",
		zap.String("order_id", orderID), zap.Error(cause))
	if _, err := o.machine.MarkPaymentFailed(ctx, orderID, "payment initialization failed"); err != nil {
		logging.Error(ctx, o.logger, "order not failed after payment initialization error",
			zap.String("order_id", orderID), zap.Error(err))
	}
}

func checkoutOutcome(err error) string {
	switch {
	case errors.Is(err, orders.ErrValidation):
		return "invalid"
	case errors.Is(err, orders.ErrInsufficientStock):
		return "out_of_stock"
	case errors.Is(err, orders.ErrPaymentInitializationFailed):
		return "payment_init_failed"
	default:
		return "error"
	}
}
