package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Store. Transactions are serialized by one mutex and work on a
// copy of the state that replaces the live state only when fn succeeds. Commit hooks run
// after the mutex is released.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	stock    map[string]orders.StockRecord
	logs     []orders.LogEntry
	holds    map[string]orders.Reservation
	orders   map[string]orders.Order
	payments map[string]orders.Payment
}

func NewMemory() *Memory {
	return &Memory{state: &memState{
		stock:    make(map[string]orders.StockRecord),
		holds:    make(map[string]orders.Reservation),
		orders:   make(map[string]orders.Order),
		payments: make(map[string]orders.Payment),
	}}
}

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hooks, err := m.run(ctx, fn)
	if err != nil {
		return err
	}
	for _, h := range hooks {
		h(context.WithoutCancel(ctx))
	}
	return nil
}

func (m *Memory) run(ctx context.Context, fn func(ctx context.Context, tx Tx) error) ([]func(context.Context), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{s: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return nil, err
	}
	m.state = tx.s
	return tx.hooks, nil
}

func (s *memState) clone() *memState {
	c := &memState{
		stock:    make(map[string]orders.StockRecord, len(s.stock)),
		logs:     s.logs[:len(s.logs):len(s.logs)],
		holds:    make(map[string]orders.Reservation, len(s.holds)),
		orders:   make(map[string]orders.Order, len(s.orders)),
		payments: make(map[string]orders.Payment, len(s.payments)),
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.holds {
		c.holds[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

type memTx struct {
	s     *memState
	hooks []func(context.Context)
}

func (t *memTx) OnCommit(fn func(ctx context.Context)) { t.hooks = append(t.hooks, fn) }

func (t *memTx) Stock() StockRepo      { return memStock{t.s} }
func (t *memTx) Holds() HoldRepo       { return memHolds{t.s} }
func (t *memTx) Orders() OrderRepo     { return memOrders{t.s} }
func (t *memTx) Payments() PaymentRepo { return memPayments{t.s} }

// ---- stock ----

type memStock struct{ s *memState }

func (r memStock) Lock(ctx context.Context, productID string) (orders.StockRecord, error) {
	return r.Get(ctx, productID)
}

func (r memStock) Get(_ context.Context, productID string) (orders.StockRecord, error) {
	rec, ok := r.s.stock[productID]
	if !ok {
		return orders.StockRecord{}, fmt.Errorf("stock %s: %w", productID, orders.ErrNotFound)
	}
	return rec, nil
}

func (r memStock) Seed(_ context.Context, rec orders.StockRecord) (bool, error) {
	if _, ok := r.s.stock[rec.ProductID]; ok {
		return false, nil
	}
	r.s.stock[rec.ProductID] = rec
	return true, nil
}

func (r memStock) Save(_ context.Context, rec orders.StockRecord) error {
	if _, ok := r.s.stock[rec.ProductID]; !ok {
		return fmt.Errorf("stock %s: %w", rec.ProductID, orders.ErrNotFound)
	}
	r.s.stock[rec.ProductID] = rec
	return nil
}

func (r memStock) SetThreshold(_ context.Context, productID string, threshold int, at time.Time) error {
	rec, ok := r.s.stock[productID]
	if !ok {
		return fmt.Errorf("stock %s: %w", productID, orders.ErrNotFound)
	}
	rec.LowStockThreshold = threshold
	rec.UpdatedAt = at
	r.s.stock[productID] = rec
	return nil
}

func (r memStock) AppendLog(_ context.Context, e orders.LogEntry) error {
	r.s.logs = append(r.s.logs, e)
	return nil
}

func (r memStock) History(_ context.Context, productID string, since, until time.Time) ([]orders.LogEntry, error) {
	var out []orders.LogEntry
	for _, e := range r.s.logs {
		if e.ProductID != productID {
			continue
		}
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		if !until.IsZero() && e.CreatedAt.After(until) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r memStock) ListLow(_ context.Context, threshold *int) ([]orders.StockRecord, error) {
	var out []orders.StockRecord
	for _, rec := range r.s.stock {
		limit := rec.LowStockThreshold
		if threshold != nil {
			limit = *threshold
		}
		if rec.Available <= limit {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// ---- holds ----

type memHolds struct{ s *memState }

func (r memHolds) Insert(_ context.Context, h orders.Reservation) error {
	if _, ok := r.s.holds[h.ID]; ok {
		return fmt.Errorf("reservation %s already exists", h.ID)
	}
	r.s.holds[h.ID] = h
	return nil
}

func (r memHolds) ListByHold(_ context.Context, holdID string, status orders.HoldStatus) ([]orders.Reservation, error) {
	var out []orders.Reservation
	for _, h := range r.s.holds {
		if h.HoldID == holdID && h.Status == status {
			out = append(out, h)
		}
	}
	sortHolds(out)
	return out, nil
}

func (r memHolds) Resolve(_ context.Context, id string, to orders.HoldStatus, at time.Time) (bool, error) {
	h, ok := r.s.holds[id]
	if !ok || h.Status != orders.HoldReserved {
		return false, nil
	}
	h.Status = to
	h.ResolvedAt = &at
	r.s.holds[id] = h
	return true, nil
}

func (r memHolds) ListExpired(_ context.Context, before time.Time, after HoldCursor, limit int) ([]orders.Reservation, error) {
	var out []orders.Reservation
	for _, h := range r.s.holds {
		if h.Status == orders.HoldReserved && h.CreatedAt.Before(before) && after.Before(h) {
			out = append(out, h)
		}
	}
	sortHolds(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortHolds(hs []orders.Reservation) {
	sort.Slice(hs, func(i, j int) bool {
		if hs[i].CreatedAt.Equal(hs[j].CreatedAt) {
			return hs[i].ID < hs[j].ID
		}
		return hs[i].CreatedAt.Before(hs[j].CreatedAt)
	})
}

// ---- orders ----

type memOrders struct{ s *memState }

func (r memOrders) Insert(_ context.Context, o orders.Order) error {
	if _, ok := r.s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	r.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r memOrders) Get(_ context.Context, id string) (orders.Order, error) {
	o, ok := r.s.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("order %s: %w", id, orders.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (r memOrders) GetByReference(ctx context.Context, reference string) (orders.Order, error) {
	for _, o := range r.s.orders {
		if o.PaymentReference != nil && *o.PaymentReference == reference {
			return cloneOrder(o), nil
		}
	}
	// the mapping lives on the payment record too, older payments of the order included
	for _, p := range r.s.payments {
		if p.Reference == reference {
			return r.Get(ctx, p.OrderID)
		}
	}
	return orders.Order{}, fmt.Errorf("order for reference %s: %w", reference, orders.ErrNotFound)
}

func (r memOrders) Transition(_ context.Context, id string, from, to OrderState, reason string, at time.Time) (bool, error) {
	o, ok := r.s.orders[id]
	if !ok {
		return false, fmt.Errorf("order %s: %w", id, orders.ErrNotFound)
	}
	if StateOf(o) != from {
		return false, nil
	}
	o.Status = to.Status
	o.PaymentStatus = to.PaymentStatus
	if reason != "" {
		o.StatusReason = reason
	}
	o.UpdatedAt = at
	r.s.orders[id] = o
	return true, nil
}

func (r memOrders) SetPaymentReference(_ context.Context, id, reference string, at time.Time) error {
	o, ok := r.s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, orders.ErrNotFound)
	}
	ref := reference
	o.PaymentReference = &ref
	o.UpdatedAt = at
	r.s.orders[id] = o
	return nil
}

func cloneOrder(o orders.Order) orders.Order {
	o.LineItems = append([]orders.LineItem(nil), o.LineItems...)
	if o.PaymentReference != nil {
		ref := *o.PaymentReference
		o.PaymentReference = &ref
	}
	return o
}

// ---- payments ----

type memPayments struct{ s *memState }

func (r memPayments) Insert(_ context.Context, p orders.Payment) error {
	for _, existing := range r.s.payments {
		if existing.Reference == p.Reference {
			return fmt.Errorf("payment reference %s already exists", p.Reference)
		}
		if existing.OrderID == p.OrderID && existing.Status.Open() {
			return ErrOpenPayment
		}
	}
	r.s.payments[p.ID] = p
	return nil
}

func (r memPayments) GetByReference(_ context.Context, reference string) (orders.Payment, error) {
	for _, p := range r.s.payments {
		if p.Reference == reference {
			return p, nil
		}
	}
	return orders.Payment{}, fmt.Errorf("payment %s: %w", reference, orders.ErrNotFound)
}

func (r memPayments) LatestForOrder(_ context.Context, orderID string) (orders.Payment, error) {
	var (
		latest orders.Payment
		found  bool
	)
	for _, p := range r.s.payments {
		if p.OrderID != orderID {
			continue
		}
		if !found || p.CreatedAt.After(latest.CreatedAt) {
			latest, found = p, true
		}
	}
	if !found {
		return orders.Payment{}, fmt.Errorf("payment for order %s: %w", orderID, orders.ErrNotFound)
	}
	return latest, nil
}

func (r memPayments) Initialize(_ context.Context, id, providerRef, redirectURL string, at time.Time) (bool, error) {
	p, ok := r.s.payments[id]
	if !ok {
		return false, fmt.Errorf("payment %s: %w", id, orders.ErrNotFound)
	}
	if p.Status != orders.PaymentRecordPending {
		return false, nil
	}
	if providerRef != "" {
		ref := providerRef
		p.ProviderReference = &ref
	}
	p.RedirectURL = redirectURL
	p.Status = orders.PaymentRecordInitialized
	p.UpdatedAt = at
	r.s.payments[id] = p
	return true, nil
}

func (r memPayments) Transition(_ context.Context, id string, from []orders.PaymentRecordStatus, to orders.PaymentRecordStatus, at time.Time) (bool, error) {
	p, ok := r.s.payments[id]
	if !ok {
		return false, fmt.Errorf("payment %s: %w", id, orders.ErrNotFound)
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			p.UpdatedAt = at
			r.s.payments[id] = p
			return true, nil
		}
	}
	return false, nil
}

func (r memPayments) SetProviderReference(_ context.Context, id, providerRef string, at time.Time) error {
	p, ok := r.s.payments[id]
	if !ok {
		return fmt.Errorf("payment %s: %w", id, orders.ErrNotFound)
	}
	ref := providerRef
	p.ProviderReference = &ref
	p.UpdatedAt = at
	r.s.payments[id] = p
	return nil
}

func (r memPayments) SettleRefund(_ context.Context, id string, from []orders.PaymentRecordStatus, to orders.PaymentRecordStatus, refunded decimal.Decimal, at time.Time) (bool, error) {
	p, ok := r.s.payments[id]
	if !ok {
		return false, fmt.Errorf("payment %s: %w", id, orders.ErrNotFound)
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			p.RefundedAmount = refunded
			p.UpdatedAt = at
			r.s.payments[id] = p
			return true, nil
		}
	}
	return false, nil
}
