package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/ariefcatur/storefront-settlement/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	uniqueViolation  = "23505"
	openPaymentIndex = "payments_one_open_per_order"
)

// Store is the pgx implementation of store.Store. Stock rows are serialized with
// SELECT ... FOR UPDATE; order and payment transitions are conditional updates.
type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	t := &pgTx{tx: tx}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, h := range t.hooks {
		h(context.WithoutCancel(ctx))
	}
	return nil
}

type pgTx struct {
	tx    pgx.Tx
	hooks []func(context.Context)
}

func (t *pgTx) OnCommit(fn func(ctx context.Context)) { t.hooks = append(t.hooks, fn) }

func (t *pgTx) Stock() store.StockRepo      { return stockRepo{t.tx} }
func (t *pgTx) Holds() store.HoldRepo       { return holdRepo{t.tx} }
func (t *pgTx) Orders() store.OrderRepo     { return orderRepo{t.tx} }
func (t *pgTx) Payments() store.PaymentRepo { return paymentRepo{t.tx} }

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, orders.ErrNotFound)
	}
	return err
}

// ---- stock ----

type stockRepo struct{ tx pgx.Tx }

func (r stockRepo) Lock(ctx context.Context, productID string) (orders.StockRecord, error) {
	return r.get(ctx, productID, ` FOR UPDATE`)
}

func (r stockRepo) Get(ctx context.Context, productID string) (orders.StockRecord, error) {
	return r.get(ctx, productID, ``)
}

const stockColumns = `product_id, available, reserved, low_stock_threshold, updated_at`

func (r stockRepo) get(ctx context.Context, productID, suffix string) (orders.StockRecord, error) {
	var rec orders.StockRecord
	err := r.tx.QueryRow(ctx, `
		SELECT `+stockColumns+`
		FROM stock_records WHERE product_id=$1`+suffix, productID).
		Scan(&rec.ProductID, &rec.Available, &rec.Reserved, &rec.LowStockThreshold, &rec.UpdatedAt)
	if err != nil {
		return orders.StockRecord{}, notFound(err, "stock "+productID)
	}
	return rec, nil
}

func (r stockRepo) Seed(ctx context.Context, rec orders.StockRecord) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
		INSERT INTO stock_records(product_id, available, reserved, low_stock_threshold, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (product_id) DO NOTHING`,
		rec.ProductID, rec.Available, rec.Reserved, rec.LowStockThreshold, rec.UpdatedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r stockRepo) Save(ctx context.Context, rec orders.StockRecord) error {
	ct, err := r.tx.Exec(ctx, `
		UPDATE stock_records SET available=$2, reserved=$3, updated_at=$4
		WHERE product_id=$1`, rec.ProductID, rec.Available, rec.Reserved, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("stock %s: %w", rec.ProductID, orders.ErrNotFound)
	}
	return nil
}

func (r stockRepo) SetThreshold(ctx context.Context, productID string, threshold int, at time.Time) error {
	ct, err := r.tx.Exec(ctx, `
		UPDATE stock_records SET low_stock_threshold=$2, updated_at=$3
		WHERE product_id=$1`, productID, threshold, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("stock %s: %w", productID, orders.ErrNotFound)
	}
	return nil
}

func (r stockRepo) ListLow(ctx context.Context, threshold *int) ([]orders.StockRecord, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+stockColumns+` FROM stock_records
		WHERE available <= COALESCE($1, low_stock_threshold)
		ORDER BY product_id`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.StockRecord
	for rows.Next() {
		var rec orders.StockRecord
		if err := rows.Scan(&rec.ProductID, &rec.Available, &rec.Reserved, &rec.LowStockThreshold, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r stockRepo) AppendLog(ctx context.Context, e orders.LogEntry) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO inventory_logs(id, product_id, delta, kind, reason, previous_quantity, new_quantity, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.ProductID, e.Delta, string(e.Kind), e.Reason, e.PreviousQuantity, e.NewQuantity, e.CreatedAt)
	return err
}

func (r stockRepo) History(ctx context.Context, productID string, since, until time.Time) ([]orders.LogEntry, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, product_id, delta, kind, reason, previous_quantity, new_quantity, created_at
		FROM inventory_logs
		WHERE product_id=$1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at, id`, productID, optionalTime(since), optionalTime(until))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.LogEntry
	for rows.Next() {
		var (
			e    orders.LogEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Delta, &kind, &e.Reason, &e.PreviousQuantity, &e.NewQuantity, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = orders.LogKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// ---- reservations ----

type holdRepo struct{ tx pgx.Tx }

func (r holdRepo) Insert(ctx context.Context, h orders.Reservation) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO reservations(id, hold_id, product_id, qty, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		h.ID, h.HoldID, h.ProductID, h.Quantity, string(h.Status), h.CreatedAt)
	return err
}

func (r holdRepo) ListByHold(ctx context.Context, holdID string, status orders.HoldStatus) ([]orders.Reservation, error) {
	return r.list(ctx, `
		SELECT id, hold_id, product_id, qty, status, created_at, resolved_at
		FROM reservations WHERE hold_id=$1 AND status=$2
		ORDER BY created_at, id`, holdID, string(status))
}

func (r holdRepo) ListExpired(ctx context.Context, before time.Time, after store.HoldCursor, limit int) ([]orders.Reservation, error) {
	if after.ID == "" {
		return r.list(ctx, `
			SELECT id, hold_id, product_id, qty, status, created_at, resolved_at
			FROM reservations WHERE status='RESERVED' AND created_at < $1
			ORDER BY created_at, id LIMIT $2`, before, limit)
	}
	return r.list(ctx, `
		SELECT id, hold_id, product_id, qty, status, created_at, resolved_at
		FROM reservations
		WHERE status='RESERVED' AND created_at < $1 AND (created_at, id) > ($2, $3)
		ORDER BY created_at, id LIMIT $4`, before, after.CreatedAt, after.ID, limit)
}

func (r holdRepo) list(ctx context.Context, sql string, args ...any) ([]orders.Reservation, error) {
	rows, err := r.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Reservation
	for rows.Next() {
		var (
			h      orders.Reservation
			status string
		)
		if err := rows.Scan(&h.ID, &h.HoldID, &h.ProductID, &h.Quantity, &status, &h.CreatedAt, &h.ResolvedAt); err != nil {
			return nil, err
		}
		h.Status = orders.HoldStatus(status)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r holdRepo) Resolve(ctx context.Context, id string, to orders.HoldStatus, at time.Time) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
		UPDATE reservations SET status=$2, resolved_at=$3
		WHERE id=$1 AND status='RESERVED'`, id, string(to), at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// ---- orders ----

type orderRepo struct{ tx pgx.Tx }

func (r orderRepo) Insert(ctx context.Context, o orders.Order) error {
	shipping, err := json.Marshal(o.ShippingInfo)
	if err != nil {
		return err
	}
	billing, err := json.Marshal(o.BillingInfo)
	if err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, payment_status, payment_method, payment_reference,
		                   total, shipping, billing, status_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8::jsonb,$9::jsonb,$10,$11,$12)`,
		o.ID, o.UserID, string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod), o.PaymentReference,
		o.Total.String(), string(shipping), string(billing), o.StatusReason, o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return err
	}

	for _, li := range o.LineItems {
		if _, err := r.tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, qty, unit_price)
			VALUES ($1,$2,$3,$4::numeric)`,
			o.ID, li.ProductID, li.Quantity, li.UnitPrice.String()); err != nil {
			return err
		}
	}
	return nil
}

const orderColumns = `id, user_id, status, payment_status, payment_method, payment_reference,
	total::text, shipping, billing, status_reason, created_at, updated_at`

func (r orderRepo) Get(ctx context.Context, id string) (orders.Order, error) {
	return r.getWhere(ctx, `id=$1`, id)
}

func (r orderRepo) GetByReference(ctx context.Context, reference string) (orders.Order, error) {
	o, err := r.getWhere(ctx, `payment_reference=$1`, reference)
	if !errors.Is(err, orders.ErrNotFound) {
		return o, err
	}
	// reference lama yang sudah diganti tetap tercatat di payments
	return r.getWhere(ctx, `id=(SELECT order_id FROM payments WHERE reference=$1)`, reference)
}

func (r orderRepo) getWhere(ctx context.Context, where string, arg any) (orders.Order, error) {
	var (
		o                         orders.Order
		status, payStatus, method string
		total                     string
		shipping, billing         []byte
	)
	err := r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg).Scan(
		&o.ID, &o.UserID, &status, &payStatus, &method, &o.PaymentReference,
		&total, &shipping, &billing, &o.StatusReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return orders.Order{}, notFound(err, fmt.Sprintf("order %v", arg))
	}
	o.Status = orders.Status(status)
	o.PaymentStatus = orders.PaymentStatus(payStatus)
	o.PaymentMethod = orders.PaymentMethod(method)
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return orders.Order{}, err
	}
	if err := json.Unmarshal(shipping, &o.ShippingInfo); err != nil {
		return orders.Order{}, err
	}
	if err := json.Unmarshal(billing, &o.BillingInfo); err != nil {
		return orders.Order{}, err
	}

	rows, err := r.tx.Query(ctx, `
		SELECT product_id, qty, unit_price::text FROM order_items
		WHERE order_id=$1 ORDER BY product_id`, o.ID)
	if err != nil {
		return orders.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			li    orders.LineItem
			price string
		)
		if err := rows.Scan(&li.ProductID, &li.Quantity, &price); err != nil {
			return orders.Order{}, err
		}
		if li.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return orders.Order{}, err
		}
		o.LineItems = append(o.LineItems, li)
	}
	return o, rows.Err()
}

func (r orderRepo) Transition(ctx context.Context, id string, from, to store.OrderState, reason string, at time.Time) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
		UPDATE orders
		SET status=$4, payment_status=$5, status_reason=COALESCE(NULLIF($6, ''), status_reason), updated_at=$7
		WHERE id=$1 AND status=$2 AND payment_status=$3`,
		id, string(from.Status), string(from.PaymentStatus),
		string(to.Status), string(to.PaymentStatus), reason, at)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("order %s: %w", id, orders.ErrNotFound)
	}
	return false, nil
}

func (r orderRepo) SetPaymentReference(ctx context.Context, id, reference string, at time.Time) error {
	ct, err := r.tx.Exec(ctx, `UPDATE orders SET payment_reference=$2, updated_at=$3 WHERE id=$1`, id, reference, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("order %s: %w", id, orders.ErrNotFound)
	}
	return nil
}

// ---- payments ----

type paymentRepo struct{ tx pgx.Tx }

func (r paymentRepo) Insert(ctx context.Context, p orders.Payment) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO payments(id, order_id, provider, reference, provider_reference, amount, status, redirect_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9,$10)`,
		p.ID, p.OrderID, p.Provider, p.Reference, p.ProviderReference, p.Amount.String(),
		string(p.Status), p.RedirectURL, p.CreatedAt, p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == openPaymentIndex {
		return store.ErrOpenPayment
	}
	return err
}

const paymentColumns = `id, order_id, provider, reference, provider_reference, amount::text, refunded_amount::text,
	status, redirect_url, created_at, updated_at`

func (r paymentRepo) GetByReference(ctx context.Context, reference string) (orders.Payment, error) {
	return r.scan(r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference=$1`, reference), "payment "+reference)
}

func (r paymentRepo) LatestForOrder(ctx context.Context, orderID string) (orders.Payment, error) {
	return r.scan(r.tx.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE order_id=$1
		ORDER BY created_at DESC LIMIT 1`, orderID), "payment for order "+orderID)
}

func (r paymentRepo) scan(row pgx.Row, what string) (orders.Payment, error) {
	var (
		p                        orders.Payment
		amount, refunded, status string
	)
	if err := row.Scan(&p.ID, &p.OrderID, &p.Provider, &p.Reference, &p.ProviderReference,
		&amount, &refunded, &status, &p.RedirectURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return orders.Payment{}, notFound(err, what)
	}
	p.Status = orders.PaymentRecordStatus(status)
	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return orders.Payment{}, err
	}
	if p.RefundedAmount, err = decimal.NewFromString(refunded); err != nil {
		return orders.Payment{}, err
	}
	return p, nil
}

func (r paymentRepo) Initialize(ctx context.Context, id, providerRef, redirectURL string, at time.Time) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
		UPDATE payments
		SET provider_reference=COALESCE(NULLIF($2, ''), provider_reference), redirect_url=$3,
		    status='INITIALIZED', updated_at=$4
		WHERE id=$1 AND status='PENDING'`, id, providerRef, redirectURL, at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r paymentRepo) Transition(ctx context.Context, id string, from []orders.PaymentRecordStatus, to orders.PaymentRecordStatus, at time.Time) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
		UPDATE payments SET status=$3, updated_at=$4
		WHERE id=$1 AND status = ANY($2)`, id, statusStrings(from), string(to), at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r paymentRepo) SettleRefund(ctx context.Context, id string, from []orders.PaymentRecordStatus, to orders.PaymentRecordStatus, refunded decimal.Decimal, at time.Time) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
		UPDATE payments SET status=$3, refunded_amount=$4::numeric, updated_at=$5
		WHERE id=$1 AND status = ANY($2)`, id, statusStrings(from), string(to), refunded.String(), at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func statusStrings(ss []orders.PaymentRecordStatus) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		out = append(out, string(s))
	}
	return out
}

func (r paymentRepo) SetProviderReference(ctx context.Context, id, providerRef string, at time.Time) error {
	ct, err := r.tx.Exec(ctx, `UPDATE payments SET provider_reference=$2, updated_at=$3 WHERE id=$1`, id, providerRef, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("payment %s: %w", id, orders.ErrNotFound)
	}
	return nil
}
