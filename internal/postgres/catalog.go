package postgres

import (
	"context"
	"fmt"

	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Catalog reads product price and baseline stock from the products table.
type Catalog struct{ DB *pgxpool.Pool }

func (c *Catalog) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	err := c.DB.QueryRow(ctx, `SELECT id, name, price::text, stock FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &price, &p.CurrentStock)
	if err != nil {
		return orders.Product{}, notFound(err, "product "+id)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return orders.Product{}, fmt.Errorf("product %s price: %w", id, err)
	}
	return p, nil
}

func (c *Catalog) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := c.DB.Query(ctx, `SELECT id, name, price::text, stock FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		var (
			p     orders.Product
			price string
		)
		if err := rows.Scan(&p.ID, &p.Name, &price, &p.CurrentStock); err != nil {
			return nil, err
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
