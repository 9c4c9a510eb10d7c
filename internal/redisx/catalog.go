package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ProductSource interface {
	GetProduct(ctx context.Context, id string) (orders.Product, error)
}

// CachedCatalog is a read-through cache in front of the catalog. Redis failures fall back
// to the source.
type CachedCatalog struct {
	next   ProductSource
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedCatalog(next ProductSource, rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *CachedCatalog {
	if ttl <= 0 {
		ttl = TTLCatalog
	}
	return &CachedCatalog{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

type cachedProduct struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	CurrentStock int             `json:"current_stock"`
}

func (c *CachedCatalog) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	key := fmt.Sprintf(KeyCatalogProduct, id)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cp cachedProduct
		if jerr := json.Unmarshal(raw, &cp); jerr == nil {
			return orders.Product(cp), nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("catalog cache read failed", zap.String("product_id", id), zap.Error(err))
	}

	p, err := c.next.GetProduct(ctx, id)
	if err != nil {
		return orders.Product{}, err
	}
	if b, err := json.Marshal(cachedProduct(p)); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.logger.Warn("catalog cache write failed", zap.String("product_id", id), zap.Error(err))
		}
	}
	return p, nil
}
