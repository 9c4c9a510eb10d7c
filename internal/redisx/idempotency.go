package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idemPending = "PENDING"

var ErrRequestInFlight = errors.New("request with this idempotency key is still in flight")

// Idempotency maps a client supplied key to the order it created.
type Idempotency struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewIdempotency(rdb redis.Cmdable, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &Idempotency{rdb: rdb, ttl: ttl}
}

// Claim returns ("", true) when the caller owns the key and must process the request, or the
// order id of the earlier request. A claim whose request is still running yields ErrRequestInFlight.
func (i *Idempotency) Claim(ctx context.Context, userID, key string) (string, bool, error) {
	k := fmt.Sprintf(KeyIdemCheckout, userID, key)
	ok, err := i.rdb.SetNX(ctx, k, idemPending, i.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	v, err := i.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired di antara SETNX dan GET; coba sekali lagi
		return i.Claim(ctx, userID, key)
	}
	if err != nil {
		return "", false, err
	}
	if v == idemPending {
		return "", false, ErrRequestInFlight
	}
	return v, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, userID, key, orderID string) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemCheckout, userID, key), orderID, i.ttl).Err()
}

// Abandon frees the key after a failed request so the client can retry with it.
func (i *Idempotency) Abandon(ctx context.Context, userID, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemCheckout, userID, key)).Err()
}
