// Package webhook admits each provider event at most once within the retention window.
package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/redisx"
	"github.com/redis/go-redis/v9"
)

type Deduplicator interface {
	// Admit marks the event as seen and reports whether this is the first delivery.
	Admit(ctx context.Context, provider, eventID string) (bool, error)
	// Forget removes the mark so the provider's next retry is admitted again.
	Forget(ctx context.Context, provider, eventID string) error
}

// RedisDeduplicator uses one SET NX EX per delivery, so concurrent deliveries of the same
// event see exactly one admission.
type RedisDeduplicator struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisDeduplicator(rdb redis.Cmdable, ttl time.Duration) *RedisDeduplicator {
	if ttl <= 0 {
		ttl = redisx.TTLWebhookDedup
	}
	return &RedisDeduplicator{rdb: rdb, ttl: ttl}
}

func key(provider, eventID string) string {
	return fmt.Sprintf(redisx.KeyWebhookDedup, provider, eventID)
}

func (d *RedisDeduplicator) Admit(ctx context.Context, provider, eventID string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, key(provider, eventID), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("webhook dedup %s/%s: %w", provider, eventID, err)
	}
	return ok, nil
}

func (d *RedisDeduplicator) Forget(ctx context.Context, provider, eventID string) error {
	return d.rdb.Del(ctx, key(provider, eventID)).Err()
}

// MemoryDeduplicator has the same contract for a single process.
type MemoryDeduplicator struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduplicator(ttl time.Duration) *MemoryDeduplicator {
	if ttl <= 0 {
		ttl = redisx.TTLWebhookDedup
	}
	return &MemoryDeduplicator{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (d *MemoryDeduplicator) Admit(_ context.Context, provider, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key(provider, eventID)
	now := d.now()
	if exp, ok := d.seen[k]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[k] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduplicator) Forget(_ context.Context, provider, eventID string) error {
	d.mu.Lock()
	delete(d.seen, key(provider, eventID))
	d.mu.Unlock()
	return nil
}
