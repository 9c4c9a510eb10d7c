package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	next      int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.next < len(r.msgs) {
		m := r.msgs[r.next]
		r.next++
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

// offsets returns the committed offsets of partition in commit order.
func (r *fakeReader) offsets(partition int) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, m := range r.committed {
		if m.Partition == partition {
			out = append(out, m.Offset)
		}
	}
	return out
}

func msg(partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: "orders.refund_requested", Partition: partition, Offset: offset}
}

func run(t *testing.T, c *Consumer, h Handler) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	return func() {
		stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func TestConsumer_CommitsEachPartitionInOrderDespiteRetries(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		msg(0, 0), msg(1, 0), msg(0, 1), msg(1, 1), msg(0, 2), msg(0, 3), msg(1, 2),
	}}
	c := newConsumer(r, 4, zap.NewNop())
	c.retryBase = time.Millisecond

	var (
		mu       sync.Mutex
		failures = map[int64]int{0: 2}
	)
	stop := run(t, c, func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		if m.Partition == 0 && failures[m.Offset] > 0 {
			failures[m.Offset]--
			return errors.New("downstream unavailable")
		}
		return nil
	})
	defer stop()

	require.Eventually(t, func() bool {
		return len(r.offsets(0)) == 4 && len(r.offsets(1)) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{0, 1, 2, 3}, r.offsets(0))
	assert.Equal(t, []int64{0, 1, 2}, r.offsets(1))
}

func TestConsumer_StuckMessageHoldsBackOnlyItsPartition(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		msg(0, 0), msg(0, 1), msg(0, 2), msg(1, 0), msg(1, 1),
	}}
	c := newConsumer(r, 2, zap.NewNop())
	c.retryBase = time.Millisecond

	var (
		mu   sync.Mutex
		seen []kafka.Message
	)
	stop := run(t, c, func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		seen = append(seen, m)
		mu.Unlock()
		if m.Partition == 0 && m.Offset == 0 {
			return errors.New("poison")
		}
		return nil
	})

	require.Eventually(t, func() bool { return len(r.offsets(1)) == 2 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Empty(t, r.offsets(0), "nothing past the failing offset may be committed")
	mu.Lock()
	defer mu.Unlock()
	for _, m := range seen {
		if m.Partition == 0 {
			assert.Zero(t, m.Offset, "later offsets of the stuck partition wait their turn")
		}
	}
}
