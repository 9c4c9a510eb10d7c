package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

const eventVersion = 1

type publisher interface {
	Publish(topic string, key, value []byte, headers ...kafka.Header) error
}

// Dispatcher wraps payloads in the event envelope and queues them on the producer.
type Dispatcher struct {
	producer publisher
	service  string
}

func NewDispatcher(p *Producer, service string) *Dispatcher {
	return &Dispatcher{producer: p, service: service}
}

func (d *Dispatcher) Enqueue(ctx context.Context, topic, eventType, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      d.service,
		CorrelationID: key,
		Payload:       body,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		ev.TraceID = sc.TraceID().String()
	}

	return d.producer.Publish(topic, orders.PartitionKey(key), MustMarshal(ev),
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(eventVersion))},
	)
}
