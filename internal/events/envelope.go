package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Envelope is the transport-ready wrapper around an event. It carries W3C
// trace context so downstream consumers can stitch distributed traces, plus
// a correlation id and producer identity.
type Envelope struct {
	Event AuthEvent `json:"event"`

	// IdempotencyKey deduplicates retried deliveries. Empty falls back to
	// the event id.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	Traceparent string `json:"traceparent,omitempty"`
	Tracestate  string `json:"tracestate,omitempty"`

	CorrelationID string            `json:"correlation_id"`
	Producer      string            `json:"producer"`
	ProducedAt    time.Time         `json:"produced_at"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// NewEnvelope wraps an event, capturing trace context from ctx when a span
// is active.
func NewEnvelope(ctx context.Context, event AuthEvent, producer string) Envelope {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return Envelope{
		Event:         event,
		Traceparent:   carrier.Get("traceparent"),
		Tracestate:    carrier.Get("tracestate"),
		CorrelationID: uuid.NewString(),
		Producer:      producer,
		ProducedAt:    time.Now().UTC(),
	}
}

// WithAttribute attaches extension metadata for downstream backends.
func (e Envelope) WithAttribute(key, value string) Envelope {
	if e.Attributes == nil {
		e.Attributes = map[string]string{}
	}
	e.Attributes[key] = value
	return e
}

// EffectiveIdempotencyKey resolves the dedup key: explicit key first, event
// id otherwise.
func (e Envelope) EffectiveIdempotencyKey() string {
	if e.IdempotencyKey != "" {
		return e.IdempotencyKey
	}
	return e.Event.ID
}
