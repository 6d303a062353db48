package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/clave-auth/clave/internal/observability/logger"
)

// Sink receives envelopes that pass the bus filter. Emit errors are logged
// and swallowed; they never propagate to producers.
type Sink interface {
	Name() string
	Emit(ctx context.Context, env Envelope) error
}

// Bus fans envelopes out to sinks from a single background worker. Publish
// never blocks: when the buffer is full the envelope is dropped and counted.
type Bus struct {
	filter  Filter
	sinks   []Sink
	ch      chan Envelope
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewBus starts the dispatch worker. buffer <= 0 defaults to 256.
func NewBus(filter Filter, buffer int, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	b := &Bus{
		filter: filter,
		sinks:  sinks,
		ch:     make(chan Envelope, buffer),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish enqueues the envelope for delivery. Fire-and-forget: filtered or
// dropped envelopes disappear silently apart from the drop counter.
func (b *Bus) Publish(env Envelope) {
	if !b.filter.Allows(env.Event.Type) {
		return
	}
	select {
	case b.ch <- env:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many envelopes were discarded due to a full buffer.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close stops the worker after draining the buffer.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.ch)
		<-b.done
	})
}

func (b *Bus) run() {
	defer close(b.done)
	log := logger.Named("events")
	for env := range b.ch {
		for _, s := range b.sinks {
			if err := s.Emit(context.Background(), env); err != nil {
				log.Warn("event emit failed (best-effort)",
					logger.String("sink", s.Name()),
					logger.EventType(env.Event.Type),
					logger.Err(err),
				)
			}
		}
	}
}
