package events

import (
	"context"
	"sync"

	"github.com/clave-auth/clave/internal/observability/logger"
	"go.uber.org/zap"
)

// LoggerSink writes envelopes to the structured log.
type LoggerSink struct {
	log *zap.Logger
}

func NewLoggerSink() *LoggerSink {
	return &LoggerSink{log: logger.Named("events.sink")}
}

func (s *LoggerSink) Name() string { return "logger" }

func (s *LoggerSink) Emit(_ context.Context, env Envelope) error {
	s.log.Info("auth event",
		logger.EventType(env.Event.Type),
		logger.String("event_id", env.Event.ID),
		logger.String("severity", env.Event.Severity),
		logger.UserID(env.Event.UserID),
		logger.ClientID(env.Event.ClientID),
		logger.String("correlation_id", env.CorrelationID),
	)
	return nil
}

// MemorySink keeps the last capacity envelopes. Test helper.
type MemorySink struct {
	mu       sync.Mutex
	capacity int
	events   []Envelope
}

func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemorySink{capacity: capacity}
}

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Emit(_ context.Context, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, env)
	if len(s.events) > s.capacity {
		s.events = s.events[len(s.events)-s.capacity:]
	}
	return nil
}

// Events returns a snapshot of captured envelopes.
func (s *MemorySink) Events() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, len(s.events))
	copy(out, s.events)
	return out
}
