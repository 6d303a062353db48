package events

import (
	"context"
	"testing"
	"time"
)

func TestBus_DeliversToSinks(t *testing.T) {
	sink := NewMemorySink(16)
	bus := NewBus(AllowAll(), 16, sink)

	env := NewEnvelope(context.Background(), New(TypeTokenIssued, SeverityInfo, "u1", "c1"), "test")
	bus.Publish(env)
	bus.Close() // drains

	got := sink.Events()
	if len(got) != 1 {
		t.Fatalf("want 1 event, got %d", len(got))
	}
	if got[0].Event.Type != TypeTokenIssued || got[0].Event.UserID != "u1" {
		t.Fatalf("event mismatch: %+v", got[0].Event)
	}
	if got[0].Producer != "test" || got[0].CorrelationID == "" {
		t.Fatalf("envelope mismatch: %+v", got[0])
	}
}

func TestBus_FilterModes(t *testing.T) {
	cases := []struct {
		name    string
		filter  Filter
		publish []string
		want    int
	}{
		{"allow_all", AllowAll(), []string{TypeTokenIssued, TypeCodeIssued}, 2},
		{"include", Include(TypeTokenIssued), []string{TypeTokenIssued, TypeCodeIssued}, 1},
		{"exclude", Exclude(TypeTokenIssued), []string{TypeTokenIssued, TypeCodeIssued}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := NewMemorySink(16)
			bus := NewBus(tc.filter, 16, sink)
			for _, typ := range tc.publish {
				bus.Publish(NewEnvelope(context.Background(), New(typ, SeverityInfo, "", ""), "test"))
			}
			bus.Close()
			if got := len(sink.Events()); got != tc.want {
				t.Fatalf("want %d delivered, got %d", tc.want, got)
			}
		})
	}
}

// slowSink blocks until released, simulating a stuck backend.
type slowSink struct{ release chan struct{} }

func (s *slowSink) Name() string { return "slow" }
func (s *slowSink) Emit(_ context.Context, _ Envelope) error {
	<-s.release
	return nil
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	slow := &slowSink{release: make(chan struct{})}
	bus := NewBus(AllowAll(), 2, slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			bus.Publish(NewEnvelope(context.Background(), New(TypeTokenIssued, SeverityInfo, "", ""), "test"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stuck sink")
	}
	if bus.Dropped() == 0 {
		t.Fatal("overflowing the buffer must count drops")
	}
	close(slow.release)
	bus.Close()
}

func TestEnvelope_IdempotencyKey(t *testing.T) {
	ev := New(TypeTokenIssued, SeverityInfo, "", "")
	env := NewEnvelope(context.Background(), ev, "test")

	if env.EffectiveIdempotencyKey() != ev.ID {
		t.Fatal("default idempotency key must be the event id")
	}
	env.IdempotencyKey = "explicit"
	if env.EffectiveIdempotencyKey() != "explicit" {
		t.Fatal("explicit key must win")
	}
}

func TestEvent_Metadata(t *testing.T) {
	ev := New(TypeCodeIssued, SeverityWarning, "u", "c").
		WithMetadata("scope", "read").
		WithMetadata("k", "v")
	if ev.Metadata["scope"] != "read" || ev.Metadata["k"] != "v" {
		t.Fatalf("metadata: %+v", ev.Metadata)
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Fatalf("event identity missing: %+v", ev)
	}
}
