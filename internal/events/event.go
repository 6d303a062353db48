// Package events publishes lifecycle events to pluggable sinks. Publication
// is best-effort and non-blocking: a failure or a full buffer never affects
// the protocol response that produced the event.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	TypeClientRegistered    = "client.registered"
	TypeClientAuthenticated = "client.authenticated"
	TypeCodeIssued          = "code.issued"
	TypeCodeConsumed        = "code.consumed"
	TypeCodeReplayed        = "code.replayed"
	TypeTokenIssued         = "token.issued"
	TypeTokenRefreshed      = "token.refreshed"
	TypeTokenIntrospected   = "token.introspected"
	TypeTokenRevoked        = "token.revoked"
)

// Severity levels
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AuthEvent is one lifecycle occurrence.
type AuthEvent struct {
	ID        string            `json:"id"`
	Type      string            `json:"event_type"`
	Severity  string            `json:"severity"`
	UserID    string            `json:"user_id,omitempty"`
	ClientID  string            `json:"client_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// New creates an event with a fresh id and UTC timestamp.
func New(eventType, severity, userID, clientID string) AuthEvent {
	return AuthEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Severity:  severity,
		UserID:    userID,
		ClientID:  clientID,
		Timestamp: time.Now().UTC(),
	}
}

// WithMetadata attaches a key/value pair and returns the event for chaining.
func (e AuthEvent) WithMetadata(key, value string) AuthEvent {
	if e.Metadata == nil {
		e.Metadata = map[string]string{}
	}
	e.Metadata[key] = value
	return e
}
