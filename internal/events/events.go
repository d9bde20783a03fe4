package events

import (
	"context"
	"time"

	"github.com/vigil-iam/vigil/backend/internal/logger"
)

// Event types broadcast to subscribers.
const (
	SessionCreated  = "session_created"
	SessionUpdated  = "session_updated"
	SessionRevoked  = "session_revoked"
	SessionExpired  = "session_expired"
	AnomalyDetected = "anomaly_detected"
	PolicyConflict  = "policy_conflict"
	HealthChanged   = "health_changed"
)

// Event is a real-time update about sessions, anomalies, policies or health.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New builds an event stamped with the current time.
func New(eventType, sessionID, userID string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher. Failures are logged and the
// first one is returned after all publishers ran.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			logger.Log().WithError(err).WithField("event_type", evt.Type).Warn("event publish failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
