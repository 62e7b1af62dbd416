// Package notify delivers snapshot-updated events to subscribers: a broker
// exchange over AMQP and dashboards connected over WebSocket.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

// Event types.
const (
	TypeGlobalUpdated    = "analytics.global.updated"
	TypeInterviewUpdated = "analytics.interview.updated"
	TypeInterviewDeleted = "analytics.interview.deleted"
)

// Event announces a new snapshot.
type Event struct {
	ID          string                        `json:"id"`
	Type        string                        `json:"type"`
	InterviewID int64                         `json:"interviewId,omitempty"`
	Interview   *analytics.InterviewAnalytics `json:"interview,omitempty"`
	Global      *analytics.GlobalAnalytics    `json:"global,omitempty"`
	Timestamp   time.Time                     `json:"timestamp"`
}

// NewEvent stamps an event with a fresh id.
func NewEvent(typ string, now time.Time) Event {
	return Event{ID: uuid.NewString(), Type: typ, Timestamp: now.UTC()}
}

// Publisher delivers events. Delivery failures never roll back a snapshot.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers and reports every failure.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
