// Package events carries domain notifications out of the engine after the
// state change they describe has been committed.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Event types.
const (
	TypeLinesGenerated = "lines_generated"
	TypeWagerPlaced    = "wager_placed"
	TypeLineResolved   = "line_resolved"
)

// Event is a JSON-serializable notification. Money fields are decimal strings.
type Event struct {
	Type         string    `json:"type"`
	LineID       string    `json:"line_id,omitempty"`
	LineIDs      []string  `json:"line_ids,omitempty"`
	WagerID      string    `json:"wager_id,omitempty"`
	AccountID    string    `json:"account_id,omitempty"`
	City         string    `json:"city,omitempty"`
	TargetDate   string    `json:"target_date,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	TotalWagered string    `json:"total_wagered,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
	Winners      int       `json:"winners,omitempty"`
	PaidOut      string    `json:"paid_out,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Key partitions events by line, falling back to the event type.
func (e Event) Key() string {
	if e.LineID != "" {
		return e.LineID
	}
	return e.Type
}

// Publisher delivers events. Implementations must not block the caller for
// long; delivery failures are returned, never panicked.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit publishes e and logs a failure instead of returning it. Domain
// operations have already committed by the time they emit.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := p.Publish(ctx, e); err != nil {
		slog.Warn("event publish failed", "type", e.Type, "line_id", e.LineID, "err", err)
	}
}
