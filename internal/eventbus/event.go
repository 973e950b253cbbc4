// Package eventbus publishes invoice lifecycle events. Publishing is best
// effort: callers log failures and carry on.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"

	"github.com/smallbiznis/billingcore/internal/errs"
)

const (
	TopicInvoiceFinalized = "invoice.finalized"
	TopicInvoiceIssued    = "invoice.issued"

	DriverLog    = "log"
	DriverRedis  = "redis"
	DriverOutbox = "outbox"
)

var ErrMissingType = errors.New("event_type_required")

type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	TenantID   snowflake.ID   `json:"tenant_id"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NewEvent stamps a fresh ULID on the event.
func NewEvent(eventType string, tenantID snowflake.ID, payload map[string]any, at time.Time) Event {
	return Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		TenantID:   tenantID,
		Payload:    payload,
		OccurredAt: at.UTC(),
	}
}

func (e Event) validate() error {
	if e.Type == "" {
		return errs.Wrap(errs.KindInvalidArgument, "eventbus.publish", ErrMissingType)
	}
	return nil
}

func (e Event) encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, errs.Serde("eventbus.encode", err)
	}
	return raw, nil
}
