package eventbus

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the log only.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("eventbus.log")}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	if err := event.validate(); err != nil {
		return err
	}
	p.log.Info(event.Type,
		zap.String("event_id", event.ID),
		zap.String("tenant_id", event.TenantID.String()),
		zap.Any("payload", event.Payload),
	)
	return nil
}
