package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"account-platform/backend/internal/events"
)

// NewEventPublisher returns an events.Publisher that sends events as OTel log
// records via the given LoggerProvider. Used as the event sink when Kafka is
// not configured. If provider is nil, returns a no-op publisher.
func NewEventPublisher(provider *sdklog.LoggerProvider) events.Publisher {
	if provider == nil {
		return noopPublisher{}
	}
	return &otelPublisher{logger: provider.Logger("accounts.events")}
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, *events.Event) error { return nil }
func (noopPublisher) Close() error                                 { return nil }

type otelPublisher struct {
	logger otellog.Logger
}

// Publish converts the event to an OTel log record and emits it. Best-effort.
func (p *otelPublisher) Publish(ctx context.Context, event *events.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	}
	if len(event.Metadata) > 0 {
		rec.SetBody(otellog.BytesValue(event.Metadata))
	}
	if event.AccountID != "" {
		rec.AddAttributes(otellog.String("account_id", event.AccountID))
	}
	if event.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", event.SessionID))
	}
	if event.EventType != "" {
		rec.AddAttributes(otellog.String("event_type", event.EventType))
	}
	if event.Source != "" {
		rec.AddAttributes(otellog.String("source", event.Source))
	}
	if rec.Timestamp().IsZero() {
		rec.SetTimestamp(time.Now().UTC())
	}
	p.logger.Emit(ctx, rec)
	return nil
}

// Close is a no-op; the LoggerProvider owns the exporter lifecycle.
func (p *otelPublisher) Close() error { return nil }
