package relay

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/canteo/chat-relay/internal/core/domain"
)

// Metrics holds the relay's OpenTelemetry instruments. A nil *Metrics is
// valid and records nothing, so the relay works without telemetry wired.
type Metrics struct {
	sessions   metric.Int64UpDownCounter
	events     metric.Int64Counter
	deliveries metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	sessions, err := meter.Int64UpDownCounter("relay.sessions.active",
		metric.WithDescription("Number of live authenticated sessions"),
	)
	if err != nil {
		return nil, err
	}

	events, err := meter.Int64Counter("relay.events.relayed",
		metric.WithDescription("Events accepted for fan-out, by type"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("relay.event.deliveries",
		metric.WithDescription("Per-session deliveries attempted by the router"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		sessions:   sessions,
		events:     events,
		deliveries: deliveries,
	}, nil
}

func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1)
}

func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, -1)
}

func (m *Metrics) EventRelayed(ctx context.Context, eventType domain.EventType, delivered int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("event_type", string(eventType)))
	m.events.Add(ctx, 1, attrs)
	m.deliveries.Add(ctx, int64(delivered), attrs)
}
