package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/Overland-East-Bay/ride-live-api"

// Metrics holds the instruments recorded by the realtime engine.
type Metrics struct {
	ConnectionsActive metric.Int64UpDownCounter
	EventsHandled     metric.Int64Counter
	EventsFailed      metric.Int64Counter

	BroadcastDelivered metric.Int64Counter
	BroadcastDropped   metric.Int64Counter

	PresenceTransitions metric.Int64Counter
	RoomsActive         metric.Int64UpDownCounter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)
	m := &Metrics{}

	m.ConnectionsActive, _ = meter.Int64UpDownCounter(
		"ridelive.connections.active",
		metric.WithDescription("Open websocket connections"),
		metric.WithUnit("{connection}"),
	)
	m.EventsHandled, _ = meter.Int64Counter(
		"ridelive.events.handled",
		metric.WithDescription("Inbound events dispatched"),
		metric.WithUnit("{event}"),
	)
	m.EventsFailed, _ = meter.Int64Counter(
		"ridelive.events.failed",
		metric.WithDescription("Inbound events answered with an error event"),
		metric.WithUnit("{event}"),
	)
	m.BroadcastDelivered, _ = meter.Int64Counter(
		"ridelive.broadcast.delivered",
		metric.WithDescription("Outbound events queued to a connection"),
		metric.WithUnit("{event}"),
	)
	m.BroadcastDropped, _ = meter.Int64Counter(
		"ridelive.broadcast.dropped",
		metric.WithDescription("Outbound events dropped because the recipient was gone or its queue was full"),
		metric.WithUnit("{event}"),
	)
	m.PresenceTransitions, _ = meter.Int64Counter(
		"ridelive.presence.transitions",
		metric.WithDescription("Online/offline transitions"),
		metric.WithUnit("{transition}"),
	)
	m.RoomsActive, _ = meter.Int64UpDownCounter(
		"ridelive.rooms.active",
		metric.WithDescription("Rooms with at least one member"),
		metric.WithUnit("{room}"),
	)
	return m
}
