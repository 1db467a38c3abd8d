// Package broadcast routes outbound events to live connections.
package broadcast

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/telemetry"
)

// Event is one outbound message. Data must not be mutated after it is handed to a broadcaster.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Sink is the outbound side of one connection. Send must not block; it reports false when the
// event was dropped.
type Sink interface {
	Send(ev Event) bool
}

// Sender delivers to a single connection.
type Sender interface {
	ToConnection(conn domain.ConnectionID, ev Event)
}

// Broadcaster is the full set of delivery primitives. All of them are fire-and-forget:
// events for absent recipients are dropped and nothing is queued for later.
type Broadcaster interface {
	Sender
	ToRoomExceptSender(ride domain.RideID, sender domain.ConnectionID, ev Event)
	ToRoomIncludingSender(ride domain.RideID, ev Event)
}

// RoomDirectory lists the identities subscribed to a ride.
type RoomDirectory interface {
	MembersOf(ride domain.RideID) []domain.UserID
}

// ConnectionDirectory lists the live connections of an identity.
type ConnectionDirectory interface {
	Lookup(user domain.UserID) []domain.ConnectionID
}

// Hub owns the table of attached sinks. It is safe for concurrent use.
//
// Each sink preserves the order of Send calls, so events submitted by one goroutine reach every
// recipient in submission order.
type Hub struct {
	log     zerolog.Logger
	metrics *telemetry.Metrics

	mu    sync.RWMutex
	sinks map[domain.ConnectionID]Sink
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:     log,
		metrics: telemetry.GetMetrics(),
		sinks:   make(map[domain.ConnectionID]Sink),
	}
}

func (h *Hub) Attach(conn domain.ConnectionID, sink Sink) {
	h.mu.Lock()
	h.sinks[conn] = sink
	h.mu.Unlock()
}

func (h *Hub) Detach(conn domain.ConnectionID) {
	h.mu.Lock()
	delete(h.sinks, conn)
	h.mu.Unlock()
}

func (h *Hub) ToConnection(conn domain.ConnectionID, ev Event) {
	h.mu.RLock()
	sink, ok := h.sinks[conn]
	h.mu.RUnlock()

	attrs := metric.WithAttributes(attribute.String("event", ev.Name))
	if !ok || !sink.Send(ev) {
		h.metrics.BroadcastDropped.Add(context.Background(), 1, attrs)
		h.log.Debug().Str("conn_id", string(conn)).Str("event", ev.Name).Msg("outbound event dropped")
		return
	}
	h.metrics.BroadcastDelivered.Add(context.Background(), 1, attrs)
}

// RoomBroadcaster fans events out to ride rooms through a Hub.
type RoomBroadcaster struct {
	*Hub
	rooms RoomDirectory
	conns ConnectionDirectory
}

func New(hub *Hub, rooms RoomDirectory, conns ConnectionDirectory) *RoomBroadcaster {
	return &RoomBroadcaster{Hub: hub, rooms: rooms, conns: conns}
}

func (b *RoomBroadcaster) ToRoomExceptSender(ride domain.RideID, sender domain.ConnectionID, ev Event) {
	b.fanOut(ride, sender, ev)
}

func (b *RoomBroadcaster) ToRoomIncludingSender(ride domain.RideID, ev Event) {
	b.fanOut(ride, "", ev)
}

func (b *RoomBroadcaster) fanOut(ride domain.RideID, skip domain.ConnectionID, ev Event) {
	for _, user := range b.rooms.MembersOf(ride) {
		for _, conn := range b.conns.Lookup(user) {
			if conn == skip {
				continue
			}
			b.ToConnection(conn, ev)
		}
	}
}

var _ Broadcaster = (*RoomBroadcaster)(nil)
