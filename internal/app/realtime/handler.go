// Package realtime orchestrates connection lifecycle and inbound events.
//
// The handler owns no shared state of its own. Inbound events are routed through a dispatch
// table keyed by event name; every entry decodes its payload and calls into the presence, room
// and ride services.
package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/oapi-codegen/nullable"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Overland-East-Bay/ride-live-api/internal/app/apperr"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/broadcast"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/events"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/presence"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/rides"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/rooms"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/telemetry"
	clockport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/clock"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
)

// DefaultHistoryLimit is how many recent chat messages joined_ride carries.
const DefaultHistoryLimit = 50

// Resolver turns a credential into a verified identity and names users for display.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (domain.UserIdentity, error)
	DisplayName(ctx context.Context, id domain.UserID) (string, error)
}

// Transport is the outbound side: delivery primitives plus sink registration.
type Transport interface {
	broadcast.Broadcaster
	Attach(conn domain.ConnectionID, sink broadcast.Sink)
	Detach(conn domain.ConnectionID)
}

// Services are the collaborators the handler orchestrates.
type Services struct {
	Identity Resolver
	Presence *presence.Registry
	Rooms    *rooms.Manager
	Rides    *rides.Service

	Store riderepo.Repository

	Out   Transport
	Clock clockport.Clock
}

type eventFunc func(ctx context.Context, s *Session, payload json.RawMessage) error

type Handler struct {
	svc     Services
	log     zerolog.Logger
	metrics *telemetry.Metrics

	dispatch map[string]eventFunc

	// HistoryLimit bounds the chat backlog sent on join.
	HistoryLimit int
}

// NewHandler builds the handler and registers its disconnect cleanup with the presence registry.
func NewHandler(svc Services, log zerolog.Logger) *Handler {
	h := &Handler{
		svc:          svc,
		log:          log.With().Str("component", "realtime").Logger(),
		metrics:      telemetry.GetMetrics(),
		HistoryLimit: DefaultHistoryLimit,
	}
	h.dispatch = map[string]eventFunc{
		events.Authenticate:   h.authenticate,
		events.JoinRide:       h.joinRide,
		events.LeaveRide:      h.leaveRide,
		events.UpdateLocation: h.updateLocation,
		events.SendMessage:    h.sendMessage,
		events.StartRide:      h.startRide,
		events.EndRide:        h.endRide,
		events.CancelRide:     h.cancelRide,
		events.Typing:         h.typing,
		events.InviteRider:    h.inviteRider,
		events.RespondRide:    h.respondRide,
		events.QuitRide:       h.quitRide,
	}
	svc.Presence.AddOfflineHook(h.pruneRooms)
	return h
}

// Connect attaches sink as the outbound side of a new connection and returns its session.
func (h *Handler) Connect(ctx context.Context, sink broadcast.Sink) *Session {
	s := &Session{
		ID:        domain.ConnectionID(uuid.NewString()),
		CreatedAt: h.svc.Clock.Now().UTC(),
	}
	h.svc.Out.Attach(s.ID, sink)
	h.metrics.ConnectionsActive.Add(ctx, 1)
	h.log.Debug().Str("conn_id", string(s.ID)).Msg("connection opened")
	return s
}

// Handle dispatches one inbound event. Failures are reported to the originating connection as
// an error event; Handle never closes the connection.
func (h *Handler) Handle(ctx context.Context, s *Session, name string, payload json.RawMessage) {
	ctx, span := telemetry.Tracer().Start(ctx, "realtime."+name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("conn_id", string(s.ID))),
	)
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("event", name))
	h.metrics.EventsHandled.Add(ctx, 1, attrs)

	err := h.run(ctx, s, name, payload)
	if err == nil {
		return
	}

	ae := apperr.As(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(ae.Code))
	h.metrics.EventsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("event", name), attribute.String("code", string(ae.Code))))

	ev := h.log.Debug()
	if ae.Code == apperr.CodeStoreUnavailable {
		ev = h.log.Warn()
	}
	ev.Err(err).Str("conn_id", string(s.ID)).Str("event", name).Str("code", string(ae.Code)).Msg("event rejected")

	h.svc.Out.ToConnection(s.ID, broadcast.Event{Name: events.Error, Data: errorPayload(name, ae)})
}

func (h *Handler) run(ctx context.Context, s *Session, name string, payload json.RawMessage) error {
	fn, ok := h.dispatch[name]
	if !ok {
		return apperr.New(apperr.CodeUnknownEvent, "unknown event")
	}
	if name != events.Authenticate {
		if _, ok := s.Identity(); !ok {
			return apperr.ErrUnauthenticated
		}
	}
	return fn(ctx, s, payload)
}

// Disconnect runs connection cleanup. It ignores cancellation of ctx: cleanup always completes,
// and its failures are logged rather than returned.
func (h *Handler) Disconnect(ctx context.Context, s *Session) {
	ctx = context.WithoutCancel(ctx)

	h.svc.Out.Detach(s.ID)
	h.metrics.ConnectionsActive.Add(ctx, -1)

	who, last, ok := h.svc.Presence.Unregister(ctx, s.ID)
	l := h.log.Debug().Str("conn_id", string(s.ID))
	if ok {
		l = l.Str("user_id", string(who.ID)).Bool("last_connection", last)
	}
	l.Msg("connection closed")
}

// pruneRooms runs under the identity's presence lock once its last connection is gone.
func (h *Handler) pruneRooms(_ context.Context, who domain.UserIdentity) {
	for _, ride := range h.svc.Rooms.RemoveUserFromAll(who.ID) {
		h.svc.Out.ToRoomIncludingSender(ride, broadcast.Event{
			Name: events.ParticipantLeft,
			Data: events.RoomMemberPayload{SessionID: ride, UserRef: userRef(who)},
		})
	}
}

func (h *Handler) actor(s *Session) rides.Actor {
	who, _ := s.Identity()
	return rides.Actor{Identity: who, Conn: s.ID}
}

func (h *Handler) reply(s *Session, name string, data any) {
	h.svc.Out.ToConnection(s.ID, broadcast.Event{Name: name, Data: data})
}

func errorPayload(event string, ae *apperr.Error) events.ErrorPayload {
	p := events.ErrorPayload{Code: string(ae.Code), Message: ae.Message, Event: event}
	if p.Message == "" {
		p.Message = string(ae.Code)
	}
	if ae.Details != nil {
		p.Details = nullable.NewNullableWithValue(ae.Details)
	}
	return p
}

// decode unmarshals an optional payload. A missing payload decodes to the zero value.
func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		var syn *json.SyntaxError
		var typ *json.UnmarshalTypeError
		details := map[string]any{"payload": "malformed JSON"}
		if errors.As(err, &typ) {
			details = map[string]any{typ.Field: "wrong type"}
		} else if !errors.As(err, &syn) {
			details = map[string]any{"payload": err.Error()}
		}
		return apperr.Validation("invalid payload", details)
	}
	return nil
}

func requireSession(id domain.RideID) error {
	if id == "" {
		return apperr.Validation("invalid payload", map[string]any{"sessionId": "required"})
	}
	return nil
}

func userRef(u domain.UserIdentity) events.UserRef {
	return events.UserRef{UserID: u.ID, DisplayName: u.DisplayName}
}
