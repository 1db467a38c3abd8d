// Package rides coordinates ride lifecycle and participant actions and publishes their outcomes.
package rides

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Overland-East-Bay/ride-live-api/internal/app/apperr"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/broadcast"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/events"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/keylock"
	clockport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/clock"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/userrepo"
)

// Rooms is the part of the room manager the coordinator needs.
type Rooms interface {
	IsMember(ride domain.RideID, user domain.UserID) bool
	Leave(ride domain.RideID, user domain.UserID) bool
}

// Actor is the caller of an operation: who, and from which connection.
// Conn may be empty for callers without a live connection.
type Actor struct {
	Identity domain.UserIdentity
	Conn     domain.ConnectionID
}

// Service is the ride session coordinator.
//
// Every action re-reads the persisted ride and participant records. Lifecycle and participant
// changes on the same ride are serialized, and the store's compare-and-set on status is the
// final arbiter between racing lifecycle calls.
type Service struct {
	rides riderepo.Repository
	users userrepo.Repository
	rooms Rooms
	out   broadcast.Broadcaster
	clk   clockport.Clock
	log   zerolog.Logger

	keys *keylock.Locker

	newMessageID func() domain.MessageID
}

func NewService(ridesRepo riderepo.Repository, usersRepo userrepo.Repository, rooms Rooms, out broadcast.Broadcaster, clk clockport.Clock, log zerolog.Logger) *Service {
	return &Service{
		rides: ridesRepo,
		users: usersRepo,
		rooms: rooms,
		out:   out,
		clk:   clk,
		log:   log.With().Str("component", "rides").Logger(),
		keys:  keylock.New(),
		newMessageID: func() domain.MessageID {
			return domain.MessageID(uuid.NewString())
		},
	}
}

// SetNewMessageIDForTest overrides message ID generation for deterministic tests.
// It should not be used in production code.
func (s *Service) SetNewMessageIDForTest(fn func() domain.MessageID) {
	if fn != nil {
		s.newMessageID = fn
	}
}

// Summary projects a persisted ride onto the read model sent to clients.
func Summary(r riderepo.Ride) domain.RideSummary {
	return domain.RideSummary{
		ID:             r.ID,
		Name:           r.Name,
		OrganizerID:    r.OrganizerID,
		Status:         r.Status,
		ScheduledStart: r.ScheduledStart,
		StartedAt:      r.StartedAt,
	}
}

// Start moves a PLANNING ride to ACTIVE. Organizer only.
func (s *Service) Start(ctx context.Context, actor Actor, rideID domain.RideID) (riderepo.Ride, error) {
	unlock := s.keys.Lock(string(rideID))
	defer unlock()

	r, err := s.organizerRide(ctx, actor, rideID)
	if err != nil {
		return riderepo.Ride{}, err
	}
	if r.Status != domain.RideStatusPlanning {
		return riderepo.Ride{}, invalidStatus("ride can only be started from PLANNING", r.Status)
	}

	now := s.clk.Now().UTC()
	updated, err := s.transition(ctx, r, riderepo.StatusChange{
		From:      domain.RideStatusPlanning,
		To:        domain.RideStatusActive,
		StartedAt: &now,
		At:        now,
	})
	if err != nil {
		return riderepo.Ride{}, err
	}

	s.log.Info().Str("ride_id", string(rideID)).Str("user_id", string(actor.Identity.ID)).Msg("ride started")
	s.toRoomAndCaller(rideID, actor, broadcast.Event{
		Name: events.RideStarted,
		Data: events.RideStatePayload{Ride: events.RideRefFrom(Summary(updated))},
	})
	return updated, nil
}

// End moves an ACTIVE ride to COMPLETED and stores its statistics. Organizer only.
// Of two racing calls exactly one succeeds; the other gets InvalidState.
func (s *Service) End(ctx context.Context, actor Actor, rideID domain.RideID) (riderepo.Ride, error) {
	unlock := s.keys.Lock(string(rideID))
	defer unlock()

	r, err := s.organizerRide(ctx, actor, rideID)
	if err != nil {
		return riderepo.Ride{}, err
	}
	if r.Status != domain.RideStatusActive {
		return riderepo.Ride{}, invalidStatus("ride can only be ended while ACTIVE", r.Status)
	}

	now := s.clk.Now().UTC()
	stats, err := s.computeStats(ctx, r, now)
	if err != nil {
		return riderepo.Ride{}, err
	}
	updated, err := s.transition(ctx, r, riderepo.StatusChange{
		From:    domain.RideStatusActive,
		To:      domain.RideStatusCompleted,
		EndedAt: &now,
		Stats:   &stats,
		At:      now,
	})
	if err != nil {
		return riderepo.Ride{}, err
	}

	s.log.Info().
		Str("ride_id", string(rideID)).
		Int64("duration_s", stats.DurationSeconds).
		Int("participants", stats.ParticipantCount).
		Msg("ride ended")
	s.toRoomAndCaller(rideID, actor, broadcast.Event{
		Name: events.RideEnded,
		Data: events.RideEndedPayload{Ride: events.RideRefFrom(Summary(updated)), Stats: stats},
	})
	return updated, nil
}

// Cancel moves a PLANNING or ACTIVE ride to CANCELLED. Organizer only.
func (s *Service) Cancel(ctx context.Context, actor Actor, rideID domain.RideID) (riderepo.Ride, error) {
	unlock := s.keys.Lock(string(rideID))
	defer unlock()

	r, err := s.organizerRide(ctx, actor, rideID)
	if err != nil {
		return riderepo.Ride{}, err
	}
	if !r.Status.CanTransitionTo(domain.RideStatusCancelled) {
		return riderepo.Ride{}, invalidStatus("ride can no longer be cancelled", r.Status)
	}

	now := s.clk.Now().UTC()
	updated, err := s.transition(ctx, r, riderepo.StatusChange{
		From:    r.Status,
		To:      domain.RideStatusCancelled,
		EndedAt: &now,
		At:      now,
	})
	if err != nil {
		return riderepo.Ride{}, err
	}

	s.log.Info().Str("ride_id", string(rideID)).Msg("ride cancelled")
	s.toRoomAndCaller(rideID, actor, broadcast.Event{
		Name: events.RideCancelled,
		Data: events.RideStatePayload{Ride: events.RideRefFrom(Summary(updated))},
	})
	return updated, nil
}

// UpdateLocation stores the caller's latest position and relays it to the rest of the room.
// RecordedAt is always the server time.
func (s *Service) UpdateLocation(ctx context.Context, actor Actor, rideID domain.RideID, loc domain.Location) (domain.Location, error) {
	if err := loc.Validate(); err != nil {
		return domain.Location{}, apperr.Validation("invalid location", map[string]any{"coordinates": err.Error()})
	}

	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return domain.Location{}, err
	}
	if r.Status != domain.RideStatusActive {
		return domain.Location{}, invalidStatus("location updates require an ACTIVE ride", r.Status)
	}

	p, found, err := s.participant(ctx, rideID, actor.Identity.ID)
	if err != nil {
		return domain.Location{}, err
	}
	isOrganizer := r.OrganizerID == actor.Identity.ID
	if !isOrganizer && (!found || !p.Status.CanShareLocation()) {
		return domain.Location{}, apperr.ErrNotParticipant
	}

	now := s.clk.Now().UTC()
	loc.RecordedAt = now
	if found {
		err = s.rides.UpdateParticipantLocation(ctx, rideID, actor.Identity.ID, loc)
	} else {
		// The organizer may ride without an explicit participant record.
		err = s.rides.SaveParticipant(ctx, riderepo.Participant{
			RideID:    rideID,
			UserID:    actor.Identity.ID,
			Status:    domain.ParticipantJoined,
			Location:  &loc,
			Online:    true,
			JoinedAt:  &now,
			UpdatedAt: now,
		})
	}
	if err != nil {
		return domain.Location{}, apperr.Store(err)
	}

	s.out.ToRoomExceptSender(rideID, actor.Conn, broadcast.Event{
		Name: events.ParticipantLocation,
		Data: events.LocationPayload{
			SessionID:   rideID,
			UserRef:     userRef(actor.Identity),
			Coordinates: events.Coordinates{Latitude: loc.Latitude, Longitude: loc.Longitude},
			Speed:       loc.Speed,
			Heading:     loc.Heading,
			Timestamp:   now,
		},
	})
	return loc, nil
}

// PostMessage appends to the ride's chat log and publishes the stored message to the room,
// caller included.
func (s *Service) PostMessage(ctx context.Context, actor Actor, rideID domain.RideID, text, kind string) (domain.ChatMessage, error) {
	body := domain.NormalizeMessageText(text)
	if err := domain.ValidateMessageBody(body); err != nil {
		return domain.ChatMessage{}, apperr.Validation("invalid message", map[string]any{"message": err.Error()})
	}
	k, err := domain.ParseMessageKind(kind)
	if err != nil {
		return domain.ChatMessage{}, apperr.Validation("invalid message", map[string]any{"type": err.Error()})
	}

	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if r.Status.IsTerminal() {
		return domain.ChatMessage{}, invalidStatus("chat is closed for this ride", r.Status)
	}
	if r.OrganizerID != actor.Identity.ID {
		p, found, err := s.participant(ctx, rideID, actor.Identity.ID)
		if err != nil {
			return domain.ChatMessage{}, err
		}
		if !found || !p.Status.CanChat() {
			return domain.ChatMessage{}, apperr.ErrNotParticipant
		}
	}

	msg := domain.ChatMessage{
		ID:       s.newMessageID(),
		RideID:   rideID,
		SenderID: actor.Identity.ID,
		Kind:     k,
		Body:     body,
		SentAt:   s.clk.Now().UTC(),
	}
	if err := s.rides.AppendChatMessage(ctx, msg); err != nil {
		return domain.ChatMessage{}, apperr.Store(err)
	}

	s.toRoomAndCaller(rideID, actor, broadcast.Event{
		Name: events.NewMessage,
		Data: ChatPayload(msg, actor.Identity.DisplayName),
	})
	return msg, nil
}

// Invite creates an INVITED participant record for invitee. Organizer only.
// Inviting someone who already has a live record is a no-op; a DECLINED or LEFT record cannot
// be reopened.
func (s *Service) Invite(ctx context.Context, actor Actor, rideID domain.RideID, invitee domain.UserID) (riderepo.Participant, error) {
	if invitee == "" {
		return riderepo.Participant{}, apperr.Validation("invalid invitee", map[string]any{"userId": "must be non-empty"})
	}

	unlock := s.keys.Lock(string(rideID))
	defer unlock()

	r, err := s.organizerRide(ctx, actor, rideID)
	if err != nil {
		return riderepo.Participant{}, err
	}
	if r.Status.IsTerminal() {
		return riderepo.Participant{}, invalidStatus("ride is over", r.Status)
	}
	if invitee == r.OrganizerID {
		return riderepo.Participant{}, apperr.Validation("invalid invitee", map[string]any{"userId": "organizer cannot be invited"})
	}

	u, err := s.users.GetByID(ctx, invitee)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return riderepo.Participant{}, apperr.Validation("invalid invitee", map[string]any{"userId": "unknown user"})
		}
		return riderepo.Participant{}, apperr.Store(err)
	}
	if !u.IsActive {
		return riderepo.Participant{}, apperr.Validation("invalid invitee", map[string]any{"userId": "user is inactive"})
	}

	existing, found, err := s.participant(ctx, rideID, invitee)
	if err != nil {
		return riderepo.Participant{}, err
	}
	if found {
		if existing.Status.IsTerminal() {
			return riderepo.Participant{}, apperr.InvalidState("participant record is closed", map[string]any{"participantStatus": existing.Status})
		}
		return existing, nil
	}

	p := riderepo.Participant{
		RideID:    rideID,
		UserID:    invitee,
		Status:    domain.ParticipantInvited,
		UpdatedAt: s.clk.Now().UTC(),
	}
	if err := s.rides.SaveParticipant(ctx, p); err != nil {
		return riderepo.Participant{}, apperr.Store(err)
	}

	s.publishParticipant(rideID, actor, p)
	return p, nil
}

// Respond sets the caller's own participant status to CONFIRMED, DECLINED or JOINED.
// Declining also removes the caller from the room.
func (s *Service) Respond(ctx context.Context, actor Actor, rideID domain.RideID, status domain.ParticipantStatus) (riderepo.Participant, error) {
	switch status {
	case domain.ParticipantConfirmed, domain.ParticipantDeclined, domain.ParticipantJoined:
	default:
		return riderepo.Participant{}, apperr.Validation("invalid status", map[string]any{"status": "must be CONFIRMED, DECLINED or JOINED"})
	}

	unlock := s.keys.Lock(string(rideID))
	defer unlock()

	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return riderepo.Participant{}, err
	}
	if r.Status.IsTerminal() {
		return riderepo.Participant{}, invalidStatus("ride is over", r.Status)
	}

	p, found, err := s.participant(ctx, rideID, actor.Identity.ID)
	if err != nil {
		return riderepo.Participant{}, err
	}
	if !found {
		return riderepo.Participant{}, apperr.ErrNotParticipant
	}
	if p.Status == status {
		return p, nil
	}
	if !p.Status.CanTransitionTo(status) {
		return riderepo.Participant{}, apperr.InvalidState("participant status cannot change that way", map[string]any{
			"participantStatus": p.Status,
			"requested":         status,
		})
	}

	now := s.clk.Now().UTC()
	p.Status = status
	p.UpdatedAt = now
	if status == domain.ParticipantJoined && p.JoinedAt == nil {
		p.JoinedAt = &now
	}
	if err := s.rides.SaveParticipant(ctx, p); err != nil {
		return riderepo.Participant{}, apperr.Store(err)
	}

	s.publishParticipant(rideID, actor, p)
	if status == domain.ParticipantDeclined {
		s.leaveRoom(rideID, actor.Identity)
	}
	return p, nil
}

// Quit moves a participant to LEFT and stamps LeftAt; the record is kept. An empty target means
// the caller. Removing someone else is organizer only.
func (s *Service) Quit(ctx context.Context, actor Actor, rideID domain.RideID, target domain.UserID) (riderepo.Participant, error) {
	if target == "" {
		target = actor.Identity.ID
	}

	unlock := s.keys.Lock(string(rideID))
	defer unlock()

	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return riderepo.Participant{}, err
	}
	if target != actor.Identity.ID && r.OrganizerID != actor.Identity.ID {
		return riderepo.Participant{}, apperr.ErrForbidden
	}
	if r.Status.IsTerminal() {
		return riderepo.Participant{}, invalidStatus("ride is over", r.Status)
	}

	p, found, err := s.participant(ctx, rideID, target)
	if err != nil {
		return riderepo.Participant{}, err
	}
	if !found {
		return riderepo.Participant{}, apperr.ErrNotParticipant
	}
	if p.Status == domain.ParticipantLeft {
		return p, nil
	}
	if !p.Status.CanTransitionTo(domain.ParticipantLeft) {
		return riderepo.Participant{}, apperr.InvalidState("participant status cannot change that way", map[string]any{
			"participantStatus": p.Status,
			"requested":         domain.ParticipantLeft,
		})
	}

	now := s.clk.Now().UTC()
	p.Status = domain.ParticipantLeft
	p.LeftAt = &now
	p.Online = false
	p.UpdatedAt = now
	if err := s.rides.SaveParticipant(ctx, p); err != nil {
		return riderepo.Participant{}, apperr.Store(err)
	}

	s.publishParticipant(rideID, actor, p)
	who := domain.UserIdentity{ID: target}
	if target == actor.Identity.ID {
		who = actor.Identity
	} else if u, err := s.users.GetByID(ctx, target); err == nil {
		who.DisplayName = u.DisplayName
	}
	s.leaveRoom(rideID, who)
	return p, nil
}

// Typing relays a typing indicator to the rest of the room. The caller must be in the room;
// nothing is persisted.
func (s *Service) Typing(_ context.Context, actor Actor, rideID domain.RideID, isTyping bool) error {
	if !s.rooms.IsMember(rideID, actor.Identity.ID) {
		return apperr.New(apperr.CodeNotInRoom, "join the ride before sending typing updates")
	}
	s.out.ToRoomExceptSender(rideID, actor.Conn, broadcast.Event{
		Name: events.UserTyping,
		Data: events.UserTypingPayload{SessionID: rideID, UserRef: userRef(actor.Identity), IsTyping: isTyping},
	})
	return nil
}

// ChatPayload renders a stored chat message for the wire.
func ChatPayload(m domain.ChatMessage, senderName string) events.ChatMessage {
	return events.ChatMessage{
		ID:        m.ID,
		SessionID: m.RideID,
		Sender:    events.UserRef{UserID: m.SenderID, DisplayName: senderName},
		Type:      m.Kind,
		Message:   m.Body,
		Timestamp: m.SentAt,
	}
}

func (s *Service) getRide(ctx context.Context, id domain.RideID) (riderepo.Ride, error) {
	r, err := s.rides.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, riderepo.ErrNotFound) {
			return riderepo.Ride{}, apperr.ErrRideNotFound
		}
		return riderepo.Ride{}, apperr.Store(err)
	}
	return r, nil
}

func (s *Service) organizerRide(ctx context.Context, actor Actor, id domain.RideID) (riderepo.Ride, error) {
	r, err := s.getRide(ctx, id)
	if err != nil {
		return riderepo.Ride{}, err
	}
	if r.OrganizerID != actor.Identity.ID {
		return riderepo.Ride{}, apperr.ErrForbidden
	}
	return r, nil
}

func (s *Service) participant(ctx context.Context, ride domain.RideID, user domain.UserID) (riderepo.Participant, bool, error) {
	p, err := s.rides.GetParticipant(ctx, ride, user)
	if err != nil {
		if errors.Is(err, riderepo.ErrParticipantNotFound) {
			return riderepo.Participant{}, false, nil
		}
		return riderepo.Participant{}, false, apperr.Store(err)
	}
	return p, true, nil
}

func (s *Service) transition(ctx context.Context, r riderepo.Ride, change riderepo.StatusChange) (riderepo.Ride, error) {
	updated, err := s.rides.UpdateStatus(ctx, r.ID, change)
	if err != nil {
		switch {
		case errors.Is(err, riderepo.ErrStatusConflict):
			return riderepo.Ride{}, apperr.InvalidState("ride status changed concurrently", map[string]any{"status": r.Status})
		case errors.Is(err, riderepo.ErrNotFound):
			return riderepo.Ride{}, apperr.ErrRideNotFound
		default:
			return riderepo.Ride{}, apperr.Store(err)
		}
	}
	return updated, nil
}

func (s *Service) computeStats(ctx context.Context, r riderepo.Ride, endedAt time.Time) (domain.RideStats, error) {
	parts, err := s.rides.ListParticipants(ctx, r.ID)
	if err != nil {
		return domain.RideStats{}, apperr.Store(err)
	}
	msgs, err := s.rides.CountChatMessages(ctx, r.ID)
	if err != nil {
		return domain.RideStats{}, apperr.Store(err)
	}

	statuses := make(map[domain.UserID]domain.ParticipantStatus, len(parts))
	for _, p := range parts {
		statuses[p.UserID] = p.Status
	}
	in := domain.StatsInput{
		EndedAt:     endedAt,
		Organizer:   r.OrganizerID,
		Statuses:    statuses,
		Messages:    msgs,
		Start:       r.StartPoint,
		Destination: r.Destination,
	}
	if r.StartedAt != nil {
		in.StartedAt = *r.StartedAt
	}
	return domain.ComputeRideStats(in), nil
}

func (s *Service) publishParticipant(ride domain.RideID, actor Actor, p riderepo.Participant) {
	s.toRoomAndCaller(ride, actor, broadcast.Event{
		Name: events.ParticipantUpdated,
		Data: events.ParticipantUpdatedPayload{SessionID: ride, UserID: p.UserID, Status: p.Status, LeftAt: p.LeftAt},
	})
}

func (s *Service) leaveRoom(ride domain.RideID, who domain.UserIdentity) {
	if !s.rooms.Leave(ride, who.ID) {
		return
	}
	s.out.ToRoomIncludingSender(ride, broadcast.Event{
		Name: events.ParticipantLeft,
		Data: events.RoomMemberPayload{SessionID: ride, UserRef: userRef(who)},
	})
}

// toRoomAndCaller delivers to the whole room, and to the caller's connection when the caller
// acted without joining the room first.
func (s *Service) toRoomAndCaller(ride domain.RideID, actor Actor, ev broadcast.Event) {
	s.out.ToRoomIncludingSender(ride, ev)
	if actor.Conn != "" && !s.rooms.IsMember(ride, actor.Identity.ID) {
		s.out.ToConnection(actor.Conn, ev)
	}
}

func invalidStatus(msg string, status domain.RideStatus) *apperr.Error {
	return apperr.InvalidState(msg, map[string]any{"status": status})
}

func userRef(u domain.UserIdentity) events.UserRef {
	return events.UserRef{UserID: u.ID, DisplayName: u.DisplayName}
}
