package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Overland-East-Bay/ride-live-api/internal/app/apperr"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/broadcast"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/events"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/rides"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/userrepo"
)

func (h *Handler) authenticate(ctx context.Context, s *Session, raw json.RawMessage) error {
	if _, ok := s.Identity(); ok {
		return apperr.InvalidState("connection is already authenticated", nil)
	}
	var in events.AuthenticatePayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	cred := in.Credential
	if cred == "" {
		cred = in.Token
	}
	return h.signIn(ctx, s, cred)
}

// signIn resolves credential and, on success, registers the connection, rehydrates the
// identity's rooms and replies authenticated. On failure it replies auth_error and the session
// stays unauthenticated, so the client may retry.
func (h *Handler) signIn(ctx context.Context, s *Session, credential string) error {
	who, err := h.svc.Identity.Resolve(ctx, credential)
	if err != nil {
		ae := apperr.As(err)
		h.log.Debug().Err(err).Str("conn_id", string(s.ID)).Msg("authentication failed")
		h.reply(s, events.AuthError, events.AuthErrorPayload{Code: string(ae.Code), Message: ae.Message})
		return nil
	}

	first, err := h.svc.Presence.Register(ctx, s.ID, who)
	if err != nil {
		return apperr.InvalidState(err.Error(), nil)
	}
	s.setIdentity(who)

	active, err := h.svc.Rooms.Rehydrate(ctx, who.ID)
	if err != nil {
		// The identity is registered; the client can still join rooms explicitly.
		h.log.Warn().Err(err).Str("user_id", string(who.ID)).Msg("rehydrate rooms")
	}

	refs := make([]events.RideRef, 0, len(active))
	for _, r := range active {
		refs = append(refs, events.RideRefFrom(rides.Summary(r)))
		if first {
			h.svc.Out.ToRoomExceptSender(r.ID, s.ID, broadcast.Event{
				Name: events.ParticipantJoined,
				Data: events.RoomMemberPayload{SessionID: r.ID, UserRef: userRef(who)},
			})
		}
	}

	h.log.Info().Str("conn_id", string(s.ID)).Str("user_id", string(who.ID)).Int("rooms", len(refs)).Msg("authenticated")
	h.reply(s, events.Authenticated, events.AuthenticatedPayload{User: userRef(who), ActiveSessions: refs})
	return nil
}

// joinRide reads everything the snapshot needs before touching the room, so a store failure
// leaves membership unchanged. A failure after the join rolls it back.
func (h *Handler) joinRide(ctx context.Context, s *Session, raw json.RawMessage) error {
	var in events.RidePayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	if err := requireSession(in.SessionID); err != nil {
		return err
	}
	a := h.actor(s)

	history, err := h.svc.Store.ListChatMessages(ctx, in.SessionID, h.HistoryLimit)
	if err != nil {
		return apperr.Store(err)
	}
	names := h.displayNames(a.Identity)
	for _, m := range history {
		if _, err := names(ctx, m.SenderID); err != nil {
			return err
		}
	}

	joined, err := h.svc.Rooms.Join(ctx, in.SessionID, a.Identity.ID)
	if err != nil {
		return err
	}

	members := make([]events.UserRef, 0)
	for _, id := range h.svc.Rooms.MembersOf(in.SessionID) {
		name, err := names(ctx, id)
		if err != nil {
			if !joined.AlreadyMember {
				h.svc.Rooms.Leave(in.SessionID, a.Identity.ID)
			}
			return err
		}
		members = append(members, events.UserRef{UserID: id, DisplayName: name})
	}
	recent := make([]events.ChatMessage, 0, len(history))
	for _, m := range history {
		name, _ := names(ctx, m.SenderID)
		recent = append(recent, rides.ChatPayload(m, name))
	}

	h.reply(s, events.JoinedRide, events.JoinedRidePayload{
		Ride:    events.RideRefFrom(rides.Summary(joined.Ride)),
		Members: members,
		Recent:  recent,
	})
	if !joined.AlreadyMember {
		h.svc.Out.ToRoomExceptSender(in.SessionID, s.ID, broadcast.Event{
			Name: events.ParticipantJoined,
			Data: events.RoomMemberPayload{SessionID: in.SessionID, UserRef: userRef(a.Identity)},
		})
	}
	return nil
}

func (h *Handler) leaveRide(ctx context.Context, s *Session, raw json.RawMessage) error {
	var in events.RidePayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	if err := requireSession(in.SessionID); err != nil {
		return err
	}
	a := h.actor(s)

	if h.svc.Rooms.Leave(in.SessionID, a.Identity.ID) {
		h.svc.Out.ToRoomIncludingSender(in.SessionID, broadcast.Event{
			Name: events.ParticipantLeft,
			Data: events.RoomMemberPayload{SessionID: in.SessionID, UserRef: userRef(a.Identity)},
		})
	}
	h.reply(s, events.LeftRide, events.LeftRidePayload{SessionID: in.SessionID})
	return nil
}

func (h *Handler) updateLocation(ctx context.Context, s *Session, raw json.RawMessage) error {
	var in events.UpdateLocationPayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	if err := requireSession(in.SessionID); err != nil {
		return err
	}
	if in.Coordinates == nil {
		return apperr.Validation("invalid payload", map[string]any{"coordinates": "required"})
	}
	_, err := h.svc.Rides.UpdateLocation(ctx, h.actor(s), in.SessionID, domain.Location{
		Latitude:  in.Coordinates.Latitude,
		Longitude: in.Coordinates.Longitude,
		Speed:     in.Speed,
		Heading:   in.Heading,
	})
	return err
}

func (h *Handler) sendMessage(ctx context.Context, s *Session, raw json.RawMessage) error {
	var in events.SendMessagePayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	if err := requireSession(in.SessionID); err != nil {
		return err
	}
	_, err := h.svc.Rides.PostMessage(ctx, h.actor(s), in.SessionID, in.Message, in.Type)
	return err
}

func (h *Handler) startRide(ctx context.Context, s *Session, raw json.RawMessage) error {
	return h.lifecycle(ctx, s, raw, h.svc.Rides.Start)
}

func (h *Handler) endRide(ctx context.Context, s *Session, raw json.RawMessage) error {
	return h.lifecycle(ctx, s, raw, h.svc.Rides.End)
}

func (h *Handler) cancelRide(ctx context.Context, s *Session, raw json.RawMessage) error {
	return h.lifecycle(ctx, s, raw, h.svc.Rides.Cancel)
}

type lifecycleFunc func(ctx context.Context, a rides.Actor, ride domain.RideID) (riderepo.Ride, error)

func (h *Handler) lifecycle(ctx context.Context, s *Session, raw json.RawMessage, fn lifecycleFunc) error {
	var in events.RidePayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	if err := requireSession(in.SessionID); err != nil {
		return err
	}
	_, err := fn(ctx, h.actor(s), in.SessionID)
	return err
}

func (h *Handler) typing(ctx context.Context, s *Session, raw json.RawMessage) error {
	var in events.TypingPayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	if err := requireSession(in.SessionID); err != nil {
		return err
	}
	return h.svc.Rides.Typing(ctx, h.actor(s), in.SessionID, in.IsTyping)
}

func (h *Handler) inviteRider(ctx context.Context, s *Session, raw json.RawMessage) error {
	var in events.InviteRiderPayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	if err := requireSession(in.SessionID); err != nil {
		return err
	}
	_, err := h.svc.Rides.Invite(ctx, h.actor(s), in.SessionID, in.UserID)
	return err
}

func (h *Handler) respondRide(ctx context.Context, s *Session, raw json.RawMessage) error {
	var in events.RespondRidePayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	if err := requireSession(in.SessionID); err != nil {
		return err
	}
	_, err := h.svc.Rides.Respond(ctx, h.actor(s), in.SessionID, in.Status)
	return err
}

func (h *Handler) quitRide(ctx context.Context, s *Session, raw json.RawMessage) error {
	var in events.QuitRidePayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	if err := requireSession(in.SessionID); err != nil {
		return err
	}
	_, err := h.svc.Rides.Quit(ctx, h.actor(s), in.SessionID, in.UserID)
	return err
}

// displayNames returns a lookup that resolves each name once per call. A user missing from the
// store gets an empty name; any other lookup failure is a store failure.
func (h *Handler) displayNames(self domain.UserIdentity) func(context.Context, domain.UserID) (string, error) {
	known := map[domain.UserID]string{self.ID: self.DisplayName}
	return func(ctx context.Context, id domain.UserID) (string, error) {
		if n, ok := known[id]; ok {
			return n, nil
		}
		n, err := h.svc.Identity.DisplayName(ctx, id)
		if err != nil {
			if !errors.Is(err, userrepo.ErrNotFound) {
				return "", apperr.Store(err)
			}
			h.log.Debug().Str("user_id", string(id)).Msg("display name for unknown user")
		}
		known[id] = n
		return n, nil
	}
}
