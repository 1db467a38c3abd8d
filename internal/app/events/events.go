// Package events names the realtime protocol's events and defines their payloads.
//
// Every frame on the wire is {"event": <name>, "data": <payload>}.
package events

import (
	"time"

	"github.com/oapi-codegen/nullable"

	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
)

// Inbound (client -> server).
const (
	Authenticate   = "authenticate"
	JoinRide       = "join_ride"
	LeaveRide      = "leave_ride"
	UpdateLocation = "update_location"
	SendMessage    = "send_message"
	StartRide      = "start_ride"
	EndRide        = "end_ride"
	CancelRide     = "cancel_ride"
	Typing         = "typing"
	InviteRider    = "invite_rider"
	RespondRide    = "respond_ride"
	QuitRide       = "quit_ride"
)

// Outbound (server -> client).
const (
	Authenticated       = "authenticated"
	AuthError           = "auth_error"
	FriendOnline        = "friend_online"
	FriendOffline       = "friend_offline"
	JoinedRide          = "joined_ride"
	ParticipantJoined   = "participant_joined"
	LeftRide            = "left_ride"
	ParticipantLeft     = "participant_left"
	ParticipantLocation = "participant_location"
	ParticipantUpdated  = "participant_updated"
	NewMessage          = "new_message"
	RideStarted         = "ride_started"
	RideEnded           = "ride_ended"
	RideCancelled       = "ride_cancelled"
	UserTyping          = "user_typing"
	Error               = "error"
)

// Inbound payloads.

type AuthenticatePayload struct {
	Credential string `json:"credential"`
	// Token is accepted as an alias for Credential.
	Token string `json:"token,omitempty"`
}

type RidePayload struct {
	SessionID domain.RideID `json:"sessionId"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type UpdateLocationPayload struct {
	SessionID   domain.RideID `json:"sessionId"`
	Coordinates *Coordinates  `json:"coordinates"`
	Speed       *float64      `json:"speed,omitempty"`
	Heading     *float64      `json:"heading,omitempty"`
}

type SendMessagePayload struct {
	SessionID domain.RideID `json:"sessionId"`
	Message   string        `json:"message"`
	Type      string        `json:"type,omitempty"`
}

type TypingPayload struct {
	SessionID domain.RideID `json:"sessionId"`
	IsTyping  bool          `json:"isTyping"`
}

type InviteRiderPayload struct {
	SessionID domain.RideID `json:"sessionId"`
	UserID    domain.UserID `json:"userId"`
}

type RespondRidePayload struct {
	SessionID domain.RideID            `json:"sessionId"`
	Status    domain.ParticipantStatus `json:"status"`
}

type QuitRidePayload struct {
	SessionID domain.RideID `json:"sessionId"`
	// UserID lets the organizer remove someone else; empty means the caller.
	UserID domain.UserID `json:"userId,omitempty"`
}

// Outbound payloads.

type UserRef struct {
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
}

type RideRef struct {
	SessionID      domain.RideID     `json:"sessionId"`
	Name           string            `json:"name"`
	OrganizerID    domain.UserID     `json:"organizerId"`
	Status         domain.RideStatus `json:"status"`
	ScheduledStart *time.Time        `json:"scheduledStart,omitempty"`
	StartedAt      *time.Time        `json:"startedAt,omitempty"`
}

func RideRefFrom(s domain.RideSummary) RideRef {
	return RideRef{
		SessionID:      s.ID,
		Name:           s.Name,
		OrganizerID:    s.OrganizerID,
		Status:         s.Status,
		ScheduledStart: s.ScheduledStart,
		StartedAt:      s.StartedAt,
	}
}

type AuthenticatedPayload struct {
	User           UserRef   `json:"user"`
	ActiveSessions []RideRef `json:"activeSessions"`
}

type AuthErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type FriendPresencePayload struct {
	UserRef
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

type ChatMessage struct {
	ID        domain.MessageID   `json:"id"`
	SessionID domain.RideID      `json:"sessionId"`
	Sender    UserRef            `json:"sender"`
	Type      domain.MessageKind `json:"type"`
	Message   string             `json:"message"`
	Timestamp time.Time          `json:"timestamp"`
}

type JoinedRidePayload struct {
	Ride    RideRef       `json:"ride"`
	Members []UserRef     `json:"members"`
	Recent  []ChatMessage `json:"recentMessages"`
}

type RoomMemberPayload struct {
	SessionID domain.RideID `json:"sessionId"`
	UserRef
}

type LeftRidePayload struct {
	SessionID domain.RideID `json:"sessionId"`
}

type LocationPayload struct {
	SessionID domain.RideID `json:"sessionId"`
	UserRef
	Coordinates Coordinates `json:"coordinates"`
	Speed       *float64    `json:"speed,omitempty"`
	Heading     *float64    `json:"heading,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

type ParticipantUpdatedPayload struct {
	SessionID domain.RideID            `json:"sessionId"`
	UserID    domain.UserID            `json:"userId"`
	Status    domain.ParticipantStatus `json:"status"`
	LeftAt    *time.Time               `json:"leftAt,omitempty"`
}

// RideStatePayload carries ride_started and ride_cancelled.
type RideStatePayload struct {
	Ride RideRef `json:"ride"`
}

type RideEndedPayload struct {
	Ride  RideRef          `json:"ride"`
	Stats domain.RideStats `json:"stats"`
}

type UserTypingPayload struct {
	SessionID domain.RideID `json:"sessionId"`
	UserRef
	IsTyping bool `json:"isTyping"`
}

// ErrorPayload is sent only to the connection whose event failed. Details is omitted when the
// failure carries none and is explicit null when it was cleared.
type ErrorPayload struct {
	Code    string                            `json:"code"`
	Message string                            `json:"message"`
	Event   string                            `json:"event,omitempty"`
	Details nullable.Nullable[map[string]any] `json:"details,omitempty"`
}
