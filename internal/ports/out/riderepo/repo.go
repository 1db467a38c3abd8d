package riderepo

import (
	"context"
	"time"

	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
)

// Ride is the persistence shape used by the ride repository.
type Ride struct {
	ID          domain.RideID
	Name        string
	OrganizerID domain.UserID

	Status domain.RideStatus

	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
	StartedAt      *time.Time
	EndedAt        *time.Time

	StartPoint  *domain.GeoPoint
	Destination *domain.GeoPoint

	// Stats is set once the ride completes.
	Stats *domain.RideStats

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Participant is a user's relation to one ride. There is at most one per (ride, user).
type Participant struct {
	RideID domain.RideID
	UserID domain.UserID

	Status domain.ParticipantStatus

	// Location is the latest snapshot only; nil until the first update.
	Location *domain.Location
	Online   bool

	JoinedAt  *time.Time
	LeftAt    *time.Time
	UpdatedAt time.Time
}

// StatusChange is a compare-and-set on a ride's lifecycle status.
// Nil fields are left untouched.
type StatusChange struct {
	From domain.RideStatus
	To   domain.RideStatus

	StartedAt *time.Time
	EndedAt   *time.Time
	Stats     *domain.RideStats

	At time.Time
}

// Repository provides access to persisted rides, their participants and chat logs.
type Repository interface {
	Create(ctx context.Context, r Ride) error
	GetByID(ctx context.Context, id domain.RideID) (Ride, error)

	// ListActiveForParticipant returns ACTIVE rides the user organizes or participates in with a
	// status other than DECLINED or LEFT, ordered by ID.
	ListActiveForParticipant(ctx context.Context, userID domain.UserID) ([]Ride, error)

	// UpdateStatus applies the change only if the ride's current status equals change.From.
	// Otherwise it returns ErrStatusConflict and leaves the ride unchanged.
	UpdateStatus(ctx context.Context, id domain.RideID, change StatusChange) (Ride, error)

	GetParticipant(ctx context.Context, rideID domain.RideID, userID domain.UserID) (Participant, error)
	// ListParticipants returns participants ordered by UserID.
	ListParticipants(ctx context.Context, rideID domain.RideID) ([]Participant, error)
	// SaveParticipant upserts the whole record.
	SaveParticipant(ctx context.Context, p Participant) error
	// UpdateParticipantLocation replaces only the location snapshot.
	UpdateParticipantLocation(ctx context.Context, rideID domain.RideID, userID domain.UserID, loc domain.Location) error

	AppendChatMessage(ctx context.Context, m domain.ChatMessage) error
	// ListChatMessages returns the newest limit messages in append order.
	ListChatMessages(ctx context.Context, rideID domain.RideID, limit int) ([]domain.ChatMessage, error)
	CountChatMessages(ctx context.Context, rideID domain.RideID) (int, error)
}
