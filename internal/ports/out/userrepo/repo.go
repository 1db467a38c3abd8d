package userrepo

import (
	"context"
	"time"

	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
)

// User is the persistence shape used by the user repository.
// It is an internal record, not a wire DTO.
type User struct {
	ID          domain.UserID
	DisplayName string

	IsActive bool

	// Online and LastSeenAt are written by the presence registry only.
	Online     bool
	LastSeenAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type FriendStatus string

const (
	FriendPending  FriendStatus = "PENDING"
	FriendAccepted FriendStatus = "ACCEPTED"
	FriendBlocked  FriendStatus = "BLOCKED"
)

// Repository provides access to persisted users and their friend relations.
//
// Result ordering expectations:
// - ListAcceptedFriends returns users ordered by DisplayName ascending, then ID.
type Repository interface {
	Create(ctx context.Context, u User) error
	GetByID(ctx context.Context, id domain.UserID) (User, error)

	// SetFriendship records a symmetric relation between a and b.
	SetFriendship(ctx context.Context, a, b domain.UserID, status FriendStatus, at time.Time) error
	// ListAcceptedFriends returns active users with an ACCEPTED relation to id. id itself is never included.
	ListAcceptedFriends(ctx context.Context, id domain.UserID) ([]User, error)

	// UpdatePresence sets the online flag. Going offline also stamps LastSeenAt with at.
	UpdatePresence(ctx context.Context, id domain.UserID, online bool, at time.Time) error
}
