package domain

import "time"

// UserIdentity is the resolved, verified identity behind a connection.
// It is immutable once resolved.
type UserIdentity struct {
	ID          UserID
	DisplayName string
}

// Presence is the persisted online/offline view of a user.
type Presence struct {
	Online     bool
	LastSeenAt *time.Time
}
