package domain

import "time"

type RideStatus string

const (
	RideStatusPlanning  RideStatus = "PLANNING"
	RideStatusActive    RideStatus = "ACTIVE"
	RideStatusCompleted RideStatus = "COMPLETED"
	RideStatusCancelled RideStatus = "CANCELLED"
)

func (s RideStatus) Valid() bool {
	switch s {
	case RideStatusPlanning, RideStatusActive, RideStatusCompleted, RideStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further lifecycle transition is possible.
func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// CanTransitionTo reports whether next is a legal successor of s.
//
//	PLANNING -> ACTIVE -> COMPLETED
//	PLANNING | ACTIVE -> CANCELLED
func (s RideStatus) CanTransitionTo(next RideStatus) bool {
	switch s {
	case RideStatusPlanning:
		return next == RideStatusActive || next == RideStatusCancelled
	case RideStatusActive:
		return next == RideStatusCompleted || next == RideStatusCancelled
	default:
		return false
	}
}

// GeoPoint is a plain coordinate pair used for planned start and destination points.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// RideSummary is the read model sent to clients when they authenticate or join a room.
type RideSummary struct {
	ID             RideID
	Name           string
	OrganizerID    UserID
	Status         RideStatus
	ScheduledStart *time.Time
	StartedAt      *time.Time
}
