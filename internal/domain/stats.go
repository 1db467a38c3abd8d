package domain

import (
	"math"
	"time"
)

// RideStats is the summary computed when a ride completes.
type RideStats struct {
	DurationSeconds   int64    `json:"durationSeconds"`
	ParticipantCount  int      `json:"participantCount"`
	MessageCount      int      `json:"messageCount"`
	PlannedDistanceKm *float64 `json:"plannedDistanceKm,omitempty"`
}

// StatsInput is everything ComputeRideStats needs; it holds no store handles.
type StatsInput struct {
	StartedAt   time.Time
	EndedAt     time.Time
	Organizer   UserID
	Statuses    map[UserID]ParticipantStatus
	Messages    int
	Start       *GeoPoint
	Destination *GeoPoint
}

func ComputeRideStats(in StatsInput) RideStats {
	var st RideStats
	if !in.StartedAt.IsZero() && in.EndedAt.After(in.StartedAt) {
		st.DurationSeconds = int64(in.EndedAt.Sub(in.StartedAt) / time.Second)
	}

	counted := map[UserID]struct{}{}
	if in.Organizer != "" {
		counted[in.Organizer] = struct{}{}
	}
	for id, s := range in.Statuses {
		if s.Counted() {
			counted[id] = struct{}{}
		}
	}
	st.ParticipantCount = len(counted)
	st.MessageCount = in.Messages

	if in.Start != nil && in.Destination != nil {
		d := math.Round(HaversineKm(*in.Start, *in.Destination)*100) / 100
		st.PlannedDistanceKm = &d
	}
	return st
}
