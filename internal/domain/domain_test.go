package domain_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
)

func TestRideStatus_Transitions(t *testing.T) {
	t.Parallel()

	all := []domain.RideStatus{domain.RideStatusPlanning, domain.RideStatusActive, domain.RideStatusCompleted, domain.RideStatusCancelled}
	allowed := map[[2]domain.RideStatus]bool{
		{domain.RideStatusPlanning, domain.RideStatusActive}:    true,
		{domain.RideStatusPlanning, domain.RideStatusCancelled}: true,
		{domain.RideStatusActive, domain.RideStatusCompleted}:   true,
		{domain.RideStatusActive, domain.RideStatusCancelled}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			require.Equal(t, allowed[[2]domain.RideStatus{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	require.True(t, domain.RideStatusCompleted.IsTerminal())
	require.True(t, domain.RideStatusCancelled.IsTerminal())
	require.False(t, domain.RideStatusActive.IsTerminal())
	require.False(t, domain.RideStatus("PAUSED").Valid())
}

func TestParticipantStatus_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to domain.ParticipantStatus
		want     bool
	}{
		{domain.ParticipantInvited, domain.ParticipantConfirmed, true},
		{domain.ParticipantInvited, domain.ParticipantJoined, true},
		{domain.ParticipantConfirmed, domain.ParticipantJoined, true},
		{domain.ParticipantConfirmed, domain.ParticipantInvited, false},
		{domain.ParticipantJoined, domain.ParticipantLeft, true},
		{domain.ParticipantJoined, domain.ParticipantDeclined, false},
		{domain.ParticipantDeclined, domain.ParticipantConfirmed, false},
		{domain.ParticipantLeft, domain.ParticipantJoined, false},
		{domain.ParticipantLeft, domain.ParticipantLeft, true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}

	require.True(t, domain.ParticipantDeclined.Blocked())
	require.False(t, domain.ParticipantLeft.Blocked())
	require.False(t, domain.ParticipantInvited.CanShareLocation())
	require.True(t, domain.ParticipantInvited.CanChat())
	require.False(t, domain.ParticipantLeft.CanChat())
}

func TestLocation_Validate(t *testing.T) {
	t.Parallel()

	f := func(v float64) *float64 { return &v }
	tests := []struct {
		name string
		loc  domain.Location
		want error
	}{
		{"ok", domain.Location{Latitude: 37.8, Longitude: -122.2, Speed: f(0), Heading: f(359.9)}, nil},
		{"poles", domain.Location{Latitude: -90, Longitude: 180}, nil},
		{"lat", domain.Location{Latitude: 90.1}, domain.ErrInvalidCoordinates},
		{"lon", domain.Location{Longitude: -180.5}, domain.ErrInvalidCoordinates},
		{"nan", domain.Location{Latitude: math.NaN()}, domain.ErrInvalidCoordinates},
		{"speed", domain.Location{Speed: f(-1)}, domain.ErrInvalidSpeed},
		{"heading 360", domain.Location{Heading: f(360)}, domain.ErrInvalidHeading},
		{"heading negative", domain.Location{Heading: f(-0.1)}, domain.ErrInvalidHeading},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.loc.Validate(), tt.want)
		})
	}
}

func TestHaversineKm(t *testing.T) {
	t.Parallel()

	sf := domain.GeoPoint{Latitude: 37.7749, Longitude: -122.4194}
	la := domain.GeoPoint{Latitude: 34.0522, Longitude: -118.2437}
	require.InDelta(t, 559, domain.HaversineKm(sf, la), 2)
	require.InDelta(t, domain.HaversineKm(sf, la), domain.HaversineKm(la, sf), 1e-9)
	require.Zero(t, domain.HaversineKm(sf, sf))
}

func TestMessages(t *testing.T) {
	t.Parallel()

	k, err := domain.ParseMessageKind("")
	require.NoError(t, err)
	require.Equal(t, domain.MessageKindText, k)
	k, err = domain.ParseMessageKind("alert")
	require.NoError(t, err)
	require.Equal(t, domain.MessageKindAlert, k)
	_, err = domain.ParseMessageKind("ALERT")
	require.ErrorIs(t, err, domain.ErrUnknownKind)

	require.Equal(t, "hi\n there", domain.NormalizeMessageText("  hi\n there \t"))
	require.ErrorIs(t, domain.ValidateMessageBody(domain.NormalizeMessageText("   ")), domain.ErrEmptyMessage)
	require.NoError(t, domain.ValidateMessageBody(strings.Repeat("é", domain.MaxMessageLength)))
	require.ErrorIs(t, domain.ValidateMessageBody(strings.Repeat("a", domain.MaxMessageLength+1)), domain.ErrMessageTooLong)
}

func TestComputeRideStats(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	st := domain.ComputeRideStats(domain.StatsInput{
		StartedAt: start,
		EndedAt:   start.Add(90 * time.Minute),
		Organizer: "org",
		Statuses: map[domain.UserID]domain.ParticipantStatus{
			"org":   domain.ParticipantJoined,
			"bob":   domain.ParticipantConfirmed,
			"carol": domain.ParticipantInvited,
			"dan":   domain.ParticipantLeft,
			"eve":   domain.ParticipantJoined,
		},
		Messages:    4,
		Start:       &domain.GeoPoint{Latitude: 37.7749, Longitude: -122.4194},
		Destination: &domain.GeoPoint{Latitude: 34.0522, Longitude: -118.2437},
	})
	require.Equal(t, int64(5400), st.DurationSeconds)
	require.Equal(t, 3, st.ParticipantCount)
	require.Equal(t, 4, st.MessageCount)
	require.NotNil(t, st.PlannedDistanceKm)

	// Never started: no duration, no distance without both points.
	st = domain.ComputeRideStats(domain.StatsInput{EndedAt: start, Organizer: "org"})
	require.Zero(t, st.DurationSeconds)
	require.Equal(t, 1, st.ParticipantCount)
	require.Nil(t, st.PlannedDistanceKm)
}
