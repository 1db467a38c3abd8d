package fixtures_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	memriderepo "github.com/Overland-East-Bay/ride-live-api/internal/adapters/memory/riderepo"
	memuserrepo "github.com/Overland-East-Bay/ride-live-api/internal/adapters/memory/userrepo"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/fixtures"
)

func TestLoadAndApply(t *testing.T) {
	t.Parallel()

	f, err := fixtures.Load("testdata/seed.yaml")
	require.NoError(t, err)
	require.Len(t, f.Users, 4)
	require.Len(t, f.Rides, 2)

	ctx := context.Background()
	users := memuserrepo.NewRepo()
	rides := memriderepo.NewRepo()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, fixtures.Apply(ctx, f, users, rides, now))

	olive, err := users.GetByID(ctx, "olive")
	require.NoError(t, err)
	require.Equal(t, "Olive Organizer", olive.DisplayName)
	require.True(t, olive.IsActive)

	gone, err := users.GetByID(ctx, "gone")
	require.NoError(t, err)
	require.False(t, gone.IsActive)

	friends, err := users.ListAcceptedFriends(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, friends, 1)
	require.Equal(t, domain.UserID("olive"), friends[0].ID)

	ride, err := rides.GetByID(ctx, "ridge-run")
	require.NoError(t, err)
	require.Equal(t, domain.RideStatusActive, ride.Status)
	require.NotNil(t, ride.StartedAt)
	require.NotNil(t, ride.Destination)

	bob, err := rides.GetParticipant(ctx, "ridge-run", "bob")
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantJoined, bob.Status)
	require.NotNil(t, bob.JoinedAt)

	carol, err := rides.GetParticipant(ctx, "ridge-run", "carol")
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantInvited, carol.Status)

	coast, err := rides.GetByID(ctx, "coast-loop")
	require.NoError(t, err)
	require.Equal(t, domain.RideStatusPlanning, coast.Status)

	// Re-applying against populated stores is a no-op.
	require.NoError(t, fixtures.Apply(ctx, f, users, rides, now.Add(time.Hour)))
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "unknown key",
			doc:     "users:\n  - id: a\n    displayName: A\n    email: a@example.com\n",
			wantErr: "field email not found",
		},
		{
			name:    "duplicate user",
			doc:     "users:\n  - {id: a, displayName: A}\n  - {id: a, displayName: B}\n",
			wantErr: "duplicate id",
		},
		{
			name:    "blank name",
			doc:     "users:\n  - {id: a, displayName: '   '}\n",
			wantErr: "displayName is required",
		},
		{
			name:    "unknown organizer",
			doc:     "users:\n  - {id: a, displayName: A}\nrides:\n  - {id: r, organizer: z}\n",
			wantErr: "unknown organizer",
		},
		{
			name:    "bad ride status",
			doc:     "users:\n  - {id: a, displayName: A}\nrides:\n  - {id: r, organizer: a, status: PAUSED}\n",
			wantErr: "unknown status",
		},
		{
			name:    "organizer as participant",
			doc:     "users:\n  - {id: a, displayName: A}\nrides:\n  - id: r\n    organizer: a\n    participants:\n      - {user: a, status: JOINED}\n",
			wantErr: "organizer listed as participant",
		},
		{
			name:    "self friendship",
			doc:     "users:\n  - {id: a, displayName: A}\nfriendships:\n  - {a: a, b: a}\n",
			wantErr: "befriend themselves",
		},
		{
			name:    "coordinates out of range",
			doc:     "users:\n  - {id: a, displayName: A}\nrides:\n  - id: r\n    organizer: a\n    start: {latitude: 91, longitude: 0}\n",
			wantErr: "out of range",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := fixtures.Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	f, err := fixtures.Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, f.Users)
}
