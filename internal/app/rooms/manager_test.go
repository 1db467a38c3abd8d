package rooms_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Overland-East-Bay/ride-live-api/internal/adapters/memory/riderepo"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/apperr"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/rooms"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	rideport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func seedRide(t *testing.T, repo *riderepo.Repo, id domain.RideID, status domain.RideStatus, organizer domain.UserID, parts map[domain.UserID]domain.ParticipantStatus) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, rideport.Ride{
		ID: id, Name: string(id), OrganizerID: organizer, Status: status, CreatedAt: now, UpdatedAt: now,
	}))
	for u, st := range parts {
		require.NoError(t, repo.SaveParticipant(ctx, rideport.Participant{RideID: id, UserID: u, Status: st, UpdatedAt: now}))
	}
}

func TestManager_JoinEligibility(t *testing.T) {
	t.Parallel()

	repo := riderepo.NewRepo()
	seedRide(t, repo, "ride-1", domain.RideStatusPlanning, "org", map[domain.UserID]domain.ParticipantStatus{
		"invited":   domain.ParticipantInvited,
		"confirmed": domain.ParticipantConfirmed,
		"declined":  domain.ParticipantDeclined,
		"left":      domain.ParticipantLeft,
	})
	m := rooms.NewManager(repo, zerolog.Nop())
	ctx := context.Background()

	cases := []struct {
		user    domain.UserID
		wantErr error
	}{
		{user: "org"},
		{user: "invited"},
		{user: "confirmed"},
		{user: "left"},
		{user: "declined", wantErr: apperr.ErrNotParticipant},
		{user: "stranger", wantErr: apperr.ErrNotParticipant},
	}
	for _, tc := range cases {
		t.Run(string(tc.user), func(t *testing.T) {
			_, err := m.Join(ctx, "ride-1", tc.user)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.False(t, m.IsMember("ride-1", tc.user))
				return
			}
			require.NoError(t, err)
			require.True(t, m.IsMember("ride-1", tc.user))
		})
	}

	_, err := m.Join(ctx, "missing", "org")
	require.ErrorIs(t, err, apperr.ErrRideNotFound)
}

func TestManager_JoinIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := riderepo.NewRepo()
	seedRide(t, repo, "ride-1", domain.RideStatusActive, "org", map[domain.UserID]domain.ParticipantStatus{"bob": domain.ParticipantJoined})
	m := rooms.NewManager(repo, zerolog.Nop())
	ctx := context.Background()

	first, err := m.Join(ctx, "ride-1", "bob")
	require.NoError(t, err)
	require.False(t, first.AlreadyMember)
	require.NotNil(t, first.Participant)
	require.Equal(t, domain.ParticipantJoined, first.Participant.Status)

	second, err := m.Join(ctx, "ride-1", "bob")
	require.NoError(t, err)
	require.True(t, second.AlreadyMember)
	require.Equal(t, []domain.UserID{"bob"}, m.MembersOf("ride-1"))

	org, err := m.Join(ctx, "ride-1", "org")
	require.NoError(t, err)
	require.Nil(t, org.Participant)
	require.Equal(t, []domain.UserID{"bob", "org"}, m.MembersOf("ride-1"))
}

func TestManager_RevokedParticipantFailsDespiteCachedMembership(t *testing.T) {
	t.Parallel()

	repo := riderepo.NewRepo()
	seedRide(t, repo, "ride-1", domain.RideStatusActive, "org", map[domain.UserID]domain.ParticipantStatus{"bob": domain.ParticipantConfirmed})
	m := rooms.NewManager(repo, zerolog.Nop())
	ctx := context.Background()

	_, err := m.Join(ctx, "ride-1", "bob")
	require.NoError(t, err)

	// Revoked through another path while still cached as a member.
	require.NoError(t, repo.SaveParticipant(ctx, rideport.Participant{RideID: "ride-1", UserID: "bob", Status: domain.ParticipantDeclined, UpdatedAt: now}))

	_, err = m.Join(ctx, "ride-1", "bob")
	require.ErrorIs(t, err, apperr.ErrNotParticipant)
	require.False(t, m.IsMember("ride-1", "bob"))
	require.Zero(t, m.RoomCount())
}

func TestManager_LeaveDiscardsEmptyRooms(t *testing.T) {
	t.Parallel()

	repo := riderepo.NewRepo()
	seedRide(t, repo, "ride-1", domain.RideStatusActive, "org", map[domain.UserID]domain.ParticipantStatus{"bob": domain.ParticipantJoined})
	m := rooms.NewManager(repo, zerolog.Nop())
	ctx := context.Background()

	_, err := m.Join(ctx, "ride-1", "bob")
	require.NoError(t, err)
	require.Equal(t, 1, m.RoomCount())

	require.True(t, m.Leave("ride-1", "bob"))
	require.False(t, m.Leave("ride-1", "bob"))
	require.Nil(t, m.MembersOf("ride-1"))
	require.Nil(t, m.RoomsOf("bob"))
	require.Zero(t, m.RoomCount())
}

func TestManager_RehydrateAndRemoveFromAll(t *testing.T) {
	t.Parallel()

	repo := riderepo.NewRepo()
	seedRide(t, repo, "ride-a", domain.RideStatusActive, "org", map[domain.UserID]domain.ParticipantStatus{"bob": domain.ParticipantConfirmed})
	seedRide(t, repo, "ride-b", domain.RideStatusActive, "bob", nil)
	seedRide(t, repo, "ride-c", domain.RideStatusPlanning, "org", map[domain.UserID]domain.ParticipantStatus{"bob": domain.ParticipantConfirmed})
	seedRide(t, repo, "ride-d", domain.RideStatusActive, "org", map[domain.UserID]domain.ParticipantStatus{"bob": domain.ParticipantLeft})
	m := rooms.NewManager(repo, zerolog.Nop())
	ctx := context.Background()

	rs, err := m.Rehydrate(ctx, "bob")
	require.NoError(t, err)
	ids := make([]domain.RideID, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []domain.RideID{"ride-a", "ride-b"}, ids)
	require.Equal(t, []domain.RideID{"ride-a", "ride-b"}, m.RoomsOf("bob"))

	_, err = m.Join(ctx, "ride-a", "org")
	require.NoError(t, err)

	left := m.RemoveUserFromAll("bob")
	require.Equal(t, []domain.RideID{"ride-a", "ride-b"}, left)
	require.Nil(t, m.RoomsOf("bob"))
	require.Equal(t, []domain.UserID{"org"}, m.MembersOf("ride-a"))
	require.Nil(t, m.MembersOf("ride-b"))
	require.Nil(t, m.RemoveUserFromAll("bob"))
}

type failingRides struct{ *riderepo.Repo }

func (failingRides) GetByID(context.Context, domain.RideID) (rideport.Ride, error) {
	return rideport.Ride{}, errors.New("connection refused")
}

func (failingRides) ListActiveForParticipant(context.Context, domain.UserID) ([]rideport.Ride, error) {
	return nil, errors.New("connection refused")
}

func TestManager_StoreFailures(t *testing.T) {
	t.Parallel()

	m := rooms.NewManager(failingRides{Repo: riderepo.NewRepo()}, zerolog.Nop())
	ctx := context.Background()

	_, err := m.Join(ctx, "ride-1", "bob")
	require.Equal(t, apperr.CodeStoreUnavailable, apperr.CodeOf(err))

	_, err = m.Rehydrate(ctx, "bob")
	require.Equal(t, apperr.CodeStoreUnavailable, apperr.CodeOf(err))
	require.Zero(t, m.RoomCount())
}

func TestManager_ConcurrentJoinLeave(t *testing.T) {
	t.Parallel()

	repo := riderepo.NewRepo()
	parts := make(map[domain.UserID]domain.ParticipantStatus)
	for i := 0; i < 20; i++ {
		parts[domain.UserID(fmt.Sprintf("u%02d", i))] = domain.ParticipantConfirmed
	}
	seedRide(t, repo, "ride-1", domain.RideStatusActive, "org", parts)
	m := rooms.NewManager(repo, zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for u := range parts {
		wg.Add(1)
		go func(u domain.UserID) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := m.Join(ctx, "ride-1", u); err != nil {
					t.Error(err)
					return
				}
				m.Leave("ride-1", u)
			}
		}(u)
	}
	wg.Wait()

	require.Zero(t, m.RoomCount())
}
