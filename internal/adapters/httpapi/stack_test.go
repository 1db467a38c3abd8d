package httpapi

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Overland-East-Bay/ride-live-api/internal/adapters/memory/riderepo"
	"github.com/Overland-East-Bay/ride-live-api/internal/adapters/memory/userrepo"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/broadcast"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/identity"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/presence"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/realtime"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/rides"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/rooms"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	rideport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
	userport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/userrepo"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type testStack struct {
	handler  *Router
	presence *presence.Registry
	rooms    *rooms.Manager
}

// newTestStack wires the full service over memory repos. org organizes ride-1 (ACTIVE) with bob
// CONFIRMED; org and bob are friends; dan is unrelated.
func newTestStack(t *testing.T, verifier identity.TokenVerifier) *testStack {
	t.Helper()
	ctx := context.Background()
	clk := fixedClock{t: time.Unix(1700000000, 0).UTC()}

	users := userrepo.NewRepo()
	for _, u := range []userport.User{
		{ID: "org", DisplayName: "Olive", IsActive: true},
		{ID: "bob", DisplayName: "Bob", IsActive: true},
		{ID: "dan", DisplayName: "Dan", IsActive: true},
	} {
		u.CreatedAt, u.UpdatedAt = clk.t, clk.t
		require.NoError(t, users.Create(ctx, u))
	}
	require.NoError(t, users.SetFriendship(ctx, "org", "bob", userport.FriendAccepted, clk.t))

	store := riderepo.NewRepo()
	started := clk.t.Add(-time.Hour)
	require.NoError(t, store.Create(ctx, rideport.Ride{
		ID: "ride-1", Name: "Coast loop", OrganizerID: "org", Status: domain.RideStatusActive,
		StartedAt: &started, CreatedAt: clk.t, UpdatedAt: clk.t,
	}))
	require.NoError(t, store.SaveParticipant(ctx, rideport.Participant{RideID: "ride-1", UserID: "bob", Status: domain.ParticipantConfirmed, UpdatedAt: clk.t}))

	log := zerolog.Nop()
	hub := broadcast.NewHub(log)
	reg := presence.NewRegistry(users, hub, clk, log)
	rm := rooms.NewManager(store, log)
	out := broadcast.New(hub, rm, reg)
	resolver := identity.NewResolver(verifier, users, 0)

	rt := realtime.NewHandler(realtime.Services{
		Identity: resolver,
		Presence: reg,
		Rooms:    rm,
		Rides:    rides.NewService(store, users, rm, out, clk, log),
		Store:    store,
		Out:      out,
		Clock:    clk,
	}, log)

	h := NewRouter(Deps{
		Realtime: rt,
		Identity: resolver,
		Presence: reg,
		Rooms:    rm,
		Rides:    store,
		Log:      log,
		WS:       WSOptions{OutboundBuffer: 16, PongWait: 5 * time.Second},
	})
	return &testStack{handler: h, presence: reg, rooms: rm}
}
