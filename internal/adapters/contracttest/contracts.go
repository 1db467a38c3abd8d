package contracttest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	riderepoport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
	userrepoport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/userrepo"
)

type CleanupFunc = func()

type UserRepoFactory func(t *testing.T) (userrepoport.Repository, CleanupFunc)
type RideRepoFactory func(t *testing.T) (riderepoport.Repository, CleanupFunc)

func seedUser(t *testing.T, ctx context.Context, users userrepoport.Repository, name string, now time.Time) domain.UserID {
	t.Helper()
	id := domain.UserID(uuid.NewString())
	if err := users.Create(ctx, userrepoport.User{
		ID:          id,
		DisplayName: name,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		t.Fatalf("seed user %q: %v", name, err)
	}
	return id
}

func RunUserRepo(t *testing.T, newRepo UserRepoFactory) {
	t.Helper()
	ctx := context.Background()

	users, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	now := time.Unix(1000, 0).UTC()
	alice := seedUser(t, ctx, users, "Alice", now)
	bob := seedUser(t, ctx, users, "bob", now)
	carol := seedUser(t, ctx, users, "Carol", now)
	dave := seedUser(t, ctx, users, "Dave", now)

	got, err := users.GetByID(ctx, alice)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ID != alice || got.DisplayName != "Alice" || got.Online {
		t.Fatalf("unexpected user: %+v", got)
	}

	if err := users.Create(ctx, userrepoport.User{ID: alice, DisplayName: "Again", IsActive: true, CreatedAt: now, UpdatedAt: now}); !errors.Is(err, userrepoport.ErrAlreadyExists) {
		t.Fatalf("Create duplicate err=%v, want ErrAlreadyExists", err)
	}
	if _, err := users.GetByID(ctx, domain.UserID(uuid.NewString())); !errors.Is(err, userrepoport.ErrNotFound) {
		t.Fatalf("GetByID missing err=%v, want ErrNotFound", err)
	}

	// Friendships are symmetric; only ACCEPTED ones are listed.
	if err := users.SetFriendship(ctx, alice, bob, userrepoport.FriendAccepted, now); err != nil {
		t.Fatalf("SetFriendship alice/bob: %v", err)
	}
	if err := users.SetFriendship(ctx, carol, alice, userrepoport.FriendAccepted, now); err != nil {
		t.Fatalf("SetFriendship carol/alice: %v", err)
	}
	if err := users.SetFriendship(ctx, alice, dave, userrepoport.FriendPending, now); err != nil {
		t.Fatalf("SetFriendship alice/dave: %v", err)
	}

	friends, err := users.ListAcceptedFriends(ctx, alice)
	if err != nil {
		t.Fatalf("ListAcceptedFriends: %v", err)
	}
	if len(friends) != 2 || friends[0].ID != bob || friends[1].ID != carol {
		t.Fatalf("unexpected friends of alice: %#v", friends)
	}
	friends, err = users.ListAcceptedFriends(ctx, bob)
	if err != nil {
		t.Fatalf("ListAcceptedFriends(bob): %v", err)
	}
	if len(friends) != 1 || friends[0].ID != alice {
		t.Fatalf("unexpected friends of bob: %#v", friends)
	}

	// Downgrading a relation removes it from the accepted list.
	if err := users.SetFriendship(ctx, bob, alice, userrepoport.FriendBlocked, now); err != nil {
		t.Fatalf("SetFriendship block: %v", err)
	}
	friends, err = users.ListAcceptedFriends(ctx, alice)
	if err != nil {
		t.Fatalf("ListAcceptedFriends after block: %v", err)
	}
	if len(friends) != 1 || friends[0].ID != carol {
		t.Fatalf("unexpected friends after block: %#v", friends)
	}

	// Presence.
	if err := users.UpdatePresence(ctx, alice, true, now.Add(time.Minute)); err != nil {
		t.Fatalf("UpdatePresence online: %v", err)
	}
	got, _ = users.GetByID(ctx, alice)
	if !got.Online || got.LastSeenAt != nil {
		t.Fatalf("expected online without last seen: %+v", got)
	}
	off := now.Add(2 * time.Minute)
	if err := users.UpdatePresence(ctx, alice, false, off); err != nil {
		t.Fatalf("UpdatePresence offline: %v", err)
	}
	got, _ = users.GetByID(ctx, alice)
	if got.Online || got.LastSeenAt == nil || !got.LastSeenAt.Equal(off) {
		t.Fatalf("expected offline with last seen %v: %+v", off, got)
	}
	if err := users.UpdatePresence(ctx, domain.UserID(uuid.NewString()), true, now); !errors.Is(err, userrepoport.ErrNotFound) {
		t.Fatalf("UpdatePresence missing err=%v, want ErrNotFound", err)
	}
}

// RunRideRepo exercises ride lifecycle, participant and chat behaviour.
func RunRideRepo(t *testing.T, newUserRepo UserRepoFactory, newRideRepo RideRepoFactory) {
	t.Helper()
	ctx := context.Background()

	users, uCleanup := newUserRepo(t)
	if uCleanup != nil {
		t.Cleanup(uCleanup)
	}
	rides, rCleanup := newRideRepo(t)
	if rCleanup != nil {
		t.Cleanup(rCleanup)
	}

	now := time.Unix(2000, 0).UTC()
	organizer := seedUser(t, ctx, users, "Organizer", now)
	rider := seedUser(t, ctx, users, "Rider", now)
	decliner := seedUser(t, ctx, users, "Decliner", now)

	rideID := domain.RideID(uuid.NewString())
	start := now.Add(time.Hour)
	if err := rides.Create(ctx, riderepoport.Ride{
		ID:             rideID,
		Name:           "Coast run",
		OrganizerID:    organizer,
		Status:         domain.RideStatusPlanning,
		ScheduledStart: &start,
		StartPoint:     &domain.GeoPoint{Latitude: 37.8, Longitude: -122.27},
		Destination:    &domain.GeoPoint{Latitude: 36.6, Longitude: -121.9},
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		t.Fatalf("Create ride: %v", err)
	}
	if err := rides.Create(ctx, riderepoport.Ride{ID: rideID, Name: "dup", OrganizerID: organizer, Status: domain.RideStatusPlanning, CreatedAt: now, UpdatedAt: now}); !errors.Is(err, riderepoport.ErrAlreadyExists) {
		t.Fatalf("Create duplicate err=%v, want ErrAlreadyExists", err)
	}

	got, err := rides.GetByID(ctx, rideID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.RideStatusPlanning || got.OrganizerID != organizer || got.StartPoint == nil || got.ScheduledStart == nil || !got.ScheduledStart.Equal(start) {
		t.Fatalf("unexpected ride: %+v", got)
	}
	if _, err := rides.GetByID(ctx, domain.RideID(uuid.NewString())); !errors.Is(err, riderepoport.ErrNotFound) {
		t.Fatalf("GetByID missing err=%v, want ErrNotFound", err)
	}

	// Participants.
	if _, err := rides.GetParticipant(ctx, rideID, rider); !errors.Is(err, riderepoport.ErrParticipantNotFound) {
		t.Fatalf("GetParticipant missing err=%v, want ErrParticipantNotFound", err)
	}
	for _, p := range []riderepoport.Participant{
		{RideID: rideID, UserID: rider, Status: domain.ParticipantConfirmed, UpdatedAt: now},
		{RideID: rideID, UserID: decliner, Status: domain.ParticipantDeclined, UpdatedAt: now},
	} {
		if err := rides.SaveParticipant(ctx, p); err != nil {
			t.Fatalf("SaveParticipant %s: %v", p.UserID, err)
		}
	}
	ps, err := rides.ListParticipants(ctx, rideID)
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	if len(ps) != 2 {
		t.Fatalf("expected 2 participants, got %#v", ps)
	}

	// Upsert keeps one record per (ride, user).
	joinedAt := now.Add(5 * time.Minute)
	if err := rides.SaveParticipant(ctx, riderepoport.Participant{RideID: rideID, UserID: rider, Status: domain.ParticipantJoined, JoinedAt: &joinedAt, UpdatedAt: joinedAt}); err != nil {
		t.Fatalf("SaveParticipant upsert: %v", err)
	}
	p, err := rides.GetParticipant(ctx, rideID, rider)
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if p.Status != domain.ParticipantJoined || p.JoinedAt == nil || !p.JoinedAt.Equal(joinedAt) {
		t.Fatalf("unexpected participant: %+v", p)
	}

	speed := 12.5
	loc := domain.Location{Latitude: 37.5, Longitude: -122.1, Speed: &speed, RecordedAt: now.Add(6 * time.Minute)}
	if err := rides.UpdateParticipantLocation(ctx, rideID, rider, loc); err != nil {
		t.Fatalf("UpdateParticipantLocation: %v", err)
	}
	p, _ = rides.GetParticipant(ctx, rideID, rider)
	if p.Location == nil || p.Location.Latitude != 37.5 || p.Location.Speed == nil || *p.Location.Speed != 12.5 || p.Location.Heading != nil {
		t.Fatalf("unexpected location: %+v", p.Location)
	}
	if p.Status != domain.ParticipantJoined {
		t.Fatalf("location update must not touch status: %+v", p)
	}
	if err := rides.UpdateParticipantLocation(ctx, rideID, organizer, loc); !errors.Is(err, riderepoport.ErrParticipantNotFound) {
		t.Fatalf("UpdateParticipantLocation missing err=%v, want ErrParticipantNotFound", err)
	}

	// Not active yet.
	active, err := rides.ListActiveForParticipant(ctx, rider)
	if err != nil {
		t.Fatalf("ListActiveForParticipant: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active rides, got %#v", active)
	}

	// Lifecycle compare-and-set.
	startedAt := now.Add(10 * time.Minute)
	updated, err := rides.UpdateStatus(ctx, rideID, riderepoport.StatusChange{
		From: domain.RideStatusPlanning, To: domain.RideStatusActive, StartedAt: &startedAt, At: startedAt,
	})
	if err != nil {
		t.Fatalf("UpdateStatus start: %v", err)
	}
	if updated.Status != domain.RideStatusActive || updated.StartedAt == nil || !updated.StartedAt.Equal(startedAt) {
		t.Fatalf("unexpected ride after start: %+v", updated)
	}
	if _, err := rides.UpdateStatus(ctx, rideID, riderepoport.StatusChange{From: domain.RideStatusPlanning, To: domain.RideStatusActive, At: startedAt}); !errors.Is(err, riderepoport.ErrStatusConflict) {
		t.Fatalf("UpdateStatus stale err=%v, want ErrStatusConflict", err)
	}

	for _, who := range []domain.UserID{organizer, rider} {
		active, err = rides.ListActiveForParticipant(ctx, who)
		if err != nil {
			t.Fatalf("ListActiveForParticipant(%s): %v", who, err)
		}
		if len(active) != 1 || active[0].ID != rideID {
			t.Fatalf("expected ride active for %s, got %#v", who, active)
		}
	}
	active, _ = rides.ListActiveForParticipant(ctx, decliner)
	if len(active) != 0 {
		t.Fatalf("declined participant must not see active ride: %#v", active)
	}

	// Chat log is append-only and ordered.
	for i, body := range []string{"one", "two", "three"} {
		if err := rides.AppendChatMessage(ctx, domain.ChatMessage{
			ID:       domain.MessageID(uuid.NewString()),
			RideID:   rideID,
			SenderID: rider,
			Kind:     domain.MessageKindText,
			Body:     body,
			SentAt:   startedAt.Add(time.Duration(i+1) * time.Second),
		}); err != nil {
			t.Fatalf("AppendChatMessage %q: %v", body, err)
		}
	}
	n, err := rides.CountChatMessages(ctx, rideID)
	if err != nil || n != 3 {
		t.Fatalf("CountChatMessages n=%d err=%v", n, err)
	}
	last, err := rides.ListChatMessages(ctx, rideID, 2)
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(last) != 2 || last[0].Body != "two" || last[1].Body != "three" {
		t.Fatalf("unexpected chat tail: %#v", last)
	}

	// Concurrent ends: exactly one wins.
	endedAt := now.Add(time.Hour)
	stats := domain.RideStats{DurationSeconds: 3000, ParticipantCount: 2, MessageCount: 3}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rides.UpdateStatus(ctx, rideID, riderepoport.StatusChange{
				From: domain.RideStatusActive, To: domain.RideStatusCompleted, EndedAt: &endedAt, Stats: &stats, At: endedAt,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, riderepoport.ErrStatusConflict):
				conflicts++
			default:
				t.Errorf("UpdateStatus end: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins=%d conflicts=%d, want 1/1", wins, conflicts)
	}

	got, _ = rides.GetByID(ctx, rideID)
	if got.Status != domain.RideStatusCompleted || got.Stats == nil || got.Stats.MessageCount != 3 || got.EndedAt == nil {
		t.Fatalf("unexpected completed ride: %+v", got)
	}
}
