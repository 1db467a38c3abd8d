// Package rooms keeps the transient ride-room membership used for fan-out.
//
// Membership here is a routing cache. Eligibility is always decided by the persisted participant
// record, never by whether a user is currently in a room.
package rooms

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Overland-East-Bay/ride-live-api/internal/app/apperr"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/keylock"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/telemetry"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
)

// Joined describes a successful Join.
type Joined struct {
	Ride riderepo.Ride
	// Participant is nil when the organizer joins without a participant record.
	Participant *riderepo.Participant
	// AlreadyMember is true when the user was in the room before the call.
	AlreadyMember bool
}

// Manager owns the ride-to-members and member-to-rides maps. It is safe for concurrent use;
// operations on the same ride are serialized.
type Manager struct {
	rides   riderepo.Repository
	log     zerolog.Logger
	metrics *telemetry.Metrics

	keys *keylock.Locker

	mu      sync.RWMutex
	members map[domain.RideID]map[domain.UserID]struct{}
	byUser  map[domain.UserID]map[domain.RideID]struct{}
}

func NewManager(rides riderepo.Repository, log zerolog.Logger) *Manager {
	return &Manager{
		rides:   rides,
		log:     log.With().Str("component", "rooms").Logger(),
		metrics: telemetry.GetMetrics(),
		keys:    keylock.New(),
		members: make(map[domain.RideID]map[domain.UserID]struct{}),
		byUser:  make(map[domain.UserID]map[domain.RideID]struct{}),
	}
}

// Join checks the persisted record and adds user to the ride's room. Joining twice succeeds.
//
// The store is consulted on every call, so a user whose participation was revoked elsewhere
// gets NotParticipant even while still cached as a member.
func (m *Manager) Join(ctx context.Context, ride domain.RideID, user domain.UserID) (Joined, error) {
	unlock := m.keys.Lock(string(ride))
	defer unlock()

	r, err := m.rides.GetByID(ctx, ride)
	if err != nil {
		if errors.Is(err, riderepo.ErrNotFound) {
			return Joined{}, apperr.ErrRideNotFound
		}
		return Joined{}, apperr.Store(err)
	}

	var part *riderepo.Participant
	p, err := m.rides.GetParticipant(ctx, ride, user)
	switch {
	case err == nil:
		part = &p
	case errors.Is(err, riderepo.ErrParticipantNotFound):
	default:
		return Joined{}, apperr.Store(err)
	}

	if r.OrganizerID != user {
		if part == nil || part.Status.Blocked() {
			if m.remove(ride, user) {
				m.log.Debug().Str("ride_id", string(ride)).Str("user_id", string(user)).Msg("evicted stale room member")
			}
			return Joined{}, apperr.ErrNotParticipant
		}
	}

	already := !m.add(ride, user)
	return Joined{Ride: r, Participant: part, AlreadyMember: already}, nil
}

// Leave removes user from the ride's room and reports whether it was a member.
func (m *Manager) Leave(ride domain.RideID, user domain.UserID) bool {
	unlock := m.keys.Lock(string(ride))
	defer unlock()
	return m.remove(ride, user)
}

// Rehydrate joins user to every ACTIVE ride it participates in and returns those rides.
func (m *Manager) Rehydrate(ctx context.Context, user domain.UserID) ([]riderepo.Ride, error) {
	rs, err := m.rides.ListActiveForParticipant(ctx, user)
	if err != nil {
		return nil, apperr.Store(err)
	}
	for _, r := range rs {
		unlock := m.keys.Lock(string(r.ID))
		m.add(r.ID, user)
		unlock()
	}
	return rs, nil
}

// RemoveUserFromAll drops user from every room and returns the rides it left, sorted.
func (m *Manager) RemoveUserFromAll(user domain.UserID) []domain.RideID {
	var left []domain.RideID
	for _, ride := range m.RoomsOf(user) {
		unlock := m.keys.Lock(string(ride))
		if m.remove(ride, user) {
			left = append(left, ride)
		}
		unlock()
	}
	return left
}

// MembersOf returns the ride's current members, sorted. An unknown ride has none.
func (m *Manager) MembersOf(ride domain.RideID) []domain.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.members[ride]
	if len(set) == 0 {
		return nil
	}
	out := make([]domain.UserID, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manager) IsMember(ride domain.RideID, user domain.UserID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[ride][user]
	return ok
}

// RoomsOf returns the rides user is a member of, sorted.
func (m *Manager) RoomsOf(user domain.UserID) []domain.RideID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.byUser[user]
	if len(set) == 0 {
		return nil
	}
	out := make([]domain.RideID, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RoomCount reports how many rooms have at least one member.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

// add reports whether user was newly added.
func (m *Manager) add(ride domain.RideID, user domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[ride]
	if !ok {
		set = make(map[domain.UserID]struct{})
		m.members[ride] = set
		m.metrics.RoomsActive.Add(context.Background(), 1)
	}
	if _, dup := set[user]; dup {
		return false
	}
	set[user] = struct{}{}

	rs, ok := m.byUser[user]
	if !ok {
		rs = make(map[domain.RideID]struct{})
		m.byUser[user] = rs
	}
	rs[ride] = struct{}{}
	return true
}

// remove reports whether user was a member. Empty entries are discarded.
func (m *Manager) remove(ride domain.RideID, user domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[ride]
	if !ok {
		return false
	}
	if _, ok := set[user]; !ok {
		return false
	}
	delete(set, user)
	if len(set) == 0 {
		delete(m.members, ride)
		m.metrics.RoomsActive.Add(context.Background(), -1)
	}

	if rs := m.byUser[user]; rs != nil {
		delete(rs, ride)
		if len(rs) == 0 {
			delete(m.byUser, user)
		}
	}
	return true
}
