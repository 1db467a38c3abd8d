// Package presence tracks which identities own live connections.
package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Overland-East-Bay/ride-live-api/internal/app/broadcast"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/events"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/keylock"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/telemetry"
	clockport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/clock"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/userrepo"
)

// ErrConnectionOwned is returned when a connection is registered under a second identity.
var ErrConnectionOwned = errors.New("connection already registered to another identity")

// Hook runs on an online or offline transition while the identity's lock is held.
// A hook must not call Register or Unregister for the same identity.
type Hook func(ctx context.Context, who domain.UserIdentity)

// Registry maps identities to their live connections. It is safe for concurrent use.
//
// Register and Unregister are serialized per identity, so an identity goes online and offline
// exactly once per run of overlapping connections.
type Registry struct {
	users   userrepo.Repository
	out     broadcast.Sender
	clk     clockport.Clock
	log     zerolog.Logger
	metrics *telemetry.Metrics

	keys      *keylock.Locker
	onOnline  []Hook
	onOffline []Hook

	mu     sync.RWMutex
	conns  map[domain.UserID]map[domain.ConnectionID]struct{}
	owners map[domain.ConnectionID]domain.UserIdentity
}

func NewRegistry(users userrepo.Repository, out broadcast.Sender, clk clockport.Clock, log zerolog.Logger) *Registry {
	r := &Registry{
		users:   users,
		out:     out,
		clk:     clk,
		log:     log.With().Str("component", "presence").Logger(),
		metrics: telemetry.GetMetrics(),
		keys:    keylock.New(),
		conns:   make(map[domain.UserID]map[domain.ConnectionID]struct{}),
		owners:  make(map[domain.ConnectionID]domain.UserIdentity),
	}
	return r
}

// AddOnlineHook adds a hook that runs after an identity's first connection is registered.
func (r *Registry) AddOnlineHook(h Hook) {
	r.mu.Lock()
	r.onOnline = append(r.onOnline, h)
	r.mu.Unlock()
}

// AddOfflineHook adds a hook that runs after an identity's last connection is unregistered.
func (r *Registry) AddOfflineHook(h Hook) {
	r.mu.Lock()
	r.onOffline = append(r.onOffline, h)
	r.mu.Unlock()
}

// Register associates conn with who. It reports whether this was the identity's first
// connection. Registering the same pair twice is a no-op.
//
// Store failures while publishing the online transition are logged; the registration stands.
func (r *Registry) Register(ctx context.Context, conn domain.ConnectionID, who domain.UserIdentity) (first bool, err error) {
	unlock := r.keys.Lock(string(who.ID))
	defer unlock()

	r.mu.Lock()
	if prev, ok := r.owners[conn]; ok {
		r.mu.Unlock()
		if prev.ID != who.ID {
			return false, ErrConnectionOwned
		}
		return false, nil
	}
	set := r.conns[who.ID]
	if set == nil {
		set = make(map[domain.ConnectionID]struct{})
		r.conns[who.ID] = set
	}
	first = len(set) == 0
	set[conn] = struct{}{}
	r.owners[conn] = who
	hooks := r.onOnline
	r.mu.Unlock()

	if !first {
		return false, nil
	}

	r.metrics.PresenceTransitions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("online", true)))
	r.log.Info().Str("user_id", string(who.ID)).Msg("user online")

	if err := r.users.UpdatePresence(ctx, who.ID, true, r.clk.Now()); err != nil {
		r.log.Warn().Err(err).Str("user_id", string(who.ID)).Msg("persist online presence")
	}
	r.notifyFriends(ctx, who, events.FriendOnline, nil)

	for _, h := range hooks {
		h(ctx, who)
	}
	return true, nil
}

// Unregister removes conn from its owner. It reports the owner, whether conn was its last
// connection, and whether conn was registered at all.
//
// Unregister is cleanup: store failures are logged and swallowed, and callers should pass a
// context that is not cancelled by the disconnect itself.
func (r *Registry) Unregister(ctx context.Context, conn domain.ConnectionID) (who domain.UserIdentity, last bool, ok bool) {
	r.mu.RLock()
	who, ok = r.owners[conn]
	r.mu.RUnlock()
	if !ok {
		return domain.UserIdentity{}, false, false
	}

	unlock := r.keys.Lock(string(who.ID))
	defer unlock()

	r.mu.Lock()
	// A concurrent Unregister of the same conn may have won while we waited for the key.
	if cur, still := r.owners[conn]; !still || cur.ID != who.ID {
		r.mu.Unlock()
		return domain.UserIdentity{}, false, false
	}
	delete(r.owners, conn)
	set := r.conns[who.ID]
	delete(set, conn)
	last = len(set) == 0
	if last {
		delete(r.conns, who.ID)
	}
	hooks := r.onOffline
	r.mu.Unlock()

	if !last {
		return who, false, true
	}

	now := r.clk.Now()
	r.metrics.PresenceTransitions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("online", false)))
	r.log.Info().Str("user_id", string(who.ID)).Msg("user offline")

	if err := r.users.UpdatePresence(ctx, who.ID, false, now); err != nil {
		r.log.Warn().Err(err).Str("user_id", string(who.ID)).Msg("persist offline presence")
	}
	r.notifyFriends(ctx, who, events.FriendOffline, &now)

	for _, h := range hooks {
		h(ctx, who)
	}
	return who, true, true
}

// Lookup returns the identity's live connections in a stable order, or nil when offline.
func (r *Registry) Lookup(user domain.UserID) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[user]
	if len(set) == 0 {
		return nil
	}
	out := make([]domain.ConnectionID, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) IsOnline(user domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[user]) > 0
}

// IdentityOf returns the identity that owns conn.
func (r *Registry) IdentityOf(conn domain.ConnectionID) (domain.UserIdentity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	who, ok := r.owners[conn]
	return who, ok
}

// OnlineCount reports how many identities currently have at least one connection.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) notifyFriends(ctx context.Context, who domain.UserIdentity, name string, lastSeen *time.Time) {
	friends, err := r.users.ListAcceptedFriends(ctx, who.ID)
	if err != nil {
		r.log.Warn().Err(err).Str("user_id", string(who.ID)).Str("event", name).Msg("list friends for presence notification")
		return
	}
	ev := broadcast.Event{
		Name: name,
		Data: events.FriendPresencePayload{
			UserRef:    events.UserRef{UserID: who.ID, DisplayName: who.DisplayName},
			LastSeenAt: lastSeen,
		},
	}
	for _, f := range friends {
		if f.ID == who.ID {
			continue
		}
		for _, conn := range r.Lookup(f.ID) {
			r.out.ToConnection(conn, ev)
		}
	}
}

var _ broadcast.ConnectionDirectory = (*Registry)(nil)
