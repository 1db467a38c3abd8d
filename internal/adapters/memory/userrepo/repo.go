package userrepo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/userrepo"
)

type pair struct{ a, b domain.UserID }

func orderedPair(a, b domain.UserID) pair {
	if b < a {
		a, b = b, a
	}
	return pair{a: a, b: b}
}

// Repo is an in-memory implementation of userrepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex

	byID    map[domain.UserID]userrepo.User
	friends map[pair]userrepo.FriendStatus
}

func NewRepo() *Repo {
	return &Repo{
		byID:    make(map[domain.UserID]userrepo.User),
		friends: make(map[pair]userrepo.FriendStatus),
	}
}

func (r *Repo) Create(ctx context.Context, u userrepo.User) error {
	_ = ctx
	if u.ID == "" {
		return userrepo.ErrAlreadyExists
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[u.ID]; ok {
		return userrepo.ErrAlreadyExists
	}
	r.byID[u.ID] = cloneUser(u)
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id domain.UserID) (userrepo.User, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return userrepo.User{}, userrepo.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *Repo) SetFriendship(ctx context.Context, a, b domain.UserID, status userrepo.FriendStatus, at time.Time) error {
	_, _ = ctx, at
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[a]; !ok {
		return userrepo.ErrNotFound
	}
	if _, ok := r.byID[b]; !ok {
		return userrepo.ErrNotFound
	}
	r.friends[orderedPair(a, b)] = status
	return nil
}

func (r *Repo) ListAcceptedFriends(ctx context.Context, id domain.UserID) ([]userrepo.User, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]userrepo.User, 0)
	for p, st := range r.friends {
		if st != userrepo.FriendAccepted {
			continue
		}
		var other domain.UserID
		switch id {
		case p.a:
			other = p.b
		case p.b:
			other = p.a
		default:
			continue
		}
		if other == id {
			continue
		}
		u, ok := r.byID[other]
		if !ok || !u.IsActive {
			continue
		}
		out = append(out, cloneUser(u))
	}
	sortUsersByDisplayName(out)
	return out, nil
}

func (r *Repo) UpdatePresence(ctx context.Context, id domain.UserID, online bool, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return userrepo.ErrNotFound
	}
	u.Online = online
	if !online {
		ts := at.UTC()
		u.LastSeenAt = &ts
	}
	u.UpdatedAt = at.UTC()
	r.byID[id] = u
	return nil
}

func cloneUser(u userrepo.User) userrepo.User {
	out := u
	if u.LastSeenAt != nil {
		v := *u.LastSeenAt
		out.LastSeenAt = &v
	}
	return out
}

func sortUsersByDisplayName(us []userrepo.User) {
	sort.Slice(us, func(i, j int) bool {
		di := strings.ToLower(us[i].DisplayName)
		dj := strings.ToLower(us[j].DisplayName)
		if di == dj {
			return string(us[i].ID) < string(us[j].ID)
		}
		return di < dj
	})
}
