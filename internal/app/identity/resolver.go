package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Overland-East-Bay/ride-live-api/internal/app/apperr"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/userrepo"
)

// TokenVerifier converts a signed credential into the subject it was issued for.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Resolver turns credentials into verified user identities.
//
// Resolve always verifies the credential and reads the user from the store. Display names are
// cached by user id for cacheTTL and serve DisplayName only.
type Resolver struct {
	verifier TokenVerifier
	users    userrepo.Repository
	cache    *gocache.Cache
}

func NewResolver(verifier TokenVerifier, users userrepo.Repository, cacheTTL time.Duration) *Resolver {
	r := &Resolver{verifier: verifier, users: users}
	if cacheTTL > 0 {
		r.cache = gocache.New(cacheTTL, 2*cacheTTL)
	}
	return r
}

func (r *Resolver) Resolve(ctx context.Context, credential string) (domain.UserIdentity, error) {
	token := strings.TrimSpace(credential)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return domain.UserIdentity{}, &apperr.Error{Code: apperr.CodeUnauthenticated, Message: "missing credential"}
	}

	sub, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return domain.UserIdentity{}, &apperr.Error{Code: apperr.CodeUnauthenticated, Message: "invalid or expired credential", Err: err}
	}
	id := domain.UserID(sub)

	u, err := r.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			r.forget(id)
			return domain.UserIdentity{}, &apperr.Error{Code: apperr.CodeUnauthenticated, Message: "unknown user"}
		}
		return domain.UserIdentity{}, apperr.Store(err)
	}
	if !u.IsActive {
		r.forget(id)
		return domain.UserIdentity{}, &apperr.Error{Code: apperr.CodeUnauthenticated, Message: "user is deactivated"}
	}

	r.remember(u.ID, u.DisplayName)
	return domain.UserIdentity{ID: u.ID, DisplayName: u.DisplayName}, nil
}

// DisplayName returns the name shown for id, from cache when possible. Unknown users yield
// userrepo.ErrNotFound.
func (r *Resolver) DisplayName(ctx context.Context, id domain.UserID) (string, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(string(id)); ok {
			return v.(string), nil
		}
	}
	u, err := r.users.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	r.remember(u.ID, u.DisplayName)
	return u.DisplayName, nil
}

func (r *Resolver) remember(id domain.UserID, name string) {
	if r.cache != nil {
		r.cache.SetDefault(string(id), name)
	}
}

func (r *Resolver) forget(id domain.UserID) {
	if r.cache != nil {
		r.cache.Delete(string(id))
	}
}

// DevVerifier accepts the credential itself as the subject. It exists for local development
// and must never be wired in production.
type DevVerifier struct{}

func (DevVerifier) Verify(_ context.Context, token string) (string, error) {
	sub := strings.TrimSpace(token)
	if sub == "" {
		return "", errors.New("empty dev credential")
	}
	return sub, nil
}
