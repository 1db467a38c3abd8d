package httpapi

import (
	"context"

	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
)

type identityKey struct{}

func WithIdentity(ctx context.Context, who domain.UserIdentity) context.Context {
	return context.WithValue(ctx, identityKey{}, who)
}

func IdentityFromContext(ctx context.Context) (domain.UserIdentity, bool) {
	v, ok := ctx.Value(identityKey{}).(domain.UserIdentity)
	return v, ok && v.ID != ""
}
