package jwtverifier

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Overland-East-Bay/ride-live-api/internal/platform/config"
)

// HMACVerifier checks HS256 tokens signed with a shared secret. Issuer and audience are
// enforced only when configured.
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewHMAC(cfg config.JWTConfig, clock Clock) *HMACVerifier {
	if clock == nil {
		clock = realClock{}
	}
	return &HMACVerifier{
		secret: []byte(cfg.HMACSecret),
		parser: newParser(cfg, clock, "HS256"),
	}
}

func (v *HMACVerifier) Verify(_ context.Context, token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || claims.Subject == "" {
		return "", ErrUnauthorized
	}
	return claims.Subject, nil
}
