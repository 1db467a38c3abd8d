package config

import (
	"fmt"
	"time"
)

type AuthMode string

const (
	AuthModeJWKS AuthMode = "jwks"
	AuthModeHMAC AuthMode = "hmac"
	// AuthModeDev trusts the credential as a user id. Local use only.
	AuthModeDev AuthMode = "dev"
)

// JWTConfig configures credential verification. Flags are embedded into the serve command
// with the jwt- prefix; every field can also come from the environment.
type JWTConfig struct {
	Issuer     string `help:"Expected iss claim." env:"JWT_ISSUER"`
	Audience   string `help:"Expected aud claim." env:"JWT_AUDIENCE"`
	JWKSURL    string `name:"jwks-url" help:"JWKS endpoint for RS256 keys." env:"JWT_JWKS_URL"`
	HMACSecret string `name:"hmac-secret" help:"Shared secret for HS256 tokens." env:"JWT_HMAC_SECRET"`

	ClockSkew time.Duration `help:"Allowed clock skew for exp/nbf." env:"JWT_CLOCK_SKEW" default:"30s"`
	// Refresh periodically to pick up key rotation even if an old key is still cached.
	JWKSRefreshInterval time.Duration `name:"jwks-refresh-interval" env:"JWT_JWKS_REFRESH_INTERVAL" default:"5m"`
	// Bound refresh frequency when a token presents an unknown kid.
	JWKSMinRefreshInterval time.Duration `name:"jwks-min-refresh-interval" env:"JWT_JWKS_MIN_REFRESH_INTERVAL" default:"10s"`

	HTTPTimeout time.Duration `name:"http-timeout" env:"JWT_HTTP_TIMEOUT" default:"5s"`
}

// Validate checks the fields the given mode depends on.
func (c JWTConfig) Validate(mode AuthMode) error {
	switch mode {
	case AuthModeJWKS:
		if c.Issuer == "" || c.Audience == "" || c.JWKSURL == "" {
			return fmt.Errorf("auth mode %q requires JWT_ISSUER, JWT_AUDIENCE and JWT_JWKS_URL", mode)
		}
	case AuthModeHMAC:
		if len(c.HMACSecret) < 32 {
			return fmt.Errorf("auth mode %q requires JWT_HMAC_SECRET of at least 32 bytes", mode)
		}
	case AuthModeDev:
	default:
		return fmt.Errorf("unknown auth mode %q", mode)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("JWT_CLOCK_SKEW must not be negative")
	}
	return nil
}
