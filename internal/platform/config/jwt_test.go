package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJWTConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mode    AuthMode
		cfg     JWTConfig
		wantErr string
	}{
		{name: "jwks ok", mode: AuthModeJWKS, cfg: JWTConfig{Issuer: "iss", Audience: "aud", JWKSURL: "http://x"}},
		{name: "jwks missing url", mode: AuthModeJWKS, cfg: JWTConfig{Issuer: "iss", Audience: "aud"}, wantErr: "JWT_JWKS_URL"},
		{name: "hmac short secret", mode: AuthModeHMAC, cfg: JWTConfig{HMACSecret: "short"}, wantErr: "32 bytes"},
		{name: "hmac ok", mode: AuthModeHMAC, cfg: JWTConfig{HMACSecret: strings.Repeat("s", 32)}},
		{name: "dev needs nothing", mode: AuthModeDev},
		{name: "unknown mode", mode: "magic", wantErr: "unknown auth mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate(tt.mode)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
