package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/Overland-East-Bay/ride-live-api/internal/platform/logger"
)

// Tiny dev-only token issuer. Not an OIDC provider: it serves a JWKS for the jwks auth mode
// and mints tokens for any subject.

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

var cli struct {
	Listen     string        `help:"Listen address." default:":5556" env:"LISTEN_ADDR"`
	Issuer     string        `help:"iss claim." default:"http://devjwt:5556" env:"ISSUER"`
	Audience   string        `help:"aud claim." default:"ride-live" env:"AUDIENCE"`
	Kid        string        `help:"Key id for RS256 tokens." default:"dev-kid-1" env:"KID"`
	TTL        time.Duration `name:"ttl" help:"Token lifetime." default:"30m" env:"TTL"`
	HMACSecret string        `name:"hmac-secret" help:"Mint HS256 tokens with this secret instead of RS256." env:"HMAC_SECRET"`
	DevLogs    bool          `help:"Human readable logs." default:"true" env:"DEV_LOGS" negatable:""`
}

type issuer struct {
	iss, aud, kid string
	ttl           time.Duration
	priv          *rsa.PrivateKey
	secret        []byte
}

func main() {
	kctx := kong.Parse(&cli, kong.Name("devjwt"), kong.Description("Local token issuer for the ride API."))
	log := logger.Setup(cli.DevLogs)
	kctx.FatalIfErrorf(run(log))
}

func run(log zerolog.Logger) error {
	iss := &issuer{iss: cli.Issuer, aud: cli.Audience, kid: cli.Kid, ttl: cli.TTL}
	if cli.HMACSecret != "" {
		if len(cli.HMACSecret) < 32 {
			return errors.New("--hmac-secret must be at least 32 bytes")
		}
		iss.secret = []byte(cli.HMACSecret)
	} else {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		iss.priv = priv
	}

	srv := &http.Server{
		Addr:              cli.Listen,
		Handler:           iss.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info().Str("addr", cli.Listen).Str("iss", iss.iss).Str("aud", iss.aud).Bool("hmac", iss.secret != nil).Dur("ttl", iss.ttl).Msg("devjwt listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (i *issuer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	// Common JWKS path used by many providers. Empty in HMAC mode.
	mux.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
		set := jwks{Keys: []jwk{}}
		if i.priv != nil {
			set.Keys = append(set.Keys, publicJWK(i.priv.PublicKey, i.kid))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	})

	//   GET /token?sub=<userId>
	mux.HandleFunc("GET /token", func(w http.ResponseWriter, r *http.Request) {
		sub := strings.TrimSpace(r.URL.Query().Get("sub"))
		if sub == "" {
			http.Error(w, "missing sub", http.StatusBadRequest)
			return
		}
		now := time.Now().UTC()
		token, err := i.mint(sub, now)
		if err != nil {
			http.Error(w, "failed to mint token", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": token,
			"sub":   sub,
			"iss":   i.iss,
			"aud":   i.aud,
			"exp":   now.Add(i.ttl).Unix(),
		})
	})
	return mux
}

func (i *issuer) mint(sub string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    i.iss,
		Audience:  jwt.ClaimStrings{i.aud},
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)), // small skew tolerance for local use
		IssuedAt:  jwt.NewNumericDate(now),
	}
	if i.secret != nil {
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = i.kid
	return tok.SignedString(i.priv)
}

func publicJWK(pub rsa.PublicKey, kid string) jwk {
	enc := base64.RawURLEncoding
	return jwk{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: kid,
		N:   enc.EncodeToString(pub.N.Bytes()),
		E:   enc.EncodeToString(big.NewInt(int64(pub.E)).Bytes()), // big-endian unsigned
	}
}
