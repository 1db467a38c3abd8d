package jwtverifier

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/Overland-East-Bay/ride-live-api/internal/platform/config"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Verifier checks RS256 tokens against keys published at a JWKS endpoint.
type Verifier struct {
	cfg    config.JWTConfig
	client *http.Client
	clock  Clock
	parser *jwt.Parser

	mu   sync.Mutex
	keys keySet
	// fetch is non-nil while a JWKS request is in flight; waiters block on done.
	fetch *fetchCall
}

// keySet is the last successfully fetched JWKS.
type keySet struct {
	byKID     map[string]*rsa.PublicKey
	fetchedAt time.Time
}

type fetchCall struct {
	done chan struct{}
	err  error
}

func New(cfg config.JWTConfig) *Verifier {
	return NewWithOptions(cfg, nil, nil)
}

func NewWithOptions(cfg config.JWTConfig, httpClient *http.Client, clock Clock) *Verifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if clock == nil {
		clock = realClock{}
	}
	return &Verifier{
		cfg:    cfg,
		client: httpClient,
		clock:  clock,
		parser: newParser(cfg, clock, "RS256"),
	}
}

func newParser(cfg config.JWTConfig, clock Clock, alg string) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithTimeFunc(clock.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return jwt.NewParser(opts...)
}

// Verify checks signature, iss, aud, exp and nbf and returns the sub claim.
func (v *Verifier) Verify(ctx context.Context, token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		return v.key(ctx, kid)
	})
	if err != nil || claims.Subject == "" {
		return "", ErrUnauthorized
	}
	return claims.Subject, nil
}

// key returns the public key for kid, fetching the JWKS first when the cached set is older
// than the refresh interval or does not know kid. Unknown-kid fetches are rate limited by the
// min refresh interval so forged kids cannot hammer the endpoint.
func (v *Verifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	if !v.stale(kid) {
		pub := v.keys.byKID[kid]
		v.mu.Unlock()
		if pub == nil {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return pub, nil
	}
	call := v.fetch
	if call == nil {
		call = &fetchCall{done: make(chan struct{})}
		v.fetch = call
		go v.runFetch(context.WithoutCancel(ctx), call)
	}
	v.mu.Unlock()

	select {
	case <-call.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if call.err != nil {
		return nil, call.err
	}

	v.mu.Lock()
	pub := v.keys.byKID[kid]
	v.mu.Unlock()
	if pub == nil {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return pub, nil
}

// stale must be called with v.mu held.
func (v *Verifier) stale(kid string) bool {
	if v.keys.fetchedAt.IsZero() {
		return true
	}
	age := v.clock.Now().Sub(v.keys.fetchedAt)
	if v.cfg.JWKSRefreshInterval > 0 && age >= v.cfg.JWKSRefreshInterval {
		return true
	}
	if v.keys.byKID[kid] != nil {
		return false
	}
	return v.cfg.JWKSMinRefreshInterval <= 0 || age >= v.cfg.JWKSMinRefreshInterval
}

func (v *Verifier) runFetch(ctx context.Context, call *fetchCall) {
	keys, err := v.fetchJWKS(ctx)

	v.mu.Lock()
	if err == nil {
		v.keys = keySet{byKID: keys, fetchedAt: v.clock.Now()}
	}
	v.fetch = nil
	v.mu.Unlock()

	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("url", v.cfg.JWKSURL).Msg("jwks refresh failed")
	}
	call.err = err
	close(call.done)
}

func (v *Verifier) fetchJWKS(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	timeout := v.cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.JWKSURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("jwks fetch: status %d", resp.StatusCode)
	}
	var set jwks
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return nil, fmt.Errorf("jwks decode: %w", err)
	}
	return set.rsaKeys()
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// rsaKeys keeps RSA signing keys with a kid. A set with none is an error.
func (s jwks) rsaKeys() (map[string]*rsa.PublicKey, error) {
	out := make(map[string]*rsa.PublicKey, len(s.Keys))
	for _, k := range s.Keys {
		if k.Kty != "RSA" || k.Kid == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			return nil, fmt.Errorf("jwk %q: %w", k.Kid, err)
		}
		out[k.Kid] = pub
	}
	if len(out) == 0 {
		return nil, errors.New("jwks has no usable RSA keys")
	}
	return out, nil
}

func (k jwk) publicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil || len(n) == 0 {
		return nil, errors.New("bad modulus")
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil || len(e) == 0 || len(e) > 4 {
		return nil, errors.New("bad exponent")
	}
	exp := int(new(big.Int).SetBytes(e).Int64())
	if exp < 2 {
		return nil, errors.New("bad exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: exp}, nil
}
