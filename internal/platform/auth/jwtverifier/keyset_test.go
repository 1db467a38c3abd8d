package jwtverifier_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Overland-East-Bay/ride-live-api/internal/platform/auth/jwks_testutil"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/auth/jwtverifier"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/config"
)

// countingJWKS serves keys and counts fetches. release gates responses when non-nil.
func countingJWKS(t *testing.T, keys []jwks_testutil.Keypair, release <-chan struct{}) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	body, err := jwks_testutil.MarshalJWKS(keys)
	require.NoError(t, err)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if release != nil {
			<-release
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestVerifier_ConcurrentColdStartFetchesOnce(t *testing.T) {
	t.Parallel()

	kp, err := jwks_testutil.GenerateRSAKeypair("kid-1")
	require.NoError(t, err)
	release := make(chan struct{})
	srv, hits := countingJWKS(t, []jwks_testutil.Keypair{kp}, release)

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	cfg := config.JWTConfig{Issuer: "iss", Audience: "aud", JWKSURL: srv.URL, JWKSRefreshInterval: time.Hour, HTTPTimeout: 5 * time.Second}
	v := jwtverifier.NewWithOptions(cfg, nil, clk)
	tok, err := jwks_testutil.MintRS256JWT(kp, "iss", "aud", "user-1", clk.Now(), time.Minute, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Verify(context.Background(), tok)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return hits.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), hits.Load())
}

func TestVerifier_UnknownKidRefetchIsRateLimited(t *testing.T) {
	t.Parallel()

	known, err := jwks_testutil.GenerateRSAKeypair("kid-known")
	require.NoError(t, err)
	forged, err := jwks_testutil.GenerateRSAKeypair("kid-forged")
	require.NoError(t, err)
	srv, hits := countingJWKS(t, []jwks_testutil.Keypair{known}, nil)

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	cfg := config.JWTConfig{
		Issuer: "iss", Audience: "aud", JWKSURL: srv.URL,
		JWKSRefreshInterval: time.Hour, JWKSMinRefreshInterval: 10 * time.Second, HTTPTimeout: 5 * time.Second,
	}
	v := jwtverifier.NewWithOptions(cfg, nil, clk)

	good, err := jwks_testutil.MintRS256JWT(known, "iss", "aud", "u", clk.Now(), time.Minute, nil)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), good)
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())

	bad, err := jwks_testutil.MintRS256JWT(forged, "iss", "aud", "u", clk.Now(), time.Minute, nil)
	require.NoError(t, err)
	for range 3 {
		_, err = v.Verify(context.Background(), bad)
		require.ErrorIs(t, err, jwtverifier.ErrUnauthorized)
	}
	require.Equal(t, int32(1), hits.Load(), "unknown kid inside the min interval must not refetch")

	clk.Advance(11 * time.Second)
	_, err = v.Verify(context.Background(), bad)
	require.ErrorIs(t, err, jwtverifier.ErrUnauthorized)
	require.Equal(t, int32(2), hits.Load())
}
