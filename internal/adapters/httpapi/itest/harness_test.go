package itest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Overland-East-Bay/ride-live-api/internal/adapters/httpapi"
	memriderepo "github.com/Overland-East-Bay/ride-live-api/internal/adapters/memory/riderepo"
	memuserrepo "github.com/Overland-East-Bay/ride-live-api/internal/adapters/memory/userrepo"
	pgriderepo "github.com/Overland-East-Bay/ride-live-api/internal/adapters/postgres/riderepo"
	postgres_testutil "github.com/Overland-East-Bay/ride-live-api/internal/adapters/postgres/testutil"
	pguserrepo "github.com/Overland-East-Bay/ride-live-api/internal/adapters/postgres/userrepo"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/broadcast"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/identity"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/presence"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/realtime"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/rides"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/rooms"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/auth/jwks_testutil"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/auth/jwtverifier"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/clock"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/config"
	riderepoport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
	userrepoport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/userrepo"
)

type backend string

const (
	backendMemory   backend = "memory"
	backendPostgres backend = "postgres"
)

func backendsFromEnv(t *testing.T) []backend {
	t.Helper()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ITEST_BACKEND"))) {
	case "", "memory":
		return []backend{backendMemory}
	case "postgres":
		return []backend{backendPostgres}
	case "all":
		return []backend{backendMemory, backendPostgres}
	default:
		t.Fatalf("unknown ITEST_BACKEND value (expected memory|postgres|all)")
		return nil
	}
}

const (
	issuer   = "itest-issuer"
	audience = "itest-aud"
	secret   = "itest-secret-itest-secret-itest-secret"
)

type testServer struct {
	srv *httptest.Server

	users userrepoport.Repository
	rides riderepoport.Repository
}

func newTestServer(t *testing.T, b backend) *testServer {
	t.Helper()

	var (
		users     userrepoport.Repository
		rideStore riderepoport.Repository
	)
	switch b {
	case backendPostgres:
		pool := postgres_testutil.OpenMigratedPool(t)
		users = pguserrepo.NewRepo(pool)
		rideStore = pgriderepo.NewRepo(pool)
	case backendMemory:
		users = memuserrepo.NewRepo()
		rideStore = memriderepo.NewRepo()
	default:
		t.Fatalf("unknown backend: %s", b)
	}

	// Integration tests use HS256 to stay fully local and deterministic.
	cfg := config.JWTConfig{Issuer: issuer, Audience: audience, HMACSecret: secret, ClockSkew: time.Minute}
	require.NoError(t, cfg.Validate(config.AuthModeHMAC))

	clk := clock.NewSystemClock()
	log := zerolog.Nop()
	hub := broadcast.NewHub(log)
	reg := presence.NewRegistry(users, hub, clk, log)
	rm := rooms.NewManager(rideStore, log)
	out := broadcast.New(hub, rm, reg)
	resolver := identity.NewResolver(jwtverifier.NewHMAC(cfg, nil), users, time.Minute)

	rt := realtime.NewHandler(realtime.Services{
		Identity: resolver,
		Presence: reg,
		Rooms:    rm,
		Rides:    rides.NewService(rideStore, users, rm, out, clk, log),
		Store:    rideStore,
		Out:      out,
		Clock:    clk,
	}, log)

	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Deps{
		Realtime: rt,
		Identity: resolver,
		Presence: reg,
		Rooms:    rm,
		Rides:    rideStore,
		Log:      log,
	}))
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, users: users, rides: rideStore}
}

// seedUser creates an active user with a fresh uuid id.
func (s *testServer) seedUser(t *testing.T, name string) domain.UserID {
	t.Helper()
	now := time.Now().UTC()
	id := domain.UserID(uuid.NewString())
	require.NoError(t, s.users.Create(context.Background(), userrepoport.User{
		ID: id, DisplayName: name, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}))
	return id
}

func token(t *testing.T, sub domain.UserID) string {
	t.Helper()
	tok, err := jwks_testutil.MintHS256JWT([]byte(secret), issuer, audience, string(sub), time.Now(), 10*time.Minute)
	require.NoError(t, err)
	return tok
}

func (s *testServer) getJSON(t *testing.T, path string, sub domain.UserID) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	if sub != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, sub))
	}
	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (s *testServer) connect(t *testing.T, sub domain.UserID) *client {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?token=" + token(t, sub)
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	c := &client{t: t, conn: conn}
	c.expect("authenticated")
	return c
}

func (c *client) send(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// expect skips frames until one named event arrives and returns its data.
func (c *client) expect(event string) json.RawMessage {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var f frame
		require.NoError(c.t, c.conn.ReadJSON(&f), "waiting for %s", event)
		if f.Event == event {
			return f.Data
		}
	}
}

func mustUnmarshal[T any](t *testing.T, b []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, string(b))
	}
	return out
}
