package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Overland-East-Bay/ride-live-api/internal/adapters/httpapi"
	memriderepo "github.com/Overland-East-Bay/ride-live-api/internal/adapters/memory/riderepo"
	memuserrepo "github.com/Overland-East-Bay/ride-live-api/internal/adapters/memory/userrepo"
	"github.com/Overland-East-Bay/ride-live-api/internal/adapters/postgres"
	pgriderepo "github.com/Overland-East-Bay/ride-live-api/internal/adapters/postgres/riderepo"
	pguserrepo "github.com/Overland-East-Bay/ride-live-api/internal/adapters/postgres/userrepo"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/broadcast"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/identity"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/presence"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/realtime"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/rides"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/rooms"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/auth/jwtverifier"
	platformclock "github.com/Overland-East-Bay/ride-live-api/internal/platform/clock"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/config"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/fixtures"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/logger"
	"github.com/Overland-East-Bay/ride-live-api/internal/platform/telemetry"
	riderepoport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
	userrepoport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/userrepo"
)

type ServeCmd struct {
	ListenAddr string `help:"HTTP listen address." default:":8080" env:"LISTEN_ADDR"`
	DevLogs    bool   `help:"Human readable debug logs." env:"DEV_LOGS"`

	StorageBackend string        `help:"Store backend." enum:"memory,postgres" default:"memory" env:"STORAGE_BACKEND"`
	DatabaseURL    string        `name:"database-url" help:"Postgres connection string." env:"DATABASE_URL"`
	AutoMigrate    bool          `help:"Apply embedded migrations on startup." default:"true" env:"AUTO_MIGRATE" negatable:""`
	Pool           PoolFlags     `embed:"" prefix:"pool-"`
	SeedFile       string        `help:"YAML fixtures loaded into the store at startup. Ids must be UUIDs with the postgres backend." type:"existingfile" env:"SEED_FILE"`
	ShutdownGrace  time.Duration `help:"Time allowed for in-flight requests on shutdown." default:"10s" env:"SHUTDOWN_GRACE"`

	AuthMode config.AuthMode  `help:"Credential verification mode." enum:"jwks,hmac,dev" default:"jwks" env:"AUTH_MODE"`
	JWT      config.JWTConfig `embed:"" prefix:"jwt-"`

	OutboundBuffer   int           `help:"Per-connection outbound event queue length." default:"64" env:"OUTBOUND_BUFFER"`
	AllowedOrigins   []string      `help:"Browser origins allowed to open websockets." env:"ALLOWED_ORIGINS"`
	PresenceCacheTTL time.Duration `name:"presence-cache-ttl" help:"How long display names are cached. Authentication always reads the store." default:"1m" env:"PRESENCE_CACHE_TTL"`

	OTelEnabled bool `name:"otel-enabled" help:"Export traces and metrics over OTLP." env:"OTEL_ENABLED"`
}

type PoolFlags struct {
	MaxConns        int32         `help:"Maximum pooled connections." default:"20" env:"DB_POOL_MAX_CONNS"`
	MinConns        int32         `help:"Minimum pooled connections." default:"2" env:"DB_POOL_MIN_CONNS"`
	MaxConnLifetime time.Duration `help:"Maximum connection lifetime." default:"1h" env:"DB_POOL_MAX_CONN_LIFETIME"`
	ConnectRetry    time.Duration `help:"How long to wait for the database on startup." default:"30s" env:"DB_CONNECT_RETRY"`
}

func (c *ServeCmd) Validate() error {
	if c.StorageBackend == "postgres" && c.DatabaseURL == "" {
		return errors.New("--database-url (DATABASE_URL) is required for the postgres backend")
	}
	if c.OutboundBuffer <= 0 {
		return errors.New("--outbound-buffer must be positive")
	}
	return c.JWT.Validate(c.AuthMode)
}

func (c *ServeCmd) Run(parent context.Context) error {
	log := logger.Setup(c.DevLogs)
	zerolog.DefaultContextLogger = &log

	ctx, stop := signal.NotifyContext(log.WithContext(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", version).Str("storage", c.StorageBackend).Str("auth", string(c.AuthMode)).Msg("starting")

	if c.OTelEnabled {
		shutdown, err := telemetry.Init(ctx, "ride-live-api", version)
		if err != nil {
			log.Warn().Err(err).Msg("telemetry disabled")
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					log.Warn().Err(err).Msg("telemetry shutdown")
				}
			}()
		}
	}

	users, rideStore, cleanup, err := c.openStores(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if c.SeedFile != "" {
		seed, err := fixtures.Load(c.SeedFile)
		if err != nil {
			return err
		}
		if err := fixtures.Apply(ctx, seed, users, rideStore, time.Now().UTC()); err != nil {
			return fmt.Errorf("apply seed file: %w", err)
		}
		log.Info().Str("file", c.SeedFile).Int("users", len(seed.Users)).Int("rides", len(seed.Rides)).Msg("fixtures loaded")
	}

	var verifier identity.TokenVerifier
	switch c.AuthMode {
	case config.AuthModeHMAC:
		verifier = jwtverifier.NewHMAC(c.JWT, nil)
	case config.AuthModeDev:
		log.Warn().Msg("dev auth mode: credentials are trusted as user ids")
		verifier = identity.DevVerifier{}
	default:
		verifier = jwtverifier.New(c.JWT)
	}
	resolver := identity.NewResolver(verifier, users, c.PresenceCacheTTL)

	clk := platformclock.NewSystemClock()
	hub := broadcast.NewHub(log)
	registry := presence.NewRegistry(users, hub, clk, log)
	roomMgr := rooms.NewManager(rideStore, log)
	out := broadcast.New(hub, roomMgr, registry)
	rideSvc := rides.NewService(rideStore, users, roomMgr, out, clk, log)

	rt := realtime.NewHandler(realtime.Services{
		Identity: resolver,
		Presence: registry,
		Rooms:    roomMgr,
		Rides:    rideSvc,
		Store:    rideStore,
		Out:      out,
		Clock:    clk,
	}, log)

	router := httpapi.NewRouter(httpapi.Deps{
		Realtime: rt,
		Identity: resolver,
		Presence: registry,
		Rooms:    roomMgr,
		Rides:    rideStore,
		Log:      log,
		WS: httpapi.WSOptions{
			OutboundBuffer: c.OutboundBuffer,
			AllowedOrigins: c.AllowedOrigins,
		},
	})
	srv := &http.Server{
		Addr:              c.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.ListenAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), c.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
	// Hijacked websockets outlive Shutdown; drain them before the stores close.
	if err := router.Drain(sctx); err != nil {
		log.Warn().Err(err).Msg("websocket drain incomplete")
	}
	return nil
}

func (c *ServeCmd) openStores(ctx context.Context) (userrepoport.Repository, riderepoport.Repository, func(), error) {
	if c.StorageBackend != "postgres" {
		return memuserrepo.NewRepo(), memriderepo.NewRepo(), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, c.DatabaseURL, postgres.PoolOptions{
		MaxConns:        c.Pool.MaxConns,
		MinConns:        c.Pool.MinConns,
		MaxConnLifetime: c.Pool.MaxConnLifetime,
		ConnectRetry:    c.Pool.ConnectRetry,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if c.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return pguserrepo.NewRepo(pool), pgriderepo.NewRepo(pool), pool.Close, nil
}
