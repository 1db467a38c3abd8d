package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Overland-East-Bay/ride-live-api/internal/app/presence"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/realtime"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/rooms"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
)

// Deps are the application services the HTTP surface exposes.
type Deps struct {
	Realtime *realtime.Handler
	Identity realtime.Resolver
	Presence *presence.Registry
	Rooms    *rooms.Manager
	Rides    riderepo.Repository

	Log zerolog.Logger
	WS  WSOptions
}

// Router serves the HTTP surface and owns the websocket connections it upgrades.
type Router struct {
	http.Handler
	ws *wsServer
}

// Drain closes every open websocket and waits for their handlers to finish, or for ctx to
// expire. Upgrades that complete afterwards are closed immediately. http.Server.Shutdown does
// not track hijacked connections, so call Drain after it and before closing the stores the
// handlers use.
func (rt *Router) Drain(ctx context.Context) error {
	return rt.ws.drain(ctx)
}

// NewRouter constructs the HTTP router.
//
//	GET /healthz                  liveness, unauthenticated
//	GET /ws                       websocket transport, authenticates in-band
//	GET /rides/{rideId}/presence  room snapshot, bearer auth
func NewRouter(d Deps) *Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(withLogger(d.Log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ws := newWSServer(d.Realtime, d.WS, d.Log)
	r.Handle("/ws", ws)

	api := &presenceAPI{rides: d.Rides, rooms: d.Rooms, presence: d.Presence}
	r.Group(func(r chi.Router) {
		r.Use(NewAuthMiddleware(d.Identity))
		r.Get("/rides/{rideId}/presence", api.getRoomPresence)
	})
	return &Router{Handler: r, ws: ws}
}

// withLogger attaches a request-scoped logger carrying the request id.
func withLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
		})
	}
}
