package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oapi-codegen/runtime"
	"github.com/rs/zerolog"

	"github.com/Overland-East-Bay/ride-live-api/internal/app/apperr"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/broadcast"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/events"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/realtime"
)

// WSOptions tunes the websocket transport. Zero fields take defaults.
type WSOptions struct {
	// OutboundBuffer is the per-connection queue length. A full queue drops events.
	OutboundBuffer int
	MaxFrameBytes  int64
	WriteTimeout   time.Duration
	PongWait       time.Duration

	// AllowedOrigins restricts browser origins. Empty allows same-host origins only.
	AllowedOrigins []string
}

func (o *WSOptions) applyDefaults() {
	if o.OutboundBuffer <= 0 {
		o.OutboundBuffer = 64
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 16 << 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
}

// inboundFrame is the client -> server envelope.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsServer struct {
	rt       *realtime.Handler
	opts     WSOptions
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu       sync.Mutex
	draining bool
	live     map[*wsConn]struct{}
	running  sync.WaitGroup
}

func newWSServer(rt *realtime.Handler, opts WSOptions, log zerolog.Logger) *wsServer {
	opts.applyDefaults()
	ws := &wsServer{rt: rt, opts: opts, log: log, live: make(map[*wsConn]struct{})}
	ws.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if len(opts.AllowedOrigins) > 0 {
		allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
		for _, o := range opts.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		ws.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
	return ws
}

// ServeHTTP upgrades the request and runs the connection until the peer goes away.
//
// A token query parameter or bearer header authenticates the connection right after the
// upgrade; the outcome is delivered as an authenticated or auth_error event like any other
// authenticate.
func (ws *wsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var token string
	if err := runtime.BindQueryParameter("form", true, false, "token", r.URL.Query(), &token); err != nil {
		writeError(w, r, http.StatusBadRequest, string(apperr.CodeValidation), "invalid token parameter", map[string]any{"token": err.Error()})
		return
	}
	if token == "" {
		token, _ = bearerToken(r)
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		ws.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newWSConn(conn, ws.opts, ws.log)
	if !ws.track(c) {
		c.closeWith(websocket.CloseGoingAway)
		return
	}
	defer ws.untrack(c)

	ctx := r.Context()
	sess := ws.rt.Connect(ctx, c)
	log := zerolog.Ctx(ctx).With().Str("conn_id", string(sess.ID)).Logger()
	ctx = log.WithContext(ctx)

	go c.writePump()
	defer func() {
		ws.rt.Disconnect(ctx, sess)
		c.close()
	}()

	if token != "" {
		payload, _ := json.Marshal(events.AuthenticatePayload{Credential: token})
		ws.rt.Handle(ctx, sess, events.Authenticate, payload)
	}

	conn.SetReadLimit(ws.opts.MaxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(ws.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ws.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(ws.opts.PongWait))

		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			c.Send(broadcast.Event{Name: events.Error, Data: events.ErrorPayload{
				Code:    string(apperr.CodeValidation),
				Message: "frames must be JSON objects with an event name",
			}})
			continue
		}
		ws.rt.Handle(ctx, sess, f.Event, f.Data)
	}
}

func (ws *wsServer) track(c *wsConn) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.draining {
		return false
	}
	ws.live[c] = struct{}{}
	ws.running.Add(1)
	return true
}

func (ws *wsServer) untrack(c *wsConn) {
	ws.mu.Lock()
	delete(ws.live, c)
	ws.mu.Unlock()
	ws.running.Done()
}

// drain closes every tracked connection with going-away and waits for their read loops, and
// the disconnect cleanup behind them, to return.
func (ws *wsServer) drain(ctx context.Context) error {
	ws.mu.Lock()
	ws.draining = true
	conns := make([]*wsConn, 0, len(ws.live))
	for c := range ws.live {
		conns = append(conns, c)
	}
	ws.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway)
	}

	done := make(chan struct{})
	go func() {
		ws.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		ws.log.Info().Int("connections", len(conns)).Msg("websockets drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wsConn is the outbound side of one websocket. Send never blocks; a single writer goroutine
// drains the queue in order.
type wsConn struct {
	ws   *websocket.Conn
	opts WSOptions
	log  zerolog.Logger

	out  chan broadcast.Event
	done chan struct{}
	once sync.Once
}

func newWSConn(conn *websocket.Conn, opts WSOptions, log zerolog.Logger) *wsConn {
	return &wsConn{
		ws:   conn,
		opts: opts,
		log:  log,
		out:  make(chan broadcast.Event, opts.OutboundBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) Send(ev broadcast.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- ev:
		return true
	default:
		return false
	}
}

func (c *wsConn) writePump() {
	ping := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer ping.Stop()

	for {
		select {
		case ev := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteJSON(ev); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.log.Debug().Err(err).Str("event", ev.Name).Msg("websocket write")
				}
				c.close()
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) close() { c.closeWith(websocket.CloseNormalClosure) }

// closeWith sends a close frame carrying code and closes the socket. Only the first call has
// any effect. It is safe to call concurrently with the pumps.
func (c *wsConn) closeWith(code int) {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

var _ broadcast.Sink = (*wsConn)(nil)
