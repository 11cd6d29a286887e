// Package gateway is the WebSocket front door of the collaboration server.
//
// CONNECTION LIFECYCLE:
//
//	GET /ws?roomId=r1&displayName=alice
//	  → upgrade, assign a connection id
//	  → join r1 (filesState to this connection, userJoined to the room)
//	  → read loop: frame → validate → room inbox
//	  → socket closes: implicit leave
//
// Every frame is JSON text, {"event": "...", "data": {...}}, in both
// directions.
//
// TWO GOROUTINES PER CONNECTION:
// gorilla/websocket allows one concurrent reader and one concurrent writer.
// The HTTP handler goroutine becomes the reader (so the access log line is
// written when the socket closes) and writePump is the only writer. Rooms
// never touch the socket: they call Emit, which only enqueues.
package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/peerbajaj/collab/internal/auth"
	"github.com/peerbajaj/collab/internal/collab"
	"github.com/peerbajaj/collab/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	leaveTimeout   = 5 * time.Second
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
)

// Options configures a Handler. Hub is required.
type Options struct {
	Hub     *collab.Hub
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// RateLimit is the sustained number of inbound events per second one
	// connection may send; RateBurst is the bucket size.
	RateLimit float64
	RateBurst int

	// AllowedOrigins lists the browser origins that may connect. Empty
	// allows any origin.
	AllowedOrigins []string

	// NewID generates connection ids. Tests swap in a counter.
	NewID func() string
}

// Handler upgrades HTTP requests to collaboration sessions.
type Handler struct {
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates a Handler.
func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 50
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 100
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}

	return &Handler{
		opts:   opts,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and, when a list is configured, browsers from listed origins.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	q := r.URL.Query()
	displayName := q.Get("displayName")
	if displayName == "" {
		if id, ok := auth.IdentityFromContext(r.Context()); ok {
			displayName = id.DisplayName
		}
	}

	c := newConn(h.opts.NewID(), ws, h)
	h.opts.Metrics.ConnectionOpened()
	defer h.opts.Metrics.ConnectionClosed()

	c.logger.Info("connection opened", slog.String("remote", r.RemoteAddr))

	go c.writePump()
	if roomID := q.Get("roomId"); roomID != "" {
		c.join(roomID, displayName)
	}
	c.readPump()

	c.logger.Info("connection closed")
}
