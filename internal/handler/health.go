package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Counter reports a live count. *collab.Hub and *session.Registry provide them.
type Counter func() int

// HealthHandler answers liveness probes.
type HealthHandler struct {
	rooms       Counter
	connections Counter
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(rooms, connections Counter) *HealthHandler {
	return &HealthHandler{rooms: rooms, connections: connections}
}

// HandleHealth handles GET /healthz. It never touches the store: a slow
// database must not get the process restarted.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"rooms":       h.rooms(),
		"connections": h.connections(),
	})
}

// Pinger checks a dependency is reachable. Both stores implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler answers readiness probes by pinging the Document Store.
type ReadyHandler struct {
	store  Pinger
	logger *slog.Logger
}

// NewReadyHandler creates a new ReadyHandler.
func NewReadyHandler(store Pinger, logger *slog.Logger) *ReadyHandler {
	return &ReadyHandler{store: store, logger: logger}
}

// HandleReady handles GET /readyz.
func (h *ReadyHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   "unavailable",
			Message: "document store is unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
