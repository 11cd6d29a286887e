package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/peerbajaj/collab/internal/service"
)

// RoomHandler serves the read-only room API.
type RoomHandler struct {
	svc    *service.RoomService
	logger *slog.Logger
}

// NewRoomHandler creates a new RoomHandler.
func NewRoomHandler(svc *service.RoomService, logger *slog.Logger) *RoomHandler {
	return &RoomHandler{
		svc:    svc,
		logger: logger,
	}
}

// HandleGet handles GET /api/rooms/{roomId}.
func (h *RoomHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Get(r.Context(), chi.URLParam(r, "roomId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleParticipants handles GET /api/rooms/{roomId}/participants.
func (h *RoomHandler) HandleParticipants(w http.ResponseWriter, r *http.Request) {
	ps, err := h.svc.Participants(chi.URLParam(r, "roomId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"participants": ps,
		"count":        len(ps),
	})
}

// HandleLanguages handles GET /api/languages.
func (h *RoomHandler) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": h.svc.Languages()})
}
