// Package service holds the read side of the REST API.
//
// THE LAYERS:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates ids, decides live vs stored
//	Hub / DocumentStore      → the data
//
// Writes never come through here. Every room mutation arrives over the
// WebSocket and is applied by the room's coordinator goroutine, so the
// REST API only reads: the live in-memory state when a room is active,
// otherwise the last record the Document Store holds.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/model"
	"github.com/peerbajaj/collab/internal/repository"
)

// MaxRoomIDLength bounds the room ids the API will look up.
const MaxRoomIDLength = 128

// LiveRooms exposes the in-memory state of active rooms. *collab.Hub
// implements it.
type LiveRooms interface {
	Snapshot(ctx context.Context, roomID string) (model.RoomState, bool, error)
}

// Presence lists who is connected to a room. *session.Registry implements it.
type Presence interface {
	Participants(roomID string) []model.Participant
}

// RoomView is a room document plus whether it came from memory.
type RoomView struct {
	*model.Document
	Live         bool `json:"live"`
	Participants int  `json:"participants"`
}

// RoomService answers read queries about rooms.
type RoomService struct {
	live     LiveRooms
	presence Presence
	store    repository.DocumentStore
	logger   *slog.Logger
}

// NewRoomService creates a RoomService.
func NewRoomService(live LiveRooms, presence Presence, store repository.DocumentStore, logger *slog.Logger) *RoomService {
	return &RoomService{
		live:     live,
		presence: presence,
		store:    store,
		logger:   logger,
	}
}

func validateRoomID(roomID string) (string, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return "", apperror.ValidationFailed("roomId", "room ID is required")
	}
	if len(roomID) > MaxRoomIDLength {
		return "", apperror.ValidationFailed("roomId",
			fmt.Sprintf("room ID must be %d characters or less", MaxRoomIDLength))
	}
	return roomID, nil
}

// Get returns the current document of a room.
//
// An active room answers from memory, so the result includes edits that are
// still waiting for their debounced write. Otherwise the stored record is
// returned, and a room that was never saved is apperror.ErrNotFound.
func (s *RoomService) Get(ctx context.Context, roomID string) (*RoomView, error) {
	roomID, err := validateRoomID(roomID)
	if err != nil {
		return nil, err
	}

	state, ok, err := s.live.Snapshot(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("reading live room %s: %w", roomID, err)
	}
	if ok {
		return &RoomView{
			Document:     model.NewDocument(roomID, state),
			Live:         true,
			Participants: len(s.presence.Participants(roomID)),
		}, nil
	}

	doc, err := s.store.Load(ctx, roomID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		s.logger.Error("failed to load room",
			slog.String("roomId", roomID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Persistence(roomID, err)
	}
	return &RoomView{Document: doc}, nil
}

// Participants returns the live participants of a room in join order.
// A room nobody is connected to has an empty list, not an error.
func (s *RoomService) Participants(roomID string) ([]model.Participant, error) {
	roomID, err := validateRoomID(roomID)
	if err != nil {
		return nil, err
	}
	ps := s.presence.Participants(roomID)
	if ps == nil {
		ps = []model.Participant{}
	}
	return ps, nil
}

// Languages returns the languages rooms can be set to.
func (s *RoomService) Languages() []model.Language {
	return model.Languages()
}
