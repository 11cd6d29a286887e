// Package collab is the Room Coordinator: it owns every live room's state,
// applies client events to it, broadcasts the results and decides when the
// Document Store is written.
//
// A Hub maps room ids to Rooms. Each Room is an actor (see room.go); Apply
// in apply.go holds the pure mutation rules.
package collab

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/executor"
	"github.com/peerbajaj/collab/internal/metrics"
	"github.com/peerbajaj/collab/internal/model"
	"github.com/peerbajaj/collab/internal/repository"
	"github.com/peerbajaj/collab/internal/session"
)

// DefaultDebounce is how long content changes are coalesced before a write.
const DefaultDebounce = 1500 * time.Millisecond

// Runner executes compileCode requests. *executor.Dispatcher implements it.
type Runner interface {
	Dispatch(ctx context.Context, req executor.ExecutionRequest) executor.Response
}

// Options configures a Hub. Store and Registry are required; every other
// field has a default.
type Options struct {
	Store    repository.DocumentStore
	Registry *session.Registry
	Runner   Runner
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	Debounce     time.Duration
	WriteTimeout time.Duration
	LoadTimeout  time.Duration
	LoadAttempts int
	LoadBackoff  time.Duration
	InboxSize    int

	// NewID generates file ids. Tests swap in a counter.
	NewID func() string
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Runner == nil {
		o.Runner = executor.NewDispatcher(nil, 0, o.Logger, o.Metrics)
	}
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 5 * time.Second
	}
	if o.LoadAttempts <= 0 {
		o.LoadAttempts = 3
	}
	if o.LoadBackoff <= 0 {
		o.LoadBackoff = 200 * time.Millisecond
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 256
	}
	if o.NewID == nil {
		o.NewID = func() string { return xid.New().String() }
	}
}

// Hub owns the set of live rooms.
type Hub struct {
	opts   Options
	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

// NewHub creates a Hub with no rooms loaded.
func NewHub(opts Options) *Hub {
	opts.setDefaults()
	return &Hub{
		opts:  opts,
		rooms: make(map[string]*Room),
	}
}

// Registry returns the Session Registry shared by every room.
func (h *Hub) Registry() *session.Registry {
	return h.opts.Registry
}

// Room returns the live room for roomID, creating it (and starting its load
// from the store) on first use.
func (h *Hub) Room(roomID string) (*Room, error) {
	if roomID == "" {
		return nil, apperror.ValidationFailed("roomId", "room ID is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if r, ok := h.rooms[roomID]; ok {
		return r, nil
	}
	r := newRoom(roomID, &h.opts)
	h.rooms[roomID] = r
	return r, nil
}

// Lookup returns a room only if it is already in memory.
func (h *Hub) Lookup(roomID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	return r, ok
}

// Join gets or creates the room and queues the join.
func (h *Hub) Join(roomID, connectionID, displayName string, sink session.Sink) (*Room, error) {
	r, err := h.Room(roomID)
	if err != nil {
		return nil, err
	}
	if err := r.Join(connectionID, displayName, sink); err != nil {
		return nil, err
	}
	return r, nil
}

// Snapshot returns the live state of a room that is in memory.
// ok is false when the room has not been loaded since process start.
func (h *Hub) Snapshot(ctx context.Context, roomID string) (state model.RoomState, ok bool, err error) {
	r, ok := h.Lookup(roomID)
	if !ok {
		return model.RoomState{}, false, nil
	}
	state, err = r.Snapshot(ctx)
	if err != nil {
		return model.RoomState{}, false, err
	}
	return state, true, nil
}

// RoomCount returns the number of rooms in memory.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Close stops every room and writes each dirty one to the store.
// Rooms flush concurrently; a failure in one does not stop the others.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(8)
	for _, r := range rooms {
		r := r // per-iteration copy; go directive is < 1.22
		g.Go(func() error {
			if err := r.Close(ctx); err != nil {
				h.opts.Logger.Error("room flush failed",
					slog.String("roomId", r.ID()),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	h.opts.Logger.Info("collaboration hub closed", slog.Int("rooms", len(rooms)))
	return errors.Join(errs...)
}
