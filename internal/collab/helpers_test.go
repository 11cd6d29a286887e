package collab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/executor"
	"github.com/peerbajaj/collab/internal/model"
	"github.com/peerbajaj/collab/internal/session"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type frame struct {
	Event string
	Data  any
}

// recordingSink stores every event a connection was sent, in order.
type recordingSink struct {
	mu     sync.Mutex
	frames []frame
}

func (s *recordingSink) Emit(event string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame{Event: event, Data: data})
}

func (s *recordingSink) all() []frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *recordingSink) events(name string) []any {
	var out []any
	for _, f := range s.all() {
		if f.Event == name {
			out = append(out, f.Data)
		}
	}
	return out
}

func (s *recordingSink) count(name string) int {
	return len(s.events(name))
}

func (s *recordingSink) last(name string) any {
	evs := s.events(name)
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

// memStore is an in-memory DocumentStore that records every Save call.
type memStore struct {
	mu        sync.Mutex
	docs      map[string]model.Document
	saves     []model.Document
	failSaves int
	loadFails int
	loadErr   error
	gate      chan struct{}
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]model.Document)}
}

func (s *memStore) Load(ctx context.Context, roomID string) (*model.Document, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadFails > 0 {
		s.loadFails--
		return nil, s.loadErr
	}
	d, ok := s.docs[roomID]
	if !ok {
		return nil, apperror.NotFound("room", roomID)
	}
	d.Files = append([]model.File(nil), d.Files...)
	return &d, nil
}

func (s *memStore) Save(_ context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := *doc
	d.Files = append([]model.File(nil), doc.Files...)
	s.saves = append(s.saves, d)
	if s.failSaves > 0 {
		s.failSaves--
		return errors.New("disk full")
	}
	s.docs[doc.RoomID] = d
	return nil
}

func (s *memStore) put(doc model.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.RoomID] = doc
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *memStore) lastSave() model.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return model.Document{}
	}
	return s.saves[len(s.saves)-1]
}

func (s *memStore) stored(roomID string) (model.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[roomID]
	return d, ok
}

// fakeRunner answers every compile request with the same response.
type fakeRunner struct {
	resp  executor.Response
	calls atomic.Int32
	last  atomic.Value // executor.ExecutionRequest
}

func (f *fakeRunner) Dispatch(_ context.Context, req executor.ExecutionRequest) executor.Response {
	f.calls.Add(1)
	f.last.Store(req)
	return f.resp
}

func counterIDs() func() string {
	var n atomic.Int32
	return func() string { return fmt.Sprintf("f%d", n.Add(1)) }
}

func testOptions(store *memStore) Options {
	return Options{
		Store:       store,
		Registry:    session.NewRegistry(),
		Runner:      &fakeRunner{resp: executor.Response{Output: "ok"}},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Debounce:    50 * time.Millisecond,
		LoadBackoff: time.Millisecond,
		NewID:       counterIDs(),
	}
}

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	h := NewHub(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Close(ctx)
	})
	return h
}

// join connects a recording sink and waits for its snapshot.
func join(t *testing.T, h *Hub, roomID, connID, name string) (*Room, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	r, err := h.Join(roomID, connID, name, sink)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sink.count(EventFilesState) > 0 }, waitFor, tick)
	return r, sink
}

// settle waits until every command queued so far has run.
func settle(t *testing.T, r *Room) model.RoomState {
	t.Helper()
	s, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func submit(t *testing.T, r *Room, connID string, ev Event) {
	t.Helper()
	require.NoError(t, r.Submit(connID, ev))
}
