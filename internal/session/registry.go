// Package session is the Session Registry: which connections are in which room.
//
// It is deliberately dumb: in-memory, per process, never persisted. After a
// restart it is rebuilt from scratch as clients reconnect. The Room
// Coordinator uses it to find broadcast targets; the REST API uses it to
// list participants.
//
// Identity is the connection ID. Display names are carried along for the UI
// but never used as keys (two participants may share a name).
package session

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/model"
)

// Sink delivers a server event to one connection.
// Emit must not block: the gateway implementation enqueues into a bounded
// per-connection buffer and drops the connection if it is full.
type Sink interface {
	Emit(event string, data any)
}

// Member is a participant together with the sink that reaches it.
type Member struct {
	model.Participant
	Sink Sink
}

const (
	// DefaultDisplayName is used when a client connects without a name.
	DefaultDisplayName = "Anonymous"
	// MaxDisplayNameLength is the longest kept display name, in characters.
	MaxDisplayNameLength = 50
)

// NormalizeDisplayName trims a client-supplied name, truncates it to
// MaxDisplayNameLength characters and falls back to DefaultDisplayName.
func NormalizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		name = strings.TrimSpace(string([]rune(name)[:MaxDisplayNameLength]))
	}
	if name == "" {
		return DefaultDisplayName
	}
	return name
}

// Registry maps rooms to their live participants.
//
// CONCURRENCY:
// Each room's coordinator goroutine reads and writes its own room's entries,
// and HTTP handlers read from arbitrary goroutines, so a RWMutex guards both maps.
type Registry struct {
	mu      sync.RWMutex
	members map[string]*Member  // connectionID → member
	rooms   map[string][]string // roomID → connectionIDs in join order
	now     func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		members: make(map[string]*Member),
		rooms:   make(map[string][]string),
		now:     time.Now,
	}
}

// Join registers a connection in a room.
// A connection can be in at most one room; joining again without leaving is a conflict.
func (r *Registry) Join(roomID, connectionID, displayName string, sink Sink) (model.Participant, error) {
	if roomID == "" {
		return model.Participant{}, apperror.ValidationFailed("roomId", "room ID is required")
	}
	if connectionID == "" {
		return model.Participant{}, apperror.ValidationFailed("connectionId", "connection ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[connectionID]; ok {
		return model.Participant{}, apperror.Conflict("connection", connectionID)
	}

	p := model.Participant{
		ConnectionID: connectionID,
		DisplayName:  displayName,
		RoomID:       roomID,
		JoinedAt:     r.now(),
	}
	r.members[connectionID] = &Member{Participant: p, Sink: sink}
	r.rooms[roomID] = append(r.rooms[roomID], connectionID)
	return p, nil
}

// Leave removes a connection from whatever room it is in.
// It reports false when the connection was not registered, so disconnect and
// an explicit leaveRoom can both call it safely.
func (r *Registry) Leave(connectionID string) (model.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connectionID]
	if !ok {
		return model.Participant{}, false
	}
	delete(r.members, connectionID)

	ids := r.rooms[m.RoomID]
	for i, id := range ids {
		if id == connectionID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.rooms, m.RoomID)
	} else {
		r.rooms[m.RoomID] = ids
	}
	return m.Participant, true
}

// Lookup returns the participant for a connection.
func (r *Registry) Lookup(connectionID string) (model.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[connectionID]
	if !ok {
		return model.Participant{}, false
	}
	return m.Participant, true
}

// Member returns the member registered for a connection, sink included.
func (r *Registry) Member(connectionID string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[connectionID]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Members returns the room's members in join order.
// The slice is a copy; callers may iterate it without holding any lock.
func (r *Registry) Members(roomID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.rooms[roomID]
	out := make([]Member, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.members[id])
	}
	return out
}

// Participants returns the room's participants in join order.
func (r *Registry) Participants(roomID string) []model.Participant {
	members := r.Members(roomID)
	out := make([]model.Participant, len(members))
	for i, m := range members {
		out[i] = m.Participant
	}
	return out
}

// Names returns the display names in the room, duplicates included.
func (r *Registry) Names(roomID string) []string {
	members := r.Members(roomID)
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.DisplayName
	}
	return out
}

// Count returns the number of registered connections across all rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// RoomCount returns the number of rooms with at least one participant.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
