// Package model defines the room, file, language and participant types
// shared by every layer of the server. The types carry no behaviour beyond
// small invariant helpers; rules for changing them live in internal/collab.
package model

import "time"

// File is one tab of a collaborative room.
//
// Names are NOT unique: two tabs may both be called "main.js". Anything that
// needs to address a file uses its ID, which the server generates.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// RoomState is the in-memory truth for one room.
//
// INVARIANT: ActiveFileID is either "" or the ID of an element of Files.
// Every mutation in internal/collab preserves it; Validate checks it.
//
// Files is ordered: the slice order is the tab order clients display.
type RoomState struct {
	Files        []File `json:"files"`
	ActiveFileID string `json:"activeFileId"`
	Language     string `json:"language"`
	LastOutput   string `json:"lastOutput"`
}

// Clone returns a deep copy so a snapshot handed to another goroutine
// (a WebSocket writer, the persistence writer) can never observe later mutations.
func (s RoomState) Clone() RoomState {
	out := s
	out.Files = make([]File, len(s.Files))
	copy(out.Files, s.Files)
	return out
}

// FileIndex returns the position of the file with the given ID, or -1.
func (s RoomState) FileIndex(id string) int {
	for i := range s.Files {
		if s.Files[i].ID == id {
			return i
		}
	}
	return -1
}

// ActiveFile returns a pointer into Files for the active file, or nil when
// the room has no active file.
func (s *RoomState) ActiveFile() *File {
	if s.ActiveFileID == "" {
		return nil
	}
	if i := s.FileIndex(s.ActiveFileID); i >= 0 {
		return &s.Files[i]
	}
	return nil
}

// Validate reports whether the active-file invariant holds.
func (s RoomState) Validate() bool {
	if s.ActiveFileID == "" {
		return true
	}
	return s.FileIndex(s.ActiveFileID) >= 0
}

// Document is the persisted record of a room, the unit the Document Store
// loads and saves. It mirrors RoomState plus the key and a write timestamp.
//
// JSON layout:
//
//	{"roomId":"r1","files":[{"id":..,"name":..,"language":..,"content":..}],
//	 "activeFileId":"..","language":"javascript","lastOutput":"","updatedAt":"..."}
type Document struct {
	RoomID       string    `json:"roomId"`
	Files        []File    `json:"files"`
	ActiveFileID string    `json:"activeFileId"`
	Language     string    `json:"language"`
	LastOutput   string    `json:"lastOutput"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewDocument snapshots a RoomState into a persistable Document.
func NewDocument(roomID string, s RoomState) *Document {
	c := s.Clone()
	return &Document{
		RoomID:       roomID,
		Files:        c.Files,
		ActiveFileID: c.ActiveFileID,
		Language:     c.Language,
		LastOutput:   c.LastOutput,
	}
}

// State converts a stored Document back into a RoomState.
// A dangling ActiveFileID (e.g. from a hand-edited row) is repaired rather
// than trusted, so the invariant holds from the moment a room is loaded.
func (d *Document) State() RoomState {
	s := RoomState{
		Files:        make([]File, len(d.Files)),
		ActiveFileID: d.ActiveFileID,
		Language:     d.Language,
		LastOutput:   d.LastOutput,
	}
	copy(s.Files, d.Files)
	if !s.Validate() {
		s.ActiveFileID = ""
		if len(s.Files) > 0 {
			s.ActiveFileID = s.Files[0].ID
		}
	}
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	return s
}
