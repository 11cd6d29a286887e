package collab

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/model"
)

const (
	// MaxFileNameLength is the longest accepted file name, in characters.
	MaxFileNameLength = 100
	// MaxContentLength caps a file's content in bytes.
	MaxContentLength = 100000
	// MaxChatLength caps a chat message, in characters.
	MaxChatLength = 2000
	// MaxFiles caps the number of tabs in one room.
	MaxFiles = 50
)

// Audience says who receives an Effect's event.
type Audience int

const (
	AudienceNone   Audience = iota
	AudienceOthers          // everyone in the room except the sender
	AudienceAll             // everyone, sender included
)

// Persist says how an Effect reaches the Document Store.
type Persist int

const (
	PersistNone      Persist = iota
	PersistDebounced         // coalesced into one write per debounce window
	PersistImmediate         // written now, flushing any pending debounce
)

// Effect is the broadcast and persistence instruction produced by a mutation.
type Effect struct {
	Event    string
	Payload  any
	Audience Audience
	Persist  Persist
}

// Apply runs the pure mutation for ev against s.
//
// PURE FUNCTIONS:
// Apply never touches s (RoomState values are copied and Files is cloned
// before any write), performs no I/O and reads no clock. newID is the only
// input from outside the arguments, so a test can pass a counter and get a
// fully deterministic result. The room goroutine stores the returned state
// first and only then broadcasts and persists, so a failed write can never
// leave clients looking at state the server does not hold.
//
// This is also the one place a merge algorithm (OT, CRDT) would go; today
// every change is last-write-wins.
func Apply(s model.RoomState, roomID string, ev Event, newID func() string) (model.RoomState, Effect, error) {
	switch e := ev.(type) {
	case CodeChange:
		return applyCodeChange(s, roomID, e)
	case LanguageChange:
		return applyLanguageChange(s, roomID, e)
	case FileCreate:
		return applyFileCreate(s, roomID, e, newID())
	case FileRename:
		return applyFileRename(s, roomID, e)
	case FileDelete:
		return applyFileDelete(s, roomID, e)
	case FileSwitch:
		return applyFileSwitch(s, roomID, e)
	case FileSave:
		return applyFileSave(s, roomID, e)
	default:
		return s, Effect{}, apperror.ValidationFailed("event", fmt.Sprintf("%s is not a room mutation", ev.EventName()))
	}
}

func applyCodeChange(s model.RoomState, roomID string, e CodeChange) (model.RoomState, Effect, error) {
	if len(e.Code) > MaxContentLength {
		return s, Effect{}, contentTooLong()
	}
	next := s.Clone()
	f := next.ActiveFile()
	if f == nil {
		return s, Effect{}, apperror.ValidationFailed("activeFileId", "room has no active file")
	}
	f.Content = e.Code
	return next, Effect{
		Event:    EventCodeUpdate,
		Payload:  CodeUpdate{RoomID: roomID, FileID: f.ID, Code: e.Code},
		Audience: AudienceOthers,
		Persist:  PersistDebounced,
	}, nil
}

func applyLanguageChange(s model.RoomState, roomID string, e LanguageChange) (model.RoomState, Effect, error) {
	lang, err := supportedLanguage(e.Language)
	if err != nil {
		return s, Effect{}, err
	}
	next := s.Clone()
	next.Language = lang
	if f := next.ActiveFile(); f != nil {
		f.Language = lang
	}
	return next, Effect{
		Event:    EventLanguageUpdate,
		Payload:  LanguageUpdate{RoomID: roomID, Language: lang, FileID: next.ActiveFileID},
		Audience: AudienceOthers,
		Persist:  PersistImmediate,
	}, nil
}

func applyFileCreate(s model.RoomState, roomID string, e FileCreate, id string) (model.RoomState, Effect, error) {
	name, err := fileName(e.Name)
	if err != nil {
		return s, Effect{}, err
	}
	if len(s.Files) >= MaxFiles {
		return s, Effect{}, apperror.ValidationFailed("files", fmt.Sprintf("a room can hold at most %d files", MaxFiles))
	}
	lang := s.Language
	if strings.TrimSpace(e.Language) != "" {
		if lang, err = supportedLanguage(e.Language); err != nil {
			return s, Effect{}, err
		}
	}
	if lang == "" {
		lang = model.DefaultLanguage
	}

	next := s.Clone()
	next.Files = append(next.Files, model.File{ID: id, Name: name, Language: lang})
	if next.ActiveFileID == "" {
		next.ActiveFileID = id
	}
	return next, structural(roomID, next), nil
}

func applyFileRename(s model.RoomState, roomID string, e FileRename) (model.RoomState, Effect, error) {
	i, err := fileIndex(s, e.FileID)
	if err != nil {
		return s, Effect{}, err
	}
	name, err := fileName(e.Name)
	if err != nil {
		return s, Effect{}, err
	}
	next := s.Clone()
	next.Files[i].Name = name
	return next, structural(roomID, next), nil
}

// applyFileDelete removes a file. When it was the active one, the tab that
// slides into its position becomes active, else the one before it, else none.
func applyFileDelete(s model.RoomState, roomID string, e FileDelete) (model.RoomState, Effect, error) {
	i, err := fileIndex(s, e.FileID)
	if err != nil {
		return s, Effect{}, err
	}
	next := s.Clone()
	next.Files = append(next.Files[:i], next.Files[i+1:]...)

	if next.ActiveFileID == e.FileID {
		switch {
		case i < len(next.Files):
			next.ActiveFileID = next.Files[i].ID
		case len(next.Files) > 0:
			next.ActiveFileID = next.Files[len(next.Files)-1].ID
		default:
			next.ActiveFileID = ""
		}
	}
	return next, structural(roomID, next), nil
}

func applyFileSwitch(s model.RoomState, roomID string, e FileSwitch) (model.RoomState, Effect, error) {
	if _, err := fileIndex(s, e.FileID); err != nil {
		return s, Effect{}, err
	}
	next := s.Clone()
	next.ActiveFileID = e.FileID
	return next, structural(roomID, next), nil
}

// applyFileSave always persists immediately. Other participants only hear
// about it when the save actually changed something in memory.
func applyFileSave(s model.RoomState, roomID string, e FileSave) (model.RoomState, Effect, error) {
	i, err := fileIndex(s, e.FileID)
	if err != nil {
		return s, Effect{}, err
	}
	if len(e.Content) > MaxContentLength {
		return s, Effect{}, contentTooLong()
	}
	next := s.Clone()
	f := &next.Files[i]
	if strings.TrimSpace(e.Language) != "" {
		lang, err := supportedLanguage(e.Language)
		if err != nil {
			return s, Effect{}, err
		}
		f.Language = lang
	}
	f.Content = e.Content

	eff := Effect{Persist: PersistImmediate}
	if *f != s.Files[i] {
		eff.Event = EventFilesState
		eff.Payload = NewFilesState(roomID, next)
		eff.Audience = AudienceOthers
	}
	return next, eff, nil
}

// structural is the effect shared by file list and active file changes.
func structural(roomID string, next model.RoomState) Effect {
	return Effect{
		Event:    EventFilesState,
		Payload:  NewFilesState(roomID, next),
		Audience: AudienceAll,
		Persist:  PersistImmediate,
	}
}

func fileIndex(s model.RoomState, id string) (int, error) {
	if id == "" {
		return -1, apperror.ValidationFailed("fileId", "fileId is required")
	}
	// An unknown id is a bad event, not a missing resource: the client is
	// out of date and the next filesState will correct it.
	i := s.FileIndex(id)
	if i < 0 {
		return -1, apperror.ValidationFailed("fileId", fmt.Sprintf("no file with id %s in this room", id))
	}
	return i, nil
}

func fileName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apperror.ValidationFailed("name", "file name is required")
	}
	if utf8.RuneCountInString(name) > MaxFileNameLength {
		return "", apperror.ValidationFailed("name",
			fmt.Sprintf("file name must be %d characters or less", MaxFileNameLength))
	}
	return name, nil
}

func supportedLanguage(raw string) (string, error) {
	lang, ok := model.LookupLanguage(raw)
	if !ok {
		return "", apperror.ValidationFailed("language", fmt.Sprintf("unsupported language %q", raw))
	}
	return lang.Name, nil
}

func contentTooLong() error {
	return apperror.ValidationFailed("code", fmt.Sprintf("content must be %d bytes or less", MaxContentLength))
}

// applyOutput records the latest execution output. Nobody is told: only the
// requester sees codeResponse, and late joiners get it in their snapshot.
func applyOutput(s model.RoomState, output string) (model.RoomState, Persist) {
	if s.LastOutput == output {
		return s, PersistNone
	}
	next := s.Clone()
	next.LastOutput = output
	return next, PersistDebounced
}
