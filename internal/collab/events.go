package collab

import (
	"encoding/json"
	"fmt"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/model"
)

// Inbound event names.
const (
	EventCodeChange     = "codeChange"
	EventLanguageChange = "languageChange"
	EventTyping         = "typing"
	EventFileCreate     = "fileCreate"
	EventFileRename     = "fileRename"
	EventFileDelete     = "fileDelete"
	EventFileSwitch     = "fileSwitch"
	EventFileSave       = "fileSave"
	EventCompileCode    = "compileCode"
	EventChatMessage    = "chatMessage"
	EventJoinRoom       = "joinRoom"
	EventLeaveRoom      = "leaveRoom"
)

// Outbound event names. chatMessage is used in both directions.
const (
	EventCodeUpdate     = "codeUpdate"
	EventLanguageUpdate = "languageUpdate"
	EventUserTyping     = "userTyping"
	EventFilesState     = "filesState"
	EventCodeResponse   = "codeResponse"
	EventUserJoined     = "userJoined"
	EventError          = "error"
)

// Event is an inbound client event addressed to one room.
type Event interface {
	EventName() string
	// Room returns the roomId the client put in the payload.
	Room() string
}

type CodeChange struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type LanguageChange struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type Typing struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

type FileCreate struct {
	RoomID   string `json:"roomId"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

type FileRename struct {
	RoomID string `json:"roomId"`
	FileID string `json:"fileId"`
	Name   string `json:"name"`
}

type FileDelete struct {
	RoomID string `json:"roomId"`
	FileID string `json:"fileId"`
}

type FileSwitch struct {
	RoomID string `json:"roomId"`
	FileID string `json:"fileId"`
}

// FileSave writes a file's content through to the store immediately.
// An empty Language keeps the file's current language.
type FileSave struct {
	RoomID   string `json:"roomId"`
	FileID   string `json:"fileId"`
	Content  string `json:"content"`
	Language string `json:"language"`
}

type CompileCode struct {
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	Language string `json:"language"`
	Version  string `json:"version"`
}

// ChatMessage is relayed as-is in both directions.
type ChatMessage struct {
	RoomID string `json:"roomId"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Time   string `json:"time"`
}

func (CodeChange) EventName() string     { return EventCodeChange }
func (LanguageChange) EventName() string { return EventLanguageChange }
func (Typing) EventName() string         { return EventTyping }
func (FileCreate) EventName() string     { return EventFileCreate }
func (FileRename) EventName() string     { return EventFileRename }
func (FileDelete) EventName() string     { return EventFileDelete }
func (FileSwitch) EventName() string     { return EventFileSwitch }
func (FileSave) EventName() string       { return EventFileSave }
func (CompileCode) EventName() string    { return EventCompileCode }
func (ChatMessage) EventName() string    { return EventChatMessage }

func (e CodeChange) Room() string     { return e.RoomID }
func (e LanguageChange) Room() string { return e.RoomID }
func (e Typing) Room() string         { return e.RoomID }
func (e FileCreate) Room() string     { return e.RoomID }
func (e FileRename) Room() string     { return e.RoomID }
func (e FileDelete) Room() string     { return e.RoomID }
func (e FileSwitch) Room() string     { return e.RoomID }
func (e FileSave) Room() string       { return e.RoomID }
func (e CompileCode) Room() string    { return e.RoomID }
func (e ChatMessage) Room() string    { return e.RoomID }

// decoders builds a zero value for each room event so DecodeEvent can
// unmarshal into the concrete type.
var decoders = map[string]func(json.RawMessage) (Event, error){
	EventCodeChange:     decodeAs[CodeChange],
	EventLanguageChange: decodeAs[LanguageChange],
	EventTyping:         decodeAs[Typing],
	EventFileCreate:     decodeAs[FileCreate],
	EventFileRename:     decodeAs[FileRename],
	EventFileDelete:     decodeAs[FileDelete],
	EventFileSwitch:     decodeAs[FileSwitch],
	EventFileSave:       decodeAs[FileSave],
	EventCompileCode:    decodeAs[CompileCode],
	EventChatMessage:    decodeAs[ChatMessage],
}

func decodeAs[T Event](data json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeEvent turns a wire frame's name and data into a room Event.
// joinRoom and leaveRoom are connection-level and are not handled here.
func DecodeEvent(name string, data json.RawMessage) (Event, error) {
	decode, ok := decoders[name]
	if !ok {
		return nil, apperror.ValidationFailed("event", fmt.Sprintf("unknown event %q", name))
	}
	if len(data) == 0 {
		return nil, apperror.ValidationFailed("data", name+" requires a payload")
	}
	ev, err := decode(data)
	if err != nil {
		return nil, apperror.ValidationFailed("data", "malformed "+name+" payload")
	}
	if ev.Room() == "" {
		return nil, apperror.ValidationFailed("roomId", "roomId is required")
	}
	return ev, nil
}

// Outbound payloads.

// FilesState is the full room snapshot. It is sent to a joining connection
// and broadcast after every structural change.
type FilesState struct {
	RoomID       string       `json:"roomId"`
	Files        []model.File `json:"files"`
	ActiveFileID string       `json:"activeFileId"`
	Language     string       `json:"language"`
	LastOutput   string       `json:"lastOutput"`
}

type CodeUpdate struct {
	RoomID string `json:"roomId"`
	FileID string `json:"fileId"`
	Code   string `json:"code"`
}

type LanguageUpdate struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
	FileID   string `json:"fileId"`
}

type UserTyping struct {
	RoomID       string `json:"roomId"`
	UserName     string `json:"userName"`
	ConnectionID string `json:"connectionId"`
}

type CodeResponse struct {
	RoomID string `json:"roomId"`
	Output string `json:"output"`
	Error  bool   `json:"error"`
}

// ParticipantInfo is one entry of the userJoined participant list.
type ParticipantInfo struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

// UserJoined carries the whole participant list. Users keeps the plain
// name list older clients render; Participants adds connection ids so
// clients can tell two people with the same name apart.
type UserJoined struct {
	RoomID       string            `json:"roomId"`
	Users        []string          `json:"users"`
	Participants []ParticipantInfo `json:"participants"`
}

// ErrorPayload is sent only to the connection whose event was rejected.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// NewFilesState builds a snapshot payload from a copy of s.
func NewFilesState(roomID string, s model.RoomState) FilesState {
	c := s.Clone()
	return FilesState{
		RoomID:       roomID,
		Files:        c.Files,
		ActiveFileID: c.ActiveFileID,
		Language:     c.Language,
		LastOutput:   c.LastOutput,
	}
}
