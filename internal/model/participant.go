package model

import "time"

// Participant is one live connection to a room. It is never persisted.
//
// WHY KEY ON ConnectionID?
// Display names are whatever the client sends; two browser tabs can both be
// "alice". The connection ID is the only identity the server can trust, so
// registries, typing indicators and the participant list all key off it.
type Participant struct {
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	RoomID       string    `json:"roomId"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// ChatMessage is broadcast to a room and then forgotten.
type ChatMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Time   string `json:"time"`
}
