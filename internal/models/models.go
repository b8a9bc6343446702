package models

import (
	"encoding/json"
	"time"
)

// Socket event names shared by the live adapter and the devserver hub.
const (
	EventJoin        = "join"
	EventMessage     = "message"
	EventChatExpired = "chatExpired"
	EventUserCount   = "userCount"
)

// Durations 是创建房间时可选的存活时长。
var Durations = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1m":  30 * 24 * time.Hour,
}

// Attachment is a small binary payload carried inline with a message.
// Data is base64-encoded; the decoded size is capped at 10 MiB.
type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

// Message is the wire form of a chat message. IsSelf is derived locally
// from the session identity and never transmitted.
type Message struct {
	ID         string      `json:"id"`
	Content    string      `json:"content"`
	Sender     string      `json:"sender"`
	CreatedAt  time.Time   `json:"created_at"`
	Attachment *Attachment `json:"attachment,omitempty"`
	IsSelf     bool        `json:"-"`
}

// ChatInfo is the room metadata returned by the snapshot endpoint.
type ChatInfo struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Snapshot is the one-shot historical read of a chat.
type Snapshot struct {
	Chat     ChatInfo  `json:"chat"`
	Messages []Message `json:"messages"`
}

// Outbound is a locally submitted message before the server assigns an id.
type Outbound struct {
	ChatID     string      `json:"chatId"`
	Sender     string      `json:"sender"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Join announces presence in a chat over the socket.
type Join struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// Envelope frames every socket event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope marshals payload into a framed event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}
