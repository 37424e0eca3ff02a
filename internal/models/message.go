package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// MaxTextLength is the longest message text, in bytes, the server accepts.
const MaxTextLength = 4096

// Message represents a chat message as recorded on the device.
//
// ID is the local primary key and is assigned by the local store on insert.
// SeqNum is the server-assigned global sequence number; it stays nil until
// the server accepts the message and is set exactly once.
type Message struct {
	ID        int64     `json:"-"`
	UID       string    `json:"uid"` // ULID, idempotency key for uploads
	Text      string    `json:"text"`
	Chatroom  string    `json:"chatroom"`
	Sender    string    `json:"sender"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	AppID     string    `json:"app_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	SeqNum    *int64    `json:"seqnum,omitempty"`
}

// NewMessage creates an unsent message with a fresh UID and timestamp.
func NewMessage(text, chatroom, sender string) *Message {
	return &Message{
		UID:       ulid.Make().String(),
		Text:      text,
		Chatroom:  chatroom,
		Sender:    sender,
		Timestamp: time.Now().UTC(),
	}
}

// Sequenced reports whether the server has assigned a sequence number.
func (m *Message) Sequenced() bool {
	return m.SeqNum != nil
}

// SequencedMessage is a message as ordered by the chat server.
type SequencedMessage struct {
	SeqNum    int64    `json:"seqnum"`
	UID       string   `json:"uid"`
	Text      string   `json:"text"`
	Chatroom  string   `json:"chatroom"`
	Sender    string   `json:"sender"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	AppID     string   `json:"app_id,omitempty"`
	Timestamp int64    `json:"ts"` // Unix ms, as sent by the peer
}
