// Package request defines the closed set of chat service requests and
// responses exchanged between callers and the request processor.
package request

import (
	"strings"
	"time"

	"github.com/eldtechnologies/peerchat/internal/models"
)

// Kind tags a request variant.
type Kind string

const (
	KindRegister    Kind = "REGISTER"
	KindPostMessage Kind = "POST_MESSAGE"
)

// Envelope is the metadata attached to every outgoing request.
type Envelope struct {
	AppID     string    `json:"app_id"`
	Version   int64     `json:"version"`
	ChatName  string    `json:"chat_name"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Request is a chat service request. The set of implementations is closed:
// *Register and *PostMessage.
type Request interface {
	Kind() Kind
	// Expects reports the response kind produced on success.
	Expects() ResponseKind
	// Meta returns the envelope for decoration.
	Meta() *Envelope
	sealed()
}

// Register asks the server to register the peer under ChatName.
type Register struct {
	Envelope
	RegisterURL string
}

// NewRegister creates a registration request for chatName against the
// server at registerURL.
func NewRegister(registerURL, chatName string) *Register {
	return &Register{
		Envelope:    Envelope{ChatName: strings.TrimSpace(chatName)},
		RegisterURL: registerURL,
	}
}

func (r *Register) Kind() Kind            { return KindRegister }
func (r *Register) Expects() ResponseKind { return ResponseRegister }
func (r *Register) Meta() *Envelope       { return &r.Envelope }
func (r *Register) sealed()               {}

// PostMessage uploads a message to its chatroom.
type PostMessage struct {
	Envelope
	Message *models.Message
}

// NewPostMessage creates a post request for msg.
func NewPostMessage(msg *models.Message) *PostMessage {
	return &PostMessage{Message: msg}
}

func (r *PostMessage) Kind() Kind            { return KindPostMessage }
func (r *PostMessage) Expects() ResponseKind { return ResponsePostMessage }
func (r *PostMessage) Meta() *Envelope       { return &r.Envelope }
func (r *PostMessage) sealed()               {}
