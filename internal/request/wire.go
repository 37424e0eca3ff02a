package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eldtechnologies/peerchat/internal/models"
)

// ErrUnknownKind is returned when decoding a tag outside the closed set.
var ErrUnknownKind = errors.New("unknown request kind")

// wireRequest is the tagged form of a request used when it crosses a
// goroutine, queue or process boundary.
type wireRequest struct {
	Type     Kind            `json:"type"`
	Envelope Envelope        `json:"envelope"`
	Body     json.RawMessage `json:"body"`
}

type registerBody struct {
	RegisterURL string `json:"register_url"`
}

type postMessageBody struct {
	Message wireMessage `json:"message"`
}

// wireMessage carries the local key along with the message fields.
type wireMessage struct {
	LocalID   int64     `json:"local_id,omitempty"`
	UID       string    `json:"uid"`
	Text      string    `json:"text"`
	Chatroom  string    `json:"chatroom"`
	Sender    string    `json:"sender"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	AppID     string    `json:"app_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	SeqNum    *int64    `json:"seqnum,omitempty"`
}

// Encode serializes a request with its discriminant tag.
func Encode(req Request) ([]byte, error) {
	var body any
	switch r := req.(type) {
	case *Register:
		body = registerBody{RegisterURL: r.RegisterURL}
	case *PostMessage:
		if r.Message == nil {
			return nil, errors.New("post message request without message")
		}
		m := r.Message
		body = postMessageBody{Message: wireMessage{
			LocalID:   m.ID,
			UID:       m.UID,
			Text:      m.Text,
			Chatroom:  m.Chatroom,
			Sender:    m.Sender,
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
			AppID:     m.AppID,
			Timestamp: m.Timestamp,
			SeqNum:    m.SeqNum,
		}}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, req)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	return json.Marshal(wireRequest{
		Type:     req.Kind(),
		Envelope: *req.Meta(),
		Body:     raw,
	})
}

// Decode rebuilds a request from its wire form.
func Decode(data []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}

	switch w.Type {
	case KindRegister:
		var b registerBody
		if err := json.Unmarshal(w.Body, &b); err != nil {
			return nil, fmt.Errorf("decode register body: %w", err)
		}
		return &Register{Envelope: w.Envelope, RegisterURL: b.RegisterURL}, nil

	case KindPostMessage:
		var b postMessageBody
		if err := json.Unmarshal(w.Body, &b); err != nil {
			return nil, fmt.Errorf("decode post message body: %w", err)
		}
		m := b.Message
		return &PostMessage{
			Envelope: w.Envelope,
			Message: &models.Message{
				ID:        m.LocalID,
				UID:       m.UID,
				Text:      m.Text,
				Chatroom:  m.Chatroom,
				Sender:    m.Sender,
				Latitude:  m.Latitude,
				Longitude: m.Longitude,
				AppID:     m.AppID,
				Timestamp: m.Timestamp,
				SeqNum:    m.SeqNum,
			},
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
	}
}

// wireResponse is the tagged form of a response.
type wireResponse struct {
	Type            ResponseKind `json:"type"`
	MessageID       int64        `json:"message_id,omitempty"`
	ResponseCode    int          `json:"response_code,omitempty"`
	ResponseMessage string       `json:"response_message,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
}

// EncodeResponse serializes a response with its discriminant tag.
func EncodeResponse(resp Response) ([]byte, error) {
	w := wireResponse{Type: resp.Kind()}
	switch r := resp.(type) {
	case *RegisterResponse:
	case *PostMessageResponse:
		w.MessageID = r.MessageID
	case *ErrorResponse:
		w.ResponseCode = r.ResponseCode
		w.ResponseMessage = r.ResponseMessage
		w.ErrorMessage = r.ErrorMessage
	default:
		return nil, fmt.Errorf("unknown response kind: %T", resp)
	}
	return json.Marshal(w)
}

// DecodeResponse rebuilds a response from its wire form.
func DecodeResponse(data []byte) (Response, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	switch w.Type {
	case ResponseRegister:
		return &RegisterResponse{}, nil
	case ResponsePostMessage:
		return &PostMessageResponse{MessageID: w.MessageID}, nil
	case ResponseError:
		return &ErrorResponse{
			ResponseCode:    w.ResponseCode,
			ResponseMessage: w.ResponseMessage,
			ErrorMessage:    w.ErrorMessage,
		}, nil
	default:
		return nil, fmt.Errorf("unknown response kind %q", w.Type)
	}
}
