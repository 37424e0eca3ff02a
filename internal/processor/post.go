package processor

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/request"
)

// postMessage records the message locally, uploads it and, once the server
// has acknowledged it, stores the assigned sequence number under the
// message's local key.
//
// The upload is synchronous and a failed upload is not retried; the message
// stays in the local store with no sequence number and can be resubmitted
// by posting it again with its local key set.
func (p *Processor) postMessage(ctx context.Context, req *request.PostMessage) request.Response {
	msg := req.Message
	if msg == nil {
		return invalid("post message request without message")
	}

	if msg.Sequenced() {
		return invalid(fmt.Sprintf("message %d already has sequence number %d", msg.ID, *msg.SeqNum))
	}

	if msg.ID == 0 {
		fillFromEnvelope(msg, &req.Envelope)

		if _, err := p.store.InsertMessage(ctx, msg); err != nil {
			p.logger.Error().Err(err).Msg("could not record message; not uploading")
			return localStoreError(err)
		}
	} else {
		// Resubmission of a message that is already recorded locally
		stored, err := p.store.GetMessage(ctx, msg.ID)
		if err != nil {
			p.logger.Error().Err(err).Int64("local_id", msg.ID).Msg("could not load message")
			return localStoreError(err)
		}
		if stored == nil {
			return invalid(fmt.Sprintf("no local message %d", msg.ID))
		}
		if stored.Sequenced() {
			return invalid(fmt.Sprintf("message %d already has sequence number %d", stored.ID, *stored.SeqNum))
		}
		msg = stored
		req.Message = stored
	}

	log := p.logger.With().
		Int64("local_id", msg.ID).
		Str("uid", msg.UID).
		Str("chatroom", msg.Chatroom).
		Logger()
	log.Debug().Msg("uploading message")

	seqNum, err := p.remote.PostMessage(ctx, p.settings.ServerURI(), req.Envelope, msg)
	if err != nil {
		resp := errorResponse(err)
		event, what := log.Warn(), "message upload failed"
		if rejected(resp.ResponseCode) {
			event, what = log.Error(), "server rejected message; resending it will fail the same way"
		}
		event.
			Int("code", resp.ResponseCode).
			Str("response", resp.ResponseMessage).
			Str("detail", resp.ErrorMessage).
			Msg(what)
		return resp
	}

	if err := p.store.UpdateMessageSequence(ctx, msg.ID, seqNum); err != nil {
		// The server accepted the message; the response still reports it.
		log.Error().Err(err).Int64("seqnum", seqNum).Msg("could not record sequence number")
	} else {
		msg.SeqNum = &seqNum
		log.Debug().Int64("seqnum", seqNum).Msg("message sequenced")
	}

	return &request.PostMessageResponse{MessageID: seqNum}
}

// fillFromEnvelope sanitizes a new message and completes it with the
// sender's metadata. Trimming the chatroom is the only normalization.
func fillFromEnvelope(msg *models.Message, env *request.Envelope) {
	msg.Chatroom = strings.TrimSpace(msg.Chatroom)
	if msg.Sender == "" {
		msg.Sender = env.ChatName
	}
	if msg.AppID == "" {
		msg.AppID = env.AppID
	}
	if msg.Latitude == nil && msg.Longitude == nil {
		msg.Latitude, msg.Longitude = env.Latitude, env.Longitude
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = env.Timestamp
	}
}

// rejected reports whether an upload failed because the server refused the
// message itself rather than because it could not take it right now.
func rejected(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return code >= 400 && code < 500
}

func invalid(detail string) *request.ErrorResponse {
	return &request.ErrorResponse{
		ResponseCode:    request.CodeInvalid,
		ResponseMessage: "invalid request",
		ErrorMessage:    detail,
	}
}
