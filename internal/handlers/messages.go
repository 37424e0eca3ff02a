package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/peerchat/internal/broadcast"
	"github.com/eldtechnologies/peerchat/internal/chatclient"
	"github.com/eldtechnologies/peerchat/internal/metrics"
	"github.com/eldtechnologies/peerchat/internal/models"
)

// PostMessageResponse carries the sequence number assigned to a message.
type PostMessageResponse struct {
	ID int64 `json:"id"`
}

// MessagesResponse represents the chatroom messages response.
type MessagesResponse struct {
	Chatroom string                    `json:"chatroom"`
	Messages []models.SequencedMessage `json:"messages"`
	HasMore  bool                      `json:"has_more"`
}

// PostMessage sequences a message from a registered peer. A resubmission
// with the same Idempotency-Key is answered with the number assigned the
// first time and is not stored or published again, even once the sequencer
// has forgotten the submission.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sender := chi.URLParam(r, "chatName")
	if !isValidChatName(sender) {
		h.Error(w, http.StatusBadRequest, "invalid chat name")
		return
	}

	reg, err := h.registry.GetRegistration(ctx, sender)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if reg == nil {
		h.Error(w, http.StatusNotFound, "peer not registered")
		return
	}

	var body models.Message
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	body.Chatroom = strings.TrimSpace(body.Chatroom)
	if body.Chatroom == "" {
		h.Error(w, http.StatusBadRequest, "chatroom is required")
		return
	}
	if body.Text == "" {
		h.Error(w, http.StatusBadRequest, "text is required")
		return
	}
	if len(body.Text) > models.MaxTextLength {
		h.Error(w, http.StatusUnprocessableEntity, fmt.Sprintf("text too long (max %d bytes)", models.MaxTextLength))
		return
	}

	uid := r.Header.Get(chatclient.HeaderIdempotencyKey)
	if uid == "" {
		uid = body.UID
	}
	if uid == "" {
		uid = ulid.Make().String()
	}

	log := h.logger.With().Str("uid", uid).Str("sender", sender).Str("chatroom", body.Chatroom).Logger()

	seqNum, duplicate, err := h.sequencer.Assign(ctx, uid)
	if err != nil {
		log.Error().Err(err).Msg("could not assign sequence number")
		h.Error(w, http.StatusServiceUnavailable, "sequencer unavailable")
		return
	}

	if duplicate {
		metrics.DuplicateSubmissions.Inc()
		log.Debug().Int64("seqnum", seqNum).Msg("duplicate submission")
		h.created(w, seqNum, http.StatusOK)
		return
	}

	msg := &models.SequencedMessage{
		SeqNum:    seqNum,
		UID:       uid,
		Text:      body.Text,
		Chatroom:  body.Chatroom,
		Sender:    sender,
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
		AppID:     r.Header.Get(chatclient.HeaderAppID),
		Timestamp: sentAt(r, &body),
	}
	if msg.Latitude == nil && msg.Longitude == nil {
		msg.Latitude, msg.Longitude = coordinates(r)
	}

	logged, err := h.messages.AppendMessage(ctx, msg)
	if err != nil {
		log.Error().Err(err).Int64("seqnum", seqNum).Msg("could not store message")
		// Let a retry of the same submission be sequenced again
		if err := h.sequencer.Release(ctx, uid); err != nil {
			log.Error().Err(err).Msg("could not release submission")
		}
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	// The sequencer forgot this uid but the log already holds it under an
	// earlier number, which stays the message's number.
	if logged != seqNum {
		metrics.DuplicateSubmissions.Inc()
		log.Info().Int64("seqnum", logged).Int64("unused", seqNum).Msg("resubmission of a logged message")
		h.created(w, logged, http.StatusOK)
		return
	}

	if h.cache != nil {
		if _, err := h.cache.AppendMessage(ctx, msg); err != nil {
			log.Warn().Err(err).Msg("could not cache message")
		}
	}

	if err := h.publisher.Publish(ctx, msg); err != nil {
		metrics.BroadcastFailures.Inc()
		log.Warn().Err(err).Str("subject", broadcast.Subject(msg.Chatroom)).Msg("could not publish message")
	}

	metrics.MessagesSequenced.Inc()
	log.Info().Int64("seqnum", seqNum).Msg("message sequenced")

	h.created(w, seqNum, http.StatusCreated)
}

// sentAt is the peer's send time in unix millis: the message timestamp, else
// the envelope timestamp, else the time of arrival.
func sentAt(r *http.Request, body *models.Message) int64 {
	if !body.Timestamp.IsZero() {
		return body.Timestamp.UnixMilli()
	}
	if ts, err := strconv.ParseInt(r.Header.Get(chatclient.HeaderTimestamp), 10, 64); err == nil && ts > 0 {
		return ts
	}
	return time.Now().UnixMilli()
}

func (h *Handler) created(w http.ResponseWriter, seqNum int64, status int) {
	w.Header().Set("Location", fmt.Sprintf("/chat/messages/%d", seqNum))
	h.JSON(w, status, PostMessageResponse{ID: seqNum})
}

// ListMessages returns the messages of a chatroom after the since sequence
// number, oldest first.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chatroom := strings.TrimSpace(chi.URLParam(r, "chatroom"))
	if chatroom == "" {
		h.Error(w, http.StatusBadRequest, "chatroom is required")
		return
	}

	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > 200 {
		limit = 200
	}

	var since int64
	if s, err := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64); err == nil && s > 0 {
		since = s
	}

	// +1 for the has_more check
	messages, err := h.messages.ListMessages(r.Context(), chatroom, since, limit+1)
	if err != nil {
		h.logger.Error().Err(err).Str("chatroom", chatroom).Msg("could not list messages")
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	h.JSON(w, http.StatusOK, MessagesResponse{
		Chatroom: chatroom,
		Messages: messages,
		HasMore:  hasMore,
	})
}
