package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/eldtechnologies/peerchat/internal/chatclient"
	"github.com/eldtechnologies/peerchat/internal/metrics"
	"github.com/eldtechnologies/peerchat/internal/models"
)

// Register handles peer registration. Registering a name again replaces the
// earlier registration, so a peer can re-register after reinstalling.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	name := sanitizeName(r.URL.Query().Get(chatclient.ChatNameParam))
	if name == "" {
		h.Error(w, http.StatusBadRequest, "chat-name is required")
		return
	}
	if !isValidChatName(name) {
		h.Error(w, http.StatusBadRequest, "chat-name must be 1-64 characters: letters, digits, '.', '_' or '-'")
		return
	}

	appID, err := uuid.Parse(r.Header.Get(chatclient.HeaderAppID))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid "+chatclient.HeaderAppID+" header")
		return
	}

	reg := &models.Registration{Name: name, AppID: appID}
	reg.Latitude, reg.Longitude = coordinates(r)

	if err := h.registry.UpsertRegistration(r.Context(), reg); err != nil {
		h.logger.Error().Err(err).Str("chat_name", name).Msg("could not store registration")
		h.Error(w, http.StatusInternalServerError, "failed to register")
		return
	}

	metrics.PeersRegistered.Inc()
	h.logger.Info().Str("chat_name", name).Str("app_id", appID.String()).Msg("peer registered")

	h.JSON(w, http.StatusOK, reg)
}
