package handlers

import (
	"net/http"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	Peers        int64 `json:"peers"`
	LastSequence int64 `json:"last_seqnum"`
}

// Stats reports how many peers are registered and the last sequence number
// handed out.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	peers, err := h.registry.CountRegistrations(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count peers")
		return
	}

	last, err := h.sequencer.CurrentSequence(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read sequence")
		return
	}

	h.JSON(w, http.StatusOK, StatsResponse{Peers: peers, LastSequence: last})
}
