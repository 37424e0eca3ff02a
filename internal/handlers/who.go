package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Who handles peer lookup by chat name.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "chatName")
	if !isValidChatName(name) {
		h.Error(w, http.StatusBadRequest, "invalid chat name")
		return
	}

	reg, err := h.registry.GetRegistration(r.Context(), name)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if reg == nil {
		h.Error(w, http.StatusNotFound, "peer not found")
		return
	}

	h.JSON(w, http.StatusOK, reg)
}
