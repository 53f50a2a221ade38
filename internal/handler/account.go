package handler

import (
	"net/http"

	"github.com/leca/yodel-image/internal/api"
)

// GetAccount handles GET /v1/account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Accounts.Account(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(acct))
}
