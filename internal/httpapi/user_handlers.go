package httpapi

import (
	"net/http"

	"crmdesk.io/internal/auth"
)

type profileRequest struct {
	Username string `json:"username"`
}

func (a *API) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	id, _, _ := auth.AccountIDFromContext(r.Context())
	user, err := a.accounts.UserProfile(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "ok", map[string]any{"user": viewUser(user)})
}

func (a *API) handleUpdateUserProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, _, _ := auth.AccountIDFromContext(r.Context())
	user, err := a.accounts.UpdateUserProfile(r.Context(), id, req.Username)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Profile updated successfully", map[string]any{"user": viewUser(user)})
}
