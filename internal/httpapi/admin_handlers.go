package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"crmdesk.io/internal/auth"
)

type inviteRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type updateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Status   string `json:"status"`
}

type adminView struct {
	ID         int64  `json:"id"`
	FullName   string `json:"full_name"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	IsVerified bool   `json:"is_verified"`
	CreatedAt  string `json:"created_at"`
}

type userView struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Status    string `json:"status"`
	CreatedBy *int64 `json:"created_by,omitempty"`
	CreatedAt string `json:"created_at"`
}

func viewAdmin(a *auth.Admin) adminView {
	return adminView{
		ID:         a.ID,
		FullName:   a.FullName,
		Username:   a.Username,
		Email:      a.Email,
		IsVerified: a.IsVerified,
		CreatedAt:  a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func viewUser(u *auth.User) userView {
	return userView{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Status:    string(u.Status),
		CreatedBy: u.CreatedBy,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (a *API) handleAdminProfile(w http.ResponseWriter, r *http.Request) {
	id, _, _ := auth.AccountIDFromContext(r.Context())
	admin, err := a.accounts.AdminProfile(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "ok", map[string]any{"admin": viewAdmin(admin)})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.accounts.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, viewUser(u))
	}
	writeMessage(w, http.StatusOK, "ok", map[string]any{"users": out})
}

func (a *API) handleInviteUser(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	adminID, _, _ := auth.AccountIDFromContext(r.Context())
	user, err := a.accounts.InviteUser(r.Context(), adminID, auth.InviteInput{
		Username: req.Username,
		Email:    req.Email,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusCreated, "User invited successfully", map[string]any{
		"userId": user.ID,
	})
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.accounts.UpdateUser(r.Context(), id, auth.UpdateUserInput{
		Username: req.Username,
		Email:    req.Email,
		Status:   auth.UserStatus(req.Status),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "User updated successfully", map[string]any{"user": viewUser(user)})
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}
	if err := a.accounts.DeleteUser(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "User deleted successfully", nil)
}

func parsePathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}
