package httpapi

import (
	"context"
	"net/http"
	"time"

	"crmdesk.io/internal/auth"
)

type registerRequest struct {
	FullName        string `json:"full_name"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type verifyRequest struct {
	Email        string `json:"email"`
	SecurityCode string `json:"securityCode"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type setupRequest struct {
	Token           string `json:"token"`
	TempPassword    string `json:"tempPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	admin, err := a.accounts.Register(r.Context(), auth.RegisterInput{
		FullName:        req.FullName,
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusCreated, "Admin registered. Check email for security code.", map[string]any{
		"adminId": admin.ID,
	})
}

func (a *API) handleVerifySecurityCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.accounts.VerifySecurityCode(r.Context(), req.Email, req.SecurityCode); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Email verified. Admin account activated.", nil)
}

func (a *API) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	a.login(w, r, a.accounts.LoginAdmin)
}

func (a *API) handleUserLogin(w http.ResponseWriter, r *http.Request) {
	a.login(w, r, a.accounts.LoginUser)
}

// handleLogin is the unified endpoint; the session tells the client where to go.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	a.login(w, r, a.accounts.Login)
}

type loginFunc func(ctx context.Context, email, password string) (*auth.Session, error)

func (a *API) login(w http.ResponseWriter, r *http.Request, fn loginFunc) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := fn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Login successful", map[string]any{
		"token":      sess.Token,
		"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
		"role":       string(sess.Role),
		"redirect":   sess.Redirect,
	})
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password reset link sent.", nil)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.accounts.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password reset successful.", nil)
}

func (a *API) handleCheckSetupToken(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "No token provided")
		return
	}
	email, err := a.accounts.CheckSetupToken(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Token valid. Please provide a new password.", map[string]any{
		"email": email,
	})
}

func (a *API) handleSetupAccount(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := a.accounts.SetupAccount(r.Context(), auth.SetupInput{
		Token:           req.Token,
		TempPassword:    req.TempPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	}); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Account setup complete. You can now log in.", nil)
}
