package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/predaja/internal/auth"
	"github.com/erazemk/predaja/internal/store"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// Login handles POST /api/auth/login.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	user, err := store.GetUserByEmail(r.Context(), s.DB, req.Email)
	if err != nil {
		writeError(w, r, "look up user", err)
		return
	}
	if !auth.CheckLogin(user, req.Password) || user.DeletedAt != nil || !user.Active {
		slog.Warn("login failed", "email", req.Email, "remote", r.RemoteAddr)
		jsonError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, claims, err := s.Issuer.Issue(user)
	if err != nil {
		writeError(w, r, "issue token", err)
		return
	}

	slog.Info("user logged in", "user", user.Email, "role", user.Role)
	jsonResponse(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: claims.ExpiresAt.Time})
}

// Logout handles POST /api/auth/logout by revoking the presented token.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if err := store.RevokeToken(r.Context(), s.DB, claims.ID, claims.ExpiresAt.Time, time.Now()); err != nil {
		writeError(w, r, "revoke token", err)
		return
	}

	slog.Info("user logged out", "user", claims.Email)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me handles GET /api/auth/me.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	jsonResponse(w, http.StatusOK, map[string]any{
		"user":         user,
		"capabilities": user.Capabilities(),
	})
}

// ChangePassword handles PUT /api/auth/password.
func (s *Server) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		jsonError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, r, "change password", err)
		return
	}

	if err := store.UpdateUserPassword(r.Context(), s.DB, user.ID, hash); err != nil {
		writeError(w, r, "change password", err)
		return
	}

	slog.Info("user changed own password", "user", user.Email)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "password updated"})
}
