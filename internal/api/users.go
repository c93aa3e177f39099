package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/erazemk/predaja/internal/auth"
	"github.com/erazemk/predaja/internal/model"
	"github.com/erazemk/predaja/internal/store"
)

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"max=200"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=admin manager employee"`
}

type updateUserRequest struct {
	Email  *string `json:"email" validate:"omitempty,email"`
	Name   *string `json:"name" validate:"omitempty,max=200"`
	Role   *string `json:"role" validate:"omitempty,oneof=admin manager employee"`
	Active *bool   `json:"active"`
}

type resetPasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

// ListUsers handles GET /api/users.
func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role != "" && !model.ValidRole(role) {
		jsonError(w, http.StatusBadRequest, "invalid role")
		return
	}

	users, err := store.ListUsers(r.Context(), s.DB, role)
	if err != nil {
		writeError(w, r, "list users", err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	jsonResponse(w, http.StatusOK, users)
}

// CreateUser handles POST /api/users.
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, "create user", err)
		return
	}

	user, err := store.CreateUser(r.Context(), s.DB, req.Email, req.Name, hash, req.Role)
	if err != nil {
		writeError(w, r, "create user", err)
		return
	}

	slog.Info("user created", "user", CurrentUser(r.Context()).Email, "new_user", user.Email, "role", user.Role)
	jsonResponse(w, http.StatusCreated, user)
}

// GetUser handles GET /api/users/{id}.
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := store.GetUser(r.Context(), s.DB, id)
	if err != nil {
		writeError(w, r, "get user", err)
		return
	}
	if user == nil {
		jsonError(w, http.StatusNotFound, "user not found")
		return
	}
	jsonResponse(w, http.StatusOK, user)
}

// UpdateUser handles PUT /api/users/{id}.
func (s *Server) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	actor := CurrentUser(r.Context())
	if actor.ID == id && req.Active != nil && !*req.Active {
		jsonError(w, http.StatusBadRequest, "cannot deactivate yourself")
		return
	}

	user, err := store.UpdateUser(r.Context(), s.DB, id, store.UserUpdate{
		Email:  req.Email,
		Name:   req.Name,
		Role:   req.Role,
		Active: req.Active,
	})
	if err != nil {
		writeError(w, r, "update user", err)
		return
	}

	slog.Info("user updated", "user", actor.Email, "target_user", user.Email, "role", user.Role, "active", user.Active)
	jsonResponse(w, http.StatusOK, user)
}

// ResetPassword handles PUT /api/users/{id}/password.
func (s *Server) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, "reset password", err)
		return
	}

	if err := store.UpdateUserPassword(r.Context(), s.DB, id, hash); err != nil {
		writeError(w, r, "reset password", err)
		return
	}

	slog.Info("user password reset", "user", CurrentUser(r.Context()).Email, "target_user", fmt.Sprintf("id:%d", id))
	jsonResponse(w, http.StatusOK, map[string]string{"message": "password reset"})
}

// DeleteUser handles DELETE /api/users/{id}.
func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	actor := CurrentUser(r.Context())
	if actor.ID == id && !actor.Failsafe {
		jsonError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}

	target, _ := store.GetUser(r.Context(), s.DB, id)
	targetName := fmt.Sprintf("id:%d", id)
	if target != nil {
		targetName = target.Email
	}

	if err := store.DeleteUser(r.Context(), s.DB, id); err != nil {
		writeError(w, r, "delete user", err)
		return
	}

	slog.Info("user deleted", "user", actor.Email, "deleted_user", targetName)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "user deleted"})
}
