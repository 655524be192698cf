package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/binhnvh/usermgmt/internal/common"
	"github.com/binhnvh/usermgmt/internal/server/authz"
	"github.com/binhnvh/usermgmt/internal/server/services"
)

type createUserRequest struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Roles     []string `json:"roles"`
	Enabled   *bool    `json:"enabled"`
	Locked    *bool    `json:"locked"`
}

type updateUserRequest struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Enabled   *bool    `json:"enabled"`
	Locked    *bool    `json:"locked"`
	Roles     []string `json:"roles"`
}

type enableRequest struct {
	Enabled bool `json:"enabled"`
}

type lockRequest struct {
	Locked bool `json:"locked"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) {
	if !s.authorize(w, r, claims, "") {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	result, err := s.users.ListUsers(r.Context(), limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// resolveTarget loads the user an admin-or-self route targets and runs the
// policy check. Callers not admitted on role alone get a uniform 403 whether
// the id is missing or belongs to someone else, so denied requests do not
// reveal which ids exist.
func (s *Server) resolveTarget(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) (*services.UserDto, bool) {
	admitted := s.policy.Authorize(r.Pattern, claims, "") == nil

	dto, err := s.users.GetUserByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if !admitted && errors.Is(err, common.ErrorNotFound) {
			s.writeError(w, http.StatusForbidden, "insufficient privileges")
			return nil, false
		}
		s.writeServiceError(w, r, err)
		return nil, false
	}

	if !admitted && !s.authorize(w, r, claims, dto.Username) {
		return nil, false
	}
	return dto, true
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) {
	if !s.authorize(w, r, claims, "") {
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dto, err := s.auth.Register(r.Context(), services.NewUser{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Roles:     req.Roles,
		Enabled:   req.Enabled,
		Locked:    req.Locked,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, dto)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) {
	dto, ok := s.resolveTarget(w, r, claims)
	if !ok {
		return
	}

	s.writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleGetUserByUsername(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) {
	if !s.authorize(w, r, claims, "") {
		return
	}

	dto, err := s.users.GetUserByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleGetUserByEmail(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) {
	if !s.authorize(w, r, claims, "") {
		return
	}

	dto, err := s.users.GetUserByEmail(r.Context(), r.PathValue("email"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) {
	target, ok := s.resolveTarget(w, r, claims)
	if !ok {
		return
	}
	id := target.ID

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dto, err := s.users.UpdateUser(r.Context(), id, services.UserUpdate{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Enabled:   req.Enabled,
		Locked:    req.Locked,
		Roles:     req.Roles,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) {
	if !s.authorize(w, r, claims, "") {
		return
	}

	if err := s.users.DeleteUser(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableUser(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) {
	if !s.authorize(w, r, claims, "") {
		return
	}

	var req enableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dto, err := s.users.SetEnabled(r.Context(), r.PathValue("id"), req.Enabled)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleLockUser(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) {
	if !s.authorize(w, r, claims, "") {
		return
	}

	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dto, err := s.users.SetLocked(r.Context(), r.PathValue("id"), req.Locked)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleAddRole(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) {
	if !s.authorize(w, r, claims, "") {
		return
	}

	dto, err := s.users.AddRole(r.Context(), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleRemoveRole(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) {
	if !s.authorize(w, r, claims, "") {
		return
	}

	dto, err := s.users.RemoveRole(r.Context(), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleGetPermission(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) {
	if !s.authorize(w, r, claims, "") {
		return
	}

	dto, err := s.users.GetPermission(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet) {
	target, ok := s.resolveTarget(w, r, claims)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dto, err := s.users.ChangePassword(r.Context(), target.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, dto)
}
