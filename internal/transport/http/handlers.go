// Package httptransport is the thin HTTP layer over the lifecycle manager.
// It delegates to the manager without embedding business logic so transport
// concerns remain isolated.
package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"agrimitra/internal/identity"
	"agrimitra/internal/lifecycle"
	"agrimitra/internal/lifecycle/state"
	"agrimitra/internal/profile"
	"agrimitra/pkg/platform/sentinel"
)

// Handler serves the session surface consumed by the app shell.
type Handler struct {
	manager *lifecycle.Manager
	log     *slog.Logger
}

func NewHandler(manager *lifecycle.Manager, log *slog.Logger) *Handler {
	return &Handler{manager: manager, log: log}
}

type identityResponse struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type sessionResponse struct {
	State           state.Phase       `json:"state"`
	IsLoading       bool              `json:"is_loading"`
	IsRepairing     bool              `json:"is_repairing"`
	ShowLoginPrompt bool              `json:"show_login_prompt"`
	Language        string            `json:"language"`
	Identity        *identityResponse `json:"identity"`
	Profile         *profile.Profile  `json:"profile"`
	Error           *state.Failure    `json:"error"`
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshotResponse(h.manager.State().Snapshot()))
}

func snapshotResponse(snap state.Snapshot) sessionResponse {
	resp := sessionResponse{
		State:           snap.Phase,
		IsLoading:       snap.IsLoading(),
		IsRepairing:     snap.IsRepairing(),
		ShowLoginPrompt: snap.ShowLoginPrompt,
		Language:        snap.Language,
		Profile:         snap.Profile,
		Error:           snap.Failure,
	}
	if snap.Identity != nil {
		resp.Identity = &identityResponse{
			ID:       snap.Identity.ID.String(),
			Email:    snap.Identity.Email,
			Metadata: snap.Identity.Metadata,
		}
	}
	return resp
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if err := h.manager.SignIn(r.Context(), req.Email, req.Password); err != nil {
		h.log.Warn("sign in rejected", "err", err)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(h.manager.State().Snapshot()))
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string            `json:"email"`
		Password     string            `json:"password"`
		Metadata     map[string]string `json:"metadata"`
		CaptchaToken string            `json:"captcha_token"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	err := h.manager.SignUp(r.Context(), identity.SignUpRequest{
		Email:        req.Email,
		Password:     req.Password,
		Metadata:     req.Metadata,
		CaptchaToken: req.CaptchaToken,
	})
	if err != nil {
		h.log.Warn("sign up rejected", "err", err)
		writeError(w, http.StatusUnprocessableEntity, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, snapshotResponse(h.manager.State().Snapshot()))
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.SignOut(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "sign out failed")
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(h.manager.State().Snapshot()))
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := h.manager.ResetPassword(r.Context(), req.Email); err != nil {
		writeError(w, http.StatusBadGateway, "could not send reset mail")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	h.manager.Retry()
	writeJSON(w, http.StatusAccepted, snapshotResponse(h.manager.State().Snapshot()))
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  *string `json:"username"`
		FullName  *string `json:"full_name"`
		District  *string `json:"district"`
		Phone     *string `json:"phone"`
		AvatarURL *string `json:"avatar_url"`
	}
	if !decode(w, r, &req) {
		return
	}
	updated, err := h.manager.UpdateProfile(r.Context(), profile.FieldUpdate{
		Username:  req.Username,
		FullName:  req.FullName,
		District:  req.District,
		Phone:     req.Phone,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrUsernameLocked):
			writeError(w, http.StatusConflict, "username can only be changed once")
		case errors.Is(err, sentinel.ErrConflict):
			writeError(w, http.StatusConflict, "username already taken")
		case errors.Is(err, sentinel.ErrNotFound):
			writeError(w, http.StatusNotFound, "profile not found")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.manager.SetLanguage(r.Context(), req.Language); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(h.manager.State().Snapshot()))
}

func (h *Handler) handleLoginPrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Show bool `json:"show"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.manager.SetShowLoginPrompt(req.Show)
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes the JSON error envelope so every endpoint fails the
// same way.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
