package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/repository"
	"github.com/chatline/internal/ws"
	"github.com/go-chi/chi/v5"
)

type UserHandler struct {
	users    *repository.UserRepository
	contacts *repository.ContactRepository
	hub      *ws.Hub
}

func NewUserHandler(users *repository.UserRepository, contacts *repository.ContactRepository, hub *ws.Hub) *UserHandler {
	return &UserHandler{users: users, contacts: contacts, hub: hub}
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.List(r.Context())
	if err != nil {
		logger.Errorf("user list: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": list})
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		logger.Errorf("user get %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}

type updateProfileRequest struct {
	Name      string `json:"name"`
	About     string `json:"about"`
	AvatarURL string `json:"avatar_url"`
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name must not be empty")
		return
	}
	if err := h.users.UpdateProfile(r.Context(), userID, req.Name, req.About, req.AvatarURL); err != nil {
		logger.Errorf("update profile %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	u, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}

type followRequest struct {
	To string `json:"to"`
}

// Follow sends a contact request. Duplicate requests are idempotent.
func (h *UserHandler) Follow(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req followRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.To == "" || req.To == userID {
		writeError(w, http.StatusBadRequest, "valid target user id required")
		return
	}
	if _, err := h.users.GetByID(r.Context(), req.To); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		logger.Errorf("follow lookup %s: %v", req.To, err)
		writeError(w, http.StatusInternalServerError, "failed to send request")
		return
	}

	created, err := h.contacts.CreateRequest(r.Context(), userID, req.To)
	if err != nil {
		logger.Errorf("follow create %s->%s: %v", userID, req.To, err)
		writeError(w, http.StatusInternalServerError, "failed to send request")
		return
	}
	if created {
		h.hub.NotifyUser(req.To, ws.EventNewFollowRequest, ws.FollowEventPayload{From: userID})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *UserHandler) ListFollowRequests(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	list, err := h.contacts.ListRequests(r.Context(), userID)
	if err != nil {
		logger.Errorf("follow list %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load requests")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

type respondRequest struct {
	From   string `json:"from"`
	Accept bool   `json:"accept"`
}

func (h *UserHandler) RespondFollow(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.From == "" {
		writeError(w, http.StatusBadRequest, "from is required")
		return
	}
	if err := h.contacts.Respond(r.Context(), userID, req.From, req.Accept); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		logger.Errorf("follow respond %s<-%s: %v", userID, req.From, err)
		writeError(w, http.StatusInternalServerError, "failed to respond")
		return
	}
	if req.Accept {
		h.hub.NotifyUser(req.From, ws.EventFollowAccepted, ws.FollowEventPayload{From: userID})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *UserHandler) Unfriend(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	contactID := chi.URLParam(r, "id")
	if err := h.contacts.Remove(r.Context(), userID, contactID); err != nil {
		logger.Errorf("unfriend %s-%s: %v", userID, contactID, err)
		writeError(w, http.StatusInternalServerError, "failed to remove contact")
		return
	}
	h.hub.NotifyUser(contactID, ws.EventFriendRemoved, ws.FollowEventPayload{From: userID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *UserHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	list, err := h.contacts.ListContacts(r.Context(), userID)
	if err != nil {
		logger.Errorf("contacts list %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load contacts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": list})
}
