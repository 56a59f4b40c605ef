package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
	"github.com/chatline/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type GroupHandler struct {
	groups   *repository.GroupRepository
	messages *repository.MessageRepository
	hub      *ws.Hub
}

func NewGroupHandler(groups *repository.GroupRepository, messages *repository.MessageRepository, hub *ws.Hub) *GroupHandler {
	return &GroupHandler{groups: groups, messages: messages, hub: hub}
}

type createGroupRequest struct {
	Name    string   `json:"name"`
	IconURL string   `json:"icon_url"`
	Members []string `json:"members"`
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "group name is required")
		return
	}

	// The creator is admin and always a member.
	members := make([]string, 0, len(req.Members)+1)
	seen := map[string]struct{}{userID: {}}
	members = append(members, userID)
	for _, id := range req.Members {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}

	g := &model.Group{
		ID:      uuid.NewString(),
		Name:    req.Name,
		IconURL: req.IconURL,
		AdminID: userID,
		Members: members,
	}
	if err := h.groups.Create(r.Context(), g); err != nil {
		logger.Errorf("group create by %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to create group")
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *GroupHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	list, err := h.groups.FindForUser(r.Context(), userID)
	if err != nil {
		logger.Errorf("group list %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load groups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": list})
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	g, ok := h.loadMemberGroup(w, r, userID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type renameGroupRequest struct {
	Name string `json:"name"`
}

func (h *GroupHandler) Rename(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	g, ok := h.loadAdminGroup(w, r, userID)
	if !ok {
		return
	}
	var req renameGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "group name is required")
		return
	}
	if err := h.groups.Rename(r.Context(), g.ID, req.Name); err != nil {
		logger.Errorf("group rename %s: %v", g.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to rename group")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setIconRequest struct {
	IconURL string `json:"icon_url"`
}

func (h *GroupHandler) SetIcon(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	g, ok := h.loadAdminGroup(w, r, userID)
	if !ok {
		return
	}
	var req setIconRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.groups.SetIcon(r.Context(), g.ID, req.IconURL); err != nil {
		logger.Errorf("group icon %s: %v", g.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to update icon")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addMembersRequest struct {
	Members []string `json:"members"`
}

func (h *GroupHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	g, ok := h.loadAdminGroup(w, r, userID)
	if !ok {
		return
	}
	var req addMembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Members) == 0 {
		writeError(w, http.StatusBadRequest, "members list is empty")
		return
	}
	if err := h.groups.AddMembers(r.Context(), g.ID, req.Members); err != nil {
		logger.Errorf("group add members %s: %v", g.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to add members")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	g, ok := h.loadMemberGroup(w, r, userID)
	if !ok {
		return
	}
	if g.AdminID == userID {
		writeError(w, http.StatusConflict, "the admin cannot leave; delete the group instead")
		return
	}
	if err := h.groups.RemoveMember(r.Context(), g.ID, userID); err != nil {
		logger.Errorf("group leave %s by %s: %v", g.ID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to leave group")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Delete removes the group, its membership and its entire message history,
// then tells online members the group is gone.
func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	g, ok := h.loadAdminGroup(w, r, userID)
	if !ok {
		return
	}
	if err := h.messages.DeleteForGroup(r.Context(), g.ID); err != nil {
		logger.Errorf("group delete messages %s: %v", g.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete group")
		return
	}
	if err := h.groups.Delete(r.Context(), g.ID); err != nil {
		logger.Errorf("group delete %s: %v", g.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete group")
		return
	}
	h.hub.NotifyGroupDeleted(g.ID, g.Members)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *GroupHandler) loadMemberGroup(w http.ResponseWriter, r *http.Request, userID string) (*model.Group, bool) {
	id := chi.URLParam(r, "id")
	g, err := h.groups.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return nil, false
		}
		logger.Errorf("group load %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load group")
		return nil, false
	}
	if !g.HasMember(userID) {
		writeError(w, http.StatusForbidden, "not a member of this group")
		return nil, false
	}
	return g, true
}

func (h *GroupHandler) loadAdminGroup(w http.ResponseWriter, r *http.Request, userID string) (*model.Group, bool) {
	g, ok := h.loadMemberGroup(w, r, userID)
	if !ok {
		return nil, false
	}
	if g.AdminID != userID {
		writeError(w, http.StatusForbidden, "admin only")
		return nil, false
	}
	return g, true
}
