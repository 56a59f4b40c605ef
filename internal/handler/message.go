package handler

import (
	"errors"
	"net/http"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
	"github.com/chatline/internal/ws"
	"github.com/go-chi/chi/v5"
)

type MessageHandler struct {
	messages *repository.MessageRepository
	groups   *repository.GroupRepository
	hub      *ws.Hub
}

func NewMessageHandler(messages *repository.MessageRepository, groups *repository.GroupRepository, hub *ws.Hub) *MessageHandler {
	return &MessageHandler{messages: messages, groups: groups, hub: hub}
}

// messageView adds the derived delivery status to a stored message. Status
// is not a column; it is computed from the overlays at read time.
type messageView struct {
	*model.Message
	Status model.DeliveryStatus `json:"status"`
}

// History returns the full message history of one chat, oldest first.
// For a private chat the id is the counterpart's user id; messages the
// requester deleted for themselves are filtered out by the store.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "id")
	isGroup := r.URL.Query().Get("is_group") == "true"

	groupSize := 2
	if isGroup {
		g, err := h.groups.FindByID(r.Context(), chatID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeError(w, http.StatusNotFound, "group not found")
				return
			}
			logger.Errorf("history load group %s: %v", chatID, err)
			writeError(w, http.StatusInternalServerError, "failed to load history")
			return
		}
		if !g.HasMember(userID) {
			writeError(w, http.StatusForbidden, "not a member of this group")
			return
		}
		groupSize = len(g.Members)
	}

	msgs, err := h.messages.FindForChat(r.Context(), chatID, isGroup, userID)
	if err != nil {
		logger.Errorf("history %s for %s: %v", chatID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView{Message: m, Status: m.Status(groupSize)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": views})
}

// Delete removes a message. The default (?for=me) hides it from the
// requester only; ?for=everyone is a sender-only hard delete that is fanned
// out to the conversation as message_deleted.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "id")
	scope := r.URL.Query().Get("for")

	m, err := h.messages.FindByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		logger.Errorf("delete load %s: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	if scope == "everyone" {
		if m.SenderID != userID {
			writeError(w, http.StatusForbidden, "only the sender can delete for everyone")
			return
		}
		if err := h.messages.DeleteByID(r.Context(), messageID); err != nil {
			logger.Errorf("delete %s: %v", messageID, err)
			writeError(w, http.StatusInternalServerError, "failed to delete message")
			return
		}
		h.hub.NotifyMessageDeleted(r.Context(), m)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if err := h.messages.SoftDelete(r.Context(), messageID, userID); err != nil {
		logger.Errorf("delete for me %s by %s: %v", messageID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ClearChat hides an entire conversation's history from the requester.
// The counterpart's view and the stored messages are untouched.
func (h *MessageHandler) ClearChat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "id")
	isGroup := r.URL.Query().Get("is_group") == "true"

	if err := h.messages.SoftDeleteChat(r.Context(), chatID, isGroup, userID); err != nil {
		logger.Errorf("clear chat %s for %s: %v", chatID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to clear chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
