package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/FlexpointLLC/linquo-sub000/pkg/auth"
	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
	"github.com/FlexpointLLC/linquo-sub000/pkg/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// agentFrom returns the claims agentAuth stored for this request, nil on
// unauthenticated routes.
func agentFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(auth.AgentKey).(*auth.Claims)
	return claims
}

// Login issues an agent token. In production this sits behind the identity
// service; here it backs local development and the terminal client.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID     string `json:"agent_id"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	token, err := h.auth.Generate(req.AgentID, req.DisplayName)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// CreateConversation bootstraps a widget session before the websocket opens.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerName string `json:"customer_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.store.CreateConversation(r.Context(), req.CustomerName)
	if err != nil {
		h.log.WithError(err).Error("failed to create conversation")
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}

	msgs, err := h.store.ListByConversation(r.Context(), conversationID, page, h.pageSize)
	if err != nil {
		h.log.WithError(err).WithField("conversation_id", conversationID).Error("failed to list messages")
		http.Error(w, "Failed to retrieve messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"page":            page,
		"page_size":       h.pageSize,
		"messages":        msgs,
	})
}

// SyncMessages is the reconciliation pull: committed rows after a cursor.
func (h *Handler) SyncMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	var sinceID int64
	if v := r.URL.Query().Get("since_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid since_id", http.StatusBadRequest)
			return
		}
		sinceID = n
	}

	msgs, err := h.feed.Sync(r.Context(), conversationID, sinceID)
	if err != nil {
		h.log.WithError(err).WithField("conversation_id", conversationID).Error("reconciliation sync failed")
		http.Error(w, "Failed to sync messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"since_id":        sinceID,
		"messages":        msgs,
	})
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.store.ListOpenConversations(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to list conversations")
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}

	out := make([]model.ActiveSession, 0, len(convs))
	for _, conv := range convs {
		unread, err := h.store.UnreadCount(r.Context(), conv.ID)
		if err != nil {
			h.log.WithError(err).WithField("conversation_id", conv.ID).Warn("failed to compute unread count")
		}
		out = append(out, model.ActiveSession{
			ConversationID: conv.ID,
			CustomerName:   conv.CustomerName,
			Status:         conv.State,
			UnreadCount:    unread,
			LastMessageAt:  conv.LastMessageAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// PatchConversation resolves or reopens a conversation and tells the agents
// room about it.
func (h *Handler) PatchConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	var req struct {
		State model.ConversationState `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.State != model.StateOpen && req.State != model.StateClosed {
		http.Error(w, "state must be OPEN or CLOSED", http.StatusBadRequest)
		return
	}

	if err := h.store.SetState(r.Context(), conversationID, req.State); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		h.log.WithError(err).WithField("conversation_id", conversationID).Error("failed to update conversation state")
		http.Error(w, "Failed to update conversation", http.StatusInternalServerError)
		return
	}

	if h.announcer != nil {
		h.announcer.AnnounceStateChange(conversationID, req.State)
	}

	fields := logrus.Fields{"conversation_id": conversationID, "state": req.State}
	if claims := agentFrom(r); claims != nil {
		fields["agent_id"] = claims.AgentID
	}
	h.log.WithFields(fields).Info("conversation state updated")

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"state":           req.State,
	})
}

// MarkRead persists read receipts for the given rows.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	var req struct {
		MessageIDs []int64 `json:"message_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.MarkRead(r.Context(), conversationID, req.MessageIDs); err != nil {
		h.log.WithError(err).WithField("conversation_id", conversationID).Error("failed to mark read")
		http.Error(w, "Failed to mark messages read", http.StatusInternalServerError)
		return
	}

	unread, err := h.store.UnreadCount(r.Context(), conversationID)
	if err != nil {
		h.log.WithError(err).WithField("conversation_id", conversationID).Warn("failed to recompute unread count")
	}

	fields := logrus.Fields{"conversation_id": conversationID, "marked": len(req.MessageIDs)}
	if claims := agentFrom(r); claims != nil {
		fields["agent_id"] = claims.AgentID
	}
	h.log.WithFields(fields).Debug("messages marked read")

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"marked":          len(req.MessageIDs),
		"unread_count":    unread,
	})
}

// Presence returns the Redis-mirrored online snapshot for a room.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	if h.presence == nil {
		http.Error(w, "Presence mirror not configured", http.StatusServiceUnavailable)
		return
	}
	users, err := h.presence.SMembers(r.Context(), "room:"+conversationID+":online").Result()
	if err != nil {
		h.log.WithError(err).WithField("conversation_id", conversationID).Error("failed to fetch presence")
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"online":          users,
	})
}
