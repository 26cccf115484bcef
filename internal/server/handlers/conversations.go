package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/chatlens/chatlens/internal/errors"
	"github.com/chatlens/chatlens/internal/research"
	"github.com/chatlens/chatlens/internal/server/middleware"
	"github.com/chatlens/chatlens/internal/store"
)

// ConversationStore is the read and delete side of conversation history.
type ConversationStore interface {
	ListConversations(ctx context.Context, ownerID string) ([]store.Conversation, error)
	GetMessages(ctx context.Context, ownerID, conversationID string) ([]research.Message, error)
	DeleteConversation(ctx context.Context, ownerID, conversationID string) error
}

// ConversationsResponse lists the caller's conversations.
type ConversationsResponse struct {
	Conversations []store.Conversation `json:"conversations"`
}

// MessagesResponse lists one conversation's messages in order.
type MessagesResponse struct {
	ConversationID string             `json:"conversationId"`
	Messages       []research.Message `json:"messages"`
}

// ConversationHandlers serves /conversations.
type ConversationHandlers struct {
	Store ConversationStore
}

// List handles GET /conversations.
func (h ConversationHandlers) List(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFrom(r.Context())
	if !ok {
		respondWithError(w, r, apperrors.NewUnauthorizedError("authentication required"))
		return
	}

	conversations, err := h.Store.ListConversations(r.Context(), session.UserID)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list conversations"))
		return
	}
	writeJSON(w, http.StatusOK, ConversationsResponse{Conversations: conversations})
}

// Messages handles GET /conversations/{id}/messages.
func (h ConversationHandlers) Messages(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFrom(r.Context())
	if !ok {
		respondWithError(w, r, apperrors.NewUnauthorizedError("authentication required"))
		return
	}

	id := chi.URLParam(r, "id")
	messages, err := h.Store.GetMessages(r.Context(), session.UserID, id)
	if err != nil {
		h.storeError(w, r, err, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{ConversationID: id, Messages: messages})
}

// Delete handles DELETE /conversations/{id}.
func (h ConversationHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFrom(r.Context())
	if !ok {
		respondWithError(w, r, apperrors.NewUnauthorizedError("authentication required"))
		return
	}

	if err := h.Store.DeleteConversation(r.Context(), session.UserID, chi.URLParam(r, "id")); err != nil {
		h.storeError(w, r, err, "failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h ConversationHandlers) storeError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, r, apperrors.WrapNotFound(r.Context(), err, "conversation not found"))
		return
	}
	respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, message))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
