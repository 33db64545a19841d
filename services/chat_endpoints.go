package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/learningmaiyo/ancestral-echo/models"
	"github.com/learningmaiyo/ancestral-echo/repository"
)

type ChatEndpoints struct {
	repo          *repository.GORMRepository
	conversations *repository.ConversationRepository
	ai            *OpenAIService
}

type CreateConversationRequest struct {
	PersonaID string `json:"persona_id" validate:"required"`
	Title     string `json:"title"`
}

type SendMessageRequest struct {
	Message string `json:"message" validate:"required"`
}

func NewChatEndpoints(repo *repository.GORMRepository, conversations *repository.ConversationRepository, ai *OpenAIService) *ChatEndpoints {
	return &ChatEndpoints{
		repo:          repo,
		conversations: conversations,
		ai:            ai,
	}
}

func (e *ChatEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", e.CreateConversationHandler)
		r.Get("/", e.GetConversationsHandler)
		r.Get("/{id}", e.GetConversationHandler)
		r.Delete("/{id}", e.DeleteConversationHandler)
		r.Post("/{id}/messages", e.SendMessageHandler)
		r.Get("/{id}/stream", e.StreamMessageHandler)
	})
}

func (e *ChatEndpoints) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	persona, err := e.repo.GetPersonaByID(r.Context(), req.PersonaID)
	if err != nil || persona == nil || persona.UserID != user.ID {
		http.Error(w, "Persona not found", http.StatusNotFound)
		return
	}
	if !persona.IsActive {
		http.Error(w, "Persona is not ready for conversation yet", http.StatusConflict)
		return
	}

	// An empty title is filled in automatically after the first exchange.
	conversation := models.Conversation{
		UserID:    user.ID,
		PersonaID: persona.ID,
		Title:     req.Title,
	}

	if err := e.conversations.CreateConversation(r.Context(), &conversation); err != nil {
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"conversation": conversation,
		"message":      "Conversation created successfully",
	})
}

func (e *ChatEndpoints) GetConversationsHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	conversations, err := e.conversations.GetConversations(r.Context(), user.ID)
	if err != nil {
		http.Error(w, "Failed to get conversations", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"conversations": conversations,
		"count":         len(conversations),
	})
}

func (e *ChatEndpoints) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	conversationID := chi.URLParam(r, "id")
	conversation, err := e.conversations.GetConversationWithPersona(r.Context(), conversationID, user.ID)
	if err != nil || conversation == nil {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	messages, err := e.conversations.GetMessages(r.Context(), conversationID)
	if err != nil {
		http.Error(w, "Failed to get messages", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"conversation": conversation,
		"messages":     messages,
	})
}

func (e *ChatEndpoints) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	conversationID := chi.URLParam(r, "id")
	conversation, err := e.conversations.GetConversationWithPersona(r.Context(), conversationID, user.ID)
	if err != nil || conversation == nil {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	if err := e.conversations.DeleteConversation(r.Context(), conversationID); err != nil {
		http.Error(w, "Failed to delete conversation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Conversation deleted successfully",
	})
}

// SendMessageHandler generates a blocking persona reply.
func (e *ChatEndpoints) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	turn, err := e.prepareTurn(r.Context(), chi.URLParam(r, "id"), user.ID, req.Message)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	reply, err := e.ai.PersonaReply(r.Context(), turn.persona, turn.knowledge, turn.history, req.Message)
	if err != nil {
		slog.Error("Failed to generate persona reply", "error", err, "conversation_id", turn.conversation.ID)
		http.Error(w, "Failed to generate reply", http.StatusBadGateway)
		return
	}

	aiMessage := e.completeTurn(r.Context(), turn, reply)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"reply":              aiMessage,
		"referenced_stories": aiMessage.ReferencedStories,
	})
}

// StreamMessageHandler streams a persona reply over Server-Sent Events. The
// message rides on a query parameter so EventSource clients can use it.
func (e *ChatEndpoints) StreamMessageHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	message := r.URL.Query().Get("message")
	if message == "" {
		http.Error(w, "message query parameter is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	turn, err := e.prepareTurn(r.Context(), chi.URLParam(r, "id"), user.ID, message)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	emit := func(event map[string]interface{}) {
		payload, _ := json.Marshal(event)
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	fullReply, err := e.ai.StreamPersonaReply(r.Context(), turn.persona, turn.knowledge, turn.history, message, func(delta string) error {
		emit(map[string]interface{}{"type": "chunk", "content": delta})
		return nil
	})
	if err != nil {
		slog.Error("Streaming persona reply failed", "error", err, "conversation_id", turn.conversation.ID)
		emit(map[string]interface{}{"type": "error", "error": "Failed to generate reply"})
		return
	}

	aiMessage := e.completeTurn(r.Context(), turn, fullReply)
	emit(map[string]interface{}{
		"type":              "done",
		"fullResponse":      fullReply,
		"referencedStories": aiMessage.ReferencedStories,
	})
}

// chatTurn carries everything loaded for one exchange.
type chatTurn struct {
	conversation *models.Conversation
	persona      *models.Persona
	stories      []models.Story
	knowledge    string
	history      []models.ConversationMessage
	userMessage  string
}

// prepareTurn loads the conversation, persists the user's message, and
// assembles prompt context. The user message is saved before generation so
// it survives a provider failure.
func (e *ChatEndpoints) prepareTurn(ctx context.Context, conversationID, userID, message string) (*chatTurn, error) {
	conversation, err := e.conversations.GetConversationWithPersona(ctx, conversationID, userID)
	if err != nil || conversation == nil {
		return nil, fmt.Errorf("conversation not found")
	}

	persona := &conversation.Persona

	userMessage := models.ConversationMessage{
		ConversationID: conversation.ID,
		Content:        message,
		IsUserMessage:  true,
	}
	if err := e.conversations.SaveMessage(ctx, &userMessage); err != nil {
		return nil, fmt.Errorf("failed to save message")
	}

	history, err := e.conversations.RecentMessages(ctx, conversation.ID, MaxHistoryMessages)
	if err != nil {
		slog.Error("Failed to load conversation history", "error", err, "conversation_id", conversation.ID)
		history = nil
	}
	// The just-saved user message goes in explicitly, not via history.
	if n := len(history); n > 0 && history[n-1].ID == userMessage.ID {
		history = history[:n-1]
	}

	stories, err := e.repo.StoriesForMember(ctx, persona.FamilyMemberID)
	if err != nil {
		slog.Error("Failed to load stories for chat", "error", err, "persona_id", persona.ID)
		stories = nil
	}

	return &chatTurn{
		conversation: conversation,
		persona:      persona,
		stories:      stories,
		knowledge:    RankedKnowledgeBase(stories, message),
		history:      history,
		userMessage:  message,
	}, nil
}

// completeTurn persists the assistant reply with its story references and
// bumps the conversation timestamp.
func (e *ChatEndpoints) completeTurn(ctx context.Context, turn *chatTurn, reply string) *models.ConversationMessage {
	aiMessage := models.ConversationMessage{
		ConversationID:    turn.conversation.ID,
		Content:           reply,
		IsUserMessage:     false,
		ReferencedStories: ReferencedStoryIDs(turn.stories, reply),
	}
	if err := e.conversations.SaveMessage(ctx, &aiMessage); err != nil {
		slog.Error("Failed to save assistant message", "error", err, "conversation_id", turn.conversation.ID)
	}

	if err := e.conversations.TouchConversation(ctx, turn.conversation.ID, time.Now()); err != nil {
		slog.Error("Failed to bump conversation timestamp", "error", err, "conversation_id", turn.conversation.ID)
	}

	// First exchange in an untitled conversation gets an auto title from the
	// opening user message.
	if turn.conversation.LastMessageAt == nil && turn.conversation.Title == "" {
		if title, err := e.ai.SummarizeTitle(ctx, turn.userMessage); err == nil && title != "" {
			if serr := e.conversations.SetConversationTitle(ctx, turn.conversation.ID, title); serr == nil {
				turn.conversation.Title = title
			}
		}
	}

	return &aiMessage
}
