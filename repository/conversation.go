package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/learningmaiyo/ancestral-echo/models"
	"gorm.io/gorm"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) CreateConversation(ctx context.Context, conversation *models.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conversation).Error; err != nil {
		slog.Error("Failed to create conversation", "error", err, "persona_id", conversation.PersonaID)
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	slog.Info("Conversation created", "conversation_id", conversation.ID, "persona_id", conversation.PersonaID)
	return nil
}

func (r *ConversationRepository) GetConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Preload("Persona").
		Preload("Persona.FamilyMember").
		Order("last_message_at DESC NULLS LAST").
		Find(&conversations).Error
	if err != nil {
		slog.Error("Failed to get conversations", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}
	return conversations, nil
}

// GetConversationWithPersona loads a conversation with its persona and family
// member, scoped to the owning user.
func (r *ConversationRepository) GetConversationWithPersona(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", conversationID, userID).
		Preload("Persona").
		Preload("Persona.FamilyMember").
		First(&conversation).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get conversation", "error", err, "conversation_id", conversationID, "user_id", userID)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conversation, nil
}

func (r *ConversationRepository) SaveMessage(ctx context.Context, message *models.ConversationMessage) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		slog.Error("Failed to save message", "error", err, "conversation_id", message.ConversationID)
		return fmt.Errorf("failed to save message: %w", err)
	}
	slog.Info("Message saved", "message_id", message.ID, "conversation_id", message.ConversationID, "is_user", message.IsUserMessage)
	return nil
}

// GetMessages returns all messages in a conversation, oldest first. A user
// message always sorts before the assistant reply it produced.
func (r *ConversationRepository) GetMessages(ctx context.Context, conversationID string) ([]models.ConversationMessage, error) {
	var messages []models.ConversationMessage
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		slog.Error("Failed to get messages", "error", err, "conversation_id", conversationID)
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

// RecentMessages returns the newest limit messages in ascending order, for
// prompt context.
func (r *ConversationRepository) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.ConversationMessage, error) {
	var messages []models.ConversationMessage
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		slog.Error("Failed to get recent messages", "error", err, "conversation_id", conversationID)
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}
	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *ConversationRepository) SetConversationTitle(ctx context.Context, conversationID, title string) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("title", title).Error; err != nil {
		slog.Error("Failed to set conversation title", "error", err, "conversation_id", conversationID)
		return err
	}
	return nil
}

func (r *ConversationRepository) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("last_message_at", at).Error; err != nil {
		slog.Error("Failed to touch conversation", "error", err, "conversation_id", conversationID)
		return err
	}
	return nil
}

func (r *ConversationRepository) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Delete(&models.ConversationMessage{}).Error; err != nil {
		slog.Error("Failed to delete conversation messages", "error", err, "conversation_id", conversationID)
		return err
	}
	if err := r.db.WithContext(ctx).Where("id = ?", conversationID).Delete(&models.Conversation{}).Error; err != nil {
		slog.Error("Failed to delete conversation", "error", err, "conversation_id", conversationID)
		return err
	}
	slog.Info("Conversation deleted", "conversation_id", conversationID)
	return nil
}
