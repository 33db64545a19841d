package models

import (
	"time"

	"gorm.io/gorm"
)

// Conversation is a chat thread between a user and a persona.
type Conversation struct {
	ID            string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID        string         `gorm:"type:uuid;not null;index" json:"user_id"`
	PersonaID     string         `gorm:"type:uuid;not null;index" json:"persona_id"`
	Title         string         `gorm:"size:255" json:"title"`
	LastMessageAt *time.Time     `json:"last_message_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	User     User                  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Persona  Persona               `gorm:"foreignKey:PersonaID" json:"persona,omitempty"`
	Messages []ConversationMessage `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

// ConversationMessage is one message in a conversation, ordered by created_at.
// ReferencedStories holds ids of stories whose titles appear in an assistant
// reply.
type ConversationMessage struct {
	ID                string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ConversationID    string         `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Content           string         `gorm:"type:text;not null" json:"content"`
	IsUserMessage     bool           `gorm:"not null" json:"is_user_message"`
	ReferencedStories StringList     `gorm:"type:jsonb" json:"referenced_stories,omitempty"`
	CreatedAt         time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Conversation Conversation `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
}
