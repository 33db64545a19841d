package models

import (
	"time"

	"gorm.io/gorm"
)

// Persona training and voice-model lifecycles.
const (
	TrainingPending    = "pending"
	TrainingProcessing = "processing"
	TrainingCompleted  = "completed"
	TrainingFailed     = "failed"

	VoiceModelPending  = "pending"
	VoiceModelTraining = "training"
	VoiceModelReady    = "ready"
	VoiceModelFailed   = "failed"
)

// Persona is the AI persona derived from all of one family member's stories.
// One active row per family member; the knowledge base is rebuilt from the
// full story set on every successful recording run, never merged
// incrementally. Version is an optimistic lock for the read-then-write
// refresh cycle.
type Persona struct {
	ID                string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID            string         `gorm:"type:uuid;not null;index" json:"user_id"`
	FamilyMemberID    string         `gorm:"type:uuid;not null;uniqueIndex" json:"family_member_id"`
	KnowledgeBase     string         `gorm:"type:text" json:"knowledge_base"`
	PersonalityTraits JSONMap        `gorm:"type:jsonb" json:"personality_traits"`
	ConversationStyle JSONMap        `gorm:"type:jsonb" json:"conversation_style"`
	TrainingStatus    string         `gorm:"size:20;not null;default:'pending';check:training_status IN ('pending', 'processing', 'completed', 'failed')" json:"training_status"`
	VoiceModelID      string         `gorm:"size:100" json:"voice_model_id,omitempty"`
	VoiceModelStatus  string         `gorm:"size:20;not null;default:'pending';check:voice_model_status IN ('pending', 'training', 'ready', 'failed')" json:"voice_model_status"`
	VoiceSamplesCount int            `gorm:"default:0" json:"voice_samples_count"`
	AgentID           string         `gorm:"size:100" json:"agent_id,omitempty"`
	IsActive          bool           `gorm:"default:true" json:"is_active"`
	Version           int            `gorm:"not null;default:0" json:"-"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	User          User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	FamilyMember  FamilyMember  `gorm:"foreignKey:FamilyMemberID" json:"family_member,omitempty"`
	VoiceSamples  []VoiceSample `gorm:"foreignKey:PersonaID" json:"voice_samples,omitempty"`
	Conversations []Conversation `gorm:"foreignKey:PersonaID" json:"conversations,omitempty"`
}
