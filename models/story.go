package models

import (
	"time"

	"gorm.io/gorm"
)

// Story categories accepted by the schema check constraint.
const (
	StoryCategoryChildhood     = "childhood"
	StoryCategoryCareer        = "career"
	StoryCategoryFamily        = "family"
	StoryCategoryWisdom        = "wisdom"
	StoryCategoryHistorical    = "historical"
	StoryCategoryHobbies       = "hobbies"
	StoryCategoryTravel        = "travel"
	StoryCategoryAchievements  = "achievements"
	StoryCategoryChallenges    = "challenges"
	StoryCategoryRelationships = "relationships"
)

// Story is one discrete story extracted from a recording's transcription.
// Stories are created in bulk by the processing pipeline and are immutable
// afterwards except for cascading deletes.
type Story struct {
	ID             string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID         string         `gorm:"type:uuid;not null;index" json:"user_id"`
	FamilyMemberID string         `gorm:"type:uuid;not null;index" json:"family_member_id"`
	RecordingID    string         `gorm:"type:uuid;not null;index" json:"recording_id"`
	Title          string         `gorm:"size:255;not null" json:"title"`
	Content        string         `gorm:"type:text;not null" json:"content"`
	Category       string         `gorm:"size:50;not null;check:category IN ('childhood', 'career', 'family', 'wisdom', 'historical', 'hobbies', 'travel', 'achievements', 'challenges', 'relationships')" json:"category"`
	EmotionalTone  string         `gorm:"size:50" json:"emotional_tone,omitempty"`
	Keywords       StringList     `gorm:"type:jsonb" json:"keywords"`
	Themes         StringList     `gorm:"type:jsonb" json:"themes"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	FamilyMember FamilyMember `gorm:"foreignKey:FamilyMemberID" json:"family_member,omitempty"`
	Recording    Recording    `gorm:"foreignKey:RecordingID" json:"recording,omitempty"`
}

// VoiceSample links a recording that was submitted to the voice-cloning
// provider for a persona.
type VoiceSample struct {
	ID                 string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PersonaID          string         `gorm:"type:uuid;not null;index" json:"persona_id"`
	RecordingID        string         `gorm:"type:uuid;not null;index" json:"recording_id"`
	IsUsedForTraining  bool           `gorm:"default:false" json:"is_used_for_training"`
	QualityScore       float64        `gorm:"type:decimal(3,2)" json:"quality_score"`
	DurationSeconds    int            `json:"duration_seconds"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Persona   Persona   `gorm:"foreignKey:PersonaID" json:"persona,omitempty"`
	Recording Recording `gorm:"foreignKey:RecordingID" json:"recording,omitempty"`
}
