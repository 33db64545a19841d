package models

import (
	"time"

	"gorm.io/gorm"
)

// Recording processing lifecycle. The only transition back to pending is an
// explicit retry from processing or failed.
const (
	RecordingPending    = "pending"
	RecordingProcessing = "processing"
	RecordingCompleted  = "completed"
	RecordingFailed     = "failed"
)

// Recording is one captured audio session for a family member.
type Recording struct {
	ID               string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID           string         `gorm:"type:uuid;not null;index" json:"user_id"`
	FamilyMemberID   string         `gorm:"type:uuid;not null;index" json:"family_member_id"`
	AudioURL         string         `gorm:"size:500;not null" json:"audio_url"`
	DurationSeconds  int            `json:"duration_seconds"`
	FileSizeBytes    int64          `json:"file_size_bytes"`
	Context          string         `gorm:"type:text" json:"context,omitempty"`
	ProcessingStatus string         `gorm:"size:20;not null;default:'pending';check:processing_status IN ('pending', 'processing', 'completed', 'failed')" json:"processing_status"`
	Transcription    *string        `gorm:"type:text" json:"transcription,omitempty"`
	SessionDate      time.Time      `json:"session_date"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	User         User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
	FamilyMember FamilyMember `gorm:"foreignKey:FamilyMemberID" json:"family_member,omitempty"`
	Stories      []Story      `gorm:"foreignKey:RecordingID" json:"stories,omitempty"`
}
