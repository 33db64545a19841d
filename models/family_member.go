package models

import (
	"time"

	"gorm.io/gorm"
)

// FamilyMember is a person whose stories and voice are being preserved.
type FamilyMember struct {
	ID           string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID       string         `gorm:"type:uuid;not null;index" json:"user_id"`
	Name         string         `gorm:"size:255;not null" json:"name"`
	Relationship string         `gorm:"size:50;not null;check:relationship IN ('parent', 'grandparent', 'sibling', 'aunt_uncle', 'cousin', 'child', 'grandchild', 'spouse', 'friend', 'other')" json:"relationship"`
	BirthDate    *time.Time     `json:"birth_date,omitempty"`
	Bio          string         `gorm:"type:text" json:"bio,omitempty"`
	PhotoURL     string         `gorm:"size:500" json:"photo_url,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	User       User        `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Recordings []Recording `gorm:"foreignKey:FamilyMemberID" json:"recordings,omitempty"`
	Stories    []Story     `gorm:"foreignKey:FamilyMemberID" json:"stories,omitempty"`
	Persona    *Persona    `gorm:"foreignKey:FamilyMemberID" json:"persona,omitempty"`
}
