package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/learningmaiyo/ancestral-echo/models"
	"gorm.io/gorm"
)

// ErrInvalidTransition is returned when a recording status update is requested
// from a state the transition is not allowed from.
var ErrInvalidTransition = errors.New("invalid processing status transition")

type GORMRepository struct {
	db *gorm.DB
}

func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db}
}

// AutoMigrate runs database migrations
func (r *GORMRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.PermanentToken{},
		&models.FamilyMember{},
		&models.Recording{},
		&models.Story{},
		&models.Persona{},
		&models.VoiceSample{},
		&models.Conversation{},
		&models.ConversationMessage{},
	)
}

// User operations
func (r *GORMRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		slog.Error("Failed to create user", "error", err)
		return err
	}
	slog.Info("User created", "user_id", user.ID, "email", user.Email)
	return nil
}

func (r *GORMRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get user by email", "error", err, "email", email)
		return nil, err
	}
	return &user, nil
}

func (r *GORMRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get user by ID", "error", err, "user_id", id)
		return nil, err
	}
	return &user, nil
}

// Token operations
func (r *GORMRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		slog.Error("Failed to create refresh token", "error", err)
		return err
	}
	return nil
}

func (r *GORMRepository) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var refreshToken models.RefreshToken
	if err := r.db.WithContext(ctx).Where("token = ? AND expires_at > ?", token, time.Now()).First(&refreshToken).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get refresh token", "error", err)
		return nil, err
	}
	return &refreshToken, nil
}

func (r *GORMRepository) DeleteRefreshToken(ctx context.Context, token string) error {
	if err := r.db.WithContext(ctx).Where("token = ?", token).Delete(&models.RefreshToken{}).Error; err != nil {
		slog.Error("Failed to delete refresh token", "error", err)
		return err
	}
	return nil
}

func (r *GORMRepository) CreatePermanentToken(ctx context.Context, token *models.PermanentToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		slog.Error("Failed to create permanent token", "error", err)
		return err
	}
	return nil
}

func (r *GORMRepository) GetPermanentToken(ctx context.Context, token string) (*models.PermanentToken, error) {
	var permanentToken models.PermanentToken
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&permanentToken).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get permanent token", "error", err)
		return nil, err
	}
	return &permanentToken, nil
}

func (r *GORMRepository) DeleteAllUserTokens(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error; err != nil {
		slog.Error("Failed to delete user refresh tokens", "error", err, "user_id", userID)
		return err
	}
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.PermanentToken{}).Error; err != nil {
		slog.Error("Failed to delete user permanent tokens", "error", err, "user_id", userID)
		return err
	}
	return nil
}

// Family member operations
func (r *GORMRepository) CreateFamilyMember(ctx context.Context, member *models.FamilyMember) error {
	if err := r.db.WithContext(ctx).Create(member).Error; err != nil {
		slog.Error("Failed to create family member", "error", err)
		return err
	}
	slog.Info("Family member created", "family_member_id", member.ID, "name", member.Name)
	return nil
}

func (r *GORMRepository) GetFamilyMembers(ctx context.Context, userID string) ([]models.FamilyMember, error) {
	var members []models.FamilyMember
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("name").Find(&members).Error; err != nil {
		slog.Error("Failed to get family members", "error", err, "user_id", userID)
		return nil, err
	}
	return members, nil
}

func (r *GORMRepository) GetFamilyMemberByID(ctx context.Context, memberID, userID string) (*models.FamilyMember, error) {
	var member models.FamilyMember
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", memberID, userID).First(&member).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get family member", "error", err, "family_member_id", memberID, "user_id", userID)
		return nil, err
	}
	return &member, nil
}

func (r *GORMRepository) UpdateFamilyMember(ctx context.Context, member *models.FamilyMember) error {
	if err := r.db.WithContext(ctx).Save(member).Error; err != nil {
		slog.Error("Failed to update family member", "error", err, "family_member_id", member.ID)
		return err
	}
	slog.Info("Family member updated", "family_member_id", member.ID, "name", member.Name)
	return nil
}

func (r *GORMRepository) DeleteFamilyMember(ctx context.Context, memberID string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", memberID).Delete(&models.FamilyMember{}).Error; err != nil {
		slog.Error("Failed to delete family member", "error", err, "family_member_id", memberID)
		return err
	}
	slog.Info("Family member deleted", "family_member_id", memberID)
	return nil
}

// Recording operations
func (r *GORMRepository) CreateRecording(ctx context.Context, recording *models.Recording) error {
	if err := r.db.WithContext(ctx).Create(recording).Error; err != nil {
		slog.Error("Failed to create recording", "error", err)
		return err
	}
	slog.Info("Recording created", "recording_id", recording.ID, "family_member_id", recording.FamilyMemberID)
	return nil
}

// RecordingWithMember loads a recording and its family member without a user
// scope; the pipeline runs with a trusted id.
func (r *GORMRepository) RecordingWithMember(ctx context.Context, recordingID string) (*models.Recording, error) {
	var recording models.Recording
	err := r.db.WithContext(ctx).
		Where("id = ?", recordingID).
		Preload("FamilyMember").
		First(&recording).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get recording", "error", err, "recording_id", recordingID)
		return nil, err
	}
	return &recording, nil
}

func (r *GORMRepository) GetRecordingByID(ctx context.Context, recordingID, userID string) (*models.Recording, error) {
	var recording models.Recording
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", recordingID, userID).
		First(&recording).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get recording", "error", err, "recording_id", recordingID, "user_id", userID)
		return nil, err
	}
	return &recording, nil
}

func (r *GORMRepository) GetRecordings(ctx context.Context, userID, familyMemberID string) ([]models.Recording, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if familyMemberID != "" {
		query = query.Where("family_member_id = ?", familyMemberID)
	}
	var recordings []models.Recording
	if err := query.Order("created_at DESC").Find(&recordings).Error; err != nil {
		slog.Error("Failed to get recordings", "error", err, "user_id", userID)
		return nil, err
	}
	return recordings, nil
}

// EligibleVoiceRecordings returns completed, transcribed recordings for a
// family member, longest first. Duration filtering is left to the sample
// selection policy.
func (r *GORMRepository) EligibleVoiceRecordings(ctx context.Context, familyMemberID string) ([]models.Recording, error) {
	var recordings []models.Recording
	err := r.db.WithContext(ctx).
		Where("family_member_id = ? AND processing_status = ? AND transcription IS NOT NULL", familyMemberID, models.RecordingCompleted).
		Order("duration_seconds DESC").
		Find(&recordings).Error
	if err != nil {
		slog.Error("Failed to get eligible voice recordings", "error", err, "family_member_id", familyMemberID)
		return nil, err
	}
	return recordings, nil
}

// TransitionRecordingStatus moves a recording between processing states. The
// update only applies when the current status is one of from; anything else
// returns ErrInvalidTransition so callers cannot skip or rewind the
// lifecycle by accident.
func (r *GORMRepository) TransitionRecordingStatus(ctx context.Context, recordingID string, from []string, to string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Recording{}).
		Where("id = ? AND processing_status IN ?", recordingID, from).
		Update("processing_status", to)
	if result.Error != nil {
		slog.Error("Failed to transition recording status", "error", result.Error, "recording_id", recordingID, "to", to)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	slog.Info("Recording status transitioned", "recording_id", recordingID, "to", to)
	return nil
}

// SaveTranscription persists the transcription text independently of the rest
// of the pipeline, so the expensive artifact survives later failures.
func (r *GORMRepository) SaveTranscription(ctx context.Context, recordingID, transcription string) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Recording{}).
		Where("id = ?", recordingID).
		Update("transcription", transcription).Error; err != nil {
		slog.Error("Failed to save transcription", "error", err, "recording_id", recordingID)
		return err
	}
	slog.Info("Transcription saved", "recording_id", recordingID, "length", len(transcription))
	return nil
}

// DeleteRecording removes a recording and its stories.
func (r *GORMRepository) DeleteRecording(ctx context.Context, recordingID string) error {
	if err := r.db.WithContext(ctx).Where("recording_id = ?", recordingID).Delete(&models.Story{}).Error; err != nil {
		slog.Error("Failed to delete recording stories", "error", err, "recording_id", recordingID)
		return err
	}
	if err := r.db.WithContext(ctx).Where("id = ?", recordingID).Delete(&models.Recording{}).Error; err != nil {
		slog.Error("Failed to delete recording", "error", err, "recording_id", recordingID)
		return err
	}
	slog.Info("Recording deleted", "recording_id", recordingID)
	return nil
}
