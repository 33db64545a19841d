package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/learningmaiyo/ancestral-echo/models"
	"gorm.io/gorm"
)

// ErrVersionConflict is returned when a persona update loses an optimistic
// lock race; callers re-read and retry.
var ErrVersionConflict = errors.New("persona version conflict")

// Story operations
func (r *GORMRepository) ReplaceRecordingStories(ctx context.Context, recordingID string, stories []models.Story) error {
	// Delete-then-insert keeps retries idempotent: a rerun for the same
	// recording never doubles the story count.
	if err := r.db.WithContext(ctx).Where("recording_id = ?", recordingID).Delete(&models.Story{}).Error; err != nil {
		slog.Error("Failed to clear stories for recording", "error", err, "recording_id", recordingID)
		return fmt.Errorf("failed to clear stories: %w", err)
	}
	if len(stories) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&stories).Error; err != nil {
		slog.Error("Failed to insert stories", "error", err, "recording_id", recordingID, "count", len(stories))
		return fmt.Errorf("failed to insert stories: %w", err)
	}
	slog.Info("Stories saved", "recording_id", recordingID, "count", len(stories))
	return nil
}

func (r *GORMRepository) StoriesForMember(ctx context.Context, familyMemberID string) ([]models.Story, error) {
	var stories []models.Story
	err := r.db.WithContext(ctx).
		Where("family_member_id = ?", familyMemberID).
		Order("created_at").
		Find(&stories).Error
	if err != nil {
		slog.Error("Failed to get stories for member", "error", err, "family_member_id", familyMemberID)
		return nil, err
	}
	return stories, nil
}

func (r *GORMRepository) GetStories(ctx context.Context, userID, familyMemberID string) ([]models.Story, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if familyMemberID != "" {
		query = query.Where("family_member_id = ?", familyMemberID)
	}
	var stories []models.Story
	if err := query.Order("created_at DESC").Find(&stories).Error; err != nil {
		slog.Error("Failed to get stories", "error", err, "user_id", userID)
		return nil, err
	}
	return stories, nil
}

// Persona operations
func (r *GORMRepository) PersonaForMember(ctx context.Context, familyMemberID string) (*models.Persona, error) {
	var persona models.Persona
	err := r.db.WithContext(ctx).Where("family_member_id = ?", familyMemberID).First(&persona).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get persona", "error", err, "family_member_id", familyMemberID)
		return nil, err
	}
	return &persona, nil
}

func (r *GORMRepository) GetPersonaByID(ctx context.Context, personaID string) (*models.Persona, error) {
	var persona models.Persona
	err := r.db.WithContext(ctx).
		Where("id = ?", personaID).
		Preload("FamilyMember").
		First(&persona).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get persona by ID", "error", err, "persona_id", personaID)
		return nil, err
	}
	return &persona, nil
}

func (r *GORMRepository) CreatePersona(ctx context.Context, persona *models.Persona) error {
	if err := r.db.WithContext(ctx).Create(persona).Error; err != nil {
		slog.Error("Failed to create persona", "error", err)
		return err
	}
	slog.Info("Persona created", "persona_id", persona.ID, "family_member_id", persona.FamilyMemberID)
	return nil
}

// UpdatePersonaProfile rewrites the derived fields of an existing persona
// with a compare-and-swap on Version. A concurrent refresh that finished
// first makes this return ErrVersionConflict.
func (r *GORMRepository) UpdatePersonaProfile(ctx context.Context, persona *models.Persona) error {
	result := r.db.WithContext(ctx).
		Model(&models.Persona{}).
		Where("id = ? AND version = ?", persona.ID, persona.Version).
		Updates(map[string]interface{}{
			"knowledge_base":     persona.KnowledgeBase,
			"personality_traits": persona.PersonalityTraits,
			"conversation_style": persona.ConversationStyle,
			"training_status":    persona.TrainingStatus,
			"is_active":          true,
			"version":            persona.Version + 1,
		})
	if result.Error != nil {
		slog.Error("Failed to update persona profile", "error", result.Error, "persona_id", persona.ID)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	persona.Version++
	slog.Info("Persona profile updated", "persona_id", persona.ID, "version", persona.Version)
	return nil
}

// BeginVoiceTraining flips the voice model status to training, but only from
// pending or failed. The conditional update is the single-flight guard: a
// second caller (another tab, another instance) gets ErrInvalidTransition
// instead of a duplicate clone submission.
func (r *GORMRepository) BeginVoiceTraining(ctx context.Context, personaID string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Persona{}).
		Where("id = ? AND voice_model_status IN ?", personaID, []string{models.VoiceModelPending, models.VoiceModelFailed}).
		Update("voice_model_status", models.VoiceModelTraining)
	if result.Error != nil {
		slog.Error("Failed to begin voice training", "error", result.Error, "persona_id", personaID)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	slog.Info("Voice training started", "persona_id", personaID)
	return nil
}

func (r *GORMRepository) FinishVoiceTraining(ctx context.Context, personaID, voiceModelID, status string, samplesCount int) error {
	updates := map[string]interface{}{
		"voice_model_status":  status,
		"voice_samples_count": samplesCount,
	}
	if voiceModelID != "" {
		updates["voice_model_id"] = voiceModelID
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Persona{}).
		Where("id = ?", personaID).
		Updates(updates).Error; err != nil {
		slog.Error("Failed to finish voice training", "error", err, "persona_id", personaID, "status", status)
		return err
	}
	slog.Info("Voice training finished", "persona_id", personaID, "status", status, "samples", samplesCount)
	return nil
}

// SetPersonaAgentID records the realtime conversational agent provisioned
// for this persona's cloned voice.
func (r *GORMRepository) SetPersonaAgentID(ctx context.Context, personaID, agentID string) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Persona{}).
		Where("id = ?", personaID).
		Update("agent_id", agentID).Error; err != nil {
		slog.Error("Failed to set persona agent", "error", err, "persona_id", personaID)
		return err
	}
	return nil
}

// ResetVoiceTraining clears clone state so a manual retry re-runs selection.
func (r *GORMRepository) ResetVoiceTraining(ctx context.Context, personaID string) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Persona{}).
		Where("id = ?", personaID).
		Updates(map[string]interface{}{
			"voice_model_status": models.VoiceModelPending,
			"voice_model_id":     "",
		}).Error; err != nil {
		slog.Error("Failed to reset voice training", "error", err, "persona_id", personaID)
		return err
	}
	return nil
}

// Voice sample operations
func (r *GORMRepository) ReplaceVoiceSamples(ctx context.Context, personaID string, samples []models.VoiceSample) error {
	if err := r.db.WithContext(ctx).Where("persona_id = ?", personaID).Delete(&models.VoiceSample{}).Error; err != nil {
		slog.Error("Failed to clear voice samples", "error", err, "persona_id", personaID)
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&samples).Error; err != nil {
		slog.Error("Failed to insert voice samples", "error", err, "persona_id", personaID)
		return err
	}
	slog.Info("Voice samples saved", "persona_id", personaID, "count", len(samples))
	return nil
}

func (r *GORMRepository) GetVoiceSamples(ctx context.Context, personaID string) ([]models.VoiceSample, error) {
	var samples []models.VoiceSample
	err := r.db.WithContext(ctx).
		Where("persona_id = ?", personaID).
		Order("duration_seconds DESC").
		Find(&samples).Error
	if err != nil {
		slog.Error("Failed to get voice samples", "error", err, "persona_id", personaID)
		return nil, err
	}
	return samples, nil
}
