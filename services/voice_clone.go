package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/learningmaiyo/ancestral-echo/models"
	"github.com/learningmaiyo/ancestral-echo/repository"
)

var ErrNotEnoughSamples = errors.New("not enough eligible voice samples")

// SamplePolicy selects voice-training samples from a member's recordings:
// recordings whose duration falls within [MinSeconds, MaxSeconds], longest
// first, up to Limit.
type SamplePolicy struct {
	MinSeconds int
	MaxSeconds int
	Limit      int
}

var (
	// AutoClonePolicy is used when training starts automatically after a
	// recording finishes processing.
	AutoClonePolicy = SamplePolicy{MinSeconds: 30, MaxSeconds: 600, Limit: 3}

	// BestPickPolicy is used when the user explicitly asks to start training
	// and wants the best short samples.
	BestPickPolicy = SamplePolicy{MinSeconds: 30, MaxSeconds: 300, Limit: 5}
)

// sampleQualityScore is the estimated quality recorded for selected samples,
// based on duration and completeness.
const sampleQualityScore = 0.85

// Select filters and orders recordings per the policy.
func (p SamplePolicy) Select(recordings []models.Recording) []models.Recording {
	eligible := make([]models.Recording, 0, len(recordings))
	for _, r := range recordings {
		if r.DurationSeconds >= p.MinSeconds && r.DurationSeconds <= p.MaxSeconds {
			eligible = append(eligible, r)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].DurationSeconds > eligible[j].DurationSeconds
	})
	if len(eligible) > p.Limit {
		eligible = eligible[:p.Limit]
	}
	return eligible
}

// VoiceCloneStore is the persistence surface voice training needs.
type VoiceCloneStore interface {
	PersonaForMember(ctx context.Context, familyMemberID string) (*models.Persona, error)
	EligibleVoiceRecordings(ctx context.Context, familyMemberID string) ([]models.Recording, error)
	BeginVoiceTraining(ctx context.Context, personaID string) error
	FinishVoiceTraining(ctx context.Context, personaID, voiceModelID, status string, samplesCount int) error
	ResetVoiceTraining(ctx context.Context, personaID string) error
	ReplaceVoiceSamples(ctx context.Context, personaID string, samples []models.VoiceSample) error
}

// VoiceCloner speaks to the voice provider.
type VoiceCloner interface {
	CloneVoice(ctx context.Context, name, description string, samples []VoiceSampleFile) (string, error)
}

// VoiceCloneService trains a persona's voice from its best recordings. The
// training state transition in the database acts as a single-flight guard:
// concurrent triggers for the same persona collapse into one clone call.
type VoiceCloneService struct {
	store  VoiceCloneStore
	blobs  BlobStore
	cloner VoiceCloner
}

func NewVoiceCloneService(store VoiceCloneStore, blobs BlobStore, cloner VoiceCloner) *VoiceCloneService {
	return &VoiceCloneService{store: store, blobs: blobs, cloner: cloner}
}

// CloneForPersona selects samples per the policy and trains a voice model.
// Returns ErrNotEnoughSamples when no recording qualifies, and
// repository.ErrInvalidTransition when training is already running.
func (v *VoiceCloneService) CloneForPersona(ctx context.Context, familyMemberID, memberName string, policy SamplePolicy) error {
	persona, err := v.store.PersonaForMember(ctx, familyMemberID)
	if err != nil {
		return fmt.Errorf("failed to load persona: %w", err)
	}
	if persona == nil {
		return fmt.Errorf("no persona exists for member %s yet", familyMemberID)
	}

	recordings, err := v.store.EligibleVoiceRecordings(ctx, familyMemberID)
	if err != nil {
		return fmt.Errorf("failed to load recordings: %w", err)
	}

	selected := policy.Select(recordings)
	if len(selected) == 0 {
		return fmt.Errorf("%w for member %s", ErrNotEnoughSamples, familyMemberID)
	}

	if err := v.store.BeginVoiceTraining(ctx, persona.ID); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			slog.Info("Voice training already in progress", "persona_id", persona.ID)
		}
		return err
	}

	voiceID, err := v.train(ctx, persona.ID, memberName, selected)
	if err != nil {
		if ferr := v.store.FinishVoiceTraining(ctx, persona.ID, "", models.VoiceModelFailed, 0); ferr != nil {
			slog.Error("Failed to mark voice training failed", "error", ferr, "persona_id", persona.ID)
		}
		return err
	}

	samples := make([]models.VoiceSample, 0, len(selected))
	for _, r := range selected {
		samples = append(samples, models.VoiceSample{
			PersonaID:         persona.ID,
			RecordingID:       r.ID,
			IsUsedForTraining: true,
			QualityScore:      sampleQualityScore,
			DurationSeconds:   r.DurationSeconds,
		})
	}
	if err := v.store.ReplaceVoiceSamples(ctx, persona.ID, samples); err != nil {
		slog.Error("Failed to record voice samples", "error", err, "persona_id", persona.ID)
	}

	if err := v.store.FinishVoiceTraining(ctx, persona.ID, voiceID, models.VoiceModelReady, len(selected)); err != nil {
		return fmt.Errorf("failed to finish voice training: %w", err)
	}

	slog.Info("Voice training completed", "persona_id", persona.ID, "voice_id", voiceID, "samples", len(selected))
	return nil
}

func (v *VoiceCloneService) train(ctx context.Context, personaID, memberName string, selected []models.Recording) (string, error) {
	files := make([]VoiceSampleFile, 0, len(selected))
	var closers []func()
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	for i, r := range selected {
		audio, err := v.blobs.Get(ctx, r.AudioURL)
		if err != nil {
			return "", fmt.Errorf("failed to fetch sample audio: %w", err)
		}
		closers = append(closers, func() { audio.Close() })
		files = append(files, VoiceSampleFile{
			Name: fmt.Sprintf("sample-%d.webm", i+1),
			Data: audio,
		})
	}

	voiceID, err := v.cloner.CloneVoice(ctx, memberName, fmt.Sprintf("Cloned voice of %s", memberName), files)
	if err != nil {
		return "", fmt.Errorf("voice cloning failed: %w", err)
	}
	return voiceID, nil
}

// autoVoiceCloner triggers training in the background after a recording
// completes processing, once enough material exists.
type autoVoiceCloner struct {
	service *VoiceCloneService
	store   interface {
		GetFamilyMemberByID(ctx context.Context, memberID, userID string) (*models.FamilyMember, error)
	}
}

func NewAutoVoiceCloner(service *VoiceCloneService, store interface {
	GetFamilyMemberByID(ctx context.Context, memberID, userID string) (*models.FamilyMember, error)
}) AutoCloner {
	return &autoVoiceCloner{service: service, store: store}
}

func (a *autoVoiceCloner) MaybeClone(ctx context.Context, userID, familyMemberID string) {
	go func() {
		cloneCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		member, err := a.store.GetFamilyMemberByID(cloneCtx, familyMemberID, userID)
		if err != nil || member == nil {
			slog.Error("Auto voice clone could not load member", "error", err, "family_member_id", familyMemberID)
			return
		}

		persona, err := a.service.store.PersonaForMember(cloneCtx, familyMemberID)
		if err != nil || persona == nil {
			return
		}
		// Only train automatically the first time around.
		if persona.VoiceModelStatus != models.VoiceModelPending {
			return
		}

		err = a.service.CloneForPersona(cloneCtx, familyMemberID, member.Name, AutoClonePolicy)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotEnoughSamples):
			slog.Info("Not enough samples for automatic voice training yet", "family_member_id", familyMemberID)
		case errors.Is(err, repository.ErrInvalidTransition):
		default:
			slog.Error("Automatic voice training failed", "error", err, "family_member_id", familyMemberID)
		}
	}()
}
