package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/learningmaiyo/ancestral-echo/models"
	"github.com/learningmaiyo/ancestral-echo/repository"
)

var (
	ErrRecordingNotFound = errors.New("recording not found")
	ErrDownload          = errors.New("failed to download recording audio")
	ErrTranscription     = errors.New("transcription failed")
)

// PipelineStore is the persistence surface the pipeline needs.
type PipelineStore interface {
	RecordingWithMember(ctx context.Context, recordingID string) (*models.Recording, error)
	TransitionRecordingStatus(ctx context.Context, recordingID string, from []string, to string) error
	SaveTranscription(ctx context.Context, recordingID, transcription string) error
	ReplaceRecordingStories(ctx context.Context, recordingID string, stories []models.Story) error
	StoriesForMember(ctx context.Context, familyMemberID string) ([]models.Story, error)
	PersonaForMember(ctx context.Context, familyMemberID string) (*models.Persona, error)
	CreatePersona(ctx context.Context, persona *models.Persona) error
	UpdatePersonaProfile(ctx context.Context, persona *models.Persona) error
}

// StoryMiner extracts stories and derives persona profiles from transcripts.
type StoryMiner interface {
	ExtractStories(ctx context.Context, member *models.FamilyMember, recordingContext, transcription string) ([]ExtractedStory, error)
	DerivePersona(ctx context.Context, member *models.FamilyMember, knowledgeBase string) (*PersonaProfile, error)
}

// AutoCloner is notified after a successful pipeline run so voice training
// can start once enough material exists.
type AutoCloner interface {
	MaybeClone(ctx context.Context, userID, familyMemberID string)
}

// ProcessingPipeline turns an uploaded recording into a transcription,
// stories, and a refreshed persona. Runs are idempotent: a retry of a failed
// recording replaces that recording's stories rather than duplicating them.
type ProcessingPipeline struct {
	store       PipelineStore
	blobs       BlobStore
	transcriber Transcriber
	fallback    Transcriber // optional secondary speech-to-text backend
	miner       StoryMiner
	cloner      AutoCloner

	// memberLocks serializes persona rebuilds per family member so
	// concurrent recordings for the same member cannot interleave their
	// read-derive-write cycles.
	memberLocks sync.Map
}

func NewProcessingPipeline(store PipelineStore, blobs BlobStore, transcriber Transcriber, miner StoryMiner, cloner AutoCloner) *ProcessingPipeline {
	return &ProcessingPipeline{
		store:       store,
		blobs:       blobs,
		transcriber: transcriber,
		miner:       miner,
		cloner:      cloner,
	}
}

// WithFallback sets a secondary transcriber tried when the primary fails.
// The audio is re-read from blob storage for the second attempt.
func (p *ProcessingPipeline) WithFallback(fallback Transcriber) *ProcessingPipeline {
	p.fallback = fallback
	return p
}

// ProcessAsync runs Process in the background with its own timeout, detached
// from the request context.
func (p *ProcessingPipeline) ProcessAsync(recordingID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		if err := p.Process(ctx, recordingID); err != nil {
			slog.Error("Recording processing failed", "error", err, "recording_id", recordingID)
		}
	}()
}

// Process runs the full pipeline for one recording. Any error after the
// recording entered processing marks it failed; work persisted before the
// failure (the transcription in particular) is kept so a retry can make
// progress.
func (p *ProcessingPipeline) Process(ctx context.Context, recordingID string) error {
	recording, err := p.store.RecordingWithMember(ctx, recordingID)
	if err != nil {
		return fmt.Errorf("failed to load recording: %w", err)
	}
	if recording == nil {
		return fmt.Errorf("%w: %s", ErrRecordingNotFound, recordingID)
	}

	if err := p.store.TransitionRecordingStatus(ctx, recordingID,
		[]string{models.RecordingPending, models.RecordingFailed}, models.RecordingProcessing); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			slog.Warn("Recording is not in a processable state, skipping", "recording_id", recordingID, "status", recording.ProcessingStatus)
			return nil
		}
		return fmt.Errorf("failed to mark recording processing: %w", err)
	}

	slog.Info("Processing recording", "recording_id", recordingID, "family_member_id", recording.FamilyMemberID)

	if err := p.run(ctx, recording); err != nil {
		if ferr := p.store.TransitionRecordingStatus(ctx, recordingID,
			[]string{models.RecordingProcessing}, models.RecordingFailed); ferr != nil {
			slog.Error("Failed to mark recording failed", "error", ferr, "recording_id", recordingID)
		}
		return err
	}

	if err := p.store.TransitionRecordingStatus(ctx, recordingID,
		[]string{models.RecordingProcessing}, models.RecordingCompleted); err != nil {
		return fmt.Errorf("failed to mark recording completed: %w", err)
	}

	slog.Info("Recording processed", "recording_id", recordingID)

	if p.cloner != nil {
		p.cloner.MaybeClone(ctx, recording.UserID, recording.FamilyMemberID)
	}
	return nil
}

func (p *ProcessingPipeline) run(ctx context.Context, recording *models.Recording) error {
	// Step 1: transcribe, reusing a transcription persisted by an earlier
	// attempt.
	transcription := ""
	if recording.Transcription != nil {
		transcription = *recording.Transcription
	}
	if transcription == "" {
		text, err := p.transcribe(ctx, recording)
		if err != nil {
			return err
		}
		transcription = text

		// Persist before the LLM steps so a later failure does not lose it.
		if err := p.store.SaveTranscription(ctx, recording.ID, transcription); err != nil {
			return fmt.Errorf("failed to save transcription: %w", err)
		}
	} else {
		slog.Info("Reusing persisted transcription", "recording_id", recording.ID)
	}

	// Step 2: extract stories. An empty result is a valid terminal outcome.
	extracted, err := p.miner.ExtractStories(ctx, &recording.FamilyMember, recording.Context, transcription)
	if err != nil {
		return fmt.Errorf("story extraction failed: %w", err)
	}

	stories := make([]models.Story, 0, len(extracted))
	for _, e := range extracted {
		stories = append(stories, models.Story{
			UserID:         recording.UserID,
			FamilyMemberID: recording.FamilyMemberID,
			RecordingID:    recording.ID,
			Title:          e.Title,
			Content:        e.Content,
			Category:       e.Category,
			EmotionalTone:  e.EmotionalTone,
			Keywords:       e.Keywords,
			Themes:         e.Themes,
		})
	}

	if err := p.store.ReplaceRecordingStories(ctx, recording.ID, stories); err != nil {
		return fmt.Errorf("failed to save stories: %w", err)
	}

	// Step 3: rebuild the persona from every story known for this member.
	if err := p.rebuildPersona(ctx, recording.UserID, recording.FamilyMemberID, &recording.FamilyMember); err != nil {
		return err
	}
	return nil
}

func (p *ProcessingPipeline) transcribe(ctx context.Context, recording *models.Recording) (string, error) {
	audio, err := p.blobs.Get(ctx, recording.AudioURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer audio.Close()

	transcriber := p.transcriber
	if p.fallback != nil {
		transcriber = &FallbackTranscriber{
			Primary:   p.transcriber,
			Secondary: p.fallback,
			Reread: func(ctx context.Context) (io.ReadCloser, error) {
				return p.blobs.Get(ctx, recording.AudioURL)
			},
		}
	}

	text, err := transcriber.Transcribe(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	return text, nil
}

// rebuildPersona recomputes the knowledge base and profile from all of the
// member's stories. The rebuild is serialized per member and guarded by an
// optimistic version check; a single conflict is resolved by re-reading and
// retrying once.
func (p *ProcessingPipeline) rebuildPersona(ctx context.Context, userID, familyMemberID string, member *models.FamilyMember) error {
	lockIface, _ := p.memberLocks.LoadOrStore(familyMemberID, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		stories, err := p.store.StoriesForMember(ctx, familyMemberID)
		if err != nil {
			return fmt.Errorf("failed to load stories for persona: %w", err)
		}
		if len(stories) == 0 {
			slog.Info("No stories for member yet, skipping persona rebuild", "family_member_id", familyMemberID)
			return nil
		}

		knowledgeBase := BuildKnowledgeBase(stories)
		profile, err := p.miner.DerivePersona(ctx, member, knowledgeBase)
		if err != nil {
			return fmt.Errorf("persona derivation failed: %w", err)
		}

		persona, err := p.store.PersonaForMember(ctx, familyMemberID)
		if err != nil {
			return fmt.Errorf("failed to load persona: %w", err)
		}

		if persona == nil {
			persona = &models.Persona{
				UserID:            userID,
				FamilyMemberID:    familyMemberID,
				KnowledgeBase:     knowledgeBase,
				PersonalityTraits: profile.PersonalityTraits,
				ConversationStyle: profile.ConversationStyle,
				TrainingStatus:    models.TrainingCompleted,
				IsActive:          true,
			}
			if err := p.store.CreatePersona(ctx, persona); err != nil {
				return fmt.Errorf("failed to create persona: %w", err)
			}
			slog.Info("Persona created", "family_member_id", familyMemberID, "stories", len(stories))
			return nil
		}

		persona.KnowledgeBase = knowledgeBase
		persona.PersonalityTraits = profile.PersonalityTraits
		persona.ConversationStyle = profile.ConversationStyle
		persona.TrainingStatus = models.TrainingCompleted
		persona.IsActive = true

		err = p.store.UpdatePersonaProfile(ctx, persona)
		if err == nil {
			slog.Info("Persona updated", "family_member_id", familyMemberID, "stories", len(stories))
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return fmt.Errorf("failed to update persona: %w", err)
		}
		slog.Warn("Persona version conflict, retrying rebuild", "family_member_id", familyMemberID)
	}
	return fmt.Errorf("persona rebuild lost the version race twice for member %s", familyMemberID)
}
