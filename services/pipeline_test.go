package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/learningmaiyo/ancestral-echo/models"
	"github.com/learningmaiyo/ancestral-echo/repository"
)

type fakePipelineStore struct {
	mu         sync.Mutex
	recordings map[string]*models.Recording
	stories    map[string][]models.Story // keyed by family member id
	personas   map[string]*models.Persona

	saveTranscriptionErr error
	transitions          []string
}

func newFakePipelineStore() *fakePipelineStore {
	return &fakePipelineStore{
		recordings: make(map[string]*models.Recording),
		stories:    make(map[string][]models.Story),
		personas:   make(map[string]*models.Persona),
	}
}

func (s *fakePipelineStore) RecordingWithMember(ctx context.Context, recordingID string) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[recordingID]
	if !ok {
		return nil, nil
	}
	copied := *r
	return &copied, nil
}

func (s *fakePipelineStore) TransitionRecordingStatus(ctx context.Context, recordingID string, from []string, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[recordingID]
	if !ok {
		return repository.ErrInvalidTransition
	}
	for _, f := range from {
		if r.ProcessingStatus == f {
			r.ProcessingStatus = to
			s.transitions = append(s.transitions, to)
			return nil
		}
	}
	return repository.ErrInvalidTransition
}

func (s *fakePipelineStore) SaveTranscription(ctx context.Context, recordingID, transcription string) error {
	if s.saveTranscriptionErr != nil {
		return s.saveTranscriptionErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings[recordingID].Transcription = &transcription
	return nil
}

func (s *fakePipelineStore) ReplaceRecordingStories(ctx context.Context, recordingID string, stories []models.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.recordings[recordingID]
	kept := s.stories[r.FamilyMemberID][:0]
	for _, st := range s.stories[r.FamilyMemberID] {
		if st.RecordingID != recordingID {
			kept = append(kept, st)
		}
	}
	s.stories[r.FamilyMemberID] = append(kept, stories...)
	return nil
}

func (s *fakePipelineStore) StoriesForMember(ctx context.Context, familyMemberID string) ([]models.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Story(nil), s.stories[familyMemberID]...), nil
}

func (s *fakePipelineStore) PersonaForMember(ctx context.Context, familyMemberID string) (*models.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[familyMemberID]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (s *fakePipelineStore) CreatePersona(ctx context.Context, persona *models.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	persona.ID = "persona-" + persona.FamilyMemberID
	s.personas[persona.FamilyMemberID] = persona
	return nil
}

func (s *fakePipelineStore) UpdatePersonaProfile(ctx context.Context, persona *models.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.personas[persona.FamilyMemberID]
	if current.Version != persona.Version {
		return repository.ErrVersionConflict
	}
	persona.Version++
	copied := *persona
	s.personas[persona.FamilyMemberID] = &copied
	return nil
}

func (s *fakePipelineStore) status(recordingID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordings[recordingID].ProcessingStatus
}

type fakeBlobStore struct {
	blobs map[string]string
	gets  int
}

func (b *fakeBlobStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	return "", errors.New("not implemented")
}

func (b *fakeBlobStore) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	b.gets++
	data, ok := b.blobs[url]
	if !ok {
		return nil, fmt.Errorf("no blob at %s", url)
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (b *fakeBlobStore) Delete(ctx context.Context, url string) error { return nil }

type fakeMiner struct {
	stories    []ExtractedStory
	extractErr error
	deriveErr  error

	extractCalls int
	deriveCalls  int
	lastKB       string
}

func (m *fakeMiner) ExtractStories(ctx context.Context, member *models.FamilyMember, recordingContext, transcription string) ([]ExtractedStory, error) {
	m.extractCalls++
	if m.extractErr != nil {
		return nil, m.extractErr
	}
	return m.stories, nil
}

func (m *fakeMiner) DerivePersona(ctx context.Context, member *models.FamilyMember, knowledgeBase string) (*PersonaProfile, error) {
	m.deriveCalls++
	m.lastKB = knowledgeBase
	if m.deriveErr != nil {
		return nil, m.deriveErr
	}
	return &PersonaProfile{
		PersonalityTraits: models.JSONMap{"warmth": "high"},
		ConversationStyle: models.JSONMap{"pace": "slow"},
	}, nil
}

type fakeCloner struct {
	calls int
}

func (c *fakeCloner) MaybeClone(ctx context.Context, userID, familyMemberID string) { c.calls++ }

func seedPipelineRecording(store *fakePipelineStore, status string) {
	store.recordings["rec-1"] = &models.Recording{
		ID:               "rec-1",
		UserID:           "user-1",
		FamilyMemberID:   "member-1",
		AudioURL:         "/media/rec-1.webm",
		ProcessingStatus: status,
		FamilyMember:     models.FamilyMember{ID: "member-1", Name: "Grandma Rose"},
	}
}

func TestPipelineProcess_FullRun(t *testing.T) {
	store := newFakePipelineStore()
	seedPipelineRecording(store, models.RecordingPending)
	blobs := &fakeBlobStore{blobs: map[string]string{"/media/rec-1.webm": "audio"}}
	miner := &fakeMiner{stories: []ExtractedStory{
		{Title: "The old farmhouse", Content: "We grew up on a farm.", Category: "childhood",
			EmotionalTone: "warm", Keywords: []string{"farm"}, Themes: []string{"home"}},
	}}
	cloner := &fakeCloner{}

	pipeline := NewProcessingPipeline(store, blobs, &stubTranscriber{text: "We grew up on a farm."}, miner, cloner)

	if err := pipeline.Process(context.Background(), "rec-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := store.status("rec-1"); got != models.RecordingCompleted {
		t.Errorf("expected completed status, got %q", got)
	}
	if store.recordings["rec-1"].Transcription == nil {
		t.Fatal("expected transcription to be persisted")
	}
	if len(store.stories["member-1"]) != 1 {
		t.Fatalf("expected 1 story, got %d", len(store.stories["member-1"]))
	}
	persona := store.personas["member-1"]
	if persona == nil {
		t.Fatal("expected persona to be created")
	}
	if persona.TrainingStatus != models.TrainingCompleted {
		t.Errorf("expected training completed, got %q", persona.TrainingStatus)
	}
	if !strings.Contains(persona.KnowledgeBase, "The old farmhouse") {
		t.Error("expected knowledge base to include the extracted story")
	}
	if cloner.calls != 1 {
		t.Errorf("expected auto cloner to be notified once, got %d", cloner.calls)
	}
}

func TestPipelineProcess_SkipsNonProcessableStatus(t *testing.T) {
	store := newFakePipelineStore()
	seedPipelineRecording(store, models.RecordingCompleted)
	miner := &fakeMiner{}

	pipeline := NewProcessingPipeline(store, &fakeBlobStore{}, &stubTranscriber{}, miner, nil)

	if err := pipeline.Process(context.Background(), "rec-1"); err != nil {
		t.Fatalf("expected skip without error, got: %v", err)
	}
	if miner.extractCalls != 0 {
		t.Error("extraction should not run for a completed recording")
	}
	if got := store.status("rec-1"); got != models.RecordingCompleted {
		t.Errorf("status should be untouched, got %q", got)
	}
}

func TestPipelineProcess_TranscriptionFailureMarksFailed(t *testing.T) {
	store := newFakePipelineStore()
	seedPipelineRecording(store, models.RecordingPending)
	blobs := &fakeBlobStore{blobs: map[string]string{"/media/rec-1.webm": "audio"}}

	pipeline := NewProcessingPipeline(store, blobs, &stubTranscriber{err: errors.New("provider down")}, &fakeMiner{}, nil)

	err := pipeline.Process(context.Background(), "rec-1")
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("expected transcription error, got: %v", err)
	}
	if got := store.status("rec-1"); got != models.RecordingFailed {
		t.Errorf("expected failed status, got %q", got)
	}
}

func TestPipelineProcess_RetryReusesPersistedTranscription(t *testing.T) {
	store := newFakePipelineStore()
	seedPipelineRecording(store, models.RecordingFailed)
	saved := "We grew up on a farm."
	store.recordings["rec-1"].Transcription = &saved
	blobs := &fakeBlobStore{blobs: map[string]string{"/media/rec-1.webm": "audio"}}
	transcriber := &stubTranscriber{text: "should not be used"}
	miner := &fakeMiner{stories: []ExtractedStory{{Title: "The farm", Content: saved}}}

	pipeline := NewProcessingPipeline(store, blobs, transcriber, miner, nil)

	if err := pipeline.Process(context.Background(), "rec-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transcriber.calls != 0 {
		t.Errorf("transcriber should not run again, got %d calls", transcriber.calls)
	}
	if blobs.gets != 0 {
		t.Errorf("audio should not be re-downloaded, got %d gets", blobs.gets)
	}
	if got := store.status("rec-1"); got != models.RecordingCompleted {
		t.Errorf("expected completed status, got %q", got)
	}
}

func TestPipelineProcess_RetryReplacesStories(t *testing.T) {
	store := newFakePipelineStore()
	seedPipelineRecording(store, models.RecordingFailed)
	store.stories["member-1"] = []models.Story{
		{ID: "old-1", RecordingID: "rec-1", Title: "Stale extraction"},
		{ID: "other", RecordingID: "rec-2", Title: "From another recording"},
	}
	blobs := &fakeBlobStore{blobs: map[string]string{"/media/rec-1.webm": "audio"}}
	miner := &fakeMiner{stories: []ExtractedStory{{Title: "Fresh extraction", Content: "New content."}}}

	pipeline := NewProcessingPipeline(store, blobs, &stubTranscriber{text: "text"}, miner, nil)

	if err := pipeline.Process(context.Background(), "rec-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	titles := make([]string, 0, 2)
	for _, st := range store.stories["member-1"] {
		titles = append(titles, st.Title)
	}
	if len(titles) != 2 {
		t.Fatalf("expected 2 stories after replace, got %d: %v", len(titles), titles)
	}
	for _, title := range titles {
		if title == "Stale extraction" {
			t.Error("stale stories for the recording should be replaced")
		}
	}
}

func TestPipelineProcess_EmptyExtractionStillCompletes(t *testing.T) {
	store := newFakePipelineStore()
	seedPipelineRecording(store, models.RecordingPending)
	blobs := &fakeBlobStore{blobs: map[string]string{"/media/rec-1.webm": "audio"}}
	miner := &fakeMiner{} // no stories extracted

	pipeline := NewProcessingPipeline(store, blobs, &stubTranscriber{text: "um, hello"}, miner, nil)

	if err := pipeline.Process(context.Background(), "rec-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.status("rec-1"); got != models.RecordingCompleted {
		t.Errorf("expected completed status, got %q", got)
	}
	if miner.deriveCalls != 0 {
		t.Error("persona derivation should be skipped when the member has no stories")
	}
}

func TestPipelineProcess_UpdatesExistingPersona(t *testing.T) {
	store := newFakePipelineStore()
	seedPipelineRecording(store, models.RecordingPending)
	store.personas["member-1"] = &models.Persona{
		ID:             "persona-member-1",
		UserID:         "user-1",
		FamilyMemberID: "member-1",
		KnowledgeBase:  "old knowledge",
		Version:        3,
	}
	blobs := &fakeBlobStore{blobs: map[string]string{"/media/rec-1.webm": "audio"}}
	miner := &fakeMiner{stories: []ExtractedStory{{Title: "The farm", Content: "New content."}}}

	pipeline := NewProcessingPipeline(store, blobs, &stubTranscriber{text: "text"}, miner, nil)

	if err := pipeline.Process(context.Background(), "rec-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	persona := store.personas["member-1"]
	if persona.Version != 4 {
		t.Errorf("expected version bump to 4, got %d", persona.Version)
	}
	if strings.Contains(persona.KnowledgeBase, "old knowledge") {
		t.Error("knowledge base should be rebuilt, not appended")
	}
}

func TestPipelineProcess_FallbackTranscriberRereadsBlob(t *testing.T) {
	store := newFakePipelineStore()
	seedPipelineRecording(store, models.RecordingPending)
	blobs := &fakeBlobStore{blobs: map[string]string{"/media/rec-1.webm": "audio"}}
	secondary := &stubTranscriber{text: "recovered transcript"}
	miner := &fakeMiner{stories: []ExtractedStory{{Title: "Recovered", Content: "text"}}}

	pipeline := NewProcessingPipeline(store, blobs, &stubTranscriber{err: errors.New("primary down")}, miner, nil).
		WithFallback(secondary)

	if err := pipeline.Process(context.Background(), "rec-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secondary.got != "audio" {
		t.Errorf("fallback should read the blob again, got %q", secondary.got)
	}
	if blobs.gets != 2 {
		t.Errorf("expected 2 blob reads (primary + fallback), got %d", blobs.gets)
	}
	if *store.recordings["rec-1"].Transcription != "recovered transcript" {
		t.Errorf("expected fallback transcript persisted, got %q", *store.recordings["rec-1"].Transcription)
	}
}
