package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/learningmaiyo/ancestral-echo/models"
	"github.com/learningmaiyo/ancestral-echo/repository"
)

// maxUploadBytes bounds a single recording upload (100 MB).
const maxUploadBytes = 100 << 20

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

type RecordingEndpoints struct {
	repo     *repository.GORMRepository
	blobs    BlobStore
	pipeline *ProcessingPipeline
}

func NewRecordingEndpoints(repo *repository.GORMRepository, blobs BlobStore, pipeline *ProcessingPipeline) *RecordingEndpoints {
	return &RecordingEndpoints{
		repo:     repo,
		blobs:    blobs,
		pipeline: pipeline,
	}
}

func (e *RecordingEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/recordings", func(r chi.Router) {
		r.Post("/", e.UploadRecordingHandler)
		r.Get("/", e.GetRecordingsHandler)
		r.Get("/{id}", e.GetRecordingHandler)
		r.Post("/{id}/retry", e.RetryProcessingHandler)
		r.Delete("/{id}", e.DeleteRecordingHandler)
	})
}

// UploadRecordingHandler accepts a multipart upload with the audio file and
// recording metadata, stores the audio, and starts processing in the
// background.
func (e *RecordingEndpoints) UploadRecordingHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	familyMemberID := r.FormValue("family_member_id")
	if familyMemberID == "" {
		http.Error(w, "family_member_id is required", http.StatusBadRequest)
		return
	}
	member, err := e.repo.GetFamilyMemberByID(r.Context(), familyMemberID, user.ID)
	if err != nil || member == nil {
		http.Error(w, "Family member not found", http.StatusNotFound)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "Audio file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	duration, _ := strconv.Atoi(r.FormValue("duration_seconds"))

	ext := path.Ext(header.Filename)
	if ext == "" {
		ext = ".webm"
	}
	key := fmt.Sprintf("%s/%s%s", familyMemberID, uuid.New().String(), ext)

	audioURL, err := e.blobs.Put(r.Context(), key, file)
	if err != nil {
		slog.Error("Failed to store recording audio", "error", err, "user_id", user.ID)
		http.Error(w, "Failed to store audio", http.StatusInternalServerError)
		return
	}

	recording := models.Recording{
		UserID:           user.ID,
		FamilyMemberID:   familyMemberID,
		AudioURL:         audioURL,
		DurationSeconds:  duration,
		FileSizeBytes:    header.Size,
		Context:          r.FormValue("context"),
		ProcessingStatus: models.RecordingPending,
		SessionDate:      time.Now(),
	}

	if err := e.repo.CreateRecording(r.Context(), &recording); err != nil {
		slog.Error("Failed to create recording", "error", err, "user_id", user.ID)
		http.Error(w, "Failed to create recording", http.StatusInternalServerError)
		return
	}

	if e.pipeline != nil {
		e.pipeline.ProcessAsync(recording.ID)
	} else {
		slog.Warn("Processing pipeline unavailable, recording stays pending", "recording_id", recording.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"recording": recording,
		"message":   "Recording uploaded, processing started",
	})

	slog.Info("Recording uploaded", "recording_id", recording.ID, "family_member_id", familyMemberID, "size", header.Size)
}

func (e *RecordingEndpoints) GetRecordingsHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	recordings, err := e.repo.GetRecordings(r.Context(), user.ID, r.URL.Query().Get("family_member_id"))
	if err != nil {
		slog.Error("Failed to get recordings", "error", err, "user_id", user.ID)
		http.Error(w, "Failed to get recordings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"recordings": recordings,
		"count":      len(recordings),
	})
}

func (e *RecordingEndpoints) GetRecordingHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	recordingID := chi.URLParam(r, "id")
	recording, err := e.repo.GetRecordingByID(r.Context(), recordingID, user.ID)
	if err != nil || recording == nil {
		http.Error(w, "Recording not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"recording": recording,
	})
}

// RetryProcessingHandler resets a stuck or failed recording to pending and
// reruns the pipeline. Completed recordings are not retried.
func (e *RecordingEndpoints) RetryProcessingHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	recordingID := chi.URLParam(r, "id")
	if !uuidRegex.MatchString(recordingID) {
		http.Error(w, "Invalid recording ID format", http.StatusBadRequest)
		return
	}

	recording, err := e.repo.GetRecordingByID(r.Context(), recordingID, user.ID)
	if err != nil || recording == nil {
		http.Error(w, "Recording not found", http.StatusNotFound)
		return
	}

	err = e.repo.TransitionRecordingStatus(r.Context(), recordingID,
		[]string{models.RecordingProcessing, models.RecordingFailed}, models.RecordingPending)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			http.Error(w, "Recording is not in a retryable state", http.StatusConflict)
			return
		}
		slog.Error("Failed to reset recording status", "error", err, "recording_id", recordingID)
		http.Error(w, "Failed to reset recording status", http.StatusInternalServerError)
		return
	}

	if e.pipeline != nil {
		e.pipeline.ProcessAsync(recordingID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Recording processing retried successfully",
	})

	slog.Info("Recording processing retried", "recording_id", recordingID, "user_id", user.ID)
}

func (e *RecordingEndpoints) DeleteRecordingHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	recordingID := chi.URLParam(r, "id")
	recording, err := e.repo.GetRecordingByID(r.Context(), recordingID, user.ID)
	if err != nil || recording == nil {
		http.Error(w, "Recording not found", http.StatusNotFound)
		return
	}

	if err := e.repo.DeleteRecording(r.Context(), recordingID); err != nil {
		slog.Error("Failed to delete recording", "error", err, "recording_id", recordingID)
		http.Error(w, "Failed to delete recording", http.StatusInternalServerError)
		return
	}

	if err := e.blobs.Delete(r.Context(), recording.AudioURL); err != nil {
		slog.Warn("Failed to delete recording audio", "error", err, "recording_id", recordingID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Recording deleted successfully",
	})

	slog.Info("Recording deleted", "recording_id", recordingID, "user_id", user.ID)
}
