package services

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/learningmaiyo/ancestral-echo/models"
	"github.com/learningmaiyo/ancestral-echo/repository"
)

type SpeechEndpoints struct {
	repo       *repository.GORMRepository
	elevenlabs *ElevenLabsService
	cache      *AudioCache
}

type GenerateSpeechRequest struct {
	Text      string `json:"text" validate:"required"`
	PersonaID string `json:"persona_id"`
	VoiceID   string `json:"voice_id"`
}

func NewSpeechEndpoints(repo *repository.GORMRepository, elevenlabs *ElevenLabsService, cache *AudioCache) *SpeechEndpoints {
	return &SpeechEndpoints{
		repo:       repo,
		elevenlabs: elevenlabs,
		cache:      cache,
	}
}

func (e *SpeechEndpoints) RegisterRoutes(r chi.Router) {
	r.Post("/speech", e.GenerateSpeechHandler)
}

// resolveVoice picks the voice to speak with: an explicit voice ID wins,
// then the persona's trained clone once ready, then a stock voice derived
// from the member's name.
func (e *SpeechEndpoints) resolveVoice(r *http.Request, req *GenerateSpeechRequest, userID string) (string, error) {
	if req.VoiceID != "" {
		return req.VoiceID, nil
	}
	if req.PersonaID == "" {
		return PickDeterministicVoice(""), nil
	}

	persona, err := e.repo.GetPersonaByID(r.Context(), req.PersonaID)
	if err != nil || persona == nil || persona.UserID != userID {
		return "", errPersonaNotFound
	}

	if persona.VoiceModelStatus == models.VoiceModelReady && persona.VoiceModelID != "" {
		return persona.VoiceModelID, nil
	}
	return PickDeterministicVoice(persona.FamilyMember.Name), nil
}

var errPersonaNotFound = errors.New("persona not found")

func (e *SpeechEndpoints) GenerateSpeechHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	var req GenerateSpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "Text is required", http.StatusBadRequest)
		return
	}

	voiceID, err := e.resolveVoice(r, &req, user.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	audio, err := e.cache.GetOrGenerate(r.Context(), req.Text, voiceID, func() (io.ReadCloser, error) {
		return e.elevenlabs.TextToSpeech(r.Context(), voiceID, req.Text)
	})
	if err != nil {
		slog.Error("Speech generation failed", "error", err, "voice_id", voiceID)
		http.Error(w, "Speech generation failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"audio_content": base64.StdEncoding.EncodeToString(audio),
		"voice_id":      voiceID,
	})

	slog.Info("Speech generated", "voice_id", voiceID, "text_length", len(req.Text), "audio_bytes", len(audio))
}
