package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/learningmaiyo/ancestral-echo/models"
	"github.com/learningmaiyo/ancestral-echo/repository"
)

type PersonaEndpoints struct {
	repo       *repository.GORMRepository
	voiceClone *VoiceCloneService
	elevenlabs *ElevenLabsService
	cache      *AudioCache
}

func NewPersonaEndpoints(repo *repository.GORMRepository, voiceClone *VoiceCloneService, elevenlabs *ElevenLabsService, cache *AudioCache) *PersonaEndpoints {
	return &PersonaEndpoints{
		repo:       repo,
		voiceClone: voiceClone,
		elevenlabs: elevenlabs,
		cache:      cache,
	}
}

func (e *PersonaEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/personas", func(r chi.Router) {
		r.Get("/{id}", e.GetPersonaHandler)
		r.Get("/{id}/voice-samples", e.GetVoiceSamplesHandler)
		r.Post("/{id}/voice-clone", e.StartVoiceCloneHandler)
	})
	r.Get("/family-members/{id}/persona", e.GetMemberPersonaHandler)
	r.Get("/debug/elevenlabs", e.ProbeElevenLabsHandler)
}

func (e *PersonaEndpoints) GetPersonaHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	personaID := chi.URLParam(r, "id")
	persona, err := e.repo.GetPersonaByID(r.Context(), personaID)
	if err != nil || persona == nil || persona.UserID != user.ID {
		http.Error(w, "Persona not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"persona": persona,
	})
}

func (e *PersonaEndpoints) GetMemberPersonaHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	memberID := chi.URLParam(r, "id")
	member, err := e.repo.GetFamilyMemberByID(r.Context(), memberID, user.ID)
	if err != nil || member == nil {
		http.Error(w, "Family member not found", http.StatusNotFound)
		return
	}

	persona, err := e.repo.PersonaForMember(r.Context(), memberID)
	if err != nil {
		http.Error(w, "Failed to get persona", http.StatusInternalServerError)
		return
	}
	if persona == nil {
		http.Error(w, "No persona exists for this family member yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"persona": persona,
	})
}

func (e *PersonaEndpoints) GetVoiceSamplesHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	personaID := chi.URLParam(r, "id")
	persona, err := e.repo.GetPersonaByID(r.Context(), personaID)
	if err != nil || persona == nil || persona.UserID != user.ID {
		http.Error(w, "Persona not found", http.StatusNotFound)
		return
	}

	samples, err := e.repo.GetVoiceSamples(r.Context(), personaID)
	if err != nil {
		http.Error(w, "Failed to get voice samples", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"voice_samples": samples,
		"count":         len(samples),
	})
}

// StartVoiceCloneHandler kicks off voice training with the best short
// samples. A training run already in flight yields 409.
func (e *PersonaEndpoints) StartVoiceCloneHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	if e.voiceClone == nil {
		http.Error(w, "Voice training is not configured", http.StatusServiceUnavailable)
		return
	}

	personaID := chi.URLParam(r, "id")
	persona, err := e.repo.GetPersonaByID(r.Context(), personaID)
	if err != nil || persona == nil || persona.UserID != user.ID {
		http.Error(w, "Persona not found", http.StatusNotFound)
		return
	}

	member, err := e.repo.GetFamilyMemberByID(r.Context(), persona.FamilyMemberID, user.ID)
	if err != nil || member == nil {
		http.Error(w, "Family member not found", http.StatusNotFound)
		return
	}

	// A manual retrain first clears a previous ready model, removing the old
	// provider voice and any cached audio synthesized with it. Provider
	// cleanup is best effort; an orphaned voice only costs quota.
	if persona.VoiceModelStatus == models.VoiceModelReady {
		oldVoiceID := persona.VoiceModelID
		if err := e.repo.ResetVoiceTraining(r.Context(), personaID); err != nil {
			http.Error(w, "Failed to reset voice training", http.StatusInternalServerError)
			return
		}
		if oldVoiceID != "" && e.elevenlabs != nil {
			if err := e.elevenlabs.DeleteVoice(r.Context(), oldVoiceID); err != nil {
				slog.Warn("Failed to delete old cloned voice", "error", err, "voice_id", oldVoiceID, "persona_id", personaID)
			}
		}
		if e.cache != nil {
			if err := e.cache.ClearCache(); err != nil {
				slog.Warn("Failed to clear audio cache after retrain", "error", err, "persona_id", personaID)
			}
		}
	}

	err = e.voiceClone.CloneForPersona(r.Context(), persona.FamilyMemberID, member.Name, BestPickPolicy)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotEnoughSamples):
		http.Error(w, "Not enough recordings between 30 seconds and 5 minutes to train a voice", http.StatusUnprocessableEntity)
		return
	case errors.Is(err, repository.ErrInvalidTransition):
		http.Error(w, "Voice training is already in progress", http.StatusConflict)
		return
	default:
		slog.Error("Voice training failed", "error", err, "persona_id", personaID)
		http.Error(w, "Voice training failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Voice training completed",
	})
}

// ProbeElevenLabsHandler confirms the voice provider is reachable with the
// configured key.
func (e *PersonaEndpoints) ProbeElevenLabsHandler(w http.ResponseWriter, r *http.Request) {
	if e.elevenlabs == nil {
		http.Error(w, "Voice provider is not configured", http.StatusServiceUnavailable)
		return
	}

	if err := e.elevenlabs.Probe(r.Context()); err != nil {
		slog.Error("ElevenLabs probe failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok": true,
	})
}
