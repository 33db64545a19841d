package services

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/learningmaiyo/ancestral-echo/models"
	"github.com/learningmaiyo/ancestral-echo/repository"
)

const streamingTokenTTL = 3600 // seconds

// RealtimeEndpoints issues short-lived provider credentials so browsers can
// open realtime audio channels directly against the vendors.
type RealtimeEndpoints struct {
	repo          *repository.GORMRepository
	elevenlabs    *ElevenLabsService
	assemblyAIKey string
	tokenBaseURL  string
	client        *http.Client
}

type CreateAgentRequest struct {
	PersonaID    string `json:"persona_id"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

func NewRealtimeEndpoints(repo *repository.GORMRepository, elevenlabs *ElevenLabsService, assemblyAIKey string) *RealtimeEndpoints {
	return &RealtimeEndpoints{
		repo:          repo,
		elevenlabs:    elevenlabs,
		assemblyAIKey: assemblyAIKey,
		tokenBaseURL:  "https://api.assemblyai.com",
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (e *RealtimeEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/realtime", func(r chi.Router) {
		r.Post("/assemblyai-token", e.CreateStreamingTokenHandler)
		r.Post("/elevenlabs-agent", e.GetOrCreateAgentHandler)
		r.Post("/elevenlabs-agent-url", e.GetAgentURLHandler)
	})
}

// CreateStreamingTokenHandler mints a temporary AssemblyAI streaming token so
// the browser never sees the real API key.
func (e *RealtimeEndpoints) CreateStreamingTokenHandler(w http.ResponseWriter, r *http.Request) {
	if e.assemblyAIKey == "" {
		http.Error(w, "Streaming transcription is not configured", http.StatusServiceUnavailable)
		return
	}

	url := fmt.Sprintf("%s/v3/streaming/token?expires_in_seconds=%d", e.tokenBaseURL, streamingTokenTTL)
	req, err := http.NewRequestWithContext(r.Context(), "POST", url, nil)
	if err != nil {
		http.Error(w, "Failed to create token request", http.StatusInternalServerError)
		return
	}
	req.Header.Set("Authorization", "Bearer "+e.assemblyAIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		slog.Error("Failed to reach AssemblyAI for streaming token", "error", err)
		http.Error(w, "Failed to create streaming token", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("AssemblyAI token error", "status", resp.StatusCode, "body", string(body))
		http.Error(w, "Failed to create streaming token", http.StatusBadGateway)
		return
	}

	// The vendor response shape ({token, expires_in_seconds}) passes through
	// untouched.
	w.Header().Set("Content-Type", "application/json")
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Error("Failed to relay streaming token", "error", err)
	}
}

// GetOrCreateAgentHandler returns the conversational agent bound to a
// persona's cloned voice, provisioning one on first use.
func (e *RealtimeEndpoints) GetOrCreateAgentHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	var req CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PersonaID == "" {
		http.Error(w, "persona_id is required", http.StatusBadRequest)
		return
	}

	persona, err := e.repo.GetPersonaByID(r.Context(), req.PersonaID)
	if err != nil || persona == nil || persona.UserID != user.ID {
		http.Error(w, "Persona not found", http.StatusNotFound)
		return
	}

	if persona.VoiceModelStatus != models.VoiceModelReady || persona.VoiceModelID == "" {
		http.Error(w, "Persona has no cloned voice yet", http.StatusConflict)
		return
	}

	if persona.AgentID != "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"agent_id": persona.AgentID,
		})
		return
	}

	memberName := persona.FamilyMember.Name
	prompt := req.SystemPrompt
	if prompt == "" {
		prompt = fmt.Sprintf("You are %s, a warm and loving family member. Speak naturally and share memories, stories, and wisdom with your family. Be conversational, caring, and authentic to your personality.", memberName)
	}
	firstMessage := "Hello! It's so wonderful to talk with you again. How are you doing?"

	agentID, err := e.elevenlabs.CreateConversationalAgent(r.Context(), memberName+" AI Assistant", persona.VoiceModelID, prompt, firstMessage)
	if err != nil {
		slog.Error("Failed to create conversational agent", "error", err, "persona_id", persona.ID)
		http.Error(w, "Failed to create voice agent", http.StatusBadGateway)
		return
	}

	// The agent was provisioned either way; a failed write just means the
	// next call creates a duplicate.
	if err := e.repo.SetPersonaAgentID(r.Context(), persona.ID, agentID); err != nil {
		slog.Error("Failed to store agent id", "error", err, "persona_id", persona.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"agent_id": agentID,
		"created":  true,
	})
}

type AgentURLRequest struct {
	PersonaID string `json:"persona_id"`
}

// GetAgentURLHandler exchanges a persona's agent for a short-lived signed
// conversation URL the browser can open directly against the vendor.
func (e *RealtimeEndpoints) GetAgentURLHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	var req AgentURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PersonaID == "" {
		http.Error(w, "persona_id is required", http.StatusBadRequest)
		return
	}

	persona, err := e.repo.GetPersonaByID(r.Context(), req.PersonaID)
	if err != nil || persona == nil || persona.UserID != user.ID {
		http.Error(w, "Persona not found", http.StatusNotFound)
		return
	}

	if persona.AgentID == "" {
		http.Error(w, "Persona has no voice agent yet", http.StatusConflict)
		return
	}

	signedURL, err := e.elevenlabs.GetSignedConversationURL(r.Context(), persona.AgentID)
	if err != nil {
		slog.Error("Failed to get signed conversation url", "error", err, "persona_id", persona.ID, "agent_id", persona.AgentID)
		http.Error(w, "Failed to get voice agent url", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"signed_url": signedURL,
		"agent_id":   persona.AgentID,
	})
}
