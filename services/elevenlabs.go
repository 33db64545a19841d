package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

const ttsModelID = "eleven_multilingual_v2"

type ElevenLabsService struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type ElevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ClonedVoice struct {
	VoiceID string `json:"voice_id"`
}

func NewElevenLabsService(apiKey string) *ElevenLabsService {
	return &ElevenLabsService{
		apiKey:  apiKey,
		baseURL: "https://api.elevenlabs.io",
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// TextToSpeech synthesizes text with the given voice and returns the audio
// stream. The caller owns the returned reader.
func (e *ElevenLabsService) TextToSpeech(ctx context.Context, voiceID, text string) (io.ReadCloser, error) {
	request := ElevenLabsRequest{
		Text:    text,
		ModelID: ttsModelID,
		VoiceSettings: VoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := e.baseURL + "/v1/text-to-speech/" + voiceID
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("elevenlabs API error: %d - %s", resp.StatusCode, string(body))
	}

	slog.Info("Generated audio from ElevenLabs", "voice_id", voiceID, "text_length", len(text))
	return resp.Body, nil
}

// VoiceSampleFile is one audio file submitted for cloning.
type VoiceSampleFile struct {
	Name string
	Data io.Reader
}

// CloneVoice creates a cloned voice from the given sample files and returns
// the provider voice ID.
func (e *ElevenLabsService) CloneVoice(ctx context.Context, name, description string, samples []VoiceSampleFile) (string, error) {
	if len(samples) == 0 {
		return "", fmt.Errorf("no voice samples provided")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("name", name); err != nil {
		return "", fmt.Errorf("failed to write name field: %w", err)
	}
	if description != "" {
		if err := writer.WriteField("description", description); err != nil {
			return "", fmt.Errorf("failed to write description field: %w", err)
		}
	}
	for _, sample := range samples {
		part, err := writer.CreateFormFile("files", sample.Name)
		if err != nil {
			return "", fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := io.Copy(part, sample.Data); err != nil {
			return "", fmt.Errorf("failed to write sample %s: %w", sample.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/v1/voices/add", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("elevenlabs clone error: %d - %s", resp.StatusCode, string(body))
	}

	var voice ClonedVoice
	if err := json.NewDecoder(resp.Body).Decode(&voice); err != nil {
		return "", fmt.Errorf("failed to decode clone response: %w", err)
	}

	slog.Info("Cloned voice with ElevenLabs", "name", name, "voice_id", voice.VoiceID, "samples", len(samples))
	return voice.VoiceID, nil
}

// DeleteVoice removes a cloned voice from the provider.
func (e *ElevenLabsService) DeleteVoice(ctx context.Context, voiceID string) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", e.baseURL+"/v1/voices/"+voiceID, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("elevenlabs delete error: %d - %s", resp.StatusCode, string(body))
	}
	return nil
}

type agentRequest struct {
	Name               string             `json:"name"`
	VoiceID            string             `json:"voice_id"`
	Prompt             string             `json:"prompt"`
	FirstMessage       string             `json:"first_message"`
	Language           string             `json:"language"`
	MaxDuration        int                `json:"max_duration"`
	ConversationConfig conversationConfig `json:"conversation_config"`
}

type conversationConfig struct {
	TurnDetection turnDetection `json:"turn_detection"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type agentResponse struct {
	AgentID string `json:"agent_id"`
}

// CreateConversationalAgent provisions a realtime conversational agent bound
// to the given voice and returns the agent ID.
func (e *ElevenLabsService) CreateConversationalAgent(ctx context.Context, name, voiceID, prompt, firstMessage string) (string, error) {
	request := agentRequest{
		Name:         name,
		VoiceID:      voiceID,
		Prompt:       prompt,
		FirstMessage: firstMessage,
		Language:     "en",
		MaxDuration:  3600,
		ConversationConfig: conversationConfig{
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 200,
			},
		},
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/v1/convai/agents", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("elevenlabs agent error: %d - %s", resp.StatusCode, string(body))
	}

	var agent agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&agent); err != nil {
		return "", fmt.Errorf("failed to decode agent response: %w", err)
	}

	slog.Info("Created ElevenLabs conversational agent", "name", name, "agent_id", agent.AgentID, "voice_id", voiceID)
	return agent.AgentID, nil
}

type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// GetSignedConversationURL mints a short-lived signed websocket URL for a
// conversational agent, so browsers can join a privately provisioned agent
// without seeing the API key.
func (e *ElevenLabsService) GetSignedConversationURL(ctx context.Context, agentID string) (string, error) {
	reqURL := e.baseURL + "/v1/convai/conversation/get_signed_url?agent_id=" + url.QueryEscape(agentID)
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("elevenlabs signed url error: %d - %s", resp.StatusCode, string(body))
	}

	var signed signedURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return "", fmt.Errorf("failed to decode signed url response: %w", err)
	}
	if signed.SignedURL == "" {
		return "", fmt.Errorf("elevenlabs returned an empty signed url")
	}

	slog.Info("Generated signed conversation URL", "agent_id", agentID)
	return signed.SignedURL, nil
}

// Probe checks that the API key is valid by listing voices.
func (e *ElevenLabsService) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", e.baseURL+"/v1/voices", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach elevenlabs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("elevenlabs probe error: %d - %s", resp.StatusCode, string(body))
	}
	return nil
}
