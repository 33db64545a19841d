package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestElevenLabs(t *testing.T, handler http.Handler) *ElevenLabsService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	service := NewElevenLabsService("xi-test-key")
	service.baseURL = srv.URL
	return service
}

func TestElevenLabsTextToSpeech(t *testing.T) {
	service := newTestElevenLabs(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "xi-test-key" {
			t.Errorf("expected api key header, got %q", got)
		}
		var req ElevenLabsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Text != "Hello dear" {
			t.Errorf("unexpected text: %q", req.Text)
		}
		w.Write([]byte("mp3-bytes"))
	}))

	audio, err := service.TextToSpeech(context.Background(), "voice-1", "Hello dear")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer audio.Close()

	data, _ := io.ReadAll(audio)
	if string(data) != "mp3-bytes" {
		t.Errorf("unexpected audio: %q", data)
	}
}

func TestElevenLabsTextToSpeech_APIError(t *testing.T) {
	service := newTestElevenLabs(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusTooManyRequests)
	}))

	_, err := service.TextToSpeech(context.Background(), "voice-1", "Hello")
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("expected provider detail in error, got: %v", err)
	}
}

func TestElevenLabsCloneVoice(t *testing.T) {
	service := newTestElevenLabs(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices/add" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}
		if got := r.FormValue("name"); got != "Grandma Rose" {
			t.Errorf("unexpected name: %q", got)
		}
		if got := len(r.MultipartForm.File["files"]); got != 2 {
			t.Errorf("expected 2 sample files, got %d", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"voice_id": "cloned-1"})
	}))

	voiceID, err := service.CloneVoice(context.Background(), "Grandma Rose", "family voice", []VoiceSampleFile{
		{Name: "rec-1.webm", Data: strings.NewReader("sample-one")},
		{Name: "rec-2.webm", Data: strings.NewReader("sample-two")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if voiceID != "cloned-1" {
		t.Errorf("unexpected voice id: %q", voiceID)
	}
}

func TestElevenLabsCloneVoice_NoSamples(t *testing.T) {
	service := NewElevenLabsService("xi-test-key")

	if _, err := service.CloneVoice(context.Background(), "Grandma Rose", "", nil); err == nil {
		t.Fatal("expected error when no samples are provided")
	}
}

func TestElevenLabsDeleteVoice(t *testing.T) {
	var gotMethod, gotPath string
	service := newTestElevenLabs(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Write([]byte(`{"status":"ok"}`))
	}))

	if err := service.DeleteVoice(context.Background(), "cloned-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/v1/voices/cloned-1" {
		t.Errorf("unexpected request: %s %s", gotMethod, gotPath)
	}
}

func TestElevenLabsDeleteVoice_AlreadyGone(t *testing.T) {
	service := newTestElevenLabs(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"voice not found"}`, http.StatusNotFound)
	}))

	// A voice deleted on the provider side is not an error.
	if err := service.DeleteVoice(context.Background(), "gone"); err != nil {
		t.Fatalf("404 should be tolerated, got: %v", err)
	}
}

func TestElevenLabsCreateConversationalAgent(t *testing.T) {
	service := newTestElevenLabs(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/convai/agents" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req agentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.VoiceID != "cloned-1" {
			t.Errorf("unexpected voice id: %q", req.VoiceID)
		}
		if req.Language != "en" {
			t.Errorf("unexpected language: %q", req.Language)
		}
		if req.ConversationConfig.TurnDetection.Type != "server_vad" {
			t.Errorf("unexpected turn detection: %+v", req.ConversationConfig.TurnDetection)
		}
		json.NewEncoder(w).Encode(map[string]string{"agent_id": "agent-1"})
	}))

	agentID, err := service.CreateConversationalAgent(context.Background(),
		"Grandma Rose AI Assistant", "cloned-1", "You are Grandma Rose.", "Hello!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agentID != "agent-1" {
		t.Errorf("unexpected agent id: %q", agentID)
	}
}

func TestElevenLabsGetSignedConversationURL(t *testing.T) {
	service := newTestElevenLabs(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/convai/conversation/get_signed_url" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("agent_id"); got != "agent-1" {
			t.Errorf("unexpected agent id: %q", got)
		}
		if got := r.Header.Get("xi-api-key"); got != "xi-test-key" {
			t.Errorf("expected api key header, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"signed_url": "wss://api.elevenlabs.io/v1/convai/conversation?token=tmp"})
	}))

	signedURL, err := service.GetSignedConversationURL(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(signedURL, "wss://") {
		t.Errorf("unexpected signed url: %q", signedURL)
	}
}

func TestElevenLabsGetSignedConversationURL_VendorError(t *testing.T) {
	service := newTestElevenLabs(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"agent not found"}`, http.StatusNotFound)
	}))

	if _, err := service.GetSignedConversationURL(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for vendor failure")
	}
}

func TestElevenLabsGetSignedConversationURL_EmptyURL(t *testing.T) {
	service := newTestElevenLabs(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))

	if _, err := service.GetSignedConversationURL(context.Background(), "agent-1"); err == nil {
		t.Fatal("expected error for empty signed url")
	}
}
