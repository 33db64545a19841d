package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/learningmaiyo/ancestral-echo/models"
)

func TestCreateStreamingTokenHandler_PassesVendorResponseThrough(t *testing.T) {
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/streaming/token" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("expires_in_seconds"); got != "3600" {
			t.Errorf("expected 3600s expiry, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer real-api-key" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"tmp-token","expires_in_seconds":3600}`))
	}))
	defer vendor.Close()

	endpoints := &RealtimeEndpoints{
		assemblyAIKey: "real-api-key",
		tokenBaseURL:  vendor.URL,
		client:        vendor.Client(),
	}

	req := httptest.NewRequest("POST", "/api/v1/realtime/assemblyai-token", nil)
	rec := httptest.NewRecorder()
	endpoints.CreateStreamingTokenHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"token":"tmp-token"`) {
		t.Errorf("expected vendor body relayed, got: %s", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected json content type, got %q", got)
	}
}

func TestCreateStreamingTokenHandler_NotConfigured(t *testing.T) {
	endpoints := &RealtimeEndpoints{client: http.DefaultClient}

	req := httptest.NewRequest("POST", "/api/v1/realtime/assemblyai-token", nil)
	rec := httptest.NewRecorder()
	endpoints.CreateStreamingTokenHandler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestCreateStreamingTokenHandler_VendorError(t *testing.T) {
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer vendor.Close()

	endpoints := &RealtimeEndpoints{
		assemblyAIKey: "bad-key",
		tokenBaseURL:  vendor.URL,
		client:        vendor.Client(),
	}

	req := httptest.NewRequest("POST", "/api/v1/realtime/assemblyai-token", nil)
	rec := httptest.NewRecorder()
	endpoints.CreateStreamingTokenHandler(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestGetAgentURLHandler_RequiresPersonaID(t *testing.T) {
	endpoints := &RealtimeEndpoints{client: http.DefaultClient}

	req := httptest.NewRequest("POST", "/api/v1/realtime/elevenlabs-agent-url", strings.NewReader(`{}`))
	req = req.WithContext(context.WithValue(req.Context(), userContextKey, &models.User{ID: "user-1"}))
	rec := httptest.NewRecorder()
	endpoints.GetAgentURLHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
