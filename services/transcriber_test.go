package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestAssemblyAI(t *testing.T, handler http.Handler) (*AssemblyAITranscriber, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	transcriber := NewAssemblyAITranscriber("test-key", 5, time.Millisecond)
	transcriber.baseURL = srv.URL
	return transcriber, srv
}

func TestAssemblyAITranscriber_Success(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("authorization"); got != "test-key" {
			t.Errorf("expected api key header, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "audio-bytes" {
			t.Errorf("expected raw audio body, got %q", string(body))
		}
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example.com/a1"})
	})
	mux.HandleFunc("POST /transcript", func(w http.ResponseWriter, r *http.Request) {
		var req assemblyTranscriptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode transcript request: %v", err)
		}
		if req.AudioURL != "https://cdn.example.com/a1" {
			t.Errorf("expected upload url to be forwarded, got %q", req.AudioURL)
		}
		if !req.SpeakerLabels {
			t.Error("expected speaker labels to be requested")
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})
	})
	mux.HandleFunc("GET /transcript/job-1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "processing"
		text := ""
		if polls >= 2 {
			status = "completed"
			text = "Back then we walked to school."
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": status, "text": text})
	})

	transcriber, _ := newTestAssemblyAI(t, mux)

	text, err := transcriber.Transcribe(context.Background(), strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Back then we walked to school." {
		t.Errorf("unexpected transcript: %q", text)
	}
	if polls != 2 {
		t.Errorf("expected 2 polls, got %d", polls)
	}
}

func TestAssemblyAITranscriber_JobError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example.com/a1"})
	})
	mux.HandleFunc("POST /transcript", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})
	})
	mux.HandleFunc("GET /transcript/job-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "error", "error": "audio too short"})
	})

	transcriber, _ := newTestAssemblyAI(t, mux)

	_, err := transcriber.Transcribe(context.Background(), strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected error for failed job")
	}
	if !strings.Contains(err.Error(), "audio too short") {
		t.Errorf("expected provider error message, got: %v", err)
	}
}

func TestAssemblyAITranscriber_UploadRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "bad api key"}`, http.StatusUnauthorized)
	})

	transcriber, _ := newTestAssemblyAI(t, mux)

	_, err := transcriber.Transcribe(context.Background(), strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected error for rejected upload")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected status code in error, got: %v", err)
	}
}

func TestAssemblyAITranscriber_PollBudgetExhausted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example.com/a1"})
	})
	mux.HandleFunc("POST /transcript", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})
	})
	mux.HandleFunc("GET /transcript/job-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "processing"})
	})

	transcriber, _ := newTestAssemblyAI(t, mux)
	transcriber.maxAttempts = 3

	_, err := transcriber.Transcribe(context.Background(), strings.NewReader("x"))
	if !errors.Is(err, ErrTranscriptionTimeout) {
		t.Fatalf("expected ErrTranscriptionTimeout, got: %v", err)
	}
}

type stubTranscriber struct {
	text  string
	err   error
	calls int
	got   string
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	s.calls++
	data, _ := io.ReadAll(audio)
	s.got = string(data)
	return s.text, s.err
}

func TestFallbackTranscriber_PrimarySucceeds(t *testing.T) {
	primary := &stubTranscriber{text: "hello"}
	secondary := &stubTranscriber{text: "unused"}
	fallback := &FallbackTranscriber{
		Primary:   primary,
		Secondary: secondary,
		Reread: func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("fresh")), nil
		},
	}

	text, err := fallback.Transcribe(context.Background(), strings.NewReader("audio"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello" {
		t.Errorf("expected primary transcript, got %q", text)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary should not run when primary succeeds, got %d calls", secondary.calls)
	}
}

func TestFallbackTranscriber_FallsThroughWithFreshStream(t *testing.T) {
	primary := &stubTranscriber{err: errors.New("provider down")}
	secondary := &stubTranscriber{text: "recovered"}
	fallback := &FallbackTranscriber{
		Primary:   primary,
		Secondary: secondary,
		Reread: func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("fresh")), nil
		},
	}

	text, err := fallback.Transcribe(context.Background(), strings.NewReader("consumed"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "recovered" {
		t.Errorf("expected fallback transcript, got %q", text)
	}
	if secondary.got != "fresh" {
		t.Errorf("secondary should read the reread stream, got %q", secondary.got)
	}
}

func TestFallbackTranscriber_NoSecondaryReturnsPrimaryError(t *testing.T) {
	primaryErr := errors.New("provider down")
	fallback := &FallbackTranscriber{Primary: &stubTranscriber{err: primaryErr}}

	_, err := fallback.Transcribe(context.Background(), strings.NewReader("x"))
	if !errors.Is(err, primaryErr) {
		t.Fatalf("expected primary error, got: %v", err)
	}
}

func TestFallbackTranscriber_CanceledContextNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	secondary := &stubTranscriber{text: "unused"}
	fallback := &FallbackTranscriber{
		Primary:   &stubTranscriber{err: context.Canceled},
		Secondary: secondary,
		Reread: func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("fresh")), nil
		},
	}

	if _, err := fallback.Transcribe(ctx, strings.NewReader("x")); err == nil {
		t.Fatal("expected error when context is canceled")
	}
	if secondary.calls != 0 {
		t.Errorf("secondary should not run after cancellation, got %d calls", secondary.calls)
	}
}
