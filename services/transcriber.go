package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

var ErrTranscriptionTimeout = errors.New("transcription did not complete in time")

// Transcriber converts recorded speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader) (string, error)
}

// AssemblyAITranscriber uploads audio to AssemblyAI, submits a transcript job
// with speaker labels, and polls until the job settles or the attempt budget
// runs out.
type AssemblyAITranscriber struct {
	apiKey      string
	baseURL     string
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
}

func NewAssemblyAITranscriber(apiKey string, maxAttempts int, baseDelay time.Duration) *AssemblyAITranscriber {
	if maxAttempts <= 0 {
		maxAttempts = 150
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	return &AssemblyAITranscriber{
		apiKey:      apiKey,
		baseURL:     "https://api.assemblyai.com/v2",
		client:      &http.Client{Timeout: 60 * time.Second},
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

type assemblyUploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type assemblyTranscriptRequest struct {
	AudioURL      string `json:"audio_url"`
	SpeakerLabels bool   `json:"speaker_labels"`
}

type assemblyTranscriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

func (t *AssemblyAITranscriber) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	uploadURL, err := t.upload(ctx, audio)
	if err != nil {
		return "", err
	}

	jobID, err := t.submit(ctx, uploadURL)
	if err != nil {
		return "", err
	}

	return t.poll(ctx, jobID)
}

func (t *AssemblyAITranscriber) upload(ctx context.Context, audio io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/upload", audio)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("authorization", t.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("assemblyai upload error: %d - %s", resp.StatusCode, string(body))
	}

	var upload assemblyUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	return upload.UploadURL, nil
}

func (t *AssemblyAITranscriber) submit(ctx context.Context, audioURL string) (string, error) {
	payload, err := json.Marshal(assemblyTranscriptRequest{
		AudioURL:      audioURL,
		SpeakerLabels: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal transcript request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transcript", bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create transcript request: %w", err)
	}
	req.Header.Set("authorization", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit transcript job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("assemblyai transcript error: %d - %s", resp.StatusCode, string(body))
	}

	var job assemblyTranscriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", fmt.Errorf("failed to decode transcript response: %w", err)
	}
	return job.ID, nil
}

func (t *AssemblyAITranscriber) poll(ctx context.Context, jobID string) (string, error) {
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		job, err := t.getTranscript(ctx, jobID)
		if err != nil {
			return "", err
		}

		switch job.Status {
		case "completed":
			slog.Info("Transcription completed", "job_id", jobID, "attempts", attempt)
			return job.Text, nil
		case "error":
			return "", fmt.Errorf("assemblyai transcription failed: %s", job.Error)
		}

		delay := t.baseDelay + CalculateBackoff(t.baseDelay/10, attempt)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrTranscriptionTimeout, t.maxAttempts)
}

func (t *AssemblyAITranscriber) getTranscript(ctx context.Context, jobID string) (*assemblyTranscriptResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/transcript/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}
	req.Header.Set("authorization", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("assemblyai poll error: %d - %s", resp.StatusCode, string(body))
	}

	var job assemblyTranscriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}
	return &job, nil
}

// WhisperTranscriber uses OpenAI Whisper as the fallback speech-to-text
// backend.
type WhisperTranscriber struct {
	client *openai.Client
}

func NewWhisperTranscriber(client *openai.Client) *WhisperTranscriber {
	return &WhisperTranscriber{client: client}
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   audio,
		FilePath: "recording.webm",
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}
	slog.Info("Whisper transcription completed", "text_length", len(resp.Text))
	return resp.Text, nil
}

// FallbackTranscriber tries the primary backend and falls through to the
// secondary on error. Context cancellation is not retried.
type FallbackTranscriber struct {
	Primary   Transcriber
	Secondary Transcriber
	// Reread re-opens the audio stream for the fallback attempt, since the
	// primary may have consumed it.
	Reread func(ctx context.Context) (io.ReadCloser, error)
}

func (t *FallbackTranscriber) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	text, err := t.Primary.Transcribe(ctx, audio)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil || t.Secondary == nil || t.Reread == nil {
		return "", err
	}

	slog.Warn("Primary transcriber failed, falling back", "error", err)
	r, rerr := t.Reread(ctx)
	if rerr != nil {
		return "", fmt.Errorf("fallback reread failed: %w (primary: %v)", rerr, err)
	}
	defer r.Close()

	text, ferr := t.Secondary.Transcribe(ctx, r)
	if ferr != nil {
		return "", fmt.Errorf("fallback transcription failed: %w (primary: %v)", ferr, err)
	}
	return text, nil
}
