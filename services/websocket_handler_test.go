package services

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	ws "github.com/learningmaiyo/ancestral-echo/websocket"
)

func TestTrimTranscript(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		want       string
	}{
		{"normal speech", "Tell me about the farm.", "Tell me about the farm."},
		{"leading whitespace trimmed", "  hello there  ", "hello there"},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"inaudible marker", "[inaudible]", ""},
		{"vocalization marker", "[Vocalization]", ""},
		{"single character", "m", ""},
		{"repeated word noise", "the the the the", ""},
		{"repeated word different case", "Hmm hmm HMM", ""},
		{"short filler mention", "sounds like humming", ""},
		{"filler word inside real sentence", "she was humming a tune while cooking dinner for us", "she was humming a tune while cooking dinner for us"},
		{"two distinct words kept", "yes please", "yes please"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trimTranscript(tt.transcript); got != tt.want {
				t.Errorf("trimTranscript(%q) = %q, want %q", tt.transcript, got, tt.want)
			}
		})
	}
}

func TestDecodeAudioFrame(t *testing.T) {
	audio := []byte{0x1a, 0x45, 0xdf, 0xa3}
	msg := ws.Message{AudioDataBase64: base64.StdEncoding.EncodeToString(audio)}

	data, err := decodeAudioFrame(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != string(audio) {
		t.Errorf("decoded bytes do not match: %v", data)
	}
}

func TestDecodeAudioFrame_Empty(t *testing.T) {
	_, err := decodeAudioFrame(ws.Message{})
	if !errors.Is(err, errNoAudioData) {
		t.Fatalf("expected errNoAudioData, got: %v", err)
	}
}

func TestDecodeAudioFrame_BadBase64(t *testing.T) {
	if _, err := decodeAudioFrame(ws.Message{AudioDataBase64: "not-base64!!!"}); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

// Chunked uploads depend on every chunk being buffered before the last one
// triggers reassembly; frames delivered in order must never produce a
// reassembly error.
func TestHandleWebSocketMessage_ChunksReassembleInFrameOrder(t *testing.T) {
	sessions := NewVoiceSessionService()
	processor := NewVoiceMessageProcessor(nil, nil, nil, nil, nil, sessions, nil, nil)
	handler := NewWebSocketHandler(processor, sessions)

	client := &ws.Client{
		Send:           make(chan []byte, 16),
		SessionID:      "s1",
		UserID:         "user-1",
		ConversationID: "conv-1",
	}
	sessions.Register(client.SessionID, client.UserID, client.ConversationID, nil)

	frame := func(idx, total int, last bool) []byte {
		b, err := json.Marshal(ws.Message{
			Type:            "audio_chunk",
			AudioDataBase64: base64.StdEncoding.EncodeToString([]byte{byte(idx)}),
			ChunkIndex:      idx,
			TotalChunks:     total,
			IsLastChunk:     last,
		})
		if err != nil {
			t.Fatalf("failed to marshal frame: %v", err)
		}
		return b
	}

	handler.HandleWebSocketMessage(client, frame(0, 3, false))
	handler.HandleWebSocketMessage(client, frame(1, 3, false))
	handler.HandleWebSocketMessage(client, frame(2, 3, true))

	// The tiny blob counts as a silent turn; the reply must be the
	// couldn't-hear prompt, never a reassembly error.
	select {
	case raw := <-client.Send:
		var msg ws.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("failed to decode reply frame: %v", err)
		}
		if msg.Type == "error" {
			t.Fatalf("chunks delivered in order must not error: %q", msg.Content)
		}
		if msg.Type != "text" {
			t.Errorf("expected a text reply, got %q", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply frame received")
	}
}
