package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/learningmaiyo/ancestral-echo/models"
	"github.com/learningmaiyo/ancestral-echo/repository"
	ws "github.com/learningmaiyo/ancestral-echo/websocket"
)

// Audio below this size is treated as silence rather than sent for
// transcription.
const minVoiceAudioSize = 51200 // 50 KB

// maxEmptyVoiceTurns is how many consecutive silent turns end the session.
const maxEmptyVoiceTurns = 3

// VoiceMessageProcessor drives one turn of a realtime voice conversation:
// audio in, persona text and synthesized speech out.
type VoiceMessageProcessor struct {
	chat          *ChatEndpoints
	ai            *OpenAIService
	elevenlabs    *ElevenLabsService
	cache         *AudioCache
	transcriber   Transcriber
	sessions      *VoiceSessionService
	repo          *repository.GORMRepository
	conversations *repository.ConversationRepository
}

func NewVoiceMessageProcessor(
	chat *ChatEndpoints,
	ai *OpenAIService,
	elevenlabs *ElevenLabsService,
	cache *AudioCache,
	transcriber Transcriber,
	sessions *VoiceSessionService,
	repo *repository.GORMRepository,
	conversations *repository.ConversationRepository,
) *VoiceMessageProcessor {
	return &VoiceMessageProcessor{
		chat:          chat,
		ai:            ai,
		elevenlabs:    elevenlabs,
		cache:         cache,
		transcriber:   transcriber,
		sessions:      sessions,
		repo:          repo,
		conversations: conversations,
	}
}

// Greet opens a fresh conversation with the persona's first words. Rejoining
// an existing conversation stays silent.
func (p *VoiceMessageProcessor) Greet(client *ws.Client) {
	ctx := context.Background()

	conversation, err := p.conversations.GetConversationWithPersona(ctx, client.ConversationID, client.UserID)
	if err != nil || conversation == nil {
		slog.Error("Failed to load conversation for greeting", "error", err, "conversation_id", client.ConversationID)
		client.SendJSON(ws.Message{Type: "error", Content: "Conversation not found"})
		return
	}

	messages, err := p.conversations.GetMessages(ctx, conversation.ID)
	if err != nil {
		slog.Error("Failed to check conversation history", "error", err, "conversation_id", conversation.ID)
		return
	}
	if len(messages) > 0 {
		return
	}

	greeting := "Hello! It's so wonderful to talk with you again. How are you doing?"

	aiMessage := models.ConversationMessage{
		ConversationID: conversation.ID,
		Content:        greeting,
		IsUserMessage:  false,
	}
	if err := p.conversations.SaveMessage(ctx, &aiMessage); err != nil {
		slog.Error("Failed to save greeting", "error", err, "conversation_id", conversation.ID)
	}

	client.SendJSON(ws.Message{Type: "text", Content: greeting})
	p.speak(ctx, client, &conversation.Persona, greeting)
}

// ProcessText runs a full persona turn for a typed message.
func (p *VoiceMessageProcessor) ProcessText(client *ws.Client, content string) {
	p.sessions.Touch(client.SessionID)
	p.sessions.ResetEmptyTurns(client.SessionID)
	p.personaTurn(client, content)
}

// ProcessAudio transcribes a complete audio blob and runs a persona turn on
// the transcript. Silence and unintelligible audio count toward the empty
// turn limit.
func (p *VoiceMessageProcessor) ProcessAudio(client *ws.Client, audioData []byte) {
	ctx := context.Background()
	p.sessions.Touch(client.SessionID)

	if len(audioData) < minVoiceAudioSize {
		slog.Info("Audio below silence threshold", "session_id", client.SessionID, "audio_size", len(audioData))
		p.handleEmptyTurn(client)
		return
	}

	transcript, err := p.transcriber.Transcribe(ctx, bytes.NewReader(audioData))
	if err != nil {
		slog.Error("Failed to transcribe audio", "error", err, "session_id", client.SessionID)
		client.SendJSON(ws.Message{Type: "error", Content: "Failed to transcribe audio"})
		return
	}

	transcript = trimTranscript(transcript)
	if transcript == "" {
		p.handleEmptyTurn(client)
		return
	}

	p.sessions.ResetEmptyTurns(client.SessionID)

	// Echo the recognized speech back so the caller sees their own words.
	client.SendJSON(ws.Message{Type: "user_message", Content: transcript})

	p.personaTurn(client, transcript)
}

// ProcessAudioChunk buffers one piece of a chunked upload and processes the
// whole blob once the last chunk lands. Buffering and reassembly run on the
// caller's goroutine so chunks land in frame order; only the turn itself is
// spawned off.
func (p *VoiceMessageProcessor) ProcessAudioChunk(client *ws.Client, audioData []byte, chunkIndex, totalChunks int, isLastChunk bool) {
	p.sessions.Touch(client.SessionID)
	p.sessions.AddAudioChunk(client.SessionID, audioData, chunkIndex, totalChunks)

	if !isLastChunk {
		return
	}

	audio, err := p.sessions.ReassembleAudio(client.SessionID)
	if err != nil {
		slog.Error("Failed to reassemble audio from chunks", "error", err, "session_id", client.SessionID)
		client.SendJSON(ws.Message{Type: "error", Content: "Failed to reassemble audio from chunks"})
		return
	}

	slog.Info("Audio reassembled", "session_id", client.SessionID, "total_chunks", totalChunks, "complete_size", len(audio))
	go p.ProcessAudio(client, audio)
}

// EndSession acknowledges the goodbye, removes session state, and closes the
// connection once the farewell frame drains.
func (p *VoiceMessageProcessor) EndSession(client *ws.Client) {
	client.SendJSON(ws.Message{Type: "end_session", Content: "It was lovely talking with you. Come back soon!"})
	p.sessions.End(client.SessionID)

	go func() {
		<-time.After(200 * time.Millisecond)
		client.Conn.Close()
	}()
}

func (p *VoiceMessageProcessor) handleEmptyTurn(client *ws.Client) {
	count := p.sessions.IncrementEmptyTurn(client.SessionID)
	if count >= maxEmptyVoiceTurns {
		client.SendJSON(ws.Message{Type: "text", Content: "I'll let you go for now. Talk to you again soon!"})
		p.EndSession(client)
		return
	}
	client.SendJSON(ws.Message{Type: "text", Content: "I couldn't quite hear you. Could you say that again?"})
}

func (p *VoiceMessageProcessor) personaTurn(client *ws.Client, userText string) {
	ctx := context.Background()

	turn, err := p.chat.prepareTurn(ctx, client.ConversationID, client.UserID, userText)
	if err != nil {
		slog.Error("Failed to prepare voice turn", "error", err, "conversation_id", client.ConversationID)
		client.SendJSON(ws.Message{Type: "error", Content: "Conversation not found"})
		return
	}

	reply, err := p.ai.PersonaReply(ctx, turn.persona, turn.knowledge, turn.history, userText)
	if err != nil {
		slog.Error("Failed to generate persona reply", "error", err, "conversation_id", client.ConversationID)
		client.SendJSON(ws.Message{Type: "error", Content: "Failed to generate a reply"})
		return
	}

	p.chat.completeTurn(ctx, turn, reply)
	p.sessions.Touch(client.SessionID)

	client.SendJSON(ws.Message{Type: "text", Content: reply})
	p.speak(ctx, client, turn.persona, reply)
}

// speak synthesizes the reply and sends it as a base64 audio frame. The text
// frame has already gone out, so synthesis failures are non-fatal.
func (p *VoiceMessageProcessor) speak(ctx context.Context, client *ws.Client, persona *models.Persona, text string) {
	if p.elevenlabs == nil {
		return
	}

	voiceID := persona.VoiceModelID
	if persona.VoiceModelStatus != models.VoiceModelReady || voiceID == "" {
		voiceID = PickDeterministicVoice(persona.FamilyMember.Name)
	}

	audio, err := p.cache.GetOrGenerate(ctx, text, voiceID, func() (io.ReadCloser, error) {
		return p.elevenlabs.TextToSpeech(ctx, voiceID, text)
	})
	if err != nil {
		slog.Error("Failed to synthesize voice reply", "error", err, "session_id", client.SessionID, "voice_id", voiceID)
		return
	}

	client.SendJSON(ws.Message{
		Type:            "audio",
		AudioDataBase64: base64.StdEncoding.EncodeToString(audio),
	})
}

// WebSocketHandler routes incoming frames to the voice message processor.
type WebSocketHandler struct {
	processor *VoiceMessageProcessor
	sessions  *VoiceSessionService
}

func NewWebSocketHandler(processor *VoiceMessageProcessor, sessions *VoiceSessionService) *WebSocketHandler {
	return &WebSocketHandler{
		processor: processor,
		sessions:  sessions,
	}
}

// HandleWebSocketConnection registers the session and sends the persona's
// opening line when the conversation is new.
func (h *WebSocketHandler) HandleWebSocketConnection(client *ws.Client) {
	slog.Info("WebSocket connection handled", "user_id", client.UserID, "conversation_id", client.ConversationID)

	h.sessions.Register(client.SessionID, client.UserID, client.ConversationID, func() {
		client.SendJSON(ws.Message{Type: "end_session", Content: "We've been quiet for a while, so I'll say goodbye for now."})
		go func() {
			<-time.After(200 * time.Millisecond)
			client.Conn.Close()
		}()
	})

	h.processor.Greet(client)
}

// HandleWebSocketDisconnect drops the session when the socket closes.
func (h *WebSocketHandler) HandleWebSocketDisconnect(client *ws.Client) {
	h.sessions.End(client.SessionID)
}

// HandleWebSocketMessage decodes one frame and dispatches it by type.
func (h *WebSocketHandler) HandleWebSocketMessage(client *ws.Client, messageBytes []byte) {
	var msg ws.Message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		slog.Error("Failed to unmarshal WebSocket message", "error", err)
		return
	}

	slog.Info("WebSocket message received", "type", msg.Type, "user_id", client.UserID, "session_id", client.SessionID)

	// The read pump delivers frames in order; anything slow runs in its own
	// goroutine after the ordered bookkeeping is done.
	switch msg.Type {
	case "text":
		go h.processor.ProcessText(client, msg.Content)
	case "audio":
		audioData, err := decodeAudioFrame(msg)
		if err != nil {
			slog.Error("Failed to decode audio data", "error", err, "session_id", client.SessionID)
			return
		}
		go h.processor.ProcessAudio(client, audioData)
	case "audio_chunk":
		audioData, err := decodeAudioFrame(msg)
		if err != nil {
			slog.Error("Failed to decode audio chunk data", "error", err, "session_id", client.SessionID)
			return
		}
		h.processor.ProcessAudioChunk(client, audioData, msg.ChunkIndex, msg.TotalChunks, msg.IsLastChunk)
	case "end_session":
		slog.Info("Received end_session request", "session_id", client.SessionID)
		h.processor.EndSession(client)
	default:
		slog.Warn("Unknown message type", "type", msg.Type, "session_id", client.SessionID)
	}
}

func decodeAudioFrame(msg ws.Message) ([]byte, error) {
	if msg.AudioDataBase64 == "" {
		return nil, errNoAudioData
	}
	return base64.StdEncoding.DecodeString(msg.AudioDataBase64)
}

var errNoAudioData = errors.New("no audio data provided")

// trimTranscript cleans a raw transcript and returns "" when the speech
// recognizer produced only silence markers or filler.
func trimTranscript(transcript string) string {
	trimmed := strings.TrimSpace(transcript)
	lower := strings.ToLower(trimmed)

	if lower == "" || lower == "[inaudible]" || lower == "[vocalization]" || len([]rune(trimmed)) < 2 {
		return ""
	}

	words := strings.Fields(lower)

	// Recognizers often emit a single word repeated over background noise.
	if len(words) > 1 {
		allSame := true
		for _, w := range words {
			if w != words[0] {
				allSame = false
				break
			}
		}
		if allSame {
			return ""
		}
	}

	fillerPatterns := []string{"vocalization", "humming", "mumbling", "unintelligible"}
	for _, pat := range fillerPatterns {
		if strings.Contains(lower, pat) && len(words) <= 5 {
			return ""
		}
	}

	return trimmed
}
