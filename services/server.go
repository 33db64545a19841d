package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/learningmaiyo/ancestral-echo/repository"
	ws "github.com/learningmaiyo/ancestral-echo/websocket"
)

// Server holds all server dependencies
type Server struct {
	config        *Config
	repo          *repository.GORMRepository
	conversations *repository.ConversationRepository
	rawDB         *gorm.DB

	blobs             BlobStore
	audioCache        *AudioCache
	openAIService     *OpenAIService
	elevenLabsService *ElevenLabsService
	transcriber       Transcriber
	pipeline          *ProcessingPipeline
	voiceCloneService *VoiceCloneService
	sessionService    *VoiceSessionService
	websocketHandler  *WebSocketHandler

	authService        *AuthService
	authEndpoints      *AuthEndpoints
	familyEndpoints    *FamilyEndpoints
	recordingEndpoints *RecordingEndpoints
	personaEndpoints   *PersonaEndpoints
	chatEndpoints      *ChatEndpoints
	speechEndpoints    *SpeechEndpoints
	realtimeEndpoints  *RealtimeEndpoints

	wsHub    *ws.Hub
	upgrader websocket.Upgrader
}

// NewServer creates a new server instance
func NewServer(config *Config) *Server {
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

// SetDatabase sets the database connection
func (s *Server) SetDatabase(db *gorm.DB) {
	s.rawDB = db
	s.repo = repository.NewGORMRepository(db)
	s.conversations = repository.NewConversationRepository(db)
}

// InitializeServices initializes all server services
func (s *Server) InitializeServices() error {
	if s.repo == nil {
		return fmt.Errorf("database must be set before services are initialized")
	}

	blobs, err := NewBlobStore(s.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize blob storage: %w", err)
	}
	s.blobs = blobs

	s.audioCache = NewAudioCache(s.config.Pipeline.AudioCacheDir)

	if s.config.Providers.OpenAIKey != "" {
		s.openAIService = NewOpenAIService(s.config.Providers.OpenAIKey)
		slog.Info("OpenAI service initialized")
	}

	if s.config.Providers.ElevenLabsKey != "" {
		s.elevenLabsService = NewElevenLabsService(s.config.Providers.ElevenLabsKey)
		slog.Info("ElevenLabs service initialized")
	}

	primary, fallback := s.buildTranscribers()
	s.transcriber = primary

	// Voice training and the processing pipeline.
	if s.elevenLabsService != nil {
		s.voiceCloneService = NewVoiceCloneService(s.repo, s.blobs, s.elevenLabsService)
	}
	if s.openAIService != nil && s.transcriber != nil {
		var cloner AutoCloner
		if s.voiceCloneService != nil {
			cloner = NewAutoVoiceCloner(s.voiceCloneService, s.repo)
		}
		s.pipeline = NewProcessingPipeline(s.repo, s.blobs, s.transcriber, s.openAIService, cloner)
		if fallback != nil {
			s.pipeline.WithFallback(fallback)
		}
		slog.Info("Processing pipeline initialized", "transcriber", s.config.Providers.Transcriber)
	} else {
		slog.Warn("Processing pipeline disabled: missing provider credentials")
	}

	// Authentication
	if s.config.JWT.Secret != "" {
		s.authService = NewAuthService(s.repo, s.config.JWT.Secret)
		s.authEndpoints = NewAuthEndpoints(s.authService)
		slog.Info("Authentication service initialized")
	}

	// HTTP endpoints
	s.familyEndpoints = NewFamilyEndpoints(s.repo)
	s.recordingEndpoints = NewRecordingEndpoints(s.repo, s.blobs, s.pipeline)
	s.personaEndpoints = NewPersonaEndpoints(s.repo, s.voiceCloneService, s.elevenLabsService, s.audioCache)
	if s.openAIService != nil {
		s.chatEndpoints = NewChatEndpoints(s.repo, s.conversations, s.openAIService)
	}
	if s.elevenLabsService != nil {
		s.speechEndpoints = NewSpeechEndpoints(s.repo, s.elevenLabsService, s.audioCache)
		s.realtimeEndpoints = NewRealtimeEndpoints(s.repo, s.elevenLabsService, s.config.Providers.AssemblyAIKey)
	}

	// Realtime voice sessions over websocket
	s.sessionService = NewVoiceSessionService()
	if s.chatEndpoints != nil {
		processor := NewVoiceMessageProcessor(
			s.chatEndpoints,
			s.openAIService,
			s.elevenLabsService,
			s.audioCache,
			s.transcriber,
			s.sessionService,
			s.repo,
			s.conversations,
		)
		s.websocketHandler = NewWebSocketHandler(processor, s.sessionService)
		slog.Info("WebSocket handler initialized")
	}

	s.wsHub = ws.NewHub()
	go s.wsHub.Run()

	return nil
}

// buildTranscribers picks the primary speech-to-text backend from config and
// pairs it with the other provider as fallback when both keys are present.
func (s *Server) buildTranscribers() (Transcriber, Transcriber) {
	var assembly, whisper Transcriber
	if s.config.Providers.AssemblyAIKey != "" {
		assembly = NewAssemblyAITranscriber(
			s.config.Providers.AssemblyAIKey,
			s.config.Pipeline.PollMaxAttempts,
			s.config.Pipeline.PollBaseDelay,
		)
	}
	if s.openAIService != nil {
		whisper = NewWhisperTranscriber(s.openAIService.Client())
	}

	if s.config.Providers.Transcriber == "whisper" {
		return whisper, assembly
	}
	if assembly == nil {
		return whisper, nil
	}
	return assembly, whisper
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health endpoint
	r.Get("/health", s.healthHandler)

	// Locally stored recordings are served as static media.
	if local, ok := s.blobs.(*LocalBlobStore); ok {
		r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(local.Dir()))))
	}

	// API v1 route group
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.apiV1Handler)

		// WebSocket voice chat (protected)
		if s.authService != nil {
			r.Group(func(r chi.Router) {
				r.Use(s.authService.Middleware)
				r.Get("/ws", s.websocketHandlerFunc)
			})
		}

		// Authentication routes
		if s.authEndpoints != nil {
			s.authEndpoints.RegisterRoutes(r, s.authService.Middleware)
		}

		// Everything else requires a signed-in user.
		if s.authService != nil {
			r.Group(func(r chi.Router) {
				r.Use(s.authService.Middleware)

				s.familyEndpoints.RegisterRoutes(r)
				s.recordingEndpoints.RegisterRoutes(r)
				s.personaEndpoints.RegisterRoutes(r)
				if s.chatEndpoints != nil {
					s.chatEndpoints.RegisterRoutes(r)
				}
				if s.speechEndpoints != nil {
					s.speechEndpoints.RegisterRoutes(r)
				}
				if s.realtimeEndpoints != nil {
					s.realtimeEndpoints.RegisterRoutes(r)
				}
			})
		}
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.SetupRoutes(),
	}

	// Graceful shutdown
	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}

// CheckOrigin validates the origin of WebSocket connections to prevent CSRF attacks
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	// If no allowed origins are configured, deny all requests for security
	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	// Parse allowed origins (comma-separated list)
	allowedOrigins := strings.Split(allowedOriginsStr, ",")

	// Trim whitespace from origins
	for i := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
	}

	// Check if origin is in allowed list
	for _, allowed := range allowedOrigins {
		if allowed == origin {
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "not configured"

	if s.rawDB != nil {
		if sqlDB, err := s.rawDB.DB(); err == nil {
			if err := sqlDB.Ping(); err != nil {
				dbStatus = "down"
				status = "degraded"
			} else {
				dbStatus = "up"
			}
		} else {
			dbStatus = "down"
			status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"` + status + `","database":"` + dbStatus + `"}`))
}

func (s *Server) apiV1Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"API v1","version":"1.0.0"}`))
}

func (s *Server) websocketHandlerFunc(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	// The conversation to speak in must exist and belong to the caller.
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}
	conversation, err := s.conversations.GetConversationWithPersona(r.Context(), conversationID, user.ID)
	if err != nil || conversation == nil {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	slog.Info("WebSocket connection established", "user_id", user.ID, "conversation_id", conversationID)

	client := s.wsHub.RegisterClient(conn, user.ID, conversationID)

	if s.websocketHandler != nil {
		client.MessageHandler = func(c *ws.Client, messageBytes []byte) {
			s.websocketHandler.HandleWebSocketMessage(c, messageBytes)
		}
		client.CloseHandler = s.websocketHandler.HandleWebSocketDisconnect
	}

	go client.ReadPump()
	go client.WritePump()

	if s.websocketHandler != nil {
		go s.websocketHandler.HandleWebSocketConnection(client)
	}
}
