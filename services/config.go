package services

import (
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Providers ProviderConfig
	Pipeline  PipelineConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	URL          string
	Seed         bool
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

// StorageConfig selects where uploaded recordings live. Backend is either
// "local" (files under Dir, served at BaseURL) or "bucket" (an S3-compatible
// HTTP object store addressed by Bucket and APIKey).
type StorageConfig struct {
	Backend string
	Dir     string
	BaseURL string
	Bucket  string
	APIKey  string
}

type ProviderConfig struct {
	AssemblyAIKey string
	OpenAIKey     string
	ElevenLabsKey string
	// Transcriber selects the primary speech-to-text backend: "assemblyai"
	// or "whisper".
	Transcriber string
}

type PipelineConfig struct {
	PollMaxAttempts int
	PollBaseDelay   time.Duration
	AudioCacheDir   string
}

type JWTConfig struct {
	Secret string
}

type WebSocketConfig struct {
	AllowedOrigins string
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("websocket.allowed_origins", "")
	viper.SetDefault("assemblyai.api_key", "")
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("elevenlabs.api_key", "")
	viper.SetDefault("providers.transcriber", "assemblyai")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.seed", "true")
	viper.SetDefault("database.log_level", "silent")
	viper.SetDefault("database.max_idle_conns", "10")
	viper.SetDefault("database.max_open_conns", "100")
	viper.SetDefault("storage.backend", "local")
	viper.SetDefault("storage.dir", "data/recordings")
	viper.SetDefault("storage.base_url", "http://localhost:8080/media")
	viper.SetDefault("storage.bucket", "")
	viper.SetDefault("storage.api_key", "")
	viper.SetDefault("pipeline.poll_max_attempts", "150")
	viper.SetDefault("pipeline.poll_base_delay", "2s")
	viper.SetDefault("pipeline.audio_cache_dir", "data/tts-cache")

	// Map environment variables to config keys
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS")
	viper.BindEnv("assemblyai.api_key", "ASSEMBLYAI_API_KEY")
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("elevenlabs.api_key", "ELEVENLABS_API_KEY")
	viper.BindEnv("providers.transcriber", "TRANSCRIBER_BACKEND")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.seed", "DATABASE_SEED")
	viper.BindEnv("database.log_level", "DATABASE_LOG_LEVEL")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("storage.backend", "STORAGE_BACKEND")
	viper.BindEnv("storage.dir", "STORAGE_DIR")
	viper.BindEnv("storage.base_url", "STORAGE_BASE_URL")
	viper.BindEnv("storage.bucket", "STORAGE_BUCKET")
	viper.BindEnv("storage.api_key", "STORAGE_API_KEY")
	viper.BindEnv("pipeline.poll_max_attempts", "PIPELINE_POLL_MAX_ATTEMPTS")
	viper.BindEnv("pipeline.poll_base_delay", "PIPELINE_POLL_BASE_DELAY")
	viper.BindEnv("pipeline.audio_cache_dir", "PIPELINE_AUDIO_CACHE_DIR")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database.url"),
			Seed:         viper.GetBool("database.seed"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		Storage: StorageConfig{
			Backend: viper.GetString("storage.backend"),
			Dir:     viper.GetString("storage.dir"),
			BaseURL: viper.GetString("storage.base_url"),
			Bucket:  viper.GetString("storage.bucket"),
			APIKey:  viper.GetString("storage.api_key"),
		},
		Providers: ProviderConfig{
			AssemblyAIKey: viper.GetString("assemblyai.api_key"),
			OpenAIKey:     viper.GetString("openai.api_key"),
			ElevenLabsKey: viper.GetString("elevenlabs.api_key"),
			Transcriber:   viper.GetString("providers.transcriber"),
		},
		Pipeline: PipelineConfig{
			PollMaxAttempts: viper.GetInt("pipeline.poll_max_attempts"),
			PollBaseDelay:   viper.GetDuration("pipeline.poll_base_delay"),
			AudioCacheDir:   viper.GetString("pipeline.audio_cache_dir"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
	}
}
