package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Supported transcription backends
const (
	ProviderWhisper  = "whisper"
	ProviderDeepgram = "deepgram"
)

// Config holds all configuration for the scribe gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8000"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when behind a tunnel).
	// Only used to log the streaming endpoint; if unset, logs ws://localhost:PORT/ws/transcribe.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Allowed CORS origins (comma separated)
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Streaming session configuration
	TempDir            string        `envconfig:"TEMP_DIR" default:"temp_audio"`           // Session buffers and uploads live here
	StreamFileExt      string        `envconfig:"STREAM_FILE_EXT" default:".webm"`         // Container of the streamed audio
	TranscribeInterval time.Duration `envconfig:"TRANSCRIBE_INTERVAL" default:"2s"`        // Delay between transcription cycles
	TranscribeWorkers  int           `envconfig:"TRANSCRIBE_WORKERS" default:"2"`          // Concurrent capability invocations
	MaxFrameBytes      int64         `envconfig:"MAX_FRAME_BYTES" default:"1048576"`       // Largest inbound websocket frame
	MaxUploadBytes     int64         `envconfig:"MAX_UPLOAD_BYTES" default:"104857600"`    // Largest one-shot upload
	WSWriteTimeout     time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`          // Deadline for one outbound event

	// Transcription backend
	TranscriberProvider string `envconfig:"TRANSCRIBER_PROVIDER" default:"whisper"` // whisper, deepgram
	TranscribeLanguage  string `envconfig:"TRANSCRIBE_LANGUAGE" default:""`         // Empty lets the backend detect

	// Whisper-compatible endpoint (OpenAI or a self-hosted whisper server)
	WhisperBaseURL string `envconfig:"WHISPER_BASE_URL" default:"https://api.openai.com/v1"`
	WhisperAPIKey  string `envconfig:"WHISPER_API_KEY" default:""`
	WhisperModel   string `envconfig:"WHISPER_MODEL" default:"whisper-1"`

	// Deepgram pre-recorded API
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Summarization (OpenRouter speaks the OpenAI chat completions protocol)
	SummaryBaseURL      string        `envconfig:"SUMMARY_BASE_URL" default:"https://openrouter.ai/api/v1"`
	SummaryDefaultModel string        `envconfig:"SUMMARY_DEFAULT_MODEL" default:"google/gemini-pro-1.5"`
	SummaryTemperature  float32       `envconfig:"SUMMARY_TEMPERATURE" default:"0.7"`
	SummaryTimeout      time.Duration `envconfig:"SUMMARY_TIMEOUT" default:"120s"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	switch c.TranscriberProvider {
	case ProviderWhisper:
		if c.WhisperBaseURL == "" {
			return fmt.Errorf("WHISPER_BASE_URL is required for the whisper provider")
		}
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required for the deepgram provider")
		}
	default:
		return fmt.Errorf("unknown TRANSCRIBER_PROVIDER %q", c.TranscriberProvider)
	}

	if c.TranscribeInterval <= 0 {
		return fmt.Errorf("TRANSCRIBE_INTERVAL must be positive")
	}
	if c.TranscribeWorkers <= 0 {
		return fmt.Errorf("TRANSCRIBE_WORKERS must be positive")
	}
	if c.TempDir == "" {
		return fmt.Errorf("TEMP_DIR is required")
	}

	return nil
}

// StreamEndpoint returns the websocket URL clients should connect to
func (c *Config) StreamEndpoint() string {
	if c.PublicURL != "" {
		return c.PublicURL + "/ws/transcribe"
	}
	return fmt.Sprintf("ws://localhost:%s/ws/transcribe", c.Port)
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
