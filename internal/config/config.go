package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the speech gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// WebSocket transport
	WSPath         string   `envconfig:"WS_PATH" default:"/ws"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`                 // Comma separated; empty allows any origin
	WSReadLimit    int64    `envconfig:"WS_READ_LIMIT" default:"1048576"` // Max inbound message size in bytes
	WSWriteTimeout int      `envconfig:"WS_WRITE_TIMEOUT" default:"10"`   // seconds
	InboundQueue   int      `envconfig:"INBOUND_QUEUE_SIZE" default:"64"` // Chunks buffered between reader and processor

	// Audio framing
	SampleRate      int  `envconfig:"SAMPLE_RATE" default:"16000"`
	FrameDurationMs int  `envconfig:"FRAME_DURATION_MS" default:"30"`
	ReframeChunks   bool `envconfig:"REFRAME_CHUNKS" default:"false"`      // Slice arbitrary chunks into exact frames
	ReframeBuffer   int  `envconfig:"REFRAME_BUFFER_SIZE" default:"65536"` // Ring buffer size in bytes for re-framing

	// Segmentation
	MinSpeechFrames    int     `envconfig:"MIN_SPEECH_FRAMES" default:"10"`      // Consecutive speech frames to enter Speaking
	MaxSilenceFrames   int     `envconfig:"MAX_SILENCE_FRAMES" default:"20"`     // Consecutive silence frames to leave Speaking
	MaxSegmentMs       int     `envconfig:"MAX_SEGMENT_MS" default:"30000"`      // Buffer bound, 0 disables
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"0.015"` // RMS of normalized samples

	// Analysis
	MinAnalysisMs   int `envconfig:"MIN_ANALYSIS_MS" default:"500"` // Shorter segments skip the engines
	AnalysisTimeout int `envconfig:"ANALYSIS_TIMEOUT" default:"30"` // seconds, per engine call

	// Deepgram transcription engine
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Emotion engine gRPC endpoint
	EmotionURL        string `envconfig:"EMOTION_URL" default:"localhost:50052"`
	EmotionTLSEnabled bool   `envconfig:"EMOTION_TLS_ENABLED" default:"false"`
	EmotionTimeout    int    `envconfig:"EMOTION_TIMEOUT" default:"10"` // seconds

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Missing .env is fine
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

// Validate checks invariants that envconfig cannot express
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.FrameDurationMs <= 0 || (c.SampleRate*c.FrameDurationMs)%1000 != 0 {
		return fmt.Errorf("FRAME_DURATION_MS=%d does not yield a whole number of samples at %d Hz", c.FrameDurationMs, c.SampleRate)
	}
	if c.MinSpeechFrames < 1 {
		return fmt.Errorf("MIN_SPEECH_FRAMES must be at least 1, got %d", c.MinSpeechFrames)
	}
	if c.MaxSilenceFrames < 1 {
		return fmt.Errorf("MAX_SILENCE_FRAMES must be at least 1, got %d", c.MaxSilenceFrames)
	}
	if c.MaxSegmentMs < 0 {
		return fmt.Errorf("MAX_SEGMENT_MS must not be negative, got %d", c.MaxSegmentMs)
	}
	if c.MaxSegmentMs > 0 && c.MaxSegmentFrames() <= c.MinSpeechFrames {
		return fmt.Errorf("MAX_SEGMENT_MS=%d must cover more than MIN_SPEECH_FRAMES=%d frames", c.MaxSegmentMs, c.MinSpeechFrames)
	}
	if c.ReframeChunks && c.ReframeBuffer <= c.FrameBytes() {
		return fmt.Errorf("REFRAME_BUFFER_SIZE must exceed one frame (%d bytes)", c.FrameBytes())
	}
	if c.InboundQueue < 1 {
		return fmt.Errorf("INBOUND_QUEUE_SIZE must be at least 1, got %d", c.InboundQueue)
	}
	return nil
}

// FrameSamples is the number of samples in one classification frame
func (c *Config) FrameSamples() int {
	return c.SampleRate * c.FrameDurationMs / 1000
}

// FrameBytes is the size of one frame of 16-bit PCM on the wire
func (c *Config) FrameBytes() int {
	return c.FrameSamples() * 2
}

// MaxSegmentFrames converts MaxSegmentMs into whole frames (0 = unbounded)
func (c *Config) MaxSegmentFrames() int {
	if c.MaxSegmentMs == 0 {
		return 0
	}
	return c.MaxSegmentMs / c.FrameDurationMs
}
