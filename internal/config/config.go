package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Supported AI backends.
const (
	BackendRealtime = "realtime"
	BackendGemini   = "gemini"
)

// StreamRoute is the fixed path the telephony provider connects its media
// stream to. Upgrades on any other path never reach a relay session.
const StreamRoute = "/plivo_stream"

const defaultInstructions = "You are a friendly, concise voice assistant answering a phone call. " +
	"Greet the caller, keep answers short enough to speak naturally, and ask a clarifying " +
	"question when the request is ambiguous."

// Config is the immutable process configuration, read once at startup.
// Nothing in the core reads the environment directly.
type Config struct {
	// Port the HTTP/stream server listens on.
	Port string
	// PublicWSURL is the externally reachable websocket base URL the
	// telephony provider is told to stream to, e.g. wss://relay.example.com.
	PublicWSURL string

	// Backend selects the AI session adapter: realtime or gemini.
	Backend string
	// S2SWSURL and S2SAPIKey configure the realtime backend.
	S2SWSURL string
	S2SAPIKey string
	// GeminiAPIKey and GeminiModel configure the gemini backend.
	GeminiAPIKey string
	GeminiModel  string

	// Instructions is the conversation instructions text.
	Instructions string

	ConnectTimeout    time.Duration
	MaxBufferedFrames int

	StreamTokenSecret string
	StreamTokenTTL    time.Duration
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              envOr("PORT", "8080"),
		PublicWSURL:       os.Getenv("PUBLIC_WS_URL"),
		Backend:           envOr("S2S_BACKEND", BackendRealtime),
		S2SWSURL:          os.Getenv("S2S_WS_URL"),
		S2SAPIKey:         os.Getenv("S2S_API_KEY"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       envOr("GEMINI_MODEL", "gemini-2.0-flash-live-001"),
		Instructions:      envOr("INSTRUCTIONS", defaultInstructions),
		StreamTokenSecret: os.Getenv("STREAM_TOKEN_SECRET"),
	}

	if path := os.Getenv("INSTRUCTIONS_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read instructions file %s: %w", path, err)
		}
		cfg.Instructions = string(data)
	}

	connectTimeout, err := envSeconds("CONNECT_TIMEOUT_SECONDS", 10)
	if err != nil {
		return nil, err
	}
	cfg.ConnectTimeout = connectTimeout

	tokenTTL, err := envSeconds("STREAM_TOKEN_TTL_SECONDS", 120)
	if err != nil {
		return nil, err
	}
	cfg.StreamTokenTTL = tokenTTL

	maxBuffered, err := envInt("MAX_BUFFERED_FRAMES", 512)
	if err != nil {
		return nil, err
	}
	cfg.MaxBufferedFrames = maxBuffered

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration can actually run a relay.
func (c *Config) Validate() error {
	if c.PublicWSURL == "" {
		return fmt.Errorf("PUBLIC_WS_URL is required")
	}
	if c.StreamTokenSecret == "" {
		return fmt.Errorf("STREAM_TOKEN_SECRET is required")
	}

	switch c.Backend {
	case BackendRealtime:
		if c.S2SWSURL == "" {
			return fmt.Errorf("S2S_WS_URL is required for the realtime backend")
		}
	case BackendGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini backend")
		}
	default:
		return fmt.Errorf("unknown backend %q, expected %s or %s", c.Backend, BackendRealtime, BackendGemini)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.MaxBufferedFrames < 1 {
		return fmt.Errorf("max buffered frames must be at least 1, got %d", c.MaxBufferedFrames)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envSeconds(key string, fallback int) (time.Duration, error) {
	n, err := envInt(key, fallback)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
