package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultUpstreamURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

type Config struct {
	Addr string

	// Postgres session store.
	DatabaseURL    string
	MigrateOnStart bool

	// Upstream realtime endpoint.
	GeminiAPIKey                 string
	UpstreamURL                  string
	LiveModel                    string
	LiveVoice                    string
	SynthesisModel               string
	UpstreamMaxReconnectAttempts int
	UpstreamReconnectBaseDelay   time.Duration
	UpstreamHandshakeTimeout     time.Duration
	UpstreamWriteTimeout         time.Duration

	// Artifact store.
	ArtifactBucket          string
	ArtifactRegion          string
	ArtifactEndpoint        string
	ArtifactPublicBaseURL   string
	ArtifactAccessKeyID     string
	ArtifactSecretAccessKey string

	// Relay websocket behavior.
	RelayPingInterval        time.Duration
	RelayWriteTimeout        time.Duration
	RelayMaxJSONMessageBytes int64
	RelayOutboundQueueSize   int
	RelayPersistTimeout      time.Duration
	CaptureAudio             bool

	// CORS. Empty means websocket upgrades with an Origin header are refused.
	CORSAllowedOrigins map[string]struct{}

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                         envOr("KT_API_ADDR", ":8080"),
		DatabaseURL:                  envOr("KT_API_DATABASE_URL", ""),
		MigrateOnStart:               envBoolOr("KT_API_MIGRATE_ON_START", true),
		GeminiAPIKey:                 envOr("KT_API_GEMINI_API_KEY", ""),
		UpstreamURL:                  envOr("KT_API_UPSTREAM_URL", defaultUpstreamURL),
		LiveModel:                    envOr("KT_API_LIVE_MODEL", "models/gemini-2.0-flash-live-001"),
		LiveVoice:                    envOr("KT_API_LIVE_VOICE", "Puck"),
		SynthesisModel:               envOr("KT_API_SYNTHESIS_MODEL", "gemini-2.0-flash"),
		UpstreamMaxReconnectAttempts: envIntOr("KT_API_UPSTREAM_MAX_RECONNECTS", 5),
		UpstreamReconnectBaseDelay:   envDurationOr("KT_API_UPSTREAM_RECONNECT_BASE_DELAY", 2*time.Second),
		UpstreamHandshakeTimeout:     envDurationOr("KT_API_UPSTREAM_HANDSHAKE_TIMEOUT", 10*time.Second),
		UpstreamWriteTimeout:         envDurationOr("KT_API_UPSTREAM_WRITE_TIMEOUT", 5*time.Second),
		ArtifactBucket:               envOr("KT_API_ARTIFACT_BUCKET", ""),
		ArtifactRegion:               envOr("KT_API_ARTIFACT_REGION", "us-east-1"),
		ArtifactEndpoint:             envOr("KT_API_ARTIFACT_ENDPOINT", ""),
		ArtifactPublicBaseURL:        envOr("KT_API_ARTIFACT_PUBLIC_BASE_URL", ""),
		ArtifactAccessKeyID:          envOr("KT_API_ARTIFACT_ACCESS_KEY_ID", ""),
		ArtifactSecretAccessKey:      envOr("KT_API_ARTIFACT_SECRET_ACCESS_KEY", ""),
		RelayPingInterval:            envDurationOr("KT_API_RELAY_PING_INTERVAL", 20*time.Second),
		RelayWriteTimeout:            envDurationOr("KT_API_RELAY_WRITE_TIMEOUT", 5*time.Second),
		RelayMaxJSONMessageBytes:     envInt64Or("KT_API_RELAY_MAX_JSON_MESSAGE_BYTES", 4<<20),
		RelayOutboundQueueSize:       envIntOr("KT_API_RELAY_OUTBOUND_QUEUE_SIZE", 128),
		RelayPersistTimeout:          envDurationOr("KT_API_RELAY_PERSIST_TIMEOUT", 10*time.Second),
		CaptureAudio:                 envBoolOr("KT_API_CAPTURE_AUDIO", false),
		CORSAllowedOrigins:           make(map[string]struct{}),
		ReadHeaderTimeout:            envDurationOr("KT_API_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                  envDurationOr("KT_API_READ_TIMEOUT", 0),
		ShutdownGracePeriod:          envDurationOr("KT_API_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("KT_API_CORS_ALLOWED_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("KT_API_DATABASE_URL is required")
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return Config{}, fmt.Errorf("KT_API_GEMINI_API_KEY is required")
	}
	if cfg.UpstreamMaxReconnectAttempts < 0 {
		return Config{}, fmt.Errorf("KT_API_UPSTREAM_MAX_RECONNECTS must be >= 0")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64Or(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
