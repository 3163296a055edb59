package core

import (
	"net"
	"strconv"
	"time"
)

// ServerConfig holds the process configuration read from the environment.
// The generation settings that clients can change at runtime live in the
// settings file, not here.
type ServerConfig struct {
	// HTTP
	Host string
	Port int

	// Logging
	DevMode  bool
	LogFile  string
	LogLevel string

	// Storage
	OutputRoot       string
	SettingsPath     string
	DBPath           string        // empty disables the archive
	ArchiveRetention time.Duration // zero keeps archived jobs forever

	// Queue and worker
	MaxQueueSize      int
	HistoryLimit      int
	WorkerPoll        time.Duration
	GenerationTimeout time.Duration // zero disables the per-job timeout

	// Metrics
	MetricsHistory     int
	GPUMetricsInterval time.Duration // zero disables GPU sampling

	// Backend selection
	Backend       string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Access control
	AdminPassword     string  // plaintext or a bcrypt hash; empty leaves config writes open
	GenerateRateLimit float64 // requests per second per client; zero disables
	GenerateRateBurst int
	TrustProxy        bool    // honour X-Forwarded-For and X-Real-IP

	ShutdownTimeout time.Duration
}

// Generation backends accepted by GENERATION_BACKEND.
var Backends = []string{"local", "openai", "placeholder"}

// LoadServerConfig reads the configuration through lookup (nil means the
// process environment). Every malformed variable is reported, each as a
// *ConfigError, joined into one error.
func LoadServerConfig(lookup LookupFunc) (*ServerConfig, error) {
	env := NewEnvReader(lookup)

	cfg := &ServerConfig{
		Host: env.String("HOST", "0.0.0.0"),
		Port: env.Int("PORT", 8000, 1),

		DevMode:  env.Bool("DEV_MODE", false),
		LogFile:  env.String("LOG_FILE", "sdqueue.log"),
		LogLevel: env.OneOf("LOG_LEVEL", "", "debug", "info", "warn", "error"),

		OutputRoot:       env.String("OUTPUT_ROOT", "outputs"),
		SettingsPath:     env.String("SETTINGS_PATH", "settings.yaml"),
		DBPath:           env.Optional("DB_PATH", "data/jobs.db"),
		ArchiveRetention: time.Duration(env.Int("ARCHIVE_RETENTION_DAYS", 30, 0)) * 24 * time.Hour,

		MaxQueueSize:      env.Int("MAX_QUEUE_SIZE", 100, 1),
		HistoryLimit:      env.Int("HISTORY_LIMIT", 50, 1),
		WorkerPoll:        time.Duration(env.Int("WORKER_POLL_SECONDS", 1, 1)) * time.Second,
		GenerationTimeout: env.Seconds("GENERATION_TIMEOUT_SECONDS", 600),

		MetricsHistory:     env.Int("METRICS_HISTORY", 100, 1),
		GPUMetricsInterval: env.Seconds("GPU_METRICS_INTERVAL_SECONDS", 5),

		Backend:       env.OneOf("GENERATION_BACKEND", "local", Backends...),
		OpenAIAPIKey:  env.String("OPENAI_API_KEY", ""),
		OpenAIBaseURL: env.String("OPENAI_BASE_URL", ""),
		OpenAIModel:   env.String("OPENAI_IMAGE_MODEL", ""),

		AdminPassword:     env.String("ADMIN_PASSWORD", ""),
		GenerateRateLimit: env.Float("GENERATE_RATE_LIMIT", 0),
		GenerateRateBurst: env.Int("GENERATE_RATE_BURST", 5, 1),
		TrustProxy:        env.Bool("TRUST_PROXY", false),

		ShutdownTimeout: env.Seconds("SHUTDOWN_TIMEOUT_SECONDS", 30),
	}
	if cfg.Port > 65535 {
		env.invalid("PORT", strconv.Itoa(cfg.Port), "a port number between 1 and 65535")
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Backend == "openai" && cfg.OpenAIAPIKey == "" {
		env.errs = append(env.errs, ErrMissingAuth("openai"))
	}

	if err := env.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ArchiveEnabled reports whether finished jobs are archived to SQLite.
func (c *ServerConfig) ArchiveEnabled() bool {
	return c.DBPath != ""
}

// RateLimited reports whether POST /generate is rate limited per client.
func (c *ServerConfig) RateLimited() bool {
	return c.GenerateRateLimit > 0
}
