// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the HTTP
// server, logging, the webhook dedup guard, the bot-loop guard, the background
// dispatcher, the NLU and live-chat relay clients, human verification, rate
// limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "livechat-bridge")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DedupConfig controls the webhook deduplication cache.
type DedupConfig struct {
	Backend       string        // memory|redis|sqlite
	Cooldown      time.Duration // min gap between two accepted deliveries of one key
	TTL           time.Duration // entries older than this are evicted
	SweepInterval time.Duration // how often the sweeper runs
	RedisURL      string        // required when Backend == "redis"
	RedisPrefix   string
	SQLitePath    string // used when Backend == "sqlite"
}

// BotConfig lists identities the relay must never answer.
type BotConfig struct {
	Usernames    []string // exact usernames of bot accounts
	NamePatterns []string // case-insensitive display-name substrings
}

// DispatchConfig sizes the background worker pool.
type DispatchConfig struct {
	Workers         int
	QueueSize       int
	TaskTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NLUConfig configures the Dialogflow CX agent.
type NLUConfig struct {
	ProjectID       string
	Region          string
	AgentID         string
	LanguageCode    string
	CredentialsJSON string // inline service-account JSON
	CredentialsFile string // path to a service-account JSON file
	FallbackText    string
	FailureReply    string // posted to the visitor when the agent call fails; empty disables
	Timeout         time.Duration
}

// LiveChatConfig configures the Rocket.Chat REST client.
type LiveChatConfig struct {
	BaseURL       string
	AuthToken     string
	UserID        string
	BotUsername   string // account whose typing state is toggled
	Alias         string // display alias on posted replies
	Timeout       time.Duration
	WebhookSecret string // expected X-RocketChat-Livechat-Token, empty disables the check
}

// TurnstileConfig configures server-side human verification.
type TurnstileConfig struct {
	SecretKey string
	VerifyURL string
	Timeout   time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Bridge
	Dedup     DedupConfig
	Bot       BotConfig
	Dispatch  DispatchConfig
	NLU       NLUConfig
	LiveChat  LiveChatConfig
	Turnstile TurnstileConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Dedup guard
		Dedup: DedupConfig{
			Backend:       strings.ToLower(getenv("DEDUP_BACKEND", "memory")),
			Cooldown:      getdur("DEDUP_COOLDOWN", 2*time.Second),
			TTL:           getdur("DEDUP_TTL", 5*time.Minute),
			SweepInterval: getdur("DEDUP_SWEEP_INTERVAL", 60*time.Second),
			RedisURL:      getenv("REDIS_URL", ""),
			RedisPrefix:   getenv("DEDUP_REDIS_PREFIX", "livechat:dedup:"),
			SQLitePath:    getenv("DEDUP_SQLITE_PATH", "data/dedup.db"),
		},

		// Bot-loop guard
		Bot: BotConfig{
			Usernames:    splitCSV(getenv("BOT_USERNAMES", "bot,rocket.cat")),
			NamePatterns: splitCSV(getenv("BOT_NAME_PATTERNS", "assistant,bot")),
		},

		// Background dispatch
		Dispatch: DispatchConfig{
			Workers:         getint("DISPATCH_WORKERS", 8),
			QueueSize:       getint("DISPATCH_QUEUE_SIZE", 256),
			TaskTimeout:     getdur("DISPATCH_TASK_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getdur("DISPATCH_SHUTDOWN_TIMEOUT", 15*time.Second),
		},

		// Conversational agent
		NLU: NLUConfig{
			ProjectID:       getenv("DIALOGFLOW_PROJECT_ID", ""),
			Region:          strings.ToLower(getenv("DIALOGFLOW_REGION", "global")),
			AgentID:         getenv("DIALOGFLOW_AGENT_ID", ""),
			LanguageCode:    getenv("DIALOGFLOW_LANGUAGE_CODE", "en"),
			CredentialsJSON: getenv("DIALOGFLOW_CREDENTIALS_JSON", ""),
			CredentialsFile: getenv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			FallbackText:    getenv("NLU_FALLBACK_TEXT", "I didn't understand that. Could you please rephrase?"),
			FailureReply:    getenv("NLU_FAILURE_REPLY", "Sorry, I'm having trouble responding right now. Please try again in a moment."),
			Timeout:         getdur("NLU_TIMEOUT", 10*time.Second),
		},

		// Live-chat platform
		LiveChat: LiveChatConfig{
			BaseURL:       strings.TrimRight(getenv("ROCKETCHAT_URL", ""), "/"),
			AuthToken:     getenv("ROCKETCHAT_AUTH_TOKEN", ""),
			UserID:        getenv("ROCKETCHAT_USER_ID", ""),
			BotUsername:   getenv("ROCKETCHAT_BOT_USERNAME", "bot"),
			Alias:         getenv("ROCKETCHAT_ALIAS", "Assistant"),
			Timeout:       getdur("ROCKETCHAT_TIMEOUT", 5*time.Second),
			WebhookSecret: getenv("LIVECHAT_WEBHOOK_SECRET", ""),
		},

		// Human verification
		Turnstile: TurnstileConfig{
			SecretKey: getenv("TURNSTILE_SECRET_KEY", ""),
			VerifyURL: getenv("TURNSTILE_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
			Timeout:   getdur("TURNSTILE_TIMEOUT", 5*time.Second),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "livechat-bridge"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.NLU.Region == "" {
		cfg.NLU.Region = "global"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	switch cfg.Dedup.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Dedup.RedisURL) == "" {
			return cfg, errors.New("REDIS_URL is required when DEDUP_BACKEND=redis")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.Dedup.SQLitePath) == "" {
			return cfg, errors.New("DEDUP_SQLITE_PATH is required when DEDUP_BACKEND=sqlite")
		}
	default:
		return cfg, errors.New("DEDUP_BACKEND must be one of: memory, redis, sqlite")
	}
	if cfg.Dedup.Cooldown <= 0 || cfg.Dedup.TTL <= 0 || cfg.Dedup.SweepInterval <= 0 {
		return cfg, errors.New("DEDUP_COOLDOWN, DEDUP_TTL and DEDUP_SWEEP_INTERVAL must be > 0")
	}
	if cfg.Dedup.TTL < cfg.Dedup.Cooldown {
		return cfg, errors.New("DEDUP_TTL must be >= DEDUP_COOLDOWN")
	}
	if cfg.Dispatch.Workers < 1 {
		return cfg, errors.New("DISPATCH_WORKERS must be >= 1")
	}
	if cfg.Dispatch.QueueSize < 1 {
		return cfg, errors.New("DISPATCH_QUEUE_SIZE must be >= 1")
	}
	if cfg.Dispatch.TaskTimeout <= 0 || cfg.Dispatch.ShutdownTimeout <= 0 {
		return cfg, errors.New("DISPATCH_TASK_TIMEOUT and DISPATCH_SHUTDOWN_TIMEOUT must be > 0")
	}
	if cfg.NLU.Timeout <= 0 || cfg.LiveChat.Timeout <= 0 || cfg.Turnstile.Timeout <= 0 {
		return cfg, errors.New("NLU_TIMEOUT, ROCKETCHAT_TIMEOUT and TURNSTILE_TIMEOUT must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
