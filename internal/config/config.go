// Package config loads the application configuration from environment
// variables, applies defaults, and validates the result. The CLI reads an
// optional .env file before calling Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/tbourn/go-atendente/internal/availability"
	"github.com/tbourn/go-atendente/internal/queue"
	"github.com/tbourn/go-atendente/internal/repo"
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

// OTELConfig defines OpenTelemetry tracing settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// QueueConfig selects the task queue and tunes the worker pool.
type QueueConfig struct {
	RedisURL     string        // empty selects the in-process queue
	Key          string        // Redis key prefix
	PollInterval time.Duration // delayed-job promotion / idle wait
	Visibility   time.Duration // Redis lease before an unacknowledged job is redelivered
	WorkerCount  int
	TaskTimeout  time.Duration
	Retry        queue.RetryPolicy
}

// LLMConfig configures the extraction adapter.
type LLMConfig struct {
	Provider        string // openrouter | openai
	Model           string
	APIKey          string // resolved from OPENROUTER_API_KEY or OPENAI_API_KEY
	BaseURL         string
	ExtractTimeout  time.Duration
	MinConfidence   int
	HistoryLimit    int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// TwilioConfig configures delivery and webhook signature checks.
type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	WhatsAppFrom      string
	BaseURL           string
	ValidateSignature bool
	PublicBaseURL     string
	DeliveryTimeout   time.Duration
}

// Enabled reports whether REST delivery is configured.
func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.WhatsAppFrom != ""
}

// CalendarConfig selects the availability backend.
type CalendarConfig struct {
	GoogleCredentials   string // path or inline JSON; empty selects the local calendar
	GoogleCalendarID    string
	AvailabilityTimeout time.Duration
}

// BusinessConfig describes the opening hours used to generate slots.
type BusinessConfig struct {
	Timezone      string
	Open          string // HH:MM
	Close         string // HH:MM
	Days          string // e.g. "mon,tue,wed,thu,fri,sat"
	SlotStep      time.Duration
	MaxCandidates int
}

// Location loads the business time zone.
func (b BusinessConfig) Location() (*time.Location, error) {
	return time.LoadLocation(b.Timezone)
}

// Hours converts the business settings into slot-generation rules.
func (b BusinessConfig) Hours() (availability.Hours, error) {
	loc, err := b.Location()
	if err != nil {
		return availability.Hours{}, fmt.Errorf("BUSINESS_TIMEZONE: %w", err)
	}
	open, err := availability.ParseClock(b.Open)
	if err != nil {
		return availability.Hours{}, fmt.Errorf("BUSINESS_OPEN: %w", err)
	}
	closeAt, err := availability.ParseClock(b.Close)
	if err != nil {
		return availability.Hours{}, fmt.Errorf("BUSINESS_CLOSE: %w", err)
	}
	if closeAt <= open {
		return availability.Hours{}, errors.New("BUSINESS_CLOSE must be after BUSINESS_OPEN")
	}
	days, err := availability.ParseWeekdays(b.Days)
	if err != nil {
		return availability.Hours{}, fmt.Errorf("BUSINESS_DAYS: %w", err)
	}
	return availability.Hours{
		Location:      loc,
		Open:          open,
		Close:         closeAt,
		Days:          days,
		Step:          b.SlotStep,
		MaxCandidates: b.MaxCandidates,
	}, nil
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	// Store
	DatabaseURL string // postgres://... selects Postgres
	DBPath      string // SQLite file otherwise

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// IdempotencyTTL bounds how long webhook redeliveries are recognised.
	IdempotencyTTL time.Duration

	Queue    QueueConfig
	LLM      LLMConfig
	Twilio   TwilioConfig
	Calendar CalendarConfig
	Business BusinessConfig

	// Catalog
	ServicesPath           string
	DefaultServiceDuration time.Duration

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

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DatabaseURL: getenv("DATABASE_URL", ""),
		DBPath:      getenv("DB_PATH", "atendente.db"),

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Queue: QueueConfig{
			RedisURL:     getenv("REDIS_URL", ""),
			Key:          getenv("QUEUE_KEY", "atendente:jobs"),
			PollInterval: getdur("QUEUE_POLL_INTERVAL", time.Second),
			Visibility:   getdur("QUEUE_VISIBILITY_TIMEOUT", queue.DefaultVisibility),
			WorkerCount:  getint("WORKER_COUNT", 4),
			TaskTimeout:  getdur("TASK_TIMEOUT", 90*time.Second),
			Retry: queue.RetryPolicy{
				Base:        getdur("RETRY_BASE_DELAY", 2*time.Second),
				Max:         getdur("RETRY_MAX_DELAY", 5*time.Minute),
				MaxAttempts: getint("RETRY_MAX_ATTEMPTS", 5),
			},
		},

		LLM: LLMConfig{
			Provider:        strings.ToLower(getenv("LLM_PROVIDER", "openrouter")),
			Model:           getenv("LLM_MODEL", "openrouter/auto"),
			BaseURL:         getenv("LLM_BASE_URL", ""),
			ExtractTimeout:  getdur("EXTRACT_TIMEOUT", 20*time.Second),
			MinConfidence:   getint("MIN_CONFIDENCE", 0),
			HistoryLimit:    getint("HISTORY_LIMIT", 6),
			BreakerFailures: uint32(getint("BREAKER_FAILURES", 5)),
			BreakerCooldown: getdur("BREAKER_COOLDOWN", 30*time.Second),
		},

		Twilio: TwilioConfig{
			AccountSID:        getenv("TWILIO_SID", ""),
			AuthToken:         getenv("TWILIO_TOKEN", ""),
			WhatsAppFrom:      getenv("TWILIO_WHATSAPP", ""),
			BaseURL:           getenv("TWILIO_BASE_URL", "https://api.twilio.com"),
			ValidateSignature: getbool("TWILIO_VALIDATE_SIGNATURE", false),
			PublicBaseURL:     strings.TrimRight(getenv("PUBLIC_BASE_URL", ""), "/"),
			DeliveryTimeout:   getdur("DELIVERY_TIMEOUT", 15*time.Second),
		},

		Calendar: CalendarConfig{
			GoogleCredentials:   getenv("GOOGLE_CREDENTIALS", ""),
			GoogleCalendarID:    getenv("GOOGLE_CALENDAR_ID", "primary"),
			AvailabilityTimeout: getdur("AVAILABILITY_TIMEOUT", 15*time.Second),
		},

		Business: BusinessConfig{
			Timezone:      getenv("BUSINESS_TIMEZONE", "America/Sao_Paulo"),
			Open:          getenv("BUSINESS_OPEN", "09:00"),
			Close:         getenv("BUSINESS_CLOSE", "18:00"),
			Days:          getenv("BUSINESS_DAYS", "mon,tue,wed,thu,fri,sat"),
			SlotStep:      getdur("SLOT_STEP", 30*time.Minute),
			MaxCandidates: getint("MAX_CANDIDATES", 5),
		},

		ServicesPath:           getenv("SERVICES_PATH", "data/services.md"),
		DefaultServiceDuration: getdur("DEFAULT_SERVICE_DURATION", 30*time.Minute),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-atendente"),
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
	switch cfg.LLM.Provider {
	case "openai":
		cfg.LLM.APIKey = getenv("OPENAI_API_KEY", "")
	case "openrouter":
		cfg.LLM.APIKey = getenv("OPENROUTER_API_KEY", "")
		if cfg.LLM.BaseURL == "" {
			cfg.LLM.BaseURL = "https://openrouter.ai/api/v1"
		}
	}

	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.DatabaseURL == "" && strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("one of DATABASE_URL or DB_PATH is required")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Queue.WorkerCount < 1 {
		return errors.New("WORKER_COUNT must be >= 1")
	}
	// Each worker pins one connection for its whole job; the API needs the rest.
	if pool := repo.MaxOpenConns(cfg.DatabaseURL); cfg.Queue.WorkerCount >= pool {
		return fmt.Errorf("WORKER_COUNT must be < %d, the database pool size", pool)
	}
	if cfg.Queue.PollInterval <= 0 || cfg.Queue.TaskTimeout <= 0 {
		return errors.New("QUEUE_POLL_INTERVAL and TASK_TIMEOUT must be positive")
	}
	if cfg.Queue.Visibility <= cfg.Queue.TaskTimeout {
		return errors.New("QUEUE_VISIBILITY_TIMEOUT must be longer than TASK_TIMEOUT")
	}
	if cfg.Queue.Retry.Base <= 0 || cfg.Queue.Retry.Max < cfg.Queue.Retry.Base {
		return errors.New("RETRY_BASE_DELAY must be > 0 and <= RETRY_MAX_DELAY")
	}
	if cfg.Queue.Retry.MaxAttempts < 1 {
		return errors.New("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	switch cfg.LLM.Provider {
	case "openai", "openrouter":
	default:
		return errors.New("LLM_PROVIDER must be openrouter or openai")
	}
	if cfg.LLM.MinConfidence < 0 || cfg.LLM.MinConfidence > 100 {
		return errors.New("MIN_CONFIDENCE must be between 0 and 100")
	}
	if cfg.LLM.HistoryLimit < 0 {
		return errors.New("HISTORY_LIMIT must be >= 0")
	}
	if cfg.Twilio.ValidateSignature && (cfg.Twilio.AuthToken == "" || cfg.Twilio.PublicBaseURL == "") {
		return errors.New("TWILIO_VALIDATE_SIGNATURE requires TWILIO_TOKEN and PUBLIC_BASE_URL")
	}
	if _, err := cfg.Business.Hours(); err != nil {
		return err
	}
	if cfg.Business.SlotStep <= 0 || cfg.Business.MaxCandidates < 1 {
		return errors.New("SLOT_STEP must be > 0 and MAX_CANDIDATES >= 1")
	}
	if cfg.DefaultServiceDuration <= 0 {
		return errors.New("DEFAULT_SERVICE_DURATION must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// ---- helpers ----

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
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips a trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
