// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the SQLite path, rate limiting, message and upload limits,
// notification fan-out sizing, authentication and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Upper bounds the service never relaxes, whatever the environment says.
const (
	MaxContentRunesLimit = 2000
	MaxTemporaryTTL      = 24 * time.Hour
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-dm-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// NotifyConfig sizes the asynchronous notification dispatcher.
type NotifyConfig struct {
	QueueSize int           // NOTIFY_QUEUE_SIZE
	Workers   int           // NOTIFY_WORKERS
	Timeout   time.Duration // NOTIFY_TIMEOUT, per notification write
	LinkBase  string        // CHAT_LINK_BASE
}

// UploadConfig controls attachment storage.
type UploadConfig struct {
	Dir      string // UPLOAD_DIR
	MaxBytes int64  // UPLOAD_MAX_BYTES, per file
}

// AuthConfig controls how callers are identified.
type AuthConfig struct {
	JWTSecret       string // AUTH_JWT_SECRET (HS256); empty disables tokens
	AllowUserHeader bool   // AUTH_ALLOW_USER_HEADER: trust X-User-ID
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
	MaxBodyBytes      int64         // JSON request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	LogRedact      bool   // scrub PII from access logs
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes
	ExposeErrors   bool   // include storage error detail in responses

	// Storage
	DBPath string // SQLite path

	// Messaging
	MaxContentRunes   int           // 1..2000
	TemporaryMaxTTL   time.Duration // upper bound on expires_at - sent_at
	ReaperInterval    time.Duration // expiry sweep cadence
	IdempotencyTTL    time.Duration // how long a given Idempotency-Key is valid
	Notify            NotifyConfig
	Upload            UploadConfig
	Auth              AuthConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

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
		MaxBodyBytes:      getint64("MAX_BODY_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		LogRedact:      getbool("LOG_REDACT", true),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: getenv("DB_PATH", "dm.db"),

		// Messaging
		MaxContentRunes: getint("MAX_CONTENT_RUNES", MaxContentRunesLimit),
		TemporaryMaxTTL: getdur("TEMP_MESSAGE_MAX_TTL", MaxTemporaryTTL),
		ReaperInterval:  getdur("REAPER_INTERVAL", time.Hour),
		IdempotencyTTL:  getdur("IDEMPOTENCY_TTL", 24*time.Hour),
		Notify: NotifyConfig{
			QueueSize: getint("NOTIFY_QUEUE_SIZE", 256),
			Workers:   getint("NOTIFY_WORKERS", 2),
			Timeout:   getdur("NOTIFY_TIMEOUT", 5*time.Second),
			LinkBase:  getenv("CHAT_LINK_BASE", "/chats/"),
		},
		Upload: UploadConfig{
			Dir:      getenv("UPLOAD_DIR", "uploads"),
			MaxBytes: getint64("UPLOAD_MAX_BYTES", 10<<20),
		},
		Auth: AuthConfig{
			JWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		},

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

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-dm-backend"),
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
	// Without a token secret the X-User-ID header is the only identity source.
	cfg.Auth.AllowUserHeader = getbool("AUTH_ALLOW_USER_HEADER", cfg.Auth.JWTSecret == "")
	cfg.ExposeErrors = getbool("EXPOSE_ERRORS", cfg.GinMode != "release")

	// --- validation ---
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// rule is one validation check; the first failing rule is reported.
type rule struct {
	bad bool
	msg string
}

func validate(cfg Config) error {
	rules := []rule{
		{!validLogLevel(cfg.LogLevel), "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"},
		{strings.TrimSpace(cfg.Port) == "", "PORT must not be empty"},
		{cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0,
			"timeouts must be positive durations"},
		{cfg.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0"},
		{cfg.MaxBodyBytes <= 0, "MAX_BODY_BYTES must be > 0"},
		{strings.TrimSpace(cfg.DBPath) == "", "DB_PATH must not be empty"},
		{cfg.MaxContentRunes < 1 || cfg.MaxContentRunes > MaxContentRunesLimit, "MAX_CONTENT_RUNES must be between 1 and 2000"},
		{cfg.TemporaryMaxTTL <= 0 || cfg.TemporaryMaxTTL > MaxTemporaryTTL, "TEMP_MESSAGE_MAX_TTL must be in (0, 24h]"},
		{cfg.ReaperInterval <= 0, "REAPER_INTERVAL must be > 0"},
		{cfg.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0"},
		{cfg.Notify.QueueSize < 1 || cfg.Notify.Workers < 1, "NOTIFY_QUEUE_SIZE and NOTIFY_WORKERS must be >= 1"},
		{cfg.Notify.Timeout <= 0, "NOTIFY_TIMEOUT must be > 0"},
		{strings.TrimSpace(cfg.Upload.Dir) == "", "UPLOAD_DIR must not be empty"},
		{cfg.Upload.MaxBytes <= 0, "UPLOAD_MAX_BYTES must be > 0"},
		{cfg.Auth.JWTSecret == "" && !cfg.Auth.AllowUserHeader, "AUTH_JWT_SECRET is required when AUTH_ALLOW_USER_HEADER is off"},
		{cfg.RateRPS < 0, "RATE_RPS must be >= 0"},
		{cfg.RateBurst < 1, "RATE_BURST must be >= 1"},
		{cfg.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0"},
		{cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
	}
	for _, r := range rules {
		if r.bad {
			return errors.New(r.msg)
		}
	}
	return nil
}

func validLogLevel(l string) bool {
	switch l {
	case "debug", "info", "warn", "error", "fatal", "panic":
		return true
	}
	return false
}

// ---- helpers ----

// lookup parses the variable k with parse. Unset, empty or unparsable values
// yield def.
func lookup[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func getenv(k, def string) string {
	return lookup(k, def, func(v string) (string, error) { return v, nil })
}

func getfloat(k string, def float64) float64 {
	return lookup(k, def, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
}

func getint(k string, def int) int {
	return lookup(k, def, strconv.Atoi)
}

func getint64(k string, def int64) int64 {
	return lookup(k, def, func(v string) (int64, error) { return strconv.ParseInt(v, 10, 64) })
}

func getdur(k string, def time.Duration) time.Duration {
	return lookup(k, def, time.ParseDuration)
}

var errNotBool = errors.New("not a boolean")

func getbool(k string, def bool) bool {
	return lookup(k, def, parseBool)
}

// parseBool accepts the usual switch spellings on top of 1/0 and true/false.
func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, errNotBool
}

// splitCSV splits on commas, trimming entries and dropping empty ones.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath yields "/" or a path with one leading and no trailing slash.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
