package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("MAX_BODY_BYTES", "4096")
	t.Setenv("GIN_MODE", "weird") // normalizes to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // normalizes to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("LOG_REDACT", "off")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v2/")

	// Storage / messaging
	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("MAX_CONTENT_RUNES", "500")
	t.Setenv("TEMP_MESSAGE_MAX_TTL", "2h")
	t.Setenv("REAPER_INTERVAL", "5m")
	t.Setenv("IDEMPOTENCY_TTL", "48h")
	t.Setenv("NOTIFY_QUEUE_SIZE", "16")
	t.Setenv("NOTIFY_WORKERS", "3")
	t.Setenv("NOTIFY_TIMEOUT", "750ms")
	t.Setenv("CHAT_LINK_BASE", "https://app.example/chats/")
	t.Setenv("UPLOAD_DIR", "/tmp/up")
	t.Setenv("UPLOAD_MAX_BYTES", "2048")
	t.Setenv("AUTH_JWT_SECRET", "  s3cret ")

	// Rate limiting (invalid values fall back to defaults)
	t.Setenv("RATE_RPS", "x")
	t.Setenv("RATE_BURST", "nope")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.MaxBodyBytes != 4096 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.LogRedact || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v2" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}
	if cfg.ExposeErrors {
		t.Fatalf("release mode should hide error detail by default")
	}
	if cfg.DBPath != "db.sqlite" ||
		cfg.MaxContentRunes != 500 ||
		cfg.TemporaryMaxTTL != 2*time.Hour ||
		cfg.ReaperInterval != 5*time.Minute ||
		cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("messaging fields unexpected: %+v", cfg)
	}
	wantNotify := NotifyConfig{QueueSize: 16, Workers: 3, Timeout: 750 * time.Millisecond, LinkBase: "https://app.example/chats/"}
	if cfg.Notify != wantNotify {
		t.Fatalf("notify unexpected: %+v", cfg.Notify)
	}
	if cfg.Upload != (UploadConfig{Dir: "/tmp/up", MaxBytes: 2048}) {
		t.Fatalf("upload unexpected: %+v", cfg.Upload)
	}
	// A configured secret turns header identities off unless asked for.
	if cfg.Auth.JWTSecret != "s3cret" || cfg.Auth.AllowUserHeader {
		t.Fatalf("auth unexpected: %+v", cfg.Auth)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIBasePath != "/api/v1" || cfg.DBPath != "dm.db" || !cfg.LogRedact {
		t.Fatalf("defaults unexpected: %+v", cfg)
	}
	if cfg.MaxContentRunes != 2000 || cfg.TemporaryMaxTTL != 24*time.Hour || cfg.ReaperInterval != time.Hour {
		t.Fatalf("messaging defaults unexpected: %+v", cfg)
	}
	if cfg.Notify.QueueSize != 256 || cfg.Notify.Workers != 2 || cfg.Notify.Timeout != 5*time.Second || cfg.Notify.LinkBase != "/chats/" {
		t.Fatalf("notify defaults unexpected: %+v", cfg.Notify)
	}
	if cfg.Upload.Dir != "uploads" || cfg.Upload.MaxBytes != 10<<20 || cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("upload defaults unexpected: %+v", cfg.Upload)
	}
	if cfg.Auth.JWTSecret != "" || !cfg.Auth.AllowUserHeader {
		t.Fatalf("without a secret the user header must be trusted: %+v", cfg.Auth)
	}
}

func TestLoad_ExposeErrors(t *testing.T) {
	t.Setenv("GIN_MODE", "debug")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.ExposeErrors {
		t.Fatalf("debug mode should expose error detail by default")
	}

	t.Setenv("EXPOSE_ERRORS", "false")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ExposeErrors {
		t.Fatalf("EXPOSE_ERRORS=false must win over the mode default")
	}
}

// Each case triggers exactly one validation error.
func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"max body bytes", map[string]string{"MAX_BODY_BYTES": "-1"}, "MAX_BODY_BYTES"},
		{"empty DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"content runes zero", map[string]string{"MAX_CONTENT_RUNES": "0"}, "MAX_CONTENT_RUNES"},
		{"content runes above limit", map[string]string{"MAX_CONTENT_RUNES": "2001"}, "MAX_CONTENT_RUNES"},
		{"temporary ttl above 24h", map[string]string{"TEMP_MESSAGE_MAX_TTL": "25h"}, "TEMP_MESSAGE_MAX_TTL"},
		{"temporary ttl zero", map[string]string{"TEMP_MESSAGE_MAX_TTL": "0s"}, "TEMP_MESSAGE_MAX_TTL"},
		{"reaper interval", map[string]string{"REAPER_INTERVAL": "0s"}, "REAPER_INTERVAL"},
		{"idempotency ttl", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"notify workers", map[string]string{"NOTIFY_WORKERS": "0"}, "NOTIFY_WORKERS"},
		{"notify queue", map[string]string{"NOTIFY_QUEUE_SIZE": "0"}, "NOTIFY_QUEUE_SIZE"},
		{"notify timeout", map[string]string{"NOTIFY_TIMEOUT": "-1s"}, "NOTIFY_TIMEOUT"},
		{"upload dir", map[string]string{"UPLOAD_DIR": "  "}, "UPLOAD_DIR"},
		{"upload max bytes", map[string]string{"UPLOAD_MAX_BYTES": "0"}, "UPLOAD_MAX_BYTES"},
		{"no identity source", map[string]string{"AUTH_ALLOW_USER_HEADER": "off"}, "AUTH_JWT_SECRET"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"otel sample ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_numbersAndDurations(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("I64_VALID", "10737418240")
	if getint64("I64_VALID", 0) != 10<<30 {
		t.Fatalf("getint64 parse failed")
	}
	t.Setenv("I64_BAD", "1.5")
	if getint64("I64_BAD", 9) != 9 {
		t.Fatalf("getint64 default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for i, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"} {
		k := "B_T_" + string(rune('a'+i))
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	for i, v := range []string{"0", "false", "FALSE", " no ", "N", "off", "Off"} {
		k := "B_F_" + string(rune('a'+i))
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV mismatch: got %#v", got)
	}

	for in, want := range map[string]string{"": "/", "v1": "/v1", "/v1/": "/v1", " / ": "/"} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	if cfg := MustLoad(); cfg.APIBasePath == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}

// Keep ambient env from the developer shell out of the defaults.
func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "GIN_MODE", "AUTH_JWT_SECRET", "AUTH_ALLOW_USER_HEADER", "EXPOSE_ERRORS", "DB_PATH"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
