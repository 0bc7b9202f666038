// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes adapter settings
// such as the active vendor, conserver endpoint, recording download policy,
// tracker database path, worker pool sizing, and observability.
//
// Configuration is an immutable value threaded explicitly through pipeline
// construction; nothing in the codebase reads the environment after Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vconbridge/telephony-adapters/internal/sysutil"
)

// Vendor identifies one of the supported telephony control planes.
type Vendor string

// Supported vendors.
const (
	VendorTwilio     Vendor = "twilio"
	VendorFreeSwitch Vendor = "freeswitch"
	VendorAsterisk   Vendor = "asterisk"
	VendorTelnyx     Vendor = "telnyx"
	VendorBandwidth  Vendor = "bandwidth"
)

// ConserverConfig defines the downstream aggregation endpoint and the
// delivery policy for posting canonical records to it.
type ConserverConfig struct {
	URL            string        // CONSERVER_URL (required)
	APIToken       string        // CONSERVER_API_TOKEN (optional)
	HeaderName     string        // CONSERVER_HEADER_NAME, carries the token
	IngressLists   []string      // INGRESS_LISTS, comma-separated routing lists
	Timeout        time.Duration // per-request timeout for delivery POSTs
	MaxAttempts    int           // delivery attempts before giving up
	InitialBackoff time.Duration // first retry delay; grows exponentially
}

// TwilioConfig holds Twilio credentials and signature validation settings.
type TwilioConfig struct {
	AccountSID        string // TWILIO_ACCOUNT_SID
	AuthToken         string // TWILIO_AUTH_TOKEN
	WebhookURL        string // WEBHOOK_URL, public callback URL as Twilio signed it
	ValidateSignature bool   // VALIDATE_TWILIO_SIGNATURE
}

// FreeSwitchConfig holds FreeSWITCH webhook and recording access settings.
type FreeSwitchConfig struct {
	WebhookSecret     string // FREESWITCH_WEBHOOK_SECRET
	Validate          bool   // VALIDATE_FREESWITCH_WEBHOOK
	RecordingsPath    string // FREESWITCH_RECORDINGS_PATH, local file root
	RecordingsURLBase string // FREESWITCH_RECORDINGS_URL_BASE, optional HTTP root
}

// AsteriskConfig holds Asterisk webhook and ARI access settings.
type AsteriskConfig struct {
	WebhookSecret  string // ASTERISK_WEBHOOK_SECRET
	Validate       bool   // VALIDATE_ASTERISK_WEBHOOK
	RecordingsPath string // ASTERISK_RECORDINGS_PATH, local file root
	ARIURL         string // ASTERISK_ARI_URL, e.g. http://pbx:8088/ari
	ARIUsername    string // ASTERISK_ARI_USERNAME
	ARIPassword    string // ASTERISK_ARI_PASSWORD
}

// TelnyxConfig holds Telnyx webhook verification and API settings.
type TelnyxConfig struct {
	PublicKey string        // TELNYX_PUBLIC_KEY, base64 Ed25519 key
	APIKey    string        // TELNYX_API_KEY, bearer token for media downloads
	Validate  bool          // VALIDATE_TELNYX_WEBHOOK
	Skew      time.Duration // TELNYX_TIMESTAMP_SKEW, allowed signature age
}

// BandwidthConfig holds Bandwidth webhook and media API credentials.
type BandwidthConfig struct {
	WebhookUsername string // BANDWIDTH_WEBHOOK_USERNAME
	WebhookPassword string // BANDWIDTH_WEBHOOK_PASSWORD
	APIUsername     string // BANDWIDTH_USERNAME
	APIPassword     string // BANDWIDTH_PASSWORD
	AccountID       string // BANDWIDTH_ACCOUNT_ID
	Validate        bool   // VALIDATE_BANDWIDTH_WEBHOOK
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the adapter process.
type Config struct {
	// Vendor selection
	Vendor Vendor // VENDOR: twilio|freeswitch|asterisk|telnyx|bandwidth

	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxBodyBytes      int64
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Tracker
	DBPath      string // SQLite path for the idempotency ledger
	MaxAttempts int    // processing attempts before an entry turns failed

	// Recording download
	DownloadRecordings bool          // embed audio when true
	RecordingFormat    string        // wav|mp3
	FetchTimeout       time.Duration // audio download timeout

	// Background delivery
	Workers   int // worker pool size
	QueueSize int // bounded work queue capacity

	// Rate limiting (webhook + status endpoints)
	RateRPS   float64
	RateBurst int

	// Collaborators
	Conserver  ConserverConfig
	Twilio     TwilioConfig
	FreeSwitch FreeSwitchConfig
	Asterisk   AsteriskConfig
	Telnyx     TelnyxConfig
	Bandwidth  BandwidthConfig

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

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Vendor: Vendor(strings.ToLower(getenv("VENDOR", string(VendorTwilio)))),

		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 1<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Tracker
		DBPath:      getenv("DB_PATH", "adapter_state.db"),
		MaxAttempts: getint("MAX_ATTEMPTS", 5),

		// Recording download
		DownloadRecordings: getbool("DOWNLOAD_RECORDINGS", true),
		RecordingFormat:    strings.ToLower(getenv("RECORDING_FORMAT", "wav")),
		FetchTimeout:       getdur("FETCH_TIMEOUT", 60*time.Second),

		// Background delivery
		Workers:   getint("WORKERS", 4),
		QueueSize: getint("QUEUE_SIZE", 256),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		Conserver: ConserverConfig{
			URL:            getenv("CONSERVER_URL", ""),
			APIToken:       getenv("CONSERVER_API_TOKEN", ""),
			HeaderName:     getenv("CONSERVER_HEADER_NAME", "x-conserver-api-token"),
			IngressLists:   splitCSV(getenv("INGRESS_LISTS", "")),
			Timeout:        getdur("CONSERVER_TIMEOUT", 30*time.Second),
			MaxAttempts:    getint("CONSERVER_MAX_ATTEMPTS", 4),
			InitialBackoff: getdur("CONSERVER_INITIAL_BACKOFF", 500*time.Millisecond),
		},

		Twilio: TwilioConfig{
			AccountSID:        getenv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:         getenv("TWILIO_AUTH_TOKEN", ""),
			WebhookURL:        getenv("WEBHOOK_URL", ""),
			ValidateSignature: getbool("VALIDATE_TWILIO_SIGNATURE", true),
		},
		FreeSwitch: FreeSwitchConfig{
			WebhookSecret:     getenv("FREESWITCH_WEBHOOK_SECRET", ""),
			Validate:          getbool("VALIDATE_FREESWITCH_WEBHOOK", true),
			RecordingsPath:    getenv("FREESWITCH_RECORDINGS_PATH", "/var/lib/freeswitch/recordings"),
			RecordingsURLBase: getenv("FREESWITCH_RECORDINGS_URL_BASE", ""),
		},
		Asterisk: AsteriskConfig{
			WebhookSecret:  getenv("ASTERISK_WEBHOOK_SECRET", ""),
			Validate:       getbool("VALIDATE_ASTERISK_WEBHOOK", true),
			RecordingsPath: getenv("ASTERISK_RECORDINGS_PATH", "/var/spool/asterisk/recording"),
			ARIURL:         getenv("ASTERISK_ARI_URL", ""),
			ARIUsername:    getenv("ASTERISK_ARI_USERNAME", ""),
			ARIPassword:    getenv("ASTERISK_ARI_PASSWORD", ""),
		},
		Telnyx: TelnyxConfig{
			PublicKey: getenv("TELNYX_PUBLIC_KEY", ""),
			APIKey:    getenv("TELNYX_API_KEY", ""),
			Validate:  getbool("VALIDATE_TELNYX_WEBHOOK", true),
			Skew:      getdur("TELNYX_TIMESTAMP_SKEW", 5*time.Minute),
		},
		Bandwidth: BandwidthConfig{
			WebhookUsername: getenv("BANDWIDTH_WEBHOOK_USERNAME", ""),
			WebhookPassword: getenv("BANDWIDTH_WEBHOOK_PASSWORD", ""),
			APIUsername:     getenv("BANDWIDTH_USERNAME", ""),
			APIPassword:     getenv("BANDWIDTH_PASSWORD", ""),
			AccountID:       getenv("BANDWIDTH_ACCOUNT_ID", ""),
			Validate:        getbool("VALIDATE_BANDWIDTH_WEBHOOK", true),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "vcon-telephony-adapter"),
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

	// --- validation ---
	switch cfg.Vendor {
	case VendorTwilio, VendorFreeSwitch, VendorAsterisk, VendorTelnyx, VendorBandwidth:
	default:
		return cfg, fmt.Errorf("VENDOR must be one of: twilio, freeswitch, asterisk, telnyx, bandwidth (got %q)", cfg.Vendor)
	}
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
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.MaxAttempts < 1 {
		return cfg, errors.New("MAX_ATTEMPTS must be >= 1")
	}
	if strings.TrimSpace(cfg.Conserver.URL) == "" {
		return cfg, errors.New("CONSERVER_URL is required")
	}
	if cfg.Conserver.MaxAttempts < 1 {
		return cfg, errors.New("CONSERVER_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Conserver.Timeout <= 0 || cfg.Conserver.InitialBackoff <= 0 {
		return cfg, errors.New("conserver timeout and backoff must be positive durations")
	}
	switch cfg.RecordingFormat {
	case "wav", "mp3":
	default:
		return cfg, fmt.Errorf("RECORDING_FORMAT must be 'wav' or 'mp3', got %q", cfg.RecordingFormat)
	}
	if cfg.FetchTimeout <= 0 {
		return cfg, errors.New("FETCH_TIMEOUT must be a positive duration")
	}
	if cfg.Workers < 1 {
		return cfg, errors.New("WORKERS must be >= 1")
	}
	if cfg.QueueSize < 1 {
		return cfg, errors.New("QUEUE_SIZE must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Vendor == VendorTwilio && cfg.Twilio.ValidateSignature && cfg.Twilio.AuthToken == "" {
		return cfg, errors.New("TWILIO_AUTH_TOKEN is required when VALIDATE_TWILIO_SIGNATURE is true")
	}
	if cfg.Vendor == VendorTelnyx && cfg.Telnyx.Validate && cfg.Telnyx.Skew <= 0 {
		return cfg, errors.New("TELNYX_TIMESTAMP_SKEW must be a positive duration")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- env helpers ----

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
		if sysutil.IsTruthy(v) {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
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
