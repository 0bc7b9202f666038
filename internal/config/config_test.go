package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// baseEnv sets the minimum environment for a valid Load. Interfering
// variables are blanked so host environments do not leak into tests.
func baseEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"VENDOR", "PORT", "LOG_LEVEL", "LOG_PRETTY", "GIN_MODE",
		"DB_PATH", "MAX_ATTEMPTS", "DOWNLOAD_RECORDINGS",
		"RECORDING_FORMAT", "WORKERS", "QUEUE_SIZE", "INGRESS_LISTS",
		"CONSERVER_MAX_ATTEMPTS", "VALIDATE_TWILIO_SIGNATURE",
		"TELNYX_TIMESTAMP_SKEW", "OTEL_TRACES_SAMPLER_ARG",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("CONSERVER_URL", "http://conserver:8000/vcon/ingress")
	t.Setenv("TWILIO_AUTH_TOKEN", "authtok")
}

func TestLoad_Defaults(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Vendor != VendorTwilio {
		t.Errorf("vendor = %q, want twilio default", cfg.Vendor)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.GinMode != "release" {
		t.Errorf("gin mode = %q", cfg.GinMode)
	}
	if !cfg.DownloadRecordings {
		t.Error("download recordings should default true")
	}
	if cfg.RecordingFormat != "wav" {
		t.Errorf("recording format = %q", cfg.RecordingFormat)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("max attempts = %d", cfg.MaxAttempts)
	}
	if cfg.Workers != 4 || cfg.QueueSize != 256 {
		t.Errorf("workers/queue = %d/%d", cfg.Workers, cfg.QueueSize)
	}
	if cfg.Conserver.HeaderName != "x-conserver-api-token" {
		t.Errorf("conserver header = %q", cfg.Conserver.HeaderName)
	}
	if cfg.Conserver.InitialBackoff != 500*time.Millisecond {
		t.Errorf("initial backoff = %v", cfg.Conserver.InitialBackoff)
	}
	if cfg.Telnyx.Skew != 5*time.Minute {
		t.Errorf("telnyx skew = %v", cfg.Telnyx.Skew)
	}
	if cfg.Conserver.IngressLists != nil {
		t.Errorf("ingress lists = %v, want nil", cfg.Conserver.IngressLists)
	}
}

func TestLoad_MissingConserverURL(t *testing.T) {
	baseEnv(t)
	t.Setenv("CONSERVER_URL", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "CONSERVER_URL") {
		t.Fatalf("err = %v, want CONSERVER_URL error", err)
	}
}

func TestLoad_UnknownVendor(t *testing.T) {
	baseEnv(t)
	t.Setenv("VENDOR", "zoomphone")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "VENDOR") {
		t.Fatalf("err = %v, want VENDOR error", err)
	}
}

func TestLoad_VendorCaseInsensitive(t *testing.T) {
	baseEnv(t)
	t.Setenv("VENDOR", "TeLnYx")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Vendor != VendorTelnyx {
		t.Errorf("vendor = %q, want telnyx", cfg.Vendor)
	}
}

func TestLoad_BadRecordingFormat(t *testing.T) {
	baseEnv(t)
	t.Setenv("RECORDING_FORMAT", "flac")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "RECORDING_FORMAT") {
		t.Fatalf("err = %v, want RECORDING_FORMAT error", err)
	}
}

func TestLoad_TwilioTokenRequiredWhenValidating(t *testing.T) {
	baseEnv(t)
	t.Setenv("TWILIO_AUTH_TOKEN", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TWILIO_AUTH_TOKEN") {
		t.Fatalf("err = %v, want TWILIO_AUTH_TOKEN error", err)
	}

	t.Setenv("VALIDATE_TWILIO_SIGNATURE", "false")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with validation off: %v", err)
	}
}

func TestLoad_TelnyxSkewMustBePositive(t *testing.T) {
	baseEnv(t)
	t.Setenv("VENDOR", "telnyx")
	t.Setenv("TELNYX_TIMESTAMP_SKEW", "-1m")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TELNYX_TIMESTAMP_SKEW") {
		t.Fatalf("err = %v, want TELNYX_TIMESTAMP_SKEW error", err)
	}
}

func TestLoad_LogLevelNormalization(t *testing.T) {
	baseEnv(t)
	t.Setenv("LOG_LEVEL", "WARNING")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %q, want warn", cfg.LogLevel)
	}
}

func TestLoad_InvalidGinModeFallsBack(t *testing.T) {
	baseEnv(t)
	t.Setenv("GIN_MODE", "verbose")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GinMode != "release" {
		t.Errorf("gin mode = %q, want release", cfg.GinMode)
	}
}

func TestLoad_IngressLists(t *testing.T) {
	baseEnv(t)
	t.Setenv("INGRESS_LISTS", "telephony, default ,,priority")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"telephony", "default", "priority"}
	if !reflect.DeepEqual(cfg.Conserver.IngressLists, want) {
		t.Errorf("ingress lists = %v, want %v", cfg.Conserver.IngressLists, want)
	}
}

func TestLoad_BadSampleRatio(t *testing.T) {
	baseEnv(t)
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "OTEL_TRACES_SAMPLER_ARG") {
		t.Fatalf("err = %v, want sampler arg error", err)
	}
}

func TestGetbool(t *testing.T) {
	cases := []struct {
		val  string
		def  bool
		want bool
	}{
		{"1", false, true},
		{"true", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"0", true, false},
		{"false", true, false},
		{"off", true, false},
		{"", true, true},
		{"", false, false},
		{"maybe", false, false},
		{"maybe", true, true},
	}
	for _, tc := range cases {
		t.Setenv("TEST_BOOL", tc.val)
		if got := getbool("TEST_BOOL", tc.def); got != tc.want {
			t.Errorf("getbool(%q, %v) = %v, want %v", tc.val, tc.def, got, tc.want)
		}
	}
}

func TestGetintIgnoresGarbage(t *testing.T) {
	t.Setenv("TEST_INT", "not-a-number")
	if got := getint("TEST_INT", 7); got != 7 {
		t.Errorf("getint = %d, want default 7", got)
	}
}

func TestGetdur(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	if got := getdur("TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("getdur = %v", got)
	}
	t.Setenv("TEST_DUR", "soon")
	if got := getdur("TEST_DUR", time.Second); got != time.Second {
		t.Errorf("getdur fallback = %v", got)
	}
}

func TestMustLoadPanicsOnInvalid(t *testing.T) {
	baseEnv(t)
	t.Setenv("CONSERVER_URL", "")

	defer func() {
		if recover() == nil {
			t.Fatal("MustLoad did not panic")
		}
	}()
	MustLoad()
}
