package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

const minimalYAML = `
portal:
  base_url: https://portal.example.ac.jp/
snapshot:
  path: /tmp/snapshot.json
notify:
  channels:
    M1: https://hooks.example/m1
`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Portal.LoginPath != "default.asp" {
		t.Errorf("LoginPath = %q", cfg.Portal.LoginPath)
	}

	if len(cfg.Portal.Tables) != 4 || cfg.Portal.Tables[0] != "#T1" {
		t.Errorf("Tables = %v", cfg.Portal.Tables)
	}

	if cfg.Portal.HeaderRows != 4 {
		t.Errorf("HeaderRows = %d", cfg.Portal.HeaderRows)
	}

	if cfg.Poll.IntervalMin != 15 {
		t.Errorf("IntervalMin = %d", cfg.Poll.IntervalMin)
	}

	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.InitialDelayMs != 500 {
		t.Errorf("Retry = %+v", cfg.Retry)
	}

	if cfg.Ingest.VolumeThreshold != 20 || cfg.Ingest.MaxConcurrent != 5 {
		t.Errorf("Ingest = %+v", cfg.Ingest)
	}

	if cfg.Notify.GradePattern != "^M[1-6]$" {
		t.Errorf("GradePattern = %q", cfg.Notify.GradePattern)
	}

	if len(cfg.Notify.WildcardTags) != 2 {
		t.Errorf("WildcardTags = %v", cfg.Notify.WildcardTags)
	}

	if cfg.Notifier.ListenAddr != ":3000" {
		t.Errorf("ListenAddr = %q", cfg.Notifier.ListenAddr)
	}

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "portal: [unclosed")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Portal: PortalConfig{
				BaseURL: "https://portal.example.ac.jp/",
				Tables:  []string{"#T1"},
			},
			Poll:     PollConfig{IntervalMin: 15},
			Retry:    RetryPolicy{MaxAttempts: 3, InitialDelayMs: 500, MaxDelayMs: 30000, BackoffMultiplier: 2.0, TimeoutSec: 30},
			Snapshot: SnapshotConfig{Path: "/tmp/snapshot.json"},
			Ingest:   IngestConfig{VolumeThreshold: 20, MaxConcurrent: 5},
			Notify:   NotifyConfig{GradePattern: "^M[1-6]$", Channels: map[string]string{"M1": "https://hooks.example/m1"}},
			Logging:  LoggingConfig{Level: "info", Format: "text"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"missing base url", func(c *Config) { c.Portal.BaseURL = "" }, ErrMissingBaseURL},
		{"relative base url", func(c *Config) { c.Portal.BaseURL = "portal/board" }, ErrInvalidBaseURL},
		{"no tables", func(c *Config) { c.Portal.Tables = nil }, ErrNoTables},
		{"zero interval", func(c *Config) { c.Poll.IntervalMin = 0 }, ErrInvalidInterval},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, ErrInvalidMaxAttempts},
		{"negative delay", func(c *Config) { c.Retry.InitialDelayMs = -1 }, ErrInvalidInitialDelay},
		{"sub-1 multiplier", func(c *Config) { c.Retry.BackoffMultiplier = 0.5 }, ErrInvalidBackoffMultiplier},
		{"zero timeout", func(c *Config) { c.Retry.TimeoutSec = 0 }, ErrInvalidTimeout},
		{"missing snapshot path", func(c *Config) { c.Snapshot.Path = "" }, ErrMissingSnapshotPath},
		{"zero threshold", func(c *Config) { c.Ingest.VolumeThreshold = 0 }, ErrInvalidVolumeThreshold},
		{"zero concurrency", func(c *Config) { c.Ingest.MaxConcurrent = 0 }, ErrInvalidMaxConcurrent},
		{"bad grade pattern", func(c *Config) { c.Notify.GradePattern = "[" }, ErrInvalidGradePattern},
		{"no notify targets", func(c *Config) { c.Notify.Channels = nil }, ErrNoNotifyTargets},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, ErrInvalidLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}

				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_AggregatorOnlyIsEnough(t *testing.T) {
	cfg := Config{
		Portal:   PortalConfig{BaseURL: "https://portal.example.ac.jp/", Tables: []string{"#T1"}},
		Poll:     PollConfig{IntervalMin: 15},
		Retry:    RetryPolicy{MaxAttempts: 3, BackoffMultiplier: 2.0, TimeoutSec: 30},
		Snapshot: SnapshotConfig{Path: "/tmp/snapshot.json"},
		Ingest:   IngestConfig{VolumeThreshold: 20, MaxConcurrent: 5},
		Notify:   NotifyConfig{GradePattern: "^M[1-6]$", AggregatorURL: "http://notifier:3000/notify"},
		Logging:  LoggingConfig{Level: "info"},
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("LOGIN_ID", "user@example.ac.jp")
	t.Setenv("LOGIN_PASSWORD", "secret")
	t.Setenv("UPLOAD_TOKEN", "tok")

	creds, err := CredentialsFromEnv()
	if err != nil {
		t.Fatalf("CredentialsFromEnv: %v", err)
	}

	if creds.LoginID != "user@example.ac.jp" || creds.LoginPassword != "secret" || creds.UploadToken != "tok" {
		t.Errorf("creds = %+v", creds)
	}
}

func TestCredentialsFromEnv_Missing(t *testing.T) {
	t.Setenv("LOGIN_ID", "user@example.ac.jp")
	t.Setenv("LOGIN_PASSWORD", "")

	if _, err := CredentialsFromEnv(); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestGetRetryDelay(t *testing.T) {
	rp := RetryPolicy{InitialDelayMs: 500, MaxDelayMs: 30000, BackoffMultiplier: 2.0}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 500 * time.Millisecond},
		{3, 1000 * time.Millisecond},
		{4, 2000 * time.Millisecond},
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := rp.GetRetryDelay(tt.attempt); got != tt.want {
			t.Errorf("GetRetryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestInterval(t *testing.T) {
	cfg := Config{Poll: PollConfig{IntervalMin: 15}}
	if got := cfg.Interval(); got != 15*time.Minute {
		t.Errorf("Interval = %v", got)
	}
}

func TestLocation_FallsBackToUTC(t *testing.T) {
	cfg := Config{Portal: PortalConfig{Timezone: "Not/AZone"}}
	if got := cfg.Location(); got != time.UTC {
		t.Errorf("Location = %v, want UTC", got)
	}
}
