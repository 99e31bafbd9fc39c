// Package config provides configuration management for the portal worker.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrMissingBaseURL           = errors.New("portal.base_url is required")
	ErrInvalidBaseURL           = errors.New("portal.base_url must be a valid absolute URL")
	ErrNoTables                 = errors.New("portal.tables must list at least one table selector")
	ErrInvalidInterval          = errors.New("poll.interval_min must be at least 1")
	ErrInvalidMaxAttempts       = errors.New("retry.max_attempts must be at least 1")
	ErrInvalidInitialDelay      = errors.New("retry.initial_delay_ms must be non-negative")
	ErrInvalidBackoffMultiplier = errors.New("retry.backoff_multiplier must be >= 1.0")
	ErrInvalidTimeout           = errors.New("retry.timeout_sec must be at least 1")
	ErrMissingSnapshotPath      = errors.New("snapshot.path is required")
	ErrInvalidVolumeThreshold   = errors.New("ingest.volume_threshold must be at least 1")
	ErrInvalidMaxConcurrent     = errors.New("ingest.max_concurrent must be at least 1")
	ErrInvalidGradePattern      = errors.New("notify.grade_pattern is not a valid regex")
	ErrNoNotifyTargets          = errors.New("notify.channels or notify.aggregator_url is required")
	ErrInvalidLogLevel          = errors.New("logging.level must be one of: debug, info, warn, error")

	// ErrMissingCredentials is returned when the portal login secrets are
	// absent from the environment. This is a cycle-fatal condition.
	ErrMissingCredentials = errors.New("env LOGIN_ID or LOGIN_PASSWORD is not set")
)

// Config represents the complete worker configuration.
type Config struct {
	Portal    PortalConfig   `yaml:"portal"`
	Poll      PollConfig     `yaml:"poll"`
	Retry     RetryPolicy    `yaml:"retry"`
	Snapshot  SnapshotConfig `yaml:"snapshot"`
	Ingest    IngestConfig   `yaml:"ingest"`
	Upload    UploadConfig   `yaml:"upload"`
	Notify    NotifyConfig   `yaml:"notify"`
	Notifier  NotifierConfig `yaml:"notifier"`
	ErrorSink ErrorSinkCfg   `yaml:"error_sink"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// NotifierConfig configures the standalone notifier service.
type NotifierConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	ErrorWebhookURL string `yaml:"error_webhook_url"`
	SourceName      string `yaml:"source_name"`
}

// PortalConfig describes the bulletin-board source.
type PortalConfig struct {
	BaseURL    string   `yaml:"base_url"`
	LoginPath  string   `yaml:"login_path"`
	Tables     []string `yaml:"tables"`
	HeaderRows int      `yaml:"header_rows"`
	Timezone   string   `yaml:"timezone"`
}

// PollConfig defines the scheduling interval.
type PollConfig struct {
	IntervalMin int `yaml:"interval_min"`
}

// RetryPolicy defines retry behavior for network operations.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	TimeoutSec        int     `yaml:"timeout_sec"`
}

// SnapshotConfig locates the single-slot snapshot file.
type SnapshotConfig struct {
	Path string `yaml:"path"`
}

// IngestConfig controls attachment ingestion.
type IngestConfig struct {
	VolumeThreshold int `yaml:"volume_threshold"`
	MaxConcurrent   int `yaml:"max_concurrent"`
}

// UploadConfig locates the durable-storage uploader endpoint.
type UploadConfig struct {
	URL string `yaml:"url"`
}

// NotifyConfig controls audience expansion and dispatch.
//
// When AggregatorURL is set the worker emits a single {new, updated} call
// and leaves per-channel expansion to the notifier service; otherwise it
// fans out to Channels directly.
type NotifyConfig struct {
	AggregatorURL string            `yaml:"aggregator_url"`
	GradePattern  string            `yaml:"grade_pattern"`
	WildcardTags  []string          `yaml:"wildcard_tags"`
	Channels      map[string]string `yaml:"channels"`
}

// ErrorSinkCfg locates the structured error sink.
type ErrorSinkCfg struct {
	URL string `yaml:"url"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Credentials holds env-sourced secrets, never part of the YAML file.
type Credentials struct {
	LoginID       string
	LoginPassword string
	UploadToken   string
}

// CredentialsFromEnv reads secrets from the environment.
func CredentialsFromEnv() (Credentials, error) {
	creds := Credentials{
		LoginID:       os.Getenv("LOGIN_ID"),
		LoginPassword: os.Getenv("LOGIN_PASSWORD"),
		UploadToken:   os.Getenv("UPLOAD_TOKEN"),
	}

	if creds.LoginID == "" || creds.LoginPassword == "" {
		return Credentials{}, ErrMissingCredentials
	}

	return creds, nil
}

// Load loads configuration from a YAML file, applies defaults, and
// validates it.
func Load(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Portal.LoginPath == "" {
		c.Portal.LoginPath = "default.asp"
	}

	if len(c.Portal.Tables) == 0 {
		c.Portal.Tables = []string{"#T1", "#T2", "#T3", "#T4"}
	}

	if c.Portal.HeaderRows == 0 {
		c.Portal.HeaderRows = 4
	}

	if c.Portal.Timezone == "" {
		c.Portal.Timezone = "Asia/Tokyo"
	}

	if c.Poll.IntervalMin == 0 {
		c.Poll.IntervalMin = 15
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry = RetryPolicy{
			MaxAttempts:       3,
			InitialDelayMs:    500,
			MaxDelayMs:        30000,
			BackoffMultiplier: 2.0,
			TimeoutSec:        30,
		}
	}

	if c.Ingest.VolumeThreshold == 0 {
		c.Ingest.VolumeThreshold = 20
	}

	if c.Ingest.MaxConcurrent == 0 {
		c.Ingest.MaxConcurrent = 5
	}

	if c.Notify.GradePattern == "" {
		c.Notify.GradePattern = "^M[1-6]$"
	}

	if len(c.Notify.WildcardTags) == 0 {
		c.Notify.WildcardTags = []string{"全医学部生", "全学"}
	}

	if c.Notifier.ListenAddr == "" {
		c.Notifier.ListenAddr = ":3000"
	}

	if c.Notifier.SourceName == "" {
		c.Notifier.SourceName = "portalwatch"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Portal.BaseURL == "" {
		return ErrMissingBaseURL
	}

	if u, err := url.Parse(c.Portal.BaseURL); err != nil || !u.IsAbs() {
		return ErrInvalidBaseURL
	}

	if len(c.Portal.Tables) == 0 {
		return ErrNoTables
	}

	if c.Poll.IntervalMin < 1 {
		return ErrInvalidInterval
	}

	if c.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if c.Retry.InitialDelayMs < 0 {
		return ErrInvalidInitialDelay
	}

	if c.Retry.BackoffMultiplier < 1.0 {
		return ErrInvalidBackoffMultiplier
	}

	if c.Retry.TimeoutSec < 1 {
		return ErrInvalidTimeout
	}

	if c.Snapshot.Path == "" {
		return ErrMissingSnapshotPath
	}

	if c.Ingest.VolumeThreshold < 1 {
		return ErrInvalidVolumeThreshold
	}

	if c.Ingest.MaxConcurrent < 1 {
		return ErrInvalidMaxConcurrent
	}

	if _, err := regexp.Compile(c.Notify.GradePattern); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGradePattern, err)
	}

	if len(c.Notify.Channels) == 0 && c.Notify.AggregatorURL == "" {
		return ErrNoNotifyTargets
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	return nil
}

// Interval returns the polling interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Poll.IntervalMin) * time.Minute
}

// Location resolves the portal timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Portal.Timezone)
	if err != nil {
		return time.UTC
	}

	return loc
}

// GetRetryDelay calculates exponential backoff delay for attempt number.
func (rp *RetryPolicy) GetRetryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delayMs := float64(rp.InitialDelayMs)
	for i := 2; i < attempt; i++ {
		delayMs *= rp.BackoffMultiplier
	}

	if int(delayMs) > rp.MaxDelayMs {
		delayMs = float64(rp.MaxDelayMs)
	}

	return time.Duration(int(delayMs)) * time.Millisecond
}

// GetTimeout returns the per-request timeout.
func (rp *RetryPolicy) GetTimeout() time.Duration {
	return time.Duration(rp.TimeoutSec) * time.Second
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Portal: %s, Tables: %d, Interval: %dm, Channels: %d}",
		c.Portal.BaseURL,
		len(c.Portal.Tables),
		c.Poll.IntervalMin,
		len(c.Notify.Channels),
	)
}
