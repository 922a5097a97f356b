// Package config loads and watches the application configuration. Values come
// from built-in defaults, an optional .env file in the data directory, and
// environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// TextFields selects which fields the plain-text export emits, mirroring the
// overlay-friendly single-line format.
type TextFields struct {
	APM         bool `json:"apm"`
	AverageAPM  bool `json:"avg_apm"`
	APS         bool `json:"actions_per_second"`
	Total       bool `json:"total_actions"`
	SessionTime bool `json:"session_time"`
	Timestamp   bool `json:"timestamp"`
}

// DefaultTextFields matches the original tool's default overlay line.
func DefaultTextFields() TextFields {
	return TextFields{APM: true, Total: true, SessionTime: true}
}

// Config holds all runtime settings.
type Config struct {
	DataDir          string        // session history, export artifacts, .env
	Window           time.Duration // ledger retention window
	PollInterval     time.Duration // statistics refresh cadence
	ListenAddr       string        // local HTTP listener (live view, /metrics)
	LogLevel         string
	LogFormat        string
	ExportFormats    []string // text, json, pdf
	ExportQueueSize  int
	TextFields       TextFields
	AutoExportEvery  time.Duration // 0 disables periodic export
	HistoryRetention time.Duration
}

// Load builds the configuration from defaults, the data-dir .env file, and
// environment overrides.
func Load() (*Config, error) {
	dataDir := defaultDataDir()
	if dir := os.Getenv("APM_DATA_DIR"); dir != "" {
		dataDir = dir
	}

	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		}
	}
	// Also try the current directory for development.
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:          dataDir,
		Window:           60 * time.Second,
		PollInterval:     100 * time.Millisecond,
		ListenAddr:       "127.0.0.1:7312",
		LogLevel:         "info",
		LogFormat:        "auto",
		ExportFormats:    []string{"text", "json"},
		ExportQueueSize:  64,
		TextFields:       DefaultTextFields(),
		AutoExportEvery:  time.Second,
		HistoryRetention: 90 * 24 * time.Hour,
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return cfg, nil
}

// EnvFile returns the path of the watched .env file.
func (c *Config) EnvFile() string {
	return filepath.Join(c.DataDir, ".env")
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("APM_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("APM_WINDOW"); v != "" {
		d, err := parseSecondsOrDuration(v)
		if err != nil {
			return fmt.Errorf("invalid APM_WINDOW: %w", err)
		}
		c.Window = d
	}
	if v := os.Getenv("APM_POLL_INTERVAL"); v != "" {
		d, err := parseSecondsOrDuration(v)
		if err != nil {
			return fmt.Errorf("invalid APM_POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
	}
	if v := os.Getenv("APM_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("APM_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("APM_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("APM_EXPORT_FORMATS"); v != "" {
		c.ExportFormats = splitList(v)
	}
	if v := os.Getenv("APM_EXPORT_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid APM_EXPORT_QUEUE_SIZE: %q", v)
		}
		c.ExportQueueSize = n
	}
	if v := os.Getenv("APM_TEXT_FIELDS"); v != "" {
		fields, err := parseTextFields(v)
		if err != nil {
			return err
		}
		c.TextFields = fields
	}
	if v := os.Getenv("APM_AUTO_EXPORT"); v != "" {
		if strings.EqualFold(v, "off") || v == "0" || strings.EqualFold(v, "false") {
			c.AutoExportEvery = 0
		} else {
			d, err := parseSecondsOrDuration(v)
			if err != nil {
				return fmt.Errorf("invalid APM_AUTO_EXPORT: %w", err)
			}
			c.AutoExportEvery = d
		}
	}
	if v := os.Getenv("APM_HISTORY_RETENTION"); v != "" {
		d, err := parseSecondsOrDuration(v)
		if err != nil {
			return fmt.Errorf("invalid APM_HISTORY_RETENTION: %w", err)
		}
		c.HistoryRetention = d
	}

	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %v", c.Window)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	return nil
}

// parseSecondsOrDuration accepts either a bare number of seconds ("60") or a
// Go duration string ("100ms", "1m30s").
func parseSecondsOrDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(strings.ToLower(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseTextFields(v string) (TextFields, error) {
	var fields TextFields
	for _, name := range splitList(v) {
		switch name {
		case "apm":
			fields.APM = true
		case "avg", "avg_apm", "average_apm":
			fields.AverageAPM = true
		case "aps", "actions_per_second":
			fields.APS = true
		case "total", "total_actions":
			fields.Total = true
		case "session_time", "time":
			fields.SessionTime = true
		case "timestamp", "ts":
			fields.Timestamp = true
		default:
			return fields, fmt.Errorf("unknown text field %q", name)
		}
	}
	return fields, nil
}

func defaultDataDir() string {
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, "apmlive")
	}
	return filepath.Join(".", "apmlive-data")
}
