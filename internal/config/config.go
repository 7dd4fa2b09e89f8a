// Package config loads server settings: data/settings.json under the store
// root, overridden by RECALLBOX_* environment variables. Every field is
// optional; defaults make a bare startup work.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Version is the server version reported over MCP and /api/status.
const Version = "1.0.0"

// ServerName is the MCP server name in the initialize handshake.
const ServerName = "recallbox"

// Config holds all server configuration.
type Config struct {
	Store  StoreConfig
	HTTP   HTTPConfig
	AI     AIConfig
	Backup BackupConfig
	Log    LogConfig
}

// StoreConfig locates the record store.
type StoreConfig struct {
	Root           string `json:"storage_root"`
	DefaultProject string `json:"default_project"`
}

// HTTPConfig configures the dashboard surface.
type HTTPConfig struct {
	Enabled     bool     `json:"http_enabled"`
	Port        int      `json:"http_port"`
	CORSOrigins []string `json:"cors_origins"`
}

// AIConfig points at the optional local inference endpoint.
type AIConfig struct {
	Endpoint    string `json:"ai_endpoint"`
	Model       string `json:"ai_model"`
	Concurrency int    `json:"ai_concurrency"`
}

// BackupConfig tunes the rolling snapshots.
type BackupConfig struct {
	IntervalHours int `json:"backup_interval_hours"`
	Keep          int `json:"backup_keep"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `json:"log_level"` // debug, info, warn, error
}

// settingsFile is the flat JSON shape of data/settings.json: every tunable
// in one object, all optional.
type settingsFile struct {
	DefaultProject string   `json:"default_project"`
	HTTPPort       int      `json:"http_port"`
	CORSOrigins    []string `json:"cors_origins"`
	AIEndpoint     string   `json:"ai_endpoint"`
	AIModel        string   `json:"ai_model"`
	AIConcurrency  int      `json:"ai_concurrency"`
	BackupHours    int      `json:"backup_interval_hours"`
	BackupKeep     int      `json:"backup_keep"`
	LogLevel       string   `json:"log_level"`
}

// Load builds the configuration. Precedence: environment > settings file >
// defaults. The settings file lives at <root>/data/settings.json, where the
// root itself comes from RECALLBOX_ROOT or the default.
func Load() (*Config, error) {
	cfg := defaults()

	// The root must be known before the settings file can be found, so it is
	// env-or-default only.
	if v := os.Getenv("RECALLBOX_ROOT"); v != "" {
		cfg.Store.Root = v
	}

	if err := applySettingsFile(cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		return nil, fmt.Errorf("http port out of range: %d", cfg.HTTP.Port)
	}
	return cfg, nil
}

func defaults() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Store: StoreConfig{
			Root:           filepath.Join(home, ".recallbox"),
			DefaultProject: "default",
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Port:    8020,
		},
		AI: AIConfig{
			Endpoint:    "", // unset means no inference endpoint
			Model:       "llama3.2",
			Concurrency: 4,
		},
		Backup: BackupConfig{
			IntervalHours: 6,
			Keep:          10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applySettingsFile(cfg *Config) error {
	path := filepath.Join(cfg.Store.Root, "data", "settings.json")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading settings file: %w", err)
	}

	var sf settingsFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if sf.DefaultProject != "" {
		cfg.Store.DefaultProject = sf.DefaultProject
	}
	if sf.HTTPPort != 0 {
		cfg.HTTP.Port = sf.HTTPPort
	}
	if sf.CORSOrigins != nil {
		cfg.HTTP.CORSOrigins = sf.CORSOrigins
	}
	if sf.AIEndpoint != "" {
		cfg.AI.Endpoint = sf.AIEndpoint
	}
	if sf.AIModel != "" {
		cfg.AI.Model = sf.AIModel
	}
	if sf.AIConcurrency > 0 {
		cfg.AI.Concurrency = sf.AIConcurrency
	}
	if sf.BackupHours > 0 {
		cfg.Backup.IntervalHours = sf.BackupHours
	}
	if sf.BackupKeep > 0 {
		cfg.Backup.Keep = sf.BackupKeep
	}
	if sf.LogLevel != "" {
		cfg.Log.Level = sf.LogLevel
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RECALLBOX_DEFAULT_PROJECT"); v != "" {
		cfg.Store.DefaultProject = v
	}
	if v := os.Getenv("RECALLBOX_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = port
		}
	}
	if v := os.Getenv("RECALLBOX_HTTP_ENABLED"); v != "" {
		cfg.HTTP.Enabled = v != "false" && v != "0"
	}
	if v := os.Getenv("RECALLBOX_AI_ENDPOINT"); v != "" {
		cfg.AI.Endpoint = v
	}
	if v := os.Getenv("RECALLBOX_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("RECALLBOX_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
