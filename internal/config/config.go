package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the bot and its HTTP surface.
type Config struct {
	TelegramToken   string        `yaml:"telegram_token"`
	DatabaseURL     string        `yaml:"database_url"`
	APIBaseURL      string        `yaml:"api_base_url"`
	APITimeout      time.Duration `yaml:"api_timeout"`
	APIRatePerSec   float64       `yaml:"api_rate_per_sec"`
	Timezone        string        `yaml:"timezone"`
	ReminderTime    string        `yaml:"reminder_time"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	HTTPAddr        string        `yaml:"http_addr"`
	GeminiAPIKey    string        `yaml:"gemini_api_key"`
	GeminiModel     string        `yaml:"gemini_model"`
	Log             LogConfig     `yaml:"log"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	Development bool   `yaml:"development"`
}

// Location resolves the configured timezone. Fermentation days start at midnight in
// this location.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads the optional YAML file named by HERBIT_CONFIG, applies environment
// variables on top and fills defaults.
func Load() (Config, error) {
	var cfg Config
	if path := strings.TrimSpace(os.Getenv("HERBIT_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if _, err := cfg.Location(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.TelegramToken, "TELEGRAM_TOKEN")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.APIBaseURL, "HERBIT_API_URL")
	setString(&cfg.Timezone, "HERBIT_TIMEZONE")
	setString(&cfg.ReminderTime, "REMINDER_TIME")
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.GeminiModel, "GEMINI_MODEL")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.File, "LOG_FILE")

	if d := parseDuration(os.Getenv("HERBIT_API_TIMEOUT")); d > 0 {
		cfg.APITimeout = d
	}
	if minutes := parsePositiveInt(os.Getenv("REFRESH_INTERVAL_MINUTES")); minutes > 0 {
		cfg.RefreshInterval = time.Duration(minutes) * time.Minute
	}
	if rps, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv("HERBIT_API_RPS")), 64); err == nil && rps > 0 {
		cfg.APIRatePerSec = rps
	}
	if dev, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("LOG_DEV"))); err == nil {
		cfg.Log.Development = dev
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "herbit.db"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:5000/api/ecoenzim"
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = 10 * time.Second
	}
	if cfg.APIRatePerSec <= 0 {
		cfg.APIRatePerSec = 5
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Jakarta"
	}
	if cfg.ReminderTime == "" {
		cfg.ReminderTime = "19:00"
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Minute
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.5-flash"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func parseDuration(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

func parsePositiveInt(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
