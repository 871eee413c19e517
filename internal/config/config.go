package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the vidaudio server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Source    SourceConfig    `yaml:"source"`
	Media     MediaConfig     `yaml:"media"`
	Remote    RemoteConfig    `yaml:"remote"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Jobs      JobsConfig      `yaml:"jobs"`
}

type ServerConfig struct {
	Port          int    `yaml:"port"`
	Env           string `yaml:"env"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type SourceConfig struct {
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	TempDir        string        `yaml:"temp_dir"`
	MaxRedirects   int           `yaml:"max_redirects"`
	AllowedDomains []string      `yaml:"allowed_domains"`
	Extensions     []string      `yaml:"extensions"`
}

type MediaConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

type RemoteConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	Mode           string        `yaml:"mode"`
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	SubmitTimeout  time.Duration `yaml:"submit_timeout"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
}

// Strict reports whether delegation failures must surface instead of falling back.
func (c RemoteConfig) Strict() bool {
	return c.Mode == ModeStrict
}

// Configured reports whether a remote worker can be used.
func (c RemoteConfig) Configured() bool {
	return c.Enabled && c.URL != ""
}

type WebhookConfig struct {
	Secret           string `yaml:"secret"`
	RequireSignature bool   `yaml:"require_signature"`
	CallbackURL      string `yaml:"callback_url"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

type JobsConfig struct {
	MaxAge        time.Duration `yaml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Timeout       time.Duration `yaml:"timeout"`
}

const (
	ModeFallback = "fallback"
	ModeStrict   = "strict"

	StorageFS       = "fs"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// WebhookPath is where remote workers deliver callbacks.
const WebhookPath = "/api/v1/webhook/processing-complete"

var validStorage = map[string]bool{
	StorageFS:       true,
	StorageSQLite:   true,
	StoragePostgres: true,
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8080,
			Env:           "development",
			PublicBaseURL: "http://localhost:8080",
		},
		Source: SourceConfig{
			FetchTimeout: 5 * time.Minute,
			TempDir:      os.TempDir(),
			MaxRedirects: 5,
			AllowedDomains: []string{
				"drive.google.com", "docs.google.com", "youtube.com", "youtu.be",
				"vimeo.com", "dropbox.com", "onedrive.live.com",
			},
			Extensions: []string{".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm", ".mkv", ".m4v"},
		},
		Media: MediaConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Remote: RemoteConfig{
			Mode:           ModeFallback,
			MaxAttempts:    2,
			AttemptTimeout: 30 * time.Second,
			SubmitTimeout:  45 * time.Second,
			BackoffBase:    time.Second,
		},
		Storage: StorageConfig{
			Backend:    StorageFS,
			Dir:        "./data/artifacts",
			SQLitePath: "./data/artifacts.db",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 30},
		Jobs: JobsConfig{
			MaxAge:        24 * time.Hour,
			SweepInterval: time.Hour,
			Timeout:       30 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// VIDAUDIO_CONFIG_FILE, and environment variables, in that order of precedence.
// Returns an error with a descriptive message if any value is invalid.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("VIDAUDIO_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = envInt("VIDAUDIO_PORT", c.Server.Port)
	c.Server.Env = envString("VIDAUDIO_ENV", c.Server.Env)
	c.Server.PublicBaseURL = strings.TrimRight(envString("PUBLIC_BASE_URL", c.Server.PublicBaseURL), "/")

	c.Source.FetchTimeout = envDuration("FETCH_TIMEOUT", c.Source.FetchTimeout)
	c.Source.TempDir = envString("TEMP_DIR", c.Source.TempDir)
	c.Source.MaxRedirects = envInt("FETCH_MAX_REDIRECTS", c.Source.MaxRedirects)
	c.Source.AllowedDomains = envList("SOURCE_ALLOWED_DOMAINS", c.Source.AllowedDomains)
	c.Source.Extensions = envList("SOURCE_EXTENSIONS", c.Source.Extensions)

	c.Media.FFmpegPath = envString("FFMPEG_PATH", c.Media.FFmpegPath)
	c.Media.FFprobePath = envString("FFPROBE_PATH", c.Media.FFprobePath)

	c.Remote.URL = strings.TrimRight(envString("REMOTE_URL", c.Remote.URL), "/")
	c.Remote.Enabled = envBool("REMOTE_ENABLED", c.Remote.Enabled || c.Remote.URL != "")
	c.Remote.Token = envString("REMOTE_TOKEN", c.Remote.Token)
	c.Remote.Mode = strings.ToLower(envString("DELEGATION_MODE", c.Remote.Mode))
	c.Remote.MaxAttempts = envInt("REMOTE_MAX_ATTEMPTS", c.Remote.MaxAttempts)
	c.Remote.AttemptTimeout = envDuration("REMOTE_ATTEMPT_TIMEOUT", c.Remote.AttemptTimeout)
	c.Remote.SubmitTimeout = envDuration("REMOTE_SUBMIT_TIMEOUT", c.Remote.SubmitTimeout)
	c.Remote.BackoffBase = envDuration("REMOTE_BACKOFF_BASE", c.Remote.BackoffBase)

	c.Webhook.Secret = envString("WEBHOOK_SECRET", c.Webhook.Secret)
	c.Webhook.RequireSignature = envBool("WEBHOOK_REQUIRE_SIGNATURE", c.Webhook.RequireSignature)
	c.Webhook.CallbackURL = envString("WEBHOOK_CALLBACK_URL", c.Webhook.CallbackURL)
	if c.Webhook.CallbackURL == "" {
		c.Webhook.CallbackURL = c.Server.PublicBaseURL + WebhookPath
	}

	c.Storage.Backend = strings.ToLower(envString("STORAGE_BACKEND", c.Storage.Backend))
	c.Storage.Dir = envString("STORAGE_DIR", c.Storage.Dir)
	c.Storage.SQLitePath = envString("SQLITE_PATH", c.Storage.SQLitePath)

	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = envDuration("DATABASE_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)

	c.Redis.URL = envString("REDIS_URL", c.Redis.URL)
	c.RateLimit.RequestsPerMinute = envInt("RATE_LIMIT_PER_MINUTE", c.RateLimit.RequestsPerMinute)

	c.Jobs.MaxAge = envDuration("JOB_MAX_AGE", c.Jobs.MaxAge)
	c.Jobs.SweepInterval = envDuration("JOB_SWEEP_INTERVAL", c.Jobs.SweepInterval)
	c.Jobs.Timeout = envDuration("JOB_TIMEOUT", c.Jobs.Timeout)
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("VIDAUDIO_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !isHTTPURL(c.Server.PublicBaseURL) {
		return fmt.Errorf("PUBLIC_BASE_URL must start with http:// or https://, got %q", c.Server.PublicBaseURL)
	}

	if c.Remote.Mode != ModeFallback && c.Remote.Mode != ModeStrict {
		return fmt.Errorf("DELEGATION_MODE must be one of fallback, strict; got %q", c.Remote.Mode)
	}
	if c.Remote.Enabled {
		if c.Remote.URL == "" {
			return fmt.Errorf("REMOTE_URL is required when REMOTE_ENABLED is true")
		}
		if !isHTTPURL(c.Remote.URL) {
			return fmt.Errorf("REMOTE_URL must start with http:// or https://, got %q", c.Remote.URL)
		}
		if c.Remote.Token == "" {
			return fmt.Errorf("REMOTE_TOKEN is required when REMOTE_ENABLED is true")
		}
	}
	if c.Remote.MaxAttempts < 1 {
		return fmt.Errorf("REMOTE_MAX_ATTEMPTS must be at least 1, got %d", c.Remote.MaxAttempts)
	}

	if c.Webhook.RequireSignature && c.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_REQUIRE_SIGNATURE is true")
	}
	if c.Remote.Enabled && c.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when REMOTE_ENABLED is true")
	}

	if !validStorage[c.Storage.Backend] {
		return fmt.Errorf("STORAGE_BACKEND must be one of fs, sqlite, postgres; got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == StoragePostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND is postgres")
	}
	if c.Storage.Backend == StorageFS && c.Storage.Dir == "" {
		return fmt.Errorf("STORAGE_DIR is required when STORAGE_BACKEND is fs")
	}
	if c.Storage.Backend == StorageSQLite && c.Storage.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when STORAGE_BACKEND is sqlite")
	}

	if c.Source.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envList reads a comma-separated list.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
