// Package config holds the gateway configuration: a json5 file overlaid
// with INLET_* environment variables. Env vars take precedence over file
// values; secrets are expected from env, not from disk.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Config is the full gateway configuration.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Buffer   BufferConfig   `json:"buffer"`
	Media    MediaConfig    `json:"media"`
	Collect  CollectConfig  `json:"collect"`
	Agent    AgentConfig    `json:"agent"`
	STT      STTConfig      `json:"stt"`
	Store    StoreConfig    `json:"store"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	BotUsername string `json:"bot_username"`
	APIProxy    string `json:"api_proxy,omitempty"` // alternate Bot API server
}

type BufferConfig struct {
	DebounceMs    int `json:"debounce_ms"`
	AbsoluteCapMs int `json:"absolute_cap_ms"`
	MaxCapacity   int `json:"max_capacity"`
}

// Debounce returns the sliding-window duration.
func (b BufferConfig) Debounce() time.Duration { return time.Duration(b.DebounceMs) * time.Millisecond }

// AbsoluteCap returns the hard flush bound measured from buffer creation.
func (b BufferConfig) AbsoluteCap() time.Duration {
	return time.Duration(b.AbsoluteCapMs) * time.Millisecond
}

type MediaConfig struct {
	MaxBytes    int64    `json:"max_bytes"`
	AllowedExt  []string `json:"allowed_extensions"`
	MIMEPrefix  []string `json:"allowed_mime_prefixes"`
	MaxImageDim int      `json:"max_image_dim"`
}

type CollectConfig struct {
	Trigger string `json:"trigger"`
}

type AgentConfig struct {
	// Conversations that start in agent mode.
	Conversations []string `json:"conversations"`
	// Downstream endpoint that processed messages are forwarded to.
	// Empty means log-only.
	ForwardURL string `json:"forward_url,omitempty"`
}

type STTConfig struct {
	ProxyURL   string `json:"proxy_url,omitempty"`
	TimeoutSec int    `json:"timeout_sec"`
}

type StoreConfig struct {
	Path string `json:"path"` // sqlite archive, empty disables archiving
}

type MetricsConfig struct {
	Listen string `json:"listen"` // e.g. "127.0.0.1:9091", empty disables
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Buffer: BufferConfig{
			DebounceMs:    1000,
			AbsoluteCapMs: 10000,
			MaxCapacity:   32,
		},
		Media: MediaConfig{
			MaxBytes: 20 << 20,
			AllowedExt: []string{
				".jpg", ".jpeg", ".png", ".gif", ".webp",
				".ogg", ".oga", ".mp3", ".m4a", ".wav",
				".mp4", ".mov", ".webm",
				".pdf", ".txt", ".md", ".csv", ".json", ".zip",
			},
			MIMEPrefix: []string{
				"image/", "audio/", "video/",
				"application/pdf", "application/zip",
				"text/", "application/json",
			},
			MaxImageDim: 2048,
		},
		Collect: CollectConfig{Trigger: "go"},
		STT:     STTConfig{TimeoutSec: 60},
		Store:   StoreConfig{Path: "~/.inlet/archive.db"},
		Metrics: MetricsConfig{Listen: "127.0.0.1:9091"},
	}
}

// Load reads config from a json5 file, then overlays env vars. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("INLET_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("INLET_TELEGRAM_BOT_USERNAME", &c.Telegram.BotUsername)
	envStr("INLET_TELEGRAM_API_PROXY", &c.Telegram.APIProxy)

	envInt("INLET_DEBOUNCE_MS", &c.Buffer.DebounceMs)
	envInt("INLET_ABSOLUTE_CAP_MS", &c.Buffer.AbsoluteCapMs)
	envInt("INLET_MAX_CAPACITY", &c.Buffer.MaxCapacity)

	if v := os.Getenv("INLET_MEDIA_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Media.MaxBytes = n
		}
	}

	envStr("INLET_COLLECT_TRIGGER", &c.Collect.Trigger)
	envStr("INLET_FORWARD_URL", &c.Agent.ForwardURL)
	envStr("INLET_STT_PROXY_URL", &c.STT.ProxyURL)
	envInt("INLET_STT_TIMEOUT_SEC", &c.STT.TimeoutSec)
	envStr("INLET_STORE_PATH", &c.Store.Path)
	envStr("INLET_METRICS_LISTEN", &c.Metrics.Listen)

	// Agent-mode conversations from env (comma-separated).
	if v := os.Getenv("INLET_AGENT_CONVERSATIONS"); v != "" {
		c.Agent.Conversations = strings.Split(v, ",")
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Buffer.DebounceMs <= 0 {
		return fmt.Errorf("buffer.debounce_ms must be positive, got %d", c.Buffer.DebounceMs)
	}
	if c.Buffer.AbsoluteCapMs < c.Buffer.DebounceMs {
		return fmt.Errorf("buffer.absolute_cap_ms (%d) must be at least debounce_ms (%d)",
			c.Buffer.AbsoluteCapMs, c.Buffer.DebounceMs)
	}
	if c.Buffer.MaxCapacity <= 0 {
		return fmt.Errorf("buffer.max_capacity must be positive, got %d", c.Buffer.MaxCapacity)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
