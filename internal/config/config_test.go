package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inlet.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Buffer.DebounceMs != 1000 || cfg.Buffer.MaxCapacity != 32 {
		t.Errorf("defaults not applied: %+v", cfg.Buffer)
	}
	if cfg.Collect.Trigger != "go" {
		t.Errorf("Collect.Trigger = %q, want go", cfg.Collect.Trigger)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	// json5: comments and trailing commas are fine.
	path := writeConfig(t, `{
		// tighter window for this deployment
		buffer: {debounce_ms: 250, absolute_cap_ms: 3000, max_capacity: 8},
		telegram: {token: "tok123", bot_username: "mybot"},
		collect: {trigger: "release"},
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Buffer.DebounceMs != 250 || cfg.Buffer.MaxCapacity != 8 {
		t.Errorf("file values not applied: %+v", cfg.Buffer)
	}
	if cfg.Telegram.Token != "tok123" {
		t.Errorf("Telegram.Token = %q", cfg.Telegram.Token)
	}
	if cfg.Collect.Trigger != "release" {
		t.Errorf("Collect.Trigger = %q", cfg.Collect.Trigger)
	}
	// Untouched sections keep their defaults.
	if cfg.Media.MaxBytes != 20<<20 {
		t.Errorf("Media.MaxBytes = %d, want default", cfg.Media.MaxBytes)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := writeConfig(t, `{telegram: {token: "from-file"}, buffer: {debounce_ms: 500, absolute_cap_ms: 5000, max_capacity: 16}}`)
	t.Setenv("INLET_TELEGRAM_TOKEN", "from-env")
	t.Setenv("INLET_DEBOUNCE_MS", "750")
	t.Setenv("INLET_AGENT_CONVERSATIONS", "c1,c2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Errorf("Telegram.Token = %q, want env value", cfg.Telegram.Token)
	}
	if cfg.Buffer.DebounceMs != 750 {
		t.Errorf("Buffer.DebounceMs = %d, want 750", cfg.Buffer.DebounceMs)
	}
	if len(cfg.Agent.Conversations) != 2 || cfg.Agent.Conversations[1] != "c2" {
		t.Errorf("Agent.Conversations = %v", cfg.Agent.Conversations)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := writeConfig(t, `{buffer: `)
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"zero debounce", func(c *Config) { c.Buffer.DebounceMs = 0 }, true},
		{"cap below debounce", func(c *Config) { c.Buffer.AbsoluteCapMs = 100 }, true},
		{"zero capacity", func(c *Config) { c.Buffer.MaxCapacity = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/x.db"); got != home+"/x.db" {
		t.Errorf("ExpandHome(~/x.db) = %q", got)
	}
	if got := ExpandHome("/abs/x.db"); got != "/abs/x.db" {
		t.Errorf("ExpandHome(/abs/x.db) = %q", got)
	}
}
