package config

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearBotEnv unsets every variable Load reads so tests see only what they set
func clearBotEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"PORT", "TELEGRAM_BOT_TOKEN", "BOT_USERNAME", "WEBHOOK_BASE_URL",
		"ALLOWED_USERS", "AI_PROVIDER", "AI_API_KEY", "OPENAI_API_KEY",
		"AI_MODEL", "OPENAI_MODEL", "AI_BASE_URL", "REDIS_URL", "BASE_PROMPT",
		"CONTEXT_WINDOW_SIZE", "USER_CONTEXT_LIMIT", "CONTEXT_TTL",
		"TRIGGER_WORDS", "TRIGGER_WHOLE_WORDS", "RATE_LIMIT_PER_MINUTE",
		"DATABASE_PATH", "RETENTION_CRON", "RETENTION_DAYS", "BOT_PROFILE_FILE",
	}
	for _, v := range vars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearBotEnv(t)

	cfg := Load()

	if cfg.Port != "3001" {
		t.Errorf("Port = %q, want 3001", cfg.Port)
	}
	if cfg.AIProvider != "openai" {
		t.Errorf("AIProvider = %q, want openai", cfg.AIProvider)
	}
	if cfg.AIModel != "gpt-4o-mini" {
		t.Errorf("AIModel = %q, want gpt-4o-mini", cfg.AIModel)
	}
	if cfg.AIBaseURL != "https://api.openai.com/v1" {
		t.Errorf("AIBaseURL = %q, want OpenAI default", cfg.AIBaseURL)
	}
	if cfg.ContextWindowSize != 50 {
		t.Errorf("ContextWindowSize = %d, want 50", cfg.ContextWindowSize)
	}
	if cfg.UserContextLimit != 20 {
		t.Errorf("UserContextLimit = %d, want 20", cfg.UserContextLimit)
	}
	if cfg.ContextTTL != 24*time.Hour {
		t.Errorf("ContextTTL = %s, want 24h", cfg.ContextTTL)
	}
	if len(cfg.TriggerWords) == 0 {
		t.Error("TriggerWords empty, want defaults")
	}
}

func TestLoadProviderDefaults(t *testing.T) {
	tests := []struct {
		provider    string
		wantModel   string
		wantBaseURL string
	}{
		{"openai", "gpt-4o-mini", "https://api.openai.com/v1"},
		{"deepseek", "deepseek-chat", "https://api.deepseek.com"},
		{"openrouter", "deepseek/deepseek-chat", "https://openrouter.ai/api/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			clearBotEnv(t)
			t.Setenv("AI_PROVIDER", tt.provider)

			cfg := Load()
			if cfg.AIModel != tt.wantModel {
				t.Errorf("AIModel = %q, want %q", cfg.AIModel, tt.wantModel)
			}
			if cfg.AIBaseURL != tt.wantBaseURL {
				t.Errorf("AIBaseURL = %q, want %q", cfg.AIBaseURL, tt.wantBaseURL)
			}
		})
	}
}

func TestLoadOpenAIKeyFallback(t *testing.T) {
	clearBotEnv(t)
	t.Setenv("OPENAI_API_KEY", "legacy-key")

	cfg := Load()
	if cfg.AIAPIKey != "legacy-key" {
		t.Errorf("AIAPIKey = %q, want fallback to OPENAI_API_KEY", cfg.AIAPIKey)
	}
}

func validConfig() *Config {
	return &Config{
		BotToken:          "123:abc",
		AIProvider:        "openai",
		AIAPIKey:          "key",
		AIModel:           "gpt-4o-mini",
		AIBaseURL:         "https://api.openai.com/v1",
		ContextWindowSize: 50,
		UserContextLimit:  20,
		ContextTTL:        24 * time.Hour,
		RetentionCron:     "0 4 * * *",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing token", func(c *Config) { c.BotToken = "" }, "TELEGRAM_BOT_TOKEN"},
		{"missing api key", func(c *Config) { c.AIAPIKey = "" }, "AI_API_KEY"},
		{"bad provider", func(c *Config) { c.AIProvider = "claude" }, "AI_PROVIDER"},
		{"missing base url", func(c *Config) { c.AIBaseURL = "" }, "AI_BASE_URL"},
		{"zero window", func(c *Config) { c.ContextWindowSize = 0 }, "CONTEXT_WINDOW_SIZE"},
		{"negative window", func(c *Config) { c.ContextWindowSize = -5 }, "CONTEXT_WINDOW_SIZE"},
		{"zero user limit", func(c *Config) { c.UserContextLimit = 0 }, "USER_CONTEXT_LIMIT"},
		{"zero ttl", func(c *Config) { c.ContextTTL = 0 }, "CONTEXT_TTL"},
		{"bad cron", func(c *Config) { c.RetentionCron = "not a cron" }, "RETENTION_CRON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate failed: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate succeeded, want error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestUseWebhook(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"", false},
		{"http://localhost:3001", false},
		{"http://127.0.0.1:3001", false},
		{"https://bot.example.com", true},
	}

	for _, tt := range tests {
		cfg := &Config{WebhookBaseURL: tt.url}
		if got := cfg.UseWebhook(); got != tt.want {
			t.Errorf("UseWebhook(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a,b,c", 3},
		{" a , b ,", 2},
		{",,", 0},
	}

	for _, tt := range tests {
		if got := splitList(tt.in); len(got) != tt.want {
			t.Errorf("splitList(%q) = %v, want %d entries", tt.in, got, tt.want)
		}
	}
}

func TestBotProfileOverride(t *testing.T) {
	clearBotEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	profile := `base_prompt: "You are Vika, a friendly chat assistant."
trigger_words:
  - вика
  - vika
trigger_whole_words: true
`
	if err := os.WriteFile(path, []byte(profile), 0o644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}
	t.Setenv("BOT_PROFILE_FILE", path)

	cfg := Load()

	if !strings.Contains(cfg.BasePrompt, "Vika") {
		t.Errorf("BasePrompt = %q, want profile override", cfg.BasePrompt)
	}
	if len(cfg.TriggerWords) != 2 || cfg.TriggerWords[0] != "вика" {
		t.Errorf("TriggerWords = %v, want profile override", cfg.TriggerWords)
	}
	if !cfg.TriggerWholeWords {
		t.Error("TriggerWholeWords not overridden by profile")
	}
}

func TestBotProfileMissingFileIgnored(t *testing.T) {
	clearBotEnv(t)
	t.Setenv("BOT_PROFILE_FILE", "/nonexistent/profile.yaml")

	cfg := Load()
	if cfg.BasePrompt != DefaultBasePrompt {
		t.Errorf("BasePrompt = %q, want default when profile missing", cfg.BasePrompt)
	}
	if err := cfg.Validate(); err != nil && strings.Contains(err.Error(), "BOT_PROFILE_FILE") {
		t.Errorf("missing profile must not fail validation: %v", err)
	}
}

func TestBotProfileInvalidYAMLFailsValidate(t *testing.T) {
	clearBotEnv(t)

	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte("base_prompt: [unclosed"), 0o644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}
	t.Setenv("BOT_PROFILE_FILE", path)

	cfg := Load()

	// The broken profile must not silently change the personality
	if cfg.BasePrompt != DefaultBasePrompt {
		t.Errorf("BasePrompt = %q, want default when profile is broken", cfg.BasePrompt)
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate succeeded with a broken profile file, want error")
	}
	if !strings.Contains(err.Error(), "BOT_PROFILE_FILE") {
		t.Errorf("Validate error = %v, want mention of BOT_PROFILE_FILE", err)
	}
}

func TestEnvHelpersWarnOnBadValues(t *testing.T) {
	clearBotEnv(t)
	t.Setenv("CONTEXT_WINDOW_SIZE", "abc")
	t.Setenv("TRIGGER_WHOLE_WORDS", "maybe")
	t.Setenv("CONTEXT_TTL", "soon")

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	cfg := Load()

	// Unparsable values fall back to defaults and leave a trace in the log
	if cfg.ContextWindowSize != 50 {
		t.Errorf("ContextWindowSize = %d, want default 50", cfg.ContextWindowSize)
	}
	if cfg.TriggerWholeWords {
		t.Error("TriggerWholeWords = true, want default false")
	}
	if cfg.ContextTTL != 24*time.Hour {
		t.Errorf("ContextTTL = %s, want default 24h", cfg.ContextTTL)
	}

	logged := buf.String()
	for _, key := range []string{"CONTEXT_WINDOW_SIZE", "TRIGGER_WHOLE_WORDS", "CONTEXT_TTL"} {
		if !strings.Contains(logged, key) {
			t.Errorf("no warning logged for %s; log output: %q", key, logged)
		}
	}
}
