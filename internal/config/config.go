package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultBasePrompt is used when BASE_PROMPT is not configured
const DefaultBasePrompt = "You are a helpful assistant in a Telegram chat. " +
	"You maintain context and respond when mentioned. " +
	"Always respond naturally without including your username."

// DefaultTriggerWords is the comma-separated fallback for TRIGGER_WORDS
const DefaultTriggerWords = "бот,bot,помощь,help,вопрос,question,вика"

// Config holds all application configuration
type Config struct {
	Port string

	// Telegram
	BotToken       string
	BotUsername    string // optional, discovered via getMe when empty
	WebhookBaseURL string // empty or localhost => long polling
	AllowedUsers   []string

	// AI provider
	AIProvider string // "openai", "deepseek", "openrouter"
	AIAPIKey   string
	AIModel    string
	AIBaseURL  string

	// Redis
	RedisURL string

	// Context window
	BasePrompt        string
	ContextWindowSize int
	UserContextLimit  int
	ContextTTL        time.Duration

	// Trigger evaluation
	TriggerWords      []string
	TriggerWholeWords bool

	// Rate limiting (messages per minute per chat, 0 disables)
	RateLimitPerMinute int

	// Usage database + retention
	DatabasePath  string
	RetentionCron string
	RetentionDays int

	// Set when BOT_PROFILE_FILE exists but cannot be read or parsed;
	// surfaced by Validate so a broken profile stops startup.
	profileErr error
}

// BotProfile is an optional YAML file overriding prompt/trigger settings.
// Lets the bot's personality live in a versioned file instead of the env.
type BotProfile struct {
	BasePrompt        string   `yaml:"base_prompt"`
	TriggerWords      []string `yaml:"trigger_words"`
	TriggerWholeWords *bool    `yaml:"trigger_whole_words"`
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	provider := strings.ToLower(getEnv("AI_PROVIDER", "openai"))
	defaultModel, defaultBaseURL := providerDefaults(provider)

	apiKey := os.Getenv("AI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	model := os.Getenv("AI_MODEL")
	if model == "" {
		model = getEnv("OPENAI_MODEL", defaultModel)
	}

	cfg := &Config{
		Port: getEnv("PORT", "3001"),

		BotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		BotUsername:    os.Getenv("BOT_USERNAME"),
		WebhookBaseURL: getEnv("WEBHOOK_BASE_URL", ""),
		AllowedUsers:   splitList(os.Getenv("ALLOWED_USERS")),

		AIProvider: provider,
		AIAPIKey:   apiKey,
		AIModel:    model,
		AIBaseURL:  getEnv("AI_BASE_URL", defaultBaseURL),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		BasePrompt:        getEnv("BASE_PROMPT", DefaultBasePrompt),
		ContextWindowSize: getIntEnv("CONTEXT_WINDOW_SIZE", 50),
		UserContextLimit:  getIntEnv("USER_CONTEXT_LIMIT", 20),
		ContextTTL:        getDurationEnv("CONTEXT_TTL", 24*time.Hour),

		TriggerWords:      splitList(getEnv("TRIGGER_WORDS", DefaultTriggerWords)),
		TriggerWholeWords: getBoolEnv("TRIGGER_WHOLE_WORDS", false),

		RateLimitPerMinute: getIntEnv("RATE_LIMIT_PER_MINUTE", 10),

		DatabasePath:  getEnv("DATABASE_PATH", "./data/bot.db"),
		RetentionCron: getEnv("RETENTION_CRON", "0 4 * * *"),
		RetentionDays: getIntEnv("RETENTION_DAYS", 30),
	}

	// Optional YAML profile overrides prompt/trigger settings
	if path := os.Getenv("BOT_PROFILE_FILE"); path != "" {
		profile, err := loadProfile(path)
		switch {
		case err == nil:
			cfg.applyProfile(profile)
		case errors.Is(err, fs.ErrNotExist):
			// Absent profile is fine, env and defaults apply
		default:
			// A present-but-broken profile must not silently run the
			// bot with the wrong personality
			cfg.profileErr = err
		}
	}

	return cfg
}

// Validate checks required configuration and fails fast on startup errors
func (c *Config) Validate() error {
	if c.profileErr != nil {
		return fmt.Errorf("BOT_PROFILE_FILE is invalid: %w", c.profileErr)
	}
	if c.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.AIAPIKey == "" {
		return fmt.Errorf("AI_API_KEY or OPENAI_API_KEY is required")
	}
	switch c.AIProvider {
	case "openai", "deepseek", "openrouter":
	default:
		return fmt.Errorf("unsupported AI_PROVIDER %q (expected openai, deepseek or openrouter)", c.AIProvider)
	}
	if c.AIBaseURL == "" {
		return fmt.Errorf("AI_BASE_URL is required for provider %q", c.AIProvider)
	}
	if c.ContextWindowSize <= 0 {
		return fmt.Errorf("CONTEXT_WINDOW_SIZE must be a positive integer, got %d", c.ContextWindowSize)
	}
	if c.UserContextLimit <= 0 {
		return fmt.Errorf("USER_CONTEXT_LIMIT must be a positive integer, got %d", c.UserContextLimit)
	}
	if c.ContextTTL <= 0 {
		return fmt.Errorf("CONTEXT_TTL must be positive, got %s", c.ContextTTL)
	}
	if _, err := cron.ParseStandard(c.RetentionCron); err != nil {
		return fmt.Errorf("RETENTION_CRON is not a valid cron expression: %w", err)
	}
	return nil
}

// UseWebhook reports whether a public webhook URL is configured.
// Localhost URLs can't receive webhooks, so those fall back to long polling.
func (c *Config) UseWebhook() bool {
	if c.WebhookBaseURL == "" {
		return false
	}
	return !strings.Contains(c.WebhookBaseURL, "localhost") &&
		!strings.Contains(c.WebhookBaseURL, "127.0.0.1")
}

func providerDefaults(provider string) (model, baseURL string) {
	switch provider {
	case "deepseek":
		return "deepseek-chat", "https://api.deepseek.com"
	case "openrouter":
		return "deepseek/deepseek-chat", "https://openrouter.ai/api/v1"
	default: // openai
		return "gpt-4o-mini", "https://api.openai.com/v1"
	}
}

func loadProfile(path string) (*BotProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bot profile: %w", err)
	}
	var profile BotProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse bot profile YAML: %w", err)
	}
	return &profile, nil
}

func (c *Config) applyProfile(p *BotProfile) {
	if p.BasePrompt != "" {
		c.BasePrompt = p.BasePrompt
	}
	if len(p.TriggerWords) > 0 {
		c.TriggerWords = p.TriggerWords
	}
	if p.TriggerWholeWords != nil {
		c.TriggerWholeWords = *p.TriggerWholeWords
	}
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("⚠️ [CONFIG] %s=%q is not a boolean, using default %v", key, value, defaultValue)
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("⚠️ [CONFIG] %s=%q is not an integer, using default %d", key, value, defaultValue)
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			log.Printf("⚠️ [CONFIG] %s=%q is not a duration, using default %s", key, value, defaultValue)
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}
