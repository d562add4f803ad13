package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LLM providers supported by the plan generator.
const (
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

const (
	defaultDatabasePath = "data/meal-planner.db"
	defaultGroqModel    = "llama-3.3-70b-versatile"
	defaultGroqVision   = "meta-llama/llama-4-scout-17b-16e-instruct"
	defaultGeminiModel  = "gemini-1.5-flash"
	defaultTemperature  = 0.7
	defaultPort         = "8080"
)

// Config holds the configuration for the application.
type Config struct {
	DatabasePath string

	LLMProvider  string
	GroqAPIKey   string
	GroqModel    string
	GeminiAPIKey string
	GeminiModel  string

	// GroqVisionModel reads receipt photos.
	GroqVisionModel string
	LLMTemperature  float32

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	TelegramAdminID        int64
	TelegramFamilyID       string

	Port string
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	cfg := &Config{
		DatabasePath:    envOr("DATABASE_PATH", defaultDatabasePath),
		LLMProvider:     strings.ToLower(envOr("LLM_PROVIDER", ProviderGroq)),
		GroqModel:       envOr("GROQ_MODEL", defaultGroqModel),
		GroqVisionModel: envOr("GROQ_VISION_MODEL", defaultGroqVision),
		GeminiModel:     envOr("GEMINI_MODEL", defaultGeminiModel),
		Port:            envOr("PORT", defaultPort),
	}

	switch cfg.LLMProvider {
	case ProviderGroq:
		cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	case ProviderGemini:
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}

	cfg.LLMTemperature = defaultTemperature
	if raw := os.Getenv("LLM_TEMPERATURE"); raw != "" {
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil || v < 0 || v > 2 {
			return nil, fmt.Errorf("invalid LLM_TEMPERATURE %q", raw)
		}
		cfg.LLMTemperature = float32(v)
	}

	// Telegram Config (Optional for CLI, required for Bot)
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramWebhookURL = os.Getenv("TELEGRAM_WEBHOOK_URL")
	cfg.TelegramFamilyID = os.Getenv("TELEGRAM_FAMILY_ID")

	ids, err := parseIDs(os.Getenv("TELEGRAM_ALLOWED_USER_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS: %w", err)
	}
	cfg.TelegramAllowedUserIDs = ids

	if raw := os.Getenv("TELEGRAM_ADMIN_ID"); raw != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_ADMIN_ID: %w", err)
		}
		cfg.TelegramAdminID = id
	}

	return cfg, nil
}

// ValidateBot checks the variables only the Telegram bot needs.
func (c *Config) ValidateBot() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable not set")
	}
	if c.TelegramWebhookURL == "" {
		return fmt.Errorf("TELEGRAM_WEBHOOK_URL environment variable not set")
	}
	if c.TelegramFamilyID == "" {
		return fmt.Errorf("TELEGRAM_FAMILY_ID environment variable not set")
	}
	return nil
}

// IsAllowed reports whether a Telegram user may talk to the bot.
// An empty allow list admits everyone.
func (c *Config) IsAllowed(userID int64) bool {
	if len(c.TelegramAllowedUserIDs) == 0 || userID == c.TelegramAdminID {
		return true
	}
	for _, id := range c.TelegramAllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
