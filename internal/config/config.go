package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/RichardoC/sam-ai/internal/llm"
)

type Config struct {
	ListenAddr   string        `env:"LISTEN_ADDR" envDefault:":5000"`
	DatabasePath string        `env:"DATABASE_PATH" envDefault:"sam_ai_conversations.db"`
	StaticDir    string        `env:"STATIC_DIR" envDefault:"web"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`
	Debug        bool          `env:"DEBUG" envDefault:"false"`

	LLM       LLMConfig       `envPrefix:"LLM_"`
	Chat      ChatConfig      `envPrefix:"CHAT_"`
	Retention RetentionConfig `envPrefix:"RETENTION_"`
}

type LLMConfig struct {
	Provider      string        `env:"PROVIDER" envDefault:"googleai"`
	APIKey        string        `env:"API_KEY"`
	BaseURL       string        `env:"BASE_URL"`
	Model         string        `env:"MODEL" envDefault:"gemini-2.0-flash"`
	FallbackModel string        `env:"FALLBACK_MODEL"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MaxTokens     int           `env:"MAX_TOKENS" envDefault:"2048"`
	Temperature   float64       `env:"TEMPERATURE" envDefault:"0.7"`
	TopP          float64       `env:"TOP_P" envDefault:"0.8"`
	TopK          int           `env:"TOP_K" envDefault:"40"`
}

type ChatConfig struct {
	ContextTurns    int    `env:"CONTEXT_TURNS" envDefault:"5"`
	HistoryLimit    int    `env:"HISTORY_LIMIT" envDefault:"50"`
	Provider        string `env:"PROVIDER_NAME" envDefault:"Sam AI"`
	AssistantName   string `env:"ASSISTANT_NAME" envDefault:"Sam"`
	PersonaPath     string `env:"PERSONA_PATH"`
	MaxPromptTokens int    `env:"MAX_PROMPT_TOKENS" envDefault:"0"`
}

type RetentionConfig struct {
	MaxTurns      int           `env:"MAX_TURNS" envDefault:"0"`
	MaxAge        time.Duration `env:"MAX_AGE" envDefault:"0s"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
}

// Load reads an optional dotenv file, then parses the environment. Variables
// already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var err error
	switch c.LLM.Provider {
	case llm.ProviderGoogleAI, llm.ProviderOpenAI:
	default:
		err = multierr.Append(err, fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", llm.ProviderGoogleAI, llm.ProviderOpenAI, c.LLM.Provider))
	}
	if c.LLM.Timeout <= 0 {
		err = multierr.Append(err, errors.New("LLM_TIMEOUT must be positive"))
	}
	if c.Chat.ContextTurns <= 0 {
		err = multierr.Append(err, errors.New("CHAT_CONTEXT_TURNS must be positive"))
	}
	if c.Chat.HistoryLimit <= 0 {
		err = multierr.Append(err, errors.New("CHAT_HISTORY_LIMIT must be positive"))
	}
	if c.Chat.MaxPromptTokens < 0 {
		err = multierr.Append(err, errors.New("CHAT_MAX_PROMPT_TOKENS must not be negative"))
	}
	if c.Retention.MaxTurns < 0 {
		err = multierr.Append(err, errors.New("RETENTION_MAX_TURNS must not be negative"))
	}
	if c.Retention.MaxAge < 0 {
		err = multierr.Append(err, errors.New("RETENTION_MAX_AGE must not be negative"))
	}
	if c.Retention.MaxAge > 0 && c.Retention.SweepInterval <= 0 {
		err = multierr.Append(err, errors.New("RETENTION_SWEEP_INTERVAL must be positive when RETENTION_MAX_AGE is set"))
	}
	return err
}

func (c LLMConfig) ServiceConfig() llm.Config {
	return llm.Config{
		Provider:      c.Provider,
		APIKey:        c.APIKey,
		BaseURL:       c.BaseURL,
		Model:         c.Model,
		FallbackModel: c.FallbackModel,
		Timeout:       c.Timeout,
		MaxTokens:     c.MaxTokens,
		Temperature:   c.Temperature,
		TopP:          c.TopP,
		TopK:          c.TopK,
	}
}
