package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"

	defaultTimeout = 30 * time.Second
)

var ErrUnavailable = errors.New("AI model is not available")

// Config selects the provider and sampling options. FallbackModel, when set,
// is tried if Model cannot be constructed.
type Config struct {
	Provider      string
	APIKey        string
	BaseURL       string
	Model         string
	FallbackModel string
	Timeout       time.Duration
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
}

// Service generates replies from a single prompt through a langchaingo model.
type Service struct {
	llm    llms.Model
	cfg    Config
	logger *zap.Logger
}

// buildModel is swapped in tests.
var buildModel = newModel

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	model, err := buildModel(ctx, cfg)
	if err != nil && cfg.FallbackModel != "" && cfg.FallbackModel != cfg.Model {
		logger.Warn("failed to initialize model, trying fallback",
			zap.Error(err),
			zap.String("model", cfg.Model),
			zap.String("fallback_model", cfg.FallbackModel))
		cfg.Model = cfg.FallbackModel
		var fallbackErr error
		model, fallbackErr = buildModel(ctx, cfg)
		if fallbackErr != nil {
			return nil, fmt.Errorf("failed to initialize any model: %w", errors.Join(err, fallbackErr))
		}
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return NewWithModel(model, cfg, logger), nil
}

// NewWithModel wraps an already constructed model.
func NewWithModel(model llms.Model, cfg Config, logger *zap.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{llm: model, cfg: cfg, logger: logger}
}

func newModel(ctx context.Context, cfg Config) (llms.Model, error) {
	switch cfg.Provider {
	case ProviderGoogleAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s provider requires an API key", ProviderGoogleAI)
		}
		return googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultModel(cfg.Model),
		)
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func (s *Service) Available() bool { return true }

// Generate returns the trimmed completion for prompt. A blank completion is
// returned as an empty string rather than an error.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	completion, err := llms.GenerateFromSinglePrompt(ctx, s.llm, prompt, s.callOptions()...)
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}

	s.logger.Debug("generated completion",
		zap.String("provider", s.cfg.Provider),
		zap.String("model", s.cfg.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("completion_chars", len(completion)))
	return strings.TrimSpace(completion), nil
}

func (s *Service) callOptions() []llms.CallOption {
	var opts []llms.CallOption
	if s.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(s.cfg.MaxTokens))
	}
	if s.cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(s.cfg.Temperature))
	}
	if s.cfg.TopP > 0 {
		opts = append(opts, llms.WithTopP(s.cfg.TopP))
	}
	if s.cfg.TopK > 0 {
		opts = append(opts, llms.WithTopK(s.cfg.TopK))
	}
	return opts
}

// Unavailable stands in for a model that could not be constructed at
// startup, so the server can still run and report the condition per request.
type Unavailable struct {
	Err error
}

func (u Unavailable) Available() bool { return false }

func (u Unavailable) Generate(context.Context, string) (string, error) {
	if u.Err == nil {
		return "", ErrUnavailable
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, u.Err)
}
