package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/RichardoC/sam-ai/internal/models"
	"github.com/RichardoC/sam-ai/internal/prompt"
	"go.uber.org/zap"
)

const (
	DefaultSessionID    = "default"
	DefaultProvider     = "Sam AI"
	defaultContextTurns = 5
	defaultHistoryLimit = 50

	replyEmptyMessage   = "Please enter a message!"
	replyUnavailable    = "AI model is not available. Please check the configuration."
	replyNoCompletion   = "I'm sorry, I couldn't generate a response. Please try again."
	replyTechnicalIssue = "I'm experiencing a technical issue right now. You asked: '%s'. Please try again in a moment."
)

// Store is the conversation log the relay reads context from and appends to.
type Store interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]models.Turn, error)
	Append(ctx context.Context, sessionID, userMessage, aiResponse string) (models.Turn, error)
	Clear(ctx context.Context, sessionID string) (int64, error)
}

// Generator produces reply text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// availability is implemented by generators that may be configured but unusable.
type availability interface {
	Available() bool
}

type PromptBuilder interface {
	Build(in prompt.Input) (string, error)
}

type Request struct {
	Message   string
	SessionID string
	Tool      string
	Image     string
}

type Response struct {
	Reply        string
	SessionID    string
	ResponseTime float64 // seconds, two decimals
	Provider     string
	// PersistError is set when the reply was produced but could not be stored.
	PersistError error
}

type Config struct {
	ContextTurns int
	HistoryLimit int
	Provider     string
}

type Relay struct {
	store     Store
	generator Generator
	prompts   PromptBuilder
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time
}

func NewRelay(store Store, generator Generator, prompts PromptBuilder, logger *zap.Logger, cfg Config) (*Relay, error) {
	if store == nil {
		return nil, errors.New("chat: store must not be nil")
	}
	if generator == nil {
		return nil, errors.New("chat: generator must not be nil")
	}
	if prompts == nil {
		return nil, errors.New("chat: prompt builder must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = defaultContextTurns
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Provider == "" {
		cfg.Provider = DefaultProvider
	}
	return &Relay{
		store:     store,
		generator: generator,
		prompts:   prompts,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}, nil
}

func (r *Relay) Provider() string { return r.cfg.Provider }

// Reply answers one chat message. Context and persistence failures are
// logged and degrade the response instead of failing it; generation
// failures are replaced by a fallback reply that is stored like any other.
func (r *Relay) Reply(ctx context.Context, req Request) (Response, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Response{}, newError(ErrorInvalidInput, "empty_message", replyEmptyMessage, nil)
	}
	sessionID := normalizeSessionID(req.SessionID)
	logger := r.logger.With(zap.String("session_id", sessionID))

	if a, ok := r.generator.(availability); ok && !a.Available() {
		return Response{}, newError(ErrorModelUnavailable, "model_not_initialized", replyUnavailable, nil)
	}

	turns, err := r.store.Recent(ctx, sessionID, r.cfg.ContextTurns)
	if err != nil {
		logger.Warn("failed to load conversation history, continuing without context", zap.Error(err))
		turns = nil
	}
	history := models.AssembleContext(turns)
	logger.Debug("retrieved conversation history", zap.Int("messages", len(history)))

	text, err := r.prompts.Build(prompt.Input{
		History:  history,
		Message:  message,
		Tool:     req.Tool,
		HasImage: req.Image != "",
	})
	if err != nil {
		return Response{}, newError(ErrorInternal, "prompt_build_error", "", err)
	}

	start := r.now()
	reply, err := r.generator.Generate(ctx, text)
	elapsed := r.now().Sub(start)
	switch {
	case err != nil:
		logger.Error("generation failed, using fallback reply", zap.Error(err))
		reply = fmt.Sprintf(replyTechnicalIssue, message)
	case reply == "":
		logger.Warn("generation returned an empty reply")
		reply = replyNoCompletion
	default:
		logger.Info("generated reply", zap.Duration("elapsed", elapsed), zap.Int("reply_chars", len(reply)))
	}

	resp := Response{
		Reply:        reply,
		SessionID:    sessionID,
		ResponseTime: roundSeconds(elapsed),
		Provider:     r.cfg.Provider,
	}

	// The caller may have gone away while generating; the turn is still recorded.
	if _, err := r.store.Append(context.WithoutCancel(ctx), sessionID, message, reply); err != nil {
		logger.Warn("failed to save conversation turn", zap.Error(err))
		resp.PersistError = err
	}
	return resp, nil
}

// History returns up to limit of the newest turns as role-tagged messages.
// A non-positive limit uses the configured history limit.
func (r *Relay) History(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = r.cfg.HistoryLimit
	}
	turns, err := r.store.Recent(ctx, normalizeSessionID(sessionID), limit)
	if err != nil {
		return nil, newError(ErrorInternal, "history_error", "", err)
	}
	return models.AssembleContext(turns), nil
}

// Clear removes the stored turns of a session.
func (r *Relay) Clear(ctx context.Context, sessionID string) (int64, error) {
	sessionID = normalizeSessionID(sessionID)
	n, err := r.store.Clear(ctx, sessionID)
	if err != nil {
		return 0, newError(ErrorInternal, "clear_error", "", err)
	}
	r.logger.Info("cleared conversation history", zap.String("session_id", sessionID), zap.Int64("deleted", n))
	return n, nil
}

func normalizeSessionID(id string) string {
	if id = strings.TrimSpace(id); id == "" {
		return DefaultSessionID
	}
	return id
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
