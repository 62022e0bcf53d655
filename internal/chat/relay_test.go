package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/RichardoC/sam-ai/internal/models"
	"github.com/RichardoC/sam-ai/internal/prompt"
)

type fakeStore struct {
	mu        sync.Mutex
	turns     map[string][]models.Turn
	recentErr error
	appendErr error
	clearErr  error
	limits    []int
	appendCtx context.Context
}

func newFakeStore() *fakeStore {
	return &fakeStore{turns: map[string][]models.Turn{}}
}

func (s *fakeStore) Recent(_ context.Context, sessionID string, limit int) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = append(s.limits, limit)
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	all := s.turns[sessionID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]models.Turn(nil), all...), nil
}

func (s *fakeStore) Append(ctx context.Context, sessionID, userMessage, aiResponse string) (models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendCtx = ctx
	if s.appendErr != nil {
		return models.Turn{}, s.appendErr
	}
	turn := models.Turn{
		ID:          int64(len(s.turns[sessionID]) + 1),
		SessionID:   sessionID,
		UserMessage: userMessage,
		AIResponse:  aiResponse,
	}
	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return turn, nil
}

func (s *fakeStore) Clear(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearErr != nil {
		return 0, s.clearErr
	}
	n := int64(len(s.turns[sessionID]))
	delete(s.turns, sessionID)
	return n, nil
}

type stubGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (g *stubGenerator) Generate(_ context.Context, p string) (string, error) {
	g.prompts = append(g.prompts, p)
	return g.reply, g.err
}

type availableGenerator struct {
	*stubGenerator
	ok bool
}

func (g availableGenerator) Available() bool { return g.ok }

type stubBuilder struct {
	out string
	err error
	in  prompt.Input
}

func (b *stubBuilder) Build(in prompt.Input) (string, error) {
	b.in = in
	return b.out, b.err
}

func newTestRelay(t *testing.T, store Store, gen Generator, builder PromptBuilder) *Relay {
	t.Helper()
	r, err := NewRelay(store, gen, builder, zap.NewNop(), Config{ContextTurns: 5, HistoryLimit: 50})
	require.NoError(t, err)
	return r
}

func TestNewRelay_ValidatesDependencies(t *testing.T) {
	_, err := NewRelay(nil, &stubGenerator{}, &stubBuilder{}, nil, Config{})
	require.Error(t, err)
	_, err = NewRelay(newFakeStore(), nil, &stubBuilder{}, nil, Config{})
	require.Error(t, err)
	_, err = NewRelay(newFakeStore(), &stubGenerator{}, nil, nil, Config{})
	require.Error(t, err)

	r, err := NewRelay(newFakeStore(), &stubGenerator{}, &stubBuilder{}, nil, Config{})
	require.NoError(t, err)
	require.Equal(t, defaultContextTurns, r.cfg.ContextTurns)
	require.Equal(t, defaultHistoryLimit, r.cfg.HistoryLimit)
	require.Equal(t, DefaultProvider, r.Provider())
}

func TestReply_HappyPath(t *testing.T) {
	store := newFakeStore()
	store.turns["s1"] = []models.Turn{{UserMessage: "hi", AIResponse: "hello"}}
	gen := &stubGenerator{reply: "facts bro"}
	builder := &stubBuilder{out: "PROMPT"}
	r := newTestRelay(t, store, gen, builder)

	resp, err := r.Reply(context.Background(), Request{Message: "  how are you  ", SessionID: "s1", Tool: "charts", Image: "data:image/png;base64,AAAA"})
	require.NoError(t, err)
	require.Equal(t, "facts bro", resp.Reply)
	require.Equal(t, "s1", resp.SessionID)
	require.Equal(t, DefaultProvider, resp.Provider)
	require.NoError(t, resp.PersistError)
	require.GreaterOrEqual(t, resp.ResponseTime, 0.0)

	require.Equal(t, []string{"PROMPT"}, gen.prompts)
	require.Equal(t, prompt.Input{
		History: []models.Message{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
		},
		Message:  "how are you",
		Tool:     "charts",
		HasImage: true,
	}, builder.in)
	require.Equal(t, []int{5}, store.limits)

	require.Len(t, store.turns["s1"], 2)
	require.Equal(t, "how are you", store.turns["s1"][1].UserMessage)
	require.Equal(t, "facts bro", store.turns["s1"][1].AIResponse)
}

func TestReply_EmptyMessageRejected(t *testing.T) {
	store := newFakeStore()
	gen := &stubGenerator{reply: "x"}
	r := newTestRelay(t, store, gen, &stubBuilder{})

	_, err := r.Reply(context.Background(), Request{Message: " \n ", SessionID: "s1"})
	var chatErr *Error
	require.ErrorAs(t, err, &chatErr)
	require.Equal(t, ErrorInvalidInput, chatErr.Code)
	require.Equal(t, "Please enter a message!", chatErr.Reply)
	require.Empty(t, gen.prompts)
	require.Empty(t, store.turns)
}

func TestReply_DefaultSession(t *testing.T) {
	store := newFakeStore()
	r := newTestRelay(t, store, &stubGenerator{reply: "ok"}, &stubBuilder{})

	resp, err := r.Reply(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, DefaultSessionID, resp.SessionID)
	require.Len(t, store.turns[DefaultSessionID], 1)
}

func TestReply_GenerationFailurePersistsFallback(t *testing.T) {
	store := newFakeStore()
	gen := &stubGenerator{err: errors.New("503 from provider")}
	r := newTestRelay(t, store, gen, &stubBuilder{})

	resp, err := r.Reply(context.Background(), Request{Message: "what's up", SessionID: "s1"})
	require.NoError(t, err)
	want := "I'm experiencing a technical issue right now. You asked: 'what's up'. Please try again in a moment."
	require.Equal(t, want, resp.Reply)
	require.Len(t, store.turns["s1"], 1)
	require.Equal(t, want, store.turns["s1"][0].AIResponse)
}

func TestReply_EmptyCompletionPersistsFallback(t *testing.T) {
	store := newFakeStore()
	r := newTestRelay(t, store, &stubGenerator{reply: ""}, &stubBuilder{})

	resp, err := r.Reply(context.Background(), Request{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	require.Equal(t, replyNoCompletion, resp.Reply)
	require.Equal(t, replyNoCompletion, store.turns["s1"][0].AIResponse)
}

func TestReply_HistoryFailureDegradesToNoContext(t *testing.T) {
	store := newFakeStore()
	store.recentErr = errors.New("disk I/O error")
	builder := &stubBuilder{out: "p"}
	core, logs := observer.New(zapcore.WarnLevel)
	r, err := NewRelay(store, &stubGenerator{reply: "ok"}, builder, zap.New(core), Config{})
	require.NoError(t, err)

	resp, err := r.Reply(context.Background(), Request{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Reply)
	require.Empty(t, builder.in.History)
	require.Len(t, store.turns["s1"], 1)
	require.Equal(t, 1, logs.FilterMessageSnippet("failed to load conversation history").Len())
}

func TestReply_AppendFailureStillReturnsReply(t *testing.T) {
	store := newFakeStore()
	store.appendErr = errors.New("database is locked")
	core, logs := observer.New(zapcore.WarnLevel)
	r, err := NewRelay(store, &stubGenerator{reply: "ok"}, &stubBuilder{}, zap.New(core), Config{})
	require.NoError(t, err)

	resp, err := r.Reply(context.Background(), Request{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Reply)
	require.ErrorIs(t, resp.PersistError, store.appendErr)

	entries := logs.FilterMessage("failed to save conversation turn").All()
	require.Len(t, entries, 1)
	require.Equal(t, "s1", entries[0].ContextMap()["session_id"])
}

func TestReply_PersistsAfterCallerCancels(t *testing.T) {
	store := newFakeStore()
	r := newTestRelay(t, store, &stubGenerator{reply: "ok"}, &stubBuilder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Reply(ctx, Request{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	require.NoError(t, store.appendCtx.Err())
	require.Len(t, store.turns["s1"], 1)
}

func TestReply_ModelUnavailable(t *testing.T) {
	store := newFakeStore()
	gen := availableGenerator{stubGenerator: &stubGenerator{reply: "x"}, ok: false}
	r := newTestRelay(t, store, gen, &stubBuilder{})

	_, err := r.Reply(context.Background(), Request{Message: "hi", SessionID: "s1"})
	var chatErr *Error
	require.ErrorAs(t, err, &chatErr)
	require.Equal(t, ErrorModelUnavailable, chatErr.Code)
	require.Equal(t, replyUnavailable, chatErr.Reply)
	require.Empty(t, store.turns)
	require.Empty(t, store.limits)
}

func TestReply_PromptBuildError(t *testing.T) {
	store := newFakeStore()
	r := newTestRelay(t, store, &stubGenerator{reply: "x"}, &stubBuilder{err: errors.New("bad template")})

	_, err := r.Reply(context.Background(), Request{Message: "hi"})
	var chatErr *Error
	require.ErrorAs(t, err, &chatErr)
	require.Equal(t, ErrorInternal, chatErr.Code)
	require.Empty(t, store.turns)
}

func TestReply_ResponseTime(t *testing.T) {
	r := newTestRelay(t, newFakeStore(), &stubGenerator{reply: "ok"}, &stubBuilder{})
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	r.now = func() time.Time {
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(1234567 * time.Microsecond)
	}

	resp, err := r.Reply(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, 1.23, resp.ResponseTime)
}

func TestHistory(t *testing.T) {
	store := newFakeStore()
	store.turns["s1"] = []models.Turn{
		{UserMessage: "q1", AIResponse: "a1"},
		{UserMessage: "q2", AIResponse: "a2"},
	}
	r := newTestRelay(t, store, &stubGenerator{}, &stubBuilder{})

	msgs, err := r.History(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	require.Equal(t, models.Message{Role: models.RoleAssistant, Content: "a2"}, msgs[3])
	require.Equal(t, []int{50}, store.limits)

	store.recentErr = errors.New("boom")
	_, err = r.History(context.Background(), "s1", 10)
	var chatErr *Error
	require.ErrorAs(t, err, &chatErr)
	require.Equal(t, ErrorInternal, chatErr.Code)
	require.ErrorIs(t, err, store.recentErr)
}

func TestClear(t *testing.T) {
	store := newFakeStore()
	store.turns["s1"] = []models.Turn{{UserMessage: "q", AIResponse: "a"}}
	r := newTestRelay(t, store, &stubGenerator{}, &stubBuilder{})

	n, err := r.Clear(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Empty(t, store.turns["s1"])

	store.clearErr = errors.New("boom")
	_, err = r.Clear(context.Background(), "s1")
	require.Error(t, err)
}
