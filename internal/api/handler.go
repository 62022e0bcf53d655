package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/RichardoC/sam-ai/internal/chat"
	"github.com/RichardoC/sam-ai/internal/db"
	"github.com/RichardoC/sam-ai/internal/models"
	"go.uber.org/zap"
)

const personaFallbackReply = "Yo, I'm Sam AI Core - 16, independent builder, trader, self-taught developer! 😄 You asked: '%s'. Let's be real and solve this! What's the actual problem we need to tackle? 🔥"

// Chatter is the chat use case served over HTTP.
type Chatter interface {
	Reply(ctx context.Context, req chat.Request) (chat.Response, error)
	History(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	Clear(ctx context.Context, sessionID string) (int64, error)
	Provider() string
}

// Sessions looks up session metadata.
type Sessions interface {
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	CountTurns(ctx context.Context, sessionID string) (int, error)
}

type Handler struct {
	chat     Chatter
	sessions Sessions
	logger   *zap.Logger
	now      func() time.Time
}

func NewHandler(chatter Chatter, sessions Sessions, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chat:     chatter,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Tool      string `json:"tool"`
	Image     string `json:"image"`
}

type ChatResponse struct {
	Reply        string  `json:"reply"`
	SessionID    string  `json:"session_id,omitempty"`
	ResponseTime float64 `json:"response_time"`
	Provider     string  `json:"provider,omitempty"`
	Warning      string  `json:"warning,omitempty"`
}

type ErrorResponse struct {
	Reply string `json:"reply,omitempty"`
	Error string `json:"error"`
}

type HistoryResponse struct {
	History   []models.Message `json:"history"`
	SessionID string           `json:"session_id"`
}

type ClearRequest struct {
	SessionID string `json:"session_id"`
}

type ClearResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}

type HealthResponse struct {
	Status    string  `json:"status"`
	Provider  string  `json:"provider"`
	Timestamp float64 `json:"timestamp"`
}

type SessionResponse struct {
	models.Session
	TurnCount int `json:"turn_count"`
}

// Routes registers the API and, when staticDir is set, a file server on "/".
func (h *Handler) Routes(staticDir string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", h.HandleChat)
	mux.HandleFunc("GET /api/history/{session_id}", h.GetHistory)
	mux.HandleFunc("POST /api/clear", h.ClearHistory)
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/sessions/{session_id}", h.GetSession)
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return requestID(accessLog(h.logger, recoverer(h.logger, mux)))
}

func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	resp, err := h.chat.Reply(r.Context(), chat.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
		Tool:      req.Tool,
		Image:     req.Image,
	})
	if err != nil {
		var chatErr *chat.Error
		if errors.As(err, &chatErr) {
			switch chatErr.Code {
			case chat.ErrorInvalidInput:
				h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Reply: chatErr.Reply, Error: chatErr.Reason})
				return
			case chat.ErrorModelUnavailable:
				h.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Reply: chatErr.Reply, Error: chatErr.Reason})
				return
			}
		}
		// Clients render whatever comes back in reply, so keep the status at 200.
		h.logger.Error("Failed to generate reply",
			zap.Error(err),
			zap.String("request_id", RequestIDFromContext(r.Context())))
		h.writeJSON(w, http.StatusOK, ErrorResponse{
			Reply: fmt.Sprintf(personaFallbackReply, strings.TrimSpace(req.Message)),
			Error: err.Error(),
		})
		return
	}

	out := ChatResponse{
		Reply:        resp.Reply,
		SessionID:    resp.SessionID,
		ResponseTime: resp.ResponseTime,
		Provider:     resp.Provider,
	}
	if resp.PersistError != nil {
		out.Warning = "conversation turn was not saved"
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	history, err := h.chat.History(r.Context(), sessionID, limit)
	if err != nil {
		h.logger.Error("Failed to get history", zap.Error(err), zap.String("session_id", sessionID))
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to get history"})
		return
	}

	h.writeJSON(w, http.StatusOK, HistoryResponse{History: history, SessionID: sessionID})
}

func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	// An empty body clears the default session.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	deleted, err := h.chat.Clear(r.Context(), req.SessionID)
	if err != nil {
		h.logger.Error("Failed to clear history", zap.Error(err), zap.String("session_id", req.SessionID))
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to clear history"})
		return
	}

	h.writeJSON(w, http.StatusOK, ClearResponse{
		Success: true,
		Message: "Conversation history cleared",
		Deleted: deleted,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Provider:  h.chat.Provider(),
		Timestamp: float64(h.now().UnixMilli()) / 1000,
	})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if errors.Is(err, db.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get session", zap.Error(err), zap.String("session_id", sessionID))
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to get session"})
		return
	}

	count, err := h.sessions.CountTurns(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to count turns", zap.Error(err), zap.String("session_id", sessionID))
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to get session"})
		return
	}

	h.writeJSON(w, http.StatusOK, SessionResponse{Session: session, TurnCount: count})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
