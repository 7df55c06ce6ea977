package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/ashureev/souq-assistant/internal/api"
	"github.com/ashureev/souq-assistant/internal/extract"
	"github.com/ashureev/souq-assistant/internal/identity"
	"github.com/ashureev/souq-assistant/internal/ratelimit"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

// IdempotencyKeyHeader may carry the client token instead of the body.
const IdempotencyKeyHeader = "Idempotency-Key"

// MessageRequest is the body of POST /api/assistant/messages.
type MessageRequest struct {
	Text        string        `json:"text" validate:"required_without=Meta,max=4000"`
	ClientToken string        `json:"client_token,omitempty" validate:"omitempty,max=128"`
	Meta        *extract.Meta `json:"meta,omitempty"`
}

// HandlerConfig holds the transport settings of a Handler.
type HandlerConfig struct {
	// ChatLimiter throttles messages per user. Nil disables it.
	ChatLimiter        *ratelimit.Limiter
	ConversationLog    ConversationLogger
	MaxRequestBodySize int64
	AllowedOrigin      string
	IsDev              bool
}

// Handler serves the assistant over HTTP and WebSocket.
type Handler struct {
	svc           *Service
	sessions      *SessionManager
	chatLimiter   *ratelimit.Limiter
	validate      *validator.Validate
	log           ConversationLogger
	maxBodySize   int64
	allowedOrigin string
	isDev         bool
}

// NewHandler creates an assistant handler.
func NewHandler(svc *Service, sessions *SessionManager, cfg HandlerConfig) *Handler {
	if sessions == nil {
		sessions = NewSessionManager()
	}
	if cfg.ConversationLog == nil {
		cfg.ConversationLog = noopConversationLogger{}
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		svc:           svc,
		sessions:      sessions,
		chatLimiter:   cfg.ChatLimiter,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		log:           cfg.ConversationLog,
		maxBodySize:   cfg.MaxRequestBodySize,
		allowedOrigin: cfg.AllowedOrigin,
		isDev:         cfg.IsDev,
	}
}

// RegisterRoutes registers assistant routes (requires identity).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/assistant", func(r chi.Router) {
		r.Post("/messages", h.HandleMessage)
		r.Get("/draft", h.GetDraft)
		r.Delete("/draft", h.ResetDraft)
	})
	r.Get("/ws/assistant", h.ServeWS)
}

// Close releases handler resources.
func (h *Handler) Close() {
	if err := h.log.Close(); err != nil {
		slog.Warn("failed to close conversation logger", "error", err)
	}
}

// rateLimitedError is returned when the chat limiter rejects a message.
type rateLimitedError struct {
	retryAfterMs int64
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %dms", e.retryAfterMs)
}

type turnRequest struct {
	userID    string
	sessionID string
	requestID string
	channel   string
	req       MessageRequest
}

// turn runs one message through the service, logs both sides of the
// exchange and pushes the result to the user's open tabs.
func (h *Handler) turn(ctx context.Context, tr turnRequest) (*Turn, error) {
	if h.chatLimiter != nil {
		// Retries of an answered message replay without spending quota.
		replayed, err := h.svc.Replay(ctx, tr.userID, tr.req.ClientToken)
		if err != nil {
			return nil, err
		}
		if replayed != nil {
			return replayed, nil
		}
		if res := h.chatLimiter.Check(tr.userID); !res.Allowed {
			rateLimitRejectionsTotal.WithLabelValues("chat").Inc()
			return nil, &rateLimitedError{retryAfterMs: res.RetryAfterMs()}
		}
	}

	h.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     tr.userID,
		SessionID:  tr.sessionID,
		Channel:    tr.channel,
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: tr.req.Text,
		Content:    cleanForReadability(tr.req.Text),
		Meta: map[string]any{
			"request_id":   tr.requestID,
			"client_token": tr.req.ClientToken,
			"has_meta":     tr.req.Meta != nil,
		},
	})

	turn, err := h.svc.HandleMessage(ctx, Inbound{
		UserID:      tr.userID,
		SessionID:   tr.sessionID,
		Text:        tr.req.Text,
		ClientToken: tr.req.ClientToken,
		Meta:        tr.req.Meta,
		RequestID:   tr.requestID,
	})
	if err != nil {
		return nil, err
	}

	h.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     tr.userID,
		SessionID:  tr.sessionID,
		Channel:    tr.channel,
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ContentRaw: turn.Reply,
		Content:    cleanForReadability(turn.Reply),
		Meta: map[string]any{
			"request_id":     tr.requestID,
			"step":           turn.Step,
			"retry_after_ms": turn.RetryAfterMs,
			"listing_id":     turn.ListingID,
		},
	})

	h.sessions.Broadcast(context.WithoutCancel(ctx), tr.userID, wsFrame{Type: frameTurn, Turn: turn})
	return turn, nil
}

// HandleMessage handles POST /api/assistant/messages.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClientToken == "" {
		req.ClientToken = r.Header.Get(IdempotencyKeyHeader)
	}
	if err := h.validate.Struct(req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	turn, err := h.turn(r.Context(), turnRequest{
		userID:    userID,
		sessionID: sessionID,
		requestID: chiMiddleware.GetReqID(r.Context()),
		channel:   "chat_http",
		req:       req,
	})
	if err != nil {
		writeTurnError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, turn)
}

func writeTurnError(w http.ResponseWriter, err error) {
	var limited *rateLimitedError
	switch {
	case errors.As(err, &limited):
		secs := (limited.retryAfterMs + 999) / 1000
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		api.JSON(w, http.StatusTooManyRequests, map[string]any{
			"error":          "rate limit exceeded",
			"retry_after_ms": limited.retryAfterMs,
		})
	case errors.Is(err, ErrPersistence):
		api.Error(w, http.StatusServiceUnavailable, "temporarily unavailable, please resend your message")
	case errors.Is(err, ErrInvalidInput):
		api.Error(w, http.StatusBadRequest, err.Error())
	default:
		api.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// GetDraft handles GET /api/assistant/draft.
func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	turn, err := h.svc.Snapshot(r.Context(), userID)
	if err != nil {
		writeTurnError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, turn)
}

// ResetDraft handles DELETE /api/assistant/draft.
func (h *Handler) ResetDraft(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	turn, err := h.svc.Reset(r.Context(), userID)
	if err != nil {
		writeTurnError(w, err)
		return
	}
	h.sessions.Broadcast(context.WithoutCancel(r.Context()), userID, wsFrame{Type: frameDraft, Turn: turn})
	api.JSON(w, http.StatusOK, turn)
}
