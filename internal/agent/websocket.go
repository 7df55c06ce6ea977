package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/souq-assistant/internal/extract"
	"github.com/ashureev/souq-assistant/internal/identity"
)

const (
	frameMessage = "message"
	framePing    = "ping"
	framePong    = "pong"
	frameDraft   = "draft"
	frameReset   = "reset"
	frameTurn    = "turn"
	frameError   = "error"

	wsWriteTimeout = 5 * time.Second
)

// wsMessage is a frame sent by the client.
type wsMessage struct {
	Type        string        `json:"type"`
	Text        string        `json:"text,omitempty"`
	ClientToken string        `json:"client_token,omitempty"`
	Meta        *extract.Meta `json:"meta,omitempty"`
}

// wsFrame is a frame sent to the client.
type wsFrame struct {
	Type         string `json:"type"`
	Turn         *Turn  `json:"turn,omitempty"`
	Error        string `json:"error,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// ServeWS upgrades GET /ws/assistant and runs the chat over the socket.
// Turns are broadcast to every open tab of the user, including this one.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(h.maxBodySize)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sessions.Register(userID, sessionID, ws)
	defer h.sessions.Unregister(userID, sessionID, ws)

	ctx := r.Context()
	h.sendDraft(ctx, ws, userID)
	h.readLoop(ctx, ws, userID, sessionID)
	slog.Info("Assistant session ended", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeJSON(ctx, ws, wsFrame{Type: frameError, Error: "invalid_frame"})
			continue
		}

		switch msg.Type {
		case frameMessage:
			h.handleWSMessage(ctx, ws, userID, sessionID, msg)
		case framePing:
			h.writeJSON(ctx, ws, wsFrame{Type: framePong})
		case frameDraft:
			h.sendDraft(ctx, ws, userID)
		case frameReset:
			turn, err := h.svc.Reset(ctx, userID)
			if err != nil {
				h.writeJSON(ctx, ws, errorFrame(err))
				continue
			}
			h.sessions.Broadcast(ctx, userID, wsFrame{Type: frameDraft, Turn: turn})
		default:
			h.writeJSON(ctx, ws, wsFrame{Type: frameError, Error: "unknown_type"})
		}
	}
}

func (h *Handler) handleWSMessage(ctx context.Context, ws *websocket.Conn, userID, sessionID string, msg wsMessage) {
	req := MessageRequest{Text: msg.Text, ClientToken: msg.ClientToken, Meta: msg.Meta}
	if err := h.validate.Struct(req); err != nil {
		h.writeJSON(ctx, ws, wsFrame{Type: frameError, Error: "invalid_message"})
		return
	}
	_, err := h.turn(ctx, turnRequest{
		userID:    userID,
		sessionID: sessionID,
		requestID: uuid.NewString(),
		channel:   "chat_ws",
		req:       req,
	})
	if err != nil {
		h.writeJSON(ctx, ws, errorFrame(err))
	}
}

func (h *Handler) sendDraft(ctx context.Context, ws *websocket.Conn, userID string) {
	turn, err := h.svc.Snapshot(ctx, userID)
	if err != nil {
		h.writeJSON(ctx, ws, errorFrame(err))
		return
	}
	h.writeJSON(ctx, ws, wsFrame{Type: frameDraft, Turn: turn})
}

func errorFrame(err error) wsFrame {
	var limited *rateLimitedError
	switch {
	case errors.As(err, &limited):
		return wsFrame{Type: frameError, Error: "rate_limited", RetryAfterMs: limited.retryAfterMs}
	case errors.Is(err, ErrPersistence):
		return wsFrame{Type: frameError, Error: "unavailable"}
	default:
		return wsFrame{Type: frameError, Error: "internal"}
	}
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal frame", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Debug("Failed to write frame", "error", err)
	}
}
