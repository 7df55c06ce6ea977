package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ConversationLogger records every message and reply of a conversation.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

// ConversationLogConfig controls where conversation logs are written.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one NDJSON line.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

var (
	ansiRe     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*(?:\x07|\x1b\\)`)
	pathSafeRe = regexp.MustCompile(`[^A-Za-z0-9._@-]`)
)

// cleanForReadability strips terminal escape sequences and control
// characters and collapses whitespace.
func cleanForReadability(s string) string {
	s = ansiRe.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func safePathPart(s, fallback string) string {
	s = pathSafeRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return fallback
	}
	return s
}

// fileConversationLogger writes events from a queue on one goroutine, so Log
// never blocks the turn. When the queue is full the event is dropped.
type fileConversationLogger struct {
	cfg     ConversationLogConfig
	logger  *slog.Logger
	queue   chan ConversationLogEvent
	done    chan struct{}
	wg      sync.WaitGroup
	closeMu sync.Once
	files   map[string]*os.File
	global  *os.File
}

// NewConversationLogger creates a logger. A disabled config yields a no-op.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
	}
	if cfg.GlobalEnabled && cfg.GlobalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o750); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"user_id", event.UserID,
			"event_type", event.EventType,
			"queue_len", len(l.queue),
		)
	}
}

func (l *fileConversationLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case ev := <-l.queue:
			l.write(ev)
		case <-l.done:
			// Flush what is left.
			for {
				select {
				case ev := <-l.queue:
					l.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *fileConversationLogger) write(ev ConversationLogEvent) {
	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("Failed to encode conversation log event", "error", err)
		return
	}
	line = append(line, '\n')

	f, err := l.sessionFile(ev.UserID, ev.SessionID)
	if err != nil {
		l.logger.Warn("Failed to open conversation log", "user_id", ev.UserID, "error", err)
	} else if _, err := f.Write(line); err != nil {
		l.logger.Warn("Failed to write conversation log", "user_id", ev.UserID, "error", err)
	}
	if l.global != nil {
		if _, err := l.global.Write(line); err != nil {
			l.logger.Warn("Failed to write global conversation log", "error", err)
		}
	}
}

func (l *fileConversationLogger) sessionFile(userID, sessionID string) (*os.File, error) {
	user := safePathPart(userID, "unknown")
	session := safePathPart(sessionID, "default")
	key := user + "/" + session
	if f, ok := l.files[key]; ok {
		return f, nil
	}
	dir := filepath.Join(l.cfg.Dir, user)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, session+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	l.files[key] = f
	return f, nil
}

// Close flushes queued events and closes all files.
func (l *fileConversationLogger) Close() error {
	var firstErr error
	l.closeMu.Do(func() {
		close(l.done)

		done := make(chan struct{})
		go func() {
			l.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			l.logger.Warn("Conversation logger shutdown timeout", "queue_remaining", len(l.queue))
			return
		}

		for key, f := range l.files {
			if err := f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			delete(l.files, key)
		}
		if l.global != nil {
			if err := l.global.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
