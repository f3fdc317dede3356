// Package toast delivers user-facing notifications. Toasts are the only
// error-reporting channel for analysis failures; nothing in the orchestration
// path blocks on user acknowledgement.
package toast

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Level is the toast severity.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Message is one emitted toast.
type Message struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Level Level  `json:"level"`
}

// Notifier receives toasts.
type Notifier interface {
	Show(text string, level Level)
}

// Func adapts a function to a Notifier.
type Func func(text string, level Level)

// Show implements Notifier.
func (f Func) Show(text string, level Level) { f(text, level) }

// Logger emits toasts through the global zap logger, mapping toast severity
// onto log level.
type Logger struct{}

// Show implements Notifier.
func (Logger) Show(text string, level Level) {
	switch level {
	case LevelWarning:
		zap.L().Warn(text, zap.String("toast", string(level)))
	case LevelError:
		zap.L().Error(text, zap.String("toast", string(level)))
	default:
		zap.L().Info(text, zap.String("toast", string(level)))
	}
}

// Recorder collects toasts for inspection. Safe for concurrent use; batch
// completions emit from multiple goroutines.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Show implements Notifier.
func (r *Recorder) Show(text string, level Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{
		ID:    uuid.New().String(),
		Text:  text,
		Level: level,
	})
}

// Messages returns a copy of everything shown so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// ByLevel returns shown messages with the given severity.
func (r *Recorder) ByLevel(level Level) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Level == level {
			out = append(out, m)
		}
	}
	return out
}
