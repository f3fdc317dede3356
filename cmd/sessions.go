package main

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/venturelens/strategy-cli/internal/phase"
	"github.com/venturelens/strategy-cli/internal/registry"
	"github.com/venturelens/strategy-cli/internal/session"
	"github.com/venturelens/strategy-cli/internal/toast"
)

// hubEntry is one business's live serving state.
type hubEntry struct {
	Session *session.Session
	Manager *phase.Manager
	Toasts  *toast.Recorder
}

// sessionHub lazily builds and caches per-business sessions for the API
// server. Each entry gets its own toast recorder so clients can poll
// notifications, with everything mirrored to the log.
type sessionHub struct {
	env *env

	mu      sync.Mutex
	entries map[string]*hubEntry
}

func newSessionHub(e *env) *sessionHub {
	return &sessionHub{env: e, entries: make(map[string]*hubEntry)}
}

// fanout shows each toast on every wrapped notifier.
type fanout []toast.Notifier

func (f fanout) Show(text string, level toast.Level) {
	for _, n := range f {
		n.Show(text, level)
	}
}

func (h *sessionHub) get(ctx context.Context, businessID string) (*hubEntry, error) {
	h.mu.Lock()
	if entry, ok := h.entries[businessID]; ok {
		h.mu.Unlock()
		return entry, nil
	}
	h.mu.Unlock()

	// Build outside the lock; backend calls are slow.
	entry, err := h.build(ctx, businessID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.entries[businessID]; ok {
		return existing, nil
	}
	h.entries[businessID] = entry
	return entry, nil
}

func (h *sessionHub) build(ctx context.Context, businessID string) (*hubEntry, error) {
	recorder := &toast.Recorder{}
	notifier := fanout{recorder, toast.Logger{}}

	sess := session.New(businessID)

	questions, err := h.env.Backend.GetQuestions(ctx)
	if err != nil {
		zap.L().Warn("backend questions unavailable, using fixture",
			zap.String("fixture", cfg.Questions.FixturePath),
			zap.Error(err),
		)
		questions, err = registry.LoadQuestionsFromFile(cfg.Questions.FixturePath)
		if err != nil {
			return nil, err
		}
	}
	sess.SetQuestions(questions)

	mgr := phase.NewManager(sess, h.env.serviceWith(notifier), notifier)

	if resp, err := h.env.Backend.GetConversations(ctx, businessID); err != nil {
		zap.L().Warn("conversations unavailable, rehydrating from local cache",
			zap.String("business_id", businessID),
			zap.Error(err),
		)
		h.env.restoreFromCache(ctx, businessID, mgr)
	} else {
		mgr.LoadExistingAnalysis(resp)
	}

	return &hubEntry{Session: sess, Manager: mgr, Toasts: recorder}, nil
}
