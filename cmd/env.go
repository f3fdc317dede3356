package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/venturelens/strategy-cli/internal/analysis"
	"github.com/venturelens/strategy-cli/internal/document"
	"github.com/venturelens/strategy-cli/internal/phase"
	"github.com/venturelens/strategy-cli/internal/registry"
	"github.com/venturelens/strategy-cli/internal/session"
	"github.com/venturelens/strategy-cli/internal/store"
	"github.com/venturelens/strategy-cli/internal/toast"
	"github.com/venturelens/strategy-cli/pkg/backend"
	"github.com/venturelens/strategy-cli/pkg/mlapi"
)

// env bundles the wired clients and services commands run against.
type env struct {
	ML       mlapi.Client
	Backend  backend.Client
	Cache    store.Store
	Resolver *document.Resolver
	Service  *analysis.Service
	Notifier toast.Notifier
}

// initEnv validates the config for the given mode and wires the stack.
func initEnv(ctx context.Context, mode string) (*env, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	ml := mlapi.NewClient(mlapi.WithBaseURL(cfg.MLAPI.BaseURL))
	be := backend.NewClient(cfg.Backend.Token, backend.WithBaseURL(cfg.Backend.BaseURL))

	cache, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	notifier := toast.Logger{}
	resolver := document.NewResolver(be)
	svc := analysis.NewService(ml, be, resolver, cache, notifier)

	return &env{
		ML:       ml,
		Backend:  be,
		Cache:    cache,
		Resolver: resolver,
		Service:  svc,
		Notifier: notifier,
	}, nil
}

// serviceWith builds an analysis service sharing the env's clients but
// reporting through the given notifier. The serve path uses per-session
// recorders so toasts can be polled.
func (e *env) serviceWith(notifier toast.Notifier) *analysis.Service {
	return analysis.NewService(e.ML, e.Backend, e.Resolver, e.Cache, notifier)
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		s, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func (e *env) Close() {
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// loadSession builds a session for one business: questionnaire from the
// backend (falling back to the local fixture), then restores answers,
// completion marks, and persisted results.
func (e *env) loadSession(ctx context.Context, businessID string) (*session.Session, *phase.Manager, error) {
	sess := session.New(businessID)

	questions, err := e.Backend.GetQuestions(ctx)
	if err != nil {
		zap.L().Warn("backend questions unavailable, using fixture",
			zap.String("fixture", cfg.Questions.FixturePath),
			zap.Error(err),
		)
		questions, err = registry.LoadQuestionsFromFile(cfg.Questions.FixturePath)
		if err != nil {
			return nil, nil, eris.Wrap(err, "load questions")
		}
	}
	sess.SetQuestions(questions)

	mgr := phase.NewManager(sess, e.Service, e.Notifier)

	resp, err := e.Backend.GetConversations(ctx, businessID)
	if err != nil {
		zap.L().Warn("conversations unavailable, rehydrating from local cache",
			zap.String("business_id", businessID),
			zap.Error(err),
		)
		e.restoreFromCache(ctx, businessID, mgr)
		return sess, mgr, nil
	}
	mgr.LoadExistingAnalysis(resp)

	return sess, mgr, nil
}

// restoreFromCache fills result slots from the local store when the backend
// cannot provide conversation history. Answers and completion marks are not
// cached locally, so only slots come back.
func (e *env) restoreFromCache(ctx context.Context, businessID string, mgr *phase.Manager) {
	if e.Cache == nil {
		return
	}
	records, err := e.Cache.LatestAnalyses(ctx, businessID)
	if err != nil {
		zap.L().Warn("local cache rehydration failed",
			zap.String("business_id", businessID),
			zap.Error(err),
		)
		return
	}
	mgr.RestoreFromRecords(records)
}
