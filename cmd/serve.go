package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/venturelens/strategy-cli/internal/document"
	"github.com/venturelens/strategy-cli/internal/model"
	"github.com/venturelens/strategy-cli/internal/registry"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		hub := newSessionHub(env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(hub),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func newRouter(hub *sessionHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(rateLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/session/{businessID}", func(r chi.Router) {
		r.Get("/", handleSnapshot(hub))
		r.Post("/answers", handleAnswer(hub))
		r.Post("/document", handleDocument(hub))
		r.Post("/regenerate", handleRegenerate(hub))
		r.Post("/regenerate-phase", handleRegeneratePhase(hub))
		r.Get("/toasts", handleToasts(hub))
		r.Get("/stream", handleStream(hub))
	})

	return r
}

// rateLimiter applies one shared token bucket across all clients. The server
// fronts a single ML backend; per-client fairness is not the concern,
// protecting the backend is.
func rateLimiter(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(limit, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func entryFor(hub *sessionHub, w http.ResponseWriter, r *http.Request) (*hubEntry, bool) {
	businessID := chi.URLParam(r, "businessID")
	if businessID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "business id is required"})
		return nil, false
	}
	entry, err := hub.get(r.Context(), businessID)
	if err != nil {
		zap.L().Error("session init failed", zap.String("business_id", businessID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to initialize session"})
		return nil, false
	}
	return entry, true
}

func handleSnapshot(hub *sessionHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := entryFor(hub, w, r)
		if !ok {
			return
		}

		streaming, streamText := entry.Session.Streaming()
		writeJSON(w, http.StatusOK, map[string]any{
			"business_id":      entry.Session.BusinessID(),
			"completed_phases": entry.Manager.CompletedPhases(),
			"state":            entry.Manager.State(),
			"features":         entry.Manager.UnlockedFeatures(),
			"slots":            entry.Session.Slots(),
			"streaming":        streaming,
			"streaming_text":   streamText,
		})
	}
}

func handleAnswer(hub *sessionHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := entryFor(hub, w, r)
		if !ok {
			return
		}

		var req struct {
			QuestionID string `json:"question_id"`
			Answer     string `json:"answer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestionID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question_id is required"})
			return
		}

		// Phase batches can take minutes; answer recording is synchronous,
		// triggered analyses are not.
		go func() {
			if err := entry.Manager.HandleQuestionCompleted(context.WithoutCancel(r.Context()), req.QuestionID, req.Answer); err != nil {
				zap.L().Error("question completion failed",
					zap.String("business_id", entry.Session.BusinessID()),
					zap.String("question_id", req.QuestionID),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func handleDocument(hub *sessionHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := entryFor(hub, w, r)
		if !ok {
			return
		}

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
			return
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read file"})
			return
		}

		doc := &document.File{
			Name:    header.Filename,
			MIME:    document.MIMEFromFilename(header.Filename),
			Content: content,
		}
		if err := document.ValidateSpreadsheet(doc); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}

		entry.Session.MarkDocumentUploaded(doc)

		go func() {
			if err := entry.Manager.HandleDocumentUploaded(context.WithoutCancel(r.Context())); err != nil {
				zap.L().Error("document batch failed",
					zap.String("business_id", entry.Session.BusinessID()),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "filename": doc.Name})
	}
}

func handleRegenerate(hub *sessionHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := entryFor(hub, w, r)
		if !ok {
			return
		}

		var req struct {
			Type string `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		typ := model.AnalysisType(req.Type)
		if _, found := registry.Lookup(typ); !found {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown analysis type %q", req.Type)})
			return
		}

		svc := hub.env.serviceWith(fanout{entry.Toasts})
		sess := entry.Session
		go func() {
			if _, err := svc.Regenerate(context.WithoutCancel(r.Context()), sess, typ, sess.StateSetters()); err != nil {
				zap.L().Error("regeneration failed",
					zap.String("business_id", sess.BusinessID()),
					zap.String("type", req.Type),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "type": req.Type})
	}
}

func handleRegeneratePhase(hub *sessionHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := entryFor(hub, w, r)
		if !ok {
			return
		}

		var req struct {
			Phase string `json:"phase"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		p, found := model.ParsePhase(req.Phase)
		if !found {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown phase %q", req.Phase)})
			return
		}

		if entry.Manager.State().Running {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "a phase batch is already running"})
			return
		}

		go func() {
			if err := entry.Manager.RegeneratePhase(context.WithoutCancel(r.Context()), p); err != nil {
				zap.L().Error("phase regeneration failed",
					zap.String("business_id", entry.Session.BusinessID()),
					zap.String("phase", req.Phase),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "phase": string(p)})
	}
}

func handleToasts(hub *sessionHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := entryFor(hub, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"toasts": entry.Toasts.Messages()})
	}
}

func handleStream(hub *sessionHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := entryFor(hub, w, r)
		if !ok {
			return
		}
		streaming, text := entry.Session.Streaming()
		writeJSON(w, http.StatusOK, map[string]any{"streaming": streaming, "text": text})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
