// Package analysis orchestrates calls to the ML backend: single analyses,
// whole-phase batches, and manual regeneration. Failures are isolated per
// call and reported through toasts; a batch never aborts because one
// analysis failed.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/venturelens/strategy-cli/internal/document"
	"github.com/venturelens/strategy-cli/internal/model"
	"github.com/venturelens/strategy-cli/internal/registry"
	"github.com/venturelens/strategy-cli/internal/session"
	"github.com/venturelens/strategy-cli/internal/store"
	"github.com/venturelens/strategy-cli/internal/toast"
	"github.com/venturelens/strategy-cli/pkg/backend"
	"github.com/venturelens/strategy-cli/pkg/mlapi"
)

// existingDocumentSource tags multipart uploads rebuilt from the backend's
// stored document rather than a fresh in-session upload.
const existingDocumentSource = "existing_document"

// Service runs analyses against the ML backend and persists the results.
type Service struct {
	ml       mlapi.Client
	backend  backend.Client
	resolver *document.Resolver
	cache    store.Store
	notifier toast.Notifier
}

// NewService creates a Service. cache may be nil to disable the local result
// cache; notifier may be nil to silence toasts.
func NewService(ml mlapi.Client, be backend.Client, resolver *document.Resolver, cache store.Store, notifier toast.Notifier) *Service {
	if notifier == nil {
		notifier = toast.Logger{}
	}
	return &Service{
		ml:       ml,
		backend:  be,
		resolver: resolver,
		cache:    cache,
		notifier: notifier,
	}
}

// PrepareQuestionsAndAnswers builds the parallel question/answer arrays sent
// to every analysis endpoint. By default only questions with a present answer
// are included; a non-nil filter replaces that selection. Output is in
// question order; ties keep questionnaire declaration order.
func PrepareQuestionsAndAnswers(questions []model.Question, answers map[string]string, filter func(model.Question) bool) ([]string, []string) {
	if filter == nil {
		filter = func(q model.Question) bool {
			return model.AnswerPresent(answers[q.ID])
		}
	}

	answered := make([]model.Question, 0, len(questions))
	for _, q := range questions {
		if filter(q) {
			answered = append(answered, q)
		}
	}
	sort.SliceStable(answered, func(i, j int) bool {
		return answered[i].Order < answered[j].Order
	})

	qs := make([]string, len(answered))
	as := make([]string, len(answered))
	for i, q := range answered {
		qs[i] = q.Text
		as[i] = answers[q.ID]
	}
	return qs, as
}

// CallEndpoint runs one analysis call and returns the slot payload. Document
// backed types go through the multipart spreadsheet endpoint; everything
// else posts the question/answer arrays. onChunk, when non-nil, receives the
// cumulative stream buffer and only applies to streaming-capable types.
func (s *Service) CallEndpoint(ctx context.Context, sess *session.Session, entry registry.Entry, questions, answers []string, onChunk mlapi.ChunkFunc) (any, error) {
	if entry.DocumentBacked {
		return s.callDocumentEndpoint(ctx, sess, entry, questions, answers)
	}

	if !entry.Streaming {
		onChunk = nil
	}

	resp, err := s.ml.Analyze(ctx, mlapi.AnalysisRequest{
		Endpoint:   entry.Endpoint,
		DeepSearch: entry.DeepSearch,
		Questions:  questions,
		Answers:    answers,
		BusinessID: sess.BusinessID(),
	}, onChunk)
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: %s", entry.Type)
	}

	return shapePayload(entry, resp), nil
}

func (s *Service) callDocumentEndpoint(ctx context.Context, sess *session.Session, entry registry.Entry, questions, answers []string) (any, error) {
	file := s.resolver.Resolve(ctx, sess.BusinessID(), sess.UploadedFile(), questions, answers)

	source := ""
	if sess.UploadedFile() == nil && file.Name != document.FallbackFilename {
		source = existingDocumentSource
	}

	resp, err := s.ml.AnalyzeDocument(ctx, mlapi.DocumentRequest{
		Endpoint:   entry.Endpoint,
		MetricType: entry.MetricType,
		Filename:   file.Name,
		MIME:       file.MIME,
		Content:    file.Content,
		Source:     source,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: %s", entry.Type)
	}

	return shapePayload(entry, resp), nil
}

// shapePayload unwraps the backend response through the entry's alias chain,
// re-wraps under the wrap key when configured, and stringifies when the slot
// expects text.
func shapePayload(entry registry.Entry, resp map[string]any) any {
	var payload any = resp
	for _, alias := range entry.Aliases {
		if nested, ok := resp[alias]; ok {
			payload = nested
			break
		}
	}

	if entry.WrapKey != "" {
		payload = map[string]any{entry.WrapKey: payload}
	}

	if entry.Stringify {
		if str, ok := payload.(string); ok {
			return str
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", payload)
		}
		return string(encoded)
	}
	return payload
}

// CallWithSave runs one analysis, writes its result slot, and persists the
// result. A missing setter for the type's slot key is a wiring error and
// fails hard; persistence problems are logged and never fail the call.
func (s *Service) CallWithSave(ctx context.Context, sess *session.Session, typ model.AnalysisType, setters session.Setters, onChunk mlapi.ChunkFunc) (any, error) {
	entry, ok := registry.Lookup(typ)
	if !ok {
		return nil, eris.Errorf("analysis: unknown type %s", typ)
	}

	setter, ok := setters[entry.SlotKey]
	if !ok {
		return nil, eris.Errorf("analysis: no setter for slot %q (available: %s)",
			entry.SlotKey, strings.Join(setters.Keys(), ", "))
	}

	questions, answers := PrepareQuestionsAndAnswers(sess.Questions(), sess.Answers(), nil)

	payload, err := s.CallEndpoint(ctx, sess, entry, questions, answers, onChunk)
	if err != nil {
		return nil, err
	}

	setter(payload)
	s.persist(ctx, sess, entry, payload)
	return payload, nil
}

// persist writes the result to the application backend and the local cache.
// Both are best effort.
func (s *Service) persist(ctx context.Context, sess *session.Session, entry registry.Entry, payload any) {
	record := model.PhaseAnalysisRecord{
		AnalysisType: string(entry.Type),
		AnalysisName: entry.DisplayName,
		AnalysisData: payload,
		Phase:        string(entry.PersistPhase),
		BusinessID:   sess.BusinessID(),
		Metadata: &model.AnalysisMetadata{
			GeneratedAt:       time.Now().UTC(),
			Phase:             string(entry.PersistPhase),
			GenerationContext: "regular_generation",
		},
	}

	if s.backend != nil {
		if !s.backend.SavePhaseAnalysis(ctx, record) {
			zap.L().Warn("analysis: backend save failed",
				zap.String("analysis_type", record.AnalysisType),
				zap.String("business_id", record.BusinessID),
			)
		}
	}

	if s.cache != nil {
		if err := s.cache.SaveAnalysis(ctx, record); err != nil {
			zap.L().Warn("analysis: cache save failed",
				zap.String("analysis_type", record.AnalysisType),
				zap.Error(err),
			)
		}
	}
}

// HandlePhaseCompletion runs the full analysis batch for a completed phase.
// Result slots for the phase's types are cleared up front, answers are
// refreshed from the backend, and every call runs concurrently. Individual
// failures are toasted and counted but never abort the batch; only a failed
// answer refresh aborts.
func (s *Service) HandlePhaseCompletion(ctx context.Context, sess *session.Session, phase model.Phase, setters session.Setters) error {
	types, ok := registry.PhaseAnalysisTypes(phase)
	if !ok {
		return eris.Errorf("analysis: no analyses for phase %s", phase)
	}

	zap.L().Info("analysis: phase batch starting",
		zap.String("phase", string(phase)),
		zap.Int("analyses", len(types)),
		zap.String("business_id", sess.BusinessID()),
	)

	// Clear stale results so the client renders loading states, not old data.
	for _, typ := range types {
		if entry, ok := registry.Lookup(typ); ok {
			if setter, ok := setters[entry.SlotKey]; ok {
				setter(nil)
			}
		}
	}

	if err := s.refreshAnswers(ctx, sess); err != nil {
		s.notifier.Show(
			fmt.Sprintf("Failed to generate %s phase analyses. Please try again.", phase),
			toast.LevelError,
		)
		return eris.Wrapf(err, "analysis: refresh answers for %s batch", phase)
	}

	sess.ResetExcelCache()

	questions, answers := PrepareQuestionsAndAnswers(sess.Questions(), sess.Answers(), nil)

	var (
		mu        sync.Mutex
		completed int
		successes int
		failures  int
		wg        sync.WaitGroup
	)
	total := len(types)

	for _, typ := range types {
		wg.Add(1)
		go func(typ model.AnalysisType) {
			defer wg.Done()

			entry, ok := registry.Lookup(typ)
			if !ok {
				mu.Lock()
				completed++
				failures++
				mu.Unlock()
				zap.L().Error("analysis: unregistered type in phase batch", zap.String("type", string(typ)))
				return
			}

			// A missing setter is a wiring error; it lands on the failure
			// path, never on a silent success.
			setter, haveSetter := setters[entry.SlotKey]

			var payload any
			var err error
			if !haveSetter {
				err = eris.Errorf("analysis: no setter for slot %q (available: %s)",
					entry.SlotKey, strings.Join(setters.Keys(), ", "))
			} else {
				payload, err = s.CallEndpoint(ctx, sess, entry, questions, answers, nil)
			}

			mu.Lock()
			completed++
			done := completed
			if err != nil {
				failures++
			} else {
				successes++
			}
			mu.Unlock()

			if err != nil {
				zap.L().Warn("analysis: batch call failed",
					zap.String("type", string(typ)),
					zap.String("phase", string(phase)),
					zap.Error(err),
				)
				s.notifier.Show(
					fmt.Sprintf("%d/%d %s phase analyses - '%s' failed", done, total, phase, entry.DisplayName),
					toast.LevelWarning,
				)
				return
			}

			setter(payload)
			s.persist(ctx, sess, entry, payload)

			s.notifier.Show(
				fmt.Sprintf("%d/%d analyses - '%s' completed successfully", done, total, entry.DisplayName),
				toast.LevelInfo,
			)
		}(typ)
	}
	wg.Wait()

	if failures > 0 {
		level := toast.LevelWarning
		if failures >= successes {
			level = toast.LevelError
		}
		s.notifier.Show(
			fmt.Sprintf("%d/%d %s phase analyses completed successfully.", successes, total, phase),
			level,
		)
	} else {
		s.notifier.Show(
			fmt.Sprintf("All %s phase analyses generated successfully!", phase),
			toast.LevelSuccess,
		)
	}

	zap.L().Info("analysis: phase batch finished",
		zap.String("phase", string(phase)),
		zap.Int("successes", successes),
		zap.Int("failures", failures),
	)
	return nil
}

// refreshAnswers pulls the authoritative conversation state from the backend
// and merges it into the session, so a batch never runs on answers staler
// than the persisted record.
func (s *Service) refreshAnswers(ctx context.Context, sess *session.Session) error {
	if s.backend == nil || sess.BusinessID() == "" {
		return nil
	}

	resp, err := s.backend.GetConversations(ctx, sess.BusinessID())
	if err != nil {
		return err
	}

	completed, answers := model.RebuildFromConversations(resp.Conversations)
	sess.MergeCompleted(completed)
	sess.MergeAnswers(answers)
	if resp.DocumentInfo != nil {
		sess.SetDocumentInfo(resp.DocumentInfo)
	}
	return nil
}

// Regenerate re-runs one analysis on demand. The slot is cleared and answers
// are refreshed from the backend before the call runs, so regeneration never
// renders stale data or runs on answers staler than the persisted record. The
// slot's regenerating flag is held for the duration; the streaming-capable
// type additionally drives the session's live stream buffer, cleared on
// success and failure alike.
func (s *Service) Regenerate(ctx context.Context, sess *session.Session, typ model.AnalysisType, setters session.Setters) (any, error) {
	entry, ok := registry.Lookup(typ)
	if !ok {
		return nil, eris.Errorf("analysis: unknown type %s", typ)
	}

	setter, ok := setters[entry.SlotKey]
	if !ok {
		return nil, eris.Errorf("analysis: no setter for slot %q (available: %s)",
			entry.SlotKey, strings.Join(setters.Keys(), ", "))
	}

	sess.SetRegenerating(entry.SlotKey, true)
	defer sess.SetRegenerating(entry.SlotKey, false)

	setter(nil)
	if entry.DocumentBacked {
		sess.ResetExcelCache()
	}

	var onChunk mlapi.ChunkFunc
	if entry.Streaming {
		sess.SetStreaming(true)
		defer sess.SetStreaming(false)
		onChunk = sess.SetStreamingText
	}

	if err := s.refreshAnswers(ctx, sess); err != nil {
		zap.L().Warn("analysis: answer refresh before regeneration failed",
			zap.String("type", string(typ)),
			zap.Error(err),
		)
		s.notifier.Show(
			fmt.Sprintf("Failed to regenerate %s. Please try again.", entry.DisplayName),
			toast.LevelError,
		)
		return nil, eris.Wrapf(err, "analysis: refresh answers for %s", typ)
	}

	payload, err := s.CallWithSave(ctx, sess, typ, setters, onChunk)
	if err != nil {
		s.notifier.Show(
			fmt.Sprintf("Failed to regenerate %s. Please try again.", entry.DisplayName),
			toast.LevelError,
		)
		return nil, err
	}

	s.notifier.Show(
		fmt.Sprintf("%s regenerated successfully!", entry.DisplayName),
		toast.LevelSuccess,
	)
	return payload, nil
}
