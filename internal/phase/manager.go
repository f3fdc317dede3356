// Package phase tracks questionnaire progress and decides when analysis
// batches fire. Completion is monotonic within a session: once a phase is
// complete it stays complete, and each phase's batch fires at most once per
// transition.
package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/venturelens/strategy-cli/internal/analysis"
	"github.com/venturelens/strategy-cli/internal/model"
	"github.com/venturelens/strategy-cli/internal/registry"
	"github.com/venturelens/strategy-cli/internal/session"
	"github.com/venturelens/strategy-cli/internal/toast"
)

// Features is the set of product surfaces unlocked by questionnaire
// progress. Unlocking is looser than phase completion: touching any answer
// in a phase unlocks its surfaces even while mandatory questions remain.
type Features struct {
	Brief          bool `json:"brief"`
	Analysis       bool `json:"analysis"`
	InitialPhase   bool `json:"initialPhase"`
	EssentialPhase bool `json:"essentialPhase"`
	AdvancedPhase  bool `json:"advancedPhase"`
	HasDocument    bool `json:"hasDocument"`
}

// State reports what the manager is doing.
type State struct {
	Running bool        `json:"running"`
	Phase   model.Phase `json:"phase,omitempty"`
}

// Manager owns phase-completion detection and batch triggering for one
// session.
type Manager struct {
	sess     *session.Session
	svc      *analysis.Service
	notifier toast.Notifier

	mu              sync.Mutex
	state           State
	completedPhases map[model.Phase]bool
	allPhasesShown  bool
}

// NewManager creates a Manager for the given session.
func NewManager(sess *session.Session, svc *analysis.Service, notifier toast.Notifier) *Manager {
	if notifier == nil {
		notifier = toast.Logger{}
	}
	return &Manager{
		sess:            sess,
		svc:             svc,
		notifier:        notifier,
		completedPhases: make(map[model.Phase]bool),
	}
}

// PhaseCompleted reports whether a phase counts as complete for the given
// questionnaire and completed set. Initial and essential complete when every
// mandatory question of the phase is completed; advanced requires every
// question of every phase. The good phase completes on document upload and
// is handled separately. A phase with no relevant questions is never
// complete.
func PhaseCompleted(questions []model.Question, completed map[string]bool, p model.Phase) bool {
	var relevant []model.Question
	switch p {
	case model.PhaseInitial, model.PhaseEssential:
		relevant = model.MandatoryByPhase(questions, p)
	case model.PhaseAdvanced:
		relevant = questions
	default:
		return false
	}

	if len(relevant) == 0 {
		return false
	}
	for _, q := range relevant {
		if !completed[q.ID] {
			return false
		}
	}
	return true
}

// UnlockedFeatures derives the feature set from the session's answers and
// document state. The brief is always available; analysis unlocks on the
// first sign of engagement, an answer to any question anywhere or an
// uploaded document, independent of phase completion.
func (m *Manager) UnlockedFeatures() Features {
	questions := m.sess.Questions()
	answers := m.sess.Answers()
	completed := m.sess.Completed()

	engaged := func(q model.Question) bool {
		return completed[q.ID] || model.AnswerPresent(answers[q.ID])
	}
	touched := func(p model.Phase) bool {
		for _, q := range model.QuestionsByPhase(questions, p) {
			if engaged(q) {
				return true
			}
		}
		return false
	}

	anyAnswer := false
	for _, q := range questions {
		if engaged(q) {
			anyAnswer = true
			break
		}
	}
	hasDocument := m.sess.HasDocument()

	return Features{
		Brief:          true,
		Analysis:       anyAnswer || hasDocument,
		InitialPhase:   touched(model.PhaseInitial),
		EssentialPhase: touched(model.PhaseEssential),
		AdvancedPhase:  touched(model.PhaseAdvanced),
		HasDocument:    hasDocument,
	}
}

// CompletedPhases returns the phases marked complete so far.
func (m *Manager) CompletedPhases() []model.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Phase
	for _, p := range model.QuestionPhases {
		if m.completedPhases[p] {
			out = append(out, p)
		}
	}
	if m.completedPhases[model.PhaseGood] {
		out = append(out, model.PhaseGood)
	}
	return out
}

// State returns the current running state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// tryStart flips the manager to running for a phase. A batch already in
// flight wins; the caller skips.
func (m *Manager) tryStart(p model.Phase) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Running {
		return false
	}
	m.state = State{Running: true, Phase: p}
	return true
}

func (m *Manager) finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{}
}

// HandleQuestionCompleted records one answered question and fires the batch
// for any phase the answer newly completed. Transitions for several phases
// in one call each fire in order. A batch already running suppresses new
// automatic triggers for that call; the completion mark itself is never
// lost.
func (m *Manager) HandleQuestionCompleted(ctx context.Context, questionID, answer string) error {
	questions := m.sess.Questions()
	before := m.sess.Completed()

	m.sess.SetAnswer(questionID, answer)
	m.sess.AddCompleted(questionID)
	after := m.sess.Completed()

	var firstErr error
	for _, p := range model.QuestionPhases {
		if PhaseCompleted(questions, before, p) || !PhaseCompleted(questions, after, p) {
			continue
		}

		m.mu.Lock()
		already := m.completedPhases[p]
		m.completedPhases[p] = true
		m.mu.Unlock()
		if already {
			continue
		}

		m.announceUnlock(p)

		if err := m.runBatch(ctx, p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// announceUnlock toasts the next phase unlock, or the one-shot completion
// message once every question phase is done.
func (m *Manager) announceUnlock(p model.Phase) {
	if next, ok := model.NextPhase(p); ok {
		m.notifier.Show(
			fmt.Sprintf("You've unlocked the %s phase!", next),
			toast.LevelSuccess,
		)
		return
	}

	m.mu.Lock()
	shown := m.allPhasesShown
	m.allPhasesShown = true
	m.mu.Unlock()
	if !shown {
		m.notifier.Show("All questionnaire phases complete. Your full analysis suite is ready!", toast.LevelSuccess)
	}
}

func (m *Manager) runBatch(ctx context.Context, p model.Phase) error {
	if !m.tryStart(p) {
		zap.L().Info("phase: batch already running, skipping trigger",
			zap.String("phase", string(p)),
		)
		return nil
	}
	defer m.finish()

	return m.svc.HandlePhaseCompletion(ctx, m.sess, p, m.sess.StateSetters())
}

// HandleDocumentUploaded marks the good phase complete and fires its batch.
func (m *Manager) HandleDocumentUploaded(ctx context.Context) error {
	m.mu.Lock()
	already := m.completedPhases[model.PhaseGood]
	m.completedPhases[model.PhaseGood] = true
	m.mu.Unlock()
	if already {
		return nil
	}

	return m.runBatch(ctx, model.PhaseGood)
}

// RegeneratePhase re-runs a whole phase's batch on demand. Guarded like
// automatic triggers: a batch in flight rejects the request.
func (m *Manager) RegeneratePhase(ctx context.Context, p model.Phase) error {
	if _, ok := registry.PhaseAnalysisTypes(p); !ok {
		return eris.Errorf("phase: no analyses for phase %s", p)
	}
	if !m.tryStart(p) {
		return eris.Errorf("phase: a %s batch is already running", m.State().Phase)
	}
	defer m.finish()

	return m.svc.HandlePhaseCompletion(ctx, m.sess, p, m.sess.StateSetters())
}

// LoadExistingAnalysis restores session state from the backend: answers and
// the completed set from conversation history, phase-completion marks for
// phases already done, and result slots from the latest persisted record per
// analysis type. Restoring never fires batches.
func (m *Manager) LoadExistingAnalysis(resp *model.ConversationsResponse) {
	if resp == nil {
		return
	}

	completed, answers := model.RebuildFromConversations(resp.Conversations)
	m.sess.MergeCompleted(completed)
	m.sess.MergeAnswers(answers)
	if resp.DocumentInfo != nil {
		m.sess.SetDocumentInfo(resp.DocumentInfo)
	}

	questions := m.sess.Questions()
	allCompleted := m.sess.Completed()

	m.mu.Lock()
	for _, p := range model.QuestionPhases {
		if PhaseCompleted(questions, allCompleted, p) {
			m.completedPhases[p] = true
		}
	}
	if resp.DocumentInfo != nil && resp.DocumentInfo.HasDocument {
		m.completedPhases[model.PhaseGood] = true
	}
	m.mu.Unlock()

	m.rehydrateSlots(model.FlattenPhaseAnalyses(resp.PhaseAnalysis))
}

// RestoreFromRecords fills result slots from locally cached records, newest
// per type. Used when the backend is unreachable and only the local cache can
// rehydrate the session. Never fires batches.
func (m *Manager) RestoreFromRecords(records []model.PhaseAnalysisRecord) {
	m.rehydrateSlots(records)
}

// rehydrateSlots writes the newest record per analysis type into its slot.
func (m *Manager) rehydrateSlots(records []model.PhaseAnalysisRecord) {
	latest := make(map[string]model.PhaseAnalysisRecord)
	for _, r := range records {
		prev, ok := latest[r.AnalysisType]
		if !ok || r.CreatedAt.After(prev.CreatedAt) {
			latest[r.AnalysisType] = r
		}
	}

	for typ, r := range latest {
		entry, ok := registry.Lookup(model.AnalysisType(typ))
		if !ok {
			zap.L().Warn("phase: persisted record for unknown analysis type",
				zap.String("type", typ),
			)
			continue
		}
		data := r.AnalysisData
		if entry.Stringify {
			if _, ok := data.(string); !ok {
				if encoded, err := json.Marshal(data); err == nil {
					data = string(encoded)
				}
			}
		}
		m.sess.SetSlot(entry.SlotKey, data)
	}
}
