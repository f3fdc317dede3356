// Package session owns the per-business mutable state the orchestrator and
// the serve layer read and write: questionnaire answers, the completed set,
// one result slot per analysis type, document state, and streaming state.
package session

import (
	"sort"
	"sync"

	"github.com/venturelens/strategy-cli/internal/document"
	"github.com/venturelens/strategy-cli/internal/model"
	"github.com/venturelens/strategy-cli/internal/registry"
)

// Setters maps slot keys to setter functions. The analysis service resolves
// setters through this bundle; a missing key is a programming error it
// reports loudly.
type Setters map[string]func(any)

// Keys returns the bundle's slot keys, sorted.
func (s Setters) Keys() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Slot is one analysis type's current state.
type Slot struct {
	Data         any  `json:"data"`
	Regenerating bool `json:"regenerating"`
}

// Session is the state container for one business. All access is
// mutex-guarded; the batch fan-out writes slots from multiple goroutines.
type Session struct {
	mu sync.RWMutex

	businessID      string
	questions       []model.Question
	questionsLoaded bool

	answers   map[string]string
	completed map[string]bool

	slots map[string]*Slot

	documentInfo *model.DocumentInfo
	hasDocument  bool
	uploadedFile *document.File

	// excelCache is reset at the start of every phase batch but never
	// consulted; it mirrors an unfinished caching slot in the product and
	// must not grow behavior without an explicit requirement.
	excelCache *document.File

	streaming     bool
	streamingText string

	activeTab string
}

// New creates a session with one empty slot per registered analysis type.
func New(businessID string) *Session {
	slots := make(map[string]*Slot)
	for _, e := range registry.All() {
		slots[e.SlotKey] = &Slot{}
	}
	return &Session{
		businessID: businessID,
		answers:    make(map[string]string),
		completed:  make(map[string]bool),
		slots:      slots,
		activeTab:  "brief",
	}
}

// BusinessID returns the owning business id.
func (s *Session) BusinessID() string {
	return s.businessID
}

// SetQuestions installs the questionnaire for this session.
func (s *Session) SetQuestions(questions []model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions = append([]model.Question(nil), questions...)
	s.questionsLoaded = true
}

// Questions returns a copy of the questionnaire.
func (s *Session) Questions() []model.Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Question(nil), s.questions...)
}

// QuestionsLoaded reports whether the questionnaire has been installed.
func (s *Session) QuestionsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questionsLoaded
}

// SetAnswer records one answer.
func (s *Session) SetAnswer(questionID, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[questionID] = answer
}

// MergeAnswers overlays the given answers onto the session's map; incoming
// values win.
func (s *Session) MergeAnswers(answers map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range answers {
		s.answers[k] = v
	}
}

// Answers returns a copy of the answer map.
func (s *Session) Answers() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// AddCompleted adds a question to the completed set.
func (s *Session) AddCompleted(questionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[questionID] = true
}

// MergeCompleted adds every given question id to the completed set. The set
// only grows within a session.
func (s *Session) MergeCompleted(completed map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, done := range completed {
		if done {
			s.completed[id] = true
		}
	}
}

// Completed returns a copy of the completed-question set.
func (s *Session) Completed() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.completed))
	for k, v := range s.completed {
		out[k] = v
	}
	return out
}

// IsCompleted reports whether a question is in the completed set.
func (s *Session) IsCompleted(questionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed[questionID]
}

// Slot returns a snapshot of one analysis slot.
func (s *Session) Slot(slotKey string) (Slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[slotKey]
	if !ok {
		return Slot{}, false
	}
	return *slot, true
}

// SetSlot writes an analysis result. Last write wins.
func (s *Session) SetSlot(slotKey string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.slots[slotKey]; ok {
		slot.Data = data
	}
}

// SetRegenerating flips one slot's regenerating flag.
func (s *Session) SetRegenerating(slotKey string, regenerating bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.slots[slotKey]; ok {
		slot.Regenerating = regenerating
	}
}

// Slots returns a snapshot of every slot keyed by slot key.
func (s *Session) Slots() map[string]Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Slot, len(s.slots))
	for k, slot := range s.slots {
		out[k] = *slot
	}
	return out
}

// StateSetters builds a complete setter bundle over this session's slots.
func (s *Session) StateSetters() Setters {
	setters := make(Setters, len(s.slots))
	s.mu.RLock()
	for key := range s.slots {
		key := key
		setters[key] = func(data any) { s.SetSlot(key, data) }
	}
	s.mu.RUnlock()
	return setters
}

// SetDocumentInfo records the backend's document metadata and presence flag.
func (s *Session) SetDocumentInfo(info *model.DocumentInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documentInfo = info
	s.hasDocument = info != nil && info.HasDocument
}

// MarkDocumentUploaded records a fresh in-session upload.
func (s *Session) MarkDocumentUploaded(f *document.File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadedFile = f
	s.hasDocument = true
}

// HasDocument reports whether a financial document is available.
func (s *Session) HasDocument() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasDocument
}

// DocumentInfo returns the backend's document metadata, if loaded.
func (s *Session) DocumentInfo() *model.DocumentInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documentInfo
}

// UploadedFile returns the in-session upload, if any.
func (s *Session) UploadedFile() *document.File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uploadedFile
}

// ResetExcelCache clears the document-analysis cache slot.
func (s *Session) ResetExcelCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.excelCache = nil
}

// SetStreaming flips the live-streaming flag.
func (s *Session) SetStreaming(streaming bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = streaming
	if !streaming {
		return
	}
	s.streamingText = ""
}

// SetStreamingText replaces the cumulative streaming buffer.
func (s *Session) SetStreamingText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamingText = text
}

// Streaming returns the streaming flag and the cumulative buffer.
func (s *Session) Streaming() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming, s.streamingText
}

// SetActiveTab records the client's active tab.
func (s *Session) SetActiveTab(tab string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTab = tab
}

// ActiveTab returns the client's active tab.
func (s *Session) ActiveTab() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTab
}
