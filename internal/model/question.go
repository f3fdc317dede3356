package model

import "strings"

// Phase is a questionnaire milestone. Phases gate which analyses are
// computable for a business.
type Phase string

const (
	PhaseInitial   Phase = "initial"
	PhaseEssential Phase = "essential"
	PhaseGood      Phase = "good"
	PhaseAdvanced  Phase = "advanced"
)

// QuestionPhases are the phases questions can be tagged with, in traversal
// order. The good phase is unlocked by a document upload, not by questions,
// so it is not part of this sequence.
var QuestionPhases = []Phase{PhaseInitial, PhaseEssential, PhaseAdvanced}

// NextPhase returns the phase that unlocks after the given one completes.
// The advanced phase is terminal and returns ok=false.
func NextPhase(p Phase) (Phase, bool) {
	switch p {
	case PhaseInitial:
		return PhaseEssential, true
	case PhaseEssential:
		return PhaseAdvanced, true
	default:
		return "", false
	}
}

// ParsePhase matches a phase name case-insensitively.
func ParsePhase(s string) (Phase, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(PhaseInitial):
		return PhaseInitial, true
	case string(PhaseEssential):
		return PhaseEssential, true
	case string(PhaseGood):
		return PhaseGood, true
	case string(PhaseAdvanced):
		return PhaseAdvanced, true
	}
	return "", false
}

// Severity marks whether a question must be answered for its phase to count
// as complete.
type Severity string

const (
	SeverityMandatory Severity = "mandatory"
	SeverityOptional  Severity = "optional"
)

// Question is one questionnaire entry, loaded once per business session.
type Question struct {
	ID       string   `json:"_id" yaml:"id"`
	Text     string   `json:"question_text" yaml:"text"`
	Phase    Phase    `json:"phase" yaml:"phase"`
	Severity Severity `json:"severity" yaml:"severity"`
	Order    int      `json:"order" yaml:"order"`
}

// Mandatory reports whether the question is required for phase completion.
func (q Question) Mandatory() bool {
	return q.Severity == SeverityMandatory
}

// InPhase matches the question's phase case-insensitively.
func (q Question) InPhase(p Phase) bool {
	return strings.EqualFold(string(q.Phase), string(p))
}

// QuestionsByPhase returns the questions tagged with the given phase.
func QuestionsByPhase(questions []Question, p Phase) []Question {
	var out []Question
	for _, q := range questions {
		if q.InPhase(p) {
			out = append(out, q)
		}
	}
	return out
}

// MandatoryByPhase returns the mandatory questions tagged with the given phase.
func MandatoryByPhase(questions []Question, p Phase) []Question {
	var out []Question
	for _, q := range QuestionsByPhase(questions, p) {
		if q.Mandatory() {
			out = append(out, q)
		}
	}
	return out
}

// AnswerPresent reports whether an answer is non-empty after trimming.
func AnswerPresent(answer string) bool {
	return strings.TrimSpace(answer) != ""
}
