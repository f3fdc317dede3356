package model

import (
	"strings"
	"time"
)

// SkippedSentinel is the literal answer recorded for questions the user
// explicitly skipped instead of answering.
const SkippedSentinel = "[Question Skipped]"

// ConversationsResponse is the backend payload for
// GET /api/conversations?business_id=<id>.
type ConversationsResponse struct {
	Conversations []Conversation           `json:"conversations"`
	DocumentInfo  *DocumentInfo            `json:"document_info,omitempty"`
	PhaseAnalysis map[string]PhaseAnalyses `json:"phase_analysis,omitempty"`
}

// Conversation is the backend's record of one question's answer history.
type Conversation struct {
	QuestionID       string     `json:"question_id"`
	CompletionStatus string     `json:"completion_status"`
	IsSkipped        bool       `json:"is_skipped"`
	Flow             []FlowItem `json:"conversation_flow"`
}

// FlowItem is a single turn inside a conversation.
type FlowItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DocumentInfo describes the financial spreadsheet attached to a business.
type DocumentInfo struct {
	HasDocument  bool      `json:"has_document"`
	Filename     string    `json:"filename,omitempty"`
	FileType     string    `json:"file_type,omitempty"`
	UploadDate   time.Time `json:"upload_date,omitempty"`
	TemplateType string    `json:"template_type,omitempty"`
}

// PhaseAnalyses is one phase bucket of persisted analysis records.
type PhaseAnalyses struct {
	Analyses []PhaseAnalysisRecord `json:"analyses"`
}

// PhaseAnalysisRecord is the backend's persisted copy of one analysis result.
type PhaseAnalysisRecord struct {
	AnalysisType string            `json:"analysis_type"`
	AnalysisName string            `json:"analysis_name"`
	AnalysisData any               `json:"analysis_data"`
	Phase        string            `json:"phase"`
	BusinessID   string            `json:"business_id"`
	CreatedAt    time.Time         `json:"created_at"`
	Metadata     *AnalysisMetadata `json:"metadata,omitempty"`
}

// AnalysisMetadata is the generation context attached to a persisted record.
type AnalysisMetadata struct {
	GeneratedAt       time.Time `json:"generated_at"`
	Phase             string    `json:"phase"`
	GenerationContext string    `json:"generation_context"`
}

// RebuildFromConversations reconstructs the completed-question set and answer
// map from persisted conversation records. A conversation counts when its
// completion status is complete or skipped. The answer is the newline-joined
// concatenation of all non-empty answer turns that are not the skip sentinel;
// a skipped conversation with no usable turns yields the sentinel itself.
func RebuildFromConversations(conversations []Conversation) (map[string]bool, map[string]string) {
	completed := make(map[string]bool)
	answers := make(map[string]string)

	for _, c := range conversations {
		if c.CompletionStatus != "complete" && c.CompletionStatus != "skipped" {
			continue
		}
		completed[c.QuestionID] = true

		if c.CompletionStatus == "skipped" || c.IsSkipped {
			answers[c.QuestionID] = SkippedSentinel
			continue
		}

		var parts []string
		for _, item := range c.Flow {
			if item.Type != "answer" {
				continue
			}
			text := strings.TrimSpace(item.Text)
			if text == "" || text == SkippedSentinel {
				continue
			}
			parts = append(parts, text)
		}
		if len(parts) > 0 {
			answers[c.QuestionID] = strings.Join(parts, "\n")
		}
	}

	return completed, answers
}

// FlattenPhaseAnalyses collapses the per-phase buckets into a single list of
// persisted records for rehydrating analysis slots without recomputation.
func FlattenPhaseAnalyses(buckets map[string]PhaseAnalyses) []PhaseAnalysisRecord {
	var out []PhaseAnalysisRecord
	for _, bucket := range buckets {
		out = append(out, bucket.Analyses...)
	}
	return out
}
