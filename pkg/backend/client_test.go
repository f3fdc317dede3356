package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturelens/strategy-cli/internal/model"
)

func TestGetQuestions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/questions", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`{"questions": [
			{"_id": "q1", "question_text": "What do you sell?", "phase": "initial", "severity": "mandatory", "order": 1},
			{"_id": "q2", "question_text": "Who are your rivals?", "phase": "essential", "severity": "optional", "order": 2}
		]}`))
	}))
	defer srv.Close()

	client := NewClient("test-token", WithBaseURL(srv.URL))
	questions, err := client.GetQuestions(context.Background())
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "q1", questions[0].ID)
	assert.Equal(t, model.PhaseInitial, questions[0].Phase)
	assert.True(t, questions[0].Mandatory())
	assert.False(t, questions[1].Mandatory())
}

func TestGetQuestionsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad token"}`))
	}))
	defer srv.Close()

	client := NewClient("bad", WithBaseURL(srv.URL))
	_, err := client.GetQuestions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "bad token")
}

func TestGetConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations", r.URL.Path)
		assert.Equal(t, "biz-9", r.URL.Query().Get("business_id"))

		_, _ = w.Write([]byte(`{
			"conversations": [
				{"question_id": "q1", "completion_status": "complete",
				 "conversation_flow": [{"type": "question", "text": "Q?"}, {"type": "answer", "text": "A."}]}
			],
			"document_info": {"has_document": true, "filename": "fin.xlsx"}
		}`))
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	resp, err := client.GetConversations(context.Background(), "biz-9")
	require.NoError(t, err)
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "q1", resp.Conversations[0].QuestionID)
	require.NotNil(t, resp.DocumentInfo)
	assert.True(t, resp.DocumentInfo.HasDocument)
	assert.Equal(t, "fin.xlsx", resp.DocumentInfo.Filename)
}

func TestSavePhaseAnalysis(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "created", status: http.StatusCreated, want: true},
		{name: "ok", status: http.StatusOK, want: true},
		{name: "server_error", status: http.StatusInternalServerError, want: false},
		{name: "rejected", status: http.StatusBadRequest, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/conversations/phase-analysis", r.URL.Path)

				var record model.PhaseAnalysisRecord
				require.NoError(t, json.NewDecoder(r.Body).Decode(&record))
				assert.Equal(t, "swot", record.AnalysisType)
				assert.Equal(t, "initial", record.Phase)
				require.NotNil(t, record.Metadata)
				assert.Equal(t, "initial", record.Metadata.Phase)
				assert.Equal(t, "regular_generation", record.Metadata.GenerationContext)
				assert.False(t, record.Metadata.GeneratedAt.IsZero())

				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewClient("tok", WithBaseURL(srv.URL))
			ok := client.SavePhaseAnalysis(context.Background(), model.PhaseAnalysisRecord{
				AnalysisType: "swot",
				AnalysisName: "SWOT Analysis",
				AnalysisData: map[string]any{"strengths": []string{"brand"}},
				Phase:        "initial",
				BusinessID:   "biz-1",
				Metadata: &model.AnalysisMetadata{
					GeneratedAt:       time.Now().UTC(),
					Phase:             "initial",
					GenerationContext: "regular_generation",
				},
			})
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestSavePhaseAnalysisNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	ok := client.SavePhaseAnalysis(context.Background(), model.PhaseAnalysisRecord{AnalysisType: "swot"})
	assert.False(t, ok)
}

func TestGetFinancialDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/businesses/biz-2/financial-document", r.URL.Path)
		_, _ = w.Write([]byte(`{"has_document": true, "document": {"filename": "fin.csv", "file_type": "csv", "template_type": "standard"}}`))
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	info, err := client.GetFinancialDocument(context.Background(), "biz-2")
	require.NoError(t, err)
	assert.True(t, info.HasDocument)
	assert.Equal(t, "fin.csv", info.Filename)
	assert.Equal(t, "standard", info.TemplateType)
}

func TestGetFinancialDocumentAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"has_document": false}`))
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	info, err := client.GetFinancialDocument(context.Background(), "biz-2")
	require.NoError(t, err)
	assert.False(t, info.HasDocument)
	assert.Empty(t, info.Filename)
}

func TestDownloadFinancialDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/businesses/biz-2/financial-document/download", r.URL.Path)
		_, _ = w.Write([]byte("raw spreadsheet bytes"))
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	data, err := client.DownloadFinancialDocument(context.Background(), "biz-2")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw spreadsheet bytes"), data)
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	c := NewClient("tok")
	hc := c.(*httpClient)
	assert.Equal(t, "tok", hc.token)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
	assert.NotNil(t, hc.http)
}
