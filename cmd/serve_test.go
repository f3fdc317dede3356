package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturelens/strategy-cli/internal/analysis"
	"github.com/venturelens/strategy-cli/internal/config"
	"github.com/venturelens/strategy-cli/internal/document"
	"github.com/venturelens/strategy-cli/internal/model"
	"github.com/venturelens/strategy-cli/internal/toast"
	"github.com/venturelens/strategy-cli/pkg/mlapi"
)

type stubML struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubML) Analyze(_ context.Context, req mlapi.AnalysisRequest, _ mlapi.ChunkFunc) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.Endpoint)
	return map[string]any{"result": "ok"}, nil
}

func (s *stubML) AnalyzeDocument(_ context.Context, req mlapi.DocumentRequest) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.Endpoint+":"+req.MetricType)
	return map[string]any{"result": "ok"}, nil
}

type stubBackend struct {
	questions     []model.Question
	conversations *model.ConversationsResponse
}

func (s *stubBackend) GetQuestions(context.Context) ([]model.Question, error) {
	return s.questions, nil
}

func (s *stubBackend) GetConversations(context.Context, string) (*model.ConversationsResponse, error) {
	if s.conversations != nil {
		return s.conversations, nil
	}
	return &model.ConversationsResponse{}, nil
}

func (s *stubBackend) SavePhaseAnalysis(context.Context, model.PhaseAnalysisRecord) bool {
	return true
}

func (s *stubBackend) GetFinancialDocument(context.Context, string) (*model.DocumentInfo, error) {
	return &model.DocumentInfo{HasDocument: false}, nil
}

func (s *stubBackend) DownloadFinancialDocument(context.Context, string) ([]byte, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) (http.Handler, *sessionHub) {
	t.Helper()

	cfg = &config.Config{
		Server: config.ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173"},
			RateLimit:      1000,
			RateBurst:      1000,
		},
	}

	ml := &stubML{}
	be := &stubBackend{
		questions: []model.Question{
			{ID: "q1", Text: "What do you sell?", Phase: model.PhaseInitial, Severity: model.SeverityMandatory, Order: 1},
			{ID: "q2", Text: "Who buys it?", Phase: model.PhaseEssential, Severity: model.SeverityMandatory, Order: 2},
		},
	}
	resolver := document.NewResolver(be)
	notifier := toast.Logger{}

	e := &env{
		ML:       ml,
		Backend:  be,
		Resolver: resolver,
		Service:  analysis.NewService(ml, be, resolver, nil, notifier),
		Notifier: notifier,
	}
	hub := newSessionHub(e)
	return newRouter(hub), hub
}

func TestRouter_Health(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_Snapshot(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/session/biz-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "biz-1", body["business_id"])
	assert.Contains(t, body, "features")
	assert.Contains(t, body, "slots")
	assert.Contains(t, body, "state")
	assert.Equal(t, false, body["streaming"])
}

func TestRouter_Answer_MissingQuestionID(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session/biz-1/answers", bytes.NewReader([]byte(`{"answer":"widgets"}`)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "question_id is required")
}

func TestRouter_Answer_InvalidJSON(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session/biz-1/answers", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_Answer_AcceptedAndRecorded(t *testing.T) {
	router, hub := newTestRouter(t)

	body := []byte(`{"question_id":"q1","answer":"widgets"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/session/biz-1/answers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)

	entry, err := hub.get(context.Background(), "biz-1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return entry.Session.IsCompleted("q1")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRouter_Answer_PhaseBatchFiresToasts(t *testing.T) {
	router, hub := newTestRouter(t)

	// q1 is the only mandatory initial question; answering it completes the
	// phase and fires the batch.
	body := []byte(`{"question_id":"q1","answer":"widgets"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/session/biz-1/answers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)

	entry, err := hub.get(context.Background(), "biz-1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		for _, m := range entry.Toasts.ByLevel(toast.LevelSuccess) {
			if m.Text == "All initial phase analyses generated successfully!" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	tr := httptest.NewRequest(http.MethodGet, "/api/session/biz-1/toasts", nil)
	trr := httptest.NewRecorder()
	router.ServeHTTP(trr, tr)
	require.Equal(t, http.StatusOK, trr.Code)
	assert.Contains(t, trr.Body.String(), "All initial phase analyses generated successfully!")
	assert.Contains(t, trr.Body.String(), "You've unlocked the essential phase!")
}

func TestRouter_Document_MissingFile(t *testing.T) {
	router, _ := newTestRouter(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("note", "no file here"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/session/biz-1/document", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "file is required")
}

func TestRouter_Document_CSVAccepted(t *testing.T) {
	router, hub := newTestRouter(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "financials.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("revenue,cost\n100,40\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/session/biz-1/document", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), "financials.csv")

	entry, err := hub.get(context.Background(), "biz-1")
	require.NoError(t, err)
	assert.True(t, entry.Session.HasDocument())
}

func TestRouter_Document_CorruptXLSXRejected(t *testing.T) {
	router, _ := newTestRouter(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "financials.xlsx")
	require.NoError(t, err)
	_, err = fw.Write([]byte("this is not a zip archive"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/session/biz-1/document", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestRouter_Regenerate_UnknownType(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session/biz-1/regenerate", bytes.NewReader([]byte(`{"type":"tarot"}`)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown analysis type")
}

func TestRouter_Regenerate_Accepted(t *testing.T) {
	router, hub := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session/biz-1/regenerate", bytes.NewReader([]byte(`{"type":"swot"}`)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)

	entry, err := hub.get(context.Background(), "biz-1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		slot, ok := entry.Session.Slot("swotAnalysisResult")
		return ok && slot.Data != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRouter_RegeneratePhase_UnknownPhase(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session/biz-1/regenerate-phase", bytes.NewReader([]byte(`{"phase":"legendary"}`)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown phase")
}

func TestRouter_RegeneratePhase_Accepted(t *testing.T) {
	router, hub := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session/biz-1/regenerate-phase", bytes.NewReader([]byte(`{"phase":"initial"}`)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)

	entry, err := hub.get(context.Background(), "biz-1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		slot, ok := entry.Session.Slot("pestelData")
		return ok && slot.Data != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRouter_Stream_Empty(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/session/biz-1/stream", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, false, body["streaming"])
	assert.Equal(t, "", body["text"])
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	handler := rateLimiter(1, 1)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "rate limit exceeded")
}

func TestSessionHub_ReusesEntries(t *testing.T) {
	_, hub := newTestRouter(t)

	a, err := hub.get(context.Background(), "biz-1")
	require.NoError(t, err)
	b, err := hub.get(context.Background(), "biz-1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := hub.get(context.Background(), "biz-2")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}
