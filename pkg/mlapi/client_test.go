package mlapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name       string
		deepSearch bool
		status     int
		body       string
		wantErr    string
		wantKey    string
	}{
		{
			name:    "success",
			status:  http.StatusOK,
			body:    `{"purchase_criteria": {"items": []}}`,
			wantKey: "purchase_criteria",
		},
		{
			name:       "deep_search_header",
			deepSearch: true,
			status:     http.StatusOK,
			body:       `{"swot": "ok"}`,
			wantKey:    "swot",
		},
		{
			name:    "server_error",
			status:  http.StatusInternalServerError,
			body:    `{"error": "model unavailable"}`,
			wantErr: "status 500",
		},
		{
			name:    "malformed_response",
			status:  http.StatusOK,
			body:    `{invalid json`,
			wantErr: "unmarshal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/purchase-criteria", r.URL.Path)
				assert.Equal(t, "true", r.URL.Query().Get("stream"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				if tt.deepSearch {
					assert.Equal(t, "true", r.Header.Get("deep_search"))
				} else {
					assert.Empty(t, r.Header.Get("deep_search"))
				}

				var req AnalysisRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, []string{"What do you sell?"}, req.Questions)
				assert.Equal(t, []string{"Widgets"}, req.Answers)
				assert.Equal(t, "biz-1", req.BusinessID)

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(WithBaseURL(srv.URL))
			result, err := client.Analyze(context.Background(), AnalysisRequest{
				Endpoint:   "purchase-criteria",
				DeepSearch: tt.deepSearch,
				Questions:  []string{"What do you sell?"},
				Answers:    []string{"Widgets"},
				BusinessID: "biz-1",
			}, nil)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, result)
				return
			}

			require.NoError(t, err)
			assert.Contains(t, result, tt.wantKey)
		})
	}
}

func TestAnalyzeStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte(`Working on it... {"porters_analysis":`))
		flusher.Flush()
		_, _ = w.Write([]byte(`{"rivalry": "high"}} trailing`))
		flusher.Flush()
	}))
	defer srv.Close()

	var buffers []string
	client := NewClient(WithBaseURL(srv.URL))
	result, err := client.Analyze(context.Background(), AnalysisRequest{
		Endpoint:  "porter-analysis",
		Questions: []string{"q"},
		Answers:   []string{"a"},
	}, func(buffer string) {
		buffers = append(buffers, buffer)
	})

	require.NoError(t, err)
	assert.Contains(t, result, "porters_analysis")

	require.NotEmpty(t, buffers)
	// Each callback sees the cumulative buffer, so every snapshot is a
	// prefix of the next.
	for i := 1; i < len(buffers); i++ {
		assert.True(t, len(buffers[i]) >= len(buffers[i-1]))
		assert.Equal(t, buffers[i-1], buffers[i][:len(buffers[i-1])])
	}
	assert.Contains(t, buffers[len(buffers)-1], "rivalry")
}

func TestAnalyzeStreamingNoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text progress, never an object"))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	result, err := client.Analyze(context.Background(), AnalysisRequest{
		Endpoint:  "porter-analysis",
		Questions: []string{"q"},
		Answers:   []string{"a"},
	}, func(string) {})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"raw": "plain text progress, never an object"}, result)
}

func TestAnalyzeDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/excel-analysis", r.URL.Path)
		assert.Equal(t, "profitability", r.URL.Query().Get("metric_type"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "financials.xlsx", header.Filename)
		assert.Equal(t, "existing_document", r.FormValue("source"))

		_, _ = w.Write([]byte(`{"profitability": {"margin": 0.4}}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	result, err := client.AnalyzeDocument(context.Background(), DocumentRequest{
		Endpoint:   "excel-analysis",
		MetricType: "profitability",
		Filename:   "financials.xlsx",
		MIME:       "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Content:    []byte("fake spreadsheet bytes"),
		Source:     "existing_document",
	})

	require.NoError(t, err)
	assert.Contains(t, result, "profitability")
}

func TestAnalyzeDocumentNoSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Empty(t, r.FormValue("source"))
		_, _ = w.Write([]byte(`{"growth_trends": {}}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.AnalyzeDocument(context.Background(), DocumentRequest{
		Endpoint:   "excel-analysis",
		MetricType: "growth_trends",
		Filename:   "business_data.txt",
		Content:    []byte("Business Context:\n"),
	})
	require.NoError(t, err)
}

func TestAnalyzeDocumentErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"unreadable spreadsheet"}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.AnalyzeDocument(context.Background(), DocumentRequest{
		Endpoint: "excel-analysis",
		Filename: "bad.xlsx",
		Content:  []byte("x"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "unreadable spreadsheet")
}

func TestLoadingFuncToggles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	var states []bool
	client := NewClient(WithBaseURL(srv.URL), WithLoadingFunc(func(loading bool) {
		states = append(states, loading)
	}))

	_, err := client.Analyze(context.Background(), AnalysisRequest{
		Endpoint:  "pestel-analysis",
		Questions: []string{"q"},
		Answers:   []string{"a"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, states)

	states = nil
	_, err = client.Analyze(context.Background(), AnalysisRequest{Endpoint: "missing"}, nil)
	require.Error(t, err)
	assert.Equal(t, []bool{true, false}, states, "loading must clear on failure too")
}

func TestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Analyze(ctx, AnalysisRequest{Endpoint: "find"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call find")
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	c := NewClient()
	hc := c.(*httpClient)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
	assert.NotNil(t, hc.http)
	assert.NotNil(t, hc.http.Transport)
	assert.Nil(t, hc.loading)
}
