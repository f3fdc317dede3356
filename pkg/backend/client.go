// Package backend is the HTTP client for the application backend that owns
// questionnaire definitions, conversation history, persisted analysis
// results, and uploaded financial documents.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/venturelens/strategy-cli/internal/model"
)

const defaultBaseURL = "http://localhost:3001"

// Client talks to the application backend.
type Client interface {
	GetQuestions(ctx context.Context) ([]model.Question, error)
	GetConversations(ctx context.Context, businessID string) (*model.ConversationsResponse, error)
	// SavePhaseAnalysis persists one analysis result. Persistence is best
	// effort: failures are logged and reported as false, never as an error,
	// so a save problem cannot fail an analysis batch.
	SavePhaseAnalysis(ctx context.Context, record model.PhaseAnalysisRecord) bool
	GetFinancialDocument(ctx context.Context, businessID string) (*model.DocumentInfo, error)
	DownloadFinancialDocument(ctx context.Context, businessID string) ([]byte, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default backend base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client authenticating with the given bearer
// token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "backend: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "backend: get %s", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "backend: read %s response", path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("backend: %s returned status %d: %s", path, resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *httpClient) GetQuestions(ctx context.Context) ([]model.Question, error) {
	body, err := c.get(ctx, "/api/questions", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Questions []model.Question `json:"questions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, eris.Wrap(err, "backend: unmarshal questions")
	}
	return payload.Questions, nil
}

func (c *httpClient) GetConversations(ctx context.Context, businessID string) (*model.ConversationsResponse, error) {
	body, err := c.get(ctx, "/api/conversations", url.Values{"business_id": {businessID}})
	if err != nil {
		return nil, err
	}

	var payload model.ConversationsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, eris.Wrap(err, "backend: unmarshal conversations")
	}
	return &payload, nil
}

func (c *httpClient) SavePhaseAnalysis(ctx context.Context, record model.PhaseAnalysisRecord) bool {
	body, err := json.Marshal(record)
	if err != nil {
		zap.L().Warn("backend: marshal phase analysis failed",
			zap.String("analysis_type", record.AnalysisType),
			zap.Error(err),
		)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/conversations/phase-analysis", bytes.NewReader(body))
	if err != nil {
		zap.L().Warn("backend: create save request failed", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		zap.L().Warn("backend: save phase analysis failed",
			zap.String("analysis_type", record.AnalysisType),
			zap.Error(err),
		)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		zap.L().Warn("backend: save phase analysis rejected",
			zap.String("analysis_type", record.AnalysisType),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody),
		)
		return false
	}
	return true
}

func (c *httpClient) GetFinancialDocument(ctx context.Context, businessID string) (*model.DocumentInfo, error) {
	body, err := c.get(ctx, "/api/businesses/"+url.PathEscape(businessID)+"/financial-document", nil)
	if err != nil {
		return nil, err
	}

	// The metadata lives under a nested document object; flatten it.
	var payload struct {
		HasDocument bool `json:"has_document"`
		Document    *struct {
			Filename     string    `json:"filename"`
			FileType     string    `json:"file_type"`
			UploadDate   time.Time `json:"upload_date"`
			TemplateType string    `json:"template_type"`
		} `json:"document"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, eris.Wrap(err, "backend: unmarshal document info")
	}

	info := &model.DocumentInfo{HasDocument: payload.HasDocument}
	if payload.Document != nil {
		info.Filename = payload.Document.Filename
		info.FileType = payload.Document.FileType
		info.UploadDate = payload.Document.UploadDate
		info.TemplateType = payload.Document.TemplateType
	}
	return info, nil
}

func (c *httpClient) DownloadFinancialDocument(ctx context.Context, businessID string) ([]byte, error) {
	return c.get(ctx, "/api/businesses/"+url.PathEscape(businessID)+"/financial-document/download", nil)
}
