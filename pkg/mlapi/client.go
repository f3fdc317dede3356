// Package mlapi is the HTTP client for the ML analysis backend. Every
// analysis endpoint takes the prepared question/answer arrays; the
// spreadsheet endpoint takes a multipart upload instead.
package mlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "http://localhost:8000"

// Client performs analysis calls against the ML backend.
type Client interface {
	// Analyze posts the question/answer arrays to the given endpoint. When
	// onChunk is non-nil the response body is consumed incrementally and
	// onChunk receives the cumulative buffer after every read.
	Analyze(ctx context.Context, req AnalysisRequest, onChunk ChunkFunc) (map[string]any, error)
	// AnalyzeDocument posts a spreadsheet to the document endpoint.
	AnalyzeDocument(ctx context.Context, req DocumentRequest) (map[string]any, error)
}

// AnalysisRequest is the JSON body for an analysis endpoint.
type AnalysisRequest struct {
	Endpoint   string   `json:"-"`
	DeepSearch bool     `json:"-"`
	Questions  []string `json:"questions"`
	Answers    []string `json:"answers"`
	BusinessID string   `json:"business_id,omitempty"`
}

// DocumentRequest is the multipart payload for the spreadsheet endpoint.
type DocumentRequest struct {
	Endpoint   string
	MetricType string
	Filename   string
	MIME       string
	Content    []byte
	// Source tags reconstructed backend documents so the ML backend can
	// distinguish them from fresh uploads.
	Source string
}

// ChunkFunc receives the cumulative response buffer after each chunk.
type ChunkFunc func(buffer string)

// LoadingFunc observes the in-flight state of analysis calls.
type LoadingFunc func(loading bool)

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default ML backend base URL.
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

// WithLoadingFunc installs an observer toggled around every call.
func WithLoadingFunc(fn LoadingFunc) Option {
	return func(c *httpClient) {
		c.loading = fn
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	loading LoadingFunc
}

// NewClient creates an ML backend client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
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

func (c *httpClient) setLoading(loading bool) {
	if c.loading != nil {
		c.loading(loading)
	}
}

func (c *httpClient) Analyze(ctx context.Context, req AnalysisRequest, onChunk ChunkFunc) (map[string]any, error) {
	c.setLoading(true)
	defer c.setLoading(false)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "mlapi: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+req.Endpoint+"?stream=true", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "mlapi: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.DeepSearch {
		httpReq.Header.Set("deep_search", "true")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrapf(err, "mlapi: call %s", req.Endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, eris.Errorf("mlapi: %s returned status %d: %s", req.Endpoint, resp.StatusCode, string(respBody))
	}

	if onChunk != nil {
		return consumeStream(resp.Body, onChunk)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "mlapi: read %s response", req.Endpoint)
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrapf(err, "mlapi: unmarshal %s response", req.Endpoint)
	}
	return result, nil
}

func (c *httpClient) AnalyzeDocument(ctx context.Context, req DocumentRequest) (map[string]any, error) {
	c.setLoading(true)
	defer c.setLoading(false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, eris.Wrap(err, "mlapi: create form file")
	}
	if _, err := part.Write(req.Content); err != nil {
		return nil, eris.Wrap(err, "mlapi: write form file")
	}
	if req.Source != "" {
		if err := mw.WriteField("source", req.Source); err != nil {
			return nil, eris.Wrap(err, "mlapi: write source field")
		}
	}
	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "mlapi: close multipart writer")
	}

	endpoint := c.baseURL + "/" + req.Endpoint
	if req.MetricType != "" {
		endpoint += "?metric_type=" + url.QueryEscape(req.MetricType)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, eris.Wrap(err, "mlapi: create request")
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrapf(err, "mlapi: call %s", req.Endpoint)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "mlapi: read %s response", req.Endpoint)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, eris.Errorf("mlapi: %s returned status %d: %s", req.Endpoint, resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrapf(err, "mlapi: unmarshal %s response", req.Endpoint)
	}
	return result, nil
}
