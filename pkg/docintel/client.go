package docintel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultAPIVersion   = "2024-11-30"
	defaultModelID      = "prebuilt-payslip"
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 3 * time.Minute
)

// ErrorKind classifies analyze failures so callers can decide between
// fail-fast and per-document degradation.
type ErrorKind string

const (
	KindUnauthorized   ErrorKind = "unauthorized"
	KindModelNotFound  ErrorKind = "model_not_found"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindOperationFail  ErrorKind = "operation_failed"
)

// Error is a typed analyze failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return "docintel: " + string(e.Kind) + ": " + e.Message
}

// Field is a single extracted field with its model confidence.
type Field struct {
	Content    string
	Confidence float64
}

// Result holds the fields extracted from one document.
type Result struct {
	ModelID string
	Fields  map[string]Field
}

// Client analyzes documents with a trained extraction model.
type Client interface {
	Analyze(ctx context.Context, documentURL string) (*Result, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithModelID overrides the default extraction model.
func WithModelID(modelID string) Option {
	return func(c *httpClient) {
		c.modelID = modelID
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPollInterval overrides how often the analyze operation is polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *httpClient) {
		c.pollInterval = d
	}
}

// WithPollTimeout overrides how long to wait for an operation to finish.
func WithPollTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.pollTimeout = d
	}
}

// WithRateLimit replaces the default request limiter.
func WithRateLimit(l *rate.Limiter) Option {
	return func(c *httpClient) {
		c.limiter = l
	}
}

type httpClient struct {
	endpoint     string
	apiKey       string
	modelID      string
	apiVersion   string
	pollInterval time.Duration
	pollTimeout  time.Duration
	limiter      *rate.Limiter
	http         *http.Client
}

// NewClient creates a document analysis client. The endpoint is the service
// base URL without a trailing slash.
func NewClient(endpoint, apiKey string, opts ...Option) Client {
	c := &httpClient{
		endpoint:     endpoint,
		apiKey:       apiKey,
		modelID:      defaultModelID,
		apiVersion:   defaultAPIVersion,
		pollInterval: defaultPollInterval,
		pollTimeout:  defaultPollTimeout,
		limiter:      rate.NewLimiter(10, 10),
		http: &http.Client{
			Timeout: 60 * time.Second,
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

type analyzeRequest struct {
	URLSource string `json:"urlSource"`
}

type operationResponse struct {
	Status        string         `json:"status"`
	AnalyzeResult *analyzeResult `json:"analyzeResult,omitempty"`
	Error         *apiError      `json:"error,omitempty"`
}

type analyzeResult struct {
	ModelID   string        `json:"modelId"`
	Documents []apiDocument `json:"documents"`
}

type apiDocument struct {
	DocType string              `json:"docType"`
	Fields  map[string]apiField `json:"fields"`
}

type apiField struct {
	Type        string  `json:"type"`
	Content     string  `json:"content"`
	ValueString string  `json:"valueString"`
	Confidence  float64 `json:"confidence"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *httpClient) Analyze(ctx context.Context, documentURL string) (*Result, error) {
	opURL, err := c.beginAnalyze(ctx, documentURL)
	if err != nil {
		return nil, err
	}
	return c.pollOperation(ctx, opURL)
}

func (c *httpClient) beginAnalyze(ctx context.Context, documentURL string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "docintel: rate limiter wait")
	}

	body, err := json.Marshal(analyzeRequest{URLSource: documentURL})
	if err != nil {
		return "", eris.Wrap(err, "docintel: marshal analyze request")
	}

	url := c.endpoint + "/documentintelligence/documentModels/" + c.modelID +
		":analyze?api-version=" + c.apiVersion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "docintel: create analyze request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "docintel: begin analyze")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "docintel: read analyze response")
	}

	if resp.StatusCode != http.StatusAccepted {
		return "", classifyStatus(resp.StatusCode, respBody)
	}

	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return "", eris.New("docintel: analyze response missing Operation-Location header")
	}
	return opURL, nil
}

func (c *httpClient) pollOperation(ctx context.Context, opURL string) (*Result, error) {
	deadline := time.Now().Add(c.pollTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		op, err := c.getOperation(ctx, opURL)
		if err != nil {
			return nil, err
		}

		switch op.Status {
		case "succeeded":
			return toResult(op.AnalyzeResult), nil
		case "failed":
			msg := "analysis failed"
			if op.Error != nil {
				msg = op.Error.Message
			}
			return nil, &Error{Kind: KindOperationFail, Message: msg}
		}

		if time.Now().After(deadline) {
			return nil, eris.Errorf("docintel: operation not complete after %s", c.pollTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "docintel: poll operation")
		case <-ticker.C:
		}
	}
}

func (c *httpClient) getOperation(ctx context.Context, opURL string) (*operationResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "docintel: create poll request")
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "docintel: poll operation")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "docintel: read poll response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var op operationResponse
	if err := json.Unmarshal(respBody, &op); err != nil {
		return nil, eris.Wrap(err, "docintel: unmarshal poll response")
	}
	return &op, nil
}

func toResult(ar *analyzeResult) *Result {
	result := &Result{Fields: make(map[string]Field)}
	if ar == nil {
		return result
	}
	result.ModelID = ar.ModelID
	for _, doc := range ar.Documents {
		for name, f := range doc.Fields {
			content := f.Content
			if content == "" {
				content = f.ValueString
			}
			result.Fields[name] = Field{Content: content, Confidence: f.Confidence}
		}
	}
	return result
}

func classifyStatus(status int, body []byte) error {
	msg := apiMessage(body)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Kind: KindUnauthorized, StatusCode: status, Message: msg}
	case http.StatusNotFound:
		return &Error{Kind: KindModelNotFound, StatusCode: status, Message: msg}
	case http.StatusBadRequest:
		return &Error{Kind: KindInvalidRequest, StatusCode: status, Message: msg}
	default:
		return eris.Errorf("docintel: unexpected status %d: %s", status, msg)
	}
}

func apiMessage(body []byte) string {
	var wrapper struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		return wrapper.Error.Message
	}
	return string(body)
}
