// Package provider implements the text-generation backend as an HTTP client of
// the model proxy endpoint.
//
// The proxy accepts a JSON body naming the model, the prompt, an optional system
// prompt and sampling options, and answers with the generated text. Every
// failure leaving this package is a *core.ClassifiedError, so the retry
// executor never inspects HTTP or JSON details.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/book-expert/interpretation-service/internal/retry"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Health check request parameters.
const (
	healthCheckModel     = "anthropic.claude-3-haiku-20240307-v1:0"
	healthCheckPrompt    = "test"
	healthCheckMaxTokens = 10
)

// DefaultTimeout bounds one proxy call when no timeout is configured.
const DefaultTimeout = 60 * time.Second

const maxErrorBodyBytes = 4096

// Error messages.
const (
	errEndpointRequired     = "provider endpoint is not configured"
	errModelRequired        = "model id is required"
	errPromptRequired       = "prompt is required"
	errEmptyText            = "provider returned no text"
	errFmtHTTPStatus        = "HTTP %d: %s"
	errFmtMarshalRequest    = "failed to marshal request: %v"
	errFmtDecodeResponse    = "failed to decode provider response: %v"
	errFmtTransportFailure  = "failed to reach provider at %s: %v"
	errFmtHealthCheckFailed = "health check failed: %w"
)

// ErrNotConfigured is returned by HealthCheck when no endpoint is set.
var ErrNotConfigured = errors.New(errEndpointRequired)

// InvokeOptions carries the sampling parameters of a proxy request. Nil
// parameters are left to the proxy.
type InvokeOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
}

// InvokeRequest is the JSON body posted to the proxy.
type InvokeRequest struct {
	ModelID      string        `json:"modelId"`
	Prompt       string        `json:"prompt"`
	SystemPrompt string        `json:"systemPrompt,omitempty"`
	Options      InvokeOptions `json:"options"`
}

// InvokeResponse is the JSON body of a successful proxy answer.
type InvokeResponse struct {
	Text string `json:"text"`
}

// ErrorResponse is the JSON body of a failed proxy answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HTTPClient calls the model proxy endpoint.
type HTTPClient struct {
	httpClient *http.Client
	endpoint   string
}

// NewHTTPClient creates a client for endpoint. A non-positive timeout selects
// DefaultTimeout.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &HTTPClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Invoke sends one generation request and returns the generated text.
func (c *HTTPClient) Invoke(ctx context.Context, req core.ProviderRequest) (string, error) {
	if c.endpoint == "" {
		return "", core.NewError(core.KindProviderFatal, errEndpointRequired, nil)
	}

	if req.ModelID == "" {
		return "", core.NewError(core.KindValidation, errModelRequired, nil)
	}

	if strings.TrimSpace(req.UserMessage) == "" {
		return "", core.NewError(core.KindValidation, errPromptRequired, nil)
	}

	payload := InvokeRequest{
		ModelID:      req.ModelID,
		Prompt:       req.UserMessage,
		SystemPrompt: req.SystemPrompt,
		Options: InvokeOptions{
			Temperature: &req.Temperature,
			TopP:        &req.TopP,
			MaxTokens:   req.MaxTokens,
		},
	}

	body, status, err := c.post(ctx, payload)
	if err != nil {
		return "", err
	}

	if status != http.StatusOK {
		return "", parseErrorResponse(status, body)
	}

	var decoded InvokeResponse

	decodeErr := json.Unmarshal(body, &decoded)
	if decodeErr != nil {
		return "", core.NewError(core.KindProviderFatal, fmt.Sprintf(errFmtDecodeResponse, decodeErr), decodeErr)
	}

	if decoded.Text == "" {
		return "", core.NewError(core.KindProviderFatal, errEmptyText, nil)
	}

	return decoded.Text, nil
}

// HealthCheck sends a minimal generation request and reports whether the proxy
// accepted it.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	if c.endpoint == "" {
		return ErrNotConfigured
	}

	payload := InvokeRequest{
		ModelID:      healthCheckModel,
		Prompt:       healthCheckPrompt,
		SystemPrompt: "",
		Options:      InvokeOptions{Temperature: nil, TopP: nil, MaxTokens: healthCheckMaxTokens},
	}

	body, status, err := c.post(ctx, payload)
	if err != nil {
		return fmt.Errorf(errFmtHealthCheckFailed, err)
	}

	if status != http.StatusOK {
		return fmt.Errorf(errFmtHealthCheckFailed, parseErrorResponse(status, body))
	}

	return nil
}

// post sends payload and returns the raw response body and status. Transport
// failures are classified here; HTTP statuses are left to the caller.
func (c *HTTPClient) post(ctx context.Context, payload InvokeRequest) ([]byte, int, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, core.NewError(core.KindProviderFatal, fmt.Sprintf(errFmtMarshalRequest, err), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, 0, core.NewError(core.KindProviderFatal, err.Error(), err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, classifyTransport(ctx, c.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, retry.NewProviderError("", http.StatusBadGateway, err.Error(), err)
	}

	return body, resp.StatusCode, nil
}

// classifyTransport maps a failed round trip onto the error taxonomy. Timeouts
// and refused or reset connections are transient; a cancelled caller context
// is returned as is so the batch stops retrying.
func classifyTransport(ctx context.Context, endpoint string, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return err
	}

	message := fmt.Sprintf(errFmtTransportFailure, endpoint, err)

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.NewError(core.KindProviderRetryable, message, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return core.NewError(core.KindProviderRetryable, message, err)
	}

	return core.NewError(core.KindProviderFatal, message, err)
}

// parseErrorResponse decodes the proxy's structured error body, falling back
// to the raw body when it is not JSON.
func parseErrorResponse(status int, body []byte) error {
	var errorResp ErrorResponse

	message := ""

	decodeErr := json.Unmarshal(body, &errorResp)
	if decodeErr == nil && errorResp.Error != "" {
		message = errorResp.Error
	} else {
		raw := strings.TrimSpace(string(body[:min(len(body), maxErrorBodyBytes)]))
		message = fmt.Sprintf(errFmtHTTPStatus, status, raw)
	}

	return retry.NewProviderError(errorResp.Code, status, message, nil)
}
