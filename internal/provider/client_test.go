// Package provider_test tests the proxy HTTP client.
package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/book-expert/interpretation-service/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() core.ProviderRequest {
	return core.ProviderRequest{
		ModelID:      "anthropic.claude-3-haiku-20240307-v1:0",
		UserMessage:  "Summarize: The house was old.",
		SystemPrompt: "You are channeling the spirit of Edgar Allan Poe.",
		Temperature:  0.7,
		TopP:         0.9,
		MaxTokens:    3000,
	}
}

func respondJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	assert.NoError(t, err)
}

func TestHTTPClient_Invoke_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload provider.InvokeRequest

		decodeErr := json.NewDecoder(r.Body).Decode(&payload)
		assert.NoError(t, decodeErr)

		assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", payload.ModelID)
		assert.Equal(t, "Summarize: The house was old.", payload.Prompt)
		assert.Contains(t, payload.SystemPrompt, "Poe")
		if assert.NotNil(t, payload.Options.Temperature) && assert.NotNil(t, payload.Options.TopP) {
			assert.InDelta(t, 0.7, *payload.Options.Temperature, 1e-9)
			assert.InDelta(t, 0.9, *payload.Options.TopP, 1e-9)
		}

		assert.Equal(t, 3000, payload.Options.MaxTokens)

		respondJSON(t, w, http.StatusOK, provider.InvokeResponse{Text: "An old house."})
	}))
	defer server.Close()

	client := provider.NewHTTPClient(server.URL, 5*time.Second)

	text, err := client.Invoke(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "An old house.", text)
}

func TestHTTPClient_Invoke_SendsZeroSamplingParameters(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Options map[string]any `json:"options"`
		}

		decodeErr := json.NewDecoder(r.Body).Decode(&payload)
		assert.NoError(t, decodeErr)

		assert.Contains(t, payload.Options, "temperature")
		assert.Contains(t, payload.Options, "topP")
		assert.Equal(t, 0.0, payload.Options["temperature"])

		respondJSON(t, w, http.StatusOK, provider.InvokeResponse{Text: "Same every time."})
	}))
	defer server.Close()

	client := provider.NewHTTPClient(server.URL, 5*time.Second)

	request := sampleRequest()
	request.Temperature = 0
	request.TopP = 0

	text, err := client.Invoke(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, "Same every time.", text)
}

func TestHTTPClient_Invoke_ClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   any
		want   core.ErrorKind
	}{
		{name: "throttled code", status: http.StatusBadRequest, body: provider.ErrorResponse{Error: "slow down", Code: "ThrottlingException"}, want: core.KindProviderRetryable},
		{name: "too many requests", status: http.StatusTooManyRequests, body: provider.ErrorResponse{Error: "busy"}, want: core.KindProviderRetryable},
		{name: "internal error", status: http.StatusInternalServerError, body: provider.ErrorResponse{Error: "Internal server error"}, want: core.KindProviderRetryable},
		{name: "timeout message", status: http.StatusBadRequest, body: provider.ErrorResponse{Error: "Model Timeout"}, want: core.KindProviderRetryable},
		{name: "access denied", status: http.StatusForbidden, body: provider.ErrorResponse{Error: "denied", Code: "AccessDeniedException"}, want: core.KindProviderFatal},
		{name: "bad request", status: http.StatusBadRequest, body: provider.ErrorResponse{Error: "modelId and prompt are required"}, want: core.KindProviderFatal},
		{name: "missing text", status: http.StatusOK, body: map[string]string{"other": "x"}, want: core.KindProviderFatal},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				respondJSON(t, w, testCase.status, testCase.body)
			}))
			defer server.Close()

			client := provider.NewHTTPClient(server.URL, 5*time.Second)

			_, err := client.Invoke(context.Background(), sampleRequest())
			require.Error(t, err)
			assert.Equal(t, testCase.want, core.KindOf(err))
		})
	}
}

func TestHTTPClient_Invoke_NonJSONError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client := provider.NewHTTPClient(server.URL, 5*time.Second)

	_, err := client.Invoke(context.Background(), sampleRequest())
	require.ErrorIs(t, err, core.ErrProviderRetryable)
	assert.Contains(t, err.Error(), "HTTP 502: bad gateway")

	var classified *core.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, http.StatusBadGateway, classified.Status)
}

func TestHTTPClient_Invoke_TimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := provider.NewHTTPClient(server.URL, 20*time.Millisecond)

	_, err := client.Invoke(context.Background(), sampleRequest())
	require.ErrorIs(t, err, core.ErrProviderRetryable)
}

func TestHTTPClient_Invoke_UnreachableIsRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	client := provider.NewHTTPClient(endpoint, time.Second)

	_, err := client.Invoke(context.Background(), sampleRequest())
	require.ErrorIs(t, err, core.ErrProviderRetryable)
}

func TestHTTPClient_Invoke_RejectsIncompleteRequests(t *testing.T) {
	t.Parallel()

	client := provider.NewHTTPClient("http://127.0.0.1:1", time.Second)

	request := sampleRequest()
	request.ModelID = ""

	_, err := client.Invoke(context.Background(), request)
	require.ErrorIs(t, err, core.ErrValidation)

	request = sampleRequest()
	request.UserMessage = "  "

	_, err = client.Invoke(context.Background(), request)
	require.ErrorIs(t, err, core.ErrValidation)

	_, err = provider.NewHTTPClient("", time.Second).Invoke(context.Background(), sampleRequest())
	require.ErrorIs(t, err, core.ErrProviderFatal)
}

func TestHTTPClient_HealthCheck(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload provider.InvokeRequest

		decodeErr := json.NewDecoder(r.Body).Decode(&payload)
		assert.NoError(t, decodeErr)
		assert.Equal(t, 10, payload.Options.MaxTokens)

		respondJSON(t, w, http.StatusOK, provider.InvokeResponse{Text: "ok"})
	}))
	defer healthy.Close()

	require.NoError(t, provider.NewHTTPClient(healthy.URL, time.Second).HealthCheck(context.Background()))

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(t, w, http.StatusForbidden, provider.ErrorResponse{Error: "denied"})
	}))
	defer failing.Close()

	require.ErrorIs(t, provider.NewHTTPClient(failing.URL, time.Second).HealthCheck(context.Background()), core.ErrProviderFatal)
	require.ErrorIs(t, provider.NewHTTPClient("", time.Second).HealthCheck(context.Background()), provider.ErrNotConfigured)
}
