package retry

import (
	"net/http"
	"strings"

	"github.com/book-expert/interpretation-service/internal/core"
)

// retryableCodes are provider error names that signal a transient condition.
var retryableCodes = map[string]struct{}{
	"ThrottlingException":         {},
	"ServiceUnavailableException": {},
	"TooManyRequestsException":    {},
	"InternalServerException":     {},
	"ModelTimeoutException":       {},
}

// Classify maps a raw provider failure onto ProviderRetryable or ProviderFatal.
// A failure is retryable when its code is a known transient name, its message
// mentions throttling or a timeout, or its status is 429 or any 5xx.
func Classify(code string, status int, message string) core.ErrorKind {
	if _, ok := retryableCodes[code]; ok {
		return core.KindProviderRetryable
	}

	lowered := strings.ToLower(message)
	if strings.Contains(lowered, "throttl") || strings.Contains(lowered, "timeout") {
		return core.KindProviderRetryable
	}

	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return core.KindProviderRetryable
	}

	return core.KindProviderFatal
}

// NewProviderError builds the classified error a provider adapter returns.
func NewProviderError(code string, status int, message string, cause error) *core.ClassifiedError {
	classified := core.NewError(Classify(code, status, message), message, cause)
	classified.Code = code
	classified.Status = status

	return classified
}
