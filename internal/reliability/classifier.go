package reliability

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ProviderError describes a failed call to an external recognizer, text
// model or synthesizer.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Retryable  bool
	Detail     string
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("%s http status %d: %s", e.Provider, e.StatusCode, e.Detail)
	case e.Code != "":
		return fmt.Sprintf("%s %s: %s", e.Provider, e.Code, e.Detail)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Detail)
	}
}

// HTTPError builds a ProviderError for a non-2xx response.
func HTTPError(provider string, status int, body []byte) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Retryable:  IsRetryableHTTPStatus(status),
		Detail:     strings.TrimSpace(string(body)),
	}
}

// RealtimeError builds a ProviderError for an error frame on a streaming connection.
func RealtimeError(provider, messageType, detail string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      messageType,
		Retryable: IsRetryableRealtimeMessageType(messageType),
		Detail:    detail,
	}
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeMessageType classifies retryable upstream realtime errors.
func IsRetryableRealtimeMessageType(messageType string) bool {
	switch messageType {
	case "rate_limited", "resource_exhausted", "queue_overflow", "error":
		return true
	default:
		return false
	}
}

// Code returns a low-cardinality label for err, used by provider error metrics.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	switch {
	case errors.As(err, &pe):
		if pe.StatusCode > 0 {
			return strconv.Itoa(pe.StatusCode)
		}
		if pe.Code != "" {
			return pe.Code
		}
		return "provider_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// IsRetryable reports whether err was classified as transient by its provider.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}
