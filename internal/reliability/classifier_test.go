package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestCodeAndRetryable(t *testing.T) {
	cases := []struct {
		err       error
		code      string
		retryable bool
	}{
		{fmt.Errorf("generate: %w", HTTPError("gemini", 503, []byte(" overloaded "))), "503", true},
		{HTTPError("stt", 401, nil), "401", false},
		{RealtimeError("elevenlabs", "rate_limited", "slow down"), "rate_limited", true},
		{fmt.Errorf("ffmpeg: %w", context.DeadlineExceeded), "timeout", true},
		{context.Canceled, "canceled", false},
		{errors.New("boom"), "error", false},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.code {
			t.Fatalf("Code(%v) = %q, want %q", tc.err, got, tc.code)
		}
		if got := IsRetryable(tc.err); got != tc.retryable {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.retryable)
		}
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := HTTPError("gemini", 429, []byte("quota"))
	if got := err.Error(); got != "gemini http status 429: quota" {
		t.Fatalf("Error() = %q", got)
	}
}
