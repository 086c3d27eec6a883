package jobs

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	openai "github.com/openai/openai-go/v3"

	"github.com/librettohq/libretto/internal/align"
	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/types"
)

// Transient reports whether err is worth retrying: deadlines, dropped
// connections, throttling, and 5xx-class provider responses. Explicit
// cancellation and domain errors are permanent.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var rle *providers.RateLimitError
	if errors.As(err, &rle) {
		return true
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}

// Reason maps an error to the machine-readable reason carried on error
// events. The HTTP layer keys its status codes off the same values.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, types.ErrUnknownVoice):
		return "unknown_voice"
	case errors.Is(err, types.ErrBusy):
		return "busy"
	}

	var diverged *align.DivergedError
	if errors.As(err, &diverged) {
		return "diverged"
	}

	return "internal"
}
