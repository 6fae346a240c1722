package source

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// NetworkError marks a fetch failure caused by connectivity or latency.
// The offline-fallback path masks these; they mean the upstream is
// unreachable, not that the request was wrong.
type NetworkError struct {
	Source types.SourceAPI
	Op     string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error during %s: %v", e.Source, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError marks a well-formed error response from an upstream API. These
// indicate a bug or contract change and are never masked by fallback.
type APIError struct {
	Source     types.SourceAPI
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// IsNetworkError reports whether err is classified as a network failure,
// including timeouts and cancelled contexts.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classifyTransportError wraps an error from the HTTP round trip as a
// NetworkError for the given source.
func classifyTransportError(sourceAPI types.SourceAPI, op string, err error) error {
	return &NetworkError{Source: sourceAPI, Op: op, Err: err}
}
