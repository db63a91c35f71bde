package llm

import (
	"fmt"

	"github.com/draftpilot/draftpilot/internal/stream"
)

type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported generator provider: %s", e.Provider)
}

// ValidationError rejects an action before any network call is made.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return e.Err
}

type CredentialError struct{}

func (CredentialError) Error() string {
	return "missing credential for remote generator"
}

// NetworkError covers requests that could not be sent, non-success
// responses and errors the generator reports inside a stream.
type NetworkError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e NetworkError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Body != "":
		return fmt.Sprintf("generator request failed: status %d: %s", e.StatusCode, e.Body)
	case e.StatusCode > 0:
		return fmt.Sprintf("generator request failed: status %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("generator request failed: %v", e.Err)
	default:
		return "generator request failed"
	}
}

func (e NetworkError) Unwrap() error {
	return e.Err
}

// StreamParseError is logged and skipped by the decoder; it never reaches
// callers of Stream.
type StreamParseError = stream.FrameError
