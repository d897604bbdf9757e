package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrCancelled means the caller's context ended before the backend answered.
	ErrCancelled = errors.New("llm request cancelled")
	// ErrTimeout means the per-request wall-clock limit expired.
	ErrTimeout = errors.New("llm request timed out")
)

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request failed: status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}

// StreamError is reported in-band by a backend while streaming.
type StreamError struct {
	Provider string
	Message  string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s stream error: %s", e.Provider, e.Message)
}

// Classify converts a transport error into ErrCancelled or ErrTimeout when one of the two
// contexts explains it. parent is the caller's context, reqCtx the per-request child (may equal parent).
func Classify(parent, reqCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrTimeout) {
		return err
	}
	if parent.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(parent))
	}
	if reqCtx.Err() != nil && errors.Is(context.Cause(reqCtx), ErrTimeout) {
		return ErrTimeout
	}
	return err
}

// CheckContext fails fast with ErrCancelled when the caller already gave up.
func CheckContext(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
	return nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
