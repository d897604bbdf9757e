package summarizer

import (
	"context"
	"errors"

	"github.com/yanqian/pagedigest/internal/domain/session"
	"github.com/yanqian/pagedigest/internal/infra/llm"
	apperrors "github.com/yanqian/pagedigest/pkg/errors"
)

// Error codes attached to AppError values returned by the service.
const (
	CodeInvalidInput    = "invalid_input"
	CodeLLM             = "llm_error"
	CodeFreeText        = "free_text_response"
	CodeNoContent       = "no_content"
	CodeTimeout         = "timeout"
	CodeCancelled       = "cancelled"
	CodeSuperseded      = "superseded"
	CodeNotFound        = "not_found"
	CodeProviderUnknown = "provider_unknown"
)

// ErrMalformed marks a reply that looked structured but could not be decoded. It is retried.
var ErrMalformed = errors.New("malformed model response")

// FreeTextError carries a reply written as prose instead of a summary, usually a refusal.
type FreeTextError struct {
	Text string
}

func (e *FreeTextError) Error() string {
	return "model replied with free text instead of a summary"
}

// NoContentError reports that the model found nothing to summarize.
type NoContentError struct {
	Reason string
}

func (e *NoContentError) Error() string {
	if e.Reason == "" {
		return "page has no summarizable content"
	}
	return "page has no summarizable content: " + e.Reason
}

// isTerminal reports whether err must not be retried.
func isTerminal(err error) bool {
	var freeText *FreeTextError
	var noContent *NoContentError
	switch {
	case errors.As(err, &freeText), errors.As(err, &noContent):
		return true
	case errors.Is(err, llm.ErrCancelled), errors.Is(err, llm.ErrTimeout):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// toAppError maps an orchestration failure onto a service error code.
func toAppError(ctx context.Context, err error) error {
	var (
		appErr    *apperrors.AppError
		freeText  *FreeTextError
		noContent *NoContentError
	)
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(context.Cause(ctx), session.ErrSuperseded):
		return apperrors.Wrap(CodeSuperseded, "superseded by a newer request", err)
	case errors.As(err, &freeText):
		return apperrors.Wrap(CodeFreeText, freeText.Text, err)
	case errors.As(err, &noContent):
		return apperrors.Wrap(CodeNoContent, noContent.Error(), err)
	case errors.Is(err, llm.ErrCancelled), errors.Is(err, context.Canceled), ctx.Err() != nil:
		return apperrors.Wrap(CodeCancelled, "request cancelled", err)
	case errors.Is(err, llm.ErrTimeout):
		return apperrors.Wrap(CodeTimeout, "model request timed out", err)
	default:
		return apperrors.Wrap(CodeLLM, "summarization failed", err)
	}
}
