package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/pagedigest/internal/domain/summarizer"
	"github.com/yanqian/pagedigest/internal/infra/authtoken"
	apperrors "github.com/yanqian/pagedigest/pkg/errors"
)

// HTTPError captures the metadata required to serialize an error response consistently.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// NewHTTPError is a helper to build an HTTPError instance.
func NewHTTPError(status int, code, message string, err error) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message, Err: err}
}

// body is the JSON error envelope shared by plain responses and SSE error frames.
func (e *HTTPError) body() gin.H {
	payload := gin.H{
		"code":    e.Code,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		payload["details"] = e.Details
	}
	return gin.H{"error": payload}
}

// expected reports errors that are part of normal operation, such as a user pressing stop.
func (e *HTTPError) expected() bool {
	return e.Code == summarizer.CodeCancelled || e.Code == summarizer.CodeSuperseded
}

var codeStatus = map[string]int{
	summarizer.CodeInvalidInput:    http.StatusBadRequest,
	summarizer.CodeProviderUnknown: http.StatusBadRequest,
	summarizer.CodeNotFound:        http.StatusNotFound,
	summarizer.CodeFreeText:        http.StatusUnprocessableEntity,
	summarizer.CodeNoContent:       http.StatusUnprocessableEntity,
	summarizer.CodeTimeout:         http.StatusGatewayTimeout,
	summarizer.CodeCancelled:       http.StatusConflict,
	summarizer.CodeSuperseded:      http.StatusConflict,
	summarizer.CodeLLM:             http.StatusBadGateway,
	authtoken.CodeInvalidToken:     http.StatusUnauthorized,
}

func asHTTPError(err error) *HTTPError {
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status, ok := codeStatus[appErr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		out := &HTTPError{Status: status, Code: appErr.Code, Message: appErr.Message, Err: err}
		var freeText *summarizer.FreeTextError
		if errors.As(err, &freeText) {
			out.Details = map[string]any{"text": freeText.Text}
		}
		var noContent *summarizer.NoContentError
		if errors.As(err, &noContent) {
			out.Details = map[string]any{"reason": noContent.Reason}
		}
		return out
	}
	return &HTTPError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "something went wrong",
		Err:     err,
	}
}

func abortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(asHTTPError(err))
	c.Abort()
}
