package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/pagedigest/internal/domain/followup"
	"github.com/yanqian/pagedigest/internal/domain/summarizer"
)

// Handler wires the HTTP transport to domain services.
type Handler struct {
	summarizerSvc summarizer.Service
	followupSvc   followup.Service
	providers     ProviderCatalog
	logger        *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(summarySvc summarizer.Service, followupSvc followup.Service, providers ProviderCatalog, logger *slog.Logger) *Handler {
	return &Handler{
		summarizerSvc: summarySvc,
		followupSvc:   followupSvc,
		providers:     providers,
		logger:        logger.With("component", "http.handler"),
	}
}

// Summarize handles the blocking summarization endpoint.
func (h *Handler) Summarize(c *gin.Context) {
	var req summarizer.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}

	resp, err := h.summarizerSvc.Summarize(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SummarizeStream reports orchestrator progress as Server-Sent Events and ends with the result.
func (h *Handler) SummarizeStream(c *gin.Context) {
	var req summarizer.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}

	stream, err := h.summarizerSvc.StreamSummary(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	sse := newEventWriter(c)
	for event := range stream {
		switch {
		case event.Error != nil:
			sse.fail(h.logger, event.Error)
		case event.Result != nil:
			sse.send("result", event.Result)
		case event.Progress != nil:
			sse.send("progress", event.Progress)
		}
	}
}

// CancelSession stops the in-flight summarization of a session.
func (h *Handler) CancelSession(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("id"))
	cancelled := h.summarizerSvc.Cancel(sessionID)
	h.logger.Debug("cancel requested", "session_id", sessionID, "cancelled", cancelled)
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "cancelled": cancelled})
}

// DeleteSession stops the session's summary and chat runs and forgets its active summary.
func (h *Handler) DeleteSession(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("id"))
	chatCancelled := h.followupSvc.Cancel(sessionID)
	cancelled, err := h.summarizerSvc.Forget(c.Request.Context(), sessionID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "cancelled": cancelled || chatCancelled})
}

// ActiveSummary returns the document the session is currently showing.
func (h *Handler) ActiveSummary(c *gin.Context) {
	doc, err := h.summarizerSvc.ActiveDocument(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Chat streams the answer to a follow-up question about the session's summary.
func (h *Handler) Chat(c *gin.Context) {
	var req followup.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	req.SessionID = strings.TrimSpace(c.Param("id"))

	answer, err := h.followupSvc.Ask(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	sse := newEventWriter(c)
	for chunk := range answer {
		switch {
		case chunk.Err != nil:
			sse.fail(h.logger, chunk.Err)
		case chunk.Completed:
			sse.send("done", gin.H{"completed": true})
		case chunk.Delta != "":
			sse.send("delta", gin.H{"delta": chunk.Delta})
		}
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
