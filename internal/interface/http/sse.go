package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// eventWriter emits named Server-Sent Events. Once it exists the status line is committed, so
// failures travel as "error" events carrying the usual error envelope.
type eventWriter struct {
	c *gin.Context
}

func newEventWriter(c *gin.Context) *eventWriter {
	headers := c.Writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	return &eventWriter{c: c}
}

func (w *eventWriter) send(event string, data any) {
	w.c.SSEvent(event, data)
	w.c.Writer.Flush()
}

func (w *eventWriter) fail(logger *slog.Logger, err error) {
	httpErr := asHTTPError(err)
	logError(logger, w.c.Request.URL.Path, httpErr)
	payload := httpErr.body()
	payload["status"] = httpErr.Status
	w.send("error", payload)
}
