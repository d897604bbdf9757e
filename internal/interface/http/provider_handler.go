package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/pagedigest/internal/domain/summarizer"
	"github.com/yanqian/pagedigest/internal/infra/llm"
	apperrors "github.com/yanqian/pagedigest/pkg/errors"
)

const providerTestTimeout = 30 * time.Second

// ProviderCatalog lists the configured model backends.
type ProviderCatalog interface {
	List() []llm.Provider
	Get(id string) (llm.Provider, error)
	Fallback() string
}

type providerView struct {
	ID      string     `json:"id"`
	Family  llm.Family `json:"family"`
	Model   string     `json:"model"`
	Vision  bool       `json:"vision"`
	Default bool       `json:"default"`
}

// ListProviders returns every provider that was configured successfully.
func (h *Handler) ListProviders(c *gin.Context) {
	fallback := h.providers.Fallback()
	providers := h.providers.List()
	out := make([]providerView, 0, len(providers))
	for _, p := range providers {
		out = append(out, providerView{
			ID:      p.ID(),
			Family:  p.Family(),
			Model:   p.Model(),
			Vision:  p.SupportsVision(),
			Default: p.ID() == fallback,
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

// TestProvider sends a minimal prompt to check credentials and model name.
func (h *Handler) TestProvider(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	provider, err := h.providers.Get(id)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusNotFound, summarizer.CodeNotFound, "provider is not configured", err))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), providerTestTimeout)
	defer cancel()
	start := time.Now()
	if err := provider.TestConnection(ctx); err != nil {
		abortWithError(c, classifyProviderError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":        provider.ID(),
		"model":     provider.Model(),
		"ok":        true,
		"latencyMs": time.Since(start).Milliseconds(),
	})
}

func classifyProviderError(err error) error {
	var status *llm.StatusError
	switch {
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(summarizer.CodeTimeout, "provider did not answer in time", err)
	case errors.Is(err, llm.ErrCancelled):
		return apperrors.Wrap(summarizer.CodeCancelled, "provider test cancelled", err)
	case errors.As(err, &status):
		httpErr := NewHTTPError(http.StatusBadGateway, summarizer.CodeLLM, "provider rejected the request", err)
		httpErr.Details = map[string]any{"providerStatus": status.StatusCode}
		return httpErr
	default:
		return apperrors.Wrap(summarizer.CodeLLM, "provider test failed", err)
	}
}
