package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds every non-streaming call regardless of the caller's context.
const DefaultRequestTimeout = 90 * time.Second

// Requester posts JSON payloads for a provider client and maps failures onto the llm error taxonomy.
type Requester struct {
	Provider   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewRequester builds a requester. The http.Client carries no timeout of its own so that
// streaming bodies can outlive DefaultRequestTimeout.
func NewRequester(provider string, timeout time.Duration) Requester {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return Requester{
		Provider:   provider,
		HTTPClient: &http.Client{},
		Timeout:    timeout,
	}
}

// Send performs a non-streaming call under the request timeout and returns the response body.
func (r Requester) Send(ctx context.Context, endpoint string, headers map[string]string, payload any) ([]byte, error) {
	if err := CheckContext(ctx); err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithTimeoutCause(ctx, r.Timeout, ErrTimeout)
	defer cancel()

	resp, err := r.do(reqCtx, endpoint, headers, payload, false)
	if err != nil {
		return nil, Classify(ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(ctx, reqCtx, fmt.Errorf("read %s response: %w", r.Provider, err))
	}
	return body, nil
}

// Open starts a streaming call and returns the live response body. Only the caller's context applies.
func (r Requester) Open(ctx context.Context, endpoint string, headers map[string]string, payload any) (io.ReadCloser, error) {
	if err := CheckContext(ctx); err != nil {
		return nil, err
	}
	resp, err := r.do(ctx, endpoint, headers, payload, true)
	if err != nil {
		return nil, Classify(ctx, ctx, err)
	}
	return resp.Body, nil
}

func (r Requester) do(ctx context.Context, endpoint string, headers map[string]string, payload any, stream bool) (*http.Response, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", r.Provider, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", r.Provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := r.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", r.Provider, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{Provider: r.Provider, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}
