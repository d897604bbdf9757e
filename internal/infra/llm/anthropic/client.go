package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/yanqian/pagedigest/internal/infra/llm"
	"github.com/yanqian/pagedigest/internal/infra/llm/sse"
	"github.com/yanqian/pagedigest/pkg/metrics"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	// The messages API requires max_tokens on every request.
	defaultMaxTokens = 4096
)

// Request represents a request to the messages API.
type Request struct {
	Model       string      `json:"model"`
	System      []TextBlock `json:"system,omitempty"`
	Messages    []Message   `json:"messages"`
	MaxTokens   int         `json:"max_tokens"`
	Temperature *float32    `json:"temperature,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

// TextBlock is a system prompt element.
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Message is a user or assistant turn.
type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

// Content is a text or image block.
type Content struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource carries base64 image bytes with their media type.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Response represents a non-streaming reply.
type Response struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// StreamEvent represents one streaming event payload.
type StreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client implements the Anthropic messages protocol.
type Client struct {
	id        string
	apiKey    string
	baseURL   string
	model     string
	vision    bool
	requester llm.Requester
	logger    *slog.Logger
}

// NewClient creates an Anthropic client.
func NewClient(cfg llm.Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("anthropic model is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		id:        cfg.ID,
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     cfg.Model,
		vision:    cfg.Vision,
		requester: llm.NewRequester(cfg.ID, cfg.Timeout),
		logger:    logger.With("component", "llm.anthropic", "provider", cfg.ID),
	}, nil
}

func (c *Client) ID() string { return c.id }

func (c *Client) Family() llm.Family { return llm.FamilyAnthropic }

func (c *Client) Model() string { return c.model }

func (c *Client) SupportsVision() bool { return c.vision }

func (c *Client) headers() map[string]string {
	return map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

// SendChat performs a non-streaming completion.
func (c *Client) SendChat(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Completion, error) {
	req := c.convertRequest(messages, opts)
	body, err := c.requester.Send(ctx, c.baseURL+"/messages", c.headers(), req)
	if err != nil {
		return llm.Completion{}, err
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return llm.Completion{}, fmt.Errorf("decode anthropic response: %w", err)
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return llm.Completion{
		Text:  text.String(),
		Model: model,
		Usage: metrics.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// StreamChat performs a streaming completion.
func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.TextStream, error) {
	req := c.convertRequest(messages, opts)
	req.Stream = true
	body, err := c.requester.Open(ctx, c.baseURL+"/messages", c.headers(), req)
	if err != nil {
		return nil, err
	}
	return &Stream{ctx: ctx, provider: c.id, reader: sse.NewReader(body), logger: c.logger}, nil
}

// TestConnection sends a one-word prompt.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.SendChat(ctx, []llm.Message{{Role: llm.RoleUser, Text: "Reply with OK."}}, llm.Options{MaxOutputTokens: 5})
	return err
}

// convertRequest moves system text into the top-level system array. JSON mode has no
// equivalent in this protocol and is carried by the prompt alone.
func (c *Client) convertRequest(messages []llm.Message, opts llm.Options) Request {
	req := Request{
		Model:       c.model,
		MaxTokens:   defaultMaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	system, turns := llm.SplitSystem(messages)
	if system != "" {
		req.System = []TextBlock{{Type: "text", Text: system}}
	}
	for _, msg := range turns {
		req.Messages = append(req.Messages, Message{Role: string(msg.Role), Content: c.convertContent(msg)})
	}
	return req
}

func (c *Client) convertContent(msg llm.Message) []Content {
	content := make([]Content, 0, len(msg.Images)+1)
	if c.vision && msg.Role == llm.RoleUser {
		for _, img := range msg.Images {
			// Remote URLs are not accepted; images must arrive inline.
			if !img.IsInline() {
				c.logger.Debug("dropping remote image", "url", img.URL)
				continue
			}
			mime := img.MimeType
			if mime == "" {
				mime = "image/jpeg"
			}
			content = append(content, Content{
				Type:   "image",
				Source: &ImageSource{Type: "base64", MediaType: mime, Data: img.Base64},
			})
		}
	}
	content = append(content, Content{Type: "text", Text: msg.Text})
	return content
}

// Stream decodes content_block_delta events into text deltas.
type Stream struct {
	ctx      context.Context
	provider string
	reader   *sse.Reader
	logger   *slog.Logger
}

// Recv returns the next text delta.
func (s *Stream) Recv() (string, error) {
	for {
		payload, err := s.reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", llm.Classify(s.ctx, s.ctx, err)
		}
		var event StreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			s.logger.Debug("skipping malformed stream event", "error", err)
			continue
		}
		switch event.Type {
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				return event.Delta.Text, nil
			}
		case "message_stop":
			s.reader.Close()
			return "", io.EOF
		case "error":
			msg := "unknown error"
			if event.Error != nil {
				msg = event.Error.Type + ": " + event.Error.Message
			}
			return "", &llm.StreamError{Provider: s.provider, Message: msg}
		}
	}
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	return s.reader.Close()
}

var _ llm.Provider = (*Client)(nil)
