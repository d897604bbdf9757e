package chatgpt

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

const defaultBaseURL = "https://api.openai.com/v1"

// Token limit field names. OpenAI's own API rejects max_tokens for newer models while most
// compatible backends only understand max_tokens.
const (
	FieldMaxTokens           = "max_tokens"
	FieldMaxCompletionTokens = "max_completion_tokens"
)

// Message mirrors the OpenAI chat message structure. Content is a string or a list of parts.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references a remote image or a data: URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ResponseFormat constrains the reply shape.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatCompletionRequest is the payload sent to the chat completions endpoint.
type ChatCompletionRequest struct {
	Model               string          `json:"model"`
	Messages            []Message       `json:"messages"`
	Temperature         *float32        `json:"temperature,omitempty"`
	MaxTokens           int             `json:"max_tokens,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *ResponseFormat `json:"response_format,omitempty"`
	Stream              bool            `json:"stream,omitempty"`
}

// ChatCompletionResponse captures the response for non streaming calls.
type ChatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ChatCompletionStreamChunk captures a streaming frame.
type ChatCompletionStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Client talks to any OpenAI-compatible chat completions API.
type Client struct {
	id              string
	apiKey          string
	baseURL         string
	model           string
	tokenLimitField string
	vision          bool
	requester       llm.Requester
	logger          *slog.Logger
}

// NewClient constructs an OpenAI-compatible client.
func NewClient(cfg llm.Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" && cfg.ID == "openai" {
		return nil, errors.New("openai api key cannot be empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%s model cannot be empty", cfg.ID)
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	field := cfg.TokenLimitField
	if field == "" {
		field = defaultTokenLimitField(cfg.ID)
	}
	if field != FieldMaxTokens && field != FieldMaxCompletionTokens {
		return nil, fmt.Errorf("%s: unsupported token limit field %q", cfg.ID, field)
	}
	return &Client{
		id:              cfg.ID,
		apiKey:          cfg.APIKey,
		baseURL:         strings.TrimRight(baseURL, "/"),
		model:           cfg.Model,
		tokenLimitField: field,
		vision:          cfg.Vision,
		requester:       llm.NewRequester(cfg.ID, cfg.Timeout),
		logger:          logger.With("component", "llm.chatgpt", "provider", cfg.ID),
	}, nil
}

func defaultTokenLimitField(id string) string {
	if id == "openai" {
		return FieldMaxCompletionTokens
	}
	return FieldMaxTokens
}

func (c *Client) ID() string { return c.id }
func (c *Client) Family() llm.Family { return llm.FamilyOpenAI }
func (c *Client) Model() string { return c.model }
func (c *Client) SupportsVision() bool { return c.vision }
func (c *Client) endpoint() string { return c.baseURL + "/chat/completions" }
func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

// SendChat performs one non-streaming completion.
func (c *Client) SendChat(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Completion, error) {
	req := c.buildRequest(messages, opts)
	body, err := c.requester.Send(ctx, c.endpoint(), c.headers(), req)
	if err != nil {
		return llm.Completion{}, err
	}
	var out ChatCompletionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return llm.Completion{}, fmt.Errorf("decode chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return llm.Completion{}, errors.New("chat completion returned no choices")
	}
	completion := llm.Completion{Text: out.Choices[0].Message.Content, Model: firstNonEmpty(out.Model, req.Model)}
	if out.Usage != nil {
		completion.Usage = metrics.TokenUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		}
	}
	return completion, nil
}

// StreamChat starts a streaming completion.
func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.TextStream, error) {
	req := c.buildRequest(messages, opts)
	req.Stream = true
	body, err := c.requester.Open(ctx, c.endpoint(), c.headers(), req)
	if err != nil {
		return nil, err
	}
	return &ChatCompletionStream{ctx: ctx, reader: sse.NewReader(body), logger: c.logger}, nil
}

// TestConnection issues a minimal completion to validate credentials and model.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.SendChat(ctx, []llm.Message{{Role: llm.RoleUser, Text: "Reply with OK."}}, llm.Options{MaxOutputTokens: 5})
	return err
}

func (c *Client) buildRequest(messages []llm.Message, opts llm.Options) ChatCompletionRequest {
	req := ChatCompletionRequest{
		Model:       firstNonEmpty(opts.Model, c.model),
		Messages:    make([]Message, 0, len(messages)),
		Temperature: opts.Temperature,
	}
	if opts.MaxOutputTokens > 0 {
		if c.tokenLimitField == FieldMaxCompletionTokens {
			req.MaxCompletionTokens = opts.MaxOutputTokens
		} else {
			req.MaxTokens = opts.MaxOutputTokens
		}
	}
	if opts.JSONMode {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, c.convertMessage(msg))
	}
	return req
}

func (c *Client) convertMessage(msg llm.Message) Message {
	images := msg.Images
	if len(images) > 0 && (!c.vision || msg.Role != llm.RoleUser) {
		c.logger.Debug("dropping images unsupported by provider", "count", len(images), "role", msg.Role)
		images = nil
	}
	if len(images) == 0 {
		return Message{Role: string(msg.Role), Content: msg.Text}
	}
	parts := make([]ContentPart, 0, len(images)+1)
	parts = append(parts, ContentPart{Type: "text", Text: msg.Text})
	for _, img := range images {
		url := img.DataURL()
		if url == "" {
			continue
		}
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}})
	}
	return Message{Role: string(msg.Role), Content: parts}
}

// ChatCompletionStream wraps a streaming HTTP response.
type ChatCompletionStream struct {
	ctx    context.Context
	reader *sse.Reader
	logger *slog.Logger
}

// Recv reads the next non-empty text delta.
func (s *ChatCompletionStream) Recv() (string, error) {
	for {
		payload, err := s.reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", llm.Classify(s.ctx, s.ctx, err)
		}
		var chunk ChatCompletionStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			s.logger.Debug("skipping malformed stream chunk", "error", err)
			continue
		}
		var builder strings.Builder
		for _, choice := range chunk.Choices {
			builder.WriteString(choice.Delta.Content)
		}
		if builder.Len() == 0 {
			continue
		}
		return builder.String(), nil
	}
}

// Close closes the underlying stream.
func (s *ChatCompletionStream) Close() error {
	return s.reader.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ llm.Provider = (*Client)(nil)
