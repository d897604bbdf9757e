package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/yanqian/pagedigest/internal/infra/llm"
	"github.com/yanqian/pagedigest/internal/infra/llm/sse"
	"github.com/yanqian/pagedigest/pkg/metrics"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Request is the generateContent payload.
type Request struct {
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
	Contents          []Content        `json:"contents"`
	GenerationConfig  GenerationConfig `json:"generationConfig"`
}

// Content is a turn; Role is "user" or "model" and empty for the system instruction.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is text or inline image data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64 bytes.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GenerationConfig holds sampling parameters.
type GenerationConfig struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

// Response is shared by generateContent and each streamGenerateContent frame.
type Response struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text    string `json:"text"`
				Thought bool   `json:"thought,omitempty"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
	ModelVersion string `json:"modelVersion,omitempty"`
}

func (r Response) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var builder strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		builder.WriteString(part.Text)
	}
	return builder.String()
}

// Client implements the Google generative language protocol.
type Client struct {
	id        string
	apiKey    string
	baseURL   string
	model     string
	vision    bool
	requester llm.Requester
	logger    *slog.Logger
}

// NewClient creates a Gemini client.
func NewClient(cfg llm.Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("gemini model is required")
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
		logger:    logger.With("component", "llm.gemini", "provider", cfg.ID),
	}, nil
}

func (c *Client) ID() string { return c.id }

func (c *Client) Family() llm.Family { return llm.FamilyGemini }

func (c *Client) Model() string { return c.model }

func (c *Client) SupportsVision() bool { return c.vision }

func (c *Client) endpoint(model, method string, stream bool) string {
	endpoint := fmt.Sprintf("%s/models/%s:%s", c.baseURL, url.PathEscape(model), method)
	if stream {
		endpoint += "?alt=sse"
	}
	return endpoint
}

func (c *Client) headers() map[string]string {
	return map[string]string{"x-goog-api-key": c.apiKey}
}

// SendChat performs a generateContent call.
func (c *Client) SendChat(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Completion, error) {
	model := c.resolveModel(opts)
	body, err := c.requester.Send(ctx, c.endpoint(model, "generateContent", false), c.headers(), c.convertRequest(messages, opts))
	if err != nil {
		return llm.Completion{}, err
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return llm.Completion{}, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return llm.Completion{}, errors.New("gemini returned no candidates")
	}
	completion := llm.Completion{Text: resp.text(), Model: model}
	if resp.ModelVersion != "" {
		completion.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		completion.Usage = metrics.TokenUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return completion, nil
}

// StreamChat performs a streamGenerateContent call. The stream has no sentinel and ends with the body.
func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.TextStream, error) {
	model := c.resolveModel(opts)
	body, err := c.requester.Open(ctx, c.endpoint(model, "streamGenerateContent", true), c.headers(), c.convertRequest(messages, opts))
	if err != nil {
		return nil, err
	}
	return &Stream{ctx: ctx, reader: sse.NewReader(body), logger: c.logger}, nil
}

// TestConnection sends a one-word prompt.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.SendChat(ctx, []llm.Message{{Role: llm.RoleUser, Text: "Reply with OK."}}, llm.Options{MaxOutputTokens: 5})
	return err
}

func (c *Client) resolveModel(opts llm.Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.model
}

func (c *Client) convertRequest(messages []llm.Message, opts llm.Options) Request {
	req := Request{
		GenerationConfig: GenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
		},
	}
	if opts.JSONMode {
		req.GenerationConfig.ResponseMimeType = "application/json"
	}
	system, turns := llm.SplitSystem(messages)
	if system != "" {
		req.SystemInstruction = &Content{Parts: []Part{{Text: system}}}
	}
	for _, msg := range turns {
		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "model"
		}
		parts := []Part{{Text: msg.Text}}
		if c.vision && msg.Role == llm.RoleUser {
			for _, img := range msg.Images {
				if !img.IsInline() {
					c.logger.Debug("dropping remote image", "url", img.URL)
					continue
				}
				mime := img.MimeType
				if mime == "" {
					mime = "image/jpeg"
				}
				parts = append(parts, Part{InlineData: &InlineData{MimeType: mime, Data: img.Base64}})
			}
		}
		req.Contents = append(req.Contents, Content{Role: role, Parts: parts})
	}
	return req
}

// Stream decodes streamGenerateContent frames.
type Stream struct {
	ctx    context.Context
	reader *sse.Reader
	logger *slog.Logger
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
		var frame Response
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			s.logger.Debug("skipping malformed stream frame", "error", err)
			continue
		}
		if text := frame.text(); text != "" {
			return text, nil
		}
	}
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	return s.reader.Close()
}

var _ llm.Provider = (*Client)(nil)
