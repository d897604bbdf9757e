// Package llm holds the provider-neutral chat types shared by every backend family.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yanqian/pagedigest/pkg/metrics"
)

// Role is the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Family names a wire protocol. Several provider ids may share one family.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyGemini    Family = "gemini"
)

// Image is either an inline base64 payload or a remote URL, never both.
type Image struct {
	Base64   string `json:"base64,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url,omitempty"`
}

// IsInline reports whether the image carries its own bytes.
func (i Image) IsInline() bool {
	return i.Base64 != ""
}

// DataURL renders an inline image as a data: URL. Remote images return their URL unchanged.
func (i Image) DataURL() string {
	if !i.IsInline() {
		return i.URL
	}
	mime := i.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, i.Base64)
}

// Message is one immutable turn of a chat exchange.
type Message struct {
	Role   Role    `json:"role"`
	Text   string  `json:"text"`
	Images []Image `json:"images,omitempty"`
}

// Options tune a single chat call. Cancellation travels in the context.
type Options struct {
	Model           string
	Temperature     *float32
	MaxOutputTokens int
	// JSONMode asks the backend to constrain output to an object. Backends without support ignore it.
	JSONMode bool
}

// Completion is the full reply of a non-streaming call.
type Completion struct {
	Text  string
	Model string
	Usage metrics.TokenUsage
}

// TextStream yields incremental text deltas. Recv returns io.EOF once the reply is complete.
// A stream is not restartable; a new call re-issues the request.
type TextStream interface {
	Recv() (string, error)
	Close() error
}

// Provider is implemented by each backend family.
type Provider interface {
	ID() string
	Family() Family
	Model() string
	SupportsVision() bool
	SendChat(ctx context.Context, messages []Message, opts Options) (Completion, error)
	StreamChat(ctx context.Context, messages []Message, opts Options) (TextStream, error)
	TestConnection(ctx context.Context) error
}

// Config describes one configured backend.
type Config struct {
	ID      string
	Family  Family
	BaseURL string
	APIKey  string
	Model   string
	// TokenLimitField overrides the request field carrying the output limit (OpenAI family only).
	TokenLimitField string
	Vision          bool
	Timeout         time.Duration
}

// SplitSystem separates system text from the conversational turns. Multiple system messages are
// joined with blank lines, for families that carry the system prompt outside the message list.
func SplitSystem(messages []Message) (string, []Message) {
	var (
		system []string
		rest   = make([]Message, 0, len(messages))
	)
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if text := strings.TrimSpace(msg.Text); text != "" {
				system = append(system, text)
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}

// CollectStream drains a stream into a single string, forwarding each delta to onDelta when set.
func CollectStream(stream TextStream, onDelta func(string)) (string, error) {
	defer stream.Close()
	var builder strings.Builder
	for {
		delta, err := stream.Recv()
		if err != nil {
			if isEOF(err) {
				return builder.String(), nil
			}
			return builder.String(), err
		}
		builder.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
}
