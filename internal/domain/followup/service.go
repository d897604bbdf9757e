// Package followup answers questions about a summary that is already on screen.
package followup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yanqian/pagedigest/internal/domain/session"
	"github.com/yanqian/pagedigest/internal/domain/summarizer"
	"github.com/yanqian/pagedigest/internal/infra/llm"
	apperrors "github.com/yanqian/pagedigest/pkg/errors"
)

// Config configures the follow-up chat.
type Config struct {
	DefaultProvider string
	MaxHistory      int
	MaxOutputTokens int
}

// Turn is one earlier exchange in the conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request is a follow-up question.
type Request struct {
	SessionID      string               `json:"sessionId,omitempty"`
	Question       string               `json:"question"`
	History        []Turn               `json:"history,omitempty"`
	Document       *summarizer.Document `json:"document,omitempty"`
	Provider       string               `json:"provider,omitempty"`
	Model          string               `json:"model,omitempty"`
	TargetLanguage string               `json:"targetLanguage,omitempty"`
}

// Chunk is a streamed piece of the answer. The last chunk has Completed set or carries Err.
type Chunk struct {
	Delta     string `json:"delta,omitempty"`
	Completed bool   `json:"completed,omitempty"`
	Err       error  `json:"-"`
}

// Service exposes the follow-up protocol.
type Service interface {
	Ask(ctx context.Context, req Request) (<-chan Chunk, error)
	Cancel(sessionID string) bool
}

// DocumentSource returns the active summary of a session.
type DocumentSource interface {
	ActiveDocument(ctx context.Context, sessionID string) (summarizer.Document, error)
}

type service struct {
	cfg       Config
	providers summarizer.ProviderSource
	documents DocumentSource
	sessions  *session.Registry
	logger    *slog.Logger
}

// NewService is a wire provider for the follow-up domain.
func NewService(cfg Config, providers summarizer.ProviderSource, documents DocumentSource, sessions *session.Registry, logger *slog.Logger) Service {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 20
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1024
	}
	return &service{
		cfg:       cfg,
		providers: providers,
		documents: documents,
		sessions:  sessions,
		logger:    logger.With("component", "followup.service"),
	}
}

// chatKey keeps follow-up runs apart from the summarization run of the same session.
func chatKey(sessionID string) string {
	return sessionID + ":chat"
}

// Cancel stops the follow-up answer streaming for the session, if any.
func (s *service) Cancel(sessionID string) bool {
	return s.sessions.Cancel(chatKey(strings.TrimSpace(sessionID)))
}

func (s *service) Ask(ctx context.Context, req Request) (<-chan Chunk, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, apperrors.Wrap(summarizer.CodeInvalidInput, "question cannot be empty", nil)
	}
	sessionID := strings.TrimSpace(req.SessionID)

	doc, err := s.document(ctx, req, sessionID)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers.Get(firstNonEmpty(req.Provider, s.cfg.DefaultProvider))
	if err != nil {
		return nil, apperrors.Wrap(summarizer.CodeProviderUnknown, "provider is not available", err)
	}
	messages, err := s.buildMessages(doc, req.History, question, req.TargetLanguage)
	if err != nil {
		return nil, apperrors.Wrap(summarizer.CodeInvalidInput, "encode summary", err)
	}

	runCtx := ctx
	var tok session.Token
	if sessionID != "" {
		runCtx, tok = s.sessions.Begin(ctx, chatKey(sessionID))
	}
	end := func() bool {
		if sessionID == "" {
			return true
		}
		return s.sessions.End(tok)
	}

	stream, err := provider.StreamChat(runCtx, messages, llm.Options{Model: req.Model, MaxOutputTokens: s.cfg.MaxOutputTokens})
	if err != nil {
		end()
		return nil, s.toAppError(runCtx, err)
	}

	out := make(chan Chunk, 16)
	send := func(c Chunk) {
		select {
		case out <- c:
		case <-ctx.Done():
		}
	}
	go func() {
		defer close(out)
		answer, err := llm.CollectStream(stream, func(delta string) { send(Chunk{Delta: delta}) })
		current := end()
		switch {
		case err != nil:
			send(Chunk{Err: s.toAppError(runCtx, err)})
		case !current:
			send(Chunk{Err: s.toAppError(runCtx, context.Cause(runCtx))})
		default:
			s.logger.Debug("follow-up answered", "session_id", sessionID, "provider", provider.ID(), "chars", len(answer))
			send(Chunk{Completed: true})
		}
	}()
	return out, nil
}

func (s *service) document(ctx context.Context, req Request, sessionID string) (summarizer.Document, error) {
	if req.Document != nil {
		return *req.Document, nil
	}
	if sessionID == "" || s.documents == nil {
		return summarizer.Document{}, apperrors.Wrap(summarizer.CodeInvalidInput, "a document or a session id is required", nil)
	}
	return s.documents.ActiveDocument(ctx, sessionID)
}

func (s *service) buildMessages(doc summarizer.Document, history []Turn, question, language string) ([]llm.Message, error) {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var system strings.Builder
	system.WriteString("You answer follow-up questions about a web page summary. Ground every answer in the summary below and say so when it does not contain the answer.\n")
	if lang := strings.TrimSpace(language); lang != "" {
		fmt.Fprintf(&system, "Answer in %s.\n", lang)
	} else if doc.SummaryLanguage != "" {
		fmt.Fprintf(&system, "Answer in %s unless the question is written in another language.\n", doc.SummaryLanguage)
	}
	system.WriteString("Summary:\n")
	system.Write(encoded)

	if len(history) > s.cfg.MaxHistory {
		history = history[len(history)-s.cfg.MaxHistory:]
	}
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Text: system.String()})
	for _, turn := range history {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		role := llm.RoleUser
		if strings.EqualFold(turn.Role, string(llm.RoleAssistant)) {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Text: text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Text: question})
	return messages, nil
}

func (s *service) toAppError(ctx context.Context, err error) error {
	switch {
	case errors.Is(context.Cause(ctx), session.ErrSuperseded):
		return apperrors.Wrap(summarizer.CodeSuperseded, "superseded by a newer question", err)
	case errors.Is(err, llm.ErrCancelled), ctx.Err() != nil:
		return apperrors.Wrap(summarizer.CodeCancelled, "request cancelled", err)
	case errors.Is(err, llm.ErrTimeout):
		return apperrors.Wrap(summarizer.CodeTimeout, "model request timed out", err)
	default:
		s.logger.Warn("follow-up failed", "error", err)
		return apperrors.Wrap(summarizer.CodeLLM, "follow-up failed", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
