package followup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/pagedigest/internal/domain/session"
	"github.com/yanqian/pagedigest/internal/domain/summarizer"
	"github.com/yanqian/pagedigest/internal/infra/llm"
	apperrors "github.com/yanqian/pagedigest/pkg/errors"
)

type chatProvider struct {
	mu       sync.Mutex
	messages [][]llm.Message
	deltas   []string
	openErr  error
	gate     chan struct{}
}

func (p *chatProvider) ID() string { return "stub" }
func (p *chatProvider) Family() llm.Family { return llm.FamilyOpenAI }
func (p *chatProvider) Model() string { return "stub-model" }
func (p *chatProvider) SupportsVision() bool { return false }
func (p *chatProvider) TestConnection(context.Context) error { return nil }

func (p *chatProvider) SendChat(context.Context, []llm.Message, llm.Options) (llm.Completion, error) {
	return llm.Completion{}, errors.New("not used")
}

func (p *chatProvider) StreamChat(ctx context.Context, messages []llm.Message, _ llm.Options) (llm.TextStream, error) {
	p.mu.Lock()
	p.messages = append(p.messages, messages)
	p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	return &gatedStream{ctx: ctx, deltas: append([]string(nil), p.deltas...), gate: p.gate}, nil
}

type gatedStream struct {
	ctx    context.Context
	deltas []string
	gate   chan struct{}
}

func (s *gatedStream) Recv() (string, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.ctx.Done():
			return "", llm.CheckContext(s.ctx)
		}
	}
	if len(s.deltas) == 0 {
		return "", io.EOF
	}
	next := s.deltas[0]
	s.deltas = s.deltas[1:]
	return next, nil
}

func (s *gatedStream) Close() error { return nil }

type singleProvider struct{ p llm.Provider }

func (s singleProvider) Get(id string) (llm.Provider, error) {
	if id != "" && id != s.p.ID() {
		return nil, errors.New("unknown provider")
	}
	return s.p, nil
}

type docSource map[string]summarizer.Document

func (d docSource) ActiveDocument(_ context.Context, sessionID string) (summarizer.Document, error) {
	doc, ok := d[sessionID]
	if !ok {
		return summarizer.Document{}, apperrors.Wrap(summarizer.CodeNotFound, "no active summary for session", nil)
	}
	return doc, nil
}

func newTestService(provider llm.Provider, docs DocumentSource, sessions *session.Registry) Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(Config{DefaultProvider: "stub", MaxHistory: 2}, singleProvider{p: provider}, docs, sessions, logger)
}

func drain(t *testing.T, ch <-chan Chunk) (string, Chunk) {
	t.Helper()
	var text strings.Builder
	var last Chunk
	for c := range ch {
		text.WriteString(c.Delta)
		last = c
	}
	return text.String(), last
}

func TestAskStreamsAnswerFromActiveDocument(t *testing.T) {
	provider := &chatProvider{deltas: []string{"The page ", "says yes."}}
	docs := docSource{"s1": {InferredTitle: "Release notes", Summary: "Version 2 ships today.", SummaryLanguage: "English"}}
	svc := newTestService(provider, docs, session.NewRegistry())

	ch, err := svc.Ask(context.Background(), Request{
		SessionID: "s1",
		Question:  "Does it ship today?",
		History: []Turn{
			{Role: "user", Text: "dropped by history cap"},
			{Role: "user", Text: "What is this?"},
			{Role: "assistant", Text: "Release notes."},
		},
	})
	require.NoError(t, err)
	text, last := drain(t, ch)
	require.Equal(t, "The page says yes.", text)
	require.True(t, last.Completed)
	require.NoError(t, last.Err)

	require.Len(t, provider.messages, 1)
	msgs := provider.messages[0]
	require.Len(t, msgs, 4)
	require.Equal(t, llm.RoleSystem, msgs[0].Role)
	require.Contains(t, msgs[0].Text, "Version 2 ships today.")
	require.Contains(t, msgs[0].Text, "Answer in English")
	require.Equal(t, llm.RoleUser, msgs[1].Role)
	require.Equal(t, "What is this?", msgs[1].Text)
	require.Equal(t, llm.RoleAssistant, msgs[2].Role)
	require.Equal(t, "Does it ship today?", msgs[3].Text)
}

func TestAskUsesInlineDocumentAndLanguage(t *testing.T) {
	provider := &chatProvider{deltas: []string{"ok"}}
	svc := newTestService(provider, nil, session.NewRegistry())

	ch, err := svc.Ask(context.Background(), Request{
		Question:       "Summarize again",
		Document:       &summarizer.Document{Summary: "inline summary"},
		TargetLanguage: "German",
	})
	require.NoError(t, err)
	_, last := drain(t, ch)
	require.True(t, last.Completed)
	require.Contains(t, provider.messages[0][0].Text, "inline summary")
	require.Contains(t, provider.messages[0][0].Text, "Answer in German.")
}

func TestAskValidation(t *testing.T) {
	svc := newTestService(&chatProvider{}, docSource{}, session.NewRegistry())

	_, err := svc.Ask(context.Background(), Request{Question: "  "})
	require.True(t, apperrors.IsCode(err, summarizer.CodeInvalidInput))

	_, err = svc.Ask(context.Background(), Request{Question: "why?"})
	require.True(t, apperrors.IsCode(err, summarizer.CodeInvalidInput))

	_, err = svc.Ask(context.Background(), Request{SessionID: "missing", Question: "why?"})
	require.True(t, apperrors.IsCode(err, summarizer.CodeNotFound))

	_, err = svc.Ask(context.Background(), Request{Question: "why?", Provider: "other", Document: &summarizer.Document{}})
	require.True(t, apperrors.IsCode(err, summarizer.CodeProviderUnknown))
}

func TestAskOpenFailureIsClassified(t *testing.T) {
	sessions := session.NewRegistry()
	provider := &chatProvider{openErr: &llm.StatusError{Provider: "stub", StatusCode: 500, Body: "boom"}}
	svc := newTestService(provider, nil, sessions)

	_, err := svc.Ask(context.Background(), Request{SessionID: "s1", Question: "q", Document: &summarizer.Document{}})
	require.True(t, apperrors.IsCode(err, summarizer.CodeLLM))
	require.Equal(t, 0, sessions.Active())
}

func TestAskNewQuestionSupersedesPrevious(t *testing.T) {
	sessions := session.NewRegistry()
	gate := make(chan struct{})
	provider := &chatProvider{deltas: []string{"late"}, gate: gate}
	svc := newTestService(provider, nil, sessions)
	doc := &summarizer.Document{Summary: "s"}

	first, err := svc.Ask(context.Background(), Request{SessionID: "s1", Question: "one", Document: doc})
	require.NoError(t, err)

	provider.gate = nil
	provider.deltas = []string{"fresh"}
	second, err := svc.Ask(context.Background(), Request{SessionID: "s1", Question: "two", Document: doc})
	require.NoError(t, err)

	_, last := drain(t, first)
	require.True(t, apperrors.IsCode(last.Err, summarizer.CodeSuperseded))

	text, last := drain(t, second)
	require.Equal(t, "fresh", text)
	require.True(t, last.Completed)
	close(gate)
}

func TestCancelStopsAnswer(t *testing.T) {
	sessions := session.NewRegistry()
	_, summaryTok := sessions.Begin(context.Background(), "s1")
	provider := &chatProvider{deltas: []string{"never"}, gate: make(chan struct{})}
	svc := newTestService(provider, nil, sessions)

	ch, err := svc.Ask(context.Background(), Request{SessionID: "s1", Question: "q", Document: &summarizer.Document{}})
	require.NoError(t, err)
	require.True(t, svc.Cancel(" s1 "))

	_, last := drain(t, ch)
	require.True(t, apperrors.IsCode(last.Err, summarizer.CodeCancelled))
	require.False(t, svc.Cancel("s1"))
	require.True(t, sessions.End(summaryTok), "the summary run of the session is left alone")
}
