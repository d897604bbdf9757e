package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/yanqian/pagedigest/internal/domain/session"
	"github.com/yanqian/pagedigest/internal/infra/docstore"
	"github.com/yanqian/pagedigest/internal/infra/llm"
	apperrors "github.com/yanqian/pagedigest/pkg/errors"
)

// Service exposes summarization capabilities.
type Service interface {
	Summarize(ctx context.Context, req Request) (Response, error)
	StreamSummary(ctx context.Context, req Request) (<-chan StreamEvent, error)
	Cancel(sessionID string) bool
	ActiveDocument(ctx context.Context, sessionID string) (Document, error)
	Forget(ctx context.Context, sessionID string) (bool, error)
}

// ProviderSource resolves a provider id to a client.
type ProviderSource interface {
	Get(id string) (llm.Provider, error)
}

type service struct {
	cfg       Config
	providers ProviderSource
	sessions  *session.Registry
	store     docstore.Store
	engine    *orchestrator
	logger    *slog.Logger
}

// NewService is a wire provider for the summarizer domain. fetcher and store may be nil.
func NewService(cfg Config, providers ProviderSource, fetcher ImageFetcher, sessions *session.Registry, store docstore.Store, logger *slog.Logger) Service {
	return newService(cfg, providers, fetcher, sessions, store, logger, sleepContext)
}

func newService(cfg Config, providers ProviderSource, fetcher ImageFetcher, sessions *session.Registry, store docstore.Store, logger *slog.Logger, sleep sleepFunc) *service {
	if sessions == nil {
		sessions = session.NewRegistry()
	}
	return &service{
		cfg:       cfg,
		providers: providers,
		sessions:  sessions,
		store:     store,
		engine:    &orchestrator{cfg: cfg, fetcher: fetcher, sleep: sleep},
		logger:    logger.With("component", "summarizer.service"),
	}
}

func (s *service) Summarize(ctx context.Context, req Request) (Response, error) {
	r, err := s.prepare(req, false, nil)
	if err != nil {
		return Response{}, err
	}
	return s.execute(ctx, r)
}

func (s *service) StreamSummary(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	out := make(chan StreamEvent, 16)
	send := func(ev StreamEvent) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}
	r, err := s.prepare(req, true, func(p Progress) { send(StreamEvent{Progress: &p}) })
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)
		resp, err := s.execute(ctx, r)
		if err != nil {
			send(StreamEvent{Error: err})
			return
		}
		send(StreamEvent{Result: &resp})
	}()
	return out, nil
}

func (s *service) Cancel(sessionID string) bool {
	cancelled := s.sessions.Cancel(strings.TrimSpace(sessionID))
	s.logger.Debug("cancel requested", "session_id", sessionID, "active", cancelled)
	return cancelled
}

func (s *service) ActiveDocument(ctx context.Context, sessionID string) (Document, error) {
	if s.store == nil || strings.TrimSpace(sessionID) == "" {
		return Document{}, apperrors.Wrap(CodeNotFound, "no active summary for session", nil)
	}
	payload, err := s.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Document{}, apperrors.Wrap(CodeNotFound, "no active summary for session", nil)
		}
		return Document{}, apperrors.Wrap("store_error", "load active summary", err)
	}
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Document{}, apperrors.Wrap("store_error", "decode active summary", err)
	}
	return doc, nil
}

// Forget stops the session's run and drops its stored document. It reports whether a run was
// stopped.
func (s *service) Forget(ctx context.Context, sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, apperrors.Wrap(CodeInvalidInput, "session id cannot be empty", nil)
	}
	cancelled := s.sessions.Cancel(sessionID)
	if s.store != nil {
		if err := s.store.Delete(ctx, sessionID); err != nil {
			return cancelled, apperrors.Wrap("store_error", "delete active summary", err)
		}
	}
	s.logger.Debug("session forgotten", "session_id", sessionID, "cancelled", cancelled)
	return cancelled, nil
}

// prepare validates the request and resolves its provider before any work starts.
func (s *service) prepare(req Request, stream bool, progress func(Progress)) (run, error) {
	req.Content.Text = normalize(req.Content.Text)
	if req.Content.Text == "" {
		return run{}, apperrors.Wrap(CodeInvalidInput, "content text cannot be empty", nil)
	}
	req.SessionID = strings.TrimSpace(req.SessionID)

	providerID := firstNonEmpty(req.Options.Provider, s.cfg.DefaultProvider)
	provider, err := s.providers.Get(providerID)
	if err != nil {
		return run{}, apperrors.Wrap(CodeProviderUnknown, "provider is not available", err)
	}
	return run{provider: provider, req: req, stream: stream, progress: progress}, nil
}

func (s *service) execute(ctx context.Context, r run) (Response, error) {
	runID := uuid.NewString()
	r.logger = s.logger.With("run_id", runID, "session_id", r.req.SessionID, "provider", r.provider.ID())
	started := time.Now()

	runCtx := ctx
	var tok session.Token
	var stamp uint64
	if r.req.SessionID != "" {
		runCtx, tok = s.sessions.Begin(ctx, r.req.SessionID)
		stamp = s.reserve(runCtx, r)
	}

	out, err := s.engine.execute(runCtx, r)

	current := true
	if r.req.SessionID != "" {
		current = s.sessions.End(tok)
	}
	if !current {
		cause := context.Cause(runCtx)
		if err == nil {
			err = cause
		}
		r.logger.Debug("discarding stale run", "cause", cause, "attempts", out.attempts)
		return Response{}, toAppError(runCtx, err)
	}
	if err != nil {
		appErr := toAppError(runCtx, err)
		switch apperrors.CodeOf(appErr) {
		case CodeCancelled, CodeSuperseded:
			r.logger.Debug("summarization cancelled", "attempts", out.attempts, "error", err)
		default:
			r.logger.Warn("summarization failed", "attempts", out.attempts, "error", err)
		}
		return Response{}, appErr
	}

	s.saveActive(ctx, r, stamp, out.doc)
	r.logger.Info("summarization state", "state", StageDone, "attempts", out.attempts, "chunks", out.chunks, "images", out.images)
	r.emit(Progress{Stage: StageDone, Attempt: out.attempts})
	return Response{
		Document:   out.doc,
		SessionID:  r.req.SessionID,
		RunID:      runID,
		Chunks:     out.chunks,
		Attempts:   out.attempts,
		ImagesUsed: out.images,
		DurationMs: time.Since(started).Milliseconds(),
	}, nil
}

// reserve takes the generation the run's document will be saved under. Taking it from the store
// orders runs across restarts and replicas. Zero means the document will not be saved.
func (s *service) reserve(ctx context.Context, r run) uint64 {
	if s.store == nil {
		return 0
	}
	stamp, err := s.store.Reserve(ctx, r.req.SessionID)
	if err != nil {
		r.logger.Warn("reserve summary generation failed", "error", err)
		return 0
	}
	return stamp
}

func (s *service) saveActive(ctx context.Context, r run, stamp uint64, doc Document) {
	if s.store == nil || r.req.SessionID == "" || stamp == 0 {
		return
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		r.logger.Warn("encode active summary failed", "error", err)
		return
	}
	saved, err := s.store.Save(context.WithoutCancel(ctx), r.req.SessionID, stamp, payload)
	if err != nil {
		r.logger.Warn("store active summary failed", "error", err)
		return
	}
	if !saved {
		r.logger.Debug("newer summary already stored", "generation", stamp)
	}
}

func normalize(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, text)
	return text
}
