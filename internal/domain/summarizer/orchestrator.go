package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yanqian/pagedigest/internal/infra/chunker"
	"github.com/yanqian/pagedigest/internal/infra/imagefetch"
	"github.com/yanqian/pagedigest/internal/infra/llm"
	"github.com/yanqian/pagedigest/pkg/metrics"
)

// ImageFetcher downloads page images for the image round trip.
type ImageFetcher interface {
	Fetch(ctx context.Context, refs []imagefetch.Ref, max int) ([]imagefetch.Image, error)
}

// sleepFunc waits for d or until ctx ends.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return llm.CheckContext(ctx)
	case <-timer.C:
		return nil
	}
}

// orchestrator drives chunking, model calls, retries and the image round trip for one run.
type orchestrator struct {
	cfg     Config
	fetcher ImageFetcher
	sleep   sleepFunc
}

// run is the immutable input of one orchestration; every attempt starts again from it.
type run struct {
	provider llm.Provider
	req      Request
	stream   bool
	progress func(Progress)
	logger   *slog.Logger
}

func (r run) emit(p Progress) {
	if r.progress != nil {
		r.progress(p)
	}
}

type outcome struct {
	doc      Document
	chunks   int
	attempts int
	images   int
}

// attempt carries the mutable state of a single try. It is discarded on retry.
type attempt struct {
	number  int
	chunks  []string
	images  []imagefetch.Image
	notes   string
	usage   metrics.TokenUsage
	model   string
	prompts promptContext
	tokens  placeholders
}

func (o *orchestrator) execute(ctx context.Context, r run) (outcome, error) {
	maxAttempts := max(o.cfg.MaxRetries, 0) + 1
	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		if n > 1 {
			backoff := o.cfg.RetryBackoff * time.Duration(n-1)
			r.logger.Warn("retrying summarization", "attempt", n, "backoff_ms", backoff.Milliseconds(), "error", lastErr)
			r.emit(Progress{Stage: StageRetrying, Attempt: n})
			if err := o.sleep(ctx, backoff); err != nil {
				return outcome{attempts: n - 1}, err
			}
		}
		out, err := o.runAttempt(ctx, r, n)
		if err == nil {
			out.attempts = n
			return out, nil
		}
		if isTerminal(err) || ctx.Err() != nil {
			return outcome{attempts: n}, err
		}
		lastErr = err
	}
	return outcome{attempts: maxAttempts}, lastErr
}

func (o *orchestrator) runAttempt(ctx context.Context, r run, n int) (outcome, error) {
	a := &attempt{
		number: n,
		images: append([]imagefetch.Image(nil), r.req.Content.Images...),
		tokens: newPlaceholders(r.req.Content),
		prompts: promptContext{
			content: r.req.Content,
			opts:    r.req.Options,
			detail:  normalizeDetail(r.req.Options.DetailLevel),
		},
	}

	r.emit(Progress{Stage: StageChunking, Attempt: n})
	window := r.req.Options.ContextWindow
	if window <= 0 {
		window = o.cfg.ContextWindow
	}
	a.chunks = chunker.Split(r.req.Content.Text, window)
	a.prompts.requestable = o.requestable(r, a)
	eligible := a.prompts.requestable > 0

	var (
		result ParseResult
		err    error
	)
	if len(a.chunks) == 1 {
		r.logger.Info("summarization state", "state", StageOneShot, "attempt", n)
		r.emit(Progress{Stage: StageOneShot, Chunk: 1, Chunks: 1, Attempt: n})
		result, err = o.structured(ctx, r, a, eligible)
	} else {
		r.logger.Info("summarization state", "state", StageRolling, "attempt", n, "chunks", len(a.chunks))
		result, err = o.rolling(ctx, r, a, eligible)
	}
	if err != nil {
		return outcome{}, err
	}

	if result.Kind == KindNeedsImages {
		r.logger.Info("summarization state", "state", StageRoundTrip, "attempt", n, "requested", len(result.ImageRequests))
		r.emit(Progress{Stage: StageRoundTrip, Chunk: len(a.chunks), Chunks: len(a.chunks), Attempt: n})
		if err := o.fetchRequested(ctx, r, a, result.ImageRequests); err != nil {
			return outcome{}, err
		}
		result, err = o.structured(ctx, r, a, false)
		if err != nil {
			return outcome{}, err
		}
	}

	switch result.Kind {
	case KindDocument:
	case KindFreeText:
		return outcome{}, &FreeTextError{Text: result.Text}
	case KindNoContent:
		return outcome{}, &NoContentError{Reason: result.Reason}
	default:
		return outcome{}, fmt.Errorf("%w: unexpected %s reply", ErrMalformed, result.Kind)
	}

	r.logger.Info("summarization state", "state", StageResolving, "attempt", n)
	r.emit(Progress{Stage: StageResolving, Attempt: n})
	doc := a.tokens.resolveDocument(result.Document)
	doc.Provider = r.provider.ID()
	doc.Model = a.model
	if doc.Model == "" {
		doc.Model = firstNonEmpty(r.req.Options.Model, r.provider.Model())
	}
	if !a.usage.IsZero() {
		usage := a.usage
		doc.TokenUsage = &usage
	}
	return outcome{doc: doc, chunks: len(a.chunks), images: len(a.images)}, nil
}

// rolling condenses every chunk but the last into running notes, then asks for the document.
func (o *orchestrator) rolling(ctx context.Context, r run, a *attempt, eligible bool) (ParseResult, error) {
	total := len(a.chunks)
	for i, chunk := range a.chunks[:total-1] {
		index := i + 1
		r.emit(Progress{Stage: StageRolling, Chunk: index, Chunks: total, Attempt: a.number})
		var messages []llm.Message
		if index == 1 {
			messages = []llm.Message{
				{Role: llm.RoleSystem, Text: a.prompts.notesSystemPrompt(true)},
				{Role: llm.RoleUser, Text: a.prompts.firstPartUser(chunk, total), Images: a.llmImages()},
			}
		} else {
			messages = []llm.Message{
				{Role: llm.RoleSystem, Text: a.prompts.notesSystemPrompt(false)},
				{Role: llm.RoleUser, Text: a.prompts.nextPartUser(a.notes, chunk, index, total)},
			}
		}
		text, err := o.call(ctx, r, a, messages, o.callOptions(r, false), Progress{Stage: StageRolling, Chunk: index, Chunks: total})
		if err != nil {
			return ParseResult{}, err
		}
		notes := strings.TrimSpace(text)
		if notes == "" {
			return ParseResult{}, fmt.Errorf("%w: empty notes for part %d", ErrMalformed, index)
		}
		a.notes = notes
	}
	r.emit(Progress{Stage: StageRolling, Chunk: total, Chunks: total, Attempt: a.number})
	return o.structured(ctx, r, a, eligible)
}

// structured performs the call whose reply is parsed as a document, using the last chunk.
func (o *orchestrator) structured(ctx context.Context, r run, a *attempt, eligible bool) (ParseResult, error) {
	total := len(a.chunks)
	user := a.prompts.oneShotUser(a.chunks[0])
	if total > 1 {
		user = a.prompts.finalPartUser(a.notes, a.chunks[total-1], total)
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Text: a.prompts.systemPrompt(eligible)},
		{Role: llm.RoleUser, Text: user, Images: a.llmImages()},
	}
	stage := StageOneShot
	if total > 1 {
		stage = StageRolling
	}
	text, err := o.call(ctx, r, a, messages, o.callOptions(r, true), Progress{Stage: stage, Chunk: total, Chunks: total})
	if err != nil {
		return ParseResult{}, err
	}
	r.logger.Debug("structured reply received", "attempt", a.number, "content", text)
	return ParseResponse(text, eligible)
}

func (o *orchestrator) call(ctx context.Context, r run, a *attempt, messages []llm.Message, opts llm.Options, at Progress) (string, error) {
	if !r.stream {
		completion, err := r.provider.SendChat(ctx, messages, opts)
		if err != nil {
			return "", err
		}
		a.usage = a.usage.Add(completion.Usage)
		if completion.Model != "" {
			a.model = completion.Model
		}
		return completion.Text, nil
	}
	stream, err := r.provider.StreamChat(ctx, messages, opts)
	if err != nil {
		return "", err
	}
	return llm.CollectStream(stream, func(delta string) {
		p := at
		p.Attempt = a.number
		p.Delta = delta
		r.emit(p)
	})
}

func (o *orchestrator) callOptions(r run, structured bool) llm.Options {
	opts := llm.Options{
		Model:       r.req.Options.Model,
		Temperature: r.req.Options.Temperature,
		JSONMode:    structured,
	}
	if opts.Temperature == nil {
		temp := o.cfg.Temperature
		opts.Temperature = &temp
	}
	if structured {
		opts.MaxOutputTokens = o.detailTokens(normalizeDetail(r.req.Options.DetailLevel))
	} else {
		opts.MaxOutputTokens = o.cfg.IntermediateTokens
		if opts.MaxOutputTokens <= 0 {
			opts.MaxOutputTokens = defaultIntermediateTokens
		}
	}
	return opts
}

func (o *orchestrator) detailTokens(level DetailLevel) int {
	if n := o.cfg.DetailTokens[level]; n > 0 {
		return n
	}
	return defaultDetailTokens[level]
}

// requestable is how many images the model may still ask for in this attempt.
func (o *orchestrator) requestable(r run, a *attempt) int {
	if !r.req.Options.ImageAnalysis || o.fetcher == nil || !r.provider.SupportsVision() {
		return 0
	}
	if len(o.pendingCandidates(r, a)) == 0 {
		return 0
	}
	remaining := o.cfg.MaxImagesPerRun - len(a.images)
	return max(min(o.cfg.ImagesPerRoundTrip, remaining), 0)
}

// pendingCandidates lists page images that have not been fetched yet.
func (o *orchestrator) pendingCandidates(r run, a *attempt) []imagefetch.Ref {
	fetched := make(map[string]struct{}, len(a.images))
	for _, img := range a.images {
		fetched[img.SourceURL] = struct{}{}
	}
	var out []imagefetch.Ref
	for _, ref := range r.req.Content.ImageCandidates {
		if _, ok := fetched[ref.URL]; !ok && ref.URL != "" {
			out = append(out, ref)
		}
	}
	return out
}

// fetchRequested downloads the requested images, bounded by the per-round-trip and per-run caps.
func (o *orchestrator) fetchRequested(ctx context.Context, r run, a *attempt, requests []string) error {
	limit := a.prompts.requestable
	pending := make(map[string]struct{})
	for _, ref := range o.pendingCandidates(r, a) {
		pending[ref.URL] = struct{}{}
	}

	var refs []imagefetch.Ref
	seen := make(map[string]struct{})
	for _, request := range requests {
		idx, ok := a.tokens.imageIndex(request)
		if !ok {
			r.logger.Debug("ignoring unknown image request", "request", request)
			continue
		}
		ref := r.req.Content.ImageCandidates[idx]
		if _, ok := pending[ref.URL]; !ok {
			continue
		}
		if _, dup := seen[ref.URL]; dup {
			continue
		}
		seen[ref.URL] = struct{}{}
		refs = append(refs, ref)
		if len(refs) == limit {
			break
		}
	}
	if len(refs) == 0 {
		return nil
	}

	fetched, err := o.fetcher.Fetch(ctx, refs, limit)
	if err != nil {
		if ctx.Err() != nil {
			return llm.CheckContext(ctx)
		}
		return err
	}
	if len(fetched) > limit {
		fetched = fetched[:limit]
	}
	r.logger.Info("fetched requested images", "requested", len(refs), "fetched", len(fetched))
	a.images = append(a.images, fetched...)
	return nil
}

func (a *attempt) llmImages() []llm.Image {
	if len(a.images) == 0 {
		return nil
	}
	out := make([]llm.Image, 0, len(a.images))
	for _, img := range a.images {
		if img.IsInline() || img.URL != "" {
			out = append(out, img.Image)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
