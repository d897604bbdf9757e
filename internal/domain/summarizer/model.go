package summarizer

import (
	"time"

	"github.com/yanqian/pagedigest/internal/infra/imagefetch"
	"github.com/yanqian/pagedigest/pkg/metrics"
)

// DetailLevel selects how long the summary should be.
type DetailLevel string

const (
	DetailBrief    DetailLevel = "brief"
	DetailStandard DetailLevel = "standard"
	DetailDetailed DetailLevel = "detailed"
)

// Config configures the orchestration engine.
type Config struct {
	DefaultProvider    string
	ContextWindow      int
	MaxRetries         int
	RetryBackoff       time.Duration
	MaxImagesPerRun    int
	ImagesPerRoundTrip int
	DetailTokens       map[DetailLevel]int
	IntermediateTokens int
	Temperature        float32
}

// FileRef is a document linked from the page.
type FileRef struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// Content is the extracted page.
type Content struct {
	Text     string `json:"text"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`
	Comments string `json:"comments,omitempty"`
	// Images were already fetched by the caller and are attached as-is.
	Images []imagefetch.Image `json:"images,omitempty"`
	// ImageCandidates are page images the model may ask for, addressed as {{IMG_n}} (1-based).
	ImageCandidates []imagefetch.Ref `json:"imageCandidates,omitempty"`
	Files           []FileRef        `json:"files,omitempty"`
}

// Options tune one summarization run.
type Options struct {
	Provider              string      `json:"provider,omitempty"`
	Model                 string      `json:"model,omitempty"`
	DetailLevel           DetailLevel `json:"detailLevel,omitempty"`
	TargetLanguage        string      `json:"targetLanguage,omitempty"`
	TranslationExceptions []string    `json:"translationExceptions,omitempty"`
	ContextWindow         int         `json:"contextWindow,omitempty"`
	Instructions          string      `json:"instructions,omitempty"`
	ImageAnalysis         bool        `json:"imageAnalysis,omitempty"`
	Temperature           *float32    `json:"temperature,omitempty"`
}

// Request represents the incoming summarization payload.
type Request struct {
	Content   Content `json:"content"`
	Options   Options `json:"options"`
	SessionID string  `json:"sessionId,omitempty"`
}

// ProsAndCons is an optional two-sided assessment.
type ProsAndCons struct {
	Pros []string `json:"pros"`
	Cons []string `json:"cons"`
}

// Document is the structured summary of one page.
type Document struct {
	TLDR               string              `json:"tldr"`
	KeyTakeaways       []string            `json:"keyTakeaways"`
	Summary            string              `json:"summary"`
	NotableQuotes      []string            `json:"notableQuotes"`
	Conclusion         string              `json:"conclusion"`
	RelatedTopics      []string            `json:"relatedTopics"`
	Tags               []string            `json:"tags"`
	ProsAndCons        *ProsAndCons        `json:"prosAndCons,omitempty"`
	FactCheck          string              `json:"factCheck,omitempty"`
	CommentsHighlights []string            `json:"commentsHighlights,omitempty"`
	ExtraSections      map[string]string   `json:"extraSections,omitempty"`
	SourceLanguage     string              `json:"sourceLanguage,omitempty"`
	SummaryLanguage    string              `json:"summaryLanguage,omitempty"`
	InferredTitle      string              `json:"inferredTitle,omitempty"`
	InferredAuthor     string              `json:"inferredAuthor,omitempty"`
	InferredDate       string              `json:"inferredPublishDate,omitempty"`
	Provider           string              `json:"provider,omitempty"`
	Model              string              `json:"model,omitempty"`
	TokenUsage         *metrics.TokenUsage `json:"tokenUsage,omitempty"`
}

// Response is returned by Summarize.
type Response struct {
	Document   Document `json:"document"`
	SessionID  string   `json:"sessionId,omitempty"`
	RunID      string   `json:"runId"`
	Chunks     int      `json:"chunks"`
	Attempts   int      `json:"attempts"`
	ImagesUsed int      `json:"imagesUsed"`
	DurationMs int64    `json:"durationMs,omitempty"`
}

// Stage names an orchestrator state reported through progress events.
type Stage string

const (
	StageChunking  Stage = "chunking"
	StageOneShot   Stage = "one_shot"
	StageRolling   Stage = "rolling_context"
	StageRoundTrip Stage = "round_trip"
	StageResolving Stage = "resolving"
	StageRetrying  Stage = "retrying"
	StageDone      Stage = "done"
)

// Progress is emitted while a run advances.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Chunk   int    `json:"chunk,omitempty"`
	Chunks  int    `json:"chunks,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Delta   string `json:"delta,omitempty"`
}

// StreamEvent is one update of a streamed summarization. Exactly one final event carries either
// Result or Error.
type StreamEvent struct {
	Progress *Progress `json:"progress,omitempty"`
	Result   *Response `json:"result,omitempty"`
	Error    error     `json:"-"`
}
