// Package imagefetch downloads page images and normalises them for vision-capable models.
package imagefetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/yanqian/pagedigest/internal/infra/llm"
)

// Ref points at an image on the page.
type Ref struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// Image is a fetched, re-encoded image together with the page URL it came from.
type Image struct {
	SourceURL string `json:"sourceUrl,omitempty"`
	Alt       string `json:"alt,omitempty"`
	llm.Image
}

// Config bounds what the fetcher will download.
type Config struct {
	Timeout      time.Duration
	MaxBytes     int64
	MaxDimension int
	Concurrency  int
	JPEGQuality  int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 8 << 20
	}
	if c.MaxDimension <= 0 {
		c.MaxDimension = 1568
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = 85
	}
	return c
}

// Fetcher downloads images over HTTP.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(cfg Config, logger *slog.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "imagefetch.fetcher"),
	}
}

// Fetch downloads up to max distinct images in parallel. Images that fail to download or decode
// are logged and left out; the result keeps the order of refs. Only cancellation of ctx is an error.
func (f *Fetcher) Fetch(ctx context.Context, refs []Ref, max int) ([]Image, error) {
	refs = dedupe(refs)
	if max > 0 && len(refs) > max {
		refs = refs[:max]
	}
	if len(refs) == 0 {
		return nil, nil
	}

	results := make([]*Image, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			img, err := f.fetchOne(gctx, ref)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.logger.Warn("image fetch failed", "url", ref.URL, "error", err)
				return nil
			}
			results[i] = &img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch images: %w", err)
	}

	out := make([]Image, 0, len(results))
	for _, img := range results {
		if img != nil {
			out = append(out, *img)
		}
	}
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, ref Ref) (Image, error) {
	parsed, err := url.Parse(ref.URL)
	if err != nil {
		return Image{}, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Image{}, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return Image{}, err
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return Image{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Image{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.cfg.MaxBytes {
		return Image{}, fmt.Errorf("image too large: %d bytes", resp.ContentLength)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return Image{}, err
	}
	if int64(len(raw)) > f.cfg.MaxBytes {
		return Image{}, fmt.Errorf("image exceeds %d bytes", f.cfg.MaxBytes)
	}

	encoded, err := Normalize(raw, f.cfg.MaxDimension, f.cfg.JPEGQuality)
	if err != nil {
		return Image{}, err
	}
	return Image{SourceURL: ref.URL, Alt: ref.Alt, Image: encoded}, nil
}

// Normalize decodes raw image bytes, shrinks them so neither side exceeds maxDim, and re-encodes
// them as JPEG, or PNG when the image has transparency.
func Normalize(raw []byte, maxDim, quality int) (llm.Image, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return llm.Image{}, fmt.Errorf("decode image: %w", err)
	}
	bounds := src.Bounds()
	if bounds.Empty() {
		return llm.Image{}, errors.New("empty image")
	}

	img := src
	if w, h := bounds.Dx(), bounds.Dy(); maxDim > 0 && (w > maxDim || h > maxDim) {
		nw, nh := maxDim, maxDim
		if w >= h {
			nh = max(1, h*maxDim/w)
		} else {
			nw = max(1, w*maxDim/h)
		}
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	mime := "image/jpeg"
	if hasAlpha(img) {
		mime = "image/png"
		err = png.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	}
	if err != nil {
		return llm.Image{}, fmt.Errorf("encode %s: %w", mime, err)
	}
	return llm.Image{Base64: base64.StdEncoding.EncodeToString(buf.Bytes()), MimeType: mime}, nil
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}

func dedupe(refs []Ref) []Ref {
	seen := make(map[string]struct{}, len(refs))
	out := make([]Ref, 0, len(refs))
	for _, ref := range refs {
		u := strings.TrimSpace(ref.URL)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		ref.URL = u
		out = append(out, ref)
	}
	return out
}
