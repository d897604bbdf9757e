package summarizer

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const videoToken = "{{VIDEO_URL}}"

var placeholderPattern = regexp.MustCompile(`\{\{(?:(IMG|FILE)_(\d+)|VIDEO_URL)\}\}`)

func imageToken(n int) string { return fmt.Sprintf("{{IMG_%d}}", n) }

func fileToken(n int) string { return fmt.Sprintf("{{FILE_%d}}", n) }

// placeholders maps the short tokens shown to the model back to real URLs.
type placeholders struct {
	images []string
	files  []string
	video  string
}

func newPlaceholders(content Content) placeholders {
	p := placeholders{video: videoURL(content)}
	for _, ref := range content.ImageCandidates {
		p.images = append(p.images, ref.URL)
	}
	for _, f := range content.Files {
		p.files = append(p.files, f.URL)
	}
	return p
}

// videoURL prefers the explicit video link and falls back to the page URL for YouTube pages.
func videoURL(content Content) string {
	if v := strings.TrimSpace(content.VideoURL); v != "" {
		return v
	}
	if isYouTube(content.URL) {
		return content.URL
	}
	return ""
}

func isYouTube(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	return host == "youtube.com" || host == "youtu.be" || host == "music.youtube.com"
}

// resolve replaces known tokens in text. Tokens without a value are left as written.
func (p placeholders) resolve(text string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(token string) string {
		m := placeholderPattern.FindStringSubmatch(token)
		if m[1] == "" {
			if p.video == "" {
				return token
			}
			return p.video
		}
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 {
			return token
		}
		list := p.images
		if m[1] == "FILE" {
			list = p.files
		}
		if n > len(list) || list[n-1] == "" {
			return token
		}
		return list[n-1]
	})
}

// imageIndex resolves a requested image, given as a token or a URL, to a candidate index.
func (p placeholders) imageIndex(request string) (int, bool) {
	request = strings.TrimSpace(request)
	if m := placeholderPattern.FindStringSubmatch(request); m != nil && m[1] == "IMG" && m[0] == request {
		n, err := strconv.Atoi(m[2])
		if err == nil && n >= 1 && n <= len(p.images) {
			return n - 1, true
		}
		return 0, false
	}
	for i, u := range p.images {
		if u == request {
			return i, true
		}
	}
	return 0, false
}

func (p placeholders) resolveAll(items []string) []string {
	for i, item := range items {
		items[i] = p.resolve(item)
	}
	return items
}

// resolveDocument substitutes tokens in every text field of doc.
func (p placeholders) resolveDocument(doc Document) Document {
	doc.TLDR = p.resolve(doc.TLDR)
	doc.KeyTakeaways = p.resolveAll(doc.KeyTakeaways)
	doc.Summary = p.resolve(doc.Summary)
	doc.NotableQuotes = p.resolveAll(doc.NotableQuotes)
	doc.Conclusion = p.resolve(doc.Conclusion)
	doc.RelatedTopics = p.resolveAll(doc.RelatedTopics)
	doc.Tags = p.resolveAll(doc.Tags)
	doc.FactCheck = p.resolve(doc.FactCheck)
	doc.CommentsHighlights = p.resolveAll(doc.CommentsHighlights)
	if doc.ProsAndCons != nil {
		doc.ProsAndCons = &ProsAndCons{
			Pros: p.resolveAll(doc.ProsAndCons.Pros),
			Cons: p.resolveAll(doc.ProsAndCons.Cons),
		}
	}
	if len(doc.ExtraSections) > 0 {
		sections := make(map[string]string, len(doc.ExtraSections))
		for title, content := range doc.ExtraSections {
			sections[p.resolve(title)] = p.resolve(content)
		}
		doc.ExtraSections = sections
	}
	return doc
}
