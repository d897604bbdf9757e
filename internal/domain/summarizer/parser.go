package summarizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ResultKind tags the outcome of parsing a structured reply.
type ResultKind int

const (
	KindDocument ResultKind = iota
	KindFreeText
	KindNoContent
	KindNeedsImages
)

func (k ResultKind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindFreeText:
		return "free_text"
	case KindNoContent:
		return "no_content"
	case KindNeedsImages:
		return "needs_images"
	}
	return "unknown"
}

// ParseResult is exactly one of: a document, a free-text reply, a no-content signal, or an image
// request. Only the fields of the matching kind are set.
type ParseResult struct {
	Kind          ResultKind
	Document      Document
	Text          string
	Reason        string
	ImageRequests []string
}

// ParseResponse decodes a structured reply. imagesEligible controls whether an image request is
// honoured; when false the request is ignored and the rest of the object must be a document.
// A returned error wraps ErrMalformed and is worth retrying.
func ParseResponse(raw string, imagesEligible bool) (ParseResult, error) {
	text := stripCodeFence(raw)
	if strings.TrimSpace(text) == "" {
		return ParseResult{}, fmt.Errorf("%w: empty reply", ErrMalformed)
	}
	if !strings.Contains(text, "{") {
		return ParseResult{Kind: KindFreeText, Text: strings.TrimSpace(raw)}, nil
	}

	fields, err := decodeObject(text)
	if err != nil {
		if isProse(text) {
			return ParseResult{Kind: KindFreeText, Text: strings.TrimSpace(raw)}, nil
		}
		return ParseResult{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if coerceBool(fields["noContent"]) {
		return ParseResult{Kind: KindNoContent, Reason: coerceString(fields["reason"])}, nil
	}
	if imagesEligible {
		if requests := coerceStringArray(fields["requestImages"]); len(requests) > 0 {
			return ParseResult{Kind: KindNeedsImages, ImageRequests: requests}, nil
		}
	}

	doc := documentFromFields(fields)
	if doc.TLDR == "" || doc.Summary == "" {
		return ParseResult{}, fmt.Errorf("%w: tldr or summary missing", ErrMalformed)
	}
	return ParseResult{Kind: KindDocument, Document: doc}, nil
}

// isProse reports a reply that does not open as JSON and never starts a JSON object, such as a
// refusal that happens to mention a brace. Truncated or broken JSON is not prose.
func isProse(text string) bool {
	if trimmed := strings.TrimSpace(text); strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return false
	}
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		rest := strings.TrimLeft(text[i+1:], " \t\r\n")
		if strings.HasPrefix(rest, `"`) || strings.HasPrefix(rest, "}") {
			return false
		}
	}
	return true
}

// decodeObject tries the reply as-is, then repaired, then the first embedded object.
func decodeObject(text string) (map[string]json.RawMessage, error) {
	candidates := []string{text, repairJSON(text)}
	if obj, ok := extractObject(text); ok {
		candidates = append(candidates, obj, repairJSON(obj))
	}
	if obj, ok := extractObject(repairJSON(text)); ok {
		candidates = append(candidates, obj)
	}

	var firstErr error
	for _, candidate := range candidates {
		var fields map[string]json.RawMessage
		err := json.Unmarshal([]byte(candidate), &fields)
		if err == nil && fields != nil {
			return fields, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = errors.New("reply is not a JSON object")
	}
	return nil, firstErr
}

func documentFromFields(fields map[string]json.RawMessage) Document {
	doc := Document{
		TLDR:               coerceString(fields["tldr"]),
		KeyTakeaways:       coerceStringArray(fields["keyTakeaways"]),
		Summary:            coerceString(fields["summary"]),
		NotableQuotes:      coerceStringArray(fields["notableQuotes"]),
		Conclusion:         coerceString(fields["conclusion"]),
		RelatedTopics:      coerceStringArray(fields["relatedTopics"]),
		Tags:               coerceStringArray(fields["tags"]),
		FactCheck:          coerceString(fields["factCheck"]),
		CommentsHighlights: coerceStringArray(fields["commentsHighlights"]),
		ExtraSections:      coerceSections(fields["extraSections"]),
		SourceLanguage:     coerceString(fields["sourceLanguage"]),
		SummaryLanguage:    coerceString(fields["summaryLanguage"]),
		InferredTitle:      coerceString(fields["inferredTitle"]),
		InferredAuthor:     coerceString(fields["inferredAuthor"]),
		InferredDate:       coerceString(fields["inferredPublishDate"]),
	}
	if raw, ok := fields["prosAndCons"]; ok {
		var wire struct {
			Pros json.RawMessage `json:"pros"`
			Cons json.RawMessage `json:"cons"`
		}
		if json.Unmarshal(raw, &wire) == nil {
			pc := ProsAndCons{Pros: coerceStringArray(wire.Pros), Cons: coerceStringArray(wire.Cons)}
			if len(pc.Pros) > 0 || len(pc.Cons) > 0 {
				doc.ProsAndCons = &pc
			}
		}
	}
	return doc
}

// coerceString accepts strings and renders numbers and booleans; anything else becomes "".
func coerceString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case '[', '{', 'n':
		return ""
	default:
		return string(raw)
	}
}

func coerceBool(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		v, _ := strconv.ParseBool(strings.TrimSpace(s))
		return v
	}
	return false
}

// coerceStringArray accepts an array or a single string and always returns a non-nil slice.
// Blank and duplicate entries are dropped; non-string items are rendered via coerceString.
func coerceStringArray(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	var items []json.RawMessage
	switch raw[0] {
	case '"':
		items = []json.RawMessage{raw}
	case '[':
		if json.Unmarshal(raw, &items) != nil {
			return out
		}
	default:
		return out
	}
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		clean := coerceString(item)
		if clean == "" {
			continue
		}
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}

// coerceSections accepts {"title": "content"} or [{"title": ..., "content": ...}].
func coerceSections(raw json.RawMessage) map[string]string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string)
	switch raw[0] {
	case '{':
		var fields map[string]json.RawMessage
		if json.Unmarshal(raw, &fields) != nil {
			return nil
		}
		for title, value := range fields {
			if content := coerceString(value); content != "" {
				out[strings.TrimSpace(title)] = content
			}
		}
	case '[':
		var items []struct {
			Title   json.RawMessage `json:"title"`
			Content json.RawMessage `json:"content"`
		}
		if json.Unmarshal(raw, &items) != nil {
			return nil
		}
		for _, item := range items {
			title, content := coerceString(item.Title), coerceString(item.Content)
			if title != "" && content != "" {
				out[title] = content
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
