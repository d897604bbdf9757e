// Package chunker splits page text into pieces that fit a model's context window.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	// CharsPerToken approximates how many characters one token covers.
	CharsPerToken = 4
	// UsableFraction of the context window is given to source text; the rest is left for the
	// prompt scaffolding and the reply.
	UsableFraction = 0.5
	// MinChunkChars is the smallest chunk limit CharBudget returns.
	MinChunkChars = 1000
)

// CharBudget converts a context window in tokens to a per-chunk character limit.
// A non-positive window means no limit.
func CharBudget(contextWindow int) int {
	if contextWindow <= 0 {
		return 0
	}
	budget := int(float64(contextWindow*CharsPerToken) * UsableFraction)
	if budget < MinChunkChars {
		budget = MinChunkChars
	}
	return budget
}

// Split chunks text for the given context window.
func Split(text string, contextWindow int) []string {
	return Chunk(text, CharBudget(contextWindow))
}

// Chunk cuts text into consecutive pieces of at most maxChars bytes. Joining the result gives back
// text exactly. When text fits, or maxChars is not positive, the result is the single chunk text.
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}
	chunks := make([]string, 0, len(text)/maxChars+1)
	rest := text
	for len(rest) > maxChars {
		cut := boundary(rest[:maxChars], maxChars/2)
		if cut <= 0 {
			cut = hardCut(rest, maxChars)
		}
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

var sentenceEnds = []string{". ", "! ", "? ", ".\t", "。", "！", "？"}

// boundary returns the end offset of the latest natural break in window that is at least min
// bytes in, trying paragraph, line, sentence and word breaks in that order. It returns 0 if none.
func boundary(window string, min int) int {
	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 && idx+2 >= min {
		return idx + 2
	}
	if idx := strings.LastIndexByte(window, '\n'); idx >= 0 && idx+1 >= min {
		return idx + 1
	}
	best := -1
	for _, sep := range sentenceEnds {
		if idx := strings.LastIndex(window, sep); idx >= 0 && idx+len(sep) > best {
			best = idx + len(sep)
		}
	}
	if best >= min {
		return best
	}
	if idx := strings.LastIndexAny(window, " \t"); idx >= 0 && idx+1 >= min {
		return idx + 1
	}
	return 0
}

// hardCut backs off from maxChars to the nearest rune start so no UTF-8 sequence is split.
func hardCut(text string, maxChars int) int {
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(text)
		cut = size
	}
	return cut
}
