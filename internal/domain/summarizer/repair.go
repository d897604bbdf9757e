package summarizer

import "strings"

// stripCodeFence removes a ``` or ```json wrapper around the whole reply.
func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// repairJSON fixes the mistakes models commonly make when writing JSON by hand: trailing commas,
// raw control characters inside strings, and unescaped quotes inside strings. A quote inside a
// string closes it only when the next non-space character is structural (: , } ]) or the input
// ends. Valid JSON passes through unchanged.
func repairJSON(text string) string {
	var (
		out      strings.Builder
		inString bool
		escaped  bool
	)
	out.Grow(len(text) + 16)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
				out.WriteByte(c)
				continue
			}
			switch c {
			case '\\':
				escaped = true
				out.WriteByte(c)
			case '\n':
				out.WriteString(`\n`)
			case '\r':
				out.WriteString(`\r`)
			case '\t':
				out.WriteString(`\t`)
			case '"':
				if closesString(text, i+1) {
					inString = false
					out.WriteByte(c)
				} else {
					out.WriteString(`\"`)
				}
			default:
				out.WriteByte(c)
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case ',':
			if next := nextNonSpace(text, i+1); next == '}' || next == ']' {
				continue
			}
		}
		out.WriteByte(c)
	}
	return out.String()
}

func closesString(text string, from int) bool {
	switch nextNonSpace(text, from) {
	case 0, ':', ',', '}', ']':
		return true
	}
	return false
}

// nextNonSpace returns the first non-whitespace byte at or after from, or 0 at end of input.
func nextNonSpace(text string, from int) byte {
	for i := from; i < len(text); i++ {
		switch text[i] {
		case ' ', '\n', '\r', '\t':
			continue
		}
		return text[i]
	}
	return 0
}

// extractObject returns the first balanced {...} in text, skipping braces inside strings.
func extractObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	var (
		depth    int
		inString bool
		escaped  bool
	)
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
