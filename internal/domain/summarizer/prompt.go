package summarizer

import (
	"fmt"
	"strings"
)

const documentShape = `{"tldr":string,"keyTakeaways":string[],"summary":string,"notableQuotes":string[],"conclusion":string,"relatedTopics":string[],"tags":string[],"prosAndCons":{"pros":string[],"cons":string[]},"factCheck":string,"commentsHighlights":string[],"extraSections":{"<title>":string},"sourceLanguage":string,"summaryLanguage":string,"inferredTitle":string,"inferredAuthor":string,"inferredPublishDate":string}`

var defaultDetailTokens = map[DetailLevel]int{
	DetailBrief:    1024,
	DetailStandard: 2048,
	DetailDetailed: 4096,
}

const defaultIntermediateTokens = 1024

func normalizeDetail(level DetailLevel) DetailLevel {
	switch DetailLevel(strings.ToLower(strings.TrimSpace(string(level)))) {
	case DetailBrief:
		return DetailBrief
	case DetailDetailed:
		return DetailDetailed
	default:
		return DetailStandard
	}
}

func detailGuidance(level DetailLevel) string {
	switch level {
	case DetailBrief:
		return "Be brief: a one-sentence tldr, 3 key takeaways and a one-paragraph summary. Omit prosAndCons, factCheck and extraSections."
	case DetailDetailed:
		return "Be thorough: a two-sentence tldr, 6 to 10 key takeaways and a summary of 4 to 6 paragraphs. Add prosAndCons, factCheck and extraSections wherever the page supports them."
	default:
		return "Use a two-sentence tldr, 4 to 6 key takeaways and a summary of 2 to 3 paragraphs. Add optional sections only when clearly useful."
	}
}

func languageDirective(opts Options) string {
	target := strings.TrimSpace(opts.TargetLanguage)
	if target == "" {
		return "Write in the same language as the page."
	}
	directive := fmt.Sprintf("Write in %s.", target)
	if len(opts.TranslationExceptions) > 0 {
		directive += fmt.Sprintf(" If the page is written in %s, keep that language instead of translating.", strings.Join(opts.TranslationExceptions, " or "))
	}
	return directive
}

// promptContext holds what every prompt of one run is built from.
type promptContext struct {
	content Content
	opts    Options
	detail  DetailLevel
	// requestable is how many more images the model may ask for; 0 disables the request.
	requestable int
}

// systemPrompt is the instruction for calls whose reply is parsed as a document.
func (p promptContext) systemPrompt(imagesEligible bool) string {
	var b strings.Builder
	b.WriteString("You summarize web pages for a reader who has not seen them.\n")
	b.WriteString(detailGuidance(p.detail))
	b.WriteString("\n")
	b.WriteString(languageDirective(p.opts))
	b.WriteString(" Set sourceLanguage to the page language and summaryLanguage to the language you wrote in.\n")
	b.WriteString("Refer to images, the video and attached files only through their {{...}} tokens and never invent URLs.\n")
	b.WriteString("Respond ONLY with one JSON object of this shape: ")
	b.WriteString(documentShape)
	b.WriteString("\nArrays may be empty. Never wrap the object in prose.\n")
	b.WriteString(`If the page has nothing to summarize (an error page, a login wall, an empty feed) reply {"noContent":true,"reason":string} instead.`)
	if imagesEligible && p.requestable > 0 {
		fmt.Fprintf(&b, "\nIf some of the listed images are essential to an accurate summary and you have not been shown them, reply {\"requestImages\":[\"{{IMG_n}}\", ...]} naming at most %d of them instead of summarizing.", p.requestable)
	}
	if extra := strings.TrimSpace(p.opts.Instructions); extra != "" {
		b.WriteString("\nAdditional instructions from the reader: ")
		b.WriteString(extra)
	}
	return b.String()
}

// notesSystemPrompt is the instruction for the free-form calls of a rolling run.
func (p promptContext) notesSystemPrompt(first bool) string {
	var b strings.Builder
	if first {
		b.WriteString("You are reading a long web page in parts so it can be summarized later.\n")
		b.WriteString(languageDirective(p.opts))
		b.WriteString("\n")
		if extra := strings.TrimSpace(p.opts.Instructions); extra != "" {
			b.WriteString("The reader asked: ")
			b.WriteString(extra)
			b.WriteString("\n")
		}
	} else {
		b.WriteString("You are continuing to read a long web page in parts.\n")
	}
	b.WriteString("Write dense running notes that keep every key fact, figure, name, quote and {{...}} token needed for the final summary. Merge the notes so far with the new part. Plain text only, no JSON.")
	return b.String()
}

// header lists the page metadata and the tokens the model may use.
func (p promptContext) header() string {
	var b strings.Builder
	if t := strings.TrimSpace(p.content.Title); t != "" {
		fmt.Fprintf(&b, "Title: %s\n", t)
	}
	if u := strings.TrimSpace(p.content.URL); u != "" {
		fmt.Fprintf(&b, "URL: %s\n", u)
	}
	if videoURL(p.content) != "" {
		fmt.Fprintf(&b, "Video: %s\n", videoToken)
	}
	if len(p.content.ImageCandidates) > 0 {
		b.WriteString("Images on the page:\n")
		for i, ref := range p.content.ImageCandidates {
			alt := strings.TrimSpace(ref.Alt)
			if alt == "" {
				alt = "(no description)"
			}
			fmt.Fprintf(&b, "- %s: %s\n", imageToken(i+1), alt)
		}
	}
	if len(p.content.Files) > 0 {
		b.WriteString("Attached files:\n")
		for i, f := range p.content.Files {
			name := strings.TrimSpace(f.Name)
			if name == "" {
				name = "file"
			}
			fmt.Fprintf(&b, "- %s: %s\n", fileToken(i+1), name)
		}
	}
	return b.String()
}

func (p promptContext) comments() string {
	c := strings.TrimSpace(p.content.Comments)
	if c == "" {
		return ""
	}
	return "\n\nReader comments and discussion:\n" + c
}

func (p promptContext) oneShotUser(text string) string {
	return p.header() + "\nContent:\n" + text + p.comments()
}

func (p promptContext) firstPartUser(chunk string, total int) string {
	return fmt.Sprintf("%s\nPart 1 of %d:\n%s", p.header(), total, chunk)
}

func (p promptContext) nextPartUser(notes, chunk string, index, total int) string {
	return fmt.Sprintf("Notes so far:\n%s\n\nPart %d of %d:\n%s", notes, index, total, chunk)
}

func (p promptContext) finalPartUser(notes, chunk string, total int) string {
	return fmt.Sprintf("%s\nNotes on parts 1 to %d:\n%s\n\nFinal part %d of %d:\n%s%s", p.header(), total-1, notes, total, total, chunk, p.comments())
}
