// Package mime extracts body sections and header fields from fetched IMAP
// parts by scanning lines. It is not a MIME parser: encoded-word headers,
// nested alternatives beyond a single text/html section and transfer
// encodings other than quoted-printable or identity are not handled.
// ParseStrict offers a full parse when that matters more than speed.
package mime

import (
	"strings"
	"unicode/utf8"

	"github.com/vdavid/mailingest/internal/repair"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PreviewLength is the number of runes kept when plain text is derived from HTML.
const PreviewLength = 500

// Content is the text and HTML found in one body part.
type Content struct {
	Text string
	HTML string
}

// Extractor pulls text and HTML out of body parts and repairs them.
type Extractor struct {
	pipeline      *repair.Pipeline
	previewLength int
}

// NewExtractor returns an extractor using the given pipeline.
// A nil pipeline means repair.Default(); a non-positive preview length means PreviewLength.
func NewExtractor(pipeline *repair.Pipeline, previewLength int) *Extractor {
	if pipeline == nil {
		pipeline = repair.Default()
	}
	if previewLength <= 0 {
		previewLength = PreviewLength
	}
	return &Extractor{pipeline: pipeline, previewLength: previewLength}
}

var defaultExtractor = NewExtractor(nil, 0)

// ExtractText runs the default extractor over a TEXT part.
func ExtractText(body string) Content {
	return defaultExtractor.ExtractText(body)
}

// ExtractHTML runs the default extractor over an HTML part.
func ExtractHTML(body string) string {
	return defaultExtractor.ExtractHTML(body)
}

// ExtractText handles a TEXT part. When the part embeds a text/html section,
// that section becomes HTML and Text is a preview derived from it. Otherwise
// the whole repaired part, with HTML entities resolved, is Text.
func (e *Extractor) ExtractText(body string) Content {
	body = normalizeNewlines(body)

	if section, ok := findHTMLSection(body); ok {
		htmlContent := strings.TrimSpace(e.pipeline.Repair(section))
		return Content{
			Text: e.PlainText(htmlContent),
			HTML: htmlContent,
		}
	}

	return Content{Text: e.repairText(body)}
}

// repairText repairs a plain text body and resolves the HTML entities that
// text parts of HTML-first mailers carry.
func (e *Extractor) repairText(body string) string {
	text := e.pipeline.Repair(body)
	if strings.Contains(text, "&") {
		text = e.pipeline.Repair(unescapeEntities(text))
	}
	return strings.TrimSpace(text)
}

func unescapeEntities(s string) string {
	s = html.UnescapeString(s)
	return strings.ReplaceAll(s, "\u00a0", " ")
}

// ExtractHTML repairs an explicit HTML part.
func (e *Extractor) ExtractHTML(body string) string {
	return strings.TrimSpace(e.pipeline.Repair(normalizeNewlines(body)))
}

// PlainText strips tags from an HTML fragment and truncates the result to the preview length.
func (e *Extractor) PlainText(htmlContent string) string {
	return truncateRunes(e.pipeline.Repair(stripTags(htmlContent)), e.previewLength)
}

func normalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// findHTMLSection returns the body of the first text/html section in s.
// The section ends at the next line starting with the boundary that
// precedes its header, or at the end of s.
func findHTMLSection(s string) (string, bool) {
	lines := strings.Split(s, "\n")

	header := -1
	boundary := ""
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") {
			boundary = trimmed
			continue
		}
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "content-type:") && strings.Contains(lower, "text/html") {
			header = i
			break
		}
	}
	if header < 0 {
		return "", false
	}

	start := -1
	for i := header + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return "", false
	}

	end := len(lines)
	if boundary != "" {
		for i := start; i < len(lines); i++ {
			if strings.HasPrefix(strings.TrimSpace(lines[i]), boundary) {
				end = i
				break
			}
		}
	}

	return strings.Join(lines[start:end], "\n"), true
}

// Tags that separate words when rendered.
var breakingTags = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true,
	atom.Td: true, atom.Th: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Table: true, atom.Hr: true,
}

func stripTags(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))

	var b strings.Builder
	skipDepth := 0
	for {
		tokenType := z.Next()
		switch tokenType {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Script || a == atom.Style {
				switch tokenType {
				case html.StartTagToken:
					skipDepth++
				case html.EndTagToken:
					if skipDepth > 0 {
						skipDepth--
					}
				}
				continue
			}
			if breakingTags[a] {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
