// Package repair turns quoted-printable residue and mojibake back into clean
// UTF-8 text with ASCII punctuation.
//
// Bytes that are not valid UTF-8 are first read as Windows-1252. A pass then
// runs six steps in a fixed order:
//
//  1. soft line breaks ("=" before CRLF or LF) are removed,
//  2. known quoted-printable sequences are replaced (QuotedPrintableRules),
//  3. mojibake sequences are replaced (MojibakeRules),
//  4. the remaining =XX escapes are decoded,
//  5. NUL characters are dropped,
//  6. typographic quotes, dashes and the ellipsis become ASCII.
//
// Passes repeat until the text stops changing, so Repair(Repair(s)) == Repair(s)
// for every s. Every rule shortens the text in bytes, which bounds the number of passes.
// The result is always valid UTF-8.
package repair

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ErrRuleGrows is returned for a rule whose replacement is not shorter than its pattern.
var ErrRuleGrows = errors.New("repair rule must shorten the text")

var softLineBreaks = strings.NewReplacer("=\r\n", "", "=\n", "")

// Pipeline holds the ordered tables for one repair configuration. It is safe
// for concurrent use; nothing in it is mutated after construction.
type Pipeline struct {
	quotedPrintable Table
	mojibake        Table
	punctuation     *strings.Replacer
}

// NewPipeline builds a pipeline from the given tables. The tables are copied.
func NewPipeline(quotedPrintable, mojibake Table) (*Pipeline, error) {
	for _, table := range []Table{quotedPrintable, mojibake} {
		for _, rule := range table {
			if rule.Pattern == "" {
				return nil, fmt.Errorf("%w: empty pattern", ErrRuleGrows)
			}
			if len(rule.Replacement) >= len(rule.Pattern) {
				return nil, fmt.Errorf("%w: %q -> %q", ErrRuleGrows, rule.Pattern, rule.Replacement)
			}
		}
	}

	return &Pipeline{
		quotedPrintable: slices.Clone(quotedPrintable),
		mojibake:        slices.Clone(mojibake),
		punctuation:     strings.NewReplacer(punctuationPairs...),
	}, nil
}

var defaultPipeline = mustPipeline(quotedPrintableRules, mojibakeRules)

func mustPipeline(quotedPrintable, mojibake Table) *Pipeline {
	p, err := NewPipeline(quotedPrintable, mojibake)
	if err != nil {
		panic(err)
	}
	return p
}

// Default returns the pipeline built from the package tables.
func Default() *Pipeline {
	return defaultPipeline
}

// Repair runs the default pipeline.
func Repair(s string) string {
	return defaultPipeline.Repair(s)
}

// Repair returns s with all passes applied until it no longer changes.
func (p *Pipeline) Repair(s string) string {
	s = toValidUTF8(s)
	for {
		next := p.pass(s)
		if next == s {
			return next
		}
		s = next
	}
}

func (p *Pipeline) pass(s string) string {
	s = softLineBreaks.Replace(s)
	s = p.quotedPrintable.Apply(s)
	s = p.mojibake.Apply(s)
	s = decodeHexEscapes(s)
	s = strings.ReplaceAll(s, "\x00", "")
	return p.punctuation.Replace(s)
}

// toValidUTF8 keeps valid UTF-8 sequences and reads every other byte as Windows-1252.
func toValidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + len(s)/2)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			b.WriteRune(charmap.Windows1252.DecodeByte(s[i]))
			i++
			continue
		}
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String()
}
