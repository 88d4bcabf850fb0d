package repair

import (
	"slices"
	"strings"
)

// Rule replaces every literal occurrence of Pattern with Replacement.
type Rule struct {
	Pattern     string
	Replacement string
}

// Table is an ordered list of rules. Rules run one after another over the
// whole string, so a rule whose pattern contains another rule's pattern
// must come first.
type Table []Rule

// Apply runs every rule of the table in order.
func (t Table) Apply(s string) string {
	for _, rule := range t {
		if rule.Pattern == "" || !strings.Contains(s, rule.Pattern) {
			continue
		}
		s = strings.ReplaceAll(s, rule.Pattern, rule.Replacement)
	}
	return s
}

// quotedPrintableRules are known quoted-printable sequences that must survive
// transport with their exact glyphs. Order: emoji carrying a variation
// selector, then the status phrases built from the bare emoji, then the bare
// emoji and plain letters. The bare emoji entries are prefixes of the
// entries above them.
var quotedPrintableRules = Table{
	{"=E2=9A=A0=EF=B8=8F", "\u26a0\ufe0f"},
	{"=E2=9C=85=EF=B8=8F", "✅"},
	{"=E2=9D=8C=EF=B8=8F", "❌"},

	{"=E2=9A=A0 Close Match", "\u26a0\ufe0f Close Match"},
	{"=E2=9C=85 Match", "✅ Match"},
	{"=E2=9D=8C No Match", "❌ No Match"},

	{"=E2=9A=A0", "\u26a0\ufe0f"},
	{"=E2=9C=85", "✅"},
	{"=E2=9D=8C", "❌"},

	{"=C3=A4", "ä"},
	{"=C3=B6", "ö"},
	{"=C3=BC", "ü"},
	{"=C3=84", "Ä"},
	{"=C3=96", "Ö"},
	{"=C3=9C", "Ü"},
	{"=C3=9F", "ß"},
	{"=E2=80=93", "–"},
	{"=E2=80=94", "—"},
	{"=E2=80=9C", "“"},
	{"=E2=80=9D", "”"},
	{"=E2=80=9E", "„"},
	{"=E2=80=98", "‘"},
	{"=E2=80=99", "’"},
	{"=E2=80=A6", "…"},
	{"=E2=82=AC", "€"},
	{"=C2=A0", " "},
}

// mojibakeRules undo UTF-8 bytes that were read as Windows-1252 (or Latin-1)
// one byte at a time. Longest sequences first: "â€" is a prefix of most of
// the quote and dash forms. A lone "€" is never touched.
var mojibakeRules = Table{
	// Warning sign, with and without the bytes lost in transit.
	{"âš\u00a0ï¸\u008f", "\u26a0\ufe0f"},
	{"âš\u00a0ï¸", "\u26a0\ufe0f"},
	{"âš ï¸", "\u26a0\ufe0f"},
	{"â\u00a0ï¸", "\u26a0\ufe0f"},
	{"â ï¸", "\u26a0\ufe0f"},
	// ✅ and ❌
	{"âœ…", "✅"},
	{"â\u009dŒ", "❌"},
	{"âŒ", "❌"},

	{"â€œ", `"`},
	{"â€\u009d", `"`},
	{"â€˜", "'"},
	{"â€™", "'"},
	{"â€“", "–"},
	{"â€”", "—"},
	{"â€¦", "…"},
	{"â€¢", "•"},
	{"â€Œ", ""},
	{"â€\"", "—"},
	{"â‚¬", "€"},
	{"â€", `"`},
	{"€œ", `"`},
	{"€™", "'"},
	// Same bytes read as Latin-1, where 0x80-0x9F become C1 controls.
	{"â\u0080\u009c", `"`},
	{"â\u0080\u009d", `"`},
	{"â\u0080\u0098", "'"},
	{"â\u0080\u0099", "'"},
	{"â\u0080\u0093", "–"},
	{"â\u0080\u0094", "—"},
	{"â\u0080¦", "…"},
	{"â\u0080\u008c", ""},

	{"Ã¤", "ä"},
	{"Ã¶", "ö"},
	{"Ã¼", "ü"},
	{"Ã„", "Ä"},
	{"Ã–", "Ö"},
	{"Ãœ", "Ü"},
	{"ÃŸ", "ß"},
	{"Ã©", "é"},
	{"Ã¡", "á"},
	{"Ã\u00ad", "í"},
	{"Ã³", "ó"},
	{"Ãº", "ú"},
	{"Â\u00a0", " "},

	// Soft hyphens and zero-width non-joiners are invisible break hints.
	{"Â\u00ad", ""},
	{"\u00ad", ""},
	{"\u200c", ""},
}

// QuotedPrintableRules returns a copy of the known quoted-printable table.
func QuotedPrintableRules() Table {
	return slices.Clone(quotedPrintableRules)
}

// MojibakeRules returns a copy of the legacy-charset repair table.
func MojibakeRules() Table {
	return slices.Clone(mojibakeRules)
}

// punctuationPairs maps typographic quotes, dashes and the ellipsis to ASCII.
var punctuationPairs = []string{
	"‘", "'", "’", "'", "‚", "'", "‛", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
	"′", "'", "″", `"`, "‶", `"`,
	"–", "-", "—", "-", "―", "-",
	"…", "...",
}
