package repair

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// decodeHexEscapes decodes every =XX escape left in s, where XX is two
// uppercase hex digits. Consecutive escapes are decoded together so
// multi-byte UTF-8 sequences come out whole; bytes that do not form valid
// UTF-8 are read as Latin-1. Anything that is not a well-formed escape,
// lowercase hex included, is copied unchanged.
func decodeHexEscapes(s string) string {
	if strings.IndexByte(s, '=') < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	var run []byte
	for i := 0; i < len(s); {
		if s[i] == '=' && i+2 < len(s) {
			hi, okHi := unhex(s[i+1])
			lo, okLo := unhex(s[i+2])
			if okHi && okLo {
				run = append(run, hi<<4|lo)
				i += 3
				continue
			}
		}
		run = flushBytes(&b, run)
		b.WriteByte(s[i])
		i++
	}
	flushBytes(&b, run)

	return b.String()
}

func flushBytes(b *strings.Builder, run []byte) []byte {
	for len(run) > 0 {
		r, size := utf8.DecodeRune(run)
		if r == utf8.RuneError && size <= 1 {
			b.WriteRune(charmap.ISO8859_1.DecodeByte(run[0]))
			run = run[1:]
			continue
		}
		b.Write(run[:size])
		run = run[size:]
	}
	return run[:0]
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
