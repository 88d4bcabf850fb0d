package mime

import (
	"net/mail"
	"strings"
	"time"
)

const (
	// DefaultFrom is used when a message has no From field.
	DefaultFrom = "Unknown"
	// DefaultSubject is used when a message has no Subject field.
	DefaultSubject = "Unknown"
)

// Headers holds the fields read from a header block.
type Headers struct {
	From      string
	To        string
	Subject   string
	Date      time.Time
	MessageID string
}

// ParseHeaders reads From, To, Subject, Date and Message-ID from a raw header block.
// Each field is taken from the first line whose trimmed form starts with
// "<field>:" (case-insensitive). Missing or empty fields fall back to
// DefaultFrom, mailbox for To, DefaultSubject and now for Date. Folded lines
// and encoded words are not decoded.
func ParseHeaders(block, mailbox string, now time.Time) Headers {
	fields := scanFields(block)

	headers := Headers{
		From:      valueOr(fields["from"], DefaultFrom),
		To:        valueOr(fields["to"], mailbox),
		Subject:   valueOr(fields["subject"], DefaultSubject),
		Date:      now,
		MessageID: fields["message-id"],
	}
	if date, ok := ParseDate(fields["date"]); ok {
		headers.Date = date
	}
	return headers
}

var headerFields = map[string]bool{
	"from":       true,
	"to":         true,
	"subject":    true,
	"date":       true,
	"message-id": true,
}

func scanFields(block string) map[string]string {
	fields := make(map[string]string, len(headerFields))
	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		name, value, found := strings.Cut(trimmed, ":")
		if !found {
			continue
		}
		name = strings.ToLower(name)
		if !headerFields[name] {
			continue
		}
		if _, seen := fields[name]; seen {
			continue
		}
		fields[name] = strings.TrimSpace(value)
	}
	return fields
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Layouts tried after net/mail, for senders that do not follow RFC 5322.
var dateLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04 -0700",
	"Mon Jan 2 15:04:05 2006",
	"Mon Jan 2 15:04:05 MST 2006",
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// ParseDate parses a Date header value. It reports false when no known layout matches.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if t, err := mail.ParseDate(value); err == nil {
		return t, true
	}

	// Drop a trailing comment such as "(CEST)".
	if i := strings.LastIndex(value, "("); i > 0 && strings.HasSuffix(value, ")") {
		value = strings.TrimSpace(value[:i])
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
