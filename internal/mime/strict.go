package mime

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/vdavid/mailingest/internal/models"
)

// StrictMessage is a fully parsed RFC 5322 message.
type StrictMessage struct {
	Headers     Headers
	Content     Content
	Attachments []models.AttachmentRef
}

// ParseStrict parses a whole message with enmime, which decodes transfer
// encodings, charsets and encoded-word headers. The decoded text still goes
// through the repair pipeline for mojibake introduced upstream.
func (e *Extractor) ParseStrict(r io.Reader, mailbox string, now time.Time) (*StrictMessage, error) {
	envelope, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	msg := &StrictMessage{
		Headers: Headers{
			From:      valueOr(strings.TrimSpace(envelope.GetHeader("From")), DefaultFrom),
			To:        valueOr(strings.TrimSpace(envelope.GetHeader("To")), mailbox),
			Subject:   valueOr(strings.TrimSpace(envelope.GetHeader("Subject")), DefaultSubject),
			Date:      now,
			MessageID: strings.TrimSpace(envelope.GetHeader("Message-ID")),
		},
	}
	if date, ok := ParseDate(envelope.GetHeader("Date")); ok {
		msg.Headers.Date = date
	}

	if envelope.HTML != "" {
		msg.Content.HTML = e.ExtractHTML(envelope.HTML)
	}
	if envelope.Text != "" {
		msg.Content.Text = e.repairText(normalizeNewlines(envelope.Text))
	} else if msg.Content.HTML != "" {
		msg.Content.Text = e.PlainText(msg.Content.HTML)
	}

	for _, part := range envelope.Attachments {
		msg.Attachments = append(msg.Attachments, attachmentRef(part, false))
	}
	for _, part := range envelope.Inlines {
		msg.Attachments = append(msg.Attachments, attachmentRef(part, true))
	}

	return msg, nil
}

// ParseStrict runs the default extractor's strict parse.
func ParseStrict(r io.Reader, mailbox string, now time.Time) (*StrictMessage, error) {
	return defaultExtractor.ParseStrict(r, mailbox, now)
}

func attachmentRef(part *enmime.Part, inline bool) models.AttachmentRef {
	filename := part.FileName
	if filename == "" {
		filename = "attachment"
	}
	return models.AttachmentRef{
		Filename:    filename,
		ContentType: part.ContentType,
		Size:        uint32(len(part.Content)),
		ContentID:   part.ContentID,
		PartID:      part.PartID,
		IsInline:    inline || part.ContentID != "",
	}
}
