package imap

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/rs/zerolog/log"
	"github.com/vdavid/mailingest/internal/mime"
	"github.com/vdavid/mailingest/internal/models"
)

var (
	// ErrAssemblerClosed is returned when input reaches an assembler that is already complete.
	ErrAssemblerClosed = errors.New("message assembler is closed")
	// ErrDuplicatePart is returned for a body part whose section was already processed.
	ErrDuplicatePart = errors.New("body part already processed")
)

// AssemblerState is the lifecycle position of an Assembler.
type AssemblerState int

const (
	StateCreated AssemblerState = iota
	StateBodyPartsPending
	StateComplete
	StateEmitted
)

func (s AssemblerState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBodyPartsPending:
		return "body_parts_pending"
	case StateComplete:
		return "complete"
	case StateEmitted:
		return "emitted"
	}
	return "unknown"
}

// AssemblerConfig is shared by all assemblers of one fetch.
type AssemblerConfig struct {
	Folder    string
	Mailbox   string
	Extractor *mime.Extractor
	// Now is used for a message without a usable date. Defaults to time.Now.
	Now func() time.Time
}

// Assembler builds one EmailRecord from the attributes and body parts of a
// single message. It is not safe for concurrent use; one goroutine owns it.
type Assembler struct {
	seqNum uint32
	cfg    AssemblerConfig
	state  AssemblerState

	record       models.EmailRecord
	internalDate time.Time
	headerBlock  []byte
	seen         map[string]bool
	textSet      bool
	explicitHTML bool
	// strictHeaders is set once headers came from a full parse.
	strictHeaders bool
}

// NewAssembler returns an assembler in StateCreated for the message with the given sequence number.
func NewAssembler(seqNum uint32, cfg AssemblerConfig) *Assembler {
	if cfg.Extractor == nil {
		cfg.Extractor = mime.NewExtractor(nil, 0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Assembler{
		seqNum: seqNum,
		cfg:    cfg,
		state:  StateCreated,
		seen:   make(map[string]bool),
		record: models.EmailRecord{
			Folder: cfg.Folder,
			Flags:  []string{},
		},
	}
}

// State returns the current state.
func (a *Assembler) State() AssemblerState {
	return a.state
}

// SetAttributes records UID, size, flags, internal date and attachments.
func (a *Assembler) SetAttributes(attrs *Attributes) error {
	if a.state >= StateComplete {
		return ErrAssemblerClosed
	}
	if attrs == nil {
		return nil
	}

	a.record.UID = attrs.UID
	a.record.Size = attrs.Size
	a.record.Flags = normalizeFlags(attrs.Flags)
	a.record.IsRead = slices.Contains(a.record.Flags, imap.SeenFlag)
	a.internalDate = attrs.InternalDate
	if attrs.Attachments != nil {
		a.record.Attachments = slices.Clone(attrs.Attachments)
	}
	return nil
}

// AddPart applies one body part. Text, HTML and header parts set disjoint
// fields except TextContent: a text part always sets it, an HTML part only
// fills it while no text part has.
func (a *Assembler) AddPart(part RawMessagePart) error {
	if a.state >= StateComplete {
		return ErrAssemblerClosed
	}
	if a.seen[part.Which] {
		return fmt.Errorf("%w: %q", ErrDuplicatePart, part.Which)
	}
	a.seen[part.Which] = true
	a.state = StateBodyPartsPending

	switch part.Kind {
	case PartText:
		content := a.cfg.Extractor.ExtractText(string(part.Body))
		a.record.TextContent = content.Text
		a.textSet = true
		if content.HTML != "" && !a.explicitHTML {
			a.record.HTMLContent = content.HTML
		}
	case PartHTML:
		htmlContent := a.cfg.Extractor.ExtractHTML(string(part.Body))
		a.record.HTMLContent = htmlContent
		a.explicitHTML = true
		if !a.textSet {
			a.record.TextContent = a.cfg.Extractor.PlainText(htmlContent)
		}
	case PartHeader:
		a.headerBlock = slices.Clone(part.Body)
	case PartMessage:
		return a.addMessage(part.Body)
	default:
		log.Debug().Uint32("seq", a.seqNum).Str("which", part.Which).Msg("Ignoring body part of unknown kind")
	}
	return nil
}

// addMessage applies a whole message parsed in strict mode.
func (a *Assembler) addMessage(body []byte) error {
	msg, err := a.cfg.Extractor.ParseStrict(bytes.NewReader(body), a.cfg.Mailbox, a.fallbackDate())
	if err != nil {
		log.Warn().Err(err).Uint32("seq", a.seqNum).Msg("Strict parse failed, falling back to line scan")
		a.headerBlock, _ = splitMessage(body)
		content := a.cfg.Extractor.ExtractText(string(body))
		a.record.TextContent = content.Text
		a.record.HTMLContent = content.HTML
		a.textSet = true
		return nil
	}

	a.applyHeaders(msg.Headers)
	a.strictHeaders = true
	a.record.TextContent = msg.Content.Text
	a.textSet = true
	if msg.Content.HTML != "" {
		a.record.HTMLContent = msg.Content.HTML
		a.explicitHTML = true
	}
	if len(a.record.Attachments) == 0 {
		a.record.Attachments = msg.Attachments
	}
	return nil
}

// Complete ends the message: missing headers get their defaults and the record becomes immutable.
func (a *Assembler) Complete() error {
	if a.state >= StateComplete {
		return ErrAssemblerClosed
	}

	if !a.strictHeaders {
		a.applyHeaders(mime.ParseHeaders(string(a.headerBlock), a.cfg.Mailbox, a.fallbackDate()))
	}
	if a.record.Attachments == nil {
		a.record.Attachments = []models.AttachmentRef{}
	}

	a.record.ID = strconv.FormatUint(uint64(a.record.UID), 10)
	if a.record.UID == 0 {
		a.record.ID = "seq-" + strconv.FormatUint(uint64(a.seqNum), 10)
	}

	a.state = StateComplete
	return nil
}

// Emit completes the assembler if needed and hands out the record. It can be called once.
func (a *Assembler) Emit() (models.EmailRecord, error) {
	if a.state == StateEmitted {
		return models.EmailRecord{}, ErrAssemblerClosed
	}
	if a.state < StateComplete {
		if err := a.Complete(); err != nil {
			return models.EmailRecord{}, err
		}
	}

	a.state = StateEmitted
	return a.record, nil
}

func (a *Assembler) applyHeaders(headers mime.Headers) {
	a.record.From = headers.From
	a.record.To = headers.To
	a.record.Subject = headers.Subject
	a.record.ReceivedAt = headers.Date
	a.record.MessageID = headers.MessageID
}

// fallbackDate is the server's internal date, or now when the server sent none.
func (a *Assembler) fallbackDate() time.Time {
	if !a.internalDate.IsZero() {
		return a.internalDate
	}
	return a.cfg.Now()
}

// normalizeFlags returns the flags sorted and without duplicates.
func normalizeFlags(flags []string) []string {
	out := slices.Clone(flags)
	if out == nil {
		return []string{}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
