package imap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog/log"
	"github.com/vdavid/mailingest/internal/mime"
	"github.com/vdavid/mailingest/internal/models"
)

const (
	DefaultFolder       = "INBOX"
	DefaultLimit        = 50
	DefaultFetchTimeout = 15 * time.Second
)

// ErrFetchTimeout is returned when a fetch does not finish within its timeout.
var ErrFetchTimeout = errors.New("imap fetch timed out")

// headerFields are requested with BODY.PEEK[HEADER.FIELDS (...)].
var headerFields = []string{"FROM", "TO", "SUBJECT", "DATE", "MESSAGE-ID"}

// FetchOptions configures one fetch batch.
type FetchOptions struct {
	Folder  string
	Limit   int
	Timeout time.Duration
	// Mailbox is the address of the account, used as To when a message has none.
	Mailbox string
	// Strict fetches whole messages and parses them with enmime instead of
	// scanning the TEXT and header sections.
	Strict    bool
	Extractor *mime.Extractor
	Now       func() time.Time
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.Folder == "" {
		o.Folder = DefaultFolder
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultFetchTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// FetchEmails fetches the newest messages of a folder and assembles them into
// records. The whole batch, including SELECT, is bounded by opts.Timeout; on
// expiry the connection is terminated, nothing collected so far is returned and
// the error wraps ErrFetchTimeout. The client must be logged in and is owned by
// this call until it returns.
func FetchEmails(ctx context.Context, c *client.Client, opts FetchOptions) (*models.FetchResult, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	type outcome struct {
		result *models.FetchResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fetchEmails(ctx, c, opts)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil || ctx.Err() == nil {
			return out.result, out.err
		}
	case <-ctx.Done():
	}

	// The connection is mid-command; it cannot be reused.
	if err := c.Terminate(); err != nil {
		log.Debug().Err(err).Str("folder", opts.Folder).Msg("Failed to terminate IMAP connection")
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: folder %s after %s", ErrFetchTimeout, opts.Folder, opts.Timeout)
	}
	return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
}

func fetchEmails(ctx context.Context, c *client.Client, opts FetchOptions) (*models.FetchResult, error) {
	mbox, err := c.Select(opts.Folder, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", opts.Folder, err)
	}

	result := &models.FetchResult{
		Emails:     []models.EmailRecord{},
		TotalCount: int(mbox.Messages),
		Folder:     opts.Folder,
		LastSync:   opts.Now(),
	}
	if mbox.Messages == 0 {
		return result, nil
	}

	events := make(chan Event, 64)
	fetchErr := make(chan error, 1)
	go func() {
		defer close(events)
		fetchErr <- streamMessages(ctx, c, newestRange(mbox.Messages, opts.Limit), opts.Strict, events)
	}()

	records, err := Collect(ctx, events, AssemblerConfig{
		Folder:    opts.Folder,
		Mailbox:   opts.Mailbox,
		Extractor: opts.Extractor,
		Now:       opts.Now,
	})
	if err != nil {
		return nil, err
	}
	if err := <-fetchErr; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	result.Emails = records
	for _, record := range records {
		if !record.IsRead {
			result.UnreadCount++
		}
	}

	log.Debug().
		Str("folder", opts.Folder).
		Int("fetched", len(records)).
		Int("total", result.TotalCount).
		Msg("Fetched emails")

	return result, nil
}

// newestRange returns the sequence range of the last limit messages.
func newestRange(total uint32, limit int) *imap.SeqSet {
	from := uint32(1)
	if uint32(limit) < total {
		from = total - uint32(limit) + 1
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, total)
	return seqSet
}

// fetchItems lists what is requested per message.
func fetchItems(strict bool) []imap.FetchItem {
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		imap.FetchRFC822Size,
		imap.FetchInternalDate,
		imap.FetchBodyStructure,
	}
	if strict {
		return append(items, (&imap.BodySectionName{Peek: true}).FetchItem())
	}

	header := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier, Fields: headerFields},
		Peek:         true,
	}
	text := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier},
		Peek:         true,
	}
	return append(items, header.FetchItem(), text.FetchItem())
}

// streamMessages runs FETCH and turns every message into events. Once ctx is
// done it stops sending but keeps reading so the client is never blocked.
func streamMessages(ctx context.Context, c *client.Client, seqSet *imap.SeqSet, strict bool, events chan<- Event) error {
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, fetchItems(strict), messages)
	}()

	for msg := range messages {
		if ctx.Err() != nil {
			continue
		}
		for _, event := range messageEvents(msg) {
			select {
			case events <- event:
			case <-ctx.Done():
			}
		}
	}

	return <-done
}

// messageEvents returns the attribute event, one body event per section and the end event.
func messageEvents(msg *imap.Message) []Event {
	events := []Event{{
		SeqNum: msg.SeqNum,
		Type:   EventAttributes,
		Attributes: &Attributes{
			UID:          msg.Uid,
			Size:         msg.Size,
			Flags:        msg.Flags,
			InternalDate: msg.InternalDate,
			Attachments:  discoverAttachments(msg.BodyStructure),
		},
	}}

	parts := make([]*RawMessagePart, 0, len(msg.Body))
	for section, literal := range msg.Body {
		if section == nil || literal == nil {
			continue
		}
		body, err := io.ReadAll(literal)
		if err != nil {
			log.Warn().Err(err).Uint32("uid", msg.Uid).Msg("Failed to read body section")
			continue
		}
		parts = append(parts, &RawMessagePart{
			Which: sectionWhich(section),
			Kind:  kindOf(section, msg.BodyStructure),
			Body:  body,
		})
	}
	// Map order is random; keep the stream reproducible.
	slices.SortFunc(parts, func(a, b *RawMessagePart) int {
		return strings.Compare(a.Which, b.Which)
	})
	for _, part := range parts {
		events = append(events, Event{SeqNum: msg.SeqNum, Type: EventBody, Part: part})
	}

	return append(events, Event{SeqNum: msg.SeqNum, Type: EventEnd})
}
