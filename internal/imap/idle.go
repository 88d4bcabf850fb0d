package imap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/rs/zerolog/log"
	"github.com/vdavid/mailingest/internal/models"
	"github.com/vdavid/mailingest/internal/websocket"
)

const (
	// watchRetryDelay is the backoff after an error before watching again.
	watchRetryDelay = 10 * time.Second
	// idlePollInterval is used when the server does not support IDLE.
	idlePollInterval = 5 * time.Second
)

var errIdleEnded = errors.New("idle ended unexpectedly")

// MailboxChange reports that a watched folder grew.
type MailboxChange struct {
	Folder string
	// Messages is the folder size after the change.
	Messages uint32
	// New is how many messages arrived since the last change.
	New uint32
}

// Watch calls onChange whenever new messages arrive in folder. It reconnects
// after errors and blocks until ctx is canceled.
func (s *Service) Watch(ctx context.Context, folder string, onChange func(MailboxChange)) {
	if folder == "" {
		folder = s.defaults.Folder
	}

	for ctx.Err() == nil {
		err := s.watchOnce(ctx, folder, onChange)
		if err == nil || ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("folder", folder).Dur("retry_in", s.watchRetryDelay).Msg("IMAP IDLE: watch failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.watchRetryDelay):
		}
	}
}

func (s *Service) watchOnce(ctx context.Context, folder string, onChange func(MailboxChange)) error {
	c, err := s.dial(s.conn)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer Logout(c)

	return WatchMailbox(ctx, c, folder, onChange)
}

// WatchMailbox selects folder read-only and runs IDLE (or NOOP polling when
// the server lacks IDLE) until ctx is canceled, reporting growth to onChange.
// It returns nil on cancellation.
func WatchMailbox(ctx context.Context, c *imapclient.Client, folder string, onChange func(MailboxChange)) error {
	mbox, err := c.Select(folder, true)
	if err != nil {
		return fmt.Errorf("failed to select folder %s: %w", folder, err)
	}
	known := mbox.Messages

	updates := make(chan imapclient.Update, 10)
	c.Updates = updates
	defer func() {
		c.Updates = nil
	}()

	idleClient := idle.NewClient(c)
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, idlePollInterval)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			drainUntilDone(updates, done)
			return nil
		case err := <-done:
			if err != nil {
				return fmt.Errorf("idle loop ended: %w", err)
			}
			return errIdleEnded
		case update := <-updates:
			change, size, ok := mailboxChange(folder, known, update)
			known = size
			if ok {
				onChange(change)
			}
		}
	}
}

// mailboxChange turns an unsolicited update into a change when the folder grew.
// It returns the folder size to remember.
func mailboxChange(folder string, known uint32, update imapclient.Update) (MailboxChange, uint32, bool) {
	mboxUpdate, ok := update.(*imapclient.MailboxUpdate)
	if !ok || mboxUpdate.Mailbox == nil {
		return MailboxChange{}, known, false
	}

	size := mboxUpdate.Mailbox.Messages
	if size <= known {
		return MailboxChange{}, size, false
	}
	return MailboxChange{Folder: folder, Messages: size, New: size - known}, size, true
}

// drainUntilDone keeps reading updates so the client is not blocked while IDLE stops.
func drainUntilDone(updates <-chan imapclient.Update, done <-chan error) {
	for {
		select {
		case <-updates:
		case <-done:
			return
		}
	}
}

// StartIdleListener watches folder and, for each change, fetches the new
// messages and pushes them to the hub's subscribers of that folder.
// This function blocks until the context is canceled.
func (s *Service) StartIdleListener(ctx context.Context, folder string, hub *websocket.Hub) {
	if folder == "" {
		folder = s.defaults.Folder
	}

	s.Watch(ctx, folder, func(change MailboxChange) {
		// Fetching needs its own connection; the watching one is idling.
		go s.pushNewEmails(ctx, change, hub)
	})
}

func (s *Service) pushNewEmails(ctx context.Context, change MailboxChange, hub *websocket.Hub) {
	if hub.ActiveConnections(change.Folder) == 0 {
		return
	}

	result, err := s.FetchEmails(ctx, change.Folder, int(change.New))
	if err != nil {
		log.Error().Err(err).Str("folder", change.Folder).Msg("IMAP IDLE: failed to fetch new emails")
		return
	}

	payload, err := newEmailPayload(change.Folder, result.Emails)
	if err != nil {
		log.Error().Err(err).Msg("IMAP IDLE: failed to marshal new_email message")
		return
	}
	hub.Send(change.Folder, payload)
}

func newEmailPayload(folder string, emails []models.EmailRecord) ([]byte, error) {
	msg := struct {
		Type   string               `json:"type"`
		Folder string               `json:"folder"`
		Emails []models.EmailRecord `json:"emails"`
	}{
		Type:   "new_email",
		Folder: folder,
		Emails: emails,
	}
	return json.Marshal(msg)
}
