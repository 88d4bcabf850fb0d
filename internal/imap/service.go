package imap

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog/log"
	"github.com/vdavid/mailingest/internal/models"
)

// RecordSink receives every batch of records the service fetches.
type RecordSink interface {
	SaveEmails(ctx context.Context, records []models.EmailRecord) error
}

// Service fetches and watches one mailbox. Every operation dials its own
// connection and logs out when done, so a connection is never shared.
type Service struct {
	conn     ConnectionConfig
	defaults FetchOptions
	sink     RecordSink
	dial     func(ConnectionConfig) (*client.Client, error)

	watchRetryDelay time.Duration
}

// NewService creates a new IMAP service. defaults fills in what a caller leaves empty.
func NewService(conn ConnectionConfig, defaults FetchOptions) *Service {
	if defaults.Mailbox == "" {
		defaults.Mailbox = conn.Username
	}
	return &Service{
		conn:            conn,
		defaults:        defaults.withDefaults(),
		dial:            Connect,
		watchRetryDelay: watchRetryDelay,
	}
}

// WithSink makes the service hand every fetched batch to sink.
// Sink errors are logged and do not fail the fetch.
func (s *Service) WithSink(sink RecordSink) *Service {
	s.sink = sink
	return s
}

// Options returns the defaults with folder and limit applied when set.
func (s *Service) Options(folder string, limit int) FetchOptions {
	opts := s.defaults
	if folder != "" {
		opts.Folder = folder
	}
	if limit > 0 {
		opts.Limit = limit
	}
	return opts
}

// FetchEmails fetches the newest limit messages of folder. Empty folder and
// non-positive limit use the service defaults.
func (s *Service) FetchEmails(ctx context.Context, folder string, limit int) (*models.FetchResult, error) {
	opts := s.Options(folder, limit)

	c, err := s.dial(s.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer Logout(c)

	result, err := FetchEmails(ctx, c, opts)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("folder", result.Folder).
		Int("emails", len(result.Emails)).
		Int("unread", result.UnreadCount).
		Msg("Fetched mailbox")

	if s.sink != nil && len(result.Emails) > 0 {
		if err := s.sink.SaveEmails(ctx, result.Emails); err != nil {
			log.Error().Err(err).Str("folder", result.Folder).Msg("Failed to save fetched emails")
		}
	}

	return result, nil
}

// ListFolders lists the selectable folders of the mailbox.
func (s *Service) ListFolders(ctx context.Context) ([]models.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := s.dial(s.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer Logout(c)

	return ListFolders(c)
}
