package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vdavid/mailingest/internal/models"
)

// ErrEmailNotFound is returned when a requested email cannot be found.
var ErrEmailNotFound = errors.New("email not found")

// Store persists assembled email records, one row per folder and UID.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const upsertEmailSQL = `
	INSERT INTO emails (
		folder,
		uid,
		message_id,
		from_address,
		to_address,
		subject,
		received_at,
		text_content,
		html_content,
		size,
		flags,
		is_read,
		attachments
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (folder, uid) DO UPDATE SET
		message_id = EXCLUDED.message_id,
		from_address = EXCLUDED.from_address,
		to_address = EXCLUDED.to_address,
		subject = EXCLUDED.subject,
		received_at = EXCLUDED.received_at,
		text_content = EXCLUDED.text_content,
		html_content = EXCLUDED.html_content,
		size = EXCLUDED.size,
		flags = EXCLUDED.flags,
		is_read = EXCLUDED.is_read,
		attachments = EXCLUDED.attachments,
		updated_at = NOW()
`

const selectEmailColumns = `
	SELECT
		folder,
		uid,
		message_id,
		from_address,
		to_address,
		subject,
		received_at,
		text_content,
		html_content,
		size,
		flags,
		is_read,
		attachments
	FROM emails
`

// SaveEmails upserts a batch of records in one transaction. Records without
// a UID cannot be addressed later and are skipped.
func (s *Store) SaveEmails(ctx context.Context, records []models.EmailRecord) error {
	batch := &pgx.Batch{}
	for _, record := range records {
		if record.UID == 0 {
			log.Warn().Str("folder", record.Folder).Str("id", record.ID).Msg("Skipping email without UID")
			continue
		}
		batch.Queue(upsertEmailSQL,
			record.Folder,
			int64(record.UID),
			textColumn(record.MessageID),
			textColumn(record.From),
			textColumn(record.To),
			textColumn(record.Subject),
			record.ReceivedAt,
			textColumn(record.TextContent),
			textColumn(record.HTMLContent),
			int64(record.Size),
			nonNilFlags(record.Flags),
			record.IsRead,
			nonNilAttachments(record.Attachments),
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save emails: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit emails: %w", err)
	}

	return nil
}

// textColumn makes s acceptable to a TEXT column, which rejects NUL and
// invalid UTF-8. Header fields reach the store unrepaired.
func textColumn(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}

// ListEmails returns the newest limit stored emails of a folder, newest first.
func (s *Store) ListEmails(ctx context.Context, folder string, limit int) ([]models.EmailRecord, error) {
	rows, err := s.pool.Query(ctx, selectEmailColumns+`
		WHERE folder = $1
		ORDER BY received_at DESC, uid DESC
		LIMIT $2
	`, folder, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	defer rows.Close()

	records := []models.EmailRecord{}
	for rows.Next() {
		record, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating emails: %w", err)
	}

	return records, nil
}

// GetEmailByUID returns a stored email by folder and UID.
func (s *Store) GetEmailByUID(ctx context.Context, folder string, uid uint32) (*models.EmailRecord, error) {
	row := s.pool.QueryRow(ctx, selectEmailColumns+`WHERE folder = $1 AND uid = $2`, folder, int64(uid))

	record, err := scanEmail(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}

	return &record, nil
}

// CountEmails returns how many emails of a folder are stored and how many of them are unread.
func (s *Store) CountEmails(ctx context.Context, folder string) (total, unread int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT is_read)
		FROM emails
		WHERE folder = $1
	`, folder).Scan(&total, &unread)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count emails: %w", err)
	}

	return total, unread, nil
}

func scanEmail(row pgx.Row) (models.EmailRecord, error) {
	var record models.EmailRecord
	var uid, size int64
	if err := row.Scan(
		&record.Folder,
		&uid,
		&record.MessageID,
		&record.From,
		&record.To,
		&record.Subject,
		&record.ReceivedAt,
		&record.TextContent,
		&record.HTMLContent,
		&size,
		&record.Flags,
		&record.IsRead,
		&record.Attachments,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return record, err
		}
		return record, fmt.Errorf("failed to scan email: %w", err)
	}

	record.UID = uint32(uid)
	record.Size = uint32(size)
	record.ID = strconv.FormatInt(uid, 10)
	record.Flags = nonNilFlags(record.Flags)
	record.Attachments = nonNilAttachments(record.Attachments)
	return record, nil
}

func nonNilFlags(flags []string) []string {
	if flags == nil {
		return []string{}
	}
	return flags
}

func nonNilAttachments(attachments []models.AttachmentRef) []models.AttachmentRef {
	if attachments == nil {
		return []models.AttachmentRef{}
	}
	return attachments
}
