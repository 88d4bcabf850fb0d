package imap

import (
	"context"

	"github.com/vdavid/mailingest/internal/models"
	"github.com/vdavid/mailingest/internal/websocket"
)

// MailService defines the mailbox operations used by the HTTP handlers and the CLI.
// This interface allows handlers to be tested with mock implementations.
type MailService interface {
	// FetchEmails fetches the newest messages of a folder as records.
	FetchEmails(ctx context.Context, folder string, limit int) (*models.FetchResult, error)

	// ListFolders lists the selectable folders.
	ListFolders(ctx context.Context) ([]models.Folder, error)

	// StartIdleListener watches a folder and pushes new emails to the WebSocket hub.
	// This function blocks until the context is cancelled.
	StartIdleListener(ctx context.Context, folder string, hub *websocket.Hub)
}

// Ensure Service implements MailService interface
var _ MailService = (*Service)(nil)
