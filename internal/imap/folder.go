package imap

import (
	"fmt"
	"slices"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/vdavid/mailingest/internal/models"
)

// ListFolders lists all selectable folders on the IMAP server, INBOX first,
// the rest by name.
func ListFolders(c *client.Client) ([]models.Folder, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	folders := []models.Folder{}
	for m := range mailboxes {
		if slices.Contains(m.Attributes, imap.NoSelectAttr) {
			continue
		}
		folders = append(folders, models.Folder{Name: m.Name})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	slices.SortFunc(folders, func(a, b models.Folder) int {
		aInbox, bInbox := strings.EqualFold(a.Name, DefaultFolder), strings.EqualFold(b.Name, DefaultFolder)
		switch {
		case aInbox && !bInbox:
			return -1
		case bInbox && !aInbox:
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})

	return folders, nil
}
