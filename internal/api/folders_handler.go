package api

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/vdavid/mailingest/internal/imap"
)

// FoldersHandler handles IMAP folder-related API requests.
type FoldersHandler struct {
	mail imap.MailService
}

// NewFoldersHandler creates a new FoldersHandler instance.
func NewFoldersHandler(mail imap.MailService) *FoldersHandler {
	return &FoldersHandler{mail: mail}
}

// GetFolders returns the selectable folders of the mailbox, INBOX first.
func (h *FoldersHandler) GetFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.mail.ListFolders(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("FoldersHandler: Failed to list folders")
		http.Error(w, "Failed to list folders", http.StatusBadGateway)
		return
	}

	WriteJSONResponse(w, folders)
}
