package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vdavid/mailingest/internal/db"
	"github.com/vdavid/mailingest/internal/imap"
	"github.com/vdavid/mailingest/internal/models"
)

// EmailStore is the read side of the record store.
type EmailStore interface {
	ListEmails(ctx context.Context, folder string, limit int) ([]models.EmailRecord, error)
	GetEmailByUID(ctx context.Context, folder string, uid uint32) (*models.EmailRecord, error)
	CountEmails(ctx context.Context, folder string) (total, unread int, err error)
}

// EmailsHandler serves live fetches and, when a store is configured, stored emails.
type EmailsHandler struct {
	mail          imap.MailService
	store         EmailStore
	defaultFolder string
	defaultLimit  int
	now           func() time.Time
}

// NewEmailsHandler creates a new EmailsHandler. store may be nil.
func NewEmailsHandler(mail imap.MailService, store EmailStore, defaultFolder string, defaultLimit int) *EmailsHandler {
	if defaultFolder == "" {
		defaultFolder = imap.DefaultFolder
	}
	if defaultLimit <= 0 {
		defaultLimit = imap.DefaultLimit
	}
	return &EmailsHandler{
		mail:          mail,
		store:         store,
		defaultFolder: defaultFolder,
		defaultLimit:  defaultLimit,
		now:           time.Now,
	}
}

// GetEmails fetches the newest emails of a folder from the IMAP server.
// Query parameters: folder, limit.
func (h *EmailsHandler) GetEmails(w http.ResponseWriter, r *http.Request) {
	folder := folderParam(r, h.defaultFolder)
	limit := ParseLimitParam(r, h.defaultLimit)

	result, err := h.mail.FetchEmails(r.Context(), folder, limit)
	if err != nil {
		if errors.Is(err, imap.ErrFetchTimeout) {
			log.Warn().Err(err).Str("folder", folder).Msg("EmailsHandler: Fetch timed out")
			http.Error(w, "Timed out fetching emails from the IMAP server", http.StatusGatewayTimeout)
			return
		}
		log.Error().Err(err).Str("folder", folder).Msg("EmailsHandler: Failed to fetch emails")
		http.Error(w, "Failed to fetch emails", http.StatusBadGateway)
		return
	}

	WriteJSONResponse(w, result)
}

// GetStoredEmails lists stored emails of a folder in the same envelope as a live fetch.
func (h *EmailsHandler) GetStoredEmails(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	ctx := r.Context()
	folder := folderParam(r, h.defaultFolder)
	limit := ParseLimitParam(r, h.defaultLimit)

	emails, err := h.store.ListEmails(ctx, folder, limit)
	if err != nil {
		log.Error().Err(err).Str("folder", folder).Msg("EmailsHandler: Failed to list stored emails")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	total, unread, err := h.store.CountEmails(ctx, folder)
	if err != nil {
		log.Error().Err(err).Str("folder", folder).Msg("EmailsHandler: Failed to count stored emails")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, &models.FetchResult{
		Emails:      emails,
		TotalCount:  total,
		UnreadCount: unread,
		Folder:      folder,
		LastSync:    h.now(),
	})
}

// GetStoredEmail returns one stored email by UID, taken from the {uid} path value.
func (h *EmailsHandler) GetStoredEmail(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	uid, err := strconv.ParseUint(r.PathValue("uid"), 10, 32)
	if err != nil || uid == 0 {
		http.Error(w, "uid must be a positive integer", http.StatusBadRequest)
		return
	}
	folder := folderParam(r, h.defaultFolder)

	email, err := h.store.GetEmailByUID(r.Context(), folder, uint32(uid))
	if err != nil {
		if errors.Is(err, db.ErrEmailNotFound) {
			http.Error(w, "Email not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("folder", folder).Uint64("uid", uid).Msg("EmailsHandler: Failed to get stored email")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, email)
}

func (h *EmailsHandler) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		http.Error(w, "Email store is not enabled", http.StatusNotFound)
		return false
	}
	return true
}
