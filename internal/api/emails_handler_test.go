package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailingest/internal/db"
	"github.com/vdavid/mailingest/internal/imap"
	"github.com/vdavid/mailingest/internal/models"
	"github.com/vdavid/mailingest/internal/testutil/mocks"
)

func sampleResult(folder string) *models.FetchResult {
	return &models.FetchResult{
		Emails: []models.EmailRecord{{
			ID:          "7",
			UID:         7,
			Folder:      folder,
			Subject:     "Status",
			TextContent: "Status: ✅ Match",
			Flags:       []string{},
			Attachments: []models.AttachmentRef{},
		}},
		TotalCount:  12,
		UnreadCount: 1,
		Folder:      folder,
		LastSync:    time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestEmailsHandler_GetEmails(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		setupMock   func(*mocks.MailService)
		wantStatus  int
		checkResult func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name: "returns the fetch result with defaults",
			url:  "/api/v1/emails",
			setupMock: func(m *mocks.MailService) {
				m.On("FetchEmails", mock.Anything, "INBOX", 50).Return(sampleResult("INBOX"), nil).Once()
			},
			wantStatus: http.StatusOK,
			checkResult: func(t *testing.T, rr *httptest.ResponseRecorder) {
				assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

				var body map[string]any
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				assert.Equal(t, "INBOX", body["folder"])
				assert.EqualValues(t, 12, body["totalCount"])
				assert.EqualValues(t, 1, body["unreadCount"])
				assert.Equal(t, "2025-07-01T09:00:00Z", body["lastSync"])

				emails := body["emails"].([]any)
				require.Len(t, emails, 1)
				email := emails[0].(map[string]any)
				assert.Equal(t, "Status: ✅ Match", email["textContent"])
				assert.Equal(t, "7", email["id"])
			},
		},
		{
			name: "passes folder and limit",
			url:  "/api/v1/emails?folder=Receipts&limit=5",
			setupMock: func(m *mocks.MailService) {
				m.On("FetchEmails", mock.Anything, "Receipts", 5).Return(sampleResult("Receipts"), nil).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "ignores an invalid limit",
			url:  "/api/v1/emails?limit=abc",
			setupMock: func(m *mocks.MailService) {
				m.On("FetchEmails", mock.Anything, "INBOX", 50).Return(sampleResult("INBOX"), nil).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "maps a timeout to 504",
			url:  "/api/v1/emails",
			setupMock: func(m *mocks.MailService) {
				m.On("FetchEmails", mock.Anything, "INBOX", 50).
					Return(nil, fmt.Errorf("%w: folder INBOX after 15s", imap.ErrFetchTimeout)).Once()
			},
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name: "maps other fetch errors to 502",
			url:  "/api/v1/emails",
			setupMock: func(m *mocks.MailService) {
				m.On("FetchEmails", mock.Anything, "INBOX", 50).
					Return(nil, errors.New("failed to connect to IMAP server")).Once()
			},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mail := mocks.NewMailService(t)
			tt.setupMock(mail)
			handler := NewEmailsHandler(mail, nil, "", 0)

			rr := httptest.NewRecorder()
			handler.GetEmails(rr, httptest.NewRequest(http.MethodGet, tt.url, nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.checkResult != nil {
				tt.checkResult(t, rr)
			}
		})
	}
}

func TestEmailsHandler_GetStoredEmails(t *testing.T) {
	t.Run("returns 404 without a store", func(t *testing.T) {
		handler := NewEmailsHandler(mocks.NewMailService(t), nil, "", 0)

		rr := httptest.NewRecorder()
		handler.GetStoredEmails(rr, httptest.NewRequest(http.MethodGet, "/api/v1/emails/stored", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("returns stored emails in a fetch envelope", func(t *testing.T) {
		store := mocks.NewEmailStore(t)
		records := sampleResult("Archive").Emails
		store.On("ListEmails", mock.Anything, "Archive", 10).Return(records, nil).Once()
		store.On("CountEmails", mock.Anything, "Archive").Return(40, 3, nil).Once()

		handler := NewEmailsHandler(mocks.NewMailService(t), store, "INBOX", 10)
		handler.now = func() time.Time { return time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC) }

		rr := httptest.NewRecorder()
		handler.GetStoredEmails(rr, httptest.NewRequest(http.MethodGet, "/api/v1/emails/stored?folder=Archive", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var result models.FetchResult
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
		assert.Equal(t, "Archive", result.Folder)
		assert.Equal(t, 40, result.TotalCount)
		assert.Equal(t, 3, result.UnreadCount)
		assert.Len(t, result.Emails, 1)
	})

	t.Run("maps store errors to 500", func(t *testing.T) {
		store := mocks.NewEmailStore(t)
		store.On("ListEmails", mock.Anything, "INBOX", 50).Return(nil, errors.New("db down")).Once()

		handler := NewEmailsHandler(mocks.NewMailService(t), store, "", 0)

		rr := httptest.NewRecorder()
		handler.GetStoredEmails(rr, httptest.NewRequest(http.MethodGet, "/api/v1/emails/stored", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestEmailsHandler_GetStoredEmail(t *testing.T) {
	newRequest := func(uid string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/emails/stored/"+uid, nil)
		req.SetPathValue("uid", uid)
		return req
	}

	tests := []struct {
		name       string
		uid        string
		setupStore func(*mocks.EmailStore)
		wantStatus int
	}{
		{
			name: "returns the email",
			uid:  "7",
			setupStore: func(m *mocks.EmailStore) {
				m.On("GetEmailByUID", mock.Anything, "INBOX", uint32(7)).Return(&sampleResult("INBOX").Emails[0], nil).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "returns 404 for an unknown email",
			uid:  "8",
			setupStore: func(m *mocks.EmailStore) {
				m.On("GetEmailByUID", mock.Anything, "INBOX", uint32(8)).Return(nil, db.ErrEmailNotFound).Once()
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "rejects a non-numeric uid",
			uid:        "abc",
			setupStore: func(*mocks.EmailStore) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "rejects uid zero",
			uid:        "0",
			setupStore: func(*mocks.EmailStore) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "maps store errors to 500",
			uid:  "9",
			setupStore: func(m *mocks.EmailStore) {
				m.On("GetEmailByUID", mock.Anything, "INBOX", uint32(9)).Return(nil, errors.New("db down")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mocks.NewEmailStore(t)
			tt.setupStore(store)
			handler := NewEmailsHandler(mocks.NewMailService(t), store, "", 0)

			rr := httptest.NewRecorder()
			handler.GetStoredEmail(rr, newRequest(tt.uid))

			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}
