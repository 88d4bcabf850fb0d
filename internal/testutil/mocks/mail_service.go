package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vdavid/mailingest/internal/models"
	"github.com/vdavid/mailingest/internal/websocket"
)

// MailService is a mock of the mailbox operations used by handlers and the CLI.
type MailService struct {
	mock.Mock
}

// NewMailService creates a MailService mock whose expectations are asserted on cleanup.
func NewMailService(t interface {
	mock.TestingT
	Cleanup(func())
}) *MailService {
	m := &MailService{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MailService) FetchEmails(ctx context.Context, folder string, limit int) (*models.FetchResult, error) {
	args := m.Called(ctx, folder, limit)

	var result *models.FetchResult
	if rf, ok := args.Get(0).(func(context.Context, string, int) *models.FetchResult); ok {
		result = rf(ctx, folder, limit)
	} else if args.Get(0) != nil {
		result = args.Get(0).(*models.FetchResult)
	}

	return result, args.Error(1)
}

func (m *MailService) ListFolders(ctx context.Context) ([]models.Folder, error) {
	args := m.Called(ctx)

	var folders []models.Folder
	if args.Get(0) != nil {
		folders = args.Get(0).([]models.Folder)
	}

	return folders, args.Error(1)
}

func (m *MailService) StartIdleListener(ctx context.Context, folder string, hub *websocket.Hub) {
	m.Called(ctx, folder, hub)
}
