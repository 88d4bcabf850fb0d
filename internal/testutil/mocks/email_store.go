package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vdavid/mailingest/internal/models"
)

// EmailStore is a mock of the stored-email queries.
type EmailStore struct {
	mock.Mock
}

// NewEmailStore creates an EmailStore mock whose expectations are asserted on cleanup.
func NewEmailStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *EmailStore {
	m := &EmailStore{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *EmailStore) ListEmails(ctx context.Context, folder string, limit int) ([]models.EmailRecord, error) {
	args := m.Called(ctx, folder, limit)

	var records []models.EmailRecord
	if args.Get(0) != nil {
		records = args.Get(0).([]models.EmailRecord)
	}

	return records, args.Error(1)
}

func (m *EmailStore) GetEmailByUID(ctx context.Context, folder string, uid uint32) (*models.EmailRecord, error) {
	args := m.Called(ctx, folder, uid)

	var record *models.EmailRecord
	if args.Get(0) != nil {
		record = args.Get(0).(*models.EmailRecord)
	}

	return record, args.Error(1)
}

func (m *EmailStore) CountEmails(ctx context.Context, folder string) (int, int, error) {
	args := m.Called(ctx, folder)
	return args.Int(0), args.Int(1), args.Error(2)
}
