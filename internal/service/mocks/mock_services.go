package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"regapi/internal/schema"
	"regapi/internal/service"
)

type MockRegistrationService struct {
	mock.Mock
}

var _ service.RegistrationService = (*MockRegistrationService)(nil)

func (m *MockRegistrationService) Register(ctx context.Context, in service.RegisterInput) (*service.Registered, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Registered), args.Error(1)
}

type MockPaymentService struct {
	mock.Mock
}

var _ service.PaymentService = (*MockPaymentService)(nil)

func (m *MockPaymentService) MarkPaid(ctx context.Context, orderNo, transactionID string) (schema.Record, error) {
	args := m.Called(ctx, orderNo, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(schema.Record), args.Error(1)
}

func (m *MockPaymentService) DailyReport(ctx context.Context, day time.Time) (*service.DailyReport, error) {
	args := m.Called(ctx, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DailyReport), args.Error(1)
}
