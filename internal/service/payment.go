package service

import (
	"context"
	"fmt"
	"time"

	"regapi/internal/model"
	"regapi/internal/repository"
	"regapi/internal/schema"
)

// DailyReport summarizes the payments created on one UTC day, grouped by status.
type DailyReport struct {
	Day    string                 `json:"day"`
	Total  int                    `json:"total"`
	Groups []repository.GroupStat `json:"groups"`
}

// PaymentService defines the settlement use cases.
type PaymentService interface {
	// MarkPaid settles the payment with orderNo and confirms its registration.
	MarkPaid(ctx context.Context, orderNo, transactionID string) (schema.Record, error)

	// DailyReport groups the payments created on day by status, summing amounts.
	DailyReport(ctx context.Context, day time.Time) (*DailyReport, error)
}

type paymentService struct {
	payments      repository.Repository
	registrations repository.Repository
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(payments, registrations repository.Repository) PaymentService {
	return &paymentService{payments: payments, registrations: registrations}
}

func (s *paymentService) MarkPaid(ctx context.Context, orderNo, transactionID string) (schema.Record, error) {
	if orderNo == "" {
		return nil, ErrOrderNoRequired
	}
	cur, err := s.payments.FindOne(ctx, schema.Query{"orderNo": orderNo})
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNotFound
	}
	if cur["status"] == model.PaymentPaid {
		return nil, ErrAlreadyPaid
	}

	patch := schema.Record{"status": model.PaymentPaid}
	if transactionID != "" {
		patch["transactionId"] = transactionID
	}
	updated, err := s.payments.UpdateByID(ctx, cur.ID(), patch)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrNotFound
	}

	// One registration per order number; the default single-record update is enough.
	if _, err := s.registrations.Update(ctx,
		schema.Query{"orderNo": orderNo},
		schema.Record{"status": model.RegistrationConfirmed},
		schema.UpdateOptions{},
	); err != nil {
		return nil, fmt.Errorf("confirm registration: %w", err)
	}
	return updated, nil
}

func (s *paymentService) DailyReport(ctx context.Context, day time.Time) (*DailyReport, error) {
	y, m, d := day.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Nanosecond)

	recs, err := s.payments.FindByDateRange(ctx, schema.FieldCreatedAt, start, &end, nil)
	if err != nil {
		return nil, err
	}
	groups := repository.GroupRecords(recs, []string{"status"}, repository.GroupOptions{SumField: "amount"})
	return &DailyReport{Day: start.Format(time.DateOnly), Total: len(recs), Groups: groups}, nil
}
