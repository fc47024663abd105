package service

import (
	"context"
	"fmt"

	"regapi/internal/repository"
	"regapi/internal/schema"
)

// RegisterInput is what an attendee submits when signing up.
type RegisterInput struct {
	Name    string   `json:"name"`
	Phone   string   `json:"phone"`
	Email   string   `json:"email,omitempty"`
	Event   string   `json:"event"`
	Amount  float64  `json:"amount"`
	Channel string   `json:"channel,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Registered pairs a new registration with the pending payment that settles it.
type Registered struct {
	Registration schema.Record `json:"registration"`
	Payment      schema.Record `json:"payment"`
}

// RegistrationService defines the sign-up use cases.
type RegistrationService interface {
	// Register stores the registration, then a pending payment under the same order
	// number. If the payment cannot be stored the registration is deleted again.
	Register(ctx context.Context, in RegisterInput) (*Registered, error)
}

type registrationService struct {
	registrations repository.Repository
	payments      repository.Repository
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(registrations, payments repository.Repository) RegistrationService {
	return &registrationService{registrations: registrations, payments: payments}
}

func (s *registrationService) Register(ctx context.Context, in RegisterInput) (*Registered, error) {
	rec := schema.Record{
		"name":   in.Name,
		"phone":  in.Phone,
		"event":  in.Event,
		"amount": in.Amount,
	}
	if in.Email != "" {
		rec["email"] = in.Email
	}
	if len(in.Tags) > 0 {
		tags := make([]any, len(in.Tags))
		for i, t := range in.Tags {
			tags[i] = t
		}
		rec["tags"] = tags
	}

	reg, err := s.registrations.Create(ctx, rec)
	if err != nil {
		return nil, err
	}

	pay := schema.Record{
		"orderNo":        reg["orderNo"],
		"registrationId": reg.ID(),
		"amount":         in.Amount,
	}
	if in.Channel != "" {
		pay["channel"] = in.Channel
	}
	payment, err := s.payments.Create(ctx, pay)
	if err != nil {
		// Rollback: remove the registration so the order number is free again
		if _, delErr := s.registrations.DeleteByID(ctx, reg.ID()); delErr != nil {
			return nil, fmt.Errorf("payment save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("payment save failed: %w", err)
	}
	return &Registered{Registration: reg, Payment: payment}, nil
}
