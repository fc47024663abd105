package model

import (
	"context"
	"errors"
	"strings"

	"regapi/internal/schema"
)

// Registration domain and entity names.
const (
	RegistrationDomain = "registration"
	RegistrationEntity = "Registration"
)

// Registration statuses.
const (
	RegistrationPending   = "pending"
	RegistrationConfirmed = "confirmed"
	RegistrationCancelled = "cancelled"
)

// Registration is an attendee sign-up for an event. Its orderNo links it to the Payment
// that settles it.
var Registration = schema.MustNew(schema.Definition{
	Name:   RegistrationEntity,
	Domain: RegistrationDomain,
	Fields: map[string]schema.FieldDefinition{
		"name":    {Type: schema.TypeString, Required: true, Length: 64},
		"phone":   {Type: schema.TypeString, Required: true, Length: 16, Match: `^\+?[0-9]{7,15}$`},
		"email":   {Type: schema.TypeString, Length: 128, Match: `^[^@\s]+@[^@\s]+\.[^@\s]+$`},
		"event":   {Type: schema.TypeString, Required: true, Length: 64},
		"orderNo": {Type: schema.TypeString, Required: true, Unique: true, Length: 32},
		"amount":  {Type: schema.TypeNumber, Required: true, Decimal: true, Precision: 10, Scale: 2},
		"status": {
			Type:    schema.TypeString,
			Default: RegistrationPending,
			Enum:    []any{RegistrationPending, RegistrationConfirmed, RegistrationCancelled},
		},
		"remark": {Type: schema.TypeString},
		"tags":   {Type: schema.TypeArray, Of: &schema.FieldDefinition{Type: schema.TypeString}},
	},
	Hooks: []schema.HookBinding{
		{On: "validate", Fn: normalizeRegistration},
		{On: "beforeValidate", Fn: assignOrderNo},
	},
	Methods: map[string]schema.Method{
		"isConfirmed": func(_ context.Context, rec schema.Record, _ ...any) (any, error) {
			return rec["status"] == RegistrationConfirmed, nil
		},
	},
	Statics: map[string]schema.Static{
		"findByPhone": func(ctx context.Context, q schema.Querier, args ...any) (any, error) {
			if len(args) != 1 {
				return nil, errors.New("findByPhone takes exactly one argument")
			}
			phone, _ := args[0].(string)
			return q.Find(ctx, schema.Query{"phone": normalizePhone(phone)}, schema.FindOptions{
				Sort: []schema.SortKey{{Field: schema.FieldCreatedAt, Order: schema.Desc}},
			})
		},
	},
	Indexes: []schema.Index{
		{Fields: []string{"phone"}},
		{Fields: []string{"event", "status"}},
	},
})

// normalizeRegistration trims free text and strips phone separators so the pattern
// check and phone lookups see one canonical form.
func normalizeRegistration(_ context.Context, rec schema.Record) error {
	for _, f := range []string{"name", "event", "remark"} {
		if s, ok := rec[f].(string); ok {
			rec[f] = strings.TrimSpace(s)
		}
	}
	if s, ok := rec["email"].(string); ok {
		rec["email"] = strings.ToLower(strings.TrimSpace(s))
	}
	if s, ok := rec["phone"].(string); ok {
		rec["phone"] = normalizePhone(s)
	}
	return nil
}

func normalizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, s)
}

func assignOrderNo(_ context.Context, rec schema.Record) error {
	if s, _ := rec["orderNo"].(string); s == "" {
		rec["orderNo"] = NewOrderNo()
	}
	return nil
}
