package model

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"regapi/internal/schema"
)

const (
	PaymentDomain = "payment"
	PaymentEntity = "Payment"
)

// Payment statuses.
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// now is swapped in tests.
var now = time.Now

// NewOrderNo returns a fresh order number: "R", the UTC date, and 12 random hex digits.
func NewOrderNo() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "R" + now().UTC().Format("20060102") + strings.ToUpper(id[:12])
}

// Payment is the settlement record of a registration, keyed by its orderNo.
var Payment = schema.MustNew(schema.Definition{
	Name:   PaymentEntity,
	Domain: PaymentDomain,
	Fields: map[string]schema.FieldDefinition{
		"orderNo":        {Type: schema.TypeString, Required: true, Unique: true, Length: 32},
		"registrationId": {Type: schema.TypeString, Length: 64},
		"amount":         {Type: schema.TypeNumber, Required: true, Decimal: true, Precision: 10, Scale: 2},
		"currency":       {Type: schema.TypeString, Default: "CNY", Length: 3},
		"channel":        {Type: schema.TypeString, Enum: []any{"wechat", "alipay", "card", "cash"}},
		"status": {
			Type:    schema.TypeString,
			Default: PaymentPending,
			Enum:    []any{PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded},
		},
		"transactionId": {Type: schema.TypeString, Length: 64},
		"paidAt":        {Type: schema.TypeDate},
	},
	Hooks: []schema.HookBinding{
		{On: "preSave", Fn: stampPaidAt},
	},
	Methods: map[string]schema.Method{
		"isPaid": func(_ context.Context, rec schema.Record, _ ...any) (any, error) {
			return rec["status"] == PaymentPaid, nil
		},
	},
	Statics: map[string]schema.Static{
		"findByOrderNo": func(ctx context.Context, q schema.Querier, args ...any) (any, error) {
			if len(args) != 1 {
				return nil, errors.New("findByOrderNo takes exactly one argument")
			}
			return q.FindOne(ctx, schema.Query{"orderNo": args[0]})
		},
		"countPaid": func(ctx context.Context, q schema.Querier, _ ...any) (any, error) {
			return q.Count(ctx, schema.Query{"status": PaymentPaid})
		},
	},
	Indexes: []schema.Index{
		{Fields: []string{"status", schema.FieldCreatedAt}},
	},
})

// stampPaidAt records when a payment first became paid.
func stampPaidAt(_ context.Context, rec schema.Record) error {
	if rec["status"] != PaymentPaid {
		return nil
	}
	if v, ok := rec["paidAt"]; ok && v != nil {
		return nil
	}
	rec["paidAt"] = now().UTC().Format(time.RFC3339Nano)
	return nil
}
