package handler

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"

	"regapi/internal/service"
)

// Register serves POST /api/register.
func Register(svc service.RegistrationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in service.RegisterInput
		if err := json.Unmarshal(c.Body(), &in); err != nil {
			return invalidBody(c)
		}
		res, err := svc.Register(c.UserContext(), in)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	}
}

type markPaidRequest struct {
	TransactionID string `json:"transactionId"`
}

// MarkPaid serves POST /api/payments/:orderNo/paid. The body is optional.
func MarkPaid(svc service.PaymentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req markPaidRequest
		if body := c.Body(); len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return invalidBody(c)
			}
		}
		rec, err := svc.MarkPaid(c.UserContext(), c.Params("orderNo"), req.TransactionID)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(rec)
	}
}

// DailyReport serves GET /api/payments/report?day=YYYY-MM-DD; the default is today (UTC).
func DailyReport(svc service.PaymentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		day := time.Now().UTC()
		if raw := c.Query("day"); raw != "" {
			d, err := time.Parse(time.DateOnly, raw)
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_DATE", "day must be YYYY-MM-DD")
			}
			day = d
		}
		rep, err := svc.DailyReport(c.UserContext(), day)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(rep)
	}
}
