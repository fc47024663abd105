package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"regapi/internal/http/middleware"
	"regapi/internal/repository"
	"regapi/internal/schema"
	"regapi/internal/service"
)

// errorPayload is the body of every non-2xx response.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError renders the error payload. message is shown to clients as is.
func writeError(c *fiber.Ctx, status int, code, message string) error {
	rid, _ := c.Locals(middleware.RequestIDLocalKey).(string)
	return c.Status(status).JSON(errorPayload{
		RequestID: rid,
		Error:     errorEnvelope{Code: code, Message: message},
	})
}

type apiError struct {
	status  int
	code    string
	message string
}

var internalError = apiError{fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"}

// statusErrors covers errors raised by fiber itself (routing, body limits).
var statusErrors = map[int]apiError{
	fiber.StatusBadRequest:            {fiber.StatusBadRequest, "BAD_REQUEST", "bad request"},
	fiber.StatusNotFound:              {fiber.StatusNotFound, "NOT_FOUND", "resource not found"},
	fiber.StatusMethodNotAllowed:      {fiber.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed"},
	fiber.StatusRequestEntityTooLarge: {fiber.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large"},
}

// sentinelErrors is checked in order; the first match wins.
var sentinelErrors = []struct {
	target error
	apiError
}{
	{schema.ErrUnknownEntity, apiError{fiber.StatusNotFound, "UNKNOWN_ENTITY", "unknown entity"}},
	{repository.ErrUnknownOperation, apiError{fiber.StatusNotFound, "UNKNOWN_OPERATION", "unknown operation"}},
	{service.ErrNotFound, apiError{fiber.StatusNotFound, "NOT_FOUND", "record not found"}},
	{service.ErrAlreadyPaid, apiError{fiber.StatusConflict, "ALREADY_PAID", "payment already settled"}},
}

// ErrorHandler is the fiber error handler. Anything that is not a *fiber.Error is a 500.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		ae := internalError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			if known, ok := statusErrors[fe.Code]; ok {
				ae = known
			} else {
				ae.status = fe.Code
			}
		}
		return writeError(c, ae.status, ae.code, ae.message)
	}
}

// writeServiceError maps schema, repository and service errors onto the payload.
// Validation messages only name a field and a rule, so they pass through.
func writeServiceError(c *fiber.Ctx, err error) error {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", verr.Field+" "+verr.Message)
	}
	if errors.Is(err, service.ErrOrderNoRequired) {
		return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	}
	for _, s := range sentinelErrors {
		if errors.Is(err, s.target) {
			return writeError(c, s.status, s.code, s.message)
		}
	}
	return writeError(c, internalError.status, internalError.code, internalError.message)
}
