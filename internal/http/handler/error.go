package handler

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"personnelexport/internal/http/middleware"
	"personnelexport/internal/portal"
	"personnelexport/internal/service"
	"personnelexport/internal/tabular"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "LOGIN_FAILED", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// userError is the user-facing rendering of a service or portal failure.
type userError struct {
	Status  int
	Code    string
	Message string
}

// classify maps an export error to the status, code and message shown to the user.
func classify(err error, maxLimit int) userError {
	switch {
	case errors.Is(err, service.ErrCredentialsRequired):
		return userError{fiber.StatusBadRequest, "CREDENTIALS_REQUIRED", "Email and password are required."}
	case errors.Is(err, service.ErrInvalidLimit):
		return userError{fiber.StatusBadRequest, "INVALID_LIMIT",
			fmt.Sprintf("Number of personnel must be between 1 and %d.", maxLimit)}
	case errors.Is(err, portal.ErrTokenNotFound):
		return userError{fiber.StatusBadGateway, "TOKEN_NOT_FOUND", "Could not find the login form token."}
	case errors.Is(err, portal.ErrLoginFailed):
		return userError{fiber.StatusUnauthorized, "LOGIN_FAILED", "Login failed, check credentials."}
	case errors.Is(err, portal.ErrUnexpectedStatus):
		return userError{fiber.StatusBadGateway, "UPSTREAM_STATUS", "The portal returned an unexpected status."}
	case errors.Is(err, portal.ErrInvalidJSON):
		return userError{fiber.StatusBadGateway, "UPSTREAM_INVALID_JSON", "The portal did not return JSON data."}
	case errors.Is(err, tabular.ErrRecordNotObject):
		return userError{fiber.StatusBadGateway, "UPSTREAM_INVALID_DATA", "The portal returned rows that are not records."}
	case errors.Is(err, service.ErrNoData):
		return userError{fiber.StatusNotFound, "NO_DATA", "No data returned."}
	case errors.Is(err, service.ErrNotFound):
		return userError{fiber.StatusNotFound, "NOT_FOUND", "export not found"}
	default:
		return userError{fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"}
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "PAYLOAD_TOO_LARGE", "request body too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
