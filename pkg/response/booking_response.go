// Package response provides the JSON envelope used by the HTTP routes.
package response

import (
	"github.com/gofiber/fiber/v2"
)

// Response is the standard API response structure.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OK returns a successful response.
func OK(c *fiber.Ctx, data interface{}) error {
	return JSON(c, fiber.StatusOK, true, data)
}

// Accepted returns a 202 response for queued work.
func Accepted(c *fiber.Ctx, data interface{}) error {
	return JSON(c, fiber.StatusAccepted, true, data)
}

// JSON writes data under the given status. Used when a body accompanies a failure status.
func JSON(c *fiber.Ctx, status int, success bool, data interface{}) error {
	return c.Status(status).JSON(Response{
		Success: success,
		Data:    data,
	})
}

// Error returns an error response.
func Error(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest returns a 400 bad request response.
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, "BAD_REQUEST", message)
}

// ServiceUnavailable returns a 503 response.
func ServiceUnavailable(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusServiceUnavailable, "UNAVAILABLE", message)
}
