// Package middleware holds the fiber middleware shared by the inbound HTTP routes.
package middleware

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
)

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorHandler is a centralized error handler for Fiber
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	log = logger.OrDefault(log)
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals("request_id").(string)

		response := ErrorResponse{
			Success:   false,
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		var status int
		if apperr.IsAppError(err) {
			appErr := apperr.AsAppError(err)
			status = appErr.Status
			if status == 0 {
				status = fiber.StatusInternalServerError
			}
			response.Error = ErrorDetail{
				Code:    appErr.Code,
				Message: appErr.Message,
				Details: appErr.Details,
			}

			entry := log.WithField("request_id", requestID).
				WithField("error_code", appErr.Code).
				WithError(appErr.Err)
			if status >= 500 {
				entry.Error("Internal error: %s", appErr.Message)
			} else {
				entry.Warn("Client error: %s", appErr.Message)
			}
			return c.Status(status).JSON(response)
		}

		if e, ok := err.(*fiber.Error); ok {
			response.Error = ErrorDetail{
				Code:    mapHTTPStatusToCode(e.Code),
				Message: e.Message,
			}
			return c.Status(e.Code).JSON(response)
		}

		response.Error = ErrorDetail{
			Code:    apperr.CodeInternalError,
			Message: "An unexpected error occurred",
		}
		log.WithField("request_id", requestID).
			WithError(err).
			Error("Unexpected error: %s", err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(response)
	}
}

// RequestID middleware adds a unique request ID to each request
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	}
}

// RequestLogger logs incoming requests and their responses
func RequestLogger(log *logger.Logger) fiber.Handler {
	log = logger.OrDefault(log)
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		requestID, _ := c.Locals("request_id").(string)
		status := c.Response().StatusCode()
		entry := log.WithFields(map[string]any{
			"request_id":  requestID,
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"ip":          c.IP(),
		})
		if subject, ok := c.Locals("trigger_subject").(string); ok {
			entry = entry.WithField("caller", subject)
		}

		switch {
		case status >= 500:
			entry.Error("Request failed: %s %s -> %d", c.Method(), c.Path(), status)
		case status >= 400:
			entry.Warn("Request error: %s %s -> %d", c.Method(), c.Path(), status)
		default:
			entry.Info("Request completed: %s %s -> %d", c.Method(), c.Path(), status)
		}
		return err
	}
}

// Recover middleware recovers from panics
func Recover(log *logger.Logger) fiber.Handler {
	log = logger.OrDefault(log)
	return func(c *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Locals("request_id").(string)
				fmt.Fprintf(os.Stderr, "panic recovered on %s %s: %v\n%s\n", c.Method(), c.Path(), r, debug.Stack())

				log.WithFields(map[string]any{
					"request_id": requestID,
					"panic":      fmt.Sprintf("%v", r),
					"path":       c.Path(),
					"method":     c.Method(),
				}).Error("Panic recovered")

				_ = c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
					Success:   false,
					RequestID: requestID,
					Timestamp: time.Now().UTC().Format(time.RFC3339),
					Error: ErrorDetail{
						Code:    apperr.CodeInternalError,
						Message: "An unexpected error occurred",
					},
				})
			}
		}()
		return c.Next()
	}
}

func mapHTTPStatusToCode(status int) string {
	switch status {
	case 400:
		return apperr.CodeBadRequest
	case 401:
		return apperr.CodeUnauthorized
	case 404:
		return apperr.CodeNotFound
	case 408:
		return apperr.CodeTimeout
	default:
		if status >= 500 {
			return apperr.CodeInternalError
		}
		return apperr.CodeBadRequest
	}
}
