package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"booking_worker/core/domain"
	"booking_worker/core/port/in"
	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
	"booking_worker/pkg/metrics"
	"booking_worker/pkg/response"
)

// DefaultRawBucket receives raw uploads that name no bucket.
const DefaultRawBucket = "inbound"

// InboundHandler exposes the pipeline over HTTP.
type InboundHandler struct {
	service   in.EmailProcessingService
	publisher out.TriggerPublisher
	writer    out.BlobWriter
	log       *logger.Logger
}

// NewInboundHandler creates the handler. publisher and writer may be nil, which
// disables the async and raw upload routes respectively.
func NewInboundHandler(service in.EmailProcessingService, publisher out.TriggerPublisher, writer out.BlobWriter, log *logger.Logger) *InboundHandler {
	return &InboundHandler{
		service:   service,
		publisher: publisher,
		writer:    writer,
		log:       logger.OrDefault(log).WithField("component", "inbound_http"),
	}
}

func (h *InboundHandler) Register(app fiber.Router) {
	inbound := app.Group("/v1/inbound")
	inbound.Post("/", h.Process)
	inbound.Post("/async", h.Enqueue)
	inbound.Post("/raw", h.Upload)
}

type triggerRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (h *InboundHandler) parseTrigger(c *fiber.Ctx) (domain.Trigger, error) {
	var req triggerRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.Trigger{}, apperr.BadRequest("invalid request body")
	}
	if req.Bucket == "" {
		return domain.Trigger{}, apperr.MissingField("bucket")
	}
	if req.Key == "" {
		return domain.Trigger{}, apperr.MissingField("key")
	}
	return domain.Trigger{Bucket: req.Bucket, Key: req.Key}, nil
}

// Process runs the pipeline synchronously and returns the outcome.
func (h *InboundHandler) Process(c *fiber.Ctx) error {
	trigger, err := h.parseTrigger(c)
	if err != nil {
		return err
	}
	start := time.Now()
	outcome := h.service.Process(c.UserContext(), trigger)
	metrics.Runs().Record("http", string(outcome.Action), outcome.ErrorCode, time.Since(start))
	return writeOutcome(c, outcome)
}

// Enqueue publishes the trigger for a worker to pick up.
func (h *InboundHandler) Enqueue(c *fiber.Ctx) error {
	if h.publisher == nil {
		return response.ServiceUnavailable(c, "trigger queue is not configured")
	}
	trigger, err := h.parseTrigger(c)
	if err != nil {
		return err
	}

	id, err := h.publisher.Publish(c.UserContext(), trigger)
	if err != nil {
		h.log.WithError(err).Error("failed to enqueue trigger %s/%s", trigger.Bucket, trigger.Key)
		return apperr.Internal("failed to enqueue trigger")
	}
	return response.Accepted(c, fiber.Map{
		"queue_id":    id,
		"trigger":     trigger,
		"enqueued_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Upload accepts a raw RFC 5322 message as the body, stores it when a writer is
// configured and runs it through the pipeline.
func (h *InboundHandler) Upload(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return apperr.MissingField("body")
	}
	raw := make([]byte, len(body))
	copy(raw, body)

	trigger := domain.Trigger{
		Bucket: c.Query("bucket", DefaultRawBucket),
		Key:    c.Query("key"),
	}
	if trigger.Key == "" {
		trigger.Key = uuid.NewString() + ".eml"
	}

	if h.writer != nil {
		if err := h.writer.Write(c.UserContext(), trigger.Bucket, trigger.Key, raw); err != nil {
			h.log.WithError(err).Error("failed to store raw message %s/%s", trigger.Bucket, trigger.Key)
			return err
		}
	}

	start := time.Now()
	outcome := h.service.ProcessRaw(c.UserContext(), trigger, raw)
	metrics.Runs().Record("http", string(outcome.Action), outcome.ErrorCode, time.Since(start))
	return writeOutcome(c, outcome)
}

func writeOutcome(c *fiber.Ctx, outcome *domain.Outcome) error {
	return response.JSON(c, OutcomeStatus(outcome), !outcome.Failed(), outcome)
}

// OutcomeStatus maps an outcome to its HTTP status.
func OutcomeStatus(outcome *domain.Outcome) int {
	if !outcome.Failed() {
		return fiber.StatusOK
	}
	switch outcome.ErrorCode {
	case apperr.CodeParseError:
		return fiber.StatusUnprocessableEntity
	case apperr.CodeSendFailure:
		return fiber.StatusBadGateway
	case apperr.CodeMissingField, apperr.CodeBadRequest:
		return fiber.StatusBadRequest
	case apperr.CodeNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}
