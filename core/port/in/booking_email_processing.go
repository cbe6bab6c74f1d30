package in

import (
	"context"

	"booking_worker/core/domain"
)

// EmailProcessingService runs one inbound message end to end.
// It never returns a Go error: every failure is reported in the Outcome.
type EmailProcessingService interface {
	Process(ctx context.Context, trigger domain.Trigger) *domain.Outcome
	ProcessRaw(ctx context.Context, trigger domain.Trigger, raw []byte) *domain.Outcome
}
