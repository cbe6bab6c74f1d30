package worker

import (
	"github.com/google/uuid"

	"booking_worker/core/domain"
)

// Job sources.
const (
	SourceStream = "stream"
	SourceIMAP   = "imap"
	SourceReplay = "replay"
	SourceOnce   = "once"
)

// Job is one pipeline run. When Raw is set the blob store is not consulted.
type Job struct {
	ID      string
	Source  string
	Trigger domain.Trigger
	Raw     []byte
}

// NewJob creates a job for a stored message.
func NewJob(source string, trigger domain.Trigger) *Job {
	return &Job{ID: uuid.NewString(), Source: source, Trigger: trigger}
}

// NewRawJob creates a job carrying the message bytes.
func NewRawJob(source string, trigger domain.Trigger, raw []byte) *Job {
	return &Job{ID: uuid.NewString(), Source: source, Trigger: trigger, Raw: raw}
}
