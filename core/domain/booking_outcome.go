package domain

import "time"

// Trigger identifies one stored raw email.
type Trigger struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// OutboundMessage is handed to a MailSender.
type OutboundMessage struct {
	To         []string
	Cc         []string
	Subject    string
	Body       string
	InReplyTo  string
	References string
}

// SendResult is what a MailSender reports on success.
type SendResult struct {
	MessageID  string   `json:"message_id"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Greeting   string   `json:"greeting,omitempty"`
}

// Action is the terminal classification of a pipeline run.
type Action string

const (
	ActionProcessed Action = "processed"
	ActionSkipped   Action = "skipped"
	ActionFailed    Action = "failed"
)

// Outcome reports one pipeline run, echoing whatever was parsed before a failure.
type Outcome struct {
	RunID   string  `json:"run_id"`
	Trigger Trigger `json:"trigger"`
	Action  Action  `json:"action"`
	Reason  string  `json:"reason,omitempty"`

	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`

	Subject      string   `json:"subject,omitempty"`
	From         string   `json:"from,omitempty"`
	MessageID    string   `json:"message_id,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Recipients   []string `json:"recipients,omitempty"`

	FinalText     string `json:"final_text,omitempty"`
	SendMessageID string `json:"send_message_id,omitempty"`

	Iterations   int              `json:"iterations,omitempty"`
	LimitReached bool             `json:"limit_reached,omitempty"`
	ToolCalls    []ToolCallRecord `json:"tool_calls,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Failed reports whether the run ended in a pipeline-level failure.
func (o *Outcome) Failed() bool { return o.Action == ActionFailed }
