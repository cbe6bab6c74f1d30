package tools

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"

	"booking_worker/core/domain"
	"booking_worker/pkg/apperr"
)

// Tool names understood by the agent.
const (
	NameGetAvailability = "getAvailability"
	NameBookEvent       = "bookEvent"
	NameCancelEvent     = "cancelEvent"
)

// Invocation is a decoded tool call. The concrete type is one of
// GetAvailabilityArgs, BookEventArgs or CancelEventArgs.
type Invocation interface {
	ToolName() string
	validate() error
}

type GetAvailabilityArgs struct {
	OwnerEmail string `json:"owner_email"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

type ReminderArg struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type BookEventArgs struct {
	OwnerEmail  string        `json:"owner_email"`
	Date        string        `json:"date"`
	StartTime   string        `json:"start_time"`
	EndTime     string        `json:"end_time"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Attendees   []string      `json:"attendees,omitempty"`
	Location    string        `json:"location,omitempty"`
	Reminders   []ReminderArg `json:"reminders,omitempty"`
}

type CancelEventArgs struct {
	OwnerEmail      string `json:"owner_email"`
	EventID         string `json:"event_id"`
	NotifyAttendees *bool  `json:"notify_attendees,omitempty"`
}

func (GetAvailabilityArgs) ToolName() string { return NameGetAvailability }
func (BookEventArgs) ToolName() string       { return NameBookEvent }
func (CancelEventArgs) ToolName() string     { return NameCancelEvent }

func (a GetAvailabilityArgs) validate() error {
	return requireFields(map[string]string{
		"owner_email": a.OwnerEmail,
		"start_date":  a.StartDate,
		"end_date":    a.EndDate,
	}, "owner_email", "start_date", "end_date")
}

func (a BookEventArgs) validate() error {
	if err := requireFields(map[string]string{
		"owner_email": a.OwnerEmail,
		"date":        a.Date,
		"start_time":  a.StartTime,
		"end_time":    a.EndTime,
		"title":       a.Title,
	}, "owner_email", "date", "start_time", "end_time", "title"); err != nil {
		return err
	}
	for _, r := range a.Reminders {
		switch domain.ReminderMethod(r.Method) {
		case domain.ReminderEmail, domain.ReminderPopup:
		default:
			return apperr.InvalidArgument("reminders.method", "must be email or popup")
		}
		if r.Minutes < 0 {
			return apperr.InvalidArgument("reminders.minutes", "must not be negative")
		}
	}
	return nil
}

func (a CancelEventArgs) validate() error {
	return requireFields(map[string]string{
		"owner_email": a.OwnerEmail,
		"event_id":    a.EventID,
	}, "owner_email", "event_id")
}

// Notify defaults to true when the model omits notify_attendees.
func (a CancelEventArgs) Notify() bool {
	return a.NotifyAttendees == nil || *a.NotifyAttendees
}

func (a BookEventArgs) reminders() []domain.Reminder {
	if len(a.Reminders) == 0 {
		return nil
	}
	out := make([]domain.Reminder, len(a.Reminders))
	for i, r := range a.Reminders {
		out[i] = domain.Reminder{Method: domain.ReminderMethod(r.Method), Minutes: r.Minutes}
	}
	return out
}

func requireFields(values map[string]string, order ...string) error {
	for _, name := range order {
		if strings.TrimSpace(values[name]) == "" {
			return apperr.MissingField(name)
		}
	}
	return nil
}

// Decode resolves a model tool call into its typed arguments. Unknown names yield
// UNKNOWN_TOOL; malformed or incomplete arguments yield INVALID_ARGUMENT or MISSING_FIELD.
func Decode(call domain.ToolCall) (Invocation, error) {
	var inv Invocation
	switch call.Name {
	case NameGetAvailability:
		var a GetAvailabilityArgs
		if err := decodeArgs(call.Arguments, &a); err != nil {
			return nil, err
		}
		inv = a
	case NameBookEvent:
		var a BookEventArgs
		if err := decodeArgs(call.Arguments, &a); err != nil {
			return nil, err
		}
		inv = a
	case NameCancelEvent:
		var a CancelEventArgs
		if err := decodeArgs(call.Arguments, &a); err != nil {
			return nil, err
		}
		inv = a
	default:
		return nil, apperr.UnknownTool(call.Name)
	}

	if err := inv.validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

func decodeArgs(raw []byte, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.InvalidArgument("arguments", "not a valid JSON object: "+err.Error())
	}
	return nil
}
