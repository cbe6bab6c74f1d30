package tools

import (
	"context"
	"fmt"

	"booking_worker/core/domain"
	"booking_worker/core/service/calendar"
)

// CalendarService is the part of the calendar gateway the tools call.
type CalendarService interface {
	GetAvailability(ctx context.Context, ownerEmail, startDate, endDate string) (*domain.AvailabilityResult, error)
	BookEvent(ctx context.Context, req calendar.BookRequest) (*domain.BookingResult, error)
	CancelEvent(ctx context.Context, ownerEmail, eventID string, notifyAttendees bool) (*domain.CancellationResult, error)
}

var ownerParam = ParameterSpec{
	Name:        "owner_email",
	Type:        "string",
	Description: "Email address of the calendar owner (a thread participant, never the assistant)",
	Required:    true,
}

// GetAvailabilityTool lists the owner's events in a date range.
type GetAvailabilityTool struct {
	calendar CalendarService
}

func NewGetAvailabilityTool(cal CalendarService) *GetAvailabilityTool {
	return &GetAvailabilityTool{calendar: cal}
}

func (t *GetAvailabilityTool) Name() string { return NameGetAvailability }

func (t *GetAvailabilityTool) Description() string {
	return "Get the owner's calendar events between two dates (inclusive) to find free slots. " +
		"Returns events sorted by start time and the owner's timezone."
}

func (t *GetAvailabilityTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		ownerParam,
		{Name: "start_date", Type: "string", Description: "First day to check, YYYY-MM-DD", Required: true},
		{Name: "end_date", Type: "string", Description: "Last day to check, YYYY-MM-DD", Required: true},
	}
}

func (t *GetAvailabilityTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	a, ok := inv.(GetAvailabilityArgs)
	if !ok {
		return nil, fmt.Errorf("getAvailability: unexpected arguments %T", inv)
	}
	return t.calendar.GetAvailability(ctx, a.OwnerEmail, a.StartDate, a.EndDate)
}

// BookEventTool books an event on the owner's calendar.
type BookEventTool struct {
	calendar CalendarService
}

func NewBookEventTool(cal CalendarService) *BookEventTool {
	return &BookEventTool{calendar: cal}
}

func (t *BookEventTool) Name() string { return NameBookEvent }

func (t *BookEventTool) Description() string {
	return "Book an event on the owner's calendar. Times are wall-clock HH:MM in the owner's calendar timezone. " +
		"Only call this after explicit confirmation. Invite every thread participant except the assistant."
}

func (t *BookEventTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		ownerParam,
		{Name: "date", Type: "string", Description: "Event date, YYYY-MM-DD", Required: true},
		{Name: "start_time", Type: "string", Description: "Start time, HH:MM (24h)", Required: true},
		{Name: "end_time", Type: "string", Description: "End time, HH:MM (24h)", Required: true},
		{Name: "title", Type: "string", Description: "Event title", Required: true},
		{Name: "description", Type: "string", Description: "Event description"},
		{Name: "attendees", Type: "array", Description: "Attendee email addresses", Items: map[string]any{"type": "string"}},
		{Name: "location", Type: "string", Description: "Event location or meeting link"},
		{Name: "reminders", Type: "array", Description: "Reminder overrides. Defaults: email 24h, popup 30min, popup 10min", Items: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"method":  map[string]any{"type": "string", "enum": []string{"email", "popup"}},
				"minutes": map[string]any{"type": "integer"},
			},
			"required": []string{"method", "minutes"},
		}},
	}
}

func (t *BookEventTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	a, ok := inv.(BookEventArgs)
	if !ok {
		return nil, fmt.Errorf("bookEvent: unexpected arguments %T", inv)
	}
	return t.calendar.BookEvent(ctx, calendar.BookRequest{
		OwnerEmail:  a.OwnerEmail,
		Date:        a.Date,
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		Title:       a.Title,
		Description: a.Description,
		Attendees:   a.Attendees,
		Location:    a.Location,
		Reminders:   a.reminders(),
	})
}

// CancelEventTool deletes an event from the owner's calendar.
type CancelEventTool struct {
	calendar CalendarService
}

func NewCancelEventTool(cal CalendarService) *CancelEventTool {
	return &CancelEventTool{calendar: cal}
}

func (t *CancelEventTool) Name() string { return NameCancelEvent }

func (t *CancelEventTool) Description() string {
	return "Cancel an event on the owner's calendar by event id (ids come from getAvailability)."
}

func (t *CancelEventTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		ownerParam,
		{Name: "event_id", Type: "string", Description: "Provider event id", Required: true},
		{Name: "notify_attendees", Type: "boolean", Description: "Email attendees about the cancellation (default true)"},
	}
}

func (t *CancelEventTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	a, ok := inv.(CancelEventArgs)
	if !ok {
		return nil, fmt.Errorf("cancelEvent: unexpected arguments %T", inv)
	}
	return t.calendar.CancelEvent(ctx, a.OwnerEmail, a.EventID, a.Notify())
}

// CalendarTools returns the three calendar tools bound to cal.
func CalendarTools(cal CalendarService) []Tool {
	return []Tool{
		NewGetAvailabilityTool(cal),
		NewBookEventTool(cal),
		NewCancelEventTool(cal),
	}
}
