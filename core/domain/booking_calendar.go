package domain

import "time"

// Event is a calendar event as seen by the assistant.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	HTMLLink    string    `json:"html_link,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
}

// ReminderMethod is how a reminder is delivered.
type ReminderMethod string

const (
	ReminderEmail ReminderMethod = "email"
	ReminderPopup ReminderMethod = "popup"
)

// Reminder fires Minutes before the event start.
type Reminder struct {
	Method  ReminderMethod `json:"method"`
	Minutes int            `json:"minutes"`
}

// DefaultReminders is applied when a booking request carries none.
func DefaultReminders() []Reminder {
	return []Reminder{
		{Method: ReminderEmail, Minutes: 24 * 60},
		{Method: ReminderPopup, Minutes: 30},
		{Method: ReminderPopup, Minutes: 10},
	}
}

// NewEvent is what the gateway hands to a CalendarProvider for insertion.
// Start and End are UTC.
type NewEvent struct {
	Title                 string
	Description           string
	Location              string
	Start                 time.Time
	End                   time.Time
	Timezone              string
	Attendees             []string
	Reminders             []Reminder
	GuestsCanModify       bool
	GuestsCanInviteOthers bool
}

// AvailabilityResult is returned by getAvailability.
type AvailabilityResult struct {
	Events      []Event `json:"events"`
	Timezone    string  `json:"timezone"`
	TotalEvents int     `json:"total_events"`
}

// BookingResult is returned by bookEvent.
type BookingResult struct {
	Success bool   `json:"success"`
	Event   Event  `json:"event"`
	Message string `json:"message"`
}

// CancellationResult is returned by cancelEvent.
type CancellationResult struct {
	Success  bool   `json:"success"`
	EventID  string `json:"event_id"`
	Notified bool   `json:"notified"`
	Message  string `json:"message"`
}
