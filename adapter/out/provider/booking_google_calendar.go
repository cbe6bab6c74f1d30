package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"booking_worker/core/domain"
	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
)

const primaryCalendar = "primary"

// GoogleCalendarAdapter implements out.CalendarProvider on the owner's primary Google calendar.
type GoogleCalendarAdapter struct {
	oauthConfig *oauth2.Config
	httpClient  *http.Client
	endpoint    string
}

// GoogleCalendarOption customizes a GoogleCalendarAdapter.
type GoogleCalendarOption func(*GoogleCalendarAdapter)

// WithCalendarHTTPClient sets the base transport used under the OAuth2 client.
func WithCalendarHTTPClient(c *http.Client) GoogleCalendarOption {
	return func(a *GoogleCalendarAdapter) { a.httpClient = c }
}

// WithCalendarEndpoint points the adapter at a different API base URL.
func WithCalendarEndpoint(url string) GoogleCalendarOption {
	return func(a *GoogleCalendarAdapter) { a.endpoint = url }
}

// NewGoogleCalendarAdapter creates a new Google Calendar adapter. oauthConfig may be nil,
// in which case tokens are used as-is and never refreshed.
func NewGoogleCalendarAdapter(oauthConfig *oauth2.Config, opts ...GoogleCalendarOption) *GoogleCalendarAdapter {
	a := &GoogleCalendarAdapter{oauthConfig: oauthConfig}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// getService creates a Calendar service with token.
func (a *GoogleCalendarAdapter) getService(ctx context.Context, token *oauth2.Token) (*calendar.Service, error) {
	if a.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}
	var client *http.Client
	if a.oauthConfig != nil {
		client = a.oauthConfig.Client(ctx, token)
	} else {
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, apperr.ProviderError("google_calendar", fmt.Errorf("failed to create calendar service: %w", err))
	}
	return svc, nil
}

// Timezone returns the primary calendar's IANA timezone.
func (a *GoogleCalendarAdapter) Timezone(ctx context.Context, token *oauth2.Token) (string, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return "", err
	}

	entry, err := svc.CalendarList.Get(primaryCalendar).Context(ctx).Do()
	if err != nil {
		return "", googleErr("get calendar", err)
	}
	return entry.TimeZone, nil
}

// ListEvents lists single (expanded) events overlapping [timeMin, timeMax) ordered by start.
func (a *GoogleCalendarAdapter) ListEvents(ctx context.Context, token *oauth2.Token, timeMin, timeMax time.Time) ([]domain.Event, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	var events []domain.Event
	call := svc.Events.List(primaryCalendar).
		TimeMin(timeMin.UTC().Format(time.RFC3339)).
		TimeMax(timeMax.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)

	err = call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			events = append(events, convertGoogleEvent(item, page.TimeZone))
		}
		return nil
	})
	if err != nil {
		return nil, googleErr("list events", err)
	}
	return events, nil
}

// InsertEvent creates the event and notifies attendees.
func (a *GoogleCalendarAdapter) InsertEvent(ctx context.Context, token *oauth2.Token, event *domain.NewEvent) (*domain.Event, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	created, err := svc.Events.Insert(primaryCalendar, toGoogleEvent(event)).
		SendUpdates("all").
		Context(ctx).Do()
	if err != nil {
		return nil, googleErr("insert event", err)
	}

	ev := convertGoogleEvent(created, event.Timezone)
	return &ev, nil
}

// DeleteEvent deletes an event. 404 and 410 map to EVENT_NOT_FOUND.
func (a *GoogleCalendarAdapter) DeleteEvent(ctx context.Context, token *oauth2.Token, eventID string, notifyAttendees bool) error {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return err
	}

	sendUpdates := "none"
	if notifyAttendees {
		sendUpdates = "all"
	}

	err = svc.Events.Delete(primaryCalendar, eventID).SendUpdates(sendUpdates).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
			return apperr.EventNotFound(eventID)
		}
		return googleErr("delete event", err)
	}
	return nil
}

func googleErr(op string, err error) error {
	return apperr.ProviderError("google_calendar", fmt.Errorf("failed to %s: %w", op, err))
}

// =============================================================================
// Helper Functions
// =============================================================================

func convertGoogleEvent(item *calendar.Event, fallbackTZ string) domain.Event {
	ev := domain.Event{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		HTMLLink:    item.HtmlLink,
		Timezone:    fallbackTZ,
	}

	if item.Start != nil {
		if item.Start.DateTime != "" {
			ev.Start, _ = time.Parse(time.RFC3339, item.Start.DateTime)
			if item.Start.TimeZone != "" {
				ev.Timezone = item.Start.TimeZone
			}
		} else if item.Start.Date != "" {
			ev.Start, _ = time.Parse("2006-01-02", item.Start.Date)
			ev.AllDay = true
		}
	}
	if item.End != nil {
		if item.End.DateTime != "" {
			ev.End, _ = time.Parse(time.RFC3339, item.End.DateTime)
		} else if item.End.Date != "" {
			ev.End, _ = time.Parse("2006-01-02", item.End.Date)
		}
	}

	for _, att := range item.Attendees {
		ev.Attendees = append(ev.Attendees, att.Email)
	}
	return ev
}

func toGoogleEvent(event *domain.NewEvent) *calendar.Event {
	tz := event.Timezone
	if tz == "" {
		tz = "UTC"
	}
	guestsCanModify := event.GuestsCanModify
	guestsCanInvite := event.GuestsCanInviteOthers

	gcalEvent := &calendar.Event{
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
		Start: &calendar.EventDateTime{
			DateTime: event.Start.UTC().Format(time.RFC3339),
			TimeZone: tz,
		},
		End: &calendar.EventDateTime{
			DateTime: event.End.UTC().Format(time.RFC3339),
			TimeZone: tz,
		},
		GuestsCanModify:       guestsCanModify,
		GuestsCanInviteOthers: &guestsCanInvite,
		ForceSendFields:       []string{"GuestsCanModify"},
	}

	for _, email := range event.Attendees {
		gcalEvent.Attendees = append(gcalEvent.Attendees, &calendar.EventAttendee{Email: email})
	}

	if len(event.Reminders) > 0 {
		overrides := make([]*calendar.EventReminder, len(event.Reminders))
		for i, r := range event.Reminders {
			overrides[i] = &calendar.EventReminder{
				Method:  string(r.Method),
				Minutes: int64(r.Minutes),
			}
		}
		gcalEvent.Reminders = &calendar.EventReminders{
			UseDefault:      false,
			Overrides:       overrides,
			ForceSendFields: []string{"UseDefault"},
		}
	}

	return gcalEvent
}

var _ out.CalendarProvider = (*GoogleCalendarAdapter)(nil)
