package calendar

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"golang.org/x/oauth2"

	"booking_worker/core/domain"
	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
	"booking_worker/pkg/resilience"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"
)

// BookRequest carries the bookEvent arguments. Date is YYYY-MM-DD and times are HH:MM
// in the owner's calendar timezone.
type BookRequest struct {
	OwnerEmail  string
	Date        string
	StartTime   string
	EndTime     string
	Title       string
	Description string
	Attendees   []string
	Location    string
	Reminders   []domain.Reminder
}

// Gateway resolves owners through the identity directory and runs calendar operations
// against their provider calendar. A fresh token is fetched for every operation.
type Gateway struct {
	identity      out.IdentityDirectory
	provider      out.CalendarProvider
	identityGuard *resilience.Guard
	calendarGuard *resilience.Guard
	log           *logger.Logger
}

// NewGateway creates a Gateway. Nil guards get the default 30s timeout.
func NewGateway(identity out.IdentityDirectory, provider out.CalendarProvider, identityGuard, calendarGuard *resilience.Guard, log *logger.Logger) *Gateway {
	log = logger.OrDefault(log).WithField("component", "calendar_gateway")
	if identityGuard == nil {
		identityGuard = resilience.NewGuard(resilience.DefaultGuardConfig("identity"), log)
	}
	if calendarGuard == nil {
		calendarGuard = resilience.NewGuard(resilience.DefaultGuardConfig("calendar"), log)
	}
	return &Gateway{
		identity:      identity,
		provider:      provider,
		identityGuard: identityGuard,
		calendarGuard: calendarGuard,
		log:           log,
	}
}

// ResolveIdentity maps an email to a directory user id. A participant without an
// account yields IDENTITY_NOT_FOUND.
func (g *Gateway) ResolveIdentity(ctx context.Context, email string) (string, error) {
	email = domain.CleanAddress(email)
	if email == "" {
		return "", apperr.MissingField("owner_email")
	}

	type lookup struct {
		id string
		ok bool
	}
	res, err := resilience.Call(ctx, g.identityGuard, "find_user", func(ctx context.Context) (lookup, error) {
		id, ok, err := g.identity.FindUserByEmail(ctx, email)
		return lookup{id, ok}, err
	})
	if err != nil {
		return "", providerErr("identity", err)
	}
	if !res.ok || res.id == "" {
		return "", apperr.IdentityNotFound(email)
	}
	return res.id, nil
}

func (g *Gateway) credential(ctx context.Context, email string) (*oauth2.Token, error) {
	userID, err := g.ResolveIdentity(ctx, email)
	if err != nil {
		return nil, err
	}

	type lookup struct {
		tok *oauth2.Token
		ok  bool
	}
	res, err := resilience.Call(ctx, g.identityGuard, "oauth_token", func(ctx context.Context) (lookup, error) {
		tok, ok, err := g.identity.GetOAuthToken(ctx, userID)
		return lookup{tok, ok}, err
	})
	if err != nil {
		return nil, providerErr("identity", err)
	}
	if !res.ok || res.tok == nil {
		return nil, apperr.IdentityNotFound(email).WithDetail("reason", "no calendar token")
	}
	return res.tok, nil
}

func (g *Gateway) timezone(ctx context.Context, tok *oauth2.Token) (string, *time.Location, error) {
	tz, err := resilience.Call(ctx, g.calendarGuard, "timezone", func(ctx context.Context) (string, error) {
		return g.provider.Timezone(ctx, tok)
	})
	if err != nil {
		return "", nil, providerErr("calendar", err)
	}
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", nil, apperr.ProviderError("calendar", fmt.Errorf("unknown calendar timezone %q: %w", tz, err))
	}
	return tz, loc, nil
}

// AvailabilityRange expands calendar dates to the half-open UTC range [start 00:00, end+1d 00:00).
func AvailabilityRange(startDate, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, strings.TrimSpace(startDate))
	if err != nil {
		return time.Time{}, time.Time{}, apperr.InvalidArgument("start_date", "expected YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(endDate))
	if err != nil {
		return time.Time{}, time.Time{}, apperr.InvalidArgument("end_date", "expected YYYY-MM-DD")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, apperr.InvalidArgument("end_date", "before start_date")
	}
	return start.UTC(), end.AddDate(0, 0, 1).UTC(), nil
}

// GetAvailability lists the owner's events between two calendar dates inclusive, sorted by start.
func (g *Gateway) GetAvailability(ctx context.Context, ownerEmail, startDate, endDate string) (*domain.AvailabilityResult, error) {
	timeMin, timeMax, err := AvailabilityRange(startDate, endDate)
	if err != nil {
		return nil, err
	}

	tok, err := g.credential(ctx, ownerEmail)
	if err != nil {
		return nil, err
	}

	tz, _, err := g.timezone(ctx, tok)
	if err != nil {
		return nil, err
	}

	events, err := resilience.Call(ctx, g.calendarGuard, "list_events", func(ctx context.Context) ([]domain.Event, error) {
		return g.provider.ListEvents(ctx, tok, timeMin, timeMax)
	})
	if err != nil {
		return nil, providerErr("calendar", err)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	if events == nil {
		events = []domain.Event{}
	}

	g.log.WithContext(ctx).WithFields(map[string]any{
		"owner":  domain.CleanAddress(ownerEmail),
		"events": len(events),
	}).Debug("availability fetched")

	return &domain.AvailabilityResult{
		Events:      events,
		Timezone:    tz,
		TotalEvents: len(events),
	}, nil
}

// BookEvent converts the wall-clock times from the owner's timezone to UTC and inserts
// the event. Guests can neither modify it nor invite others.
func (g *Gateway) BookEvent(ctx context.Context, req BookRequest) (*domain.BookingResult, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, apperr.MissingField("title")
	}
	if _, err := time.Parse(dateLayout, strings.TrimSpace(req.Date)); err != nil {
		return nil, apperr.InvalidArgument("date", "expected YYYY-MM-DD")
	}
	for field, v := range map[string]string{"start_time": req.StartTime, "end_time": req.EndTime} {
		if _, err := time.Parse("15:04", strings.TrimSpace(v)); err != nil {
			return nil, apperr.InvalidArgument(field, "expected HH:MM")
		}
	}

	tok, err := g.credential(ctx, req.OwnerEmail)
	if err != nil {
		return nil, err
	}

	tz, loc, err := g.timezone(ctx, tok)
	if err != nil {
		return nil, err
	}

	start, end, err := WallClockToUTC(loc, req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	reminders := req.Reminders
	if len(reminders) == 0 {
		reminders = domain.DefaultReminders()
	}

	ev := &domain.NewEvent{
		Title:                 strings.TrimSpace(req.Title),
		Description:           req.Description,
		Location:              req.Location,
		Start:                 start,
		End:                   end,
		Timezone:              tz,
		Attendees:             cleanAttendees(req.Attendees),
		Reminders:             reminders,
		GuestsCanModify:       false,
		GuestsCanInviteOthers: false,
	}

	created, err := resilience.Call(ctx, g.calendarGuard, "insert_event", func(ctx context.Context) (*domain.Event, error) {
		return g.provider.InsertEvent(ctx, tok, ev)
	})
	if err != nil {
		return nil, providerErr("calendar", err)
	}
	if created.Timezone == "" {
		created.Timezone = tz
	}

	g.log.WithContext(ctx).WithFields(map[string]any{
		"owner":     domain.CleanAddress(req.OwnerEmail),
		"event_id":  created.ID,
		"attendees": len(ev.Attendees),
	}).Info("event booked")

	return &domain.BookingResult{
		Success: true,
		Event:   *created,
		Message: fmt.Sprintf("Booked %q on %s %s-%s (%s)", created.Title, req.Date, req.StartTime, req.EndTime, tz),
	}, nil
}

// WallClockToUTC interprets date plus HH:MM start and end in loc and returns UTC instants.
func WallClockToUTC(loc *time.Location, date, startTime, endTime string) (time.Time, time.Time, error) {
	date = strings.TrimSpace(date)
	start, err := time.ParseInLocation(dateTimeLayout, date+" "+strings.TrimSpace(startTime), loc)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.InvalidArgument("start_time", "expected HH:MM")
	}
	end, err := time.ParseInLocation(dateTimeLayout, date+" "+strings.TrimSpace(endTime), loc)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.InvalidArgument("end_time", "expected HH:MM")
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, apperr.InvalidArgument("end_time", "must be after start_time")
	}
	return start.UTC(), end.UTC(), nil
}

// CancelEvent deletes an event. An unknown id yields EVENT_NOT_FOUND, which callers can
// tell apart from IDENTITY_NOT_FOUND.
func (g *Gateway) CancelEvent(ctx context.Context, ownerEmail, eventID string, notifyAttendees bool) (*domain.CancellationResult, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, apperr.MissingField("event_id")
	}

	tok, err := g.credential(ctx, ownerEmail)
	if err != nil {
		return nil, err
	}

	err = g.calendarGuard.Do(ctx, "delete_event", func(ctx context.Context) error {
		return g.provider.DeleteEvent(ctx, tok, eventID, notifyAttendees)
	})
	if err != nil {
		return nil, providerErr("calendar", err)
	}

	g.log.WithContext(ctx).WithFields(map[string]any{
		"owner":    domain.CleanAddress(ownerEmail),
		"event_id": eventID,
		"notify":   notifyAttendees,
	}).Info("event cancelled")

	return &domain.CancellationResult{
		Success:  true,
		EventID:  eventID,
		Notified: notifyAttendees,
		Message:  fmt.Sprintf("Event %s cancelled", eventID),
	}, nil
}

func cleanAttendees(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, a := range raw {
		addr := domain.CleanAddress(a)
		if !strings.Contains(addr, "@") {
			continue
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// providerErr keeps typed errors and wraps anything else as PROVIDER_ERROR.
func providerErr(service string, err error) error {
	if apperr.IsAppError(err) {
		return err
	}
	return apperr.ProviderError(service, err)
}
