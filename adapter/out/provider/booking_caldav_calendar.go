package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"booking_worker/core/domain"
	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
)

const caldavProductID = "-//booking_worker//CalDAV//EN"

// CalDAVConfig holds configuration for CalDAVAdapter.
type CalDAVConfig struct {
	Endpoint        string
	CalendarPath    string // skips discovery when set
	Username        string
	Password        string
	DefaultTimezone string
	HTTPClient      *http.Client
}

// CalDAVAdapter implements out.CalendarProvider on a CalDAV server. With basic-auth
// credentials configured the per-owner token is ignored; otherwise it is sent as a bearer token.
type CalDAVAdapter struct {
	cfg CalDAVConfig
}

func NewCalDAVAdapter(cfg CalDAVConfig) *CalDAVAdapter {
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &CalDAVAdapter{cfg: cfg}
}

type bearerClient struct {
	base  webdav.HTTPClient
	token string
}

func (c bearerClient) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.base.Do(req)
}

func (a *CalDAVAdapter) httpClient(token *oauth2.Token) webdav.HTTPClient {
	var hc webdav.HTTPClient = a.cfg.HTTPClient
	switch {
	case a.cfg.Username != "":
		hc = webdav.HTTPClientWithBasicAuth(hc, a.cfg.Username, a.cfg.Password)
	case token != nil && token.AccessToken != "":
		hc = bearerClient{base: hc, token: token.AccessToken}
	}
	return hc
}

func (a *CalDAVAdapter) client(token *oauth2.Token) (*caldav.Client, error) {
	c, err := caldav.NewClient(a.httpClient(token), a.cfg.Endpoint)
	if err != nil {
		return nil, apperr.ProviderError("caldav", fmt.Errorf("failed to create client: %w", err))
	}
	return c, nil
}

// calendarPath returns the configured collection or the first calendar that holds events.
func (a *CalDAVAdapter) calendarPath(ctx context.Context, c *caldav.Client) (string, error) {
	if a.cfg.CalendarPath != "" {
		return a.cfg.CalendarPath, nil
	}
	principal, err := c.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", caldavErr("find principal", err)
	}
	home, err := c.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", caldavErr("find calendar home", err)
	}
	cals, err := c.FindCalendars(ctx, home)
	if err != nil {
		return "", caldavErr("list calendars", err)
	}
	for _, cal := range cals {
		if len(cal.SupportedComponentSet) == 0 {
			return cal.Path, nil
		}
		for _, comp := range cal.SupportedComponentSet {
			if comp == ical.CompEvent {
				return cal.Path, nil
			}
		}
	}
	return "", apperr.ProviderError("caldav", fmt.Errorf("no event calendar under %s", home))
}

// Timezone reads the collection's CALDAV:calendar-timezone (RFC 4791 5.2.2). The configured
// timezone is returned when the server does not expose one with an IANA TZID.
func (a *CalDAVAdapter) Timezone(ctx context.Context, token *oauth2.Token) (string, error) {
	c, err := a.client(token)
	if err != nil {
		return "", err
	}
	calPath, err := a.calendarPath(ctx, c)
	if err != nil {
		return "", err
	}
	tz, err := a.collectionTimezone(ctx, token, calPath)
	if err != nil {
		return "", err
	}
	if tz == "" {
		return a.cfg.DefaultTimezone, nil
	}
	return tz, nil
}

const timezonePropfind = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav"><d:prop><c:calendar-timezone/></d:prop></d:propfind>`

type timezoneMultiStatus struct {
	XMLName   xml.Name `xml:"DAV: multistatus"`
	Responses []struct {
		PropStats []struct {
			Status string `xml:"DAV: status"`
			Prop   struct {
				Timezone string `xml:"urn:ietf:params:xml:ns:caldav calendar-timezone"`
			} `xml:"DAV: prop"`
		} `xml:"DAV: propstat"`
	} `xml:"DAV: response"`
}

// collectionTimezone returns "" when the property is missing or unusable.
func (a *CalDAVAdapter) collectionTimezone(ctx context.Context, token *oauth2.Token, calPath string) (string, error) {
	base, err := url.Parse(a.cfg.Endpoint)
	if err != nil {
		return "", apperr.ProviderError("caldav", fmt.Errorf("invalid endpoint: %w", err))
	}
	target := base.ResolveReference(&url.URL{Path: calPath})

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", target.String(), strings.NewReader(timezonePropfind))
	if err != nil {
		return "", apperr.InternalWithError(err)
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", "0")

	resp, err := a.httpClient(token).Do(req)
	if err != nil {
		return "", caldavErr("read calendar timezone", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode >= 500:
		return "", caldavErr("read calendar timezone", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusMultiStatus:
		return "", nil
	}

	var ms timezoneMultiStatus
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ms); err != nil {
		return "", nil
	}
	for _, r := range ms.Responses {
		for _, ps := range r.PropStats {
			if !strings.Contains(ps.Status, " 200") {
				continue
			}
			if tz := timezoneID(ps.Prop.Timezone); tz != "" {
				return tz, nil
			}
		}
	}
	return "", nil
}

// timezoneID returns the first loadable TZID of the VTIMEZONE components in data.
func timezoneID(data string) string {
	data = strings.TrimSpace(data)
	if data == "" {
		return ""
	}
	cal, err := ical.NewDecoder(strings.NewReader(data)).Decode()
	if err != nil {
		return ""
	}
	for _, comp := range cal.Children {
		if comp.Name != ical.CompTimezone {
			continue
		}
		id, _ := comp.Props.Text(ical.PropTimezoneID)
		if id == "" {
			continue
		}
		if _, err := time.LoadLocation(id); err == nil {
			return id
		}
	}
	return ""
}

func (a *CalDAVAdapter) ListEvents(ctx context.Context, token *oauth2.Token, timeMin, timeMax time.Time) ([]domain.Event, error) {
	c, err := a.client(token)
	if err != nil {
		return nil, err
	}
	calPath, err := a.calendarPath(ctx, c)
	if err != nil {
		return nil, err
	}

	objs, err := c.QueryCalendar(ctx, calPath, &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: timeMin.UTC(),
				End:   timeMax.UTC(),
			}},
		},
	})
	if err != nil {
		return nil, caldavErr("query calendar", err)
	}

	loc := a.location()
	var events []domain.Event
	for _, obj := range objs {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			events = append(events, convertICalEvent(ev, loc))
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

func (a *CalDAVAdapter) InsertEvent(ctx context.Context, token *oauth2.Token, event *domain.NewEvent) (*domain.Event, error) {
	c, err := a.client(token)
	if err != nil {
		return nil, err
	}
	calPath, err := a.calendarPath(ctx, c)
	if err != nil {
		return nil, err
	}

	uid := uuid.NewString()
	cal := toICalendar(uid, event, time.Now().UTC())
	if _, err := c.PutCalendarObject(ctx, objectPath(calPath, uid), cal); err != nil {
		return nil, caldavErr("put event", err)
	}

	tz := event.Timezone
	if tz == "" {
		tz = a.cfg.DefaultTimezone
	}
	return &domain.Event{
		ID:          uid,
		Title:       event.Title,
		Start:       event.Start.UTC(),
		End:         event.End.UTC(),
		Description: event.Description,
		Location:    event.Location,
		Attendees:   append([]string(nil), event.Attendees...),
		Timezone:    tz,
	}, nil
}

// DeleteEvent removes the object whose event UID is exactly eventID. Attendee
// notification is left to the server's scheduling support.
func (a *CalDAVAdapter) DeleteEvent(ctx context.Context, token *oauth2.Token, eventID string, notifyAttendees bool) error {
	c, err := a.client(token)
	if err != nil {
		return err
	}
	calPath, err := a.calendarPath(ctx, c)
	if err != nil {
		return err
	}

	paths, err := findEventObjects(ctx, c, calPath, eventID)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return apperr.EventNotFound(eventID)
	}
	for _, p := range paths {
		if err := c.RemoveAll(ctx, p); err != nil {
			return caldavErr("delete event", err)
		}
	}
	return nil
}

// findEventObjects tries the path InsertEvent writes to, then queries by UID for events
// created by other clients. text-match is a substring test, so query hits are re-checked.
func findEventObjects(ctx context.Context, c *caldav.Client, calPath, uid string) ([]string, error) {
	if obj, err := c.GetCalendarObject(ctx, objectPath(calPath, uid)); err == nil && hasEventUID(obj.Data, uid) {
		return []string{obj.Path}, nil
	}

	objs, err := c.QueryCalendar(ctx, calPath, &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Props: []caldav.PropFilter{{Name: ical.PropUID, TextMatch: &caldav.TextMatch{Text: uid}}},
			}},
		},
	})
	if err != nil {
		return nil, caldavErr("find event", err)
	}

	var paths []string
	for _, obj := range objs {
		if hasEventUID(obj.Data, uid) {
			paths = append(paths, obj.Path)
		}
	}
	return paths, nil
}

func hasEventUID(cal *ical.Calendar, uid string) bool {
	if cal == nil {
		return false
	}
	for _, ev := range cal.Events() {
		if id, _ := ev.Props.Text(ical.PropUID); id == uid {
			return true
		}
	}
	return false
}

func (a *CalDAVAdapter) location() *time.Location {
	loc, err := time.LoadLocation(a.cfg.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func caldavErr(op string, err error) error {
	return apperr.ProviderError("caldav", fmt.Errorf("failed to %s: %w", op, err))
}

func objectPath(calPath, uid string) string {
	return path.Join(calPath, uid+".ics")
}

func convertICalEvent(ev ical.Event, loc *time.Location) domain.Event {
	out := domain.Event{Timezone: loc.String()}
	out.ID, _ = ev.Props.Text(ical.PropUID)
	out.Title, _ = ev.Props.Text(ical.PropSummary)
	out.Description, _ = ev.Props.Text(ical.PropDescription)
	out.Location, _ = ev.Props.Text(ical.PropLocation)

	if start, err := ev.DateTimeStart(loc); err == nil {
		out.Start = start.UTC()
	}
	if end, err := ev.DateTimeEnd(loc); err == nil {
		out.End = end.UTC()
	}
	if p := ev.Props.Get(ical.PropDateTimeStart); p != nil && p.ValueType() == ical.ValueDate {
		out.AllDay = true
	}

	for _, p := range ev.Props.Values(ical.PropAttendee) {
		if addr := strings.TrimPrefix(strings.TrimPrefix(p.Value, "mailto:"), "MAILTO:"); addr != "" {
			out.Attendees = append(out.Attendees, addr)
		}
	}
	return out
}

func toICalendar(uid string, event *domain.NewEvent, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, caldavProductID)

	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, uid)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, now)
	ev.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
	ev.Props.SetDateTime(ical.PropDateTimeEnd, event.End.UTC())
	ev.Props.SetText(ical.PropSummary, event.Title)
	if event.Description != "" {
		ev.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		ev.Props.SetText(ical.PropLocation, event.Location)
	}

	for _, email := range event.Attendees {
		p := ical.NewProp(ical.PropAttendee)
		p.Value = "mailto:" + email
		p.Params.Set("ROLE", "REQ-PARTICIPANT")
		p.Params.Set("RSVP", "TRUE")
		ev.Props.Add(p)
	}

	// Every reminder becomes a DISPLAY alarm; EMAIL alarms need per-alarm attendees.
	for _, r := range event.Reminders {
		alarm := ical.NewComponent(ical.CompAlarm)
		alarm.Props.SetText(ical.PropAction, "DISPLAY")
		alarm.Props.SetText(ical.PropDescription, event.Title)
		trigger := ical.NewProp(ical.PropTrigger)
		trigger.Value = fmt.Sprintf("-PT%dM", r.Minutes)
		alarm.Props.Set(trigger)
		ev.Children = append(ev.Children, alarm)
	}

	cal.Children = append(cal.Children, ev.Component)
	return cal
}

var _ out.CalendarProvider = (*CalDAVAdapter)(nil)
