package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"booking_worker/core/domain"
	"booking_worker/core/service/calendar"
	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
)

type stubCalendar struct {
	booked    []calendar.BookRequest
	cancelled []string
	notify    []bool
	availErr  error
}

func (s *stubCalendar) GetAvailability(ctx context.Context, owner, start, end string) (*domain.AvailabilityResult, error) {
	if s.availErr != nil {
		return nil, s.availErr
	}
	return &domain.AvailabilityResult{Events: []domain.Event{}, Timezone: "UTC"}, nil
}

func (s *stubCalendar) BookEvent(ctx context.Context, req calendar.BookRequest) (*domain.BookingResult, error) {
	s.booked = append(s.booked, req)
	return &domain.BookingResult{Success: true, Event: domain.Event{ID: "evt-1", Title: req.Title}}, nil
}

func (s *stubCalendar) CancelEvent(ctx context.Context, owner, id string, notify bool) (*domain.CancellationResult, error) {
	if id == "missing" {
		return nil, apperr.EventNotFound(id)
	}
	s.cancelled = append(s.cancelled, id)
	s.notify = append(s.notify, notify)
	return &domain.CancellationResult{Success: true, EventID: id, Notified: notify}, nil
}

func call(id, name, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: []byte(args)}
}

func newExecutor(cal CalendarService) *Executor {
	return NewExecutor(NewRegistry(CalendarTools(cal)...), logger.Discard())
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		call     domain.ToolCall
		wantCode string
		check    func(t *testing.T, inv Invocation)
	}{
		{
			name: "availability",
			call: call("1", NameGetAvailability, `{"owner_email":"a@x.com","start_date":"2024-01-01","end_date":"2024-01-03"}`),
			check: func(t *testing.T, inv Invocation) {
				a := inv.(GetAvailabilityArgs)
				if a.OwnerEmail != "a@x.com" || a.EndDate != "2024-01-03" {
					t.Errorf("decoded %+v", a)
				}
			},
		},
		{
			name: "cancel defaults notify",
			call: call("2", NameCancelEvent, `{"owner_email":"a@x.com","event_id":"e1"}`),
			check: func(t *testing.T, inv Invocation) {
				if !inv.(CancelEventArgs).Notify() {
					t.Error("notify should default to true")
				}
			},
		},
		{
			name: "cancel explicit false",
			call: call("3", NameCancelEvent, `{"owner_email":"a@x.com","event_id":"e1","notify_attendees":false}`),
			check: func(t *testing.T, inv Invocation) {
				if inv.(CancelEventArgs).Notify() {
					t.Error("notify should be false")
				}
			},
		},
		{name: "unknown tool", call: call("4", "deleteEverything", `{}`), wantCode: apperr.CodeUnknownTool},
		{name: "bad json", call: call("5", NameBookEvent, `{"owner_email":`), wantCode: apperr.CodeInvalidArgument},
		{name: "missing field", call: call("6", NameBookEvent, `{"owner_email":"a@x.com","date":"2024-01-01"}`), wantCode: apperr.CodeMissingField},
		{name: "bad reminder", call: call("7", NameBookEvent, `{"owner_email":"a@x.com","date":"2024-01-01","start_time":"10:00","end_time":"11:00","title":"x","reminders":[{"method":"sms","minutes":5}]}`), wantCode: apperr.CodeInvalidArgument},
		{name: "empty args", call: call("8", NameGetAvailability, ``), wantCode: apperr.CodeMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := Decode(tt.call)
			if tt.wantCode != "" {
				if !apperr.Is(err, tt.wantCode) {
					t.Fatalf("Decode() error = %v, want %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			tt.check(t, inv)
		})
	}
}

func TestRegistryDefinitionsAreOrderedAndComplete(t *testing.T) {
	r := NewRegistry(CalendarTools(&stubCalendar{})...)
	names := r.ListNames()
	if strings.Join(names, ",") != "getAvailability,bookEvent,cancelEvent" {
		t.Fatalf("names = %v", names)
	}

	defs := r.GetDefinitions()
	if len(defs) != 3 {
		t.Fatalf("got %d definitions", len(defs))
	}
	book := defs[1]
	required := book.Parameters["required"].([]string)
	if strings.Join(required, ",") != "owner_email,date,start_time,end_time,title" {
		t.Errorf("bookEvent required = %v", required)
	}
	props := book.Parameters["properties"].(map[string]any)
	if _, ok := props["attendees"].(map[string]any)["items"]; !ok {
		t.Error("attendees should declare array items")
	}
}

func TestExecuteBatchDoesNotShortCircuit(t *testing.T) {
	cal := &stubCalendar{}
	e := newExecutor(cal)

	results := e.ExecuteBatch(context.Background(), []domain.ToolCall{
		call("c1", NameCancelEvent, `{"owner_email":"a@x.com","event_id":"missing"}`),
		call("c2", "bogus", `{}`),
		call("c3", NameCancelEvent, `{"owner_email":"a@x.com","event_id":"e2","notify_attendees":false}`),
	}, RunContext{})

	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Record.OK || results[0].Record.ErrorCode != apperr.CodeEventNotFound {
		t.Errorf("first record = %+v", results[0].Record)
	}
	if results[1].Record.ErrorCode != apperr.CodeUnknownTool {
		t.Errorf("second record = %+v", results[1].Record)
	}
	if !results[2].Record.OK || len(cal.cancelled) != 1 || cal.cancelled[0] != "e2" || cal.notify[0] {
		t.Errorf("third call not executed correctly: %+v %v", results[2].Record, cal.cancelled)
	}

	var te domain.ToolError
	if err := json.Unmarshal([]byte(results[0].Content), &te); err != nil {
		t.Fatal(err)
	}
	if te.Error != "Event not found" || te.Code != apperr.CodeEventNotFound {
		t.Errorf("tool error = %+v", te)
	}
}

func TestExecuteIdentityNotFoundPayload(t *testing.T) {
	cal := &stubCalendar{availErr: apperr.IdentityNotFound("alice@x.com")}
	e := newExecutor(cal)

	res := e.Execute(context.Background(),
		call("a1", NameGetAvailability, `{"owner_email":"alice@x.com","start_date":"2024-01-01","end_date":"2024-01-03"}`),
		RunContext{})

	var te domain.ToolError
	if err := json.Unmarshal([]byte(res.Content), &te); err != nil {
		t.Fatal(err)
	}
	if te.Error != "User not found" {
		t.Errorf("error = %q", te.Error)
	}
	if !strings.Contains(te.Message, "alice@x.com") {
		t.Errorf("message = %q", te.Message)
	}
}

func TestBookEventDefaultsAttendeesToParticipants(t *testing.T) {
	cal := &stubCalendar{}
	e := newExecutor(cal)
	args := `{"owner_email":"bob@x.com","date":"2024-06-01","start_time":"14:00","end_time":"15:00","title":"Sync"}`

	res := e.Execute(context.Background(), call("b1", NameBookEvent, args),
		RunContext{Participants: []string{"bob@x.com", "carol@x.com"}})
	if !res.Record.OK {
		t.Fatalf("record = %+v content=%s", res.Record, res.Content)
	}
	if got := strings.Join(cal.booked[0].Attendees, ","); got != "bob@x.com,carol@x.com" {
		t.Errorf("attendees = %s", got)
	}
}

func TestBookEventKeepsExplicitAttendees(t *testing.T) {
	cal := &stubCalendar{}
	e := newExecutor(cal)
	args := `{"owner_email":"bob@x.com","date":"2024-06-01","start_time":"14:00","end_time":"15:00","title":"Sync","attendees":["carol@x.com"]}`

	e.Execute(context.Background(), call("b1", NameBookEvent, args),
		RunContext{Participants: []string{"bob@x.com", "carol@x.com"}})
	if got := strings.Join(cal.booked[0].Attendees, ","); got != "carol@x.com" {
		t.Errorf("attendees = %s", got)
	}
}
