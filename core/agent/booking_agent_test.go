package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"booking_worker/core/agent/tools"
	"booking_worker/core/domain"
	"booking_worker/core/port/out"
	"booking_worker/core/service/calendar"
	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
)

// scriptedModel replays canned responses and records every conversation it was shown.
type scriptedModel struct {
	responses []domain.ModelResponse
	repeat    *domain.ModelResponse
	seen      [][]domain.AgentTurn
	onCall    func(n int)
}

func (m *scriptedModel) Complete(ctx context.Context, turns []domain.AgentTurn, defs []out.ToolDefinition) (*domain.ModelResponse, error) {
	m.seen = append(m.seen, append([]domain.AgentTurn(nil), turns...))
	n := len(m.seen)
	if m.onCall != nil {
		m.onCall(n)
	}
	if n <= len(m.responses) {
		r := m.responses[n-1]
		return &r, nil
	}
	if m.repeat != nil {
		r := *m.repeat
		return &r, nil
	}
	return nil, fmt.Errorf("no scripted response for call %d", n)
}

type recordingCalendar struct {
	calls  []string
	booked []calendar.BookRequest
	known  map[string]bool
}

func (c *recordingCalendar) GetAvailability(ctx context.Context, owner, start, end string) (*domain.AvailabilityResult, error) {
	c.calls = append(c.calls, "getAvailability:"+owner)
	if !c.known[owner] {
		return nil, apperr.IdentityNotFound(owner)
	}
	return &domain.AvailabilityResult{Events: []domain.Event{}, Timezone: "UTC"}, nil
}

func (c *recordingCalendar) BookEvent(ctx context.Context, req calendar.BookRequest) (*domain.BookingResult, error) {
	c.calls = append(c.calls, "bookEvent:"+req.OwnerEmail)
	c.booked = append(c.booked, req)
	return &domain.BookingResult{Success: true, Event: domain.Event{ID: "evt-1", Title: req.Title}}, nil
}

func (c *recordingCalendar) CancelEvent(ctx context.Context, owner, id string, notify bool) (*domain.CancellationResult, error) {
	c.calls = append(c.calls, "cancelEvent:"+id)
	return nil, apperr.EventNotFound(id)
}

func toolCall(id, name, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: []byte(args)}
}

func newTestAgent(model out.ChatCompletionProvider, cal tools.CalendarService) *Agent {
	log := logger.Discard()
	exec := tools.NewExecutor(tools.NewRegistry(tools.CalendarTools(cal)...), log)
	return New(model, exec, Options{
		AssistantName: "Vibe",
		Logger:        log,
		Now:           func() time.Time { return time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC) },
	})
}

func facts(participants ...string) *domain.ConversationFacts {
	return &domain.ConversationFacts{
		AssistantAddress: "assistant@vibe.cal",
		Participants:     participants,
		Sender:           participants[0],
		CurrentText:      "hello",
	}
}

func TestRunStopsAtIterationLimit(t *testing.T) {
	model := &scriptedModel{
		repeat: &domain.ModelResponse{
			Content:   "Let me check once more.",
			ToolCalls: []domain.ToolCall{toolCall("c", tools.NameGetAvailability, `{"owner_email":"bob@x.com","start_date":"2024-06-03","end_date":"2024-06-05"}`)},
		},
	}
	cal := &recordingCalendar{known: map[string]bool{"bob@x.com": true}}

	res, err := newTestAgent(model, cal).Run(context.Background(), facts("bob@x.com"), &domain.ParsedEmail{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(model.seen) != DefaultMaxIterations {
		t.Errorf("model called %d times, want %d", len(model.seen), DefaultMaxIterations)
	}
	if !res.LimitReached || res.Iterations != DefaultMaxIterations {
		t.Errorf("LimitReached=%v Iterations=%d", res.LimitReached, res.Iterations)
	}
	if res.FinalText != "Let me check once more." {
		t.Errorf("FinalText = %q", res.FinalText)
	}
	// The batch from the last round-trip is never executed because no model call would see it.
	if len(cal.calls) != DefaultMaxIterations-1 {
		t.Errorf("tool executions = %d, want %d", len(cal.calls), DefaultMaxIterations-1)
	}
}

func TestRunLimitWithoutTextUsesFallback(t *testing.T) {
	model := &scriptedModel{
		repeat: &domain.ModelResponse{
			ToolCalls: []domain.ToolCall{toolCall("c", "nonexistent", `{}`)},
		},
	}
	res, err := newTestAgent(model, &recordingCalendar{}).Run(context.Background(), facts("bob@x.com"), &domain.ParsedEmail{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.LimitReached || strings.TrimSpace(res.FinalText) == "" {
		t.Fatalf("expected non-empty fallback, got %+v", res)
	}
	if !strings.Contains(res.FinalText, DefaultFallbackText) {
		t.Errorf("FinalText = %q", res.FinalText)
	}
	for _, rec := range res.ToolCalls {
		if rec.ErrorCode != apperr.CodeUnknownTool {
			t.Errorf("record = %+v", rec)
		}
	}
}

func TestRunFeedsToolResultsInOrder(t *testing.T) {
	model := &scriptedModel{responses: []domain.ModelResponse{
		{ToolCalls: []domain.ToolCall{
			toolCall("call_a", tools.NameCancelEvent, `{"owner_email":"bob@x.com","event_id":"gone"}`),
			toolCall("call_b", tools.NameGetAvailability, `{"owner_email":"bob@x.com","start_date":"2024-06-03","end_date":"2024-06-03"}`),
		}},
		{Content: "TO: bob@x.com\nHi Bob, that event no longer exists.\n\nBy Vibe"},
	}}
	cal := &recordingCalendar{known: map[string]bool{"bob@x.com": true}}

	res, err := newTestAgent(model, cal).Run(context.Background(), facts("bob@x.com"), &domain.ParsedEmail{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Iterations != 2 || res.LimitReached {
		t.Errorf("Iterations=%d LimitReached=%v", res.Iterations, res.LimitReached)
	}
	if strings.Join(cal.calls, ",") != "cancelEvent:gone,getAvailability:bob@x.com" {
		t.Errorf("calls = %v", cal.calls)
	}

	second := model.seen[1]
	if len(second) != 5 {
		t.Fatalf("second request has %d turns, want 5", len(second))
	}
	if second[2].Role != domain.RoleAssistant || len(second[2].ToolCalls) != 2 {
		t.Errorf("turn 2 = %+v", second[2])
	}
	if second[3].ToolCallID != "call_a" || !strings.Contains(second[3].Content, "Event not found") {
		t.Errorf("turn 3 = %+v", second[3])
	}
	if second[4].ToolCallID != "call_b" || !strings.Contains(second[4].Content, `"timezone":"UTC"`) {
		t.Errorf("turn 4 = %+v", second[4])
	}

	want := []State{StatePrompting, StateWaitingModel, StateExecutingTools, StatePrompting, StateWaitingModel, StateDone}
	if fmt.Sprint(res.Transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", res.Transitions, want)
	}
	if len(res.ToolCalls) != 2 || res.ToolCalls[0].OK || !res.ToolCalls[1].OK {
		t.Errorf("records = %+v", res.ToolCalls)
	}
}

func TestRunRefusesAssistantMessages(t *testing.T) {
	model := &scriptedModel{}
	f := facts("bob@x.com")
	f.IsFromAssistant = true

	_, err := newTestAgent(model, &recordingCalendar{}).Run(context.Background(), f, &domain.ParsedEmail{})
	if !apperr.Is(err, apperr.CodeLoopDetected) {
		t.Fatalf("expected LOOP_DETECTED, got %v", err)
	}
	if len(model.seen) != 0 {
		t.Error("model must not be called for assistant-originated mail")
	}
}

func TestRunStopsBetweenIterationsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := &scriptedModel{
		repeat: &domain.ModelResponse{ToolCalls: []domain.ToolCall{
			toolCall("c", tools.NameGetAvailability, `{"owner_email":"bob@x.com","start_date":"2024-06-03","end_date":"2024-06-03"}`),
		}},
		onCall: func(n int) {
			if n == 1 {
				cancel()
			}
		},
	}
	cal := &recordingCalendar{known: map[string]bool{"bob@x.com": true}}

	_, err := newTestAgent(model, cal).Run(ctx, facts("bob@x.com"), &domain.ParsedEmail{})
	if !apperr.Is(err, apperr.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if len(model.seen) != 1 {
		t.Errorf("model called %d times after cancellation", len(model.seen))
	}
}

func TestSystemPromptEncodesPolicy(t *testing.T) {
	f := facts("bob@x.com", "carol@x.com")
	p := SystemPrompt(f, "Vibe", time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC))

	for _, want := range []string{
		"assistant@vibe.cal",
		"bob@x.com, carol@x.com",
		"explicitly confirms",
		"User not found",
		"TO: <email>",
		"By Vibe",
		"2024-06-03",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestSystemPromptAlwaysAsksForAReply(t *testing.T) {
	p := SystemPrompt(facts("bob@x.com"), "Vibe", time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC))

	if strings.Contains(p, "empty answer") {
		t.Error("system prompt must not ask for an empty answer")
	}
	if !strings.Contains(p, "non-empty reply") || !strings.Contains(p, "short clarifying question") {
		t.Errorf("system prompt should require a clarifying reply:\n%s", p)
	}
}

func TestConfirmationBooksAllParticipants(t *testing.T) {
	model := &scriptedModel{responses: []domain.ModelResponse{
		{ToolCalls: []domain.ToolCall{toolCall("book_1", tools.NameBookEvent,
			`{"owner_email":"bob@x.com","date":"2024-06-04","start_time":"14:00","end_time":"15:00","title":"Meeting","attendees":["bob@x.com","carol@x.com"]}`)}},
		{Content: "TO: bob@x.com\nHi Bob, you're booked for 2pm tomorrow.\n\nBy Vibe"},
	}}
	cal := &recordingCalendar{}
	f := facts("bob@x.com", "carol@x.com")
	parsed := &domain.ParsedEmail{
		From: []string{"bob@x.com"},
		To:   []string{"assistant@vibe.cal", "carol@x.com"},
		Body: "Yes, book me for 2pm tomorrow",
	}

	res, err := newTestAgent(model, cal).Run(context.Background(), f, parsed)
	if err != nil {
		t.Fatal(err)
	}
	if len(cal.booked) != 1 {
		t.Fatalf("booked %d events", len(cal.booked))
	}
	if got := strings.Join(cal.booked[0].Attendees, ","); got != "bob@x.com,carol@x.com" {
		t.Errorf("attendees = %s", got)
	}
	if !strings.Contains(model.seen[0][1].Content, `"participants": [`) {
		t.Error("user turn should carry the participants list")
	}
	if !strings.HasPrefix(res.FinalText, "TO: bob@x.com") {
		t.Errorf("FinalText = %q", res.FinalText)
	}
}
