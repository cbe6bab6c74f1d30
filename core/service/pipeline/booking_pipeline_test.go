package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"booking_worker/core/agent"
	"booking_worker/core/agent/tools"
	"booking_worker/core/domain"
	"booking_worker/core/port/out"
	"booking_worker/core/service/calendar"
	"booking_worker/core/service/email"
	"booking_worker/core/service/reply"
	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
)

const assistant = "assistant@vibe.cal"

type memBlobs map[string][]byte

func (m memBlobs) Read(ctx context.Context, bucket, key string) ([]byte, error) {
	raw, ok := m[bucket+"/"+key]
	if !ok {
		return nil, apperr.NotFound("object " + bucket + "/" + key)
	}
	return raw, nil
}

type directory struct{ connected map[string]bool }

func (d directory) FindUserByEmail(ctx context.Context, email string) (string, bool, error) {
	if !d.connected[strings.ToLower(email)] {
		return "", false, nil
	}
	return "user_" + email, true, nil
}

func (d directory) GetOAuthToken(ctx context.Context, userID string) (*oauth2.Token, bool, error) {
	return &oauth2.Token{AccessToken: "tok-" + userID}, true, nil
}

type calendarStub struct {
	inserted []*domain.NewEvent
}

func (c *calendarStub) Timezone(ctx context.Context, tok *oauth2.Token) (string, error) {
	return "America/New_York", nil
}

func (c *calendarStub) ListEvents(ctx context.Context, tok *oauth2.Token, timeMin, timeMax time.Time) ([]domain.Event, error) {
	return nil, nil
}

func (c *calendarStub) InsertEvent(ctx context.Context, tok *oauth2.Token, ev *domain.NewEvent) (*domain.Event, error) {
	c.inserted = append(c.inserted, ev)
	return &domain.Event{ID: "evt-1", Title: ev.Title, Start: ev.Start, End: ev.End, Attendees: ev.Attendees}, nil
}

func (c *calendarStub) DeleteEvent(ctx context.Context, tok *oauth2.Token, id string, notify bool) error {
	return apperr.EventNotFound(id)
}

type script struct {
	responses []domain.ModelResponse
	seen      [][]domain.AgentTurn
}

func (s *script) Complete(ctx context.Context, turns []domain.AgentTurn, defs []out.ToolDefinition) (*domain.ModelResponse, error) {
	s.seen = append(s.seen, append([]domain.AgentTurn(nil), turns...))
	if len(s.seen) > len(s.responses) {
		return nil, fmt.Errorf("unexpected model call %d", len(s.seen))
	}
	r := s.responses[len(s.seen)-1]
	return &r, nil
}

type outbox struct {
	sent []*domain.OutboundMessage
	err  error
}

func (o *outbox) Send(ctx context.Context, msg *domain.OutboundMessage) (string, error) {
	if o.err != nil {
		return "", o.err
	}
	o.sent = append(o.sent, msg)
	return fmt.Sprintf("<sent-%d@vibe.cal>", len(o.sent)), nil
}

type harness struct {
	svc   *Service
	model *script
	cal   *calendarStub
	mail  *outbox
}

func newHarness(blobs memBlobs, connected []string, mode Mode, responses ...domain.ModelResponse) *harness {
	log := logger.Discard()
	h := &harness{
		model: &script{responses: responses},
		cal:   &calendarStub{},
		mail:  &outbox{},
	}
	dir := directory{connected: map[string]bool{}}
	for _, c := range connected {
		dir.connected[c] = true
	}
	gw := calendar.NewGateway(dir, h.cal, nil, nil, log)
	exec := tools.NewExecutor(tools.NewRegistry(tools.CalendarTools(gw)...), log)
	ag := agent.New(h.model, exec, agent.Options{AssistantName: "Vibe", Logger: log})
	analyzer := email.NewThreadAnalyzer()

	h.svc = NewService(
		blobs,
		email.NewParser(log),
		analyzer,
		ag,
		reply.NewDispatcher(analyzer, h.mail, assistant, nil, log),
		Config{AssistantEmail: assistant, Mode: mode},
		log,
	)
	return h
}

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func call(id, name, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: []byte(args)}
}

var availabilityRequest = crlf(`From: Alice <alice@x.com>
To: assistant@vibe.cal
Subject: Availability
Message-ID: <a1@x.com>
Date: Mon, 03 Jun 2024 09:00:00 +0000

What's your availability this week?
`)

func TestUnconnectedCalendarIsReportedToSender(t *testing.T) {
	h := newHarness(memBlobs{"inbox/a1": availabilityRequest}, nil, ModeAgent,
		domain.ModelResponse{ToolCalls: []domain.ToolCall{
			call("c1", tools.NameGetAvailability, `{"owner_email":"alice@x.com","start_date":"2024-06-03","end_date":"2024-06-07"}`),
		}},
		domain.ModelResponse{Content: "TO: alice@x.com\nHi Alice, I could not find a connected calendar for you.\n\nBy Vibe"},
	)

	outcome := h.svc.Process(context.Background(), domain.Trigger{Bucket: "inbox", Key: "a1"})

	require.Equal(t, domain.ActionProcessed, outcome.Action, outcome.Error)
	assert.NotEmpty(t, outcome.RunID)
	assert.Equal(t, "alice@x.com", outcome.From)
	assert.Equal(t, []string{"alice@x.com"}, outcome.Recipients)
	require.Len(t, outcome.ToolCalls, 1)
	assert.Equal(t, apperr.CodeIdentityNotFound, outcome.ToolCalls[0].ErrorCode)

	toolTurn := h.model.seen[1][3]
	assert.Equal(t, domain.RoleTool, toolTurn.Role)
	assert.Contains(t, toolTurn.Content, `"error":"User not found"`)

	assert.Empty(t, h.cal.inserted)
	require.Len(t, h.mail.sent, 1)
	assert.Equal(t, "Re: Availability", h.mail.sent[0].Subject)
	assert.True(t, strings.HasPrefix(h.mail.sent[0].Body, "Hi Alice"))
	assert.Equal(t, "<a1@x.com>", h.mail.sent[0].InReplyTo)
}

func TestAssistantOriginatedMailIsSkipped(t *testing.T) {
	raw := crlf(`From: Vibe <Assistant@Vibe.cal>
To: bob@x.com
Subject: Re: Meeting

Done.
`)
	h := newHarness(memBlobs{"inbox/loop": raw}, nil, ModeAgent)

	outcome := h.svc.Process(context.Background(), domain.Trigger{Bucket: "inbox", Key: "loop"})

	assert.Equal(t, domain.ActionSkipped, outcome.Action)
	assert.Equal(t, apperr.CodeLoopDetected, outcome.ErrorCode)
	assert.False(t, outcome.Failed())
	assert.Empty(t, h.model.seen)
	assert.Empty(t, h.mail.sent)
}

func TestConfirmationBooksEveryParticipant(t *testing.T) {
	raw := crlf(`From: Bob <bob@x.com>
To: assistant@vibe.cal, Carol <carol@x.com>
Subject: Re: Meeting
Message-ID: <b2@x.com>
In-Reply-To: <b1@x.com>
References: <b1@x.com>

Yes, book me for 2pm tomorrow

On Mon, Jun 3, 2024 at 9:00 AM Carol <carol@x.com> wrote:
> From: Carol <carol@x.com>
> Can we meet tomorrow?
`)
	h := newHarness(memBlobs{"inbox/b2": raw}, []string{"bob@x.com"}, ModeAgent,
		domain.ModelResponse{ToolCalls: []domain.ToolCall{
			call("c1", tools.NameBookEvent, `{"owner_email":"bob@x.com","date":"2024-06-04","start_time":"14:00","end_time":"15:00","title":"Meeting"}`),
		}},
		domain.ModelResponse{Content: "TO: bob@x.com\nHi Bob, you're booked for 2pm tomorrow.\n\nBy Vibe"},
	)

	outcome := h.svc.Process(context.Background(), domain.Trigger{Bucket: "inbox", Key: "b2"})

	require.Equal(t, domain.ActionProcessed, outcome.Action, outcome.Error)
	assert.Equal(t, []string{"bob@x.com", "carol@x.com"}, outcome.Participants)

	require.Len(t, h.cal.inserted, 1)
	ev := h.cal.inserted[0]
	assert.Equal(t, []string{"bob@x.com", "carol@x.com"}, ev.Attendees)
	assert.Equal(t, time.Date(2024, 6, 4, 18, 0, 0, 0, time.UTC), ev.Start.UTC())

	require.Len(t, h.mail.sent, 1)
	assert.Equal(t, []string{"bob@x.com", "carol@x.com"}, h.mail.sent[0].To)
	assert.Equal(t, "Re: Meeting", h.mail.sent[0].Subject)
	assert.Equal(t, "<b1@x.com> <b2@x.com>", h.mail.sent[0].References)
}

func TestParseFailureSendsNothing(t *testing.T) {
	h := newHarness(memBlobs{"inbox/bad": []byte("this is not an email")}, nil, ModeAgent)

	outcome := h.svc.Process(context.Background(), domain.Trigger{Bucket: "inbox", Key: "bad"})

	assert.Equal(t, domain.ActionFailed, outcome.Action)
	assert.Equal(t, apperr.CodeParseError, outcome.ErrorCode)
	assert.Empty(t, h.model.seen)
	assert.Empty(t, h.mail.sent)
}

func TestMissingBlobFails(t *testing.T) {
	h := newHarness(memBlobs{}, nil, ModeAgent)

	outcome := h.svc.Process(context.Background(), domain.Trigger{Bucket: "inbox", Key: "nope"})
	assert.Equal(t, apperr.CodeNotFound, outcome.ErrorCode)

	outcome = h.svc.Process(context.Background(), domain.Trigger{Bucket: "inbox"})
	assert.Equal(t, apperr.CodeMissingField, outcome.ErrorCode)
}

func TestSendFailureKeepsFinalText(t *testing.T) {
	h := newHarness(nil, nil, ModeAgent,
		domain.ModelResponse{Content: "TO: alice@x.com\nHi Alice, which day works?\n\nBy Vibe"},
	)
	h.mail.err = errors.New("quota exceeded")

	outcome := h.svc.ProcessRaw(context.Background(), domain.Trigger{Key: "direct"}, availabilityRequest)

	assert.Equal(t, domain.ActionFailed, outcome.Action)
	assert.Equal(t, apperr.CodeSendFailure, outcome.ErrorCode)
	assert.Contains(t, outcome.FinalText, "which day works?")
	assert.Equal(t, "Availability", outcome.Subject)
}

func TestAutoAckSkipsModel(t *testing.T) {
	h := newHarness(nil, nil, ModeAutoAck)

	outcome := h.svc.ProcessRaw(context.Background(), domain.Trigger{}, availabilityRequest)

	require.Equal(t, domain.ActionProcessed, outcome.Action, outcome.Error)
	assert.Empty(t, h.model.seen)
	require.Len(t, h.mail.sent, 1)
	assert.Equal(t, reply.DefaultReplyText, h.mail.sent[0].Body)
	assert.Equal(t, []string{"alice@x.com"}, h.mail.sent[0].To)
}

func TestAutoRepliesAreNotAnswered(t *testing.T) {
	raw := crlf(`From: Alice <alice@x.com>
To: assistant@vibe.cal
Subject: Out of office
Auto-Submitted: auto-replied
Message-ID: <ooo@x.com>

I am away until Monday.
`)
	h := newHarness(nil, nil, ModeAutoAck)

	outcome := h.svc.ProcessRaw(context.Background(), domain.Trigger{}, raw)

	assert.Equal(t, domain.ActionSkipped, outcome.Action)
	assert.Equal(t, apperr.CodeAutomatedMail, outcome.ErrorCode)
	assert.Contains(t, outcome.Reason, domain.SignalAutoSubmitted)
	assert.Empty(t, h.mail.sent)

	h.svc.cfg.ReplyToAutomated = true
	outcome = h.svc.ProcessRaw(context.Background(), domain.Trigger{}, raw)
	assert.Equal(t, domain.ActionProcessed, outcome.Action, outcome.Error)
	assert.Len(t, h.mail.sent, 1)
}
