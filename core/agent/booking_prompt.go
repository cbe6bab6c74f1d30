package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"booking_worker/core/domain"
)

const systemPromptTemplate = `You are %[2]s, a calendar assistant that works over email threads. Your own address is %[1]s.
Today is %[3]s (%[4]s UTC).

Rules:
1. Never act on a message sent from %[1]s. Always finish with a non-empty reply: when there is nothing to book or report, ask one short clarifying question.
2. Calendar owner: the sender of the earliest message in the thread that addressed %[1]s. If unclear, use the thread starter, then the current sender.
3. Intent:
   - Availability questions: call getAvailability for the owner (default to the next 3 days when no range is given).
   - Booking: call bookEvent only when the message explicitly confirms a slot ("yes, book it", "confirmed", "let's do 2pm").
     Tentative wording ("maybe", "could we", "what about") is not confirmation: propose the slot and ask instead.
   - Cancelling: call cancelEvent with an event id taken from getAvailability results.
   - Anything else or unclear: ask one short clarifying question.
4. When booking, attendees must be every thread participant: %[5]s. Never include %[1]s.
5. If a tool returns "User not found", retry the same tool with a different participant's address before giving up.
   If every participant fails, explain that no connected calendar was found.
6. Dates are YYYY-MM-DD. Times are HH:MM (24h) in the owner's calendar timezone.
7. Never invent tool results or event ids.

Final answer format (plain text, no JSON, no markdown headers):
- First line: "TO: <email>" naming the participant you are greeting.
- Then the email body.
- End with the signature line "By %[2]s".`

// SystemPrompt renders the policy turn for one conversation.
func SystemPrompt(facts *domain.ConversationFacts, assistantName string, now time.Time) string {
	participants := "(none)"
	if len(facts.Participants) > 0 {
		participants = strings.Join(facts.Participants, ", ")
	}
	return fmt.Sprintf(systemPromptTemplate,
		facts.AssistantAddress,
		assistantName,
		now.UTC().Format("Monday, 2006-01-02"),
		now.UTC().Format("15:04"),
		participants,
	)
}

type emailPayload struct {
	Subject             string   `json:"subject"`
	From                []string `json:"from"`
	To                  []string `json:"to"`
	Cc                  []string `json:"cc,omitempty"`
	Date                string   `json:"date,omitempty"`
	MessageID           string   `json:"message_id,omitempty"`
	InReplyTo           string   `json:"in_reply_to,omitempty"`
	Sender              string   `json:"sender"`
	Participants        []string `json:"participants"`
	ThreadStarter       string   `json:"thread_starter,omitempty"`
	CurrentReplier      string   `json:"current_replier,omitempty"`
	CurrentEmailText    string   `json:"current_email_text"`
	ConversationHistory string   `json:"conversation_history,omitempty"`
}

// UserPrompt renders the task turn: the structured email as JSON.
func UserPrompt(facts *domain.ConversationFacts, parsed *domain.ParsedEmail) (string, error) {
	current := facts.CurrentText
	if current == "" {
		current = strings.TrimSpace(parsed.Body)
	}
	data, err := json.MarshalIndent(emailPayload{
		Subject:             parsed.Subject,
		From:                parsed.From,
		To:                  parsed.To,
		Cc:                  parsed.Cc,
		Date:                parsed.Date,
		MessageID:           parsed.MessageID,
		InReplyTo:           parsed.InReplyTo,
		Sender:              facts.Sender,
		Participants:        facts.Participants,
		ThreadStarter:       facts.ThreadStarter,
		CurrentReplier:      facts.CurrentReplier,
		CurrentEmailText:    current,
		ConversationHistory: facts.History,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return "Handle this email thread:\n" + string(data), nil
}
