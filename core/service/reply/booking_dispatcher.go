// Package reply turns the agent's final answer into a threaded reply-all message.
package reply

import (
	"context"
	"regexp"
	"strings"

	"booking_worker/core/domain"
	"booking_worker/core/port/out"
	"booking_worker/core/service/email"
	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
	"booking_worker/pkg/resilience"
)

// DefaultReplyText is the body of the non-AI auto-acknowledgement.
const DefaultReplyText = "I will get back soon"

var directiveLine = regexp.MustCompile(`(?i)^\s*to:\s*(.+?)\s*$`)

// Dispatcher sends replies through a MailSender.
type Dispatcher struct {
	analyzer  email.ThreadAnalyzer
	sender    out.MailSender
	assistant string
	guard     *resilience.Guard
	log       *logger.Logger
}

func NewDispatcher(analyzer email.ThreadAnalyzer, sender out.MailSender, assistant string, guard *resilience.Guard, log *logger.Logger) *Dispatcher {
	log = logger.OrDefault(log).WithField("component", "reply_dispatcher")
	if guard == nil {
		guard = resilience.NewGuard(resilience.DefaultGuardConfig("mail"), log)
	}
	return &Dispatcher{
		analyzer:  analyzer,
		sender:    sender,
		assistant: assistant,
		guard:     guard,
		log:       log,
	}
}

// StripDirective removes a leading "TO: <email>" line and returns the greeting target
// and the remaining body. Text without the directive is returned unchanged.
func StripDirective(text string) (target, body string) {
	first, rest, found := strings.Cut(text, "\n")
	m := directiveLine.FindStringSubmatch(strings.TrimRight(first, "\r"))
	if m == nil {
		return "", text
	}
	target = domain.CleanAddress(m[1])
	if !strings.Contains(target, "@") {
		return "", text
	}
	if !found {
		return target, ""
	}
	return target, strings.TrimLeft(rest, "\r\n")
}

// Compose builds the outbound message for a reply to parsed without sending it.
func (d *Dispatcher) Compose(parsed *domain.ParsedEmail, finalText string) (*domain.OutboundMessage, string, error) {
	greeting, body := StripDirective(finalText)

	recipients := d.analyzer.CollectParticipants(parsed, d.assistant)
	if len(recipients) == 0 {
		return nil, greeting, apperr.NoValidRecipients()
	}

	return &domain.OutboundMessage{
		To:         recipients,
		Subject:    domain.ReplySubject(parsed.Subject),
		Body:       body,
		InReplyTo:  strings.TrimSpace(parsed.MessageID),
		References: parsed.ReferencesChain(),
	}, greeting, nil
}

// Dispatch sends finalText as a reply-all to parsed. A transport failure is returned as
// SEND_FAILURE with the final text preserved in the error details.
func (d *Dispatcher) Dispatch(ctx context.Context, parsed *domain.ParsedEmail, finalText string) (*domain.SendResult, error) {
	msg, greeting, err := d.Compose(parsed, finalText)
	if err != nil {
		d.log.WithContext(ctx).WithField("subject", parsed.Subject).Warn("no valid recipients for reply")
		return nil, err
	}

	messageID, err := resilience.Call(ctx, d.guard, "send", func(ctx context.Context) (string, error) {
		return d.sender.Send(ctx, msg)
	})
	if err != nil {
		d.log.WithContext(ctx).WithError(err).WithField("recipients", msg.To).Error("reply send failed")
		return nil, apperr.SendFailure(finalText, err)
	}

	d.log.WithContext(ctx).WithFields(map[string]any{
		"message_id": messageID,
		"recipients": msg.To,
		"greeting":   greeting,
	}).Info("reply sent")

	return &domain.SendResult{
		MessageID:  messageID,
		Recipients: msg.To,
		Subject:    msg.Subject,
		Greeting:   greeting,
	}, nil
}

// DispatchDefault sends the fixed acknowledgement text without consulting the model.
func (d *Dispatcher) DispatchDefault(ctx context.Context, parsed *domain.ParsedEmail, text string) (*domain.SendResult, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultReplyText
	}
	return d.Dispatch(ctx, parsed, text)
}
