package domain

import "strings"

// Automated-mail signals, in the order they are checked.
const (
	SignalAutoSubmitted   = "auto-submitted"
	SignalPrecedenceBulk  = "precedence-bulk"
	SignalPrecedenceList  = "precedence-list"
	SignalPrecedenceJunk  = "precedence-junk"
	SignalListID          = "list-id"
	SignalListUnsubscribe = "list-unsubscribe"
)

// AutomatedSignal names the first header marking the message as machine-sent
// or mailing-list traffic (RFC 3834, RFC 2919, RFC 2369), or "" for personal mail.
func (p *ParsedEmail) AutomatedSignal() string {
	if p == nil {
		return ""
	}
	if v := strings.ToLower(strings.TrimSpace(p.AutoSubmitted)); v != "" && v != "no" {
		return SignalAutoSubmitted
	}
	switch strings.ToLower(strings.TrimSpace(p.Precedence)) {
	case "bulk":
		return SignalPrecedenceBulk
	case "list":
		return SignalPrecedenceList
	case "junk":
		return SignalPrecedenceJunk
	}
	if p.ListID != "" {
		return SignalListID
	}
	if p.ListUnsubscribe != "" {
		return SignalListUnsubscribe
	}
	return ""
}
