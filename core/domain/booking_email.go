package domain

import (
	"strings"
)

// ParsedEmail is the structured form of one raw RFC 5322 message.
// Missing headers are empty strings or nil slices, never absent.
type ParsedEmail struct {
	Subject    string   `json:"subject"`
	From       []string `json:"from"`
	To         []string `json:"to"`
	Cc         []string `json:"cc"`
	Bcc        []string `json:"bcc"`
	Body       string   `json:"body"`
	Date       string   `json:"date"`
	MessageID  string   `json:"message_id"`
	InReplyTo  string   `json:"in_reply_to"`
	References string   `json:"references"`
	ReturnPath string   `json:"return_path"`

	AutoSubmitted   string `json:"auto_submitted,omitempty"`
	Precedence      string `json:"precedence,omitempty"`
	ListID          string `json:"list_id,omitempty"`
	ListUnsubscribe string `json:"list_unsubscribe,omitempty"`
}

// FirstFrom returns the first raw From address, or "".
func (p *ParsedEmail) FirstFrom() string {
	if p == nil || len(p.From) == 0 {
		return ""
	}
	return p.From[0]
}

// SplitAddressList splits a raw header value on commas, trimming each entry and
// dropping empties. Quoted display names containing commas are not handled.
func SplitAddressList(header string) []string {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CleanAddress extracts a bare local@domain from a raw address string:
// the contents of <...> if present, else the first whitespace token containing '@',
// else the trimmed input.
func CleanAddress(raw string) string {
	s := strings.TrimSpace(raw)
	if open := strings.Index(s, "<"); open >= 0 {
		if end := strings.Index(s[open+1:], ">"); end >= 0 {
			return strings.TrimSpace(s[open+1 : open+1+end])
		}
	}
	for _, tok := range strings.Fields(s) {
		if at := strings.Index(tok, "@"); at > 0 && at < len(tok)-1 {
			return tok
		}
	}
	return s
}

// SameAddress compares two raw or clean addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(CleanAddress(a), CleanAddress(b))
}

// ReplySubject prefixes subject with "Re: " unless it already carries the prefix.
func ReplySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if len(trimmed) >= 3 && strings.EqualFold(trimmed[:3], "re:") {
		return subject
	}
	return "Re: " + trimmed
}

// ReferencesChain builds the References header for a reply to this message.
func (p *ParsedEmail) ReferencesChain() string {
	refs := strings.TrimSpace(p.References)
	msgID := strings.TrimSpace(p.MessageID)
	switch {
	case refs != "" && msgID != "":
		return refs + " " + msgID
	case refs != "":
		return refs
	default:
		return msgID
	}
}
