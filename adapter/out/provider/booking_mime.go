package provider

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"booking_worker/core/domain"
)

// BuildRawMessage renders msg as an RFC 5322 text/plain message from the given sender
// and returns it with the generated Message-Id (angle brackets included).
func BuildRawMessage(from *mail.Address, msg *domain.OutboundMessage, now time.Time) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", toAddresses(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", toAddresses(msg.Cc))
	}
	h.SetSubject(msg.Subject)
	if ids := msgIDs(msg.InReplyTo); len(ids) > 0 {
		h.SetMsgIDList("In-Reply-To", ids[:1])
	}
	if ids := msgIDs(msg.References); len(ids) > 0 {
		h.SetMsgIDList("References", ids)
	}
	if err := h.GenerateMessageIDWithHostname(hostOf(from.Address)); err != nil {
		return nil, "", fmt.Errorf("generate message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("create mail writer: %w", err)
	}
	if _, err := w.Write([]byte(msg.Body)); err != nil {
		return nil, "", fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close mail writer: %w", err)
	}

	id, _ := h.MessageID()
	return buf.Bytes(), "<" + id + ">", nil
}

func toAddresses(list []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, a := range list {
		out = append(out, &mail.Address{Address: domain.CleanAddress(a)})
	}
	return out
}

// msgIDs splits a whitespace-separated id list and strips angle brackets.
func msgIDs(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		if id := strings.Trim(f, "<>"); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func hostOf(addr string) string {
	if at := strings.LastIndex(addr, "@"); at >= 0 && at < len(addr)-1 {
		return addr[at+1:]
	}
	return "localhost"
}
