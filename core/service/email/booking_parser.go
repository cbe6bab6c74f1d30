// Package email turns raw inbound mail into a ParsedEmail and derives conversation facts from it.
package email

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"strconv"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/charmap"

	"booking_worker/core/domain"
	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
)

func init() {
	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("iso-8859-15", charmap.ISO8859_15)
}

// Parser converts raw RFC 5322 text into a ParsedEmail.
type Parser struct {
	log *logger.Logger
}

// NewParser creates a Parser. A nil logger uses the default.
func NewParser(log *logger.Logger) *Parser {
	return &Parser{log: logger.OrDefault(log).WithField("component", "email_parser")}
}

// Parse never fails on malformed-but-readable MIME. It returns PARSE_ERROR only
// when raw has no readable header block.
func (p *Parser) Parse(raw []byte) (*domain.ParsedEmail, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apperr.ParseError("empty input", nil)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && (mr == nil || !message.IsUnknownCharset(err)) {
		return nil, apperr.ParseError("unreadable header block", err)
	}
	if mr == nil {
		return nil, apperr.ParseError("unreadable header block", err)
	}
	defer mr.Close()

	if mr.Header.Fields().Len() == 0 {
		return nil, apperr.ParseError("no headers", nil)
	}

	h := mr.Header
	parsed := &domain.ParsedEmail{
		Subject:    p.subject(h),
		From:       p.addresses(h, "From"),
		To:         p.addresses(h, "To"),
		Cc:         p.addresses(h, "Cc"),
		Bcc:        p.addresses(h, "Bcc"),
		Date:       strings.TrimSpace(h.Get("Date")),
		MessageID:  strings.TrimSpace(h.Get("Message-Id")),
		InReplyTo:  strings.TrimSpace(h.Get("In-Reply-To")),
		References: strings.Join(strings.Fields(h.Get("References")), " "),
		ReturnPath: strings.TrimSpace(h.Get("Return-Path")),

		AutoSubmitted:   strings.TrimSpace(h.Get("Auto-Submitted")),
		Precedence:      strings.TrimSpace(h.Get("Precedence")),
		ListID:          strings.TrimSpace(h.Get("List-Id")),
		ListUnsubscribe: strings.TrimSpace(h.Get("List-Unsubscribe")),
	}

	plain, html := p.bodies(mr)
	switch {
	case plain != "":
		parsed.Body = plain
	case html != "":
		md, err := htmltomarkdown.ConvertString(html)
		if err != nil {
			p.log.WithError(err).Warn("html body conversion failed, body left empty")
		} else {
			parsed.Body = strings.TrimSpace(md)
		}
	}

	return parsed, nil
}

// bodies returns the first text/plain and first text/html inline parts.
// Part-level errors end the walk but keep what was read so far.
func (p *Parser) bodies(mr *mail.Reader) (plain, html string) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return plain, html
		}
		if err != nil && (part == nil || !message.IsUnknownCharset(err)) {
			p.log.WithError(err).Debug("stopping at unreadable part")
			return plain, html
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && plain == "":
			plain = readText(part.Body)
		case strings.HasPrefix(contentType, "text/html") && html == "":
			html = readText(part.Body)
		}
	}
}

func readText(r io.Reader) string {
	data, err := io.ReadAll(r)
	if err != nil && len(data) == 0 {
		return ""
	}
	return strings.ToValidUTF8(string(data), "")
}

func (p *Parser) subject(h mail.Header) string {
	if s, err := h.Subject(); err == nil {
		return strings.ToValidUTF8(s, "")
	}
	return decodeMIMEWord(h.Get("Subject"))
}

// text decodes RFC 2047 words in a header, falling back to the raw value.
// addresses parses an address-list header, keeping quoted display names intact.
// Headers that do not parse fall back to a plain comma split.
func (p *Parser) addresses(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return domain.SplitAddressList(p.text(h, key))
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, formatAddress(a))
	}
	return out
}

func formatAddress(a *mail.Address) string {
	name := strings.TrimSpace(strings.ToValidUTF8(a.Name, ""))
	switch {
	case name == "":
		return a.Address
	case strings.ContainsAny(name, `,;:<>@"()[]\`):
		return strconv.Quote(name) + " <" + a.Address + ">"
	default:
		return name + " <" + a.Address + ">"
	}
}

func (p *Parser) text(h mail.Header, key string) string {
	if s, err := h.Text(key); err == nil {
		return strings.ToValidUTF8(s, "")
	}
	return decodeMIMEWord(h.Get(key))
}

func decodeMIMEWord(s string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return strings.ToValidUTF8(s, "")
	}
	return strings.ToValidUTF8(decoded, "")
}
