package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseSinglePart(t *testing.T) {
	raw := crlf(`From: Alice <alice@x.com>
To: assistant@vibe.cal, Bob <bob@x.com>
Cc: carol@x.com
Subject: Availability this week?
Date: Mon, 03 Jun 2024 10:00:00 +0000
Message-ID: <m1@x.com>
Return-Path: <bounce@x.com>
Content-Type: text/plain; charset=utf-8

What's your availability this week?
`)

	parsed, err := NewParser(logger.Discard()).Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "Availability this week?", parsed.Subject)
	assert.Equal(t, []string{"Alice <alice@x.com>"}, parsed.From)
	assert.Equal(t, []string{"assistant@vibe.cal", "Bob <bob@x.com>"}, parsed.To)
	assert.Equal(t, []string{"carol@x.com"}, parsed.Cc)
	assert.Nil(t, parsed.Bcc)
	assert.Equal(t, "<m1@x.com>", parsed.MessageID)
	assert.Equal(t, "<bounce@x.com>", parsed.ReturnPath)
	assert.Equal(t, "", parsed.InReplyTo)
	assert.Equal(t, "", parsed.References)
	assert.Contains(t, parsed.Body, "What's your availability this week?")
}

func TestParseMultipartPrefersPlainText(t *testing.T) {
	raw := crlf(`From: bob@x.com
To: assistant@vibe.cal
Subject: Re: Meeting
In-Reply-To: <m1@x.com>
References: <m0@x.com>
 <m1@x.com>
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="XYZ"

--XYZ
Content-Type: text/plain; charset=utf-8

Yes, book me for 2pm tomorrow
--XYZ
Content-Type: text/html; charset=utf-8

<p>Yes, <b>book</b> me for 2pm tomorrow</p>
--XYZ--
`)

	parsed, err := NewParser(logger.Discard()).Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "Yes, book me for 2pm tomorrow", strings.TrimSpace(parsed.Body))
	assert.Equal(t, "<m1@x.com>", parsed.InReplyTo)
	assert.Equal(t, "<m0@x.com> <m1@x.com>", parsed.References)
}

func TestParseHTMLOnlyFallsBackToMarkdown(t *testing.T) {
	raw := crlf(`From: bob@x.com
Subject: html
MIME-Version: 1.0
Content-Type: text/html; charset=utf-8

<p>Can we meet <strong>Friday</strong>?</p>
`)

	parsed, err := NewParser(logger.Discard()).Parse(raw)
	require.NoError(t, err)
	assert.Contains(t, parsed.Body, "Can we meet **Friday**?")
	assert.NotContains(t, parsed.Body, "<p>")
}

func TestParseMissingHeaders(t *testing.T) {
	raw := crlf(`X-Mailer: test

just a body
`)

	parsed, err := NewParser(logger.Discard()).Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "", parsed.Subject)
	assert.Nil(t, parsed.From)
	assert.Nil(t, parsed.To)
	assert.Equal(t, "", parsed.MessageID)
	assert.Contains(t, parsed.Body, "just a body")
}

func TestParseEncodedSubjectAndLatin1Body(t *testing.T) {
	raw := []byte("From: =?UTF-8?Q?Jos=C3=A9?= <jose@x.com>\r\n" +
		"Subject: =?UTF-8?Q?Reuni=C3=B3n?=\r\n" +
		"Content-Type: text/plain; charset=iso-8859-1\r\n" +
		"Content-Transfer-Encoding: 8bit\r\n" +
		"\r\n" +
		"ma\xf1ana\r\n")

	parsed, err := NewParser(logger.Discard()).Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Reunión", parsed.Subject)
	assert.Equal(t, []string{"José <jose@x.com>"}, parsed.From)
	assert.Contains(t, parsed.Body, "mañana")
}

func TestParseInvalidUTF8Dropped(t *testing.T) {
	raw := []byte("From: a@x.com\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nhi\xff\xfethere\r\n")

	parsed, err := NewParser(logger.Discard()).Parse(raw)
	require.NoError(t, err)
	assert.Contains(t, parsed.Body, "hithere")
}

func TestParseRejectsNonEmail(t *testing.T) {
	for _, raw := range []string{"", "   \n  ", "this is not an email at all"} {
		_, err := NewParser(logger.Discard()).Parse([]byte(raw))
		require.Error(t, err, "input %q", raw)
		assert.True(t, apperr.Is(err, apperr.CodeParseError), "input %q: %v", raw, err)
	}
}

func TestParseKeepsListHeaders(t *testing.T) {
	raw := crlf(`From: digest@lists.x.com
To: assistant@vibe.cal
Subject: Weekly digest
Precedence: bulk
List-Id: Team <team.lists.x.com>
List-Unsubscribe: <mailto:leave@lists.x.com>

News.
`)

	parsed, err := NewParser(logger.Discard()).Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "bulk", parsed.Precedence)
	assert.Equal(t, "Team <team.lists.x.com>", parsed.ListID)
	assert.Equal(t, "<mailto:leave@lists.x.com>", parsed.ListUnsubscribe)
	assert.Empty(t, parsed.AutoSubmitted)
}

func TestParseQuotedDisplayNameWithComma(t *testing.T) {
	raw := crlf(`From: "Vibe, Bot" <assistant@vibe.cal>
To: "Doe, Jane" <jane@x.com>, bob@x.com
Subject: Re: sync

ok
`)

	parsed, err := NewParser(logger.Discard()).Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{`"Vibe, Bot" <assistant@vibe.cal>`}, parsed.From)
	assert.Equal(t, []string{`"Doe, Jane" <jane@x.com>`, "bob@x.com"}, parsed.To)

	a := NewThreadAnalyzer()
	assert.True(t, a.IsLoopMessage(parsed, assistant))
	assert.Equal(t, []string{"jane@x.com", "bob@x.com"}, a.CollectParticipants(parsed, assistant))
}

func TestParseUnparseableAddressListFallsBackToSplit(t *testing.T) {
	raw := crlf(`From: Bob <bob@x.com
To: carol@x.com, not an address

hi
`)

	parsed, err := NewParser(logger.Discard()).Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"Bob <bob@x.com"}, parsed.From)
	assert.Equal(t, []string{"carol@x.com", "not an address"}, parsed.To)
}
