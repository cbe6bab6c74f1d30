package email

import (
	"regexp"
	"strings"

	"booking_worker/core/domain"
)

// ThreadAnalyzer derives conversation facts from a parsed message.
// The quoted-reply split is heuristic and may be replaced by a MIME-aware splitter.
type ThreadAnalyzer interface {
	CleanAddress(raw string) string
	CollectParticipants(parsed *domain.ParsedEmail, assistant string) []string
	IsLoopMessage(parsed *domain.ParsedEmail, assistant string) bool
	Analyze(parsed *domain.ParsedEmail, assistant string) *domain.ConversationFacts
}

var (
	wroteLine       = regexp.MustCompile(`On .+ wrote:`)
	headerLine      = regexp.MustCompile(`^(From|To|Subject|Date):`)
	historyFromLine = regexp.MustCompile(`From:\s*(.*)$`)
)

// HeuristicAnalyzer implements ThreadAnalyzer with line-pattern matching.
type HeuristicAnalyzer struct{}

// NewThreadAnalyzer returns the default ThreadAnalyzer.
func NewThreadAnalyzer() *HeuristicAnalyzer {
	return &HeuristicAnalyzer{}
}

var _ ThreadAnalyzer = (*HeuristicAnalyzer)(nil)

func (a *HeuristicAnalyzer) CleanAddress(raw string) string {
	return domain.CleanAddress(raw)
}

// CollectParticipants walks from, to, cc in order and keeps each clean address once,
// skipping the assistant address. Comparison is case-insensitive.
func (a *HeuristicAnalyzer) CollectParticipants(parsed *domain.ParsedEmail, assistant string) []string {
	if parsed == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{parsed.From, parsed.To, parsed.Cc} {
		for _, raw := range list {
			addr := domain.CleanAddress(raw)
			if addr == "" || domain.SameAddress(addr, assistant) {
				continue
			}
			key := strings.ToLower(addr)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// IsLoopMessage reports whether the first From address is the assistant's own.
func (a *HeuristicAnalyzer) IsLoopMessage(parsed *domain.ParsedEmail, assistant string) bool {
	first := parsed.FirstFrom()
	if first == "" || strings.TrimSpace(assistant) == "" {
		return false
	}
	return domain.SameAddress(first, assistant)
}

func (a *HeuristicAnalyzer) Analyze(parsed *domain.ParsedEmail, assistant string) *domain.ConversationFacts {
	current, history := SplitHistory(parsed.Body)
	sender := domain.CleanAddress(parsed.FirstFrom())

	facts := &domain.ConversationFacts{
		AssistantAddress: domain.CleanAddress(assistant),
		Participants:     a.CollectParticipants(parsed, assistant),
		IsFromAssistant:  a.IsLoopMessage(parsed, assistant),
		Sender:           sender,
		OriginalSender:   originalSender(parsed),
		CurrentReplier:   sender,
		CurrentText:      current,
		History:          history,
		MessageID:        parsed.MessageID,
		References:       parsed.ReferencesChain(),
	}
	facts.ThreadStarter = threadStarter(parsed, history, sender)
	return facts
}

func isHistoryLine(line string) bool {
	s := strings.TrimSpace(line)
	return strings.HasPrefix(s, ">") || wroteLine.MatchString(s) || headerLine.MatchString(s)
}

// SplitHistory returns the text before the first quoted or header line, trimmed,
// and every quoted or header line joined in order.
func SplitHistory(body string) (current, history string) {
	if body == "" {
		return "", ""
	}
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	cut := len(lines)
	var quoted []string
	for i, line := range lines {
		if !isHistoryLine(line) {
			continue
		}
		if cut == len(lines) {
			cut = i
		}
		quoted = append(quoted, line)
	}

	return strings.TrimSpace(strings.Join(lines[:cut], "\n")), strings.Join(quoted, "\n")
}

// threadStarter is the first From: line in the quoted history of a reply, else the sender.
func threadStarter(parsed *domain.ParsedEmail, history, sender string) string {
	if parsed.InReplyTo != "" {
		for _, line := range strings.Split(history, "\n") {
			m := historyFromLine.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if addr := domain.CleanAddress(m[1]); strings.Contains(addr, "@") {
				return addr
			}
		}
	}
	return sender
}

// originalSender prefers Return-Path over the first From address.
func originalSender(parsed *domain.ParsedEmail) string {
	if rp := domain.CleanAddress(parsed.ReturnPath); strings.Contains(rp, "@") {
		return rp
	}
	if from := domain.CleanAddress(parsed.FirstFrom()); strings.Contains(from, "@") {
		return from
	}
	return ""
}
