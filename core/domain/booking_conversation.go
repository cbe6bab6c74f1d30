package domain

// ConversationFacts are derived per message from a ParsedEmail and discarded after the run.
type ConversationFacts struct {
	AssistantAddress string   `json:"assistant_address"`
	Participants     []string `json:"participants"`
	IsFromAssistant  bool     `json:"is_from_assistant"`

	// Sender is the clean address of the first From entry.
	Sender string `json:"sender"`
	// OriginalSender prefers Return-Path over From. Diagnostics only.
	OriginalSender string `json:"original_sender,omitempty"`

	ThreadStarter  string `json:"thread_starter,omitempty"`
	CurrentReplier string `json:"current_replier,omitempty"`
	CurrentText    string `json:"current_text"`
	History        string `json:"history,omitempty"`

	MessageID  string `json:"message_id,omitempty"`
	References string `json:"references,omitempty"`
}
