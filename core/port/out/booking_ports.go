// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"booking_worker/core/domain"
)

// =============================================================================
// Raw Email Storage
// =============================================================================

// BlobStore reads one stored raw email. A missing object is a NOT_FOUND AppError.
type BlobStore interface {
	Read(ctx context.Context, bucket, key string) ([]byte, error)
}

// BlobWriter stores a raw email so it can later be named by a trigger.
type BlobWriter interface {
	Write(ctx context.Context, bucket, key string, raw []byte) error
}

// =============================================================================
// Language Model
// =============================================================================

// ToolDefinition describes one tool the model may call. Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatCompletionProvider runs one tool-calling completion over the whole conversation.
type ChatCompletionProvider interface {
	Complete(ctx context.Context, turns []domain.AgentTurn, tools []ToolDefinition) (*domain.ModelResponse, error)
}

// =============================================================================
// Identity Directory
// =============================================================================

// IdentityDirectory maps participant emails to directory users and their calendar credentials.
// A missing user or token is reported with ok=false, not an error.
type IdentityDirectory interface {
	FindUserByEmail(ctx context.Context, email string) (userID string, ok bool, err error)
	GetOAuthToken(ctx context.Context, userID string) (token *oauth2.Token, ok bool, err error)
}

// =============================================================================
// Calendar Provider
// =============================================================================

// CalendarProvider is the per-owner calendar wire API. Every call carries a freshly fetched token.
type CalendarProvider interface {
	// Timezone returns the IANA timezone of the owner's primary calendar.
	Timezone(ctx context.Context, token *oauth2.Token) (string, error)
	ListEvents(ctx context.Context, token *oauth2.Token, timeMin, timeMax time.Time) ([]domain.Event, error)
	InsertEvent(ctx context.Context, token *oauth2.Token, event *domain.NewEvent) (*domain.Event, error)
	// DeleteEvent returns an EVENT_NOT_FOUND AppError when the id is unknown to the provider.
	DeleteEvent(ctx context.Context, token *oauth2.Token, eventID string, notifyAttendees bool) error
}

// =============================================================================
// Outbound Mail
// =============================================================================

// MailSender transmits one reply and returns the provider message id.
type MailSender interface {
	Send(ctx context.Context, msg *domain.OutboundMessage) (messageID string, err error)
}

// =============================================================================
// Trigger Queue
// =============================================================================

// TriggerPublisher enqueues a trigger for asynchronous processing.
type TriggerPublisher interface {
	Publish(ctx context.Context, trigger domain.Trigger) (string, error)
}
