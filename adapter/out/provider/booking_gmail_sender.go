package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-message/mail"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"booking_worker/core/domain"
	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
)

// GmailSenderConfig holds configuration for GmailSender.
type GmailSenderConfig struct {
	From        *mail.Address
	UserID      string
	TokenSource oauth2.TokenSource
	HTTPClient  *http.Client
	Endpoint    string
}

// GmailSender implements out.MailSender with users.messages.send on a raw RFC 5322 message.
type GmailSender struct {
	svc    *gmail.Service
	from   *mail.Address
	userID string
	now    func() time.Time
}

func NewGmailSender(ctx context.Context, cfg GmailSenderConfig) (*GmailSender, error) {
	if cfg.From == nil || cfg.From.Address == "" {
		return nil, apperr.ConfigError("gmail sender requires a from address")
	}
	if cfg.UserID == "" {
		cfg.UserID = "me"
	}

	var opts []option.ClientOption
	switch {
	case cfg.TokenSource != nil:
		if cfg.HTTPClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
		}
		opts = append(opts, option.WithHTTPClient(oauth2.NewClient(ctx, cfg.TokenSource)))
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &GmailSender{svc: svc, from: cfg.From, userID: cfg.UserID, now: time.Now}, nil
}

// Send returns the Gmail message id.
func (s *GmailSender) Send(ctx context.Context, msg *domain.OutboundMessage) (string, error) {
	raw, _, err := BuildRawMessage(s.from, msg, s.now())
	if err != nil {
		return "", apperr.InternalWithError(err)
	}

	sent, err := s.svc.Users.Messages.Send(s.userID, &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return "", apperr.ProviderError("gmail", fmt.Errorf("failed to send message: %w", err))
	}
	return sent.Id, nil
}

// LogSender renders replies and logs them instead of sending. Used for dry runs.
type LogSender struct {
	from *mail.Address
	log  *logger.Logger
}

func NewLogSender(from *mail.Address, log *logger.Logger) *LogSender {
	return &LogSender{from: from, log: logger.OrDefault(log).WithField("component", "log_sender")}
}

func (s *LogSender) Send(ctx context.Context, msg *domain.OutboundMessage) (string, error) {
	raw, id, err := BuildRawMessage(s.from, msg, time.Now())
	if err != nil {
		return "", apperr.InternalWithError(err)
	}
	s.log.WithContext(ctx).WithFields(map[string]any{
		"message_id": id,
		"to":         msg.To,
		"subject":    msg.Subject,
	}).Info("dry run reply:\n%s", raw)
	return id, nil
}

var (
	_ out.MailSender = (*GmailSender)(nil)
	_ out.MailSender = (*LogSender)(nil)
)
