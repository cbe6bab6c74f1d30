// Package pipeline runs one inbound email from blob to reply and reports an Outcome.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"booking_worker/core/agent"
	"booking_worker/core/domain"
	"booking_worker/core/port/in"
	"booking_worker/core/port/out"
	"booking_worker/core/service/email"
	"booking_worker/core/service/reply"
	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
)

// Mode selects how a non-loop message is answered.
type Mode string

const (
	// ModeAgent runs the tool-calling agent and sends its answer.
	ModeAgent Mode = "agent"
	// ModeAutoAck sends the configured default reply without calling the model.
	ModeAutoAck Mode = "auto_ack"
)

// Responder produces the final reply text for a conversation.
type Responder interface {
	Run(ctx context.Context, facts *domain.ConversationFacts, parsed *domain.ParsedEmail) (*agent.Result, error)
}

// Config holds pipeline settings.
type Config struct {
	AssistantEmail string
	Mode           Mode
	DefaultReply   string

	// ReplyToAutomated disables the skip for list and auto-submitted mail.
	ReplyToAutomated bool
}

// Service implements in.EmailProcessingService.
type Service struct {
	blobs      out.BlobStore
	parser     *email.Parser
	analyzer   email.ThreadAnalyzer
	responder  Responder
	dispatcher *reply.Dispatcher
	cfg        Config
	log        *logger.Logger
	now        func() time.Time
}

var _ in.EmailProcessingService = (*Service)(nil)

func NewService(
	blobs out.BlobStore,
	parser *email.Parser,
	analyzer email.ThreadAnalyzer,
	responder Responder,
	dispatcher *reply.Dispatcher,
	cfg Config,
	log *logger.Logger,
) *Service {
	if cfg.Mode == "" {
		cfg.Mode = ModeAgent
	}
	if cfg.DefaultReply == "" {
		cfg.DefaultReply = reply.DefaultReplyText
	}
	return &Service{
		blobs:      blobs,
		parser:     parser,
		analyzer:   analyzer,
		responder:  responder,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        logger.OrDefault(log).WithField("component", "pipeline"),
		now:        time.Now,
	}
}

// Process reads the raw message named by trigger and runs it.
func (s *Service) Process(ctx context.Context, trigger domain.Trigger) *domain.Outcome {
	ctx, outcome := s.begin(ctx, trigger)

	if trigger.Bucket == "" || trigger.Key == "" {
		return s.finish(ctx, outcome, apperr.MissingField("bucket/key"))
	}
	if s.blobs == nil {
		return s.finish(ctx, outcome, apperr.ConfigError("no blob store configured"))
	}

	raw, err := s.blobs.Read(ctx, trigger.Bucket, trigger.Key)
	if err != nil {
		return s.finish(ctx, outcome, err)
	}
	return s.run(ctx, outcome, raw)
}

// ProcessRaw runs an already-fetched raw message. trigger is only echoed in the outcome.
func (s *Service) ProcessRaw(ctx context.Context, trigger domain.Trigger, raw []byte) *domain.Outcome {
	ctx, outcome := s.begin(ctx, trigger)
	return s.run(ctx, outcome, raw)
}

func (s *Service) begin(ctx context.Context, trigger domain.Trigger) (context.Context, *domain.Outcome) {
	runID := uuid.NewString()
	ctx = logger.ContextWithRunID(ctx, runID)
	s.log.WithContext(ctx).WithFields(map[string]any{
		"bucket": trigger.Bucket,
		"key":    trigger.Key,
	}).Debug("pipeline run started")
	return ctx, &domain.Outcome{
		RunID:     runID,
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
	}
}

func (s *Service) run(ctx context.Context, outcome *domain.Outcome, raw []byte) *domain.Outcome {
	parsed, err := s.parser.Parse(raw)
	if err != nil {
		return s.finish(ctx, outcome, err)
	}
	outcome.Subject = parsed.Subject
	outcome.From = domain.CleanAddress(parsed.FirstFrom())
	outcome.MessageID = parsed.MessageID

	if s.analyzer.IsLoopMessage(parsed, s.cfg.AssistantEmail) {
		outcome.Action = domain.ActionSkipped
		outcome.Reason = "message was sent by the assistant address"
		outcome.ErrorCode = apperr.CodeLoopDetected
		return s.finish(ctx, outcome, nil)
	}

	if signal := parsed.AutomatedSignal(); signal != "" && !s.cfg.ReplyToAutomated {
		outcome.Action = domain.ActionSkipped
		outcome.Reason = "automated or list mail (" + signal + ")"
		outcome.ErrorCode = apperr.CodeAutomatedMail
		return s.finish(ctx, outcome, nil)
	}

	facts := s.analyzer.Analyze(parsed, s.cfg.AssistantEmail)
	outcome.Participants = facts.Participants

	var sent *domain.SendResult
	switch s.cfg.Mode {
	case ModeAutoAck:
		outcome.FinalText = s.cfg.DefaultReply
		sent, err = s.dispatcher.DispatchDefault(ctx, parsed, s.cfg.DefaultReply)
	default:
		res, runErr := s.responder.Run(ctx, facts, parsed)
		if runErr != nil {
			if apperr.Is(runErr, apperr.CodeLoopDetected) {
				outcome.Action = domain.ActionSkipped
				outcome.Reason = "message was sent by the assistant address"
				outcome.ErrorCode = apperr.CodeLoopDetected
				return s.finish(ctx, outcome, nil)
			}
			return s.finish(ctx, outcome, runErr)
		}
		outcome.FinalText = res.FinalText
		outcome.Iterations = res.Iterations
		outcome.LimitReached = res.LimitReached
		outcome.ToolCalls = res.ToolCalls
		sent, err = s.dispatcher.Dispatch(ctx, parsed, res.FinalText)
	}
	if err != nil {
		return s.finish(ctx, outcome, err)
	}

	outcome.Action = domain.ActionProcessed
	outcome.Recipients = sent.Recipients
	outcome.SendMessageID = sent.MessageID
	return s.finish(ctx, outcome, nil)
}

func (s *Service) finish(ctx context.Context, outcome *domain.Outcome, err error) *domain.Outcome {
	if err != nil {
		app := apperr.AsAppError(err)
		outcome.Action = domain.ActionFailed
		outcome.ErrorCode = app.Code
		outcome.Error = app.Error()
	}
	outcome.Duration = s.now().UTC().Sub(outcome.StartedAt)

	log := s.log.WithContext(ctx).WithDuration(outcome.Duration).WithFields(map[string]any{
		"bucket":  outcome.Trigger.Bucket,
		"key":     outcome.Trigger.Key,
		"subject": outcome.Subject,
		"sender":  outcome.From,
		"action":  string(outcome.Action),
	})
	switch outcome.Action {
	case domain.ActionFailed:
		log.WithError(err).WithField("code", outcome.ErrorCode).Error("pipeline run failed")
	case domain.ActionSkipped:
		log.WithField("reason", outcome.Reason).Info("pipeline run skipped")
	default:
		log.WithFields(map[string]any{
			"recipients": outcome.Recipients,
			"iterations": outcome.Iterations,
		}).Info("pipeline run processed")
	}
	return outcome
}
