// Package agent runs the bounded tool-calling conversation that decides how to answer one email.
package agent

import (
	"context"
	"strings"
	"time"

	"booking_worker/core/agent/tools"
	"booking_worker/core/domain"
	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
	"booking_worker/pkg/resilience"
)

// DefaultMaxIterations caps model round-trips per message.
const DefaultMaxIterations = 5

// DefaultFallbackText is returned when the limit is hit before the model produced any text.
const DefaultFallbackText = "I will get back soon"

// State of the tool-calling loop.
type State string

const (
	StatePrompting      State = "PROMPTING"
	StateWaitingModel   State = "WAITING_MODEL"
	StateExecutingTools State = "EXECUTING_TOOLS"
	StateDone           State = "DONE"
)

// Options configures an Agent. Zero values take defaults.
type Options struct {
	MaxIterations int
	AssistantName string
	FallbackText  string
	Guard         *resilience.Guard
	Logger        *logger.Logger
	Now           func() time.Time
}

// Agent is stateless between runs and safe for concurrent use.
type Agent struct {
	model    out.ChatCompletionProvider
	executor *tools.Executor
	maxIter  int
	name     string
	fallback string
	guard    *resilience.Guard
	log      *logger.Logger
	now      func() time.Time
}

// Result is the outcome of one Run.
type Result struct {
	FinalText    string
	Iterations   int
	LimitReached bool
	ToolCalls    []domain.ToolCallRecord
	Transitions  []State
}

func New(model out.ChatCompletionProvider, executor *tools.Executor, opts Options) *Agent {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.AssistantName == "" {
		opts.AssistantName = "Vibe"
	}
	if opts.FallbackText == "" {
		opts.FallbackText = DefaultFallbackText
	}
	log := logger.OrDefault(opts.Logger).WithField("component", "agent")
	if opts.Guard == nil {
		opts.Guard = resilience.NewGuard(resilience.DefaultGuardConfig("llm"), log)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Agent{
		model:    model,
		executor: executor,
		maxIter:  opts.MaxIterations,
		name:     opts.AssistantName,
		fallback: opts.FallbackText,
		guard:    opts.Guard,
		log:      log,
		now:      opts.Now,
	}
}

// Run drives PROMPTING -> WAITING_MODEL -> (EXECUTING_TOOLS -> PROMPTING)* -> DONE for at most
// MaxIterations model calls. Tool failures are fed back to the model and never abort the run.
// The context is checked between iterations only.
func (a *Agent) Run(ctx context.Context, facts *domain.ConversationFacts, parsed *domain.ParsedEmail) (*Result, error) {
	if facts.IsFromAssistant {
		return nil, apperr.LoopDetected(facts.Sender)
	}

	userPrompt, err := UserPrompt(facts, parsed)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}

	turns := []domain.AgentTurn{
		{Role: domain.RoleSystem, Content: SystemPrompt(facts, a.name, a.now())},
		{Role: domain.RoleUser, Content: userPrompt},
	}
	defs := a.executor.Definitions()
	rc := tools.RunContext{Participants: facts.Participants}
	log := a.log.WithContext(ctx)

	res := &Result{Transitions: []State{StatePrompting}}
	lastText := ""

	for res.Iterations < a.maxIter {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Timeout("agent.run").WithError(err).
				WithDetail("iterations", res.Iterations).
				WithDetail("last_text", lastText)
		}

		res.Transitions = append(res.Transitions, StateWaitingModel)
		res.Iterations++

		resp, err := resilience.Call(ctx, a.guard, "complete", func(ctx context.Context) (*domain.ModelResponse, error) {
			return a.model.Complete(ctx, turns, defs)
		})
		if err != nil {
			return nil, err
		}

		content := strings.TrimSpace(resp.Content)
		if content != "" {
			lastText = content
		}

		if len(resp.ToolCalls) == 0 {
			res.Transitions = append(res.Transitions, StateDone)
			res.FinalText = content
			if res.FinalText == "" {
				res.FinalText = a.bestEffort(lastText)
			}
			log.WithFields(map[string]any{"iterations": res.Iterations, "tool_calls": len(res.ToolCalls)}).
				Info("agent finished")
			return res, nil
		}

		turns = append(turns, domain.AgentTurn{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if res.Iterations >= a.maxIter {
			break
		}

		res.Transitions = append(res.Transitions, StateExecutingTools)
		for _, r := range a.executor.ExecuteBatch(ctx, resp.ToolCalls, rc) {
			res.ToolCalls = append(res.ToolCalls, r.Record)
			turns = append(turns, domain.AgentTurn{
				Role:       domain.RoleTool,
				Content:    r.Content,
				ToolCallID: r.Record.ID,
			})
		}
		res.Transitions = append(res.Transitions, StatePrompting)
	}

	res.LimitReached = true
	res.FinalText = a.bestEffort(lastText)
	res.Transitions = append(res.Transitions, StateDone)
	log.WithFields(map[string]any{"iterations": res.Iterations, "tool_calls": len(res.ToolCalls)}).
		Warn("agent hit iteration limit, returning best-effort text")
	return res, nil
}

func (a *Agent) bestEffort(lastText string) string {
	if lastText != "" {
		return lastText
	}
	return a.fallback + "\n\nBy " + a.name
}
