package tools

import (
	"context"

	"github.com/goccy/go-json"

	"booking_worker/core/domain"
	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
)

// RunContext carries per-message facts a tool call may need.
type RunContext struct {
	Participants []string
}

// Result is the tool-turn content for one call plus its audit record.
type Result struct {
	Content string
	Record  domain.ToolCallRecord
}

// Executor wraps the Registry and converts every outcome into model-readable JSON.
type Executor struct {
	registry *Registry
	log      *logger.Logger
}

// NewExecutor creates a new tool executor
func NewExecutor(registry *Registry, log *logger.Logger) *Executor {
	return &Executor{registry: registry, log: logger.OrDefault(log).WithField("component", "tool_executor")}
}

// Definitions returns the tool schemas offered to the model.
func (e *Executor) Definitions() []out.ToolDefinition {
	return e.registry.GetDefinitions()
}

// Execute runs a single call. It never returns an error: failures become a ToolError payload.
func (e *Executor) Execute(ctx context.Context, call domain.ToolCall, rc RunContext) Result {
	record := domain.ToolCallRecord{ID: call.ID, Name: call.Name, Arguments: call.Arguments}

	value, err := e.run(ctx, call, rc)
	if err != nil {
		record.ErrorCode = apperr.CodeOf(err)
		e.log.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tool": call.Name,
			"code": record.ErrorCode,
		}).Info("tool call failed")
		return Result{Content: encode(ToToolError(err)), Record: record}
	}

	record.OK = true
	return Result{Content: encode(value), Record: record}
}

// ExecuteBatch runs calls in order. A failure never stops later calls.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []domain.ToolCall, rc RunContext) []Result {
	results := make([]Result, len(calls))
	for i, call := range calls {
		results[i] = e.Execute(ctx, call, rc)
	}
	return results
}

func (e *Executor) run(ctx context.Context, call domain.ToolCall, rc RunContext) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithContext(ctx).WithField("tool", call.Name).Error("tool panicked: %v", r)
			value, err = nil, apperr.Internal("tool execution failed")
		}
	}()

	tool, err := e.registry.Get(call.Name)
	if err != nil {
		return nil, err
	}
	inv, err := Decode(call)
	if err != nil {
		return nil, err
	}
	if book, ok := inv.(BookEventArgs); ok && len(book.Attendees) == 0 && len(rc.Participants) > 0 {
		book.Attendees = append([]string(nil), rc.Participants...)
		inv = book
	}
	return tool.Execute(ctx, inv)
}

// ToToolError maps an error to the structured value the model reads.
func ToToolError(err error) domain.ToolError {
	app := apperr.AsAppError(err)
	kind := "Tool error"
	switch app.Code {
	case apperr.CodeIdentityNotFound:
		kind = "User not found"
	case apperr.CodeEventNotFound:
		kind = "Event not found"
	case apperr.CodeInvalidArgument, apperr.CodeMissingField:
		kind = "Invalid arguments"
	case apperr.CodeUnknownTool:
		kind = "Unknown tool"
	case apperr.CodeTimeout:
		kind = "Timeout"
	case apperr.CodeProviderError:
		kind = "Calendar provider error"
	}
	msg := app.Message
	if app.Code == apperr.CodeIdentityNotFound {
		if email, ok := app.Details["email"].(string); ok && email != "" {
			msg = "No connected calendar for " + email + ". Try another participant."
		}
	}
	return domain.ToolError{Error: kind, Message: msg, Code: app.Code}
}

func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(domain.ToolError{Error: "Tool error", Message: "unencodable result", Code: apperr.CodeInternalError})
	}
	return string(data)
}
