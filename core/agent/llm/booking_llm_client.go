package llm

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"booking_worker/core/domain"
	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
)

// Client implements out.ChatCompletionProvider over the OpenAI chat completions API.
type Client struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

const DefaultModel = "gpt-4o"

var _ out.ChatCompletionProvider = (*Client)(nil)

func NewClientWithConfig(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
	}
}

// Complete sends the whole conversation with the tool schemas and returns the first choice.
func (c *Client) Complete(ctx context.Context, turns []domain.AgentTurn, toolDefs []out.ToolDefinition) (*domain.ModelResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toMessages(turns),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	if len(toolDefs) > 0 {
		req.Tools = toTools(toolDefs)
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Timeout("llm.complete").WithError(err)
		}
		return nil, apperr.ProviderError("llm", err)
	}

	if len(resp.Choices) == 0 {
		return &domain.ModelResponse{}, nil
	}

	msg := resp.Choices[0].Message
	out := &domain.ModelResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: []byte(tc.Function.Arguments),
		})
	}
	return out, nil
}

func toTools(defs []out.ToolDefinition) []openai.Tool {
	tools := make([]openai.Tool, len(defs))
	for i, t := range defs {
		tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return tools
}

func toMessages(turns []domain.AgentTurn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		m := openai.ChatCompletionMessage{Content: t.Content}
		switch t.Role {
		case domain.RoleSystem:
			m.Role = openai.ChatMessageRoleSystem
		case domain.RoleAssistant:
			m.Role = openai.ChatMessageRoleAssistant
			for _, tc := range t.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
		case domain.RoleTool:
			m.Role = openai.ChatMessageRoleTool
			m.ToolCallID = t.ToolCallID
		default:
			m.Role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, m)
	}
	return msgs
}
