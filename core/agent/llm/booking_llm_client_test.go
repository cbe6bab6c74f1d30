package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking_worker/core/domain"
	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role       string `json:"role"`
		Content    string `json:"content"`
		ToolCallID string `json:"tool_call_id"`
		ToolCalls  []struct {
			ID       string `json:"id"`
			Type     string `json:"type"`
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"messages"`
	Tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
}

func TestCompleteRoundTripsToolCalls(t *testing.T) {
	var got capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_2",
						"type": "function",
						"function": {"name": "bookEvent", "arguments": "{\"owner_email\":\"bob@x.com\"}"}
					}]
				}
			}]
		}`)
	}))
	defer srv.Close()

	c := NewClientWithConfig(ClientConfig{APIKey: "sk-test", BaseURL: srv.URL, HTTPClient: srv.Client()})

	turns := []domain.AgentTurn{
		{Role: domain.RoleSystem, Content: "policy"},
		{Role: domain.RoleUser, Content: "email"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "call_1", Name: "getAvailability", Arguments: []byte(`{"owner_email":"bob@x.com"}`)}}},
		{Role: domain.RoleTool, ToolCallID: "call_1", Content: `{"events":[]}`},
	}
	defs := []out.ToolDefinition{{Name: "getAvailability", Parameters: map[string]any{"type": "object"}}}

	resp, err := c.Complete(context.Background(), turns, defs)
	require.NoError(t, err)

	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	require.Len(t, got.Messages[2].ToolCalls, 1)
	assert.Equal(t, "call_1", got.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, "function", got.Messages[2].ToolCalls[0].Type)
	assert.Equal(t, "tool", got.Messages[3].Role)
	assert.Equal(t, "call_1", got.Messages[3].ToolCallID)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "getAvailability", got.Tools[0].Function.Name)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_2", resp.ToolCalls[0].ID)
	assert.Equal(t, "bookEvent", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"owner_email":"bob@x.com"}`, string(resp.ToolCalls[0].Arguments))
}

func TestCompleteMapsAPIErrorToProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	c := NewClientWithConfig(ClientConfig{APIKey: "sk-test", BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := c.Complete(context.Background(), []domain.AgentTurn{{Role: domain.RoleUser, Content: "hi"}}, nil)
	assert.True(t, apperr.Is(err, apperr.CodeProviderError), "got %v", err)
}
