package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageServer(t *testing.T, status int, body any, seen *map[string]any) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestCreateMessage(t *testing.T) {
	var req map[string]any
	ts := messageServer(t, http.StatusOK, map[string]any{
		"id":   "msg_001",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": "Subject: Hi"},
			{"type": "text", "text": "Body"},
		},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 12, "output_tokens": 30},
	}, &req)

	c := NewClient("test-key", WithBaseURL(ts.URL))
	resp, err := c.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 512,
		System:    "You write short emails.",
		Messages:  []Message{{Role: "user", Content: "Write one."}},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "Subject: Hi\nBody", resp.Text())
	assert.Equal(t, int64(12), resp.Usage.InputTokens)

	assert.Equal(t, "claude-haiku-4-5-20251001", req["model"])
	assert.NotNil(t, req["system"])
}

func TestCreateMessage_StatusError(t *testing.T) {
	ts := messageServer(t, http.StatusTooManyRequests, map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
	}, nil)

	c := NewClient("test-key", WithBaseURL(ts.URL))
	_, err := c.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "x"}},
	})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Code)
}

func TestFromSDKMessage(t *testing.T) {
	resp := fromSDKMessage(&sdk.Message{
		ID:         "msg_x",
		Model:      "claude-sonnet-4-5-20250929",
		StopReason: "max_tokens",
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "hello"}},
		Usage:      sdk.Usage{InputTokens: 100, OutputTokens: 50},
	})
	assert.Equal(t, "msg_x", resp.ID)
	assert.Equal(t, "max_tokens", resp.StopReason)
	assert.Equal(t, "hello", resp.Text())
	assert.Equal(t, int64(50), resp.Usage.OutputTokens)
}

func TestTokenUsage_EstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 18.0, u.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
	assert.Zero(t, u.EstimateCost("unknown-model"))
}

func TestToSDKMessages_Roles(t *testing.T) {
	out := toSDKMessages([]Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, sdk.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, out[1].Role)
}
