package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIProviderStream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected auth header")
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Errorf("expected stream true")
		}
		if len(req.Tools) != 1 {
			t.Errorf("expected tools in request")
		}
		if req.Temperature == nil || *req.Temperature != 0 {
			t.Errorf("expected explicit zero temperature, got %v", req.Temperature)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"world\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"type\":\"function\",\"function\":{\"name\":\"search\",\"arguments\":\"{\\\"q\\\"\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\":\\\"x\\\"}\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	zero := 0.0
	provider := NewOpenAIProvider(Config{
		APIURL:      server.URL,
		APIKey:      "test-key",
		Model:       "gpt-test",
		Temperature: &zero,
	})

	stream, err := provider.Complete(context.Background(), []Message{
		{Role: RoleUser, Content: "hi"},
	}, []Tool{
		{
			Name:        "search",
			Description: "searches",
			Parameters: map[string]any{
				"type": "object",
			},
		},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	defer stream.Close()

	var content strings.Builder
	var fragments []ToolCall
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		content.WriteString(chunk.Content)
		fragments = append(fragments, chunk.ToolCalls...)
	}

	if content.String() != "Hello world" {
		t.Fatalf("unexpected content %q", content.String())
	}
	if len(fragments) != 2 {
		t.Fatalf("expected two tool call fragments, got %d", len(fragments))
	}
	if fragments[0].Name != "search" || fragments[0].ID != "call_1" {
		t.Fatalf("unexpected first fragment %+v", fragments[0])
	}
	if fragments[1].Index != 0 || fragments[1].ID != "" {
		t.Fatalf("expected continuation fragment at index 0, got %+v", fragments[1])
	}
}

func TestToOpenAIMessagesCarriesToolHistory(t *testing.T) {
	t.Parallel()

	wire := toOpenAIMessages([]Message{
		{Role: RoleUser, Content: "top creators?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "kol_recommendation"}}},
		{Role: RoleTool, Name: "kol_recommendation", ToolCallID: "call_1", Content: `{"count":0}`},
	})

	if len(wire) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(wire))
	}
	if wire[1].Content != nil {
		t.Fatalf("expected null content on tool-call-only assistant turn")
	}
	if len(wire[1].ToolCalls) != 1 || wire[1].ToolCalls[0].Function.Arguments != "{}" {
		t.Fatalf("expected tool call with empty-object arguments, got %+v", wire[1].ToolCalls)
	}
	if wire[1].ToolCalls[0].Type != "function" {
		t.Fatalf("expected function type, got %q", wire[1].ToolCalls[0].Type)
	}
	if wire[2].ToolCallID != "call_1" || wire[2].Name != "kol_recommendation" {
		t.Fatalf("unexpected tool message %+v", wire[2])
	}
	if wire[0].Name != "" {
		t.Fatalf("expected no name on user message")
	}

	raw, err := json.Marshal(wire[1])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"content":null`) {
		t.Fatalf("expected explicit null content, got %s", raw)
	}
}

func TestOpenAIProviderNon2xx(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(Config{APIURL: server.URL, Model: "m"})
	_, err := provider.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("expected status error with body, got %v", err)
	}
}
