package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ilkoid/deskpilot/pkg/config"
	"github.com/ilkoid/deskpilot/pkg/llm"
	"github.com/ilkoid/deskpilot/pkg/tools"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.ModelDef{
		Provider:  "anthropic",
		ModelName: "claude-test",
		APIKey:    "test-key",
		BaseURL:   srv.URL,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestGenerateRequestShape(t *testing.T) {
	var got wireRequest
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version header missing")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(wireResponse{
			Content:    []wireBlock{{Type: "text", Text: "done"}},
			StopReason: "end_turn",
		})
	})

	temp := 0.2
	_, err := client.Generate(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be helpful"},
			{Role: llm.RoleUser, Content: "click the button"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "tu_1", Name: "click", Args: `{"x":1,"y":2}`}}},
			{Role: llm.RoleTool, ToolCallID: "tu_1", Content: "clicked", IsError: false},
		},
		Tools: []tools.ToolDefinition{{
			Name:        "click",
			Description: "click at coordinates",
			Parameters:  tools.JSONSchema{"type": "object"},
		}},
		Options: llm.GenerateOptions{Temperature: &temp, MaxTokens: 512},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// System уходит в top-level параметр, не в messages.
	if got.System != "be helpful" {
		t.Errorf("system = %q", got.System)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(got.Messages))
	}
	if got.Messages[1].Content[1].Type != "tool_use" || got.Messages[1].Content[1].ID != "tu_1" {
		t.Errorf("assistant blocks = %+v", got.Messages[1].Content)
	}
	// Tool result — это user сообщение с tool_result блоком.
	last := got.Messages[2]
	if last.Role != "user" || last.Content[0].Type != "tool_result" || last.Content[0].ToolUseID != "tu_1" {
		t.Errorf("tool result message = %+v", last)
	}
	if got.MaxTokens != 512 {
		t.Errorf("max_tokens = %d", got.MaxTokens)
	}
	if got.Temperature == nil || *got.Temperature != 0.2 {
		t.Errorf("temperature = %v", got.Temperature)
	}
	if len(got.Tools) != 1 || got.Tools[0].Name != "click" {
		t.Errorf("tools = %+v", got.Tools)
	}
}

func TestToolResultAndScreenshotShareUserTurn(t *testing.T) {
	var got wireRequest
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(wireResponse{
			Content:    []wireBlock{{Type: "text", Text: "ok"}},
			StopReason: "end_turn",
		})
	})

	_, err := client.Generate(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "look at the screen"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "tu_1", Name: "see", Args: `{}`}}},
			{Role: llm.RoleTool, ToolCallID: "tu_1", Content: `{"screen":"1920x1080"}`},
			{Role: llm.RoleUser, Content: "Screenshot from the see tool:", Images: []string{"data:image/jpeg;base64,QUJD"}},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Роли чередуются: результат инструмента и кадр — один user ход.
	if len(got.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(got.Messages))
	}
	last := got.Messages[2]
	if last.Role != "user" {
		t.Fatalf("last role = %q, want user", last.Role)
	}
	if len(last.Content) != 3 {
		t.Fatalf("user blocks = %d, want tool_result + text + image", len(last.Content))
	}
	if last.Content[0].Type != "tool_result" || last.Content[0].ToolUseID != "tu_1" {
		t.Errorf("first block = %+v, want tool_result", last.Content[0])
	}
	img := last.Content[2]
	if img.Type != "image" || img.Source == nil || img.Source.Data != "QUJD" {
		t.Errorf("image block = %+v", img)
	}
}

func TestGenerateParsesToolUse(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireResponse{
			Content: []wireBlock{
				{Type: "text", Text: "I will click."},
				{Type: "tool_use", ID: "tu_9", Name: "click", Input: json.RawMessage(`{"x":10}`)},
			},
			StopReason: "tool_use",
		})
	})

	msg, err := client.Generate(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if msg.Content != "I will click." {
		t.Errorf("content = %q", msg.Content)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Name != "click" || msg.ToolCalls[0].Args != `{"x":10}` {
		t.Errorf("tool calls = %+v", msg.ToolCalls)
	}
}

func TestReasoningModelOmitsTemperature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got wireRequest
		json.NewDecoder(r.Body).Decode(&got)
		if got.Temperature != nil {
			t.Errorf("temperature sent for reasoning model: %v", *got.Temperature)
		}
		json.NewEncoder(w).Encode(wireResponse{Content: []wireBlock{{Type: "text", Text: "ok"}}})
	}))
	defer srv.Close()

	client, err := NewClient(config.ModelDef{
		Provider:        "anthropic",
		ModelName:       "claude-think",
		APIKey:          "k",
		BaseURL:         srv.URL,
		ReasoningEffort: "high",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	temp := 0.7
	if _, err := client.Generate(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Options:  llm.GenerateOptions{Temperature: &temp},
	}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func TestGenerateAuthError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	})

	_, err := client.Generate(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if !llm.IsAuthFailed(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(config.ModelDef{Provider: "anthropic", ModelName: "claude-test"})
	if err == nil {
		t.Fatal("expected error for missing api key")
	}
}

const streamBody = `event: message_start
data: {"type":"message_start"}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Opening "}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"browser"}}

event: content_block_start
data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu_1","name":"click"}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"x\":"}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"5}"}}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"tool_use"}}

event: message_stop
data: {"type":"message_stop"}

`

func TestGenerateStream(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, streamBody)
	})

	stream, err := client.GenerateStream(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	defer stream.Close()

	var acc llm.Accumulator
	var finished bool
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if ev.Kind == llm.StreamEventCompleted && ev.FinishReason == llm.FinishToolCalls {
			finished = true
		}
		acc.Apply(ev)
	}

	if !finished {
		t.Error("expected tool_calls finish reason")
	}
	msg := acc.FinalMessage()
	if msg.Content != "Opening browser" {
		t.Errorf("content = %q", msg.Content)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].ID != "tu_1" || msg.ToolCalls[0].Args != `{"x":5}` {
		t.Errorf("tool calls = %+v", msg.ToolCalls)
	}
}

func TestStreamDropAfterDeliveryIsTerminal(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Поток обрывается после первой дельты без message_stop.
		io.WriteString(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"par\"}}\n\n")
	})

	stream, err := client.GenerateStream(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	defer stream.Close()

	ev, err := stream.Recv()
	if err != nil || ev.Kind != llm.StreamEventTextDelta {
		t.Fatalf("first event = %+v, err %v", ev, err)
	}

	// EOF без message_stop трактуется как нормальное завершение.
	ev, err = stream.Recv()
	if err != nil || ev.Kind != llm.StreamEventCompleted {
		t.Fatalf("final event = %+v, err %v", ev, err)
	}
	if _, err := stream.Recv(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestParseDataURI(t *testing.T) {
	mediaType, data, ok := parseDataURI("data:image/jpeg;base64,AAAA")
	if !ok || mediaType != "image/jpeg" || data != "AAAA" {
		t.Errorf("got %q %q %v", mediaType, data, ok)
	}
	if _, _, ok := parseDataURI("https://example.com/a.png"); ok {
		t.Error("http url accepted as data uri")
	}
	if _, _, ok := parseDataURI("data:image/png,plain"); ok {
		t.Error("non-base64 data uri accepted")
	}
}
