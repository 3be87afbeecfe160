package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ilkoid/deskpilot/pkg/config"
	"github.com/ilkoid/deskpilot/pkg/llm"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.ModelDef{
		Provider:  "ollama",
		ModelName: "qwen3:8b",
		BaseURL:   srv.URL,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestGenerateSynthesizesToolCallIDs(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(wireResponse{
			Message: wireMessage{
				Role: "assistant",
				ToolCalls: []wireToolCall{
					{Function: wireFunctionCall{Name: "see", Arguments: json.RawMessage(`{}`)}},
					{Function: wireFunctionCall{Name: "click", Arguments: json.RawMessage(`{"x":1}`)}},
				},
			},
			Done:       true,
			DoneReason: "stop",
		})
	})

	msg, err := client.Generate(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(msg.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(msg.ToolCalls))
	}
	// Бэкенд id не присылает, адаптер обязан их синтезировать.
	if msg.ToolCalls[0].ID != "call_0" || msg.ToolCalls[1].ID != "call_1" {
		t.Errorf("ids = %s, %s", msg.ToolCalls[0].ID, msg.ToolCalls[1].ID)
	}
	if msg.ToolCalls[1].Args != `{"x":1}` {
		t.Errorf("args = %q", msg.ToolCalls[1].Args)
	}
}

func TestGenerateStripsDataURIFromImages(t *testing.T) {
	var got wireRequest
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(wireResponse{
			Message: wireMessage{Role: "assistant", Content: "I see a desktop"},
			Done:    true,
		})
	})

	_, err := client.Generate(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: "what do you see",
			Images:  []string{"data:image/jpeg;base64,QUJD"},
		}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(got.Messages) != 1 || len(got.Messages[0].Images) != 1 {
		t.Fatalf("request = %+v", got)
	}
	if got.Messages[0].Images[0] != "QUJD" {
		t.Errorf("image = %q, want bare base64", got.Messages[0].Images[0])
	}
}

func TestGenerateMaxTokensMapsToNumPredict(t *testing.T) {
	var got wireRequest
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(wireResponse{Message: wireMessage{Content: "ok"}, Done: true})
	})

	_, err := client.Generate(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Options:  llm.GenerateOptions{MaxTokens: 256},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Options == nil || got.Options.NumPredict != 256 {
		t.Errorf("options = %+v", got.Options)
	}
}

func TestGenerateStreamNDJSON(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("stream flag not set")
		}
		io.WriteString(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`+"\n")
		io.WriteString(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`+"\n")
		io.WriteString(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`+"\n")
	})

	stream, err := client.GenerateStream(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	defer stream.Close()

	var acc llm.Accumulator
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		acc.Apply(ev)
	}
	if acc.Text != "Hello" {
		t.Errorf("text = %q", acc.Text)
	}
	if acc.FinishReason != llm.FinishStop {
		t.Errorf("finish = %q", acc.FinishReason)
	}
}

func TestGenerateStreamDropAfterDelivery(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Поток обрывается без done:true.
		io.WriteString(w, `{"message":{"role":"assistant","content":"par"},"done":false}`+"\n")
	})

	stream, err := client.GenerateStream(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	defer stream.Close()

	ev, err := stream.Recv()
	if err != nil || ev.Kind != llm.StreamEventTextDelta {
		t.Fatalf("first event = %+v, err %v", ev, err)
	}

	ev, err = stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev.Kind != llm.StreamEventFailed || ev.Err == nil {
		t.Fatalf("expected terminal failure event, got %+v", ev)
	}
}

func TestStripDataURI(t *testing.T) {
	if got := stripDataURI("data:image/png;base64,AAAA"); got != "AAAA" {
		t.Errorf("got %q", got)
	}
	if got := stripDataURI("AAAA"); got != "AAAA" {
		t.Errorf("bare base64 changed: %q", got)
	}
}
