// Package ollama реализует адаптер для локального inference сервера Ollama.
//
// Особенности бэкенда, которые адаптер нормализует:
//   - credential не нужен вовсе (локальный сервер)
//   - стриминг — NDJSON построчно, не SSE
//   - tool calls приходят без id; адаптер синтезирует их сам,
//     чтобы оркестратор мог сослаться на результат
//   - аргументы tool call — JSON объект, не строка
package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ilkoid/deskpilot/pkg/config"
	"github.com/ilkoid/deskpilot/pkg/llm"
	"github.com/ilkoid/deskpilot/pkg/llm/transport"
	"github.com/ilkoid/deskpilot/pkg/tools"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

const defaultBaseURL = "http://localhost:11434"

// Client реализует llm.Provider и llm.StreamingProvider для Ollama.
type Client struct {
	transport *transport.Client
	model     string
	def       config.ModelDef
}

// NewClient создает Ollama клиент на основе конфигурации модели.
//
// API ключ не требуется: локальный бэкенд без аутентификации.
func NewClient(modelDef config.ModelDef) (*Client, error) {
	baseURL := modelDef.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	tr := transport.New(modelDef.Provider, transport.Config{
		BaseURL:   baseURL,
		Timeout:   modelDef.Timeout,
		RateLimit: modelDef.RateLimit,
		Burst:     modelDef.Burst,
	})

	return &Client{
		transport: tr,
		model:     modelDef.ModelName,
		def:       modelDef,
	}, nil
}

// --- wire типы ---

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
	Options  *wireOptions  `json:"options,omitempty"`
}

type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Images    []string       `json:"images,omitempty"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  tools.JSONSchema `json:"parameters"`
}

type wireOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type wireResponse struct {
	Message    wireMessage `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason"`
}

// Generate выполняет запрос и возвращает цельный ответ.
func (c *Client) Generate(ctx context.Context, req llm.ChatRequest) (llm.Message, error) {
	startTime := time.Now()

	var resp wireResponse
	if err := c.transport.PostJSON(ctx, "/api/chat", c.buildRequest(req, false), &resp); err != nil {
		return llm.Message{}, err
	}

	result := llm.Message{
		Role:    llm.RoleAssistant,
		Content: resp.Message.Content,
	}
	for i, tc := range resp.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			// Ollama не присылает id — синтезируем стабильный в пределах хода
			ID:   fmt.Sprintf("call_%d", i),
			Name: tc.Function.Name,
			Args: string(tc.Function.Arguments),
		})
	}

	utils.Info("LLM response received",
		"model", c.model,
		"tool_calls_count", len(result.ToolCalls),
		"duration_ms", time.Since(startTime).Milliseconds())

	return result, nil
}

// GenerateStream выполняет запрос с потоковой передачей NDJSON.
//
// Обрыв до первого доставленного события переоткрывает весь запрос,
// обрыв после — терминален (StreamEventFailed).
func (c *Client) GenerateStream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	payload := c.buildRequest(req, true)
	return c.transport.OpenStream(ctx, func() (llm.Stream, error) {
		body, err := c.transport.PostStream(ctx, "/api/chat", payload)
		if err != nil {
			return nil, err
		}
		return &chatStream{
			provider: c.transport.Provider(),
			body:     body,
			scanner:  bufio.NewScanner(body),
		}, nil
	})
}

// buildRequest собирает wire запрос из нейтрального.
func (c *Client) buildRequest(req llm.ChatRequest, stream bool) wireRequest {
	wire := wireRequest{
		Model:  c.model,
		Stream: stream,
	}

	opts := &wireOptions{}
	hasOpts := false
	if !c.def.IsReasoning() && req.Options.Temperature != nil {
		opts.Temperature = req.Options.Temperature
		hasOpts = true
	}
	if req.Options.MaxTokens > 0 {
		opts.NumPredict = req.Options.MaxTokens
		hasOpts = true
	}
	if hasOpts {
		wire.Options = opts
	}

	for _, def := range req.Tools {
		wire.Tools = append(wire.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}

	for _, m := range req.Messages {
		wm := wireMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		// Ollama ждёт чистый base64 без data-uri префикса
		for _, img := range m.Images {
			wm.Images = append(wm.Images, stripDataURI(img))
		}
		for _, tc := range m.ToolCalls {
			args := json.RawMessage(tc.Args)
			if !json.Valid(args) {
				args = json.RawMessage(`{}`)
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				Function: wireFunctionCall{Name: tc.Name, Arguments: args},
			})
		}
		wire.Messages = append(wire.Messages, wm)
	}

	return wire
}

// stripDataURI убирает "data:image/png;base64," префикс если он есть.
func stripDataURI(img string) string {
	if !strings.HasPrefix(img, "data:") {
		return img
	}
	if _, payload, found := strings.Cut(img, ","); found {
		return payload
	}
	return img
}

// chatStream адаптирует NDJSON поток к llm.Stream.
type chatStream struct {
	provider string
	body     io.ReadCloser
	scanner  *bufio.Scanner

	closed    bool
	done      bool
	delivered bool
	pending   []llm.StreamEvent
	toolCount int
}

// Recv возвращает следующее нейтральное событие.
func (s *chatStream) Recv() (llm.StreamEvent, error) {
	for {
		if s.closed {
			return llm.StreamEvent{}, llm.ErrStreamClosed
		}
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return llm.StreamEvent{}, io.EOF
		}

		if !s.scanner.Scan() {
			err := s.scanner.Err()
			if err == nil {
				// EOF без done:true — сервер оборвал поток
				err = io.ErrUnexpectedEOF
			}
			if s.delivered {
				s.done = true
				return llm.StreamEvent{
					Kind: llm.StreamEventFailed,
					Err: &llm.APIError{
						Provider: s.provider,
						Kind:     llm.KindNetwork,
						Message:  "stream dropped after content was delivered",
						Cause:    err,
					},
				}, nil
			}
			return llm.StreamEvent{}, &llm.APIError{
				Provider: s.provider,
				Kind:     llm.KindNetwork,
				Message:  "stream read failed",
				Cause:    err,
			}
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		var chunk wireResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return llm.StreamEvent{}, &llm.APIError{
				Provider: s.provider,
				Kind:     llm.KindMalformed,
				Message:  "failed to decode stream chunk",
				Cause:    err,
			}
		}

		if chunk.Message.Content != "" {
			s.delivered = true
			s.pending = append(s.pending, llm.StreamEvent{
				Kind:      llm.StreamEventTextDelta,
				TextDelta: chunk.Message.Content,
			})
		}
		for _, tc := range chunk.Message.ToolCalls {
			// Стриминговые tool calls приходят целиком в одном chunk
			s.delivered = true
			idx := s.toolCount
			s.toolCount++
			s.pending = append(s.pending, llm.StreamEvent{
				Kind: llm.StreamEventToolCallDelta,
				ToolCallDelta: &llm.ToolCallDelta{
					Index:     idx,
					ID:        fmt.Sprintf("call_%d", idx),
					Name:      tc.Function.Name,
					ArgsDelta: string(tc.Function.Arguments),
				},
			})
		}
		if chunk.Done {
			s.done = true
			s.pending = append(s.pending, llm.StreamEvent{
				Kind:         llm.StreamEventCompleted,
				FinishReason: mapDoneReason(chunk.DoneReason, s.toolCount > 0),
			})
		}
	}
}

// Close освобождает соединение.
func (s *chatStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// mapDoneReason переводит done_reason в нейтральную причину.
func mapDoneReason(r string, hasToolCalls bool) llm.FinishReason {
	if hasToolCalls {
		return llm.FinishToolCalls
	}
	switch r {
	case "stop", "":
		return llm.FinishStop
	case "length":
		return llm.FinishLength
	default:
		return llm.FinishReason(r)
	}
}

// Проверки реализации интерфейсов
var (
	_ llm.Provider          = (*Client)(nil)
	_ llm.StreamingProvider = (*Client)(nil)
)
