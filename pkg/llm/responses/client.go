// Package responses реализует адаптер для OpenAI Responses API.
//
// Responses API отличается от Chat Completions достаточно, чтобы жить
// отдельным адаптером:
//   - история передаётся как input items, system prompt — как instructions
//   - схема инструмента плоская (name/parameters на верхнем уровне item)
//   - tool call связывается с результатом через call_id,
//     результат — отдельный item function_call_output
//   - SSE события типизированы, включая reasoning summary deltas
package responses

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/ilkoid/deskpilot/pkg/config"
	"github.com/ilkoid/deskpilot/pkg/llm"
	"github.com/ilkoid/deskpilot/pkg/llm/transport"
	"github.com/ilkoid/deskpilot/pkg/tools"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client реализует llm.Provider и llm.StreamingProvider поверх Responses API.
type Client struct {
	transport *transport.Client
	model     string
	def       config.ModelDef
}

// NewClient создает клиент на основе конфигурации модели.
func NewClient(modelDef config.ModelDef) (*Client, error) {
	if modelDef.APIKey == "" {
		return nil, transport.ErrMissingCredential(modelDef.Provider)
	}

	baseURL := modelDef.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	tr := transport.New(modelDef.Provider, transport.Config{
		BaseURL:   baseURL,
		APIKey:    modelDef.APIKey,
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
	Model           string         `json:"model"`
	Instructions    string         `json:"instructions,omitempty"`
	Input           []wireItem     `json:"input"`
	Tools           []wireTool     `json:"tools,omitempty"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
	Temperature     *float64       `json:"temperature,omitempty"`
	Reasoning       *wireReasoning `json:"reasoning,omitempty"`
	Stream          bool           `json:"stream,omitempty"`
}

type wireReasoning struct {
	Effort string `json:"effort"`
}

type wireItem struct {
	Type string `json:"type"`

	// type == "message"
	Role    string        `json:"role,omitempty"`
	Content []wireContent `json:"content,omitempty"`

	// type == "function_call"
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// type == "function_call_output"
	Output string `json:"output,omitempty"`
}

type wireContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// wireTool — плоская схема инструмента Responses API.
type wireTool struct {
	Type        string           `json:"type"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  tools.JSONSchema `json:"parameters"`
}

type wireResponse struct {
	Status string     `json:"status"`
	Output []wireItem `json:"output"`
	Usage  *wireUsage `json:"usage"`
	Error  *wireError `json:"error"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type wireError struct {
	Message string `json:"message"`
}

// Generate выполняет запрос и возвращает цельный ответ.
func (c *Client) Generate(ctx context.Context, req llm.ChatRequest) (llm.Message, error) {
	startTime := time.Now()

	var resp wireResponse
	if err := c.transport.PostJSON(ctx, "/responses", c.buildRequest(req, false), &resp); err != nil {
		return llm.Message{}, err
	}
	if resp.Error != nil {
		return llm.Message{}, &llm.APIError{
			Provider: c.transport.Provider(),
			Kind:     llm.KindMalformed,
			Message:  resp.Error.Message,
		}
	}

	result := llm.Message{Role: llm.RoleAssistant}
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, content := range item.Content {
				if content.Type == "output_text" {
					result.Content += content.Text
				}
			}
		case "function_call":
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
				ID:   item.CallID,
				Name: item.Name,
				Args: item.Arguments,
			})
		}
		// reasoning items служебные, в транскрипт не попадают
	}

	utils.Info("LLM response received",
		"model", c.model,
		"status", resp.Status,
		"tool_calls_count", len(result.ToolCalls),
		"duration_ms", time.Since(startTime).Milliseconds())

	return result, nil
}

// GenerateStream выполняет запрос с потоковой передачей.
//
// Обрыв до первого доставленного события переоткрывает весь запрос,
// обрыв после — терминален (StreamEventFailed).
func (c *Client) GenerateStream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	payload := c.buildRequest(req, true)
	return c.transport.OpenStream(ctx, func() (llm.Stream, error) {
		body, err := c.transport.PostStream(ctx, "/responses", payload)
		if err != nil {
			return nil, err
		}
		return &responseStream{
			provider: c.transport.Provider(),
			body:     body,
			dec:      transport.NewSSEDecoder(body),
		}, nil
	})
}

// buildRequest собирает wire запрос из нейтрального.
func (c *Client) buildRequest(req llm.ChatRequest, stream bool) wireRequest {
	wire := wireRequest{
		Model:  c.model,
		Stream: stream,
	}
	if req.Options.MaxTokens > 0 {
		wire.MaxOutputTokens = req.Options.MaxTokens
	}

	// Нормализация: reasoning-модель получает effort вместо temperature
	if c.def.IsReasoning() {
		effort := req.Options.ReasoningEffort
		if effort == "" {
			effort = c.def.ReasoningEffort
		}
		wire.Reasoning = &wireReasoning{Effort: effort}
	} else if req.Options.Temperature != nil {
		wire.Temperature = req.Options.Temperature
	}

	for _, def := range req.Tools {
		wire.Tools = append(wire.Tools, wireTool{
			Type:        "function",
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			if wire.Instructions != "" {
				wire.Instructions += "\n\n"
			}
			wire.Instructions += m.Content
		case llm.RoleUser:
			item := wireItem{Type: "message", Role: "user"}
			if m.Content != "" {
				item.Content = append(item.Content, wireContent{Type: "input_text", Text: m.Content})
			}
			for _, img := range m.Images {
				item.Content = append(item.Content, wireContent{Type: "input_image", ImageURL: img})
			}
			wire.Input = append(wire.Input, item)
		case llm.RoleAssistant:
			if m.Content != "" {
				wire.Input = append(wire.Input, wireItem{
					Type: "message",
					Role: "assistant",
					Content: []wireContent{
						{Type: "output_text", Text: m.Content},
					},
				})
			}
			for _, tc := range m.ToolCalls {
				wire.Input = append(wire.Input, wireItem{
					Type:      "function_call",
					CallID:    tc.ID,
					Name:      tc.Name,
					Arguments: tc.Args,
				})
			}
		case llm.RoleTool:
			wire.Input = append(wire.Input, wireItem{
				Type:   "function_call_output",
				CallID: m.ToolCallID,
				Output: m.Content,
			})
		}
	}

	return wire
}

// --- стриминг ---

// wireStreamEvent — типизированное SSE событие Responses API.
type wireStreamEvent struct {
	Type        string `json:"type"`
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`

	Item     *wireItem     `json:"item"`
	Response *wireResponse `json:"response"`
}

// responseStream адаптирует типизированный SSE поток к llm.Stream.
type responseStream struct {
	provider string
	body     io.ReadCloser
	dec      *transport.SSEDecoder

	closed    bool
	done      bool
	delivered bool
	pending   []llm.StreamEvent

	// output_index → порядковый номер tool call (output содержит и
	// message, и reasoning items, их индексы надо уплотнить)
	toolIndex map[int]int
	toolCount int
}

// Recv возвращает следующее нейтральное событие.
func (s *responseStream) Recv() (llm.StreamEvent, error) {
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

		sse, err := s.dec.Next()
		if err != nil {
			if err == io.EOF {
				s.done = true
				return llm.StreamEvent{Kind: llm.StreamEventCompleted}, nil
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
		if transport.IsDone(sse) {
			s.done = true
			continue
		}

		var ev wireStreamEvent
		if err := json.Unmarshal(sse.Data, &ev); err != nil {
			return llm.StreamEvent{}, &llm.APIError{
				Provider: s.provider,
				Kind:     llm.KindMalformed,
				Message:  "failed to decode stream event",
				Cause:    err,
			}
		}

		s.consume(ev)
	}
}

// consume переводит одно wire событие в нейтральные.
func (s *responseStream) consume(ev wireStreamEvent) {
	switch ev.Type {
	case "response.output_item.added":
		if ev.Item != nil && ev.Item.Type == "function_call" {
			if s.toolIndex == nil {
				s.toolIndex = make(map[int]int)
			}
			idx := s.toolCount
			s.toolCount++
			s.toolIndex[ev.OutputIndex] = idx
			s.delivered = true
			s.pending = append(s.pending, llm.StreamEvent{
				Kind: llm.StreamEventToolCallDelta,
				ToolCallDelta: &llm.ToolCallDelta{
					Index: idx,
					ID:    ev.Item.CallID,
					Name:  ev.Item.Name,
				},
			})
		}

	case "response.output_text.delta":
		s.delivered = true
		s.pending = append(s.pending, llm.StreamEvent{
			Kind:      llm.StreamEventTextDelta,
			TextDelta: ev.Delta,
		})

	case "response.reasoning_summary_text.delta":
		s.delivered = true
		s.pending = append(s.pending, llm.StreamEvent{
			Kind:           llm.StreamEventReasoningDelta,
			ReasoningDelta: ev.Delta,
		})

	case "response.function_call_arguments.delta":
		idx, ok := s.toolIndex[ev.OutputIndex]
		if !ok {
			return
		}
		s.delivered = true
		s.pending = append(s.pending, llm.StreamEvent{
			Kind: llm.StreamEventToolCallDelta,
			ToolCallDelta: &llm.ToolCallDelta{
				Index:     idx,
				ArgsDelta: ev.Delta,
			},
		})

	case "response.completed":
		s.done = true
		finish := llm.FinishStop
		if s.toolCount > 0 {
			finish = llm.FinishToolCalls
		}
		s.pending = append(s.pending, llm.StreamEvent{
			Kind:         llm.StreamEventCompleted,
			FinishReason: finish,
		})

	case "response.failed", "error":
		s.done = true
		msg := "response failed"
		if ev.Response != nil && ev.Response.Error != nil {
			msg = ev.Response.Error.Message
		}
		s.pending = append(s.pending, llm.StreamEvent{
			Kind: llm.StreamEventFailed,
			Err: &llm.APIError{
				Provider: s.provider,
				Kind:     llm.KindNetwork,
				Message:  msg,
			},
		})
	}
	// response.created, *.done события служебные, пропускаем
}

// Close освобождает соединение.
func (s *responseStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// Проверки реализации интерфейсов
var (
	_ llm.Provider          = (*Client)(nil)
	_ llm.StreamingProvider = (*Client)(nil)
)
