// Package anthropic реализует адаптер для Anthropic Messages API.
//
// Отличия wire-формата от OpenAI, которые адаптер прячет за llm.Provider:
//   - system prompt — отдельный top-level параметр, не сообщение
//   - tool calls и результаты — content блоки внутри сообщений
//   - схема инструмента лежит в input_schema (flat), не в function.parameters
//   - SSE события типизированы (content_block_delta, message_stop и т.д.)
package anthropic

import (
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

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"

	// Messages API требует max_tokens всегда
	defaultMaxTokens = 4096
)

// Client реализует llm.Provider и llm.StreamingProvider для Anthropic.
type Client struct {
	transport *transport.Client
	model     string
	def       config.ModelDef
}

// NewClient создает Anthropic клиент на основе конфигурации модели.
func NewClient(modelDef config.ModelDef) (*Client, error) {
	if modelDef.APIKey == "" {
		return nil, transport.ErrMissingCredential(modelDef.Provider)
	}

	baseURL := modelDef.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	tr := transport.New(modelDef.Provider, transport.Config{
		BaseURL:    baseURL,
		APIKey:     modelDef.APIKey,
		AuthHeader: "x-api-key",
		ExtraHeaders: map[string]string{
			"anthropic-version": apiVersion,
		},
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
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	// Дробная температура опциональна; penalty/stop-sequence настройки
	// у нас не представлены вовсе, поэтому "молча отбрасывать" нечего
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "image"
	Source *wireImageSource `json:"source,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type wireImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type wireTool struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema tools.JSONSchema `json:"input_schema"`
}

type wireResponse struct {
	Content    []wireBlock `json:"content"`
	StopReason string      `json:"stop_reason"`
	Usage      *wireUsage  `json:"usage"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Generate выполняет запрос и возвращает цельный ответ.
func (c *Client) Generate(ctx context.Context, req llm.ChatRequest) (llm.Message, error) {
	startTime := time.Now()

	var resp wireResponse
	if err := c.transport.PostJSON(ctx, "/messages", c.buildRequest(req, false), &resp); err != nil {
		return llm.Message{}, err
	}

	result := llm.Message{Role: llm.RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: string(block.Input),
			})
		}
	}

	utils.Info("LLM response received",
		"model", c.model,
		"stop_reason", resp.StopReason,
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
		body, err := c.transport.PostStream(ctx, "/messages", payload)
		if err != nil {
			return nil, err
		}
		return &messageStream{
			provider: c.transport.Provider(),
			body:     body,
			dec:      transport.NewSSEDecoder(body),
		}, nil
	})
}

// buildRequest собирает wire запрос из нейтрального.
func (c *Client) buildRequest(req llm.ChatRequest, stream bool) wireRequest {
	wire := wireRequest{
		Model:     c.model,
		MaxTokens: defaultMaxTokens,
		Stream:    stream,
	}
	if req.Options.MaxTokens > 0 {
		wire.MaxTokens = req.Options.MaxTokens
	}
	// Reasoning-класс не получает temperature
	if !c.def.IsReasoning() && req.Options.Temperature != nil {
		wire.Temperature = req.Options.Temperature
	}

	for _, def := range req.Tools {
		wire.Tools = append(wire.Tools, wireTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Parameters,
		})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			// System — top-level параметр; несколько system сообщений склеиваются
			if wire.System != "" {
				wire.System += "\n\n"
			}
			wire.System += m.Content
		case llm.RoleUser:
			appendUserBlocks(&wire, userBlocks(m))
		case llm.RoleAssistant:
			wire.Messages = append(wire.Messages, wireMessage{
				Role:    "assistant",
				Content: assistantBlocks(m),
			})
		case llm.RoleTool:
			// Tool result — это user сообщение с tool_result блоком
			appendUserBlocks(&wire, []wireBlock{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
				IsError:   m.IsError,
			}})
		}
	}

	return wire
}

// appendUserBlocks добавляет блоки в user сообщение.
//
// Messages API требует чередования ролей: подряд идущие user сообщения
// транскрипта (tool result и следующий за ним кадр) складываются
// в один user ход.
func appendUserBlocks(wire *wireRequest, blocks []wireBlock) {
	if n := len(wire.Messages); n > 0 && wire.Messages[n-1].Role == "user" {
		wire.Messages[n-1].Content = append(wire.Messages[n-1].Content, blocks...)
		return
	}
	wire.Messages = append(wire.Messages, wireMessage{Role: "user", Content: blocks})
}

// userBlocks собирает content блоки user сообщения (текст + картинки).
func userBlocks(m llm.Message) []wireBlock {
	blocks := []wireBlock{}
	if m.Content != "" {
		blocks = append(blocks, wireBlock{Type: "text", Text: m.Content})
	}
	for _, img := range m.Images {
		mediaType, data, ok := parseDataURI(img)
		if !ok {
			// http ссылки Messages API не принимает; пропускаем с warning
			utils.Warn("Skipping non-data-uri image for anthropic", "image", truncate(img, 64))
			continue
		}
		blocks = append(blocks, wireBlock{
			Type: "image",
			Source: &wireImageSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      data,
			},
		})
	}
	if len(blocks) == 0 {
		blocks = append(blocks, wireBlock{Type: "text", Text: ""})
	}
	return blocks
}

// assistantBlocks собирает content блоки assistant сообщения (текст + tool_use).
func assistantBlocks(m llm.Message) []wireBlock {
	blocks := []wireBlock{}
	if m.Content != "" {
		blocks = append(blocks, wireBlock{Type: "text", Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		input := json.RawMessage(tc.Args)
		if !json.Valid(input) {
			input = json.RawMessage(`{}`)
		}
		blocks = append(blocks, wireBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: input,
		})
	}
	return blocks
}

// parseDataURI разбирает "data:image/png;base64,AAAA" на media type и данные.
func parseDataURI(uri string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, "data:")
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType = strings.TrimSuffix(meta, ";base64")
	if mediaType == meta {
		// Не base64 — Messages API такое не принимает
		return "", "", false
	}
	return mediaType, payload, true
}

// truncate обрезает строку для логов.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// --- стриминг ---

// wireStreamEvent — одно типизированное SSE событие Messages API.
type wireStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock *wireBlock `json:"content_block"`

	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		Thinking    string `json:"thinking"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`

	Usage *wireUsage `json:"usage"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// messageStream адаптирует типизированный SSE поток к llm.Stream.
type messageStream struct {
	provider string
	body     io.ReadCloser
	dec      *transport.SSEDecoder

	closed    bool
	done      bool
	delivered bool
	pending   []llm.StreamEvent

	// Соответствие anthropic block index → порядковый номер tool call.
	// Text блоки индексы тоже занимают, аккумулятору нужен плотный ряд.
	toolIndex map[int]int
	toolCount int
}

// Recv возвращает следующее нейтральное событие.
func (s *messageStream) Recv() (llm.StreamEvent, error) {
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
				// Нормальное завершение — message_stop уже должен был прийти
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

// consume переводит одно wire событие в нейтральные события.
func (s *messageStream) consume(ev wireStreamEvent) {
	switch ev.Type {
	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			if s.toolIndex == nil {
				s.toolIndex = make(map[int]int)
			}
			idx := s.toolCount
			s.toolCount++
			s.toolIndex[ev.Index] = idx
			s.delivered = true
			s.pending = append(s.pending, llm.StreamEvent{
				Kind: llm.StreamEventToolCallDelta,
				ToolCallDelta: &llm.ToolCallDelta{
					Index: idx,
					ID:    ev.ContentBlock.ID,
					Name:  ev.ContentBlock.Name,
				},
			})
		}

	case "content_block_delta":
		switch ev.Delta.Type {
		case "text_delta":
			s.delivered = true
			s.pending = append(s.pending, llm.StreamEvent{
				Kind:      llm.StreamEventTextDelta,
				TextDelta: ev.Delta.Text,
			})
		case "thinking_delta":
			s.delivered = true
			s.pending = append(s.pending, llm.StreamEvent{
				Kind:           llm.StreamEventReasoningDelta,
				ReasoningDelta: ev.Delta.Thinking,
			})
		case "input_json_delta":
			idx, ok := s.toolIndex[ev.Index]
			if !ok {
				return
			}
			s.delivered = true
			s.pending = append(s.pending, llm.StreamEvent{
				Kind: llm.StreamEventToolCallDelta,
				ToolCallDelta: &llm.ToolCallDelta{
					Index:     idx,
					ArgsDelta: ev.Delta.PartialJSON,
				},
			})
		}

	case "message_delta":
		if ev.Delta.StopReason != "" {
			s.pending = append(s.pending, llm.StreamEvent{
				Kind:         llm.StreamEventCompleted,
				FinishReason: mapStopReason(ev.Delta.StopReason),
			})
		}

	case "message_stop":
		s.done = true

	case "error":
		s.done = true
		msg := "stream error"
		if ev.Error != nil {
			msg = ev.Error.Message
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
	// message_start, content_block_stop, ping — служебные, пропускаем
}

// Close освобождает соединение.
func (s *messageStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// mapStopReason переводит stop_reason в нейтральную причину.
func mapStopReason(r string) llm.FinishReason {
	switch r {
	case "end_turn", "stop_sequence":
		return llm.FinishStop
	case "tool_use":
		return llm.FinishToolCalls
	case "max_tokens":
		return llm.FinishLength
	default:
		return llm.FinishReason(fmt.Sprintf("%v", r))
	}
}

// Проверки реализации интерфейсов
var (
	_ llm.Provider          = (*Client)(nil)
	_ llm.StreamingProvider = (*Client)(nil)
)
