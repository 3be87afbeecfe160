// Package openai реализует адаптер LLM провайдера для OpenAI-совместимых
// Chat Completions API.
//
// Через custom BaseURL этим же адаптером ходят Grok и другие совместимые
// бэкенды. Поддерживает Function Calling (tools), Vision запросы и стриминг.
// Соблюдает правило 4 манифеста: наружу торчит только llm.Provider.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ilkoid/deskpilot/pkg/config"
	"github.com/ilkoid/deskpilot/pkg/llm"
	"github.com/ilkoid/deskpilot/pkg/llm/transport"
	"github.com/ilkoid/deskpilot/pkg/tools"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

// Client реализует llm.Provider и llm.StreamingProvider поверх
// OpenAI-совместимого Chat Completions API.
type Client struct {
	api       *openai.Client
	model     string
	reasoning bool
	retry     transport.RetryConfig
	provider  string
}

// NewClient создает клиент на основе конфигурации модели.
//
// Правило 2: все настройки из конфигурации, никакого хардкода.
func NewClient(modelDef config.ModelDef) (*Client, error) {
	if modelDef.APIKey == "" {
		return nil, transport.ErrMissingCredential(modelDef.Provider)
	}

	cfg := openai.DefaultConfig(modelDef.APIKey)
	if modelDef.BaseURL != "" {
		cfg.BaseURL = modelDef.BaseURL
	}

	return &Client{
		api:       openai.NewClientWithConfig(cfg),
		model:     modelDef.ModelName,
		reasoning: modelDef.IsReasoning(),
		retry:     transport.DefaultRetryConfig(),
		provider:  modelDef.Provider,
	}, nil
}

// Generate выполняет запрос и возвращает цельный ответ модели.
//
// Алгоритм:
//  1. Конвертирует нейтральные сообщения в формат SDK
//  2. Нормализует параметры (reasoning-модели не получают temperature)
//  3. Вызывает API с повторами по политике транспорта
//  4. Конвертирует ответ обратно, извлекая tool calls
func (c *Client) Generate(ctx context.Context, req llm.ChatRequest) (llm.Message, error) {
	startTime := time.Now()

	utils.Debug("LLM request started",
		"provider", c.provider,
		"model", c.model,
		"messages_count", len(req.Messages),
		"tools_count", len(req.Tools),
	)

	apiReq := c.buildRequest(req)

	var resp openai.ChatCompletionResponse
	err := transport.Do(ctx, c.retry, func() error {
		var apiErr error
		resp, apiErr = c.api.CreateChatCompletion(ctx, apiReq)
		return classifyError(c.provider, apiErr)
	})
	if err != nil {
		utils.Error("LLM API request failed",
			"error", err,
			"model", c.model,
			"duration_ms", time.Since(startTime).Milliseconds())
		return llm.Message{}, err
	}

	if len(resp.Choices) == 0 {
		return llm.Message{}, &llm.APIError{
			Provider: c.provider,
			Kind:     llm.KindMalformed,
			Message:  "no choices in response",
		}
	}

	choice := resp.Choices[0].Message
	result := llm.Message{
		Role:    llm.Role(choice.Role),
		Content: choice.Content,
	}

	if len(choice.ToolCalls) > 0 {
		result.ToolCalls = make([]llm.ToolCall, len(choice.ToolCalls))
		for i, tc := range choice.ToolCalls {
			result.ToolCalls[i] = llm.ToolCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: tc.Function.Arguments,
			}
		}
	}

	utils.Info("LLM response received",
		"model", c.model,
		"tool_calls_count", len(result.ToolCalls),
		"content_length", len(result.Content),
		"duration_ms", time.Since(startTime).Milliseconds())

	return result, nil
}

// GenerateStream выполняет запрос с потоковой передачей.
//
// Обрыв до первого доставленного события переоткрывает весь запрос:
// дубликатов вывода ещё быть не может. После первой доставки обрыв
// терминален (StreamEventFailed), чтобы не дублировать уже отданное.
func (c *Client) GenerateStream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	apiReq := c.buildRequest(req)
	apiReq.Stream = true

	return transport.OpenStream(ctx, c.retry, func() (llm.Stream, error) {
		var sdkStream *openai.ChatCompletionStream
		err := transport.Do(ctx, c.retry, func() error {
			var apiErr error
			sdkStream, apiErr = c.api.CreateChatCompletionStream(ctx, apiReq)
			return classifyError(c.provider, apiErr)
		})
		if err != nil {
			return nil, err
		}
		return &chatStream{provider: c.provider, sdk: sdkStream}, nil
	})
}

// buildRequest собирает SDK запрос из нейтрального.
func (c *Client) buildRequest(req llm.ChatRequest) openai.ChatCompletionRequest {
	apiReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: mapMessages(req.Messages),
	}

	// Нормализация параметров: reasoning-модели не принимают temperature,
	// зато понимают reasoning effort. Бэкенды без поддержки effort молча
	// игнорируют неизвестное поле.
	if c.reasoning {
		if req.Options.ReasoningEffort != "" {
			apiReq.ReasoningEffort = req.Options.ReasoningEffort
		}
	} else if req.Options.Temperature != nil {
		apiReq.Temperature = float32(*req.Options.Temperature)
	}
	if req.Options.MaxTokens > 0 {
		if c.reasoning {
			apiReq.MaxCompletionTokens = req.Options.MaxTokens
		} else {
			apiReq.MaxTokens = req.Options.MaxTokens
		}
	}

	if len(req.Tools) > 0 {
		apiReq.Tools = convertTools(req.Tools)
		apiReq.ToolChoice = "auto"
	}

	return apiReq
}

// mapMessages конвертирует нейтральные сообщения в формат SDK.
func mapMessages(messages []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = mapMessage(m)
	}
	return out
}

// mapMessage конвертирует одно сообщение. Здесь происходит магия Vision:
// если есть картинки, создаем MultiContent.
func mapMessage(m llm.Message) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{
		Role: string(m.Role),
	}

	if m.Role == llm.RoleTool {
		msg.ToolCallID = m.ToolCallID
		msg.Content = m.Content
		return msg
	}

	if len(m.ToolCalls) > 0 {
		msg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			msg.ToolCalls[i] = openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Args,
				},
			}
		}
	}

	if len(m.Images) == 0 {
		msg.Content = m.Content
		return msg
	}

	parts := []openai.ChatMessagePart{
		{
			Type: openai.ChatMessagePartTypeText,
			Text: m.Content,
		},
	}
	for _, imgURL := range m.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    imgURL, // base64 data-uri или http ссылка
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	msg.MultiContent = parts
	return msg
}

// convertTools конвертирует определения инструментов в формат
// OpenAI Function Calling.
//
// ToolDefinition.Parameters уже является JSON Schema объектом,
// поэтому передаётся в SDK напрямую.
func convertTools(defs []tools.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(defs))
	for i, def := range defs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		}
	}
	return result
}

// classifyError переводит ошибки SDK в таксономию llm.APIError.
func classifyError(provider string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(provider, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(provider, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	// Ответа нет вообще — сетевой сбой
	return &llm.APIError{
		Provider: provider,
		Kind:     llm.KindNetwork,
		Message:  "request failed",
		Cause:    err,
	}
}

// classifyStatus выбирает класс ошибки по HTTP статусу.
func classifyStatus(provider string, status int, message string, cause error) error {
	ae := &llm.APIError{
		Provider:   provider,
		StatusCode: status,
		Message:    message,
		Cause:      cause,
	}
	switch {
	case status == 401 || status == 403:
		ae.Kind = llm.KindAuth
	case status == 429:
		ae.Kind = llm.KindRateLimit
	case status >= 500 || status == 408 || status == 0:
		ae.Kind = llm.KindNetwork
	default:
		ae.Kind = llm.KindBadRequest
	}
	return ae
}

// chatStream адаптирует SDK стрим к нейтральному llm.Stream.
type chatStream struct {
	provider string
	sdk      *openai.ChatCompletionStream

	closed    bool
	done      bool
	delivered bool // получен хотя бы один content delta
	pending   []llm.StreamEvent
}

// Recv возвращает следующее нейтральное событие стрима.
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

		chunk, err := s.sdk.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return llm.StreamEvent{Kind: llm.StreamEventCompleted}, nil
			}
			// Обрыв после доставленного контента терминален:
			// повтор запроса продублировал бы уже отданный вывод.
			if s.delivered {
				s.done = true
				return llm.StreamEvent{
					Kind: llm.StreamEventFailed,
					Err:  classifyError(s.provider, err),
				}, nil
			}
			return llm.StreamEvent{}, classifyError(s.provider, err)
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				s.delivered = true
				s.pending = append(s.pending, llm.StreamEvent{
					Kind:      llm.StreamEventTextDelta,
					TextDelta: choice.Delta.Content,
				})
			}
			if choice.Delta.ReasoningContent != "" {
				s.delivered = true
				s.pending = append(s.pending, llm.StreamEvent{
					Kind:           llm.StreamEventReasoningDelta,
					ReasoningDelta: choice.Delta.ReasoningContent,
				})
			}
			for _, tc := range choice.Delta.ToolCalls {
				s.delivered = true
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				s.pending = append(s.pending, llm.StreamEvent{
					Kind: llm.StreamEventToolCallDelta,
					ToolCallDelta: &llm.ToolCallDelta{
						Index:     idx,
						ID:        tc.ID,
						Name:      tc.Function.Name,
						ArgsDelta: tc.Function.Arguments,
					},
				})
			}
			if choice.FinishReason != "" {
				s.pending = append(s.pending, llm.StreamEvent{
					Kind:         llm.StreamEventCompleted,
					FinishReason: mapFinishReason(choice.FinishReason),
				})
				s.done = true
			}
		}
		// Пустой chunk (например, роль без контента) — читаем следующий
	}
}

// Close освобождает соединение стрима.
func (s *chatStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sdk.Close()
}

// mapFinishReason переводит причину завершения SDK в нейтральную.
func mapFinishReason(r openai.FinishReason) llm.FinishReason {
	switch r {
	case openai.FinishReasonStop:
		return llm.FinishStop
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return llm.FinishToolCalls
	case openai.FinishReasonLength:
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
