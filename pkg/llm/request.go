// Package llm provides options pattern for LLM generation parameters.
//
// Options can be set from config.yaml at initialization and overridden at
// runtime by the caller.
package llm

import "github.com/ilkoid/deskpilot/pkg/tools"

// ChatRequest — унифицированный запрос к любой модели.
//
// Конструирование запроса никогда не мутирует transcript, из которого он собран:
// Messages — это ссылка на уже добавленные (immutable) сообщения.
type ChatRequest struct {
	// Messages — история диалога в порядке добавления.
	Messages []Message

	// Tools — определения инструментов, доступных модели.
	// Адаптер сам переводит их в wire-формат бэкенда.
	Tools []tools.ToolDefinition

	// Options — параметры генерации.
	Options GenerateOptions
}

// GenerateOptions holds parameters for LLM generation.
type GenerateOptions struct {
	// Temperature controls randomness. nil means "not set": reasoning-class
	// models must not receive a temperature at all, so absence is meaningful.
	Temperature *float64

	// MaxTokens limits the response length. 0 means provider default.
	MaxTokens int

	// ReasoningEffort is one of "low", "medium", "high". Only meaningful for
	// reasoning-class models; adapters ignore it otherwise.
	ReasoningEffort string

	// Stream requests incremental delivery when the provider supports it.
	Stream bool
}

// GenerateOption is a functional option for configuring GenerateOptions.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = &temp
	}
}

// WithMaxTokens sets the maximum tokens for generation.
func WithMaxTokens(tokens int) GenerateOption {
	return func(o *GenerateOptions) {
		o.MaxTokens = tokens
	}
}

// WithReasoningEffort sets the reasoning effort for reasoning-class models.
func WithReasoningEffort(effort string) GenerateOption {
	return func(o *GenerateOptions) {
		o.ReasoningEffort = effort
	}
}

// WithStream enables or disables streaming delivery.
func WithStream(enabled bool) GenerateOption {
	return func(o *GenerateOptions) {
		o.Stream = enabled
	}
}

// ApplyOptions собирает GenerateOptions из функциональных опций поверх базы.
func ApplyOptions(base GenerateOptions, opts ...GenerateOption) GenerateOptions {
	for _, opt := range opts {
		opt(&base)
	}
	return base
}
