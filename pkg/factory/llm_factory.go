// Package factory создает LLM провайдеры по типу из конфигурации.
package factory

import (
	"fmt"

	"github.com/ilkoid/deskpilot/pkg/config"
	"github.com/ilkoid/deskpilot/pkg/llm"
	"github.com/ilkoid/deskpilot/pkg/llm/anthropic"
	"github.com/ilkoid/deskpilot/pkg/llm/ollama"
	"github.com/ilkoid/deskpilot/pkg/llm/openai"
	"github.com/ilkoid/deskpilot/pkg/llm/responses"
)

// NewLLMProvider создает провайдера на основе конфигурации модели.
//
// Тип провайдера выбирает wire-протокол, не вендора: "grok" и "deepseek"
// ходят по Chat Completions и отличаются только base_url.
func NewLLMProvider(modelDef config.ModelDef) (llm.Provider, error) {
	switch modelDef.Provider {
	case "openai", "grok", "deepseek":
		return openai.NewClient(modelDef)

	case "openai-responses":
		return responses.NewClient(modelDef)

	case "anthropic":
		return anthropic.NewClient(modelDef)

	case "ollama":
		return ollama.NewClient(modelDef)

	default:
		return nil, fmt.Errorf("unknown provider type: %s", modelDef.Provider)
	}
}
