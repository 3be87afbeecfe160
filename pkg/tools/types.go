// Интерфейс Tool и структуры определений.

package tools

import "context"

// JSONSchema представляет JSON Schema для параметров инструмента.
//
// Используется вместо interface{} для типобезопасности.
// Формат соответствует JSON Schema specification для Function Calling API.
type JSONSchema map[string]any

// ToolDefinition описывает инструмент для LLM (Function Calling API format).
//
// Immutable: регистрируется при старте и больше не меняется.
type ToolDefinition struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  JSONSchema `json:"parameters"` // JSON Schema объекта аргументов
}

// Tool — контракт, который должен реализовать любой инструмент.
type Tool interface {
	// Definition возвращает описание инструмента для LLM.
	Definition() ToolDefinition

	// Execute выполняет логику инструмента.
	// argsJSON — это сырой JSON с аргументами, который прислала LLM.
	// Возвращает результат (текст или JSON) или ошибку.
	Execute(ctx context.Context, argsJSON string) (string, error)
}

// SessionAware — инструмент, которому нужен ID текущей сессии
// (например, для ключей артефактов). Оркестратор отдаёт ID до первого
// вызова инструментов.
type SessionAware interface {
	SetSession(sessionID string)
}

// ToolResult — результат выполнения одного вызова инструмента.
//
// IsError не прерывает цикл агента: текст ошибки возвращается модели
// как tool result, и модель получает шанс скорректировать план.
type ToolResult struct {
	ToolCallID string
	Name       string
	Output     string
	IsError    bool
	DurationMs int64

	// Images — кадры, извлечённые из вывода инструмента.
	// Оркестратор доносит их до модели image-частью сообщения.
	Images []string
}
