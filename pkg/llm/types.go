// Базовые типы - универсальный язык общения с моделями.
//
// Все провайдеры (OpenAI, Anthropic, Ollama и т.д.) конвертируют свои wire-форматы
// в эти нейтральные типы и обратно. Оркестратор работает только с ними.
package llm

// Role — роль сообщения в диалоге.
type Role string

// Константы ролей.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message — одно сообщение диалога.
//
// Хронология сообщений (transcript) append-only: созданное сообщение
// никогда не мутируется и не переупорядочивается.
type Message struct {
	Role Role

	// Content — текстовое содержимое сообщения.
	Content string

	// Images — изображения для vision запросов (base64 data-uri или http ссылка).
	// Заполняется только для RoleUser.
	Images []string

	// ToolCalls — запросы вызова инструментов от модели.
	// Заполняется только для RoleAssistant.
	ToolCalls []ToolCall

	// ToolCallID — id вызова, на который отвечает это сообщение.
	// Заполняется только для RoleTool.
	ToolCallID string

	// IsError — true если инструмент завершился ошибкой.
	// Модель видит текст ошибки в Content и может скорректировать план.
	IsError bool
}

// ToolCall — запрос модели на вызов инструмента.
//
// ID уникален в пределах одного хода и потребляется исполнителем ровно один раз.
type ToolCall struct {
	ID   string
	Name string
	Args string // сырой JSON аргументов
}

// FinishReason — причина завершения генерации.
type FinishReason string

// Причины завершения в нейтральном формате.
const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
)

// Usage — статистика расхода токенов за один запрос.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
