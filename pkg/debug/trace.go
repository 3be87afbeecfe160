// Package debug записывает трейс выполнения задачи в JSON файл.
//
// Трейс строится из потока событий агента и сохраняется для
// последующего анализа: какие инструменты вызывались, сколько времени
// занял каждый шаг, чем задача закончилась.
package debug

import "time"

// Trace — полный трейс выполнения одной задачи.
type Trace struct {
	// SessionID — идентификатор сессии (используется в имени файла).
	SessionID string `json:"session_id"`

	// Task — исходная задача пользователя.
	Task string `json:"task"`

	// Model — имя модели из события старта.
	Model string `json:"model"`

	// StartedAt — время начала записи.
	StartedAt time.Time `json:"started_at"`

	// DurationMS — общая длительность выполнения в миллисекундах.
	DurationMS int64 `json:"duration_ms"`

	// Steps — шаги цикла агента.
	Steps []Step `json:"steps"`

	// Summary — агрегированная статистика.
	Summary Summary `json:"summary"`

	// Status — финальный статус задачи.
	Status string `json:"status,omitempty"`

	// FinalResult — финальный текстовый ответ.
	FinalResult string `json:"final_result,omitempty"`
}

// Step — один шаг цикла: обращение к модели и выполненные инструменты.
type Step struct {
	// Number — номер шага, начиная с 1.
	Number int `json:"step"`

	// Message — текстовый ответ модели на этом шаге.
	Message string `json:"message,omitempty"`

	// Tools — инструменты, выполненные на этом шаге.
	Tools []ToolExecution `json:"tools,omitempty"`
}

// ToolExecution — один вызов инструмента.
type ToolExecution struct {
	// CallID — идентификатор вызова из ответа модели.
	CallID string `json:"call_id,omitempty"`

	// Name — имя инструмента.
	Name string `json:"name"`

	// Args — аргументы вызова.
	Args string `json:"args,omitempty"`

	// Result — результат (может быть обрезан по maxResultSize).
	Result string `json:"result,omitempty"`

	// ResultTruncated — true если результат был обрезан.
	ResultTruncated bool `json:"result_truncated,omitempty"`

	// DurationMS — длительность выполнения в миллисекундах.
	DurationMS int64 `json:"duration_ms"`

	// IsError — инструмент вернул ошибку.
	IsError bool `json:"is_error,omitempty"`
}

// Summary — агрегированная статистика выполнения.
type Summary struct {
	// ModelCalls — количество шагов (обращений к модели).
	ModelCalls int `json:"model_calls"`

	// ToolsExecuted — общее количество выполненных инструментов.
	ToolsExecuted int `json:"tools_executed"`

	// ToolErrors — сколько вызовов завершилось ошибкой инструмента.
	ToolErrors int `json:"tool_errors,omitempty"`

	// ToolDurationMS — суммарное время инструментов в миллисекундах.
	ToolDurationMS int64 `json:"tool_duration_ms"`

	// VisitedTools — уникальные инструменты в порядке первого вызова.
	VisitedTools []string `json:"visited_tools,omitempty"`

	// Errors — ошибки выполнения.
	Errors []string `json:"errors,omitempty"`
}
