// Исполнитель вызовов инструментов с валидацией аргументов и timeout защитой.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ilkoid/deskpilot/pkg/utils"
)

// DefaultToolTimeout — защитный timeout выполнения одного инструмента.
const DefaultToolTimeout = 30 * time.Second

// ToolCallRef — ссылка на вызов инструмента, пришедший от модели.
//
// Локальная копия полей llm.ToolCall: пакет tools не импортирует llm,
// чтобы llm мог ссылаться на ToolDefinition без цикла.
type ToolCallRef struct {
	ID   string
	Name string
	Args string
}

// Executor выполняет вызовы инструментов от имени цикла агента.
//
// Инструмент — внешний, потенциально медленный и падающий коллаборатор:
// Executor навешивает timeout и превращает любые сбои в ToolResult
// с IsError=true, никогда не роняя оркестратор.
//
// Rule 1: "Raw In, String Out" — на входе сырой JSON, на выходе строка.
// Rule 7: никаких panic, все сбои становятся error-результатом.
type Executor struct {
	registry *Registry

	defaultTimeout time.Duration
	toolTimeouts   map[string]time.Duration
}

// NewExecutor создаёт исполнитель поверх реестра.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{
		registry:       registry,
		defaultTimeout: DefaultToolTimeout,
	}
}

// SetDefaultTimeout устанавливает защитный timeout для всех инструментов.
//
// Вызывать до начала работы агента.
func (e *Executor) SetDefaultTimeout(timeout time.Duration) {
	if timeout > 0 {
		e.defaultTimeout = timeout
	}
}

// SetToolTimeout переопределяет timeout для конкретного инструмента.
//
// Полезно для медленных операций (например, запуск приложения).
// Вызывать до начала работы агента.
func (e *Executor) SetToolTimeout(toolName string, timeout time.Duration) {
	if e.toolTimeouts == nil {
		e.toolTimeouts = make(map[string]time.Duration)
	}
	e.toolTimeouts[toolName] = timeout
}

// Execute выполняет один вызов инструмента.
//
// Любой сбой — неизвестный инструмент, невалидные аргументы, ошибка или
// timeout исполнения — возвращается как ToolResult{IsError: true} с текстом,
// понятным модели. Ошибка как значение не возвращается намеренно: решение
// прервать цикл принимает оркестратор между вызовами, не исполнитель.
func (e *Executor) Execute(ctx context.Context, call ToolCallRef) ToolResult {
	start := time.Now()
	result := ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
	}

	// 1. Санитизируем JSON: модели любят оборачивать аргументы в markdown
	cleanArgs := utils.CleanJsonBlock(call.Args)

	// 2. Получаем tool из registry (Rule 3)
	tool, err := e.registry.Get(call.Name)
	if err != nil {
		result.IsError = true
		result.Output = fmt.Sprintf("Error: tool not found: %s", call.Name)
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	// 3. Сверяем аргументы с объявленной схемой
	if msg := checkArgs(tool.Definition(), cleanArgs); msg != "" {
		result.IsError = true
		result.Output = msg
		result.DurationMs = time.Since(start).Milliseconds()
		utils.Warn("Tool arguments rejected", "tool", call.Name, "reason", msg)
		return result
	}

	// 4. Timeout для этого инструмента
	timeout := e.defaultTimeout
	if custom, exists := e.toolTimeouts[call.Name]; exists {
		timeout = custom
	}

	// Уже начатое действие доводится до конца: отмена родительского контекста
	// не прерывает инструмент, его настоящий результат должен попасть
	// в транскрипт. Единственный способ бросить ожидание — timeout.
	toolCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	// 5. Выполняем tool в отдельной goroutine для timeout защиты
	type execResult struct {
		output string
		err    error
	}
	resultChan := make(chan execResult, 1)

	go func() {
		output, execErr := tool.Execute(toolCtx, cleanArgs)
		resultChan <- execResult{output, execErr}
	}()

	select {
	case <-toolCtx.Done():
		result.IsError = true
		result.DurationMs = time.Since(start).Milliseconds()
		result.Output = fmt.Sprintf(
			"Tool %q exceeded timeout of %v. "+
				"Either the tool is stuck or the operation is slow.",
			call.Name, timeout,
		)
		utils.Warn("Tool execution timeout",
			"tool", call.Name,
			"timeout", timeout,
			"duration_ms", result.DurationMs,
		)
		return result

	case res := <-resultChan:
		result.DurationMs = time.Since(start).Milliseconds()
		if res.err != nil {
			result.IsError = true
			result.Output = fmt.Sprintf("Error: %v", res.err)
		} else {
			result.Output, result.Images = liftImages(res.output)
		}
		return result
	}
}

// imageResultKey — поле JSON-вывода, через которое инструмент отдаёт кадр.
const imageResultKey = "image_data_uri"

// liftImages вынимает кадр из JSON-вывода инструмента.
//
// Data URI в тексте tool result модель как картинку не прочитает,
// а контекст он раздувает. Кадр поднимается в ToolResult.Images,
// в тексте остаются остальные поля. Не-JSON вывод и вывод без кадра
// возвращаются как есть.
func liftImages(output string) (string, []string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(output), &fields); err != nil {
		return output, nil
	}
	raw, ok := fields[imageResultKey]
	if !ok {
		return output, nil
	}
	var uri string
	if err := json.Unmarshal(raw, &uri); err != nil || uri == "" {
		return output, nil
	}
	delete(fields, imageResultKey)
	rest, err := json.Marshal(fields)
	if err != nil {
		return output, nil
	}
	return string(rest), []string{uri}
}

// checkArgs проверяет сырой JSON аргументов против схемы инструмента.
//
// Проверка неглубокая: JSON-объект, обязательные поля присутствуют,
// неизвестные поля отклоняются. Полную типизацию делает сам инструмент
// при json.Unmarshal в свою структуру аргументов.
//
// Возвращает пустую строку если аргументы приемлемы, иначе — текст
// с описанием ожидаемой формы для модели.
func checkArgs(def ToolDefinition, argsJSON string) string {
	if argsJSON == "" {
		argsJSON = "{}"
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return fmt.Sprintf("Error: arguments for %q must be a JSON object matching schema %s",
			def.Name, schemaHint(def))
	}

	for _, name := range requiredFields(def) {
		if _, present := args[name]; !present {
			return fmt.Sprintf("Error: missing required argument %q for tool %q; expected schema %s",
				name, def.Name, schemaHint(def))
		}
	}

	if props, ok := def.Parameters["properties"].(map[string]any); ok {
		for name := range args {
			if _, known := props[name]; !known {
				return fmt.Sprintf("Error: unknown argument %q for tool %q; expected schema %s",
					name, def.Name, schemaHint(def))
			}
		}
	}

	return ""
}

// requiredFields достаёт список обязательных полей из схемы.
//
// Схема может прийти и из json.Unmarshal ([]any), и из Go-литерала
// ([]string) — оба варианта встречаются в определениях инструментов.
func requiredFields(def ToolDefinition) []string {
	switch required := def.Parameters["required"].(type) {
	case []string:
		return required
	case []any:
		fields := make([]string, 0, len(required))
		for _, field := range required {
			if name, ok := field.(string); ok {
				fields = append(fields, name)
			}
		}
		return fields
	}
	return nil
}

// schemaHint сериализует схему параметров для сообщения об ошибке.
func schemaHint(def ToolDefinition) string {
	raw, err := json.Marshal(def.Parameters)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
