// Package events предоставляет интерфейсы для реализации Port & Adapter паттерна.
//
// Это Port (интерфейс) для подписки на события от агента автоматизации.
// Позволяет подключать любые UI (CLI, Web, логгер) без изменения библиотечной
// логики. Подписчик — чистый наблюдатель: он не влияет ни на транскрипт,
// ни на ход выполнения задачи.
//
// # Port & Adapter Pattern
//
//	Port — это интерфейс (Emitter, Subscriber), определённый в библиотеке.
//	Adapter — это реализация интерфейса для конкретного UI.
//
// # Basic Usage
//
//	emitter := events.NewChanEmitter(64)
//	runner.SetEmitter(emitter)
//
//	sub := emitter.Subscribe()
//	for event := range sub.Events() {
//	    switch event.Type {
//	    case events.EventToolCall:
//	        ui.showToolCall(event.Data)
//	    case events.EventMessage:
//	        ui.showMessage(event.Data)
//	    }
//	}
//
// # Thread Safety
//
// Все реализации интерфейсов должны быть thread-safe.
//
// # Rule 11: Context Propagation
//
// Emitter.Emit() принимает context.Context для отмены операции.
package events

import (
	"context"
	"time"
)

// EventType представляет тип события от агента.
type EventType string

const (
	// EventTaskStarted отправляется при запуске новой задачи.
	EventTaskStarted EventType = "task_started"

	// EventStepStarted отправляется перед каждым обращением к модели.
	EventStepStarted EventType = "step_started"

	// EventThinkingChunk отправляется для каждой порции reasoning-контента.
	// Используется только в streaming mode с reasoning-моделями.
	EventThinkingChunk EventType = "thinking_chunk"

	// EventMessageChunk отправляется для каждой порции текста ответа
	// в streaming mode.
	EventMessageChunk EventType = "message_chunk"

	// EventToolCall отправляется когда агент вызывает инструмент.
	EventToolCall EventType = "tool_call"

	// EventToolResult отправляется когда инструмент вернул результат.
	EventToolResult EventType = "tool_result"

	// EventMessage отправляется когда агент сгенерировал цельное сообщение.
	EventMessage EventType = "message"

	// EventError отправляется при ошибке.
	EventError EventType = "error"

	// EventDone отправляется когда задача достигла терминального статуса.
	EventDone EventType = "done"
)

// EventData — sealed interface для данных события.
//
// Только типы из пакета events могут реализовать этот интерфейс,
// что обеспечивает compile-time type safety.
type EventData interface {
	eventData()
}

// TaskStartedData содержит данные для EventTaskStarted.
type TaskStartedData struct {
	SessionID string
	Task      string
	Model     string
}

func (TaskStartedData) eventData() {}

// StepStartedData содержит данные для EventStepStarted.
type StepStartedData struct {
	Step     int
	MaxSteps int
}

func (StepStartedData) eventData() {}

// ThinkingChunkData содержит данные для EventThinkingChunk.
type ThinkingChunkData struct {
	// Chunk — инкрементальные данные (delta)
	Chunk string

	// Accumulated — накопленный reasoning-контент на данный момент
	Accumulated string
}

func (ThinkingChunkData) eventData() {}

// MessageChunkData содержит порцию текста ответа в streaming mode.
type MessageChunkData struct {
	Chunk string
}

func (MessageChunkData) eventData() {}

// ToolCallData содержит данные о вызове инструмента.
type ToolCallData struct {
	CallID   string
	ToolName string
	Args     string
}

func (ToolCallData) eventData() {}

// ToolResultData содержит результат выполнения инструмента.
type ToolResultData struct {
	CallID   string
	ToolName string
	Result   string
	IsError  bool
	Duration time.Duration
}

func (ToolResultData) eventData() {}

// MessageData содержит данные для EventMessage.
type MessageData struct {
	Content string
}

func (MessageData) eventData() {}

// ErrorData содержит данные для EventError.
type ErrorData struct {
	Err error
}

func (ErrorData) eventData() {}

// DoneData содержит данные для EventDone.
type DoneData struct {
	SessionID string
	Status    string
	Content   string
	Steps     int
}

func (DoneData) eventData() {}

// Event представляет событие от агента.
//
// Data содержит типизированные данные события (EventData).
// Для каждого EventType существует соответствующий тип данных:
//   - EventTaskStarted: TaskStartedData
//   - EventStepStarted: StepStartedData
//   - EventThinkingChunk: ThinkingChunkData
//   - EventMessageChunk: MessageChunkData
//   - EventToolCall: ToolCallData
//   - EventToolResult: ToolResultData
//   - EventMessage: MessageData
//   - EventError: ErrorData
//   - EventDone: DoneData
type Event struct {
	Type      EventType
	Data      EventData
	Timestamp time.Time
}

// Emitter — это Port для отправки событий.
//
// Emitter инвертирует зависимость: библиотека (pkg/agent) зависит
// от этого интерфейса, а не от конкретного UI.
//
// Rule 11: все операции должны уважать context.Context.
type Emitter interface {
	// Emit отправляет событие.
	//
	// Если context отменён, операция должна прерваться.
	// Медленный подписчик не должен влиять на ход задачи.
	Emit(ctx context.Context, event Event)
}

// Subscriber позволяет читать события из канала.
//
// Rule 5: thread-safe операции.
type Subscriber interface {
	// Events возвращает read-only канал событий.
	//
	// Канал закрывается при вызове Close().
	Events() <-chan Event

	// Close закрывает канал событий и освобождает ресурсы.
	Close()
}

// NopEmitter отбрасывает все события. Дефолт, когда UI не подключён.
type NopEmitter struct{}

// Emit ничего не делает.
func (NopEmitter) Emit(ctx context.Context, event Event) {}

var _ Emitter = NopEmitter{}
