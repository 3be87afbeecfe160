// Потоковая передача: события стрима и аккумулятор для их сборки.

package llm

import (
	"encoding/json"
	"errors"
	"io"
)

// Stream отдаёт StreamEvent до io.EOF.
//
// Реализации возвращают io.EOF после нормального завершения потока.
// Stream не перезапускаемый: после io.EOF или ошибки новых событий не будет.
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// StreamEventKind — тип потокового события.
type StreamEventKind string

// Виды событий стрима.
const (
	StreamEventTextDelta      StreamEventKind = "text_delta"
	StreamEventReasoningDelta StreamEventKind = "reasoning_delta"
	StreamEventToolCallDelta  StreamEventKind = "tool_call_delta"
	StreamEventCompleted      StreamEventKind = "completed"
	StreamEventFailed         StreamEventKind = "failed"
)

// ToolCallDelta — инкрементальный фрагмент вызова инструмента.
//
// Фрагменты одного Index конкатенируются в порядке прихода;
// полный ToolCall собирается только при завершении стрима.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	ArgsDelta string
}

// StreamEvent — одно событие потокового ответа.
type StreamEvent struct {
	Kind StreamEventKind

	TextDelta      string
	ReasoningDelta string
	ToolCallDelta  *ToolCallDelta

	// Заполняются при Kind == StreamEventCompleted.
	FinishReason FinishReason
	Usage        *Usage

	// Err заполнен при Kind == StreamEventFailed: соединение оборвалось
	// после того как часть контента уже доставлена, повтор запроса небезопасен.
	Err error
}

// ErrStreamClosed возвращается из Recv() после Close().
var ErrStreamClosed = errors.New("llm: stream closed")

// Accumulator собирает финальное assistant сообщение из потока событий.
//
// Tool call фрагменты накапливаются по индексу и превращаются в полные
// ToolCall только в FinalMessage() — частичный вызов никогда не исполняется.
type Accumulator struct {
	Text         string
	Reasoning    string
	FinishReason FinishReason
	Usage        *Usage

	toolCalls []ToolCall
}

// Apply применяет одно событие к аккумулятору.
func (a *Accumulator) Apply(ev StreamEvent) {
	switch ev.Kind {
	case StreamEventTextDelta:
		a.Text += ev.TextDelta
	case StreamEventReasoningDelta:
		a.Reasoning += ev.ReasoningDelta
	case StreamEventToolCallDelta:
		if ev.ToolCallDelta == nil {
			return
		}
		idx := ev.ToolCallDelta.Index
		for len(a.toolCalls) <= idx {
			a.toolCalls = append(a.toolCalls, ToolCall{})
		}
		tc := &a.toolCalls[idx]
		if ev.ToolCallDelta.ID != "" {
			tc.ID = ev.ToolCallDelta.ID
		}
		if ev.ToolCallDelta.Name != "" {
			tc.Name = ev.ToolCallDelta.Name
		}
		tc.Args += ev.ToolCallDelta.ArgsDelta
	case StreamEventCompleted:
		if ev.FinishReason != "" {
			a.FinishReason = ev.FinishReason
		}
		if ev.Usage != nil {
			cpy := *ev.Usage
			a.Usage = &cpy
		}
	}
}

// FinalMessage возвращает собранное assistant сообщение.
//
// Tool calls с невалидным JSON аргументов не отбрасываются — валидацию
// делает исполнитель инструментов и возвращает модели описание ошибки.
func (a *Accumulator) FinalMessage() Message {
	msg := Message{Role: RoleAssistant, Content: a.Text}
	if len(a.toolCalls) > 0 {
		msg.ToolCalls = append([]ToolCall(nil), a.toolCalls...)
	}
	return msg
}

// DrainStream вычитывает стрим целиком и возвращает финальное сообщение.
//
// Используется когда провайдер умеет только стримить, а вызывающему нужен
// цельный ответ. Событие Failed превращается в ошибку.
func DrainStream(stream Stream) (Message, error) {
	defer stream.Close()

	var acc Accumulator
	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Message{}, err
		}
		if ev.Kind == StreamEventFailed {
			return Message{}, ev.Err
		}
		acc.Apply(ev)
	}
	return acc.FinalMessage(), nil
}

// ValidToolCallArgs проверяет что аргументы вызова — валидный JSON объект.
func ValidToolCallArgs(tc ToolCall) bool {
	return json.Valid([]byte(tc.Args))
}
