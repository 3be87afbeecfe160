// Package agent реализует цикл выполнения задачи: модель решает,
// инструменты действуют, транскрипт растёт до терминального статуса.
package agent

import (
	"errors"

	"github.com/ilkoid/deskpilot/pkg/session"
)

// ErrStepLimit — цикл исчерпал лимит обращений к модели.
//
// Задача при этом переходит в failed: незавершённая автоматизация
// рабочего стола опаснее честного отказа.
var ErrStepLimit = errors.New("step limit exceeded")

// ErrSessionTerminal — попытка возобновить завершённую сессию.
var ErrSessionTerminal = errors.New("session is already terminal")

// Result — итог выполнения задачи.
type Result struct {
	SessionID string
	Status    session.Status

	// FinalMessage — последний текстовый ответ модели.
	// Пустой, если задача оборвалась до финального сообщения.
	FinalMessage string

	// Steps — сколько обращений к модели было сделано.
	Steps int
}
