// Package session хранит состояние задач агента между запусками.
//
// Сессия — это транскрипт одной задачи плюс её статус. Хранилище
// абстрагировано интерфейсом Store: SQLite для продакшена, память
// для тестов.
//
// Rule 5: Thread-safe реализации Store.
// Rule 7: Все ошибки возвращаются, никаких panic.
// Rule 11: Все операции хранилища принимают context.Context.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ilkoid/deskpilot/pkg/llm"
)

// Status — статус жизненного цикла сессии.
type Status string

const (
	// StatusRunning — задача выполняется или прервана без терминального
	// статуса (например, процесс упал). Такую сессию можно возобновить.
	StatusRunning Status = "running"

	// StatusCompleted — модель завершила задачу финальным сообщением.
	StatusCompleted Status = "completed"

	// StatusFailed — задача остановлена фатальной ошибкой или лимитом шагов.
	StatusFailed Status = "failed"

	// StatusCancelled — задача отменена пользователем.
	StatusCancelled Status = "cancelled"
)

// IsTerminal сообщает, является ли статус конечным.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ErrNotFound — сессия с таким ID отсутствует в хранилище.
var ErrNotFound = errors.New("session not found")

// ErrTerminal — попытка изменить статус завершённой сессии.
//
// Терминальный статус монотонен: completed не может стать failed.
var ErrTerminal = errors.New("session already in terminal status")

// Session — одна задача агента: транскрипт, статус, счётчик шагов.
//
// Структура не thread-safe сама по себе: за конкурентный доступ
// отвечает владелец (оркестратор держит сессию в одной горутине).
type Session struct {
	ID        string        `json:"id"`
	Task      string        `json:"task"`
	Model     string        `json:"model"`
	Status    Status        `json:"status"`
	StepCount int           `json:"step_count"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Transcript []llm.Message `json:"transcript"`
}

// New создаёт новую сессию в статусе running.
func New(task, model string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        newID(),
		Task:      task,
		Model:     model,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// newID генерирует случайный идентификатор сессии.
func newID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand не отказывает на поддерживаемых платформах
		return fmt.Sprintf("s-%d", time.Now().UnixNano())
	}
	return "s-" + hex.EncodeToString(buf)
}

// Append добавляет сообщение в транскрипт.
func (s *Session) Append(msg llm.Message) {
	s.Transcript = append(s.Transcript, msg)
	s.UpdatedAt = time.Now().UTC()
}

// SetStatus переводит сессию в новый статус.
//
// Терминальный статус менять нельзя: повторный перевод возвращает
// ErrTerminal, кроме идемпотентного перевода в тот же статус.
func (s *Session) SetStatus(next Status) error {
	if s.Status.IsTerminal() {
		if s.Status == next {
			return nil
		}
		return fmt.Errorf("%w: %s -> %s", ErrTerminal, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Summary — лёгкое описание сессии для списков.
//
// Транскрипт не включён: List не должен тянуть тяжёлые данные.
type Summary struct {
	ID        string
	Task      string
	Model     string
	Status    Status
	StepCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store — хранилище сессий.
//
// Rule 5: Реализации thread-safe.
// Rule 11: Все методы принимают context.Context.
type Store interface {
	// Save атомарно сохраняет сессию целиком (upsert).
	Save(ctx context.Context, s *Session) error

	// Load загружает сессию по ID. Отсутствие — ErrNotFound.
	Load(ctx context.Context, id string) (*Session, error)

	// Delete удаляет сессию. Отсутствие — ErrNotFound.
	Delete(ctx context.Context, id string) error

	// List возвращает сводки всех сессий, свежие первыми.
	List(ctx context.Context) ([]Summary, error)

	// Close освобождает ресурсы хранилища.
	Close() error
}
