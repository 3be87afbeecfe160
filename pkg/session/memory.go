package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ilkoid/deskpilot/pkg/llm"
)

// MemoryStore — хранилище сессий в памяти.
//
// Используется в тестах и как fallback, когда база недоступна.
//
// Rule 5: Thread-safe через sync.RWMutex.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

// Save сохраняет глубокую копию сессии.
//
// Копия нужна, чтобы дальнейшие правки вызывающего не просачивались
// в хранилище без Save, как и в любом внешнем хранилище.
func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

// Load возвращает глубокую копию сессии.
func (m *MemoryStore) Load(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrNotFound, id)
	}
	return cloneSession(s), nil
}

// Delete удаляет сессию.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: '%s'", ErrNotFound, id)
	}
	delete(m.sessions, id)
	return nil
}

// List возвращает сводки, свежие первыми.
func (m *MemoryStore) List(ctx context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, Summary{
			ID:        s.ID,
			Task:      s.Task,
			Model:     s.Model,
			Status:    s.Status,
			StepCount: s.StepCount,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// Close ничего не делает.
func (m *MemoryStore) Close() error { return nil }

func cloneSession(s *Session) *Session {
	clone := *s
	clone.Transcript = make([]llm.Message, len(s.Transcript))
	copy(clone.Transcript, s.Transcript)
	return &clone
}

var _ Store = (*MemoryStore)(nil)
