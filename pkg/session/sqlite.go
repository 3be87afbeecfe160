package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ilkoid/deskpilot/pkg/llm"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

// SQLiteStore — хранилище сессий в локальном SQLite файле.
//
// Транскрипт сериализуется в JSON колонку: сессий немного, читаются
// они целиком, реляционная раскладка сообщений не окупается.
//
// Rule 5: database/sql сам thread-safe, дополнительный мьютекс не нужен.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	task       TEXT NOT NULL,
	model      TEXT NOT NULL,
	status     TEXT NOT NULL,
	step_count INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	transcript TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
`

// NewSQLiteStore открывает (или создаёт) базу по указанному пути.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// busy_timeout спасает от SQLITE_BUSY при конкурентных процессах
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open session db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init session schema: %w", err)
	}

	utils.Debug("Session store opened", "path", path)
	return &SQLiteStore{db: db}, nil
}

// Save атомарно сохраняет сессию целиком.
//
// Upsert выполняется одним стейтментом: читатель никогда не видит
// сессию с новым статусом и старым транскриптом.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	transcript, err := json.Marshal(sess.Transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, task, model, status, step_count, error, transcript, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task = excluded.task,
			model = excluded.model,
			status = excluded.status,
			step_count = excluded.step_count,
			error = excluded.error,
			transcript = excluded.transcript,
			updated_at = excluded.updated_at`,
		sess.ID, sess.Task, sess.Model, string(sess.Status), sess.StepCount,
		sess.Error, string(transcript), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save session '%s': %w", sess.ID, err)
	}
	return nil
}

// Load загружает сессию по ID.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task, model, status, step_count, error, transcript, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var (
		sess       Session
		status     string
		transcript string
	)
	err := row.Scan(&sess.ID, &sess.Task, &sess.Model, &status, &sess.StepCount,
		&sess.Error, &transcript, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: '%s'", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session '%s': %w", id, err)
	}

	sess.Status = Status(status)
	if err := json.Unmarshal([]byte(transcript), &sess.Transcript); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript of '%s': %w", id, err)
	}
	if sess.Transcript == nil {
		sess.Transcript = []llm.Message{}
	}
	return &sess, nil
}

// Delete удаляет сессию по ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session '%s': %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: '%s'", ErrNotFound, id)
	}
	return nil
}

// List возвращает сводки всех сессий, свежие первыми.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task, model, status, step_count, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var result []Summary
	for rows.Next() {
		var (
			sum    Summary
			status string
		)
		if err := rows.Scan(&sum.ID, &sum.Task, &sum.Model, &status,
			&sum.StepCount, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, err
		}
		sum.Status = Status(status)
		result = append(result, sum)
	}
	return result, rows.Err()
}

// Close закрывает базу.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PruneOlderThan удаляет терминальные сессии старше указанной давности.
//
// Возвращает количество удалённых. Running сессии не трогаются.
func (s *SQLiteStore) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE status != ? AND updated_at < ?`,
		string(StatusRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return res.RowsAffected()
}

var _ Store = (*SQLiteStore)(nil)
