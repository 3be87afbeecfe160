package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ilkoid/deskpilot/pkg/events"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

// defaultMaxResultSize ограничивает размер результата инструмента в трейсе.
// Скриншоты в base64 раздувают файл до сотен мегабайт без этого лимита.
const defaultMaxResultSize = 4096

// Recorder накапливает трейс выполнения из событий агента.
//
// Rule 5: thread-safe — события могут приходить из разных goroutine.
type Recorder struct {
	mu sync.Mutex

	dir           string
	maxResultSize int

	trace   Trace
	current *Step
	visited map[string]struct{}
	started time.Time
}

// NewRecorder создаёт рекордер. dir — каталог для файла трейса,
// пустой — текущий каталог.
func NewRecorder(dir string) *Recorder {
	return &Recorder{
		dir:           dir,
		maxResultSize: defaultMaxResultSize,
		visited:       make(map[string]struct{}),
	}
}

// SetMaxResultSize меняет лимит размера результата инструмента.
func (r *Recorder) SetMaxResultSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxResultSize = n
}

// Record обрабатывает одно событие агента.
func (r *Recorder) Record(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch data := event.Data.(type) {
	case events.TaskStartedData:
		r.trace.SessionID = data.SessionID
		r.trace.Task = data.Task
		r.trace.Model = data.Model
		r.trace.StartedAt = event.Timestamp
		r.started = event.Timestamp

	case events.StepStartedData:
		r.flushStep()
		r.current = &Step{Number: data.Step}
		r.trace.Summary.ModelCalls++

	case events.MessageData:
		if r.current != nil {
			r.current.Message = data.Content
		}

	case events.ToolCallData:
		if r.current == nil {
			return
		}
		r.current.Tools = append(r.current.Tools, ToolExecution{
			CallID: data.CallID,
			Name:   data.ToolName,
			Args:   data.Args,
		})
		if _, seen := r.visited[data.ToolName]; !seen {
			r.visited[data.ToolName] = struct{}{}
			r.trace.Summary.VisitedTools = append(r.trace.Summary.VisitedTools, data.ToolName)
		}

	case events.ToolResultData:
		r.fillToolResult(data)

	case events.ErrorData:
		r.trace.Summary.Errors = append(r.trace.Summary.Errors, data.Err.Error())

	case events.DoneData:
		r.flushStep()
		r.trace.Status = data.Status
		r.trace.FinalResult = data.Content
		if !r.started.IsZero() {
			r.trace.DurationMS = event.Timestamp.Sub(r.started).Milliseconds()
		}
	}
}

// fillToolResult дописывает результат в ожидающий вызов текущего шага.
func (r *Recorder) fillToolResult(data events.ToolResultData) {
	if r.current == nil {
		return
	}
	for i := range r.current.Tools {
		t := &r.current.Tools[i]
		if t.CallID != data.CallID || t.Result != "" {
			continue
		}
		t.Result = data.Result
		if r.maxResultSize > 0 && len(t.Result) > r.maxResultSize {
			t.Result = t.Result[:r.maxResultSize]
			t.ResultTruncated = true
		}
		t.DurationMS = data.Duration.Milliseconds()
		t.IsError = data.IsError

		r.trace.Summary.ToolsExecuted++
		r.trace.Summary.ToolDurationMS += data.Duration.Milliseconds()
		if data.IsError {
			r.trace.Summary.ToolErrors++
		}
		return
	}
}

// flushStep переносит текущий шаг в трейс.
func (r *Recorder) flushStep() {
	if r.current != nil {
		r.trace.Steps = append(r.trace.Steps, *r.current)
		r.current = nil
	}
}

// SaveToFile сохраняет трейс в JSON файл и возвращает путь.
//
// Имя файла: deskpilot-trace-<session>.json.
func (r *Recorder) SaveToFile() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushStep()

	name := r.trace.SessionID
	if name == "" {
		name = fmt.Sprintf("unstarted-%d", time.Now().Unix())
	}
	path := filepath.Join(r.dir, fmt.Sprintf("deskpilot-trace-%s.json", name))

	raw, err := json.MarshalIndent(r.trace, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal trace: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write trace: %w", err)
	}

	utils.Info("Execution trace saved", "path", path, "steps", len(r.trace.Steps))
	return path, nil
}

// Snapshot возвращает копию накопленного трейса.
func (r *Recorder) Snapshot() Trace {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.trace
	out.Steps = append([]Step(nil), r.trace.Steps...)
	if r.current != nil {
		out.Steps = append(out.Steps, *r.current)
	}
	return out
}
