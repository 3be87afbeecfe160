package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ilkoid/deskpilot/pkg/events"
	"github.com/ilkoid/deskpilot/pkg/llm"
	"github.com/ilkoid/deskpilot/pkg/models"
	"github.com/ilkoid/deskpilot/pkg/session"
	"github.com/ilkoid/deskpilot/pkg/tools"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

// Runner — оркестратор задач.
//
// Runner выполняет цикл:
//  1. Модель анализирует транскрипт и решает что делать
//  2. Если запрошены инструменты — выполняет их последовательно
//  3. Повторяет пока модель не ответит без tool calls или не сработает лимит
//
// Rule 1: Работает с Tool interface ("Raw In, String Out")
// Rule 3: Tools вызываются через Registry
// Rule 4: LLM вызывается через models.Registry
// Rule 5: Thread-safe, каждая задача живёт в своей *session.Session
// Rule 7: Все ошибки возвращаются, нет panic
// Rule 11: Отмена распространяется через context.Context
type Runner struct {
	// Dependencies (immutable после New)
	models   *models.Registry
	registry *tools.Registry
	executor *tools.Executor
	store    session.Store

	systemPrompt string
	model        string
	maxSteps     int
	streaming    bool

	// emitterMu защищает emitter для конкурентного доступа
	emitterMu sync.RWMutex
	emitter   events.Emitter
}

// Config определяет конфигурацию Runner.
type Config struct {
	// Models — реестр LLM провайдеров. Обязателен.
	Models *models.Registry

	// Tools — реестр инструментов. Обязателен.
	Tools *tools.Registry

	// Store — хранилище сессий. Если nil, используется MemoryStore.
	Store session.Store

	// SystemPrompt — первое сообщение каждой новой сессии.
	SystemPrompt string

	// Model — имя или алиас модели. Пустое — дефолт реестра.
	Model string

	// MaxSteps — лимит обращений к модели на задачу. 0 — дефолт 20.
	MaxSteps int

	// ToolTimeout — таймаут одного вызова инструмента. 0 — дефолт executor.
	ToolTimeout time.Duration

	// Streaming включает потоковые запросы к модели.
	Streaming bool
}

// New создаёт Runner.
//
// Rule 7: Возвращает ошибку вместо panic при неполной конфигурации.
func New(cfg Config) (*Runner, error) {
	if cfg.Models == nil {
		return nil, fmt.Errorf("model registry is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tools registry is required")
	}

	store := cfg.Store
	if store == nil {
		store = session.NewMemoryStore()
	}

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 20
	}

	executor := tools.NewExecutor(cfg.Tools)
	if cfg.ToolTimeout > 0 {
		executor.SetDefaultTimeout(cfg.ToolTimeout)
	}

	return &Runner{
		models:       cfg.Models,
		registry:     cfg.Tools,
		executor:     executor,
		store:        store,
		systemPrompt: cfg.SystemPrompt,
		model:        cfg.Model,
		maxSteps:     maxSteps,
		streaming:    cfg.Streaming,
		emitter:      events.NopEmitter{},
	}, nil
}

// SetEmitter устанавливает emitter для отправки событий.
//
// Port & Adapter паттерн: Runner зависит от абстракции events.Emitter,
// а не от конкретной реализации UI. Emitter — чистый наблюдатель:
// его ошибки и скорость не влияют на ход задачи.
//
// Thread-safe.
func (r *Runner) SetEmitter(emitter events.Emitter) {
	r.emitterMu.Lock()
	defer r.emitterMu.Unlock()
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	r.emitter = emitter
}

// Start запускает новую задачу.
//
// Создаёт сессию, сажает в транскрипт системный промпт и задачу
// пользователя, затем крутит цикл до терминального статуса.
//
// Возвращает Result всегда, когда сессия создана: при failed и
// cancelled ошибка возвращается вместе с результатом.
//
// Rule 11: принимает context.Context для отмены операции.
func (r *Runner) Start(ctx context.Context, task string) (Result, error) {
	canonical, err := r.models.Resolve(r.model)
	if err != nil {
		// UnknownModel фатальна до создания сессии: нечего возобновлять
		return Result{}, err
	}

	sess := session.New(task, canonical)
	if r.systemPrompt != "" {
		sess.Append(llm.Message{Role: llm.RoleSystem, Content: r.systemPrompt})
	}
	sess.Append(llm.Message{Role: llm.RoleUser, Content: task})

	if err := r.store.Save(ctx, sess); err != nil {
		return Result{}, fmt.Errorf("failed to persist new session: %w", err)
	}

	utils.Info("Task started", "session_id", sess.ID, "model", canonical, "task", task)
	r.emit(ctx, events.Event{
		Type:      events.EventTaskStarted,
		Data:      events.TaskStartedData{SessionID: sess.ID, Task: task, Model: canonical},
		Timestamp: time.Now(),
	})

	return r.run(ctx, sess)
}

// Resume продолжает прерванную сессию с сохранённого транскрипта.
//
// Терминальную сессию возобновить нельзя: ErrSessionTerminal.
func (r *Runner) Resume(ctx context.Context, sessionID string) (Result, error) {
	sess, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if sess.Status.IsTerminal() {
		return Result{}, fmt.Errorf("%w: '%s' is %s", ErrSessionTerminal, sessionID, sess.Status)
	}

	utils.Info("Task resumed", "session_id", sess.ID, "steps_done", sess.StepCount)
	r.emit(ctx, events.Event{
		Type:      events.EventTaskStarted,
		Data:      events.TaskStartedData{SessionID: sess.ID, Task: sess.Task, Model: sess.Model},
		Timestamp: time.Now(),
	})

	return r.run(ctx, sess)
}

// run крутит цикл модель → инструменты до терминального статуса.
//
// Отмена проверяется в двух безопасных точках: перед обращением
// к модели и перед исполнением инструментов. Посреди исполнения
// инструмента задачу не бросаем — результат уже запрошенного
// действия должен попасть в транскрипт.
func (r *Runner) run(ctx context.Context, sess *session.Session) (Result, error) {
	// Инструментам, привязывающим вывод к сессии (артефакты скриншотов),
	// ID отдаётся синхронно до первого вызова.
	for _, tool := range r.registry.Tools() {
		if aware, ok := tool.(tools.SessionAware); ok {
			aware.SetSession(sess.ID)
		}
	}

	for {
		// Точка отмены 1: перед запросом к модели
		if ctx.Err() != nil {
			return r.finishCancelled(ctx, sess)
		}

		if sess.StepCount >= r.maxSteps {
			utils.Warn("Step limit reached", "session_id", sess.ID, "max_steps", r.maxSteps)
			return r.finishFailed(ctx, sess, ErrStepLimit)
		}

		r.emit(ctx, events.Event{
			Type:      events.EventStepStarted,
			Data:      events.StepStartedData{Step: sess.StepCount + 1, MaxSteps: r.maxSteps},
			Timestamp: time.Now(),
		})

		reply, err := r.callModel(ctx, sess)
		if err != nil {
			if isCancellation(err) {
				return r.finishCancelled(ctx, sess)
			}
			return r.finishFailed(ctx, sess, err)
		}

		// Шаг засчитывается только по состоявшемуся обращению к модели:
		// сорвавшийся запрос не расходует лимит и не попадает в статистику.
		sess.StepCount++
		sess.Append(reply)
		if err := r.store.Save(ctx, sess); err != nil {
			utils.Warn("Mid-task save failed", "session_id", sess.ID, "error", err)
		}

		if reply.Content != "" {
			r.emit(ctx, events.Event{
				Type:      events.EventMessage,
				Data:      events.MessageData{Content: reply.Content},
				Timestamp: time.Now(),
			})
		}

		// Нет tool calls — модель ответила финальным сообщением
		if len(reply.ToolCalls) == 0 {
			return r.finishCompleted(ctx, sess, reply.Content)
		}

		// Точка отмены 2: перед исполнением инструментов
		if ctx.Err() != nil {
			return r.finishCancelled(ctx, sess)
		}

		r.executeRound(ctx, sess, reply.ToolCalls)
		if err := r.store.Save(ctx, sess); err != nil {
			utils.Warn("Mid-task save failed", "session_id", sess.ID, "error", err)
		}
	}
}

// callModel выполняет одно обращение к модели.
func (r *Runner) callModel(ctx context.Context, sess *session.Session) (llm.Message, error) {
	req := llm.ChatRequest{
		Messages: sess.Transcript,
		Tools:    r.registry.GetDefinitions(),
	}

	if !r.streaming {
		return r.models.Send(ctx, sess.Model, req)
	}

	req.Options.Stream = true
	stream, err := r.models.Stream(ctx, sess.Model, req)
	if err != nil {
		return llm.Message{}, err
	}
	defer stream.Close()

	var acc llm.Accumulator
	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return llm.Message{}, err
		}

		switch ev.Kind {
		case llm.StreamEventTextDelta:
			acc.Apply(ev)
			r.emit(ctx, events.Event{
				Type:      events.EventMessageChunk,
				Data:      events.MessageChunkData{Chunk: ev.TextDelta},
				Timestamp: time.Now(),
			})
		case llm.StreamEventReasoningDelta:
			acc.Apply(ev)
			r.emit(ctx, events.Event{
				Type:      events.EventThinkingChunk,
				Data:      events.ThinkingChunkData{Chunk: ev.ReasoningDelta, Accumulated: acc.Reasoning},
				Timestamp: time.Now(),
			})
		case llm.StreamEventFailed:
			return llm.Message{}, ev.Err
		default:
			acc.Apply(ev)
		}
	}
	return acc.FinalMessage(), nil
}

// executeRound последовательно исполняет все tool calls одного ответа.
//
// Порядок — порядок вызовов в сообщении модели. Ошибка инструмента
// не фатальна: она уходит в транскрипт как isError результат, и модель
// сама решает что делать дальше.
//
// Отмена проверяется между вызовами: уже начатый инструмент доводится
// до конца и его настоящий результат попадает в транскрипт, а ещё
// не начатые вызовы просто не диспатчатся — следов на рабочем столе
// они не оставили, выдуманных результатов оставлять не должны.
func (r *Runner) executeRound(ctx context.Context, sess *session.Session, calls []llm.ToolCall) {
	for i, call := range calls {
		if i > 0 && ctx.Err() != nil {
			utils.Info("Round interrupted by cancellation",
				"session_id", sess.ID,
				"executed", i,
				"skipped", len(calls)-i,
			)
			return
		}

		r.emit(ctx, events.Event{
			Type:      events.EventToolCall,
			Data:      events.ToolCallData{CallID: call.ID, ToolName: call.Name, Args: call.Args},
			Timestamp: time.Now(),
		})

		result := r.executor.Execute(ctx, tools.ToolCallRef{
			ID:   call.ID,
			Name: call.Name,
			Args: call.Args,
		})

		sess.Append(llm.Message{
			Role:       llm.RoleTool,
			Content:    result.Output,
			ToolCallID: call.ID,
			IsError:    result.IsError,
		})

		// Кадр из результата инструмента уходит модели image-частью
		// user сообщения: в тексте tool result картинку не видит
		// ни один vision бэкенд.
		if len(result.Images) > 0 {
			sess.Append(llm.Message{
				Role:    llm.RoleUser,
				Content: fmt.Sprintf("Screenshot from the %s tool:", call.Name),
				Images:  result.Images,
			})
		}

		r.emit(ctx, events.Event{
			Type: events.EventToolResult,
			Data: events.ToolResultData{
				CallID:   call.ID,
				ToolName: call.Name,
				Result:   result.Output,
				IsError:  result.IsError,
				Duration: time.Duration(result.DurationMs) * time.Millisecond,
			},
			Timestamp: time.Now(),
		})
	}
}

// --- терминальные переходы ---

func (r *Runner) finishCompleted(ctx context.Context, sess *session.Session, final string) (Result, error) {
	r.finish(ctx, sess, session.StatusCompleted, "")
	utils.Info("Task completed", "session_id", sess.ID, "steps", sess.StepCount)
	return Result{
		SessionID:    sess.ID,
		Status:       sess.Status,
		FinalMessage: final,
		Steps:        sess.StepCount,
	}, nil
}

func (r *Runner) finishFailed(ctx context.Context, sess *session.Session, cause error) (Result, error) {
	r.finish(ctx, sess, session.StatusFailed, cause.Error())
	utils.Error("Task failed", "session_id", sess.ID, "steps", sess.StepCount, "error", cause)
	r.emit(ctx, events.Event{
		Type:      events.EventError,
		Data:      events.ErrorData{Err: cause},
		Timestamp: time.Now(),
	})
	return Result{
		SessionID: sess.ID,
		Status:    sess.Status,
		Steps:     sess.StepCount,
	}, cause
}

func (r *Runner) finishCancelled(ctx context.Context, sess *session.Session) (Result, error) {
	r.finish(ctx, sess, session.StatusCancelled, "cancelled")
	utils.Info("Task cancelled", "session_id", sess.ID, "steps", sess.StepCount)
	return Result{
		SessionID: sess.ID,
		Status:    sess.Status,
		Steps:     sess.StepCount,
	}, context.Canceled
}

// finish переводит сессию в терминальный статус и гарантированно
// сохраняет её, даже если родительский контекст уже отменён.
func (r *Runner) finish(ctx context.Context, sess *session.Session, status session.Status, errMsg string) {
	if err := sess.SetStatus(status); err != nil {
		utils.Warn("Terminal transition rejected", "session_id", sess.ID, "error", err)
	}
	sess.Error = errMsg

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.Save(saveCtx, sess); err != nil {
		utils.Error("Terminal save failed", "session_id", sess.ID, "error", err)
	}

	r.emit(saveCtx, events.Event{
		Type: events.EventDone,
		Data: events.DoneData{
			SessionID: sess.ID,
			Status:    string(status),
			Content:   lastAssistantText(sess),
			Steps:     sess.StepCount,
		},
		Timestamp: time.Now(),
	})
}

// --- вспомогательное ---

// emit отправляет событие через emitter.
//
// Thread-safe.
// Rule 11: уважает context.Context.
func (r *Runner) emit(ctx context.Context, event events.Event) {
	r.emitterMu.RLock()
	emitter := r.emitter
	r.emitterMu.RUnlock()
	emitter.Emit(ctx, event)
}

// isCancellation отличает отмену от настоящих ошибок модели.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func lastAssistantText(sess *session.Session) string {
	for i := len(sess.Transcript) - 1; i >= 0; i-- {
		m := sess.Transcript[i]
		if m.Role == llm.RoleAssistant && m.Content != "" {
			return m.Content
		}
	}
	return ""
}
