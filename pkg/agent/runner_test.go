package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ilkoid/deskpilot/pkg/config"
	"github.com/ilkoid/deskpilot/pkg/events"
	"github.com/ilkoid/deskpilot/pkg/llm"
	"github.com/ilkoid/deskpilot/pkg/models"
	"github.com/ilkoid/deskpilot/pkg/session"
	"github.com/ilkoid/deskpilot/pkg/tools"
)

// mockProvider отдаёт заранее заданные ответы по очереди.
type mockProvider struct {
	mu        sync.Mutex
	responses []llm.Message
	errAt     int // индекс вызова, на котором вернуть err; -1 — никогда
	err       error
	callCount int
	lastReq   llm.ChatRequest
}

func newMockProvider(responses ...llm.Message) *mockProvider {
	return &mockProvider{responses: responses, errAt: -1}
}

func (p *mockProvider) Generate(ctx context.Context, req llm.ChatRequest) (llm.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.callCount
	p.callCount++
	p.lastReq = req

	if p.err != nil && idx == p.errAt {
		return llm.Message{}, p.err
	}
	if idx >= len(p.responses) {
		// Зацикливаем последний ответ: удобно для теста лимита шагов
		idx = len(p.responses) - 1
	}
	return p.responses[idx], nil
}

func (p *mockProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCount
}

// echoTool возвращает свой аргумент.
type echoTool struct{}

func (echoTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "echo",
		Description: "Echoes the input text",
		Parameters: tools.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
	}
}

func (echoTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	return "hello", nil
}

// failingTool всегда возвращает ошибку.
type failingTool struct{}

func (failingTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "broken",
		Description: "Always fails",
		Parameters:  tools.JSONSchema{"type": "object", "properties": map[string]any{}},
	}
}

func (failingTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	return "", errors.New("window not found")
}

// cancellingTool отменяет переданный контекст, имитируя Ctrl+C
// во время длинного действия.
type cancellingTool struct {
	cancel context.CancelFunc
}

func (t cancellingTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "slow",
		Description: "Cancels the run mid-flight",
		Parameters:  tools.JSONSchema{"type": "object", "properties": map[string]any{}},
	}
}

func (t cancellingTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	t.cancel()
	return "ok", nil
}

// recordingTool фиксирует порядок и параллельность своих вызовов.
type recordingTool struct {
	mu        sync.Mutex
	active    int
	maxActive int
	order     []string
}

func (t *recordingTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "act",
		Description: "Records invocation order",
		Parameters: tools.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"n": map[string]any{"type": "integer"},
			},
		},
	}
}

func (t *recordingTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	t.mu.Lock()
	t.active++
	if t.active > t.maxActive {
		t.maxActive = t.active
	}
	t.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	t.mu.Lock()
	t.order = append(t.order, argsJSON)
	t.active--
	t.mu.Unlock()
	return "done", nil
}

// screenTool отдаёт кадр в поле image_data_uri, как это делает see.
type screenTool struct{}

func (screenTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "see",
		Description: "Captures the screen",
		Parameters:  tools.JSONSchema{"type": "object", "properties": map[string]any{}},
	}
}

func (screenTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	return `{"screen":"1920x1080","image_data_uri":"data:image/jpeg;base64,QUJD"}`, nil
}

// sessionTrackingTool запоминает, какая сессия была привязана
// на момент исполнения.
type sessionTrackingTool struct {
	mu          sync.Mutex
	bound       string
	boundAtExec string
}

func (t *sessionTrackingTool) SetSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bound = sessionID
}

func (t *sessionTrackingTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "shot",
		Description: "Needs the session id",
		Parameters:  tools.JSONSchema{"type": "object", "properties": map[string]any{}},
	}
}

func (t *sessionTrackingTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.boundAtExec = t.bound
	return "ok", nil
}

func newTestRunner(t *testing.T, provider llm.Provider, maxSteps int, toolSet ...tools.Tool) (*Runner, session.Store) {
	t.Helper()

	registry := models.NewRegistry()
	if err := registry.Register("mock", config.ModelDef{Provider: "mock", ModelName: "mock"}, provider); err != nil {
		t.Fatalf("register model: %v", err)
	}
	registry.SetDefault("mock")

	toolRegistry := tools.NewRegistry()
	for _, tool := range toolSet {
		if err := toolRegistry.Register(tool); err != nil {
			t.Fatalf("register tool: %v", err)
		}
	}

	store := session.NewMemoryStore()
	runner, err := New(Config{
		Models:       registry,
		Tools:        toolRegistry,
		Store:        store,
		SystemPrompt: "you are a desktop automation agent",
		MaxSteps:     maxSteps,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner, store
}

func toolCallReply(id, name, args string) llm.Message {
	return llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: id, Name: name, Args: args}},
	}
}

func finalReply(text string) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, Content: text}
}

func TestRunnerCompletesEchoTask(t *testing.T) {
	provider := newMockProvider(
		toolCallReply("call_1", "echo", `{"text":"hello"}`),
		finalReply("The tool said hello."),
	)
	runner, store := newTestRunner(t, provider, 10, echoTool{})

	result, err := runner.Start(context.Background(), "say hello via echo")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if result.Status != session.StatusCompleted {
		t.Errorf("status = %s, want completed", result.Status)
	}
	if result.FinalMessage != "The tool said hello." {
		t.Errorf("final message = %q", result.FinalMessage)
	}
	if result.Steps != 2 {
		t.Errorf("steps = %d, want 2", result.Steps)
	}
	if provider.calls() != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls())
	}

	// system + user + assistant(tool call) + tool result + assistant(final)
	sess, err := store.Load(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(sess.Transcript) != 5 {
		t.Fatalf("transcript length = %d, want 5", len(sess.Transcript))
	}
	toolMsg := sess.Transcript[3]
	if toolMsg.Role != llm.RoleTool || toolMsg.ToolCallID != "call_1" {
		t.Errorf("transcript[3] = %+v, want tool result for call_1", toolMsg)
	}
	if toolMsg.Content != "hello" {
		t.Errorf("tool result content = %q, want hello", toolMsg.Content)
	}
	if sess.Status != session.StatusCompleted {
		t.Errorf("persisted status = %s, want completed", sess.Status)
	}
}

func TestRunnerStepLimitFailsTask(t *testing.T) {
	// Модель бесконечно просит инструмент — лимит должен остановить цикл
	provider := newMockProvider(toolCallReply("call_1", "echo", `{"text":"again"}`))
	runner, store := newTestRunner(t, provider, 1, echoTool{})

	result, err := runner.Start(context.Background(), "loop forever")
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("Start() error = %v, want ErrStepLimit", err)
	}
	if result.Status != session.StatusFailed {
		t.Errorf("status = %s, want failed", result.Status)
	}
	if provider.calls() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls())
	}

	sess, _ := store.Load(context.Background(), result.SessionID)
	if sess.Status != session.StatusFailed {
		t.Errorf("persisted status = %s, want failed", sess.Status)
	}
	if sess.Error == "" {
		t.Error("persisted session should carry the failure reason")
	}
}

func TestRunnerCancellationBeforeSecondRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	provider := newMockProvider(
		toolCallReply("call_1", "slow", `{}`),
		finalReply("should never be reached"),
	)
	runner, store := newTestRunner(t, provider, 10, cancellingTool{cancel: cancel})

	result, err := runner.Start(ctx, "cancel me")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() error = %v, want context.Canceled", err)
	}
	if result.Status != session.StatusCancelled {
		t.Errorf("status = %s, want cancelled", result.Status)
	}
	// Вторая итерация не должна была дойти до модели
	if provider.calls() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls())
	}

	// Терминальный статус сохранён несмотря на отменённый контекст
	sess, loadErr := store.Load(context.Background(), result.SessionID)
	if loadErr != nil {
		t.Fatalf("Load() error = %v", loadErr)
	}
	if sess.Status != session.StatusCancelled {
		t.Errorf("persisted status = %s, want cancelled", sess.Status)
	}
	// Результат выполненного инструмента остался в транскрипте
	last := sess.Transcript[len(sess.Transcript)-1]
	if last.Role != llm.RoleTool {
		t.Errorf("last transcript message role = %s, want tool", last.Role)
	}
}

func TestRunnerMultiCallRoundSequentialOrder(t *testing.T) {
	rec := &recordingTool{}
	reply := llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "act", Args: `{"n":1}`},
			{ID: "call_2", Name: "act", Args: `{"n":2}`},
			{ID: "call_3", Name: "act", Args: `{"n":3}`},
		},
	}
	provider := newMockProvider(reply, finalReply("all acted"))
	runner, store := newTestRunner(t, provider, 10, rec)

	result, err := runner.Start(context.Background(), "act three times")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Вызовы исполняются строго в порядке ответа модели и без перекрытия
	want := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}
	if fmt.Sprint(rec.order) != fmt.Sprint(want) {
		t.Errorf("execution order = %v, want %v", rec.order, want)
	}
	if rec.maxActive != 1 {
		t.Errorf("max concurrent executions = %d, want 1", rec.maxActive)
	}

	sess, _ := store.Load(context.Background(), result.SessionID)
	// system + user + assistant(3 calls) + 3 tool results + assistant(final)
	if len(sess.Transcript) != 7 {
		t.Fatalf("transcript length = %d, want 7", len(sess.Transcript))
	}
	for i, wantID := range []string{"call_1", "call_2", "call_3"} {
		msg := sess.Transcript[3+i]
		if msg.Role != llm.RoleTool || msg.ToolCallID != wantID {
			t.Errorf("transcript[%d] = %+v, want result for %s", 3+i, msg, wantID)
		}
	}
}

func TestRunnerCancellationMidRoundSkipsRemainingCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	rec := &recordingTool{}
	reply := llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "slow", Args: `{}`},
			{ID: "call_2", Name: "act", Args: `{"n":2}`},
			{ID: "call_3", Name: "act", Args: `{"n":3}`},
		},
	}
	provider := newMockProvider(reply, finalReply("unreachable"))
	runner, store := newTestRunner(t, provider, 10, cancellingTool{cancel: cancel}, rec)

	result, err := runner.Start(ctx, "cancel mid round")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() error = %v, want context.Canceled", err)
	}
	if result.Status != session.StatusCancelled {
		t.Errorf("status = %s, want cancelled", result.Status)
	}

	sess, _ := store.Load(context.Background(), result.SessionID)
	// Настоящий результат начатого инструмента в транскрипте,
	// не начатые вызовы следов не оставили
	var toolMsgs []llm.Message
	for _, m := range sess.Transcript {
		if m.Role == llm.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	if len(toolMsgs) != 1 {
		t.Fatalf("tool results = %d, want only the executed call", len(toolMsgs))
	}
	if toolMsgs[0].ToolCallID != "call_1" || toolMsgs[0].Content != "ok" || toolMsgs[0].IsError {
		t.Errorf("tool result = %+v, want the real call_1 result", toolMsgs[0])
	}
	if len(rec.order) != 0 {
		t.Errorf("remaining calls were dispatched: %v", rec.order)
	}
}

func TestRunnerScreenshotReachesModelAsImage(t *testing.T) {
	provider := newMockProvider(
		toolCallReply("call_1", "see", `{}`),
		finalReply("I can see the desktop."),
	)
	runner, store := newTestRunner(t, provider, 10, screenTool{})

	result, err := runner.Start(context.Background(), "look at the screen")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sess, _ := store.Load(context.Background(), result.SessionID)
	// system + user + assistant + tool result + user(image) + assistant(final)
	if len(sess.Transcript) != 6 {
		t.Fatalf("transcript length = %d, want 6", len(sess.Transcript))
	}
	toolMsg := sess.Transcript[3]
	if strings.Contains(toolMsg.Content, "base64") {
		t.Errorf("data uri must leave the tool result text: %q", toolMsg.Content)
	}
	if !strings.Contains(toolMsg.Content, "1920x1080") {
		t.Errorf("dimensions should stay in the tool result: %q", toolMsg.Content)
	}
	imgMsg := sess.Transcript[4]
	if imgMsg.Role != llm.RoleUser {
		t.Fatalf("transcript[4] role = %s, want user", imgMsg.Role)
	}
	if len(imgMsg.Images) != 1 || imgMsg.Images[0] != "data:image/jpeg;base64,QUJD" {
		t.Errorf("images = %v, want the lifted screenshot", imgMsg.Images)
	}

	// Второй запрос к модели несёт кадр image-частью
	var seen bool
	for _, m := range provider.lastReq.Messages {
		if m.Role == llm.RoleUser && len(m.Images) > 0 {
			seen = true
		}
	}
	if !seen {
		t.Error("model request should carry the screenshot as an image part")
	}
}

func TestRunnerBindsSessionToToolsBeforeExecution(t *testing.T) {
	tracker := &sessionTrackingTool{}
	provider := newMockProvider(
		toolCallReply("call_1", "shot", `{}`),
		finalReply("done"),
	)
	runner, _ := newTestRunner(t, provider, 10, tracker)

	result, err := runner.Start(context.Background(), "take a shot")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if tracker.boundAtExec == "" {
		t.Fatal("session id was not bound before the first tool call")
	}
	if tracker.boundAtExec != result.SessionID {
		t.Errorf("bound session = %q, want %q", tracker.boundAtExec, result.SessionID)
	}
}

func TestRunnerStepCountExcludesFailedModelCall(t *testing.T) {
	provider := newMockProvider(
		toolCallReply("call_1", "echo", `{"text":"x"}`),
		finalReply("unused"),
	)
	provider.errAt = 1
	provider.err = &llm.APIError{Provider: "mock", Kind: llm.KindNetwork, StatusCode: 500, Message: "backend down"}

	runner, store := newTestRunner(t, provider, 10, echoTool{})

	result, err := runner.Start(context.Background(), "count my steps")
	if err == nil {
		t.Fatal("Start() should surface the model error")
	}
	// Засчитан только состоявшийся первый шаг
	if result.Steps != 1 {
		t.Errorf("steps = %d, want 1", result.Steps)
	}
	sess, _ := store.Load(context.Background(), result.SessionID)
	if sess.StepCount != 1 {
		t.Errorf("persisted step count = %d, want 1", sess.StepCount)
	}
}

func TestRunnerToolErrorIsNotFatal(t *testing.T) {
	provider := newMockProvider(
		toolCallReply("call_1", "broken", `{}`),
		finalReply("The window could not be found, giving up politely."),
	)
	runner, store := newTestRunner(t, provider, 10, failingTool{})

	result, err := runner.Start(context.Background(), "click the button")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if result.Status != session.StatusCompleted {
		t.Errorf("status = %s, want completed", result.Status)
	}

	sess, _ := store.Load(context.Background(), result.SessionID)
	toolMsg := sess.Transcript[3]
	if !toolMsg.IsError {
		t.Error("tool result should be flagged as error")
	}
	if toolMsg.Content == "" {
		t.Error("tool error description should reach the model")
	}
}

func TestRunnerUnknownToolRecovered(t *testing.T) {
	provider := newMockProvider(
		toolCallReply("call_1", "does_not_exist", `{}`),
		finalReply("done"),
	)
	runner, store := newTestRunner(t, provider, 10, echoTool{})

	result, err := runner.Start(context.Background(), "use a ghost tool")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sess, _ := store.Load(context.Background(), result.SessionID)
	toolMsg := sess.Transcript[3]
	if !toolMsg.IsError {
		t.Error("unknown tool should produce an isError result, not a crash")
	}
}

func TestRunnerFatalModelErrorFailsTask(t *testing.T) {
	provider := newMockProvider(finalReply("unused"))
	provider.errAt = 0
	provider.err = &llm.APIError{Provider: "mock", Kind: llm.KindAuth, StatusCode: 401, Message: "bad key"}

	runner, store := newTestRunner(t, provider, 10, echoTool{})

	result, err := runner.Start(context.Background(), "anything")
	if err == nil {
		t.Fatal("Start() should surface the auth error")
	}
	if !llm.IsAuthFailed(err) {
		t.Errorf("error = %v, want auth failure", err)
	}
	if result.Status != session.StatusFailed {
		t.Errorf("status = %s, want failed", result.Status)
	}

	sess, _ := store.Load(context.Background(), result.SessionID)
	if sess.Status != session.StatusFailed {
		t.Errorf("persisted status = %s, want failed", sess.Status)
	}
	// Сорвавшееся обращение к модели шагом не считается
	if sess.StepCount != 0 {
		t.Errorf("persisted step count = %d, want 0", sess.StepCount)
	}
}

func TestRunnerUnknownModelFailsBeforeSession(t *testing.T) {
	registry := models.NewRegistry()
	toolRegistry := tools.NewRegistry()
	store := session.NewMemoryStore()

	runner, err := New(Config{
		Models: registry,
		Tools:  toolRegistry,
		Store:  store,
		Model:  "nonexistent",
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	_, err = runner.Start(context.Background(), "task")
	if !errors.Is(err, models.ErrUnknownModel) {
		t.Fatalf("Start() error = %v, want ErrUnknownModel", err)
	}

	list, _ := store.List(context.Background())
	if len(list) != 0 {
		t.Errorf("no session should be created for an unknown model, got %d", len(list))
	}
}

func TestRunnerResumeContinuesTranscript(t *testing.T) {
	provider := newMockProvider(finalReply("resumed and done"))
	runner, store := newTestRunner(t, provider, 10, echoTool{})

	// Прерванная сессия: транскрипт есть, терминального статуса нет
	sess := session.New("finish the report", "mock")
	sess.Append(llm.Message{Role: llm.RoleSystem, Content: "you are a desktop automation agent"})
	sess.Append(llm.Message{Role: llm.RoleUser, Content: "finish the report"})
	sess.Append(toolCallReply("call_1", "echo", `{"text":"x"}`))
	sess.Append(llm.Message{Role: llm.RoleTool, Content: "x", ToolCallID: "call_1"})
	sess.StepCount = 1
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	result, err := runner.Resume(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if result.Status != session.StatusCompleted {
		t.Errorf("status = %s, want completed", result.Status)
	}
	if result.Steps != 2 {
		t.Errorf("steps = %d, want 2 (1 persisted + 1 new)", result.Steps)
	}

	// Модель должна была увидеть весь сохранённый префикс
	if len(provider.lastReq.Messages) != 4 {
		t.Errorf("model saw %d messages, want 4 persisted ones", len(provider.lastReq.Messages))
	}

	loaded, _ := store.Load(context.Background(), sess.ID)
	if len(loaded.Transcript) != 5 {
		t.Errorf("transcript length = %d, want 5", len(loaded.Transcript))
	}
	for i, want := range sess.Transcript {
		if loaded.Transcript[i].Role != want.Role {
			t.Errorf("transcript[%d] role changed after resume", i)
		}
	}
}

func TestRunnerResumeTerminalSessionRejected(t *testing.T) {
	provider := newMockProvider(finalReply("unused"))
	runner, store := newTestRunner(t, provider, 10, echoTool{})

	sess := session.New("done task", "mock")
	if err := sess.SetStatus(session.StatusCompleted); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	_, err := runner.Resume(context.Background(), sess.ID)
	if !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("Resume() error = %v, want ErrSessionTerminal", err)
	}
}

func TestRunnerEmitsEventSequence(t *testing.T) {
	provider := newMockProvider(
		toolCallReply("call_1", "echo", `{"text":"hi"}`),
		finalReply("all done"),
	)
	runner, _ := newTestRunner(t, provider, 10, echoTool{})

	emitter := events.NewChanEmitter(64)
	runner.SetEmitter(emitter)

	if _, err := runner.Start(context.Background(), "say hi"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	emitter.Close()

	var types []events.EventType
	for ev := range emitter.Subscribe().Events() {
		types = append(types, ev.Type)
	}

	want := []events.EventType{
		events.EventTaskStarted,
		events.EventStepStarted,
		events.EventToolCall,
		events.EventToolResult,
		events.EventStepStarted,
		events.EventMessage,
		events.EventDone,
	}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Errorf("event sequence = %v, want %v", types, want)
	}
}
