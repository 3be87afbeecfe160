// Package models предоставляет централизованный реестр LLM провайдеров.
//
// Реестр заполняется из config.yaml при старте и даёт единую точку
// отправки запросов: вызывающий оперирует именем модели (или алиасом),
// не зная, какой адаптер за ним стоит.
//
// Rule 3: Registry pattern (similar to tools.Registry)
// Rule 5: Thread-safe via sync.RWMutex
// Rule 6: Reusable library package, no imports from internal/
package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ilkoid/deskpilot/pkg/config"
	"github.com/ilkoid/deskpilot/pkg/factory"
	"github.com/ilkoid/deskpilot/pkg/llm"
)

// ErrUnknownModel — запрошенное имя не резолвится ни в одну модель.
//
// Ошибка фатальна: ретраи не помогут, конфиг не изменится сам.
var ErrUnknownModel = errors.New("unknown model")

// Registry — потокобезопасное хранилище LLM провайдеров.
//
// Rule 5: Thread-safe через sync.RWMutex.
// Rule 3: Registry pattern.
type Registry struct {
	mu           sync.RWMutex
	models       map[string]ModelEntry
	aliases      map[string]string
	defaultModel string
}

// ModelEntry — кешированный провайдер с конфигурацией.
type ModelEntry struct {
	Provider llm.Provider
	Config   config.ModelDef
}

// NewRegistry создаёт новый пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		models:  make(map[string]ModelEntry),
		aliases: make(map[string]string),
	}
}

// Register добавляет модель в реестр.
//
// Thread-safe. Возвращает ошибку если модель с таким именем уже зарегистрирована.
//
// Rule 7: Возвращает ошибку вместо panic.
func (r *Registry) Register(name string, modelDef config.ModelDef, provider llm.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[name]; exists {
		return fmt.Errorf("model '%s' already registered", name)
	}

	r.models[name] = ModelEntry{
		Provider: provider,
		Config:   modelDef,
	}
	return nil
}

// RegisterAlias добавляет короткое имя для зарегистрированной модели.
func (r *Registry) RegisterAlias(alias, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.models[target]; !ok {
		return fmt.Errorf("alias '%s' points to unregistered model '%s'", alias, target)
	}
	if _, exists := r.aliases[alias]; exists {
		return fmt.Errorf("alias '%s' already registered", alias)
	}
	r.aliases[alias] = target
	return nil
}

// SetDefault задаёт модель, используемую при пустом имени запроса.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultModel = name
}

// Resolve переводит произвольное имя в каноническое имя модели.
//
// Порядок резолва:
//  1. пустое имя → дефолтная модель
//  2. точное совпадение с именем модели
//  3. алиас
//  4. совпадение без учёта регистра (имя или алиас)
//
// Thread-safe. Нерезолвящееся имя — ErrUnknownModel со списком доступных.
func (r *Registry) Resolve(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(name)
}

func (r *Registry) resolveLocked(name string) (string, error) {
	if name == "" {
		name = r.defaultModel
	}

	if _, ok := r.models[name]; ok {
		return name, nil
	}
	if target, ok := r.aliases[name]; ok {
		return target, nil
	}

	lower := strings.ToLower(name)
	for candidate := range r.models {
		if strings.ToLower(candidate) == lower {
			return candidate, nil
		}
	}
	for alias, target := range r.aliases {
		if strings.ToLower(alias) == lower {
			return target, nil
		}
	}

	return "", fmt.Errorf("%w: '%s' (known: %s)", ErrUnknownModel, name, strings.Join(r.listNamesLocked(), ", "))
}

// Get извлекает провайдер по имени модели (с резолвом алиасов).
//
// Thread-safe.
func (r *Registry) Get(name string) (llm.Provider, config.ModelDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canonical, err := r.resolveLocked(name)
	if err != nil {
		return nil, config.ModelDef{}, err
	}
	entry := r.models[canonical]
	return entry.Provider, entry.Config, nil
}

// Send резолвит имя и выполняет запрос через подходящий адаптер.
//
// Параметры генерации из конфигурации модели (temperature, max_tokens,
// reasoning_effort) подкладываются в запрос здесь: вызывающий задаёт
// только то, что хочет переопределить.
func (r *Registry) Send(ctx context.Context, model string, req llm.ChatRequest) (llm.Message, error) {
	provider, def, err := r.Get(model)
	if err != nil {
		return llm.Message{}, err
	}
	req.Options = mergeOptions(def, req.Options)
	return provider.Generate(ctx, req)
}

// Stream резолвит имя и открывает потоковый запрос.
//
// Если адаптер модели не умеет стримить, возвращается ошибка: вызывающий
// сам решает, откатиться ли на Send.
func (r *Registry) Stream(ctx context.Context, model string, req llm.ChatRequest) (llm.Stream, error) {
	provider, def, err := r.Get(model)
	if err != nil {
		return nil, err
	}
	req.Options = mergeOptions(def, req.Options)
	streaming, ok := provider.(llm.StreamingProvider)
	if !ok {
		return nil, fmt.Errorf("model '%s' does not support streaming", model)
	}
	return streaming.GenerateStream(ctx, req)
}

// mergeOptions заполняет не заданные вызывающим параметры генерации
// значениями из конфигурации модели.
func mergeOptions(def config.ModelDef, opts llm.GenerateOptions) llm.GenerateOptions {
	if opts.Temperature == nil {
		opts.Temperature = def.Temperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.ReasoningEffort == "" {
		opts.ReasoningEffort = def.ReasoningEffort
	}
	return opts
}

// ListNames возвращает отсортированный список зарегистрированных имён моделей.
//
// Thread-safe. Полезно для логирования и отладки.
func (r *Registry) ListNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listNamesLocked()
}

func (r *Registry) listNamesLocked() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig создаёт и заполняет реестр из конфигурации.
//
// Итерируется через cfg.Models.Definitions и создаёт провайдеры для каждой
// модели, затем регистрирует алиасы и дефолт.
//
// Rule 4: Работает через llm.Provider интерфейс.
// Rule 7: Возвращает ошибку вместо panic.
func NewRegistryFromConfig(cfg *config.AppConfig) (*Registry, error) {
	registry := NewRegistry()

	for name, modelDef := range cfg.Models.Definitions {
		provider, err := factory.NewLLMProvider(modelDef)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider for model '%s': %w", name, err)
		}

		if err := registry.Register(name, modelDef, provider); err != nil {
			return nil, fmt.Errorf("failed to register model '%s': %w", name, err)
		}
	}

	for alias, target := range cfg.Models.Aliases {
		if err := registry.RegisterAlias(alias, target); err != nil {
			return nil, err
		}
	}

	registry.SetDefault(cfg.Models.Default)
	return registry, nil
}
