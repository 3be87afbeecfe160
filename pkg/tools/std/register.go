package std

import (
	"fmt"

	"github.com/ilkoid/deskpilot/pkg/artifacts"
	"github.com/ilkoid/deskpilot/pkg/tools"
)

// Options — настройки регистрации стандартного набора.
type Options struct {
	// Artifacts — хранилище скриншотов. nil — скриншоты только в транскрипт.
	Artifacts artifacts.StoreInterface

	// MaxImageWidth — ширина кадра для модели. 0 — без ресайза.
	MaxImageWidth int

	// JPEGQuality — качество кодирования кадра. 0 — дефолт 85.
	JPEGQuality int
}

// RegisterAll регистрирует весь стандартный набор инструментов.
//
// Возвращает SeeTool отдельно для прямой настройки. Привязку к сессии
// оркестратор делает сам через tools.SessionAware перед стартом задачи.
//
// Rule 3: регистрация через Registry.
func RegisterAll(registry *tools.Registry, driver Driver, opts Options) (*SeeTool, error) {
	see := NewSeeTool(driver, opts.Artifacts, opts.MaxImageWidth, opts.JPEGQuality)

	all := []tools.Tool{
		see,
		NewClickTool(driver),
		NewTypeTextTool(driver),
		NewScrollTool(driver),
		NewHotkeyTool(driver),
		NewLaunchAppTool(driver),
		NewListWindowsTool(driver),
		NewFocusWindowTool(driver),
		NewWaitTool(),
	}

	for _, tool := range all {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("failed to register tool '%s': %w", tool.Definition().Name, err)
		}
	}
	return see, nil
}
