// Package prompt предоставляет функции для загрузки и рендеринга промптов.
package prompt

import (
	"fmt"
	"os"

	"github.com/ilkoid/deskpilot/pkg/config"
)

// LoadAgentSystemPrompt загружает системный промпт для агента.
//
// Пытается загрузить промпт из файла {PromptsDir}/agent_system.yaml.
// Если файл не существует — возвращает дефолтный промпт.
//
// Дефолтный промпт базовый и может быть переопределён через YAML файл
// для кастомизации поведения агента под конкретные задачи.
func LoadAgentSystemPrompt(cfg *config.AppConfig) (string, error) {
	promptPath := fmt.Sprintf("%s/agent_system.yaml", cfg.App.PromptsDir)

	if _, err := os.Stat(promptPath); os.IsNotExist(err) {
		return getDefaultAgentPrompt(), nil
	}

	pf, err := Load(promptPath)
	if err != nil {
		return "", fmt.Errorf("failed to load agent prompt from %s: %w", promptPath, err)
	}

	if len(pf.Messages) == 0 {
		return getDefaultAgentPrompt(), nil
	}

	// Первое сообщение файла — системный промпт агента
	if pf.Messages[0].Content != "" {
		return pf.Messages[0].Content, nil
	}

	return getDefaultAgentPrompt(), nil
}

// getDefaultAgentPrompt возвращает дефолтный системный промпт агента.
//
// Используется как fallback когда:
// - Файл agent_system.yaml не существует
// - Файл пустой или некорректный
func getDefaultAgentPrompt() string {
	return `You are a desktop automation agent. You control the user's computer
through tools and complete the task they describe.

## Your tools

- see: capture a screenshot of the current screen
- click, scroll: mouse actions at screen coordinates
- type, hotkey: keyboard input
- launch_app, list_windows, focus_window: application management
- wait: pause while the UI catches up

## Rules

1. Always call "see" before clicking or typing - never guess coordinates
2. Act in small steps: one action, then look at the screen again
3. If a tool returns an error, read it and adjust - do not repeat the
   same call unchanged
4. After an action that changes the screen, "wait" briefly before "see"
5. When the task is done, reply with a short summary and no tool calls
6. If the task cannot be completed, explain why instead of looping
`
}
