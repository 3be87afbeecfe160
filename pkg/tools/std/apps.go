package std

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ilkoid/deskpilot/pkg/tools"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

// LaunchAppTool — запуск приложения по имени.
type LaunchAppTool struct {
	driver Driver
}

// NewLaunchAppTool создает инструмент запуска приложений.
func NewLaunchAppTool(driver Driver) *LaunchAppTool {
	return &LaunchAppTool{driver: driver}
}

// Definition возвращает определение инструмента для function calling.
func (t *LaunchAppTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "launch_app",
		Description: "Launch an application by name, e.g. \"Firefox\" or \"Calculator\".",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Application name",
				},
			},
			"required": []string{"name"},
		},
	}
}

type launchArgs struct {
	Name string `json:"name"`
}

// Execute выполняет инструмент согласно контракту "Raw In, String Out".
func (t *LaunchAppTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	var args launchArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid launch_app arguments: %w", err)
	}
	if args.Name == "" {
		return "", fmt.Errorf("application name must not be empty")
	}

	if err := t.driver.LaunchApp(ctx, args.Name); err != nil {
		return "", fmt.Errorf("failed to launch '%s': %w", args.Name, err)
	}

	utils.Info("Application launched", "name", args.Name)
	return fmt.Sprintf("launched %s", args.Name), nil
}

// ListWindowsTool — список открытых окон.
type ListWindowsTool struct {
	driver Driver
}

// NewListWindowsTool создает инструмент списка окон.
func NewListWindowsTool(driver Driver) *ListWindowsTool {
	return &ListWindowsTool{driver: driver}
}

// Definition возвращает определение инструмента для function calling.
func (t *ListWindowsTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "list_windows",
		Description: "List all open windows with their application, title, position and focus state.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
			"required":   []string{},
		},
	}
}

// Execute выполняет инструмент согласно контракту "Raw In, String Out".
func (t *ListWindowsTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	windows, err := t.driver.ListWindows(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list windows: %w", err)
	}

	data, err := json.Marshal(windows)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FocusWindowTool — перевод фокуса на окно.
type FocusWindowTool struct {
	driver Driver
}

// NewFocusWindowTool создает инструмент фокусировки окон.
func NewFocusWindowTool(driver Driver) *FocusWindowTool {
	return &FocusWindowTool{driver: driver}
}

// Definition возвращает определение инструмента для function calling.
func (t *FocusWindowTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "focus_window",
		Description: "Bring a window to the foreground by title substring. Use list_windows to find titles.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Window title or its substring",
				},
			},
			"required": []string{"title"},
		},
	}
}

type focusArgs struct {
	Title string `json:"title"`
}

// Execute выполняет инструмент согласно контракту "Raw In, String Out".
func (t *FocusWindowTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	var args focusArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid focus_window arguments: %w", err)
	}
	if args.Title == "" {
		return "", fmt.Errorf("title must not be empty")
	}

	if err := t.driver.FocusWindow(ctx, args.Title); err != nil {
		return "", fmt.Errorf("failed to focus '%s': %w", args.Title, err)
	}
	return fmt.Sprintf("focused window matching %q", args.Title), nil
}
