package std

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ilkoid/deskpilot/pkg/tools"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

// TypeTextTool — печать текста в текущий фокус ввода.
type TypeTextTool struct {
	driver Driver
}

// NewTypeTextTool создает инструмент печати.
func NewTypeTextTool(driver Driver) *TypeTextTool {
	return &TypeTextTool{driver: driver}
}

// Definition возвращает определение инструмента для function calling.
func (t *TypeTextTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "type",
		Description: "Type text into the currently focused input. Click the target field first if it is not focused.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "The text to type",
				},
			},
			"required": []string{"text"},
		},
	}
}

type typeArgs struct {
	Text string `json:"text"`
}

// Execute выполняет инструмент согласно контракту "Raw In, String Out".
func (t *TypeTextTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	var args typeArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid type arguments: %w", err)
	}
	if args.Text == "" {
		return "", fmt.Errorf("text must not be empty")
	}

	if err := t.driver.TypeText(ctx, args.Text); err != nil {
		return "", fmt.Errorf("typing failed: %w", err)
	}

	utils.Debug("Text typed", "length", len(args.Text))
	return fmt.Sprintf("typed %d characters", len(args.Text)), nil
}

// HotkeyTool — нажатие сочетания клавиш.
type HotkeyTool struct {
	driver Driver
}

// NewHotkeyTool создает инструмент горячих клавиш.
func NewHotkeyTool(driver Driver) *HotkeyTool {
	return &HotkeyTool{driver: driver}
}

// Definition возвращает определение инструмента для function calling.
func (t *HotkeyTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "hotkey",
		Description: "Press a keyboard shortcut, e.g. [\"ctrl\", \"s\"] to save or [\"alt\", \"tab\"] to switch windows.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"keys": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Keys pressed together, modifiers first",
				},
			},
			"required": []string{"keys"},
		},
	}
}

type hotkeyArgs struct {
	Keys []string `json:"keys"`
}

// Execute выполняет инструмент согласно контракту "Raw In, String Out".
func (t *HotkeyTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	var args hotkeyArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid hotkey arguments: %w", err)
	}
	if len(args.Keys) == 0 {
		return "", fmt.Errorf("keys must not be empty")
	}

	if err := t.driver.Hotkey(ctx, args.Keys); err != nil {
		return "", fmt.Errorf("hotkey failed: %w", err)
	}
	return "pressed " + strings.Join(args.Keys, "+"), nil
}
