package std

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ilkoid/deskpilot/pkg/tools"
)

// Верхняя граница ожидания: модель не должна усыплять агента надолго.
const maxWaitMs = 30_000

// WaitTool — пауза между действиями.
//
// UI нужно время на анимации и загрузку: модель вызывает wait
// перед повторным see, чтобы не кликать по недорисованному экрану.
type WaitTool struct{}

// NewWaitTool создает инструмент ожидания.
func NewWaitTool() *WaitTool {
	return &WaitTool{}
}

// Definition возвращает определение инструмента для function calling.
func (t *WaitTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "wait",
		Description: "Pause for the given number of milliseconds, e.g. to let a page load before taking a screenshot.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ms": map[string]interface{}{
					"type":        "integer",
					"description": "Milliseconds to wait, max 30000",
				},
			},
			"required": []string{"ms"},
		},
	}
}

type waitArgs struct {
	Ms int `json:"ms"`
}

// Execute выполняет инструмент согласно контракту "Raw In, String Out".
func (t *WaitTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	var args waitArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid wait arguments: %w", err)
	}
	if args.Ms <= 0 {
		return "", fmt.Errorf("ms must be positive")
	}
	if args.Ms > maxWaitMs {
		args.Ms = maxWaitMs
	}

	select {
	case <-time.After(time.Duration(args.Ms) * time.Millisecond):
		return fmt.Sprintf("waited %d ms", args.Ms), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
