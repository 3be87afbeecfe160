package std

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ilkoid/deskpilot/pkg/tools"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

// ClickTool — клик мышью по экранным координатам.
type ClickTool struct {
	driver Driver
}

// NewClickTool создает инструмент клика.
func NewClickTool(driver Driver) *ClickTool {
	return &ClickTool{driver: driver}
}

// Definition возвращает определение инструмента для function calling.
func (t *ClickTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "click",
		Description: "Click at screen coordinates. Use the 'see' tool first to find the target position.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"x": map[string]interface{}{
					"type":        "integer",
					"description": "X coordinate in screen pixels",
				},
				"y": map[string]interface{}{
					"type":        "integer",
					"description": "Y coordinate in screen pixels",
				},
				"button": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"left", "right", "middle"},
					"description": "Mouse button, default left",
				},
				"double": map[string]interface{}{
					"type":        "boolean",
					"description": "Double click instead of single",
				},
			},
			"required": []string{"x", "y"},
		},
	}
}

type clickArgs struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Button string `json:"button"`
	Double bool   `json:"double"`
}

// Execute выполняет инструмент согласно контракту "Raw In, String Out".
func (t *ClickTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	var args clickArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid click arguments: %w", err)
	}
	if args.Button == "" {
		args.Button = "left"
	}

	if err := t.driver.Click(ctx, args.X, args.Y, args.Button, args.Double); err != nil {
		return "", fmt.Errorf("click failed: %w", err)
	}

	utils.Debug("Click executed", "x", args.X, "y", args.Y, "button", args.Button, "double", args.Double)
	return fmt.Sprintf("clicked %s at (%d, %d)", args.Button, args.X, args.Y), nil
}

// ScrollTool — прокрутка в точке экрана.
type ScrollTool struct {
	driver Driver
}

// NewScrollTool создает инструмент прокрутки.
func NewScrollTool(driver Driver) *ScrollTool {
	return &ScrollTool{driver: driver}
}

// Definition возвращает определение инструмента для function calling.
func (t *ScrollTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "scroll",
		Description: "Scroll at the given screen position. Positive delta_y scrolls down, negative scrolls up.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"x": map[string]interface{}{
					"type":        "integer",
					"description": "X coordinate to scroll at",
				},
				"y": map[string]interface{}{
					"type":        "integer",
					"description": "Y coordinate to scroll at",
				},
				"delta_x": map[string]interface{}{
					"type":        "integer",
					"description": "Horizontal scroll amount",
				},
				"delta_y": map[string]interface{}{
					"type":        "integer",
					"description": "Vertical scroll amount",
				},
			},
			"required": []string{"x", "y"},
		},
	}
}

type scrollArgs struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	DeltaX int `json:"delta_x"`
	DeltaY int `json:"delta_y"`
}

// Execute выполняет инструмент согласно контракту "Raw In, String Out".
func (t *ScrollTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	var args scrollArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid scroll arguments: %w", err)
	}
	if args.DeltaX == 0 && args.DeltaY == 0 {
		args.DeltaY = 3 // дефолт: небольшая прокрутка вниз
	}

	if err := t.driver.Scroll(ctx, args.X, args.Y, args.DeltaX, args.DeltaY); err != nil {
		return "", fmt.Errorf("scroll failed: %w", err)
	}
	return fmt.Sprintf("scrolled (%d, %d) at (%d, %d)", args.DeltaX, args.DeltaY, args.X, args.Y), nil
}
