// Package std содержит стандартные инструменты управления рабочим столом.
//
// Все инструменты делегируют реальные действия интерфейсу Driver:
// платформенная реализация (X11, Wayland, macOS) живёт отдельно,
// инструменты отвечают только за контракт "Raw In, String Out".
package std

import (
	"context"
	"image"
)

// Window — описание окна рабочего стола.
type Window struct {
	ID      int    `json:"id"`
	App     string `json:"app"`
	Title   string `json:"title"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Focused bool   `json:"focused"`
}

// Driver — платформенный бэкенд автоматизации.
//
// Rule 11: все методы принимают context.Context — действие может
// быть отменено пользователем в любой момент.
type Driver interface {
	// CaptureScreen снимает весь экран.
	CaptureScreen(ctx context.Context) (image.Image, error)

	// Click кликает по экранным координатам.
	// button: "left", "right" или "middle".
	Click(ctx context.Context, x, y int, button string, double bool) error

	// TypeText печатает текст в текущий фокус.
	TypeText(ctx context.Context, text string) error

	// Hotkey нажимает сочетание клавиш, например ["ctrl", "s"].
	Hotkey(ctx context.Context, keys []string) error

	// Scroll прокручивает в точке экрана.
	Scroll(ctx context.Context, x, y, deltaX, deltaY int) error

	// LaunchApp запускает приложение по имени.
	LaunchApp(ctx context.Context, name string) error

	// ListWindows возвращает открытые окна.
	ListWindows(ctx context.Context) ([]Window, error)

	// FocusWindow переводит фокус на окно по заголовку (подстрока).
	FocusWindow(ctx context.Context, title string) error
}
