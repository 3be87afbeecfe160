// Package driver содержит платформенные реализации std.Driver.
//
// XDriver управляет X11 рабочим столом через внешние утилиты
// (xdotool, wmctrl, scrot) — самый переносимый способ автоматизации
// без CGO-привязок к libX11.
//
// Требования к системе:
//   - xdotool — мышь, клавиатура, активное окно
//   - wmctrl  — список окон и фокус
//   - scrot   — скриншоты
package driver

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ilkoid/deskpilot/pkg/tools/std"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

// XDriver — реализация std.Driver поверх X11 утилит.
//
// Rule 5: состояния нет, поэтому доступ из нескольких goroutine безопасен.
type XDriver struct {
	// TmpDir — каталог для временных файлов скриншотов. Пусто — os.TempDir().
	TmpDir string
}

// Compile-time проверка соответствия интерфейсу.
var _ std.Driver = (*XDriver)(nil)

// NewXDriver создаёт драйвер и проверяет наличие внешних утилит.
//
// Rule 7: отсутствие утилиты — ошибка при создании, а не паника
// посреди задачи.
func NewXDriver() (*XDriver, error) {
	for _, bin := range []string{"xdotool", "wmctrl", "scrot"} {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("required tool '%s' not found in PATH: %w", bin, err)
		}
	}
	if os.Getenv("DISPLAY") == "" {
		return nil, fmt.Errorf("DISPLAY is not set: X11 session required")
	}
	return &XDriver{}, nil
}

// run выполняет внешнюю команду и возвращает stdout.
func (d *XDriver) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s failed: %s", name, msg)
	}
	return stdout.String(), nil
}

// CaptureScreen снимает весь экран через scrot.
func (d *XDriver) CaptureScreen(ctx context.Context) (image.Image, error) {
	dir := d.TmpDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("deskpilot-%d.png", time.Now().UnixNano()))
	defer os.Remove(path)

	if _, err := d.run(ctx, "scrot", "--overwrite", path); err != nil {
		return nil, fmt.Errorf("screen capture: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("screen capture: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

// xdotoolButton переводит имя кнопки в номер X11.
func xdotoolButton(button string) (string, error) {
	switch button {
	case "left", "":
		return "1", nil
	case "middle":
		return "2", nil
	case "right":
		return "3", nil
	default:
		return "", fmt.Errorf("unknown mouse button '%s'", button)
	}
}

// Click перемещает курсор и кликает.
func (d *XDriver) Click(ctx context.Context, x, y int, button string, double bool) error {
	btn, err := xdotoolButton(button)
	if err != nil {
		return err
	}
	args := []string{"mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y), "click"}
	if double {
		args = append(args, "--repeat", "2", "--delay", "120")
	}
	args = append(args, btn)

	_, err = d.run(ctx, "xdotool", args...)
	return err
}

// TypeText печатает текст в окно с фокусом.
func (d *XDriver) TypeText(ctx context.Context, text string) error {
	// "--" отделяет текст от флагов: текст может начинаться с "-".
	_, err := d.run(ctx, "xdotool", "type", "--delay", "12", "--", text)
	return err
}

// hotkeyNames — нормализация имён клавиш к формату xdotool.
var hotkeyNames = map[string]string{
	"ctrl":      "ctrl",
	"control":   "ctrl",
	"alt":       "alt",
	"shift":     "shift",
	"super":     "super",
	"win":       "super",
	"cmd":       "super",
	"enter":     "Return",
	"return":    "Return",
	"esc":       "Escape",
	"escape":    "Escape",
	"tab":       "Tab",
	"space":     "space",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"home":      "Home",
	"end":       "End",
	"pageup":    "Page_Up",
	"pagedown":  "Page_Down",
}

// Hotkey нажимает сочетание клавиш.
func (d *XDriver) Hotkey(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("hotkey requires at least one key")
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.ToLower(strings.TrimSpace(k))
		if mapped, ok := hotkeyNames[name]; ok {
			parts = append(parts, mapped)
		} else {
			parts = append(parts, k)
		}
	}
	_, err := d.run(ctx, "xdotool", "key", "--clearmodifiers", strings.Join(parts, "+"))
	return err
}

// Scroll прокручивает в точке экрана.
//
// X11 кодирует прокрутку кнопками мыши: 4/5 — вертикаль, 6/7 — горизонталь.
func (d *XDriver) Scroll(ctx context.Context, x, y, deltaX, deltaY int) error {
	if _, err := d.run(ctx, "xdotool", "mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return err
	}
	scroll := func(button string, times int) error {
		if times == 0 {
			return nil
		}
		_, err := d.run(ctx, "xdotool", "click", "--repeat", strconv.Itoa(times), button)
		return err
	}
	if deltaY > 0 {
		if err := scroll("5", deltaY); err != nil {
			return err
		}
	} else if deltaY < 0 {
		if err := scroll("4", -deltaY); err != nil {
			return err
		}
	}
	if deltaX > 0 {
		return scroll("7", deltaX)
	}
	if deltaX < 0 {
		return scroll("6", -deltaX)
	}
	return nil
}

// LaunchApp запускает приложение отдельным процессом.
//
// Процесс отвязывается от нашего: приложение должно пережить
// завершение агента.
func (d *XDriver) LaunchApp(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := exec.Command(name)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch '%s': %w", name, err)
	}
	utils.Debug("Launched application", "name", name, "pid", cmd.Process.Pid)
	return cmd.Process.Release()
}

// ListWindows возвращает открытые окна через wmctrl.
func (d *XDriver) ListWindows(ctx context.Context) ([]std.Window, error) {
	out, err := d.run(ctx, "wmctrl", "-lGx")
	if err != nil {
		return nil, err
	}

	activeID := d.activeWindowID(ctx)

	var windows []std.Window
	for _, line := range strings.Split(out, "\n") {
		w, ok := parseWmctrlLine(line)
		if !ok {
			continue
		}
		w.Focused = w.ID == activeID && activeID != 0
		windows = append(windows, w)
	}
	return windows, nil
}

// activeWindowID возвращает id активного окна, 0 если неизвестно.
func (d *XDriver) activeWindowID(ctx context.Context) int {
	out, err := d.run(ctx, "xdotool", "getactivewindow")
	if err != nil {
		return 0
	}
	id, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0
	}
	return id
}

// parseWmctrlLine разбирает строку "wmctrl -lGx":
//
//	0x04000007  0 65   45   1850 1000 app.App  host Title words...
//	id          desk x    y    w    h    class  host title
func parseWmctrlLine(line string) (std.Window, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return std.Window{}, false
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(fields[0], "0x"), 16, 64)
	if err != nil {
		return std.Window{}, false
	}

	nums := make([]int, 4)
	for i := 0; i < 4; i++ {
		n, err := strconv.Atoi(fields[2+i])
		if err != nil {
			return std.Window{}, false
		}
		nums[i] = n
	}

	// Класс вида "navigator.Firefox" — берём читаемую часть после точки.
	app := fields[6]
	if idx := strings.LastIndex(app, "."); idx >= 0 && idx < len(app)-1 {
		app = app[idx+1:]
	}

	return std.Window{
		ID:     int(id),
		App:    app,
		Title:  strings.Join(fields[8:], " "),
		X:      nums[0],
		Y:      nums[1],
		Width:  nums[2],
		Height: nums[3],
	}, true
}

// FocusWindow активирует окно по подстроке заголовка.
func (d *XDriver) FocusWindow(ctx context.Context, title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("window title is required")
	}
	if _, err := d.run(ctx, "wmctrl", "-a", title); err != nil {
		return fmt.Errorf("focus window '%s': %w", title, err)
	}
	return nil
}
