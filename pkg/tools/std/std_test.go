package std

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/ilkoid/deskpilot/pkg/tools"
)

// mockDriver записывает вызовы и отдаёт заранее заданные данные.
type mockDriver struct {
	calls   []string
	windows []Window
	failAll bool
}

func (d *mockDriver) record(format string, args ...any) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *mockDriver) err() error {
	if d.failAll {
		return errors.New("driver unavailable")
	}
	return nil
}

func (d *mockDriver) CaptureScreen(ctx context.Context) (image.Image, error) {
	d.record("capture")
	if d.failAll {
		return nil, d.err()
	}
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		for y := 0; y < 48; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	return img, nil
}

func (d *mockDriver) Click(ctx context.Context, x, y int, button string, double bool) error {
	d.record("click %d %d %s %v", x, y, button, double)
	return d.err()
}

func (d *mockDriver) TypeText(ctx context.Context, text string) error {
	d.record("type %s", text)
	return d.err()
}

func (d *mockDriver) Hotkey(ctx context.Context, keys []string) error {
	d.record("hotkey %s", strings.Join(keys, "+"))
	return d.err()
}

func (d *mockDriver) Scroll(ctx context.Context, x, y, dx, dy int) error {
	d.record("scroll %d %d %d %d", x, y, dx, dy)
	return d.err()
}

func (d *mockDriver) LaunchApp(ctx context.Context, name string) error {
	d.record("launch %s", name)
	return d.err()
}

func (d *mockDriver) ListWindows(ctx context.Context) ([]Window, error) {
	d.record("list_windows")
	return d.windows, d.err()
}

func (d *mockDriver) FocusWindow(ctx context.Context, title string) error {
	d.record("focus %s", title)
	return d.err()
}

func TestClickDefaultsToLeftButton(t *testing.T) {
	driver := &mockDriver{}
	tool := NewClickTool(driver)

	out, err := tool.Execute(context.Background(), `{"x": 100, "y": 200}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "left") {
		t.Errorf("output = %q, want left button mention", out)
	}
	if driver.calls[0] != "click 100 200 left false" {
		t.Errorf("driver call = %q", driver.calls[0])
	}
}

func TestClickDriverErrorSurfaces(t *testing.T) {
	tool := NewClickTool(&mockDriver{failAll: true})
	_, err := tool.Execute(context.Background(), `{"x": 1, "y": 2}`)
	if err == nil {
		t.Fatal("driver error should surface")
	}
}

func TestSeeReturnsDataURI(t *testing.T) {
	tool := NewSeeTool(&mockDriver{}, nil, 0, 85)

	out, err := tool.Execute(context.Background(), `{}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var result struct {
		Screen       string `json:"screen"`
		ImageDataURI string `json:"image_data_uri"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if result.Screen != "64x48" {
		t.Errorf("screen = %q, want 64x48", result.Screen)
	}
	if !strings.HasPrefix(result.ImageDataURI, "data:image/jpeg;base64,") {
		t.Errorf("image_data_uri should be a JPEG data URI")
	}
}

func TestTypeRejectsEmptyText(t *testing.T) {
	tool := NewTypeTextTool(&mockDriver{})
	if _, err := tool.Execute(context.Background(), `{"text": ""}`); err == nil {
		t.Fatal("empty text should be rejected")
	}
}

func TestHotkeyJoinsKeys(t *testing.T) {
	driver := &mockDriver{}
	tool := NewHotkeyTool(driver)

	out, err := tool.Execute(context.Background(), `{"keys": ["ctrl", "shift", "t"]}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "pressed ctrl+shift+t" {
		t.Errorf("output = %q", out)
	}
}

func TestListWindowsMarshalsState(t *testing.T) {
	driver := &mockDriver{windows: []Window{
		{ID: 1, App: "Firefox", Title: "Docs", Focused: true, Width: 1280, Height: 720},
		{ID: 2, App: "Terminal", Title: "~"},
	}}
	tool := NewListWindowsTool(driver)

	out, err := tool.Execute(context.Background(), `{}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var windows []Window
	if err := json.Unmarshal([]byte(out), &windows); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(windows) != 2 || !windows[0].Focused {
		t.Errorf("windows = %+v", windows)
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tool := NewWaitTool()

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := tool.Execute(ctx, `{"ms": 10000}`)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("wait should return promptly after cancellation")
	}
}

func TestWaitCapsDuration(t *testing.T) {
	tool := NewWaitTool()
	// За пределами лимита значение обрезается, но для теста берём малое
	out, err := tool.Execute(context.Background(), `{"ms": 5}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "waited 5 ms" {
		t.Errorf("output = %q", out)
	}
}

func TestRegisterAllNames(t *testing.T) {
	registry := tools.NewRegistry()
	see, err := RegisterAll(registry, &mockDriver{}, Options{})
	if err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	if see == nil {
		t.Fatal("RegisterAll() should return the see tool")
	}

	want := []string{"click", "focus_window", "hotkey", "launch_app", "list_windows", "scroll", "see", "type", "wait"}
	defs := registry.GetDefinitions()
	if len(defs) != len(want) {
		t.Fatalf("registered %d tools, want %d", len(defs), len(want))
	}
	for i, def := range defs {
		if def.Name != want[i] {
			t.Errorf("defs[%d] = %q, want %q", i, def.Name, want[i])
		}
	}
}
