package std

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"sync"

	"github.com/ilkoid/deskpilot/pkg/artifacts"
	"github.com/ilkoid/deskpilot/pkg/tools"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

// SeeTool — инструмент снятия скриншота экрана.
//
// Отдаёт уменьшенный JPEG как data URI в поле image_data_uri: исполнитель
// поднимает его из текста результата, и кадр доходит до модели
// image-частью сообщения. При подключённом хранилище артефактов полный
// кадр дополнительно уезжает в S3 для постфактум-разбора сессии.
type SeeTool struct {
	driver   Driver
	store    artifacts.StoreInterface // опционально, может быть nil
	maxWidth int
	quality  int

	mu        sync.Mutex
	sessionID string
	captures  int
}

var _ tools.SessionAware = (*SeeTool)(nil)

// NewSeeTool создает инструмент скриншотов.
//
// maxWidth ограничивает ширину кадра, отдаваемого модели (0 — без
// ресайза). quality — JPEG качество 1-100.
func NewSeeTool(driver Driver, store artifacts.StoreInterface, maxWidth, quality int) *SeeTool {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &SeeTool{
		driver:   driver,
		store:    store,
		maxWidth: maxWidth,
		quality:  quality,
	}
}

// SetSession привязывает последующие скриншоты к сессии.
//
// Thread-safe. Сбрасывает счётчик кадров.
func (t *SeeTool) SetSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = sessionID
	t.captures = 0
}

// Definition возвращает определение инструмента для function calling.
func (t *SeeTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "see",
		Description: "Capture a screenshot of the current screen. The screenshot is attached to the conversation as an image along with the screen dimensions. Call this before clicking or typing to understand what is on screen.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
			"required":   []string{},
		},
	}
}

// seeResult — JSON вывода инструмента. ImageDataURI из текста результата
// поднимает исполнитель, модели в тексте остаются размеры и ключ артефакта.
type seeResult struct {
	Screen       string `json:"screen"`
	ArtifactKey  string `json:"artifact_key,omitempty"`
	ImageDataURI string `json:"image_data_uri"`
}

// Execute выполняет инструмент согласно контракту "Raw In, String Out".
func (t *SeeTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	img, err := t.driver.CaptureScreen(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to capture screen: %w", err)
	}

	bounds := img.Bounds()

	var raw bytes.Buffer
	if err := jpeg.Encode(&raw, img, &jpeg.Options{Quality: t.quality}); err != nil {
		return "", fmt.Errorf("failed to encode screenshot: %w", err)
	}

	scaled, err := utils.ResizeImage(raw.Bytes(), t.maxWidth, t.quality)
	if err != nil {
		return "", fmt.Errorf("failed to resize screenshot: %w", err)
	}

	result := seeResult{
		Screen:       fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()),
		ImageDataURI: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(scaled),
	}

	if t.store != nil {
		t.mu.Lock()
		sessionID := t.sessionID
		t.captures++
		step := t.captures
		t.mu.Unlock()

		if sessionID != "" {
			key, err := t.store.SaveScreenshot(ctx, sessionID, step, raw.Bytes())
			if err != nil {
				// Артефакт — не критичный путь: модель получит кадр и без S3
				utils.Warn("Screenshot artifact upload failed", "session_id", sessionID, "error", err)
			} else {
				result.ArtifactKey = key
			}
		}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	utils.Debug("Screen captured", "screen", result.Screen, "bytes", len(scaled))
	return string(data), nil
}
