package utils

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // скриншоты с некоторых драйверов приходят в PNG

	"github.com/nfnt/resize"
)

// ResizeImage приводит скриншот к ширине maxWidth для передачи модели.
//
// Полноразмерный кадр рабочего стола слишком тяжёл для vision-входа,
// поэтому перед кодированием в data URI кадр ужимается. Пропорции
// сохраняются, выход всегда JPEG независимо от формата драйвера.
//
// maxWidth <= 0 или кадр уже уже цели — без ресайза, только
// перекодирование. quality — JPEG качество 1-100.
func ResizeImage(data []byte, maxWidth int, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		// Высота 0 — resize сам сохраняет пропорции
		img = resize.Resize(uint(maxWidth), 0, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}
