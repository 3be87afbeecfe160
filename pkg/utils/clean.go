// Package utils предоставляет вспомогательные функции для обработки данных.
//
// Включает утилиты для очистки ответов LLM от markdown-обёртки,
// санитизации JSON и других форматирующих операций.
package utils

import (
	"strings"
)

// CleanJsonBlock удаляет markdown-обёртку вокруг JSON.
//
// LLM часто возвращает JSON обёрнутым в markdown кодовые блоки:
//   ```json
//   {"key": "value"}
//   ```
//
// Эта функция очищает такие обёртки, возвращая чистый JSON.
//
// Примеры:
//   ```json {"a": 1} ``` → {"a": 1}
//   `{"a": 1}` → {"a": 1}
//   ``` {"a": 1} ``` → {"a": 1}
func CleanJsonBlock(s string) string {
	s = strings.TrimSpace(s)

	// Удаляем ```json в начале
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```Json")

	// Удаляем ``` в начале
	s = strings.TrimPrefix(s, "```")

	// Удаляем ``` в конце
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

// WrapText переносит текст по словам с учетом заданной ширины.
//
// Сохраняет существующие переносы строк и не разрывает слова.
// Если ширина меньше 1, возвращает исходный текст без изменений.
//
// Параметры:
//   s - исходный текст
//   width - максимальная ширина строки в символах
//
// Примеры:
//   WrapText("hello world", 5) → "hello\nworld"
//   WrapText("a\nb\nc", 10) → "a\nb\nc" (сохраняет переносы)
func WrapText(s string, width int) string {
	if width < 1 {
		return s
	}

	// Разбиваем на исходные строки
	lines := strings.Split(s, "\n")
	var result []string

	for _, line := range lines {
		// Пропускаем пустые строки
		if strings.TrimSpace(line) == "" {
			result = append(result, "")
			continue
		}

		// Разбиваем строку на слова
		words := strings.Fields(line)

		if len(words) == 0 {
			result = append(result, "")
			continue
		}

		currentLine := words[0]
		for _, word := range words[1:] {
			// Проверяем, поместится ли следующее слово
			testLine := currentLine + " " + word
			if len(testLine) <= width {
				currentLine = testLine
			} else {
				// Слово не помещается - переносим строку
				result = append(result, currentLine)
				currentLine = word
			}
		}
		result = append(result, currentLine)
	}

	return strings.Join(result, "\n")
}
