// Таксономия ошибок LLM слоя.
//
// Каждая ошибка классифицируется по ErrorKind: шлюз и оркестратор принимают
// решения (ретраить, завершать сессию) по виду ошибки, не по тексту.
package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind — класс ошибки провайдера.
type ErrorKind string

// Классы ошибок.
const (
	// KindAuth — невалидный или отсутствующий credential. Фатально, не ретраится.
	KindAuth ErrorKind = "auth"

	// KindRateLimit — лимит запросов. Ретраится с учётом Retry-After.
	KindRateLimit ErrorKind = "rate_limit"

	// KindNetwork — сетевая ошибка или 5xx. Ретраится до исчерпания попыток.
	KindNetwork ErrorKind = "network"

	// KindBadRequest — 4xx кроме rate limit. Не ретраится.
	KindBadRequest ErrorKind = "bad_request"

	// KindMalformed — ответ бэкенда не распарсился. Текущий ход завершается
	// ошибкой, без попыток угадать намерение модели.
	KindMalformed ErrorKind = "malformed"
)

// APIError — ошибка обращения к провайдеру.
type APIError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error

	// RetryAfter — явная подсказка сервера о времени ожидания (Retry-After).
	// Если > 0, транспорт использует её вместо вычисленного backoff.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (http %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Cause }

// AsAPIError извлекает *APIError из цепочки ошибок.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsKind проверяет класс ошибки.
func IsKind(err error, kind ErrorKind) bool {
	ae, ok := AsAPIError(err)
	return ok && ae.Kind == kind
}

// IsAuthFailed — true для фатальной ошибки аутентификации.
func IsAuthFailed(err error) bool { return IsKind(err, KindAuth) }

// IsRetryable — true для классов, которые транспорт ретраит.
func IsRetryable(err error) bool {
	return IsKind(err, KindNetwork) || IsKind(err, KindRateLimit)
}
