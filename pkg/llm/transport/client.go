// Package transport реализует HTTP слой для адаптеров LLM провайдеров.
//
// Один логический запрос: либо целиком декодированное JSON тело, либо живой
// SSE/NDJSON поток. Повторы, backoff и rate limiting применяются здесь,
// адаптеры выше работают только с нейтральными типами.
//
// Rule 7: все ошибки возвращаются и классифицируются в llm.APIError.
// Rule 11: все операции уважают context.Context.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ilkoid/deskpilot/pkg/llm"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

// maxErrorBodyBytes ограничивает чтение тела ошибочного ответа.
const maxErrorBodyBytes = 64 << 10 // 64KiB

// Config настраивает транспорт одного провайдера.
type Config struct {
	// BaseURL — корень API (например, "https://api.openai.com/v1").
	BaseURL string

	// APIKey — credential. Пустой допустим для локальных бэкендов (Ollama).
	APIKey string

	// AuthHeader — заголовок credential'а. По умолчанию "Authorization"
	// со значением "Bearer <key>"; Anthropic использует "x-api-key".
	AuthHeader string

	// ExtraHeaders добавляются к каждому запросу (версии API и т.п.).
	ExtraHeaders map[string]string

	// Timeout — верхняя граница одного HTTP запроса (не стрима целиком).
	Timeout time.Duration

	// Retry — политика повторов.
	Retry RetryConfig

	// RateLimit — клиентский лимит запросов в секунду. 0 = без лимита.
	RateLimit float64

	// Burst для rate limiter'а. Используется только при RateLimit > 0.
	Burst int
}

// Client — HTTP клиент провайдера с повторами и rate limiting.
type Client struct {
	provider string
	cfg      Config
	http     *http.Client
	limiter  *rate.Limiter
}

// New создаёт транспорт для провайдера provider.
func New(provider string, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		provider: provider,
		cfg:      cfg,
		// Timeout на клиенте не ставим: он убил бы долгие стримы.
		// Границы задаются per-request контекстом в doOnce.
		http:    &http.Client{},
		limiter: limiter,
	}
}

// PostJSON отправляет payload и декодирует успешный ответ в out.
//
// Повторы по политике Retry: сетевые сбои, 5xx и rate limit ретраятся,
// остальное возвращается сразу как llm.APIError.
func (c *Client) PostJSON(ctx context.Context, path string, payload any, out any) error {
	return Do(ctx, c.cfg.Retry, func() error {
		// Timeout покрывает всю попытку: запрос и декодирование тела.
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.doOnce(attemptCtx, path, payload, false)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &llm.APIError{
				Provider: c.provider,
				Kind:     llm.KindMalformed,
				Message:  "failed to decode response body",
				Cause:    err,
			}
		}
		return nil
	})
}

// PostStream отправляет payload и возвращает живое тело ответа.
//
// Повторы здесь применяются только до успешного установления потока: пока не
// получен статус 200, ни один content delta не доставлен и повтор безопасен.
// Обрыв уже открытого потока до первой доставки переоткрывает OpenStream,
// обрыв после доставки адаптер отдаёт терминальным StreamEventFailed.
func (c *Client) PostStream(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := Do(ctx, c.cfg.Retry, func() error {
		resp, err := c.doOnce(ctx, path, payload, true)
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// doOnce выполняет одну попытку запроса и классифицирует результат.
func (c *Client) doOnce(ctx context.Context, path string, payload any, streaming bool) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &llm.APIError{
			Provider: c.provider,
			Kind:     llm.KindBadRequest,
			Message:  "failed to marshal request",
			Cause:    err,
		}
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path

	// Timeout задаёт вызывающий через ctx: PostJSON оборачивает попытку
	// целиком, PostStream оставляет родительский контекст — иначе timeout
	// убил бы долгоживущий поток.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, &llm.APIError{
			Provider: c.provider,
			Kind:     llm.KindBadRequest,
			Message:  "failed to build request",
			Cause:    err,
		}
	}

	req.Header.Set("Content-Type", "application/json")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}
	c.applyAuth(req)
	for k, v := range c.cfg.ExtraHeaders {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &llm.APIError{
			Provider: c.provider,
			Kind:     llm.KindNetwork,
			Message:  "request failed",
			Cause:    err,
		}
	}

	utils.Debug("HTTP request completed",
		"provider", c.provider,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	rawBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return nil, c.classifyStatus(resp, rawBody)
}

// applyAuth добавляет credential в запрос.
func (c *Client) applyAuth(req *http.Request) {
	if c.cfg.APIKey == "" {
		return
	}
	if c.cfg.AuthHeader != "" && !strings.EqualFold(c.cfg.AuthHeader, "Authorization") {
		req.Header.Set(c.cfg.AuthHeader, c.cfg.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
}

// classifyStatus переводит не-2xx ответ в llm.APIError.
func (c *Client) classifyStatus(resp *http.Response, body []byte) *llm.APIError {
	ae := &llm.APIError{
		Provider:   c.provider,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
	if ae.Message == "" {
		ae.Message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		ae.Kind = llm.KindAuth
	case resp.StatusCode == http.StatusTooManyRequests:
		ae.Kind = llm.KindRateLimit
		ae.RetryAfter = parseRetryAfter(resp, time.Now())
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		ae.Kind = llm.KindNetwork
	default:
		ae.Kind = llm.KindBadRequest
	}
	return ae
}

// parseRetryAfter разбирает заголовок Retry-After (секунды или HTTP-дата).
func parseRetryAfter(resp *http.Response, now time.Time) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d
	}
	return 0
}

// Provider возвращает имя провайдера (для логов и ошибок адаптеров).
func (c *Client) Provider() string { return c.provider }

// ErrMissingCredential строит фатальную auth ошибку для адаптера,
// у которого не задан API ключ.
func ErrMissingCredential(provider string) error {
	return &llm.APIError{
		Provider: provider,
		Kind:     llm.KindAuth,
		Message:  fmt.Sprintf("no API key configured for provider %q", provider),
	}
}
