// Повторы потоковых запросов: обрыв до первого доставленного события
// эквивалентен несостоявшемуся запросу и ретраится целиком.
package transport

import (
	"context"
	"errors"
	"io"

	"github.com/ilkoid/deskpilot/pkg/llm"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

// OpenStream открывает поток через open и навешивает политику повторов.
//
// open выполняет одну попытку установления потока (обычно уже с дозвоном
// через Do внутри). Пока вызывающему не отдано ни одного события, дубликатов
// вывода быть не может, поэтому retryable обрыв чтения переоткрывает весь
// запрос. После первого доставленного события обрыв отдаётся как есть —
// терминальность решает адаптер.
func OpenStream(ctx context.Context, cfg RetryConfig, open func() (llm.Stream, error)) (llm.Stream, error) {
	inner, err := open()
	if err != nil {
		return nil, err
	}
	return &retryStream{ctx: ctx, cfg: cfg, open: open, inner: inner}, nil
}

// OpenStream — вариант метода с политикой повторов этого транспорта.
func (c *Client) OpenStream(ctx context.Context, open func() (llm.Stream, error)) (llm.Stream, error) {
	return OpenStream(ctx, c.cfg.Retry, open)
}

type retryStream struct {
	ctx   context.Context
	cfg   RetryConfig
	open  func() (llm.Stream, error)
	inner llm.Stream

	delivered bool
	drops     int
	closed    bool
}

// Recv возвращает следующее событие, переоткрывая запрос при обрыве
// до первой доставки.
func (s *retryStream) Recv() (llm.StreamEvent, error) {
	if s.closed {
		return llm.StreamEvent{}, llm.ErrStreamClosed
	}
	for {
		ev, err := s.inner.Recv()
		if err == nil {
			s.delivered = true
			return ev, nil
		}
		if errors.Is(err, io.EOF) || s.delivered || !llm.IsRetryable(err) {
			return llm.StreamEvent{}, err
		}
		if rerr := s.reopen(err); rerr != nil {
			return llm.StreamEvent{}, rerr
		}
	}
}

// reopen переустанавливает поток после обрыва до первой доставки.
//
// Обрывы расходуют общий бюджет попыток; по исчерпании возвращается
// последняя ошибка.
func (s *retryStream) reopen(cause error) error {
	attempts := s.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	s.inner.Close()
	for {
		s.drops++
		if s.drops >= attempts {
			return cause
		}

		delay := s.cfg.backoff(s.drops)
		if ae, ok := llm.AsAPIError(cause); ok && ae.RetryAfter > 0 {
			delay = ae.RetryAfter
		}
		utils.Warn("Stream dropped before any output, reopening",
			"attempt", s.drops,
			"delay", delay,
			"error", cause,
		)
		if err := sleep(s.ctx, delay); err != nil {
			return err
		}

		next, err := s.open()
		if err == nil {
			s.inner = next
			return nil
		}
		if !llm.IsRetryable(err) {
			return err
		}
		cause = err
	}
}

func (s *retryStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.inner.Close()
}

var _ llm.Stream = (*retryStream)(nil)
