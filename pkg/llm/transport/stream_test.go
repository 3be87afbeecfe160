package transport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ilkoid/deskpilot/pkg/llm"
)

// scriptedStream отдаёт заданные события, затем ошибку.
type scriptedStream struct {
	events []llm.StreamEvent
	err    error
	closed bool
}

func (s *scriptedStream) Recv() (llm.StreamEvent, error) {
	if len(s.events) == 0 {
		return llm.StreamEvent{}, s.err
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func netError() *llm.APIError {
	return &llm.APIError{Provider: "test", Kind: llm.KindNetwork, Message: "connection reset"}
}

func TestOpenStreamReopensOnPreDeliveryDrop(t *testing.T) {
	first := &scriptedStream{err: netError()}
	second := &scriptedStream{
		events: []llm.StreamEvent{
			{Kind: llm.StreamEventTextDelta, TextDelta: "hi"},
			{Kind: llm.StreamEventCompleted, FinishReason: llm.FinishStop},
		},
		err: io.EOF,
	}

	opens := 0
	stream, err := OpenStream(context.Background(), fastRetry(), func() (llm.Stream, error) {
		opens++
		if opens == 1 {
			return first, nil
		}
		return second, nil
	})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	// Обрыв случился до единственного события — запрос переоткрыт целиком
	ev, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if ev.TextDelta != "hi" {
		t.Errorf("first event = %+v, want text delta from reopened stream", ev)
	}
	if opens != 2 {
		t.Errorf("opens = %d, want 2", opens)
	}
	if !first.closed {
		t.Error("dropped stream should be closed before reopening")
	}

	if ev, err = stream.Recv(); err != nil || ev.Kind != llm.StreamEventCompleted {
		t.Errorf("second event = %+v, %v", ev, err)
	}
	if _, err = stream.Recv(); err != io.EOF {
		t.Errorf("tail error = %v, want io.EOF", err)
	}
}

func TestOpenStreamPostDeliveryErrorNotRetried(t *testing.T) {
	opens := 0
	stream, err := OpenStream(context.Background(), fastRetry(), func() (llm.Stream, error) {
		opens++
		return &scriptedStream{
			events: []llm.StreamEvent{{Kind: llm.StreamEventTextDelta, TextDelta: "partial"}},
			err:    netError(),
		}, nil
	})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	if _, err := stream.Recv(); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	// Контент уже доставлен — повтор продублировал бы вывод
	if _, err := stream.Recv(); !llm.IsRetryable(err) {
		t.Fatalf("Recv() error = %v, want the classified drop error", err)
	}
	if opens != 1 {
		t.Errorf("opens = %d, post-delivery drop must not reopen", opens)
	}
}

func TestOpenStreamFatalErrorNotRetried(t *testing.T) {
	opens := 0
	stream, err := OpenStream(context.Background(), fastRetry(), func() (llm.Stream, error) {
		opens++
		return &scriptedStream{err: &llm.APIError{Provider: "test", Kind: llm.KindAuth, StatusCode: 401}}, nil
	})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	_, err = stream.Recv()
	if !llm.IsAuthFailed(err) {
		t.Fatalf("Recv() error = %v, want auth failure", err)
	}
	if opens != 1 {
		t.Errorf("opens = %d, fatal error must not reopen", opens)
	}
}

func TestOpenStreamRetryBudgetExhausted(t *testing.T) {
	opens := 0
	stream, err := OpenStream(context.Background(), fastRetry(), func() (llm.Stream, error) {
		opens++
		return &scriptedStream{err: netError()}, nil
	})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	_, err = stream.Recv()
	if err == nil {
		t.Fatal("Recv() should surface the drop after the budget runs out")
	}
	if opens != 3 {
		t.Errorf("opens = %d, want MaxAttempts total", opens)
	}
}
