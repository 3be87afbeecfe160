package events

import (
	"context"
	"testing"
	"time"
)

func TestChanEmitterDeliversInOrder(t *testing.T) {
	emitter := NewChanEmitter(8)
	sub := emitter.Subscribe()

	emitter.Emit(context.Background(), Event{Type: EventTaskStarted, Data: TaskStartedData{SessionID: "s-1"}})
	emitter.Emit(context.Background(), Event{Type: EventStepStarted, Data: StepStartedData{Step: 1}})
	emitter.Close()

	var got []EventType
	for ev := range sub.Events() {
		got = append(got, ev.Type)
	}
	if len(got) != 2 || got[0] != EventTaskStarted || got[1] != EventStepStarted {
		t.Fatalf("events = %v", got)
	}
}

func TestChanEmitterDropWhenFull(t *testing.T) {
	emitter := NewChanEmitter(1)
	emitter.DropWhenFull = true

	// Подписчика нет, буфер на одно событие: второе должно отброситься
	// без блокировки.
	done := make(chan struct{})
	go func() {
		defer close(done)
		emitter.Emit(context.Background(), Event{Type: EventStepStarted})
		emitter.Emit(context.Background(), Event{Type: EventMessage})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked despite DropWhenFull")
	}

	emitter.Close()
	var got []EventType
	for ev := range emitter.Subscribe().Events() {
		got = append(got, ev.Type)
	}
	if len(got) != 1 || got[0] != EventStepStarted {
		t.Fatalf("events = %v", got)
	}
}

func TestChanEmitterBlockingEmitRespectsContext(t *testing.T) {
	emitter := NewChanEmitter(0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		emitter.Emit(ctx, Event{Type: EventMessage})
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit did not return after context cancellation")
	}
}

func TestChanEmitterEmitAfterClose(t *testing.T) {
	emitter := NewChanEmitter(4)
	emitter.Close()
	// Не должно паниковать на закрытом канале.
	emitter.Emit(context.Background(), Event{Type: EventDone})
	emitter.Close()
}

func TestNopEmitter(t *testing.T) {
	var e NopEmitter
	e.Emit(context.Background(), Event{Type: EventDone})
}
