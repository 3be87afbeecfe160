package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SetupGracefulShutdownWithContext создаёт корневой контекст CLI и вешает
// обработчик SIGINT/SIGTERM.
//
// Ctrl+C во время задачи не роняет процесс: контекст отменяется, цикл
// агента дорабатывает текущий инструмент, сохраняет сессию со статусом
// cancelled и выходит сам. Возвращённый shutdown вызывается через defer
// в конце main — он закрывает файловый лог.
//
// Rule 11: Уважает context.Context для распространения отмены.
func SetupGracefulShutdownWithContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		Info("Received signal, shutting down gracefully", "signal", sig.String())
		cancel()
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		Close()
	}
}
