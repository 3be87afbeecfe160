// Интерфейс Провайдера через который работает всё приложение.

package llm

import "context"

// Provider — абстракция над LLM API.
//
// Все адаптеры (OpenAI, Anthropic, Ollama и т.д.) реализуют этот интерфейс.
// Оркестратор и шлюз моделей не знают о wire-форматах бэкендов.
type Provider interface {
	// Generate отправляет запрос и возвращает полный ответ модели
	// в унифицированном формате Message.
	Generate(ctx context.Context, req ChatRequest) (Message, error)
}

// StreamingProvider — провайдер с поддержкой потоковой передачи.
//
// Отдельный интерфейс от Provider: не все бэкенды стримят,
// шлюз проверяет поддержку через type assertion.
type StreamingProvider interface {
	Provider

	// GenerateStream выполняет запрос с потоковой передачей ответа.
	//
	// Возвращённый Stream ленивый, конечный и не перезапускаемый:
	// Recv() отдаёт события до io.EOF, Close() освобождает соединение.
	GenerateStream(ctx context.Context, req ChatRequest) (Stream, error)
}
