// Построчный разбор server-sent events.
package transport

import (
	"bufio"
	"bytes"
	"io"
)

// SSEEvent — одно событие потока.
type SSEEvent struct {
	// Event — значение поля "event:" (Anthropic их типизирует, OpenAI нет).
	Event string

	// Data — склеенные "data:" строки события.
	Data []byte
}

// SSEDecoder читает server-sent events из тела ответа.
//
// Несколько "data:" строк одного события склеиваются через \n по SSE спецификации.
// Комментарии (строки с ":") пропускаются.
type SSEDecoder struct {
	r *bufio.Reader
}

// NewSSEDecoder создаёт декодер поверх r.
func NewSSEDecoder(r io.Reader) *SSEDecoder {
	return &SSEDecoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next возвращает следующее событие потока.
//
// io.EOF означает конец потока. Накопленные до EOF данные отдаются
// как последнее событие.
func (d *SSEDecoder) Next() (SSEEvent, error) {
	var ev SSEEvent
	var dataLines [][]byte

	flush := func() SSEEvent {
		ev.Data = bytes.Join(dataLines, []byte("\n"))
		return ev
	}

	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			if len(line) > 0 {
				line = bytes.TrimRight(line, "\r\n")
				d.consumeLine(line, &ev, &dataLines)
			}
			if len(dataLines) > 0 {
				return flush(), nil
			}
			if err == io.EOF {
				return SSEEvent{}, io.EOF
			}
			return SSEEvent{}, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(dataLines) == 0 {
				continue
			}
			return flush(), nil
		}

		// Комментарий
		if line[0] == ':' {
			continue
		}
		d.consumeLine(line, &ev, &dataLines)
	}
}

// consumeLine разбирает одну строку события.
func (d *SSEDecoder) consumeLine(line []byte, ev *SSEEvent, dataLines *[][]byte) {
	switch {
	case bytes.HasPrefix(line, []byte("data:")):
		val := bytes.TrimPrefix(line, []byte("data:"))
		if len(val) > 0 && val[0] == ' ' {
			val = val[1:]
		}
		*dataLines = append(*dataLines, append([]byte(nil), val...))
	case bytes.HasPrefix(line, []byte("event:")):
		val := bytes.TrimPrefix(line, []byte("event:"))
		ev.Event = string(bytes.TrimSpace(val))
	}
}

// DoneSentinel — маркер конца OpenAI-style потока.
var DoneSentinel = []byte("[DONE]")

// IsDone проверяет событие на сентинел конца потока.
func IsDone(ev SSEEvent) bool {
	return bytes.Equal(bytes.TrimSpace(ev.Data), DoneSentinel)
}
