package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ilkoid/deskpilot/pkg/agent"
	"github.com/ilkoid/deskpilot/pkg/events"
	"github.com/ilkoid/deskpilot/pkg/session"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

// Стили вывода. Палитра повторяет схему "default" из terminal UI:
// системное — серым, действия — жёлтым, ответы модели — cyan.
var (
	styleHeader   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	styleDim      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	styleStep     = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	styleAI       = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	styleThinking = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	styleTool     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	styleError    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleOK       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// renderer превращает поток событий агента в текст терминала.
//
// Работает из одной goroutine, поэтому состояние без мьютекса.
// Чистый наблюдатель: события могут дропаться при переполнении
// канала, поэтому никакой логики кроме печати здесь нет.
type renderer struct {
	out io.Writer

	// streamed — в текущем шаге уже печатались chunk'и,
	// финальный EventMessage дублировать не нужно.
	streamed bool

	// thinking — предыдущий напечатанный фрагмент был reasoning.
	thinking bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

// Render печатает одно событие.
func (r *renderer) Render(event events.Event) {
	switch data := event.Data.(type) {
	case events.TaskStartedData:
		fmt.Fprintln(r.out, styleHeader.Render(fmt.Sprintf("▶ %s", data.Task)))
		fmt.Fprintln(r.out, styleDim.Render(fmt.Sprintf("  session %s · model %s", data.SessionID, displayModel(data.Model))))

	case events.StepStartedData:
		r.streamed = false
		fmt.Fprintln(r.out, styleStep.Render(fmt.Sprintf("\n── step %d/%d ──", data.Step, data.MaxSteps)))

	case events.ThinkingChunkData:
		r.thinking = true
		fmt.Fprint(r.out, styleThinking.Render(data.Chunk))

	case events.MessageChunkData:
		r.closeThinking()
		r.streamed = true
		fmt.Fprint(r.out, styleAI.Render(data.Chunk))

	case events.ToolCallData:
		r.closeThinking()
		if r.streamed {
			fmt.Fprintln(r.out)
		}
		fmt.Fprintln(r.out, styleTool.Render(fmt.Sprintf("⚙ %s %s", data.ToolName, compactArgs(data.Args))))

	case events.ToolResultData:
		line := fmt.Sprintf("  → %s (%s)", truncate(data.Result, 160), data.Duration.Round(time.Millisecond))
		if data.IsError {
			fmt.Fprintln(r.out, styleError.Render(line))
		} else {
			fmt.Fprintln(r.out, styleDim.Render(line))
		}

	case events.MessageData:
		r.closeThinking()
		if !r.streamed && data.Content != "" {
			fmt.Fprintln(r.out, styleAI.Render(data.Content))
		} else if r.streamed {
			fmt.Fprintln(r.out)
		}

	case events.ErrorData:
		r.closeThinking()
		fmt.Fprintln(r.out, styleError.Render(fmt.Sprintf("✗ %v", data.Err)))
	}
}

// Summary печатает итог выполнения.
func (r *renderer) Summary(result agent.Result, elapsed time.Duration, err error) {
	fmt.Fprintln(r.out)
	switch {
	case err != nil:
		fmt.Fprintln(r.out, styleError.Render(fmt.Sprintf("✗ task %s", result.Status)))
	case result.Status == session.StatusCompleted:
		fmt.Fprintln(r.out, styleOK.Render("✓ task completed"))
	default:
		fmt.Fprintln(r.out, styleStep.Render(fmt.Sprintf("task %s", result.Status)))
	}
	if result.FinalMessage != "" {
		fmt.Fprintln(r.out, utils.WrapText(result.FinalMessage, 100))
	}
	fmt.Fprintln(r.out, styleDim.Render(fmt.Sprintf("  %d steps · %s · session %s",
		result.Steps, elapsed.Round(100*time.Millisecond), result.SessionID)))
}

// closeThinking завершает строку reasoning-вывода переводом строки.
func (r *renderer) closeThinking() {
	if r.thinking {
		fmt.Fprintln(r.out)
		r.thinking = false
	}
}

// renderError оформляет фатальную ошибку для stderr.
func renderError(err error) string {
	return styleError.Render(fmt.Sprintf("error: %v", err))
}

// renderSessionRow форматирует строку вывода для -list.
func renderSessionRow(s session.Summary) string {
	status := styleDim
	switch s.Status {
	case session.StatusCompleted:
		status = styleOK
	case session.StatusFailed:
		status = styleError
	case session.StatusRunning:
		status = styleStep
	}
	return fmt.Sprintf("%s  %s  %s  %s",
		s.ID,
		status.Render(fmt.Sprintf("%-9s", s.Status)),
		s.UpdatedAt.Format("2006-01-02 15:04"),
		truncate(s.Task, 60))
}

func displayModel(model string) string {
	if model == "" {
		return "default"
	}
	return model
}

// compactArgs сводит аргументы вызова к одной короткой строке.
func compactArgs(args string) string {
	flat := strings.Join(strings.Fields(args), " ")
	return truncate(flat, 120)
}

// truncate обрезает длинные строки; data URI скриншотов в терминале не нужны.
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
