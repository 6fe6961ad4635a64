package status

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/charmbracelet/lipgloss/v2"
)

// TerminalSink renders the status line in place on a terminal.
type TerminalSink struct {
	w     io.Writer
	color bool

	infoStyle  lipgloss.Style
	errorStyle lipgloss.Style
}

// NewTerminalSink creates a sink writing to w. With color disabled the line
// is written as plain text.
func NewTerminalSink(w io.Writer, color bool) *TerminalSink {
	return &TerminalSink{
		w:          w,
		color:      color,
		infoStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		errorStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

// Show implements Sink.
func (t *TerminalSink) Show(m Message) {
	line := m.Text
	if m.Level == LevelError {
		line = "✗ " + line
	}
	if t.color {
		if m.Level == LevelError {
			line = t.errorStyle.Render(line)
		} else {
			line = t.infoStyle.Render(line)
		}
	}
	_, _ = fmt.Fprintf(t.w, "\r\033[K%s", line)
}

// Clear implements Sink.
func (t *TerminalSink) Clear() {
	_, _ = fmt.Fprint(t.w, "\r\033[K")
}

// LogSink mirrors status messages into a structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Show implements Sink.
func (l *LogSink) Show(m Message) {
	if m.Level == LevelError {
		l.logger.Error("status", slog.String("message", m.Text))
		return
	}
	l.logger.Info("status", slog.String("message", m.Text))
}

// Clear implements Sink.
func (l *LogSink) Clear() {
	l.logger.Debug("status: cleared")
}
