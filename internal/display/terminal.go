package display

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

const defaultBarWidth = 30

var (
	labelStyle = lipgloss.NewStyle().Bold(true)
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// Terminal renders session text as a single status line that is redrawn in
// place. Percentages get a progress bar; "done" and "Error ..." end the line.
type Terminal struct {
	mu      sync.Mutex
	w       io.Writer
	label   string
	width   int
	inPlace bool
}

// NewTerminal writes to w. When inPlace is false (output is not a TTY) every
// update is written on its own line.
func NewTerminal(w io.Writer, label string, inPlace bool) *Terminal {
	return &Terminal{w: w, label: label, width: defaultBarWidth, inPlace: inPlace}
}

// SetText renders text.
func (t *Terminal) SetText(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := labelStyle.Render(t.label) + " " + t.render(text)
	final := text == "done" || strings.HasPrefix(text, "Error ")
	switch {
	case t.inPlace && final:
		fmt.Fprintf(t.w, "\r\x1b[K%s\n", line)
	case t.inPlace:
		fmt.Fprintf(t.w, "\r\x1b[K%s", line)
	default:
		fmt.Fprintln(t.w, line)
	}
}

func (t *Terminal) render(text string) string {
	switch {
	case text == "done":
		return doneStyle.Render(text)
	case strings.HasPrefix(text, "Error "):
		return errorStyle.Render(text)
	}
	pct, err := strconv.Atoi(strings.TrimSuffix(text, "%"))
	if err != nil || pct < 0 || pct > 100 {
		return text
	}
	filled := pct * t.width / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", t.width-filled)
	return barStyle.Render(bar) + " " + text
}
