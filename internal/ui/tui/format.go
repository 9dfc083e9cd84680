package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// styleFunc is a single-string styling function.
type styleFunc func(string) string

// sf wraps a lipgloss.Style into a styleFunc.
func sf(s lipgloss.Style) styleFunc {
	return func(str string) string { return s.Render(str) }
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// progressBar renders a bar of width cells for a ratio in [0,1].
func progressBar(ratio float64, width int) string {
	if width < 10 {
		width = 10
	}
	filled := int(float64(width) * ratio)
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return barDoneStyle.Render(strings.Repeat("█", filled)) +
		barTodoStyle.Render(strings.Repeat("░", width-filled))
}

// barWidth shrinks the default bar on narrow terminals.
func barWidth(termWidth int) int {
	w := 40
	if termWidth > 0 && termWidth < 80 {
		w = termWidth - 30
	}
	if w < 10 {
		w = 10
	}
	return w
}
