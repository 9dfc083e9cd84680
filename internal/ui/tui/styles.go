package tui

import "github.com/charmbracelet/lipgloss"

// Palette. Stage status drives most of the color in the status view.
var (
	colorOK        = lipgloss.Color("#22c55e")
	colorError     = lipgloss.Color("#ef4444")
	colorAttention = lipgloss.Color("#eab308")
	colorAccent    = lipgloss.Color("#3b82f6")
	colorMuted     = lipgloss.Color("#6b7280")
	colorText      = lipgloss.Color("#f9fafb")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).MarginTop(1)
	footerStyle  = lipgloss.NewStyle().Foreground(colorMuted).MarginTop(1)

	completedStyle = lipgloss.NewStyle().Foreground(colorOK)
	failedStyle    = lipgloss.NewStyle().Foreground(colorError)
	runningStyle   = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	attentionStyle = lipgloss.NewStyle().Foreground(colorAttention)
	mutedStyle     = lipgloss.NewStyle().Foreground(colorMuted)

	barDoneStyle = lipgloss.NewStyle().Foreground(colorOK)
	barTodoStyle = lipgloss.NewStyle().Foreground(colorMuted)
)

// Status marks stay plain ASCII so journald and serial consoles show them.
const (
	markCompleted = "[OK]"
	markFailed    = "[!!]"
	markRunning   = "[..]"
	markPending   = "[  ]"
	markAttention = "[??]"
)
