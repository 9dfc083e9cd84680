// Package tui renders deployment status with lipgloss and runs the
// interactive reboot countdown with Bubble Tea.
package tui
