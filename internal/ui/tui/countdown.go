package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/gpuprep/internal/orchestrator"
)

// ErrRebootCancelled is returned when the operator aborts the countdown.
var ErrRebootCancelled = errors.New("reboot cancelled by operator")

// TickMsg is sent once per second while the countdown runs.
type TickMsg time.Time

// ErrMsg stops the countdown with an error.
type ErrMsg struct{ Err error }

// CountdownModel is the Bubble Tea model shown before an automatic reboot.
type CountdownModel struct {
	Delay     time.Duration
	Deadline  time.Time
	Remaining time.Duration

	Confirmed bool
	Err       error
	Width     int

	now func() time.Time
}

// NewCountdownModel creates a countdown of delay starting now.
func NewCountdownModel(delay time.Duration, now func() time.Time) CountdownModel {
	if now == nil {
		now = time.Now
	}
	return CountdownModel{
		Delay:     delay,
		Deadline:  now().Add(delay),
		Remaining: delay,
		now:       now,
	}
}

// Init implements tea.Model.
func (m CountdownModel) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (m CountdownModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "c", "q", "esc", "ctrl+c":
			m.Err = ErrRebootCancelled
			return m, tea.Quit
		case "enter", "r":
			m.Confirmed = true
			m.Remaining = 0
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width

	case TickMsg:
		m.Remaining = m.Deadline.Sub(m.now())
		if m.Remaining <= 0 {
			m.Remaining = 0
			m.Confirmed = true
			return m, tea.Quit
		}
		return m, tickCmd()

	case ErrMsg:
		m.Err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

// View implements tea.Model.
func (m CountdownModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("gpuprep"))
	b.WriteString(" ")
	b.WriteString(attentionStyle.Render(fmt.Sprintf("rebooting in %s", formatDuration(m.Remaining))))
	b.WriteString("\n")

	ratio := 1.0
	if m.Delay > 0 {
		ratio = 1 - float64(m.Remaining)/float64(m.Delay)
	}
	fmt.Fprintf(&b, "  %s\n", progressBar(ratio, barWidth(m.Width)))
	b.WriteString(footerStyle.Render("  provisioning resumes automatically after boot  |  enter: reboot now  |  c: cancel"))
	b.WriteString("\n")
	return b.String()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// NewCountdown returns an orchestrator.Countdown that shows the interactive
// countdown. Program options let callers redirect input and output.
func NewCountdown(opts ...tea.ProgramOption) orchestrator.Countdown {
	return func(ctx context.Context, delay time.Duration) error {
		if delay <= 0 {
			return nil
		}
		p := tea.NewProgram(NewCountdownModel(delay, nil), opts...)

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				p.Send(ErrMsg{Err: ctx.Err()})
			case <-done:
			}
		}()

		final, err := p.Run()
		if err != nil {
			return fmt.Errorf("countdown: %w", err)
		}
		fm, ok := final.(CountdownModel)
		if !ok {
			return errors.New("countdown: unexpected model")
		}
		return fm.Err
	}
}
