package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/imamik/gpuprep/internal/orchestrator"
	"github.com/imamik/gpuprep/internal/state"
	"github.com/imamik/gpuprep/internal/ui/benchmarks"
)

// maxErrors is how many of the most recent error entries are shown.
const maxErrors = 3

// StatusOptions tunes RenderStatus.
type StatusOptions struct {
	Hostname string
	Width    int
	Now      time.Time
}

// RenderStatus renders a status report as a styled, human-readable block.
func RenderStatus(rep *orchestrator.StatusReport, opts StatusOptions) string {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	var b strings.Builder

	renderHeader(&b, rep, opts)
	renderProgress(&b, rep, opts)
	renderStages(&b, rep)
	if rep.RebootRequired {
		renderReboot(&b, rep)
	}
	if rep.Lock != nil {
		renderLock(&b, rep)
	}
	if rep.State != nil && len(rep.State.Errors) > 0 {
		renderErrors(&b, rep.State.Errors)
	}
	renderFooter(&b, rep, opts)

	return b.String()
}

func renderHeader(b *strings.Builder, rep *orchestrator.StatusReport, opts StatusOptions) {
	title := "gpuprep"
	if opts.Hostname != "" {
		title += ": " + opts.Hostname
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString(" ")

	switch {
	case rep.Complete:
		b.WriteString(completedStyle.Render("Complete"))
	case rep.RebootRequired:
		b.WriteString(attentionStyle.Render("Awaiting reboot"))
	case hasStatus(rep, state.StatusFailed):
		b.WriteString(failedStyle.Render("Failed"))
	case hasStatus(rep, state.StatusRunning):
		b.WriteString(runningStyle.Render("In progress"))
	default:
		b.WriteString(mutedStyle.Render("Pending"))
	}
	b.WriteString("\n")
}

func renderProgress(b *strings.Builder, rep *orchestrator.StatusReport, opts StatusOptions) {
	eta := ""
	if !rep.Complete && rep.State != nil {
		if remaining := benchmarks.EstimateRemaining(rep.State.Stages, opts.Now); remaining > 0 {
			eta = fmt.Sprintf("  ETA %s", formatDuration(remaining))
		}
	}
	fmt.Fprintf(b, "  %s %d%%  %d/%d stages%s\n",
		progressBar(rep.Progress, barWidth(opts.Width)), int(rep.Progress*100), rep.Completed, rep.Total, eta)
}

func renderStages(b *strings.Builder, rep *orchestrator.StatusReport) {
	b.WriteString(headingStyle.Render("  Stages"))
	b.WriteString("\n")

	nameWidth := 0
	for _, s := range rep.Stages {
		if len(s.DisplayName) > nameWidth {
			nameWidth = len(s.DisplayName)
		}
	}

	for _, s := range rep.Stages {
		icon, style := stageIcon(s.Status)
		name := s.DisplayName
		if s.ID == rep.CurrentStage && s.Status != state.StatusCompleted {
			name = runningStyle.Render(fmt.Sprintf("%-*s", nameWidth, name))
		} else {
			name = fmt.Sprintf("%-*s", nameWidth, name)
		}

		detail := string(s.Status)
		if s.Attempts > 1 {
			detail += fmt.Sprintf(", %d attempts", s.Attempts)
		}
		if s.CompletedAt != nil && s.LastAttemptAt != nil {
			detail += ", took " + formatDuration(s.CompletedAt.Sub(*s.LastAttemptAt))
		}
		fmt.Fprintf(b, "    %s %s  %s\n", style(icon), name, mutedStyle.Render(detail))
	}
}

func renderReboot(b *strings.Builder, rep *orchestrator.StatusReport) {
	b.WriteString(headingStyle.Render("  Reboot"))
	b.WriteString("\n")
	fmt.Fprintf(b, "    %s reboot required by %s, reboot the host or run with --resume\n",
		attentionStyle.Render(markAttention), rep.RebootStage)
	if rep.ResumeArmed {
		fmt.Fprintf(b, "    %s resume unit armed, the next boot continues automatically\n",
			runningStyle.Render(markRunning))
		return
	}
	fmt.Fprintf(b, "    %s resume unit not armed, run with --resume after the reboot\n",
		attentionStyle.Render(markAttention))
}

func renderLock(b *strings.Builder, rep *orchestrator.StatusReport) {
	b.WriteString(headingStyle.Render("  Lock"))
	b.WriteString("\n")
	owner := rep.Lock
	line := fmt.Sprintf("held by pid %d on %s since %s", owner.PID, owner.Hostname, owner.AcquiredAt.Format(time.RFC3339))
	if rep.LockStale {
		fmt.Fprintf(b, "    %s %s %s\n", attentionStyle.Render(markAttention), line, attentionStyle.Render("(stale)"))
		return
	}
	fmt.Fprintf(b, "    %s %s\n", runningStyle.Render(markRunning), line)
}

func renderErrors(b *strings.Builder, errs []state.ErrorEntry) {
	b.WriteString(headingStyle.Render("  Recent Errors"))
	b.WriteString("\n")

	start := 0
	if len(errs) > maxErrors {
		start = len(errs) - maxErrors
	}
	for _, e := range errs[start:] {
		fmt.Fprintf(b, "    %s [%s] %s\n",
			failedStyle.Render(markFailed), e.Stage, mutedStyle.Render(e.Message))
	}
}

func renderFooter(b *strings.Builder, rep *orchestrator.StatusReport, opts StatusOptions) {
	parts := []string{}
	if rep.State != nil {
		if !rep.State.StartedAt.IsZero() {
			parts = append(parts, "started: "+rep.State.StartedAt.Format(time.RFC3339))
		}
		if !rep.State.LastUpdatedAt.IsZero() {
			parts = append(parts, "updated: "+formatDuration(opts.Now.Sub(rep.State.LastUpdatedAt))+" ago")
		}
	}
	if len(parts) == 0 {
		return
	}
	b.WriteString(footerStyle.Render("  " + strings.Join(parts, "  |  ")))
	b.WriteString("\n")
}

func stageIcon(status state.Status) (string, styleFunc) {
	switch status {
	case state.StatusCompleted:
		return markCompleted, sf(completedStyle)
	case state.StatusFailed:
		return markFailed, sf(failedStyle)
	case state.StatusRunning:
		return markRunning, sf(runningStyle)
	default:
		return markPending, sf(mutedStyle)
	}
}

func hasStatus(rep *orchestrator.StatusReport, status state.Status) bool {
	for _, s := range rep.Stages {
		if s.Status == status {
			return true
		}
	}
	return false
}
