package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"deepresearch/internal/events"
	"deepresearch/internal/session"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	accent  = lipgloss.Color("#8BC34A")
	info    = lipgloss.Color("#2196F3")
	warning = lipgloss.Color("#FFC107")
	danger  = lipgloss.Color("#e53935")
	muted   = lipgloss.Color("#6b7280")

	stageStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	queryStyle   = lipgloss.NewStyle().Foreground(info)
	warnStyle    = lipgloss.NewStyle().Foreground(warning)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(danger)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted).Italic(true)
	headingStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// printEvent writes one progress line for ev.
func printEvent(w io.Writer, ev events.Event) {
	switch ev.Type {
	case events.TypeStageChanged:
		fmt.Fprintf(w, "%s %s\n", stageStyle.Render("▸ "+ev.Stage), mutedStyle.Render("from "+ev.Message))
	case events.TypeQueryStarted:
		fmt.Fprintf(w, "  %s %s\n", queryStyle.Render("search"), ev.Query)
	case events.TypeQueryCompleted:
		fmt.Fprintf(w, "  %s %s %s\n", stageStyle.Render("done"), ev.Query, mutedStyle.Render(fmt.Sprintf("%v learnings", ev.Data["learnings"])))
	case events.TypeQueryFailed:
		fmt.Fprintf(w, "  %s %s: %s\n", warnStyle.Render("failed"), ev.Query, ev.Message)
	case events.TypeRoundCompleted:
		fmt.Fprintf(w, "  %s\n", mutedStyle.Render(fmt.Sprintf("round %v: %v succeeded, %v failed", ev.Data["round"], ev.Data["succeeded"], ev.Data["failed"])))
	case events.TypeReviewCompleted:
		fmt.Fprintf(w, "  %s\n", mutedStyle.Render(fmt.Sprintf("review proposed %v queries", ev.Data["queries"])))
	case events.TypeSessionFailed:
		fmt.Fprintf(w, "%s %s\n", errorStyle.Render("failed:"), ev.Message)
	}
}

// printSnapshot summarizes snap on one line.
func printSnapshot(w io.Writer, snap session.Snapshot) {
	fmt.Fprintf(w, "%s %s %s\n",
		stageStyle.Render(string(snap.Stage)),
		snap.ID,
		mutedStyle.Render(fmt.Sprintf("round %d, %d learnings, %d sources, %d errors",
			snap.Round, snap.LearningCount, snap.SourceCount, snap.ErrorCount)))
}

// renderMarkdown renders md for the terminal, or returns it unchanged when
// plain output is requested or rendering fails.
func renderMarkdown(md string, plain bool) string {
	if plain {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// writeReport prints or saves a report. References are appended as a
// numbered list so the [n] markers resolve outside the session.
func writeReport(rep *session.FinalReport, references string, outPath string, plain bool) error {
	md := rep.Markdown
	if references != "" {
		md += "\n\n" + references
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, []byte(md+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report written to %s\n", outPath)
		return nil
	}
	fmt.Println(renderMarkdown(md, plain))
	return nil
}

func printHeading(title string) {
	fmt.Println(headingStyle.Render(title))
	fmt.Println(strings.Repeat("─", 50))
}
