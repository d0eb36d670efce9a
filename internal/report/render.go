package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/vk/pipegrid/internal/cache"
	"github.com/vk/pipegrid/internal/executor"
	"github.com/vk/pipegrid/internal/history"
	"github.com/vk/pipegrid/internal/node"
)

// styles are bound to the output's renderer so colour is dropped when w is
// not a terminal.
type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
	border  lipgloss.Style
	ok      lipgloss.Style
	failed  lipgloss.Style
	allowed lipgloss.Style
	skipped lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true),
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).Padding(0, 1),
		cell:    r.NewStyle().Padding(0, 1),
		border:  r.NewStyle().Foreground(lipgloss.Color("241")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("10")),
		failed:  r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		allowed: r.NewStyle().Foreground(lipgloss.Color("214")),
		skipped: r.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

func (s styles) runStatus(st history.RunStatus) string {
	switch st {
	case history.RunSucceeded:
		return s.ok.Render(string(st))
	case history.RunFailed:
		return s.failed.Render(string(st))
	case history.RunCancelled:
		return s.skipped.Render(string(st))
	}
	return string(st)
}

func (s styles) jobStatus(j Job) string {
	switch j.Status {
	case node.StatusCompleted:
		return s.ok.Render(j.Status.String())
	case node.StatusFailed:
		if j.AllowFailure {
			return s.allowed.Render("failed (allowed)")
		}
		return s.failed.Render(j.Status.String())
	case node.StatusSkipped:
		return s.skipped.Render(j.Status.String())
	}
	return j.Status.String()
}

func (s styles) table(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.border).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}
			return s.cell
		})
}

// Render writes the console summary of a finished run.
func Render(w io.Writer, r *Report) error {
	s := newStyles(w)

	t := s.table("JOB", "STATUS", "DURATION", "STEPS", "TESTS", "DETAILS")
	for _, j := range r.Jobs {
		duration, steps, tests, details := "-", "-", "-", j.Error
		if res := j.Result; res != nil {
			duration = res.Duration().Round(time.Millisecond).String()
			ran := 0
			for _, st := range res.Steps {
				if st.Status != executor.StepNotRun {
					ran++
				}
			}
			steps = fmt.Sprintf("%d/%d", ran, len(res.Steps))
			if res.Tests != nil {
				tests = res.Tests.String()
			}
			if details == "" {
				details = resultDetails(res.Artifacts, res.Images)
			}
		}
		t.Row(j.ID, s.jobStatus(j), duration, steps, tests, truncate(details, 60))
	}

	counts := r.Counts()
	summary := fmt.Sprintf("Run %s %s in %s: %d completed, %d failed, %d skipped",
		r.RunID, s.runStatus(r.Status), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
		counts[node.StatusCompleted], counts[node.StatusFailed], counts[node.StatusSkipped])

	_, err := fmt.Fprintf(w, "%s\n%s\n%s\n", s.title.Render("Workflows: "+strings.Join(r.Workflows, ", ")), t.Render(), summary)
	return err
}

func resultDetails(artifacts []string, images []executor.ImageResult) string {
	var parts []string
	if len(artifacts) > 0 {
		parts = append(parts, fmt.Sprintf("%d artifacts", len(artifacts)))
	}
	for _, img := range images {
		if img.Digest != "" {
			parts = append(parts, img.Image+"@"+img.Digest)
		} else {
			parts = append(parts, img.Image)
		}
	}
	return strings.Join(parts, ", ")
}

// RenderHistory writes a table of past runs, newest first.
func RenderHistory(w io.Writer, runs []history.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded yet.")
		return err
	}
	s := newStyles(w)
	t := s.table("RUN", "STARTED", "EVENT", "BRANCH", "WORKFLOWS", "STATUS", "DURATION")
	for _, r := range runs {
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		t.Row(r.ID, r.StartedAt.Local().Format(time.DateTime), r.Event, r.Branch,
			strings.Join(r.Workflows, ", "), s.runStatus(r.Status), duration)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// RenderCache writes a table of cache entries.
func RenderCache(w io.Writer, entries []cache.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "The cache is empty.")
		return err
	}
	s := newStyles(w)
	t := s.table("KEY", "SIZE", "SAVED")
	var total int64
	for _, e := range entries {
		t.Row(e.Key, humanize.IBytes(uint64(e.Size)), humanize.Time(e.CreatedAt))
		total += e.Size
	}
	_, err := fmt.Fprintf(w, "%s\n%d entries, %s\n", t.Render(), len(entries), humanize.IBytes(uint64(total)))
	return err
}

func truncate(s string, n int) string {
	s, _, _ = strings.Cut(s, "\n")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
