// Package report renders the end-of-run summary for the terminal.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/xkilldash9x/scholarsync/api/schemas"
)

// Colorize reports whether w is an interactive terminal.
func Colorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Render writes the counts, a table of soft failures, and the verdict.
func Render(w io.Writer, r schemas.FinalReport, colorize bool) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", sectionHeader("Run summary", colorize))
	writeCount(&b, "Records", r.Total)
	writeCount(&b, "Added", r.Added)
	writeCount(&b, "Partial", r.Partial)
	writeCount(&b, "Skipped", r.Skipped)
	writeCount(&b, "Failed", len(r.SoftFailures))
	writeCount(&b, "Recoveries", r.Recoveries)
	fmt.Fprintf(&b, "  %-12s %s\n", "Duration:", Duration(r.Duration))

	if len(r.SoftFailures) > 0 {
		b.WriteString("\n")
		b.WriteString(FailureTable(r.SoftFailures))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(verdict(r, colorize))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// FailureTable lists soft failures as a rounded table.
func FailureTable(failures []schemas.SoftFailure) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Key", "Title", "Reason"})
	for _, f := range failures {
		tw.AppendRow(table.Row{f.Key, f.Title, f.Reason})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignLeft, WidthMax: 60},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignLeft, WidthMax: 60},
	})
	return tw.Render()
}

// Duration formats d for people, e.g. "3 minutes".
func Duration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	now := time.Now()
	return strings.TrimSpace(humanize.RelTime(now, now.Add(d), "", ""))
}

func writeCount(b *strings.Builder, label string, n int) {
	fmt.Fprintf(b, "  %-12s %s\n", label+":", humanize.Comma(int64(n)))
}

func sectionHeader(title string, colorize bool) string {
	line := fmt.Sprintf("== %s ==", title)
	if colorize {
		return text.FgBlue.Sprint(line)
	}
	return line
}

func verdict(r schemas.FinalReport, colorize bool) string {
	var line string
	color := text.FgGreen
	switch {
	case r.Aborted:
		line = "Run aborted: " + r.AbortReason
		color = text.FgRed
	case len(r.SoftFailures) > 0:
		line = fmt.Sprintf("Finished with %d record(s) that could not be added.", len(r.SoftFailures))
		color = text.FgYellow
	default:
		line = "Finished sending data."
	}
	if colorize {
		return color.Sprint(line)
	}
	return line
}
