package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/quailhq/quail/internal/history"
	"github.com/quailhq/quail/internal/runner"
	"github.com/quailhq/quail/internal/sandbox"
)

// RenderRun formats one run result as the per-request report plus a
// summary line.
func RenderRun(res *runner.RunResult) string {
	var b strings.Builder

	title := res.Collection
	if res.Environment != "" {
		title += " (" + res.Environment + ")"
	}
	b.WriteString(Header(title) + "\n")

	for i := range res.Requests {
		rr := &res.Requests[i]
		switch {
		case rr.Skipped:
			fmt.Fprintf(&b, "  %s %s %s\n", Warning("-"), rr.Name, Dim("skipped"))
			continue
		case rr.Err != nil:
			fmt.Fprintf(&b, "  %s %s %s\n", Error("x"), rr.Name, Dim(formatTiming(rr)))
			fmt.Fprintf(&b, "      %s\n", Error(rr.Err.Error()))
		case rr.Failed():
			fmt.Fprintf(&b, "  %s %s %s\n", Error("x"), rr.Name, Dim(formatTiming(rr)))
		default:
			fmt.Fprintf(&b, "  %s %s %s\n", Success("✓"), rr.Name, Dim(formatTiming(rr)))
		}
		for _, tr := range rr.Tests {
			if tr.Status == sandbox.TestPass {
				fmt.Fprintf(&b, "      %s %s\n", Success("✓"), tr.Name)
			} else {
				fmt.Fprintf(&b, "      %s %s: %s\n", Error("x"), tr.Name, tr.Error)
			}
		}
		for _, ar := range rr.Asserts {
			if ar.Passed {
				fmt.Fprintf(&b, "      %s %s\n", Success("✓"), ar.Description)
			} else {
				fmt.Fprintf(&b, "      %s %s\n", Error("x"), ar.Description)
			}
		}
		for _, html := range rr.Visuals {
			fmt.Fprintf(&b, "      %s\n", Dim(oneLine(html)))
		}
	}

	passed, failed := res.Counts()
	summary := fmt.Sprintf("%d passed, %d failed in %s", passed, failed, res.Duration.Round(time.Millisecond))
	if res.Stopped {
		summary += ", stopped early"
	}
	if failed > 0 {
		b.WriteString(Error(summary) + "\n")
	} else {
		b.WriteString(Success(summary) + "\n")
	}
	return b.String()
}

// RenderHistory formats history entries, newest first.
func RenderHistory(entries []history.Entry) string {
	if len(entries) == 0 {
		return Dim("no runs recorded") + "\n"
	}
	var b strings.Builder
	for _, e := range entries {
		mark := Success("✓")
		if e.Failed > 0 {
			mark = Error("x")
		}
		fmt.Fprintf(&b, "%s %s  %s %s  %d passed, %d failed  %s\n",
			mark,
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			e.Collection,
			Dim("("+e.Environment+")"),
			e.Passed, e.Failed,
			Dim(e.ID))
	}
	return b.String()
}

func formatTiming(rr *runner.RequestResult) string {
	if rr.StatusCode == 0 {
		return rr.Duration.Round(time.Millisecond).String()
	}
	return fmt.Sprintf("[%d] %s", rr.StatusCode, rr.Duration.Round(time.Millisecond))
}

// oneLine collapses a visualization fragment into a short single line.
func oneLine(html string) string {
	flat := strings.Join(strings.Fields(html), " ")
	if len(flat) > 80 {
		flat = flat[:77] + "..."
	}
	return flat
}
