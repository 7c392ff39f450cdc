package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/aristath/taskgraph/internal/events"
)

// printEvents writes task completions to w until sub is closed.
func printEvents(w io.Writer, sub <-chan events.Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub {
			printEvent(w, ev)
		}
	}()
	return done
}

func printEvent(w io.Writer, ev events.Event) {
	switch e := ev.(type) {
	case events.TaskCompletedEvent:
		fmt.Fprintf(w, "✓ %s (%s)\n", e.Name, e.Duration.Round(time.Millisecond))
		writeIndented(w, e.Value)
	case events.TaskFailedEvent:
		if e.Origin != "" && e.Origin != e.Name {
			fmt.Fprintf(w, "- %s skipped: %s failed\n", e.Name, e.Origin)
			return
		}
		fmt.Fprintf(w, "✗ %s (%s)\n", e.Name, e.Duration.Round(time.Millisecond))
		writeIndented(w, fmt.Sprint(e.Err))
	}
}

func writeIndented(w io.Writer, text string) {
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}

func printSummary(w io.Writer, r *runReport) {
	status := "succeeded"
	if len(r.Failed) > 0 {
		status = fmt.Sprintf("failed (%s)", strings.Join(r.Failed, ", "))
	}
	fmt.Fprintf(w, "\n%s %s in %s\n", r.Pipeline, status, r.Duration.Round(time.Millisecond))
	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "not triggered: %s\n", strings.Join(r.Skipped, ", "))
	}
	if r.RunID != "" {
		fmt.Fprintf(w, "journaled as run %s\n", r.RunID)
	}
}

// since renders t relative to now, or "-" for the zero time.
func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
