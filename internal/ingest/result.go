// Package ingest orchestrates a pipeline run: fetch every source, transform
// and insert its records, repair legacy classifications, then rebuild the
// derived tables.
package ingest

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/albapepper/retail-security-data/internal/aggregate"
	"github.com/albapepper/retail-security-data/internal/provider"
)

// SourceResult tracks the outcome of one source within a run.
type SourceResult struct {
	Name       string
	Type       provider.SourceType
	Fetched    int
	Skipped    int
	Inserted   int
	Duplicates int
	Failed     bool
	Error      string
	Duration   time.Duration
}

// RunResult tracks counts and errors from a pipeline run.
type RunResult struct {
	RunID        string
	Started      time.Time
	Duration     time.Duration
	Sources      []SourceResult
	Reclassified int
	Rebuild      *aggregate.Result
	Errors       []string
}

// AddSource appends a source outcome, recording its error if it failed.
func (r *RunResult) AddSource(s SourceResult) {
	r.Sources = append(r.Sources, s)
	if s.Failed {
		r.AddErrorf("%s: %s", s.Name, s.Error)
	}
}

// AddErrorf records a formatted error message.
func (r *RunResult) AddErrorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Totals sums the per-source counters.
func (r *RunResult) Totals() SourceResult {
	t := SourceResult{Name: "total"}
	for _, s := range r.Sources {
		t.Fetched += s.Fetched
		t.Skipped += s.Skipped
		t.Inserted += s.Inserted
		t.Duplicates += s.Duplicates
	}
	return t
}

// FailedSources counts sources that errored.
func (r *RunResult) FailedSources() int {
	n := 0
	for _, s := range r.Sources {
		if s.Failed {
			n++
		}
	}
	return n
}

// Summary returns a human-readable one-line summary of the run.
func (r *RunResult) Summary() string {
	t := r.Totals()
	s := fmt.Sprintf(
		"sources=%d failed=%d fetched=%d skipped=%d inserted=%d duplicates=%d reclassified=%d",
		len(r.Sources), r.FailedSources(), t.Fetched, t.Skipped, t.Inserted, t.Duplicates, r.Reclassified,
	)
	if r.Rebuild != nil {
		s += fmt.Sprintf(" trend_rows=%d location_rows=%d", r.Rebuild.TrendRows, r.Rebuild.LocationRows)
	}
	return s + fmt.Sprintf(" errors=%d", len(r.Errors))
}

// Report renders the per-source table printed by the CLI.
func (r *RunResult) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s)\n", r.RunID, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "%-32s %8s %8s %8s %10s  %s\n", "SOURCE", "FETCHED", "SKIPPED", "INSERTED", "DUPLICATES", "STATUS")
	for _, s := range append(slices.Clip(r.Sources), r.Totals()) {
		status := "ok"
		if s.Failed {
			status = "failed: " + s.Error
		}
		if s.Name == "total" {
			status = ""
		}
		fmt.Fprintf(&b, "%-32s %8d %8d %8d %10d  %s\n", s.Name, s.Fetched, s.Skipped, s.Inserted, s.Duplicates, status)
	}
	fmt.Fprintf(&b, "Reclassified: %d\n", r.Reclassified)
	if r.Rebuild != nil {
		fmt.Fprintf(&b, "Rebuilt: %d trend rows since %s, %d locations\n",
			r.Rebuild.TrendRows, r.Rebuild.Cutoff.Format(time.DateOnly), r.Rebuild.LocationRows)
	}
	return b.String()
}
