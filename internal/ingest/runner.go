package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/retail-security-data/internal/aggregate"
	"github.com/albapepper/retail-security-data/internal/classify"
	"github.com/albapepper/retail-security-data/internal/config"
	"github.com/albapepper/retail-security-data/internal/metrics"
	"github.com/albapepper/retail-security-data/internal/store"
)

// Notifier is told when a run has rebuilt the derived tables.
type Notifier interface {
	NotifyRefreshed(ctx context.Context, payload string) error
}

// Options controls which phases a run executes.
type Options struct {
	Sources    []Source
	Repair     bool
	Rebuild    bool
	WindowDays int
}

// Runner executes pipeline runs against one store. Runs are sequential;
// callers that trigger runs on a timer must not overlap them.
type Runner struct {
	store      store.Store
	classifier *classify.Classifier
	logger     *slog.Logger
	metrics    *metrics.IngestMetrics
	notifier   Notifier
	now        func() time.Time
}

// NewRunner creates a Runner. m and n may be nil.
func NewRunner(s store.Store, c *classify.Classifier, logger *slog.Logger, m *metrics.IngestMetrics, n Notifier) *Runner {
	return &Runner{store: s, classifier: c, logger: logger, metrics: m, notifier: n, now: time.Now}
}

// WithClock replaces the clock used for run timestamps and the rebuild cutoff.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run pulls every source, then repairs classifications and rebuilds the
// rollups as requested. A failing source is recorded and skipped. Store
// failures and cancellation abort the run and are returned along with the
// partial result.
func (r *Runner) Run(ctx context.Context, opts Options) (RunResult, error) {
	res := RunResult{RunID: uuid.NewString(), Started: r.now()}
	log := r.logger.With("run_id", res.RunID)
	log.Info("Ingest run starting", "sources", len(opts.Sources), "repair", opts.Repair, "rebuild", opts.Rebuild)

	err := r.run(ctx, log, opts, &res)
	res.Duration = r.now().Sub(res.Started)

	status := "success"
	if err != nil {
		status = "error"
		log.Error("Ingest run aborted", "error", err, "summary", res.Summary())
	} else {
		log.Info("Ingest run complete", "duration", res.Duration.Round(time.Millisecond), "summary", res.Summary())
	}
	if r.metrics != nil {
		r.metrics.RecordRun(status, res.Duration.Seconds(), float64(r.now().Unix()))
	}
	return res, err
}

func (r *Runner) run(ctx context.Context, log *slog.Logger, opts Options, res *RunResult) error {
	for _, src := range opts.Sources {
		sr, err := r.ingestSource(ctx, log, src)
		res.AddSource(sr)
		if err != nil {
			return err
		}
	}

	if opts.Repair {
		n, err := Repair(ctx, r.store, r.classifier, log)
		if err != nil {
			return err
		}
		res.Reclassified = n
		if r.metrics != nil {
			r.metrics.RecordReclassified(n)
		}
	}

	if opts.Rebuild {
		window := opts.WindowDays
		if window == 0 {
			window = defaultWindowDays
		}
		rb, err := aggregate.NewRebuilder(r.store, log).WithClock(r.now).Rebuild(ctx, window)
		if err != nil {
			return err
		}
		res.Rebuild = &rb
		if r.metrics != nil {
			r.metrics.RecordRollup(config.DailyTrendsTable, rb.TrendRows)
			r.metrics.RecordRollup(config.LocationsTable, rb.LocationRows)
		}
		if r.notifier != nil {
			// The derived tables are already committed; a lost notification
			// only delays cache expiry.
			if err := r.notifier.NotifyRefreshed(ctx, res.RunID); err != nil {
				log.Warn("Refresh notification failed", "error", err)
				res.AddErrorf("notify %s: %v", config.RefreshChannel, err)
			}
		}
	}
	return nil
}

// defaultWindowDays matches the AGGREGATION_WINDOW_DAYS default.
const defaultWindowDays = 90

// ingestSource fetches, inserts and records status for one source. The
// returned error is non-nil only for failures that must abort the run.
func (r *Runner) ingestSource(ctx context.Context, log *slog.Logger, src Source) (SourceResult, error) {
	sr := SourceResult{Name: src.Name(), Type: src.Type()}
	start := time.Now()

	log.Info("Fetching source", "source", sr.Name)
	batch, err := src.Fetch(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sr, fmt.Errorf("fetch %s: %w", sr.Name, errors.Join(ctxErr, err))
		}
		sr.Failed, sr.Error = true, err.Error()
		sr.Duration = time.Since(start)
		log.Warn("Source failed", "source", sr.Name, "error", err)
		r.recordFetch(sr, "error")
		if err := r.store.RecordSourceStatus(ctx, sr.Name, sr.Type, false, 0); err != nil {
			return sr, fmt.Errorf("record status for %s: %w", sr.Name, err)
		}
		return sr, nil
	}
	sr.Fetched, sr.Skipped = batch.Fetched, batch.Skipped

	ins, err := r.store.InsertIncidents(ctx, batch.Incidents)
	if err != nil {
		sr.Failed, sr.Error = true, err.Error()
		sr.Duration = time.Since(start)
		return sr, fmt.Errorf("insert %s: %w", sr.Name, err)
	}
	sr.Inserted, sr.Duplicates = ins.Inserted, batch.Duplicates+ins.Duplicates
	sr.Duration = time.Since(start)

	if err := r.store.RecordSourceStatus(ctx, sr.Name, sr.Type, true, ins.Inserted); err != nil {
		return sr, fmt.Errorf("record status for %s: %w", sr.Name, err)
	}
	r.recordFetch(sr, "success")
	log.Info("Source done", "source", sr.Name,
		"fetched", sr.Fetched, "skipped", sr.Skipped, "inserted", sr.Inserted, "duplicates", sr.Duplicates)
	return sr, nil
}

func (r *Runner) recordFetch(sr SourceResult, status string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordFetch(sr.Name, status, sr.Duration.Seconds())
	typ := string(sr.Type)
	r.metrics.RecordRecords(typ, "inserted", sr.Inserted)
	r.metrics.RecordRecords(typ, "duplicate", sr.Duplicates)
	r.metrics.RecordRecords(typ, "skipped", sr.Skipped)
}
