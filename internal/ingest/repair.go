package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/albapepper/retail-security-data/internal/classify"
	"github.com/albapepper/retail-security-data/internal/store"
)

// ClassificationStore is the persistence the repair pass needs.
type ClassificationStore interface {
	LegacyClassifications(ctx context.Context) ([]store.LegacyRow, error)
	UpdateClassifications(ctx context.Context, updates []store.Reclassification) (int, error)
}

// Reclassify computes corrected classifications for legacy rows. Rows whose
// classification would not change are left out, so an incident that is
// genuinely "other" is not rewritten on every run.
func Reclassify(rows []store.LegacyRow, c *classify.Classifier) []store.Reclassification {
	var out []store.Reclassification
	for _, r := range rows {
		text := strings.TrimSpace(r.IncidentType + " " + r.Description)
		t := c.NormalizeReport(text)
		sev := c.Severity(t, r.Description)
		if string(t) == r.IncidentType && sev == r.Severity {
			continue
		}
		out = append(out, store.Reclassification{ID: r.ID, IncidentType: string(t), Severity: sev})
	}
	return out
}

// Repair re-runs classification over stored incidents whose type is missing
// or defaulted, or whose severity is missing, and writes back what changed.
func Repair(ctx context.Context, s ClassificationStore, c *classify.Classifier, logger *slog.Logger) (int, error) {
	rows, err := s.LegacyClassifications(ctx)
	if err != nil {
		return 0, fmt.Errorf("load legacy classifications: %w", err)
	}
	updates := Reclassify(rows, c)
	if len(updates) == 0 {
		logger.Info("Classification repair: nothing to do", "candidates", len(rows))
		return 0, nil
	}
	n, err := s.UpdateClassifications(ctx, updates)
	if err != nil {
		return 0, fmt.Errorf("update classifications: %w", err)
	}
	logger.Info("Classification repair done", "candidates", len(rows), "updated", n)
	return n, nil
}
