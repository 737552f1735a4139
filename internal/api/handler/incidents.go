package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/retail-security-data/internal/api/respond"
	"github.com/albapepper/retail-security-data/internal/cache"
	"github.com/albapepper/retail-security-data/internal/store"
)

const (
	defaultPageSize   = 100
	maxPageSize       = 500
	defaultSearchSize = 50
	maxSearchSize     = 200
)

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var pe *paramError
	if errors.As(err, &pe) {
		respond.ParamError(w, r, http.StatusBadRequest, pe.code, pe.param, pe.msg)
		return
	}
	respond.Error(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
}

// GetStats returns the dashboard headline numbers.
// @Summary Dashboard statistics
// @Description Total incidents, counts by source and type, and the last 7 and 30 day totals.
// @Tags incidents
// @Produce json
// @Success 200 {object} store.Stats
// @Router /api/v1/stats [get]
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, "stats", cache.TTLAggregate, func(ctx context.Context) (any, error) {
		return h.reader.Stats(ctx)
	})
}

// ListIncidents returns one filtered page of incidents.
// @Summary List incidents
// @Description Filterable, paginated incident listing, newest first.
// @Tags incidents
// @Produce json
// @Param country query string false "Country name"
// @Param state query string false "State or province"
// @Param city query string false "City"
// @Param type query string false "Incident type"
// @Param start_date query string false "Earliest incident date (YYYY-MM-DD)"
// @Param end_date query string false "Latest incident date (YYYY-MM-DD)"
// @Param min_severity query int false "Minimum severity (1-5)"
// @Param limit query int false "Page size (max 500)" default(100)
// @Param offset query int false "Rows to skip" default(0)
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/v1/incidents [get]
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	f := store.IncidentFilter{
		Country: stringParam(r, "country"),
		State:   stringParam(r, "state"),
		City:    stringParam(r, "city"),
		Type:    stringParam(r, "type"),
	}
	var err error
	if f.StartDate, err = dateParam(r, "start_date"); err != nil {
		badRequest(w, r, err)
		return
	}
	if f.EndDate, err = dateParam(r, "end_date"); err != nil {
		badRequest(w, r, err)
		return
	}
	if f.MinSeverity, err = intParam(r, "min_severity", 0, 0, 5); err != nil {
		badRequest(w, r, err)
		return
	}
	if f.Limit, err = intParam(r, "limit", defaultPageSize, 1, maxPageSize); err != nil {
		badRequest(w, r, err)
		return
	}
	if f.Offset, err = intParam(r, "offset", 0, 0, 1<<31-1); err != nil {
		badRequest(w, r, err)
		return
	}

	h.serveCached(w, r, cacheKey("incidents", r.URL.Query()), cache.TTLListing, func(ctx context.Context) (any, error) {
		rows, total, err := h.reader.Incidents(ctx, f)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"incidents": orEmpty(rows),
			"count":     len(rows),
			"total":     total,
			"limit":     f.Limit,
			"offset":    f.Offset,
		}, nil
	})
}

// GetIncident returns one incident by id.
// @Summary Get incident
// @Description Full incident record including the raw source payload.
// @Tags incidents
// @Produce json
// @Param id path int true "Incident id"
// @Success 200 {object} store.StoredIncident
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/incidents/{id} [get]
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respond.ParamError(w, r, http.StatusBadRequest, "INVALID_ID", "id", "id must be a positive integer")
		return
	}

	h.serveCached(w, r, "incident:"+strconv.FormatInt(id, 10), cache.TTLReference, func(ctx context.Context) (any, error) {
		return h.reader.Incident(ctx, id)
	})
}

// SearchIncidents matches free text against titles and descriptions.
// @Summary Search incidents
// @Description Case-insensitive substring search over title and description.
// @Tags incidents
// @Produce json
// @Param q query string true "Search text"
// @Param limit query int false "Max results (max 200)" default(50)
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/v1/search [get]
func (h *Handler) SearchIncidents(w http.ResponseWriter, r *http.Request) {
	q := stringParam(r, "q")
	if q == "" {
		respond.ParamError(w, r, http.StatusBadRequest, "MISSING_QUERY", "q", "q query parameter is required")
		return
	}
	limit, err := intParam(r, "limit", defaultSearchSize, 1, maxSearchSize)
	if err != nil {
		badRequest(w, r, err)
		return
	}

	h.serveCached(w, r, cacheKey("search", r.URL.Query()), cache.TTLListing, func(ctx context.Context) (any, error) {
		rows, err := h.reader.Search(ctx, q, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"query": q, "results": orEmpty(rows), "count": len(rows)}, nil
	})
}
