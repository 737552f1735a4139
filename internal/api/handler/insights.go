package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/albapepper/retail-security-data/internal/api/respond"
	"github.com/albapepper/retail-security-data/internal/cache"
	"github.com/albapepper/retail-security-data/internal/store"
)

const (
	defaultTrendDays = 30
	maxTrendDays     = 365
	mapWindowDays    = 30
	mapIncidentLimit = 500
	retailerLimit    = 20
)

var groupings = map[string]bool{"day": true, "week": true, "month": true}

// GetTrends returns incident counts per period and type.
// @Summary Incident trends
// @Description Daily rollup bucketed by day, week or month. "trends" has one row per period with a column per incident type and a total; "raw" has the unpivoted rows.
// @Tags insights
// @Produce json
// @Param days query int false "Look-back window in days (max 365)" default(30)
// @Param country query string false "Country name"
// @Param state query string false "State or province"
// @Param group_by query string false "Bucket size" Enums(day, week, month) default(day)
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/v1/trends [get]
func (h *Handler) GetTrends(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", defaultTrendDays, 1, maxTrendDays)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	groupBy := stringParam(r, "group_by")
	if groupBy == "" {
		groupBy = "day"
	}
	if !groupings[groupBy] {
		respond.ParamError(w, r, http.StatusBadRequest, "INVALID_GROUP_BY", "group_by", "group_by must be day, week or month")
		return
	}
	q := store.TrendQuery{Days: days, Country: stringParam(r, "country"), State: stringParam(r, "state"), GroupBy: groupBy}

	h.serveCached(w, r, cacheKey("trends", r.URL.Query()), cache.TTLAggregate, func(ctx context.Context) (any, error) {
		raw, err := h.reader.Trends(ctx, q)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"trends":   PivotTrends(raw),
			"raw":      orEmpty(raw),
			"days":     days,
			"group_by": groupBy,
		}, nil
	})
}

// PivotTrends turns (period, type) rows into one row per period with a
// count per type and a total. Period order is preserved.
func PivotTrends(points []store.TrendPoint) []map[string]any {
	out := []map[string]any{}
	index := map[string]int{}
	for _, p := range points {
		i, ok := index[p.Period]
		if !ok {
			i = len(out)
			index[p.Period] = i
			out = append(out, map[string]any{"period": p.Period, "total": 0})
		}
		typ := p.IncidentType
		if typ == "" {
			typ = "unknown"
		}
		row := out[i]
		prev, _ := row[typ].(int)
		row[typ] = prev + p.Count
		row["total"] = row["total"].(int) + p.Count
	}
	return out
}

// GetMap returns location clusters and recent geolocated incidents.
// @Summary Map data
// @Description Location summary clusters plus up to 500 incidents with coordinates from the last 30 days.
// @Tags insights
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/map [get]
func (h *Handler) GetMap(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, "map", cache.TTLAggregate, func(ctx context.Context) (any, error) {
		clusters, err := h.reader.LocationClusters(ctx)
		if err != nil {
			return nil, err
		}
		recent, err := h.reader.RecentGeolocated(ctx, h.today().AddDate(0, 0, -mapWindowDays), mapIncidentLimit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"clusters": orEmpty(clusters), "incidents": orEmpty(recent)}, nil
	})
}

// GetLocations returns the country, state, city hierarchy used by filters.
// @Summary Location hierarchy
// @Tags insights
// @Produce json
// @Success 200 {array} store.CountryNode
// @Router /api/v1/locations [get]
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, "locations", cache.TTLReference, func(ctx context.Context) (any, error) {
		nodes, err := h.reader.LocationHierarchy(ctx)
		return orEmpty(nodes), err
	})
}

// GetTypes lists incident types with counts.
// @Summary Incident types
// @Tags insights
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/types [get]
func (h *Handler) GetTypes(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, "types", cache.TTLReference, func(ctx context.Context) (any, error) {
		types, err := h.reader.IncidentTypes(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"types": orEmpty(types)}, nil
	})
}

// GetSources lists feed status.
// @Summary Source status
// @Description Last run time, last outcome and cumulative inserts per feed.
// @Tags insights
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/sources [get]
func (h *Handler) GetSources(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, "sources", cache.TTLReference, func(ctx context.Context) (any, error) {
		sources, err := h.reader.SourceStatuses(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"sources": orEmpty(sources)}, nil
	})
}

// GetRetailers counts incidents per mentioned retailer.
// @Summary Retailer mentions
// @Tags insights
// @Produce json
// @Param days query int false "Look-back window in days; 0 means all time" default(0)
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/v1/retailers [get]
func (h *Handler) GetRetailers(w http.ResponseWriter, r *http.Request) {
	since, err := h.sinceParam(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	h.serveCached(w, r, cacheKey("retailers", r.URL.Query()), cache.TTLAggregate, func(ctx context.Context) (any, error) {
		rows, err := h.reader.Retailers(ctx, since, retailerLimit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"retailers": orEmpty(rows)}, nil
	})
}

// GetSeverityDistribution counts incidents per severity and type.
// @Summary Severity distribution
// @Tags insights
// @Produce json
// @Param days query int false "Look-back window in days; 0 means all time" default(0)
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/v1/severity-distribution [get]
func (h *Handler) GetSeverityDistribution(w http.ResponseWriter, r *http.Request) {
	since, err := h.sinceParam(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	h.serveCached(w, r, cacheKey("severity", r.URL.Query()), cache.TTLAggregate, func(ctx context.Context) (any, error) {
		rows, err := h.reader.SeverityDistribution(ctx, since)
		if err != nil {
			return nil, err
		}
		return map[string]any{"distribution": orEmpty(rows)}, nil
	})
}

// sinceParam converts an optional days parameter into a start date. The
// zero time means no lower bound.
func (h *Handler) sinceParam(r *http.Request) (time.Time, error) {
	days, err := intParam(r, "days", 0, 0, 10*maxTrendDays)
	if err != nil || days == 0 {
		return time.Time{}, err
	}
	return h.today().AddDate(0, 0, -days), nil
}
