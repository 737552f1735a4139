package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// paramError is a client input error rendered as 400.
type paramError struct {
	code  string
	param string
	msg   string
}

func (e *paramError) Error() string { return e.msg }

// intParam reads an optional integer query parameter, clamped to [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &paramError{"INVALID_PARAMETER", name, fmt.Sprintf("%s must be an integer", name)}
	}
	return min(max(n, lo), hi), nil
}

// dateParam reads an optional YYYY-MM-DD query parameter.
func dateParam(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, &paramError{"INVALID_DATE", name, fmt.Sprintf("%s must be YYYY-MM-DD", name)}
	}
	return &t, nil
}

func stringParam(r *http.Request, name string) string {
	return strings.TrimSpace(r.URL.Query().Get(name))
}
