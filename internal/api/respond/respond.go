// Package respond writes the incident API's response bodies: cached JSON
// payloads with their validators, plain JSON, and the error envelope.
package respond

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the body of every 4xx and 5xx answer.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a stable machine code, a human message, the query or
// path parameter at fault (if any), and the request id for log lookup.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Param     string `json:"param,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Cached writes rendered bytes from the response cache. X-Cache tells
// clients whether the bytes were already cached before this request.
func Cached(w http.ResponseWriter, data []byte, etag string, ttl time.Duration, hit bool) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("ETag", etag)
	h.Set("Vary", "Accept-Encoding")
	h.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(ttl.Seconds())))
	if hit {
		h.Set("X-Cache", "HIT")
	} else {
		h.Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// NotModified answers a matching If-None-Match.
func NotModified(w http.ResponseWriter, etag string) {
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusNotModified)
}

// JSON encodes v uncached. Health endpoints use it.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes the error envelope.
func Error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	ParamError(w, r, status, code, "", message)
}

// ParamError writes the error envelope naming the parameter at fault.
func ParamError(w http.ResponseWriter, r *http.Request, status int, code, param, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		Param:     param,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}
