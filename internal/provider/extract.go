package provider

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Record is one raw upstream record as decoded from JSON.
type Record = map[string]any

// DecodeJSON decodes a payload into a generic tree. Numbers are kept as
// json.Number so large natural ids survive without float rounding.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Lookup walks a dot-separated path through maps and arrays. Numeric
// segments index into arrays. Missing keys, out-of-range indexes, and
// scalars in the middle of a path all yield ok=false.
func Lookup(v any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	return lookup(v, strings.Split(path, "."))
}

func lookup(v any, keys []string) (any, bool) {
	if len(keys) == 0 {
		return v, v != nil
	}
	switch node := v.(type) {
	case map[string]any:
		child, ok := node[keys[0]]
		if !ok {
			return nil, false
		}
		return lookup(child, keys[1:])
	case []any:
		idx, err := strconv.Atoi(keys[0])
		if err != nil || idx < 0 || idx >= len(node) {
			return nil, false
		}
		return lookup(node[idx], keys[1:])
	default:
		return nil, false
	}
}

// LookupField resolves a field-map entry. A comma-separated entry such as
// "year,month" reads each path and joins the scalar values with "-".
func LookupField(v any, path string) (any, bool) {
	if !strings.Contains(path, ",") {
		return Lookup(v, path)
	}
	var parts []string
	for _, p := range strings.Split(path, ",") {
		val, ok := Lookup(v, strings.TrimSpace(p))
		if !ok {
			return nil, false
		}
		s, ok := Text(val)
		if !ok {
			return nil, false
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "-"), true
}

// Text renders a scalar as a trimmed string. Maps, arrays, nil, and blank
// strings yield ok=false.
func Text(val any) (string, bool) {
	var s string
	switch v := val.(type) {
	case nil:
		return "", false
	case string:
		s = v
	case json.Number:
		s = v.String()
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case bool:
		s = strconv.FormatBool(v)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// ExtractValue normalizes a numeric value from the formats feeds use:
// JSON numbers, Go numbers, and numeric strings.
//
// Returns the float64 value, and ok=false if not extractable.
func ExtractValue(val any) (float64, bool) {
	switch v := val.(type) {
	case nil:
		return 0, false
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ParseCoordinates coerces a latitude/longitude pair. Anything unparseable,
// out of range, NaN, or the (0,0) placeholder some feeds emit yields nil for
// both values.
func ParseCoordinates(latVal, lonVal any) (*float64, *float64) {
	lat, ok := ExtractValue(latVal)
	if !ok || math.IsNaN(lat) || lat < -90 || lat > 90 {
		return nil, nil
	}
	lon, ok := ExtractValue(lonVal)
	if !ok || math.IsNaN(lon) || lon < -180 || lon > 180 {
		return nil, nil
	}
	if lat == 0 && lon == 0 {
		return nil, nil
	}
	return &lat, &lon
}
