package provider

import (
	"errors"
	"fmt"
)

// ErrUnexpectedShape means a payload did not unwrap to a list of records.
var ErrUnexpectedShape = errors.New("unexpected response shape")

// Adapter unwraps a decoded source payload into its list of raw records.
// The set of variants is closed: FlatList, NestedPath, ArcGISAttributes.
type Adapter interface {
	Records(payload any) ([]any, error)
	sealed()
}

// FlatList is a payload that is already a JSON array of records
// (Socrata-style endpoints).
type FlatList struct{}

// NestedPath is an envelope whose record list sits at a dot path, such as
// "result.records" for CKAN or "rows" for Carto.
type NestedPath struct {
	Path string
}

// ArcGISAttributes is a feature list at Path where each feature wraps its
// fields under Key (normally "attributes").
type ArcGISAttributes struct {
	Path string
	Key  string
}

func (FlatList) sealed()         {}
func (NestedPath) sealed()       {}
func (ArcGISAttributes) sealed() {}

// AdapterFor resolves the adapter for a source from its response path and
// attributes key. It is called once per source, not per record.
func AdapterFor(responsePath, attributesKey string) Adapter {
	switch {
	case attributesKey != "":
		return ArcGISAttributes{Path: responsePath, Key: attributesKey}
	case responsePath != "":
		return NestedPath{Path: responsePath}
	default:
		return FlatList{}
	}
}

func (FlatList) Records(payload any) ([]any, error) {
	return asList(payload)
}

// Records returns an empty list when the envelope lacks the path.
func (a NestedPath) Records(payload any) ([]any, error) {
	v, ok := Lookup(payload, a.Path)
	if !ok {
		return nil, nil
	}
	return asList(v)
}

// Records unwraps each feature's attribute object. Features without one are
// passed through unchanged.
func (a ArcGISAttributes) Records(payload any) ([]any, error) {
	var (
		list []any
		err  error
	)
	if a.Path == "" {
		list, err = asList(payload)
	} else {
		list, err = NestedPath{Path: a.Path}.Records(payload)
	}
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(list))
	for _, rec := range list {
		if m, ok := rec.(map[string]any); ok {
			if inner, ok := m[a.Key].(map[string]any); ok {
				out = append(out, inner)
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func asList(v any) ([]any, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrUnexpectedShape, v)
	}
	return list, nil
}
