// Package normalizer maps raw report tables onto the canonical transaction row.
//
// Each normalizer runs a fixed, ordered list of steps. Every step returns a
// new slice and never modifies the rows it was given, so a step can be tested
// on its own and the raw table is left untouched.
package normalizer

import (
	"strings"

	"settlement-reconciler/internal/parsers"
	"settlement-reconciler/pkg/errors"
)

// ColumnSpec maps one canonical field onto the source headers that may carry it
type ColumnSpec struct {
	Canonical string
	// Source is the documented header name, reported when the column is missing.
	Source   string
	Aliases  []string
	Required bool
}

// ColumnMap is the result of resolving specs against a header row
type ColumnMap struct {
	byCanonical map[string]string
	// Passthrough maps the remaining original headers to their normalized key
	Passthrough map[string]string
}

// Header returns the original header carrying canonical, if any
func (m *ColumnMap) Header(canonical string) (string, bool) {
	h, ok := m.byCanonical[canonical]
	return h, ok
}

// ResolveColumns matches specs against headers case and whitespace insensitively.
// Unmatched headers become passthrough columns named by passthroughKey.
func ResolveColumns(source string, headers []string, specs []ColumnSpec, passthroughKey func(string) string) (*ColumnMap, error) {
	byKey := make(map[string]string, len(headers))
	for _, h := range headers {
		k := parsers.ColumnKey(h)
		if _, exists := byKey[k]; !exists {
			byKey[k] = h
		}
	}

	m := &ColumnMap{
		byCanonical: make(map[string]string, len(specs)),
		Passthrough: make(map[string]string),
	}
	claimed := make(map[string]bool)

	var missing []string
	for _, spec := range specs {
		found := false
		for _, name := range append([]string{spec.Source}, spec.Aliases...) {
			if h, ok := byKey[parsers.ColumnKey(name)]; ok && !claimed[h] {
				m.byCanonical[spec.Canonical] = h
				claimed[h] = true
				found = true
				break
			}
		}
		if !found && spec.Required {
			missing = append(missing, spec.Source)
		}
	}
	if len(missing) > 0 {
		return nil, errors.SchemaMismatchError(source, missing)
	}

	for _, h := range headers {
		if claimed[h] {
			continue
		}
		if key := passthroughKey(h); key != "" {
			m.Passthrough[h] = key
		}
	}

	return m, nil
}

// TrimmedKey keeps the header as written minus surrounding whitespace
func TrimmedKey(header string) string {
	return strings.TrimSpace(header)
}

// SnakeKey lower-cases the header and joins its words with underscores
func SnakeKey(header string) string {
	return strings.Join(strings.Fields(strings.ToLower(header)), "_")
}
