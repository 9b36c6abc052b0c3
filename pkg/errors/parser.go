package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ParseContext locates a problem inside a source
type ParseContext struct {
	Source   string `json:"source"`
	Line     int    `json:"line"`
	Column   string `json:"column,omitempty"`
	Value    string `json:"value,omitempty"`
	Expected string `json:"expected,omitempty"`
}

// EnhancedParseError extends a ReconcilerError with its location in the source
type EnhancedParseError struct {
	*ReconcilerError
	Location    *ParseContext `json:"location"`
	LineContent string        `json:"line_content,omitempty"`
}

func (e *EnhancedParseError) Error() string {
	if e.Location == nil {
		return e.ReconcilerError.Error()
	}

	location := fmt.Sprintf("at %s", filepath.Base(e.Location.Source))
	if e.Location.Line > 0 {
		location += fmt.Sprintf(":%d", e.Location.Line)
	}
	if e.Location.Column != "" {
		location += fmt.Sprintf(" column '%s'", e.Location.Column)
	}
	return e.ReconcilerError.Error() + " " + location
}

func (e *EnhancedParseError) Unwrap() error {
	return e.ReconcilerError
}

// GetDetailedError returns a multi-line description for terminal output
func (e *EnhancedParseError) GetDetailedError() string {
	lines := []string{fmt.Sprintf("ERROR: %s", e.Message)}

	if e.Location != nil {
		lines = append(lines, fmt.Sprintf("  → Source: %s", e.Location.Source))
		if e.Location.Line > 0 {
			lines = append(lines, fmt.Sprintf("  → Line: %d", e.Location.Line))
		}
		if e.Location.Column != "" {
			lines = append(lines, fmt.Sprintf("  → Column: %s", e.Location.Column))
		}
		if e.Location.Value != "" {
			lines = append(lines, fmt.Sprintf("  → Value: '%s'", e.Location.Value))
		}
		if e.Location.Expected != "" {
			lines = append(lines, fmt.Sprintf("  → Expected: %s", e.Location.Expected))
		}
	}
	if e.LineContent != "" {
		lines = append(lines, fmt.Sprintf("  → Content: %s", e.LineContent))
	}
	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}

	return strings.Join(lines, "\n")
}

// WithLineContent attaches the offending raw line
func (e *EnhancedParseError) WithLineContent(content string) *EnhancedParseError {
	e.LineContent = content
	return e
}

// NewMalformedLineError wraps a delimited-text failure with its line and column
func NewMalformedLineError(source string, line int, column string, cause error) *EnhancedParseError {
	base := MalformedContentError(source, line, cause)
	if column != "" {
		base.WithContext("column", column)
	}

	return &EnhancedParseError{
		ReconcilerError: base,
		Location: &ParseContext{
			Source: source,
			Line:   line,
			Column: column,
		},
	}
}

// CoercionCollector accumulates non-fatal cell coercion failures for one source.
// It keeps every failure count but only the first few failures in full.
type CoercionCollector struct {
	source  string
	count   int
	byCol   map[string]int
	samples []*ReconcilerError
}

// NewCoercionCollector creates a collector for the named source
func NewCoercionCollector(source string) *CoercionCollector {
	return &CoercionCollector{
		source: source,
		byCol:  make(map[string]int),
	}
}

// Add records one failed cell
func (c *CoercionCollector) Add(column string, line int, value interface{}, cause error) {
	c.count++
	c.byCol[column]++
	if len(c.samples) < MaxSampleErrors {
		c.samples = append(c.samples, CellCoercionError(column, line, value, cause).WithContext("source", c.source))
	}
}

// Count returns the number of failed cells
func (c *CoercionCollector) Count() int {
	return c.count
}

// CountByColumn returns failures keyed by column name
func (c *CoercionCollector) CountByColumn() map[string]int {
	out := make(map[string]int, len(c.byCol))
	for k, v := range c.byCol {
		out[k] = v
	}
	return out
}

// Samples returns up to MaxSampleErrors recorded failures
func (c *CoercionCollector) Samples() []*ReconcilerError {
	return append([]*ReconcilerError(nil), c.samples...)
}

// Summary builds an ErrorSummary whose Total reflects every failure, not just the samples
func (c *CoercionCollector) Summary() *ErrorSummary {
	summary := NewErrorSummary(c.Samples())
	summary.Total = c.count
	summary.ByCode = map[ErrorCode]int{}
	summary.ByCategory = map[ErrorCategory]int{}
	if c.count > 0 {
		summary.ByCode[CodeCellCoercion] = c.count
		summary.ByCategory[CategoryValidation] = c.count
	}
	return summary
}
