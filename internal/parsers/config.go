package parsers

import (
	"fmt"
	"path/filepath"
	"strings"

	"settlement-reconciler/internal/models"
)

// Format is the physical layout of a source
type Format string

const (
	FormatDelimited   Format = "delimited"
	FormatSpreadsheet Format = "spreadsheet"
)

// Spreadsheet backend names, in their default attempt order
const (
	BackendXLSX                 = "xlsx"
	BackendDelimited            = "delimited"
	BackendDelimitedWindows1252 = "delimited-windows1252"
)

// SourceProfile describes what the loader expects from one kind of source
type SourceProfile struct {
	Kind            models.SourceKind `json:"kind" mapstructure:"kind"`
	DefaultFormat   Format            `json:"default_format" mapstructure:"default_format"`
	RequiredColumns []string          `json:"required_columns" mapstructure:"required_columns"`
}

// LoaderConfig holds configuration for the tabular loader
type LoaderConfig struct {
	// SpreadsheetBackends is the ordered list of readers tried for spreadsheet sources.
	SpreadsheetBackends []string `json:"spreadsheet_backends" mapstructure:"spreadsheet_backends"`
	Delimiter           rune     `json:"delimiter" mapstructure:"delimiter"`
	MaxFieldSize        int      `json:"max_field_size" mapstructure:"max_field_size"`
	MaxSourceBytes      int64    `json:"max_source_bytes" mapstructure:"max_source_bytes"`
	SkipEmptyRows       bool     `json:"skip_empty_rows" mapstructure:"skip_empty_rows"`
	// BinarySniffBytes is how much of a delimited source is checked for NUL bytes.
	BinarySniffBytes int                                 `json:"binary_sniff_bytes" mapstructure:"binary_sniff_bytes"`
	Profiles         map[models.SourceKind]SourceProfile `json:"profiles" mapstructure:"-"`
}

// OrderReportColumns are the columns an order report must carry
var OrderReportColumns = []string{"Transaction Type", "Order Id", "Invoice Amount"}

// PaymentReportColumns are the columns a payment report must carry
var PaymentReportColumns = []string{"order id", "type", "total", "description"}

// DefaultProfiles returns the built-in source profiles
func DefaultProfiles() map[models.SourceKind]SourceProfile {
	return map[models.SourceKind]SourceProfile{
		models.OrderReport: {
			Kind:            models.OrderReport,
			DefaultFormat:   FormatSpreadsheet,
			RequiredColumns: append([]string(nil), OrderReportColumns...),
		},
		models.PaymentReport: {
			Kind:            models.PaymentReport,
			DefaultFormat:   FormatDelimited,
			RequiredColumns: append([]string(nil), PaymentReportColumns...),
		},
	}
}

// DefaultLoaderConfig returns a configuration with sensible defaults
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		SpreadsheetBackends: []string{BackendXLSX, BackendDelimited, BackendDelimitedWindows1252},
		Delimiter:           ',',
		MaxFieldSize:        1 << 20,
		MaxSourceBytes:      100 << 20,
		SkipEmptyRows:       true,
		BinarySniffBytes:    8 << 10,
		Profiles:            DefaultProfiles(),
	}
}

// Validate checks the loader configuration
func (c *LoaderConfig) Validate() error {
	if len(c.SpreadsheetBackends) == 0 {
		return fmt.Errorf("at least one spreadsheet backend is required")
	}

	seen := make(map[string]bool)
	for _, name := range c.SpreadsheetBackends {
		if !IsKnownBackend(name) {
			return fmt.Errorf("unknown spreadsheet backend: %s", name)
		}
		if seen[name] {
			return fmt.Errorf("spreadsheet backend listed twice: %s", name)
		}
		seen[name] = true
	}

	if c.Delimiter == 0 || c.Delimiter == '"' || c.Delimiter == '\n' || c.Delimiter == '\r' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if c.MaxFieldSize < 0 {
		return fmt.Errorf("max field size cannot be negative")
	}
	if c.MaxSourceBytes < 0 {
		return fmt.Errorf("max source bytes cannot be negative")
	}

	for kind, profile := range c.Profiles {
		if !kind.IsValid() {
			return fmt.Errorf("profile for unknown source kind: %s", kind)
		}
		if profile.DefaultFormat != FormatDelimited && profile.DefaultFormat != FormatSpreadsheet {
			return fmt.Errorf("invalid default format %q for %s", profile.DefaultFormat, kind)
		}
	}

	return nil
}

// Profile returns the profile for kind, falling back to the built-in one
func (c *LoaderConfig) Profile(kind models.SourceKind) SourceProfile {
	if p, ok := c.Profiles[kind]; ok {
		return p
	}
	return DefaultProfiles()[kind]
}

// IsKnownBackend reports whether name is a supported spreadsheet backend
func IsKnownBackend(name string) bool {
	switch name {
	case BackendXLSX, BackendDelimited, BackendDelimitedWindows1252:
		return true
	}
	return false
}

// DetectFormat picks a format from the file extension, falling back to the kind's default
func (c *LoaderConfig) DetectFormat(name string, kind models.SourceKind) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatDelimited
	case ".xlsx", ".xlsm", ".xls":
		return FormatSpreadsheet
	}
	return c.Profile(kind).DefaultFormat
}
