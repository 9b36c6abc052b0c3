// Package parsers loads marketplace report files into raw tables.
//
// A source is read either as delimited text or as a spreadsheet. Spreadsheet
// sources go through an ordered chain of backends; the first backend that
// produces a grid wins. The loader does not interpret cell values beyond
// turning empty cells into nil, so identifiers keep their leading zeros and
// amounts keep their original text for the normalizers.
//
// Example usage:
//
//	loader, err := NewLoader(DefaultLoaderConfig(), nil)
//	table, err := loader.LoadFile(ctx, afero.NewOsFs(), "mtr.xlsx", models.OrderReport)
package parsers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// grid is the backend-neutral result of reading a source: raw rows and their line numbers
type grid struct {
	rows  [][]string
	lines []int
}

// Loader turns source bytes into a RawTable
type Loader struct {
	config   *LoaderConfig
	logger   logger.Logger
	backends map[string]spreadsheetBackend
}

// NewLoader creates a loader with the given configuration
func NewLoader(config *LoaderConfig, log logger.Logger) (*Loader, error) {
	if config == nil {
		config = DefaultLoaderConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "loader", config.SpreadsheetBackends, err)
	}

	l := &Loader{
		config: config,
		logger: logger.OrGlobal(log).WithComponent("loader"),
	}
	l.backends = map[string]spreadsheetBackend{
		BackendXLSX:                 xlsxBackend{},
		BackendDelimited:            delimitedBackend{reader: l.newDelimitedReader(false)},
		BackendDelimitedWindows1252: delimitedBackend{reader: l.newDelimitedReader(true)},
	}

	l.logger.WithFields(logger.Fields{
		"spreadsheet_backends": config.SpreadsheetBackends,
		"max_source_bytes":     config.MaxSourceBytes,
	}).Debug("Created loader")

	return l, nil
}

// Config returns the loader configuration
func (l *Loader) Config() *LoaderConfig {
	return l.config
}

// LoadFile reads path from fs and loads it. Any failure to read the file is a SourceNotFound error.
func (l *Loader) LoadFile(ctx context.Context, fs afero.Fs, path string, kind models.SourceKind) (*models.RawTable, error) {
	info, err := fs.Stat(path)
	if err != nil {
		l.logger.WithError(err).WithField("source", path).Error("Source is not accessible")
		return nil, errors.SourceNotFoundError(path, err)
	}
	if info.IsDir() {
		return nil, errors.SourceNotFoundError(path, fmt.Errorf("%s is a directory", path))
	}
	if l.config.MaxSourceBytes > 0 && info.Size() > l.config.MaxSourceBytes {
		return nil, errors.MalformedContentError(path, 0,
			fmt.Errorf("source is %d bytes, limit is %d", info.Size(), l.config.MaxSourceBytes))
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsPermission(err) {
			l.logger.WithError(err).WithField("source", path).Error("Permission denied reading source")
		}
		return nil, errors.SourceNotFoundError(path, err)
	}

	return l.Load(ctx, path, kind, data)
}

// Load parses data as the given kind of source. name is used for format detection and error messages.
func (l *Loader) Load(ctx context.Context, name string, kind models.SourceKind, data []byte) (*models.RawTable, error) {
	if !kind.IsValid() {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "source_kind", kind, nil)
	}
	if l.config.MaxSourceBytes > 0 && int64(len(data)) > l.config.MaxSourceBytes {
		return nil, errors.MalformedContentError(name, 0,
			fmt.Errorf("source is %d bytes, limit is %d", len(data), l.config.MaxSourceBytes))
	}

	format := l.config.DetectFormat(name, kind)
	log := l.logger.WithFields(logger.Fields{
		"source": name,
		"kind":   kind,
		"format": format,
		"bytes":  len(data),
	})
	log.Debug("Loading source")

	var (
		g       *grid
		backend string
		err     error
	)
	switch format {
	case FormatSpreadsheet:
		g, backend, err = l.readSpreadsheet(ctx, name, data)
	default:
		backend = BackendDelimited
		g, err = l.readDelimitedAuto(ctx, name, data)
	}
	if err != nil {
		log.WithError(err).Error("Failed to read source")
		return nil, err
	}

	table, err := l.buildTable(name, kind, g)
	if err != nil {
		return nil, err
	}
	table.Backend = backend

	if err := l.checkRequiredColumns(table); err != nil {
		log.WithError(err).Error("Required columns are missing")
		return nil, err
	}

	log.WithFields(logger.Fields{
		"backend": backend,
		"columns": len(table.Headers),
		"rows":    table.Len(),
	}).Info("Loaded source")

	return table, nil
}

// buildTable converts a grid into records keyed by header. Rows are padded or
// trimmed to the header width and duplicate headers get a ".N" suffix.
func (l *Loader) buildTable(name string, kind models.SourceKind, g *grid) (*models.RawTable, error) {
	if len(g.rows) == 0 {
		return nil, errors.MalformedContentError(name, 0, fmt.Errorf("source is empty"))
	}

	headers := dedupeHeaders(trimBOM(g.rows[0]))
	if isEmptyRecord(headers) {
		return nil, errors.MalformedContentError(name, g.lineAt(0), fmt.Errorf("header row is empty"))
	}

	table := &models.RawTable{
		Source:  name,
		Kind:    kind,
		Headers: headers,
		Records: make([]models.RawRecord, 0, len(g.rows)-1),
		Lines:   make([]int, 0, len(g.rows)-1),
	}

	for i, row := range g.rows[1:] {
		if l.config.SkipEmptyRows && isEmptyRecord(row) {
			continue
		}

		record := make(models.RawRecord, len(headers))
		for col, header := range headers {
			if col >= len(row) {
				record[header] = nil
				continue
			}
			record[header] = cellValue(row[col])
		}
		if len(row) > len(headers) && !isEmptyRecord(row[len(headers):]) {
			l.logger.WithFields(logger.Fields{
				"source": name,
				"line":   g.lineAt(i + 1),
				"extra":  len(row) - len(headers),
			}).Debug("Row has more cells than headers; extra cells dropped")
		}

		table.Records = append(table.Records, record)
		table.Lines = append(table.Lines, g.lineAt(i+1))
	}

	return table, nil
}

func (l *Loader) checkRequiredColumns(table *models.RawTable) error {
	required := l.config.Profile(table.Kind).RequiredColumns
	if missing := MissingColumns(table.Headers, required); len(missing) > 0 {
		return errors.SchemaMismatchError(table.Source, missing)
	}
	return nil
}

// MissingColumns returns the required names absent from headers, compared case and whitespace insensitively
func MissingColumns(headers, required []string) []string {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[ColumnKey(h)] = true
	}

	var missing []string
	for _, col := range required {
		if !present[ColumnKey(col)] {
			missing = append(missing, col)
		}
	}
	return missing
}

// ColumnKey folds a header for comparison: trimmed, lower-cased, inner whitespace collapsed to one space
func ColumnKey(header string) string {
	return strings.Join(strings.Fields(strings.ToLower(header)), " ")
}

func (g *grid) lineAt(i int) int {
	if i < len(g.lines) {
		return g.lines[i]
	}
	return i + 1
}

func cellValue(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func trimBOM(headers []string) []string {
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}
	return headers
}

func dedupeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	seen := make(map[string]int, len(headers))
	for i, h := range headers {
		if n, ok := seen[h]; ok {
			seen[h] = n + 1
			out[i] = fmt.Sprintf("%s.%d", h, n+1)
			continue
		}
		seen[h] = 0
		out[i] = h
	}
	return out
}

// isEmptyRecord checks if all fields in a record are empty or whitespace
func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
