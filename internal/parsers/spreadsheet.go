package parsers

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/multierr"

	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// spreadsheetBackend is one way of decoding a spreadsheet source
type spreadsheetBackend interface {
	Name() string
	Read(ctx context.Context, name string, data []byte, log logger.Logger) (*grid, error)
}

// readSpreadsheet tries each configured backend in order and returns the first grid produced.
// When every backend fails the last backend's own error is returned with all attempts attached.
func (l *Loader) readSpreadsheet(ctx context.Context, name string, data []byte) (*grid, string, error) {
	var (
		attempts []string
		combined error
		lastErr  error
		lastName string
	)

	for _, backendName := range l.config.SpreadsheetBackends {
		if err := ctx.Err(); err != nil {
			return nil, "", errors.InternalError(errors.CodeUnexpectedError, "spreadsheet_read", err)
		}

		backend := l.backends[backendName]
		g, err := backend.Read(ctx, name, data, l.logger)
		if err == nil {
			if len(attempts) > 0 {
				l.logger.WithFields(logger.Fields{
					"source":   name,
					"backend":  backendName,
					"attempts": attempts,
				}).Info("Spreadsheet read by fallback backend")
			}
			return g, backendName, nil
		}

		unavailable := errors.BackendUnavailableError(backendName, err)
		l.logger.WithError(err).WithFields(logger.Fields{
			"source":  name,
			"backend": backendName,
			"code":    unavailable.Code,
		}).Warn("Spreadsheet backend failed, trying next")

		attempts = append(attempts, fmt.Sprintf("%s: %v", backendName, err))
		combined = multierr.Append(combined, fmt.Errorf("%s: %w", backendName, err))
		lastErr = err
		lastName = backendName
	}

	l.logger.WithError(combined).WithField("source", name).Debug("All spreadsheet backends failed")

	final := errors.WrapIfNeeded(lastErr, errors.CategoryParse, errors.CodeMalformedContent,
		fmt.Sprintf("spreadsheet %s could not be read by backend %s", name, lastName))
	return nil, lastName, final.
		WithContext("attempts", attempts).
		WithContext("backend", lastName).
		WithSuggestion(fmt.Sprintf("tried %d backends (%d errors); re-export the report as .xlsx or .csv",
			len(attempts), len(multierr.Errors(combined))))
}

// xlsxBackend reads the first sheet of an Office Open XML workbook
type xlsxBackend struct{}

func (xlsxBackend) Name() string { return BackendXLSX }

func (xlsxBackend) Read(ctx context.Context, name string, data []byte, log logger.Logger) (*grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.MalformedContentError(name, 0, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log.WithError(cerr).Debug("Failed to close workbook")
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.MalformedContentError(name, 0, fmt.Errorf("workbook has no sheets"))
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.MalformedContentError(name, 0, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.MalformedContentError(name, 0, fmt.Errorf("sheet %s is empty", sheet))
	}

	g := &grid{rows: rows, lines: make([]int, len(rows))}
	for i := range rows {
		g.lines[i] = i + 1
	}

	log.WithFields(logger.Fields{
		"source": name,
		"sheet":  sheet,
		"rows":   len(rows),
	}).Debug("Read workbook")

	return g, nil
}
