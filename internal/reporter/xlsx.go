package reporter

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"settlement-reconciler/internal/classifier"
	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/reconciler"
)

const summarySheet = "Summary"

// generateXLSXReport writes a workbook: a summary sheet, then one sheet per non-empty bucket
func (rg *ReportGenerator) generateXLSXReport(result *reconciler.Result, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}

	report := result.Report
	rows := [][]interface{}{
		{"Merged rows", report.Summary.Count},
		{"Invoice amount", report.Summary.InvoiceAmount},
		{"Net amount", report.Summary.NetAmount},
		{},
		{"Category", "Count", "Invoice", "Net"},
	}
	for _, name := range classifier.BucketNames {
		c := report.Categories[name]
		rows = append(rows, []interface{}{name, c.Count, c.InvoiceAmount, c.NetAmount})
	}
	rows = append(rows, []interface{}{}, []interface{}{"Tolerance", "Count"})
	for _, verdict := range []models.Verdict{models.VerdictWithin, models.VerdictBreached} {
		rows = append(rows, []interface{}{string(verdict), report.Tolerance[string(verdict)]})
	}
	if err := writeSheetRows(f, summarySheet, rows); err != nil {
		return err
	}

	ledger := Ledger(result)
	for _, name := range classifier.BucketNames {
		idx := result.Buckets[name]
		if len(idx) == 0 {
			continue
		}
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", name, err)
		}

		sheetRows := [][]interface{}{toRow(CSVHeaders)}
		for _, i := range idx {
			sheetRows = append(sheetRows, toRow(ledgerRecord(ledger[i])))
		}
		if err := writeSheetRows(f, name, sheetRows); err != nil {
			return err
		}
	}

	if err := f.Write(writer); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSheetRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func toRow(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
