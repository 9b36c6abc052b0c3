// Package reporter renders reconciliation results for people and for other programs.
//
// Supported output formats:
//   - console: aligned text tables for a terminal
//   - json: the summary report wire contract
//   - yaml: the same contract as YAML
//   - csv: one line per merged row with its buckets and tolerance verdict
//   - xlsx: a workbook with a summary sheet and one sheet per bucket
//
// Example usage:
//
//	gen, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	err = gen.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"settlement-reconciler/internal/classifier"
	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/reconciler"
	"settlement-reconciler/internal/summary"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// Formats lists every supported format
var Formats = []OutputFormat{FormatConsole, FormatJSON, FormatYAML, FormatCSV, FormatXLSX}

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Console options
	IncludeBucketRows bool `json:"include_bucket_rows"`
	MaxRowsPerBucket  int  `json:"max_rows_per_bucket"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`

	// JSON options
	Indent bool `json:"indent"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeBucketRows: true,
		MaxRowsPerBucket:  20,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
		Indent:            true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxRowsPerBucket < 0 {
		return fmt.Errorf("max rows per bucket cannot be negative, got %d", c.MaxRowsPerBucket)
	}
	if c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' || c.CSVDelimiter == '\r' {
		return fmt.Errorf("invalid csv delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// Config returns the generator's configuration
func (rg *ReportGenerator) Config() *ReportConfig {
	return rg.config
}

// GenerateReport writes the report for result to writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.Result, writer io.Writer) error {
	if result == nil || result.Report == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result.Report, writer)
	case FormatYAML:
		return rg.generateYAMLReport(result.Report, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// LedgerRow is a merged row flattened for export
type LedgerRow struct {
	OrderID             string   `json:"order_id" yaml:"order_id"`
	TransactionType     string   `json:"transaction_type" yaml:"transaction_type"`
	PaymentType         string   `json:"payment_type,omitempty" yaml:"payment_type,omitempty"`
	InvoiceAmount       *float64 `json:"invoice_amount" yaml:"invoice_amount"`
	NetAmount           *float64 `json:"net_amount" yaml:"net_amount"`
	Date                string   `json:"date,omitempty" yaml:"date,omitempty"`
	TolerancePercentage *float64 `json:"tolerance_percentage" yaml:"tolerance_percentage"`
	ToleranceStatus     string   `json:"tolerance_status,omitempty" yaml:"tolerance_status,omitempty"`
	Buckets             []string `json:"buckets" yaml:"buckets"`
}

// Ledger flattens every merged row of result, in merge order
func Ledger(result *reconciler.Result) []LedgerRow {
	membership := make(map[int][]string)
	for _, name := range bucketOrder(result.Buckets) {
		for _, i := range result.Buckets[name] {
			membership[i] = append(membership[i], name)
		}
	}

	rows := make([]LedgerRow, len(result.Rows))
	for i := range result.Rows {
		rows[i] = ledgerRow(&result.Rows[i], membership[i])
	}
	return rows
}

func ledgerRow(row *models.MergedRow, buckets []string) LedgerRow {
	out := LedgerRow{
		OrderID:             row.OrderID,
		TransactionType:     row.TransactionType(),
		PaymentType:         row.PaymentType(),
		InvoiceAmount:       floatPtr(row.InvoiceAmount()),
		NetAmount:           floatPtr(row.NetAmount()),
		TolerancePercentage: floatPtr(row.TolerancePercentage),
		ToleranceStatus:     string(row.ToleranceStatus),
		Buckets:             buckets,
	}
	if out.Buckets == nil {
		out.Buckets = []string{}
	}
	if d := row.Date(); d != nil {
		out.Date = d.Format(summary.DateLayout)
	}
	return out
}

func floatPtr(a decimal.NullDecimal) *float64 {
	f, ok := models.AmountFloat(a)
	if !ok {
		return nil
	}
	return &f
}

// bucketOrder returns the known buckets in reporting order, then any others sorted
func bucketOrder(b classifier.Buckets) []string {
	names := make([]string, 0, len(b))
	seen := make(map[string]bool)
	for _, name := range classifier.BucketNames {
		if _, ok := b[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	var extra []string
	for name := range b {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(result *reconciler.Result, writer io.Writer) error {
	w := &errWriter{w: writer}
	report := result.Report

	w.printf("SETTLEMENT RECONCILIATION REPORT\n")
	w.printf("Generated: %s\n", result.ProcessedAt.Format(time.RFC3339))
	if result.Stats != nil {
		w.printf("Processing Duration: %v\n", result.Stats.Duration)
	}
	w.printf("\n")

	w.printf("=== SUMMARY ===\n")
	w.printf("Merged rows:     %d\n", report.Summary.Count)
	w.printf("Invoice amount:  %.2f\n", report.Summary.InvoiceAmount)
	w.printf("Net amount:      %.2f\n", report.Summary.NetAmount)
	w.printf("\n")

	w.printf("=== CATEGORIES ===\n")
	w.printf("%-24s %8s %16s %16s\n", "Category", "Count", "Invoice", "Net")
	for _, name := range classifier.BucketNames {
		c := report.Categories[name]
		w.printf("%-24s %8d %16.2f %16.2f\n", name, c.Count, c.InvoiceAmount, c.NetAmount)
	}
	w.printf("\n")

	w.printf("=== TOLERANCE ===\n")
	for _, verdict := range []models.Verdict{models.VerdictWithin, models.VerdictBreached} {
		w.printf("%-20s %d\n", string(verdict)+":", report.Tolerance[string(verdict)])
	}
	w.printf("\n")

	w.printf("=== TRANSACTION TYPES ===\n")
	w.printf("%-24s %8s %16s\n", "Type", "Count", "Net")
	for _, p := range report.Charts.TransactionTypes {
		label := p.Type
		if label == "" {
			label = "(none)"
		}
		w.printf("%-24s %8d %16.2f\n", label, p.Count, p.Amount)
	}
	w.printf("\n")

	w.printf("=== BY DATE ===\n")
	for _, p := range report.Charts.TransactionsByDate {
		w.printf("%-12s %8d %16.2f\n", p.Date, p.Count, p.Amount)
	}

	if rg.config.IncludeBucketRows {
		rg.printBucketRows(result, w)
	}

	if result.Stats != nil {
		rg.printProcessingStats(result.Stats, w)
	}

	return w.err
}

func (rg *ReportGenerator) printBucketRows(result *reconciler.Result, w *errWriter) {
	for _, name := range classifier.BucketNames {
		rows := result.BucketRows(name)
		if len(rows) == 0 {
			continue
		}
		w.printf("\n=== %s (%d) ===\n", strings.ToUpper(name), len(rows))
		w.printf("%-22s %-10s %14s %14s  %s\n", "Order Id", "Type", "Invoice", "Net", "Tolerance")
		for i := range rows {
			if rg.config.MaxRowsPerBucket > 0 && i >= rg.config.MaxRowsPerBucket {
				w.printf("... %d more\n", len(rows)-i)
				break
			}
			r := &rows[i]
			w.printf("%-22s %-10s %14s %14s  %s\n",
				r.OrderID,
				r.TransactionType(),
				models.FormatAmount(r.InvoiceAmount()),
				models.FormatAmount(r.NetAmount()),
				string(r.ToleranceStatus))
		}
	}
}

func (rg *ReportGenerator) printProcessingStats(stats *reconciler.Stats, w *errWriter) {
	w.printf("\n=== PROCESSING STATISTICS ===\n")
	if stats.Order != nil {
		w.printf("Order report:   %d rows read, %d dropped, %d unparseable amounts (%s)\n",
			stats.Order.InputRows, stats.Order.DroppedRows, stats.Order.CoercionFailures, stats.OrderBackend)
	}
	if stats.Payment != nil {
		w.printf("Payment report: %d rows read, %d dropped, %d unparseable amounts (%s)\n",
			stats.Payment.InputRows, stats.Payment.DroppedRows, stats.Payment.CoercionFailures, stats.PaymentBackend)
	}
	w.printf("Join:           %d matched, %d order only, %d payment only, %d without order id\n",
		stats.Merge.Matched, stats.Merge.OrderOnly, stats.Merge.PaymentOnly, stats.Merge.NullKeyRows)
	if stats.Duplicates != nil && stats.Duplicates.ExtraRows > 0 {
		w.printf("Repeated ids:   %d extra rows from repeated order ids\n", stats.Duplicates.ExtraRows)
	}
}

// generateJSONReport writes the wire contract
func (rg *ReportGenerator) generateJSONReport(report *summary.Report, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	if rg.config.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(report)
}

func (rg *ReportGenerator) generateYAMLReport(report *summary.Report, writer io.Writer) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to encode YAML report: %w", err)
	}
	return encoder.Close()
}

// CSVHeaders is the header line of the CSV ledger
var CSVHeaders = []string{
	"Order_Id",
	"Transaction_Type",
	"Payment_Type",
	"Invoice_Amount",
	"Net_Amount",
	"Date",
	"Tolerance_Percentage",
	"Tolerance_Status",
	"Buckets",
}

// generateCSVReport writes one record per merged row
func (rg *ReportGenerator) generateCSVReport(result *reconciler.Result, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(CSVHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, row := range Ledger(result) {
		if err := csvWriter.Write(ledgerRecord(row)); err != nil {
			return fmt.Errorf("failed to write ledger record for %s: %w", row.OrderID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func ledgerRecord(row LedgerRow) []string {
	return []string{
		row.OrderID,
		row.TransactionType,
		row.PaymentType,
		formatFloat(row.InvoiceAmount, 2),
		formatFloat(row.NetAmount, 2),
		row.Date,
		formatFloat(row.TolerancePercentage, 2),
		row.ToleranceStatus,
		strings.Join(row.Buckets, ";"),
	}
}

func formatFloat(f *float64, precision int) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%.*f", precision, *f)
}

// errWriter keeps the first write error so formatting code can stay linear
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
