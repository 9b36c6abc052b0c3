package reporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"settlement-reconciler/internal/classifier"
	"settlement-reconciler/internal/reconciler"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

const orderCSV = `Transaction Type,Order Id,Invoice Amount,Invoice Date
Shipment,408-1111111-0000001,500,2024-01-02
Refund,408-1111111-0000002,"1,000",2024-01-03
Shipment,0123456789,250,2024-01-04
`

const paymentCSV = `date/time,type,order id,description,total
2024-01-05,Order,408-1111111-0000001,Item,300
2024-01-06,Service Fee,408-1111111-0000009,Fee,-45
`

func sampleResult(t *testing.T) *reconciler.Result {
	t.Helper()
	p, err := reconciler.New(nil, logger.Discard())
	if err != nil {
		t.Fatalf("failed to build pipeline: %v", err)
	}
	result, err := p.Run(context.Background(),
		reconciler.Source{Name: "mtr.csv", Data: []byte(orderCSV)},
		reconciler.Source{Name: "payments.csv", Data: []byte(paymentCSV)},
		nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return result
}

func render(t *testing.T, result *reconciler.Result, format OutputFormat) []byte {
	t.Helper()
	config := DefaultReportConfig()
	config.Format = format
	gen, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	var buf bytes.Buffer
	if err := gen.GenerateReport(result, &buf); err != nil {
		t.Fatalf("GenerateReport(%s) failed: %v", format, err)
	}
	return buf.Bytes()
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{name: "default config", config: nil},
		{name: "yaml", config: &ReportConfig{Format: FormatYAML, CSVDelimiter: ','}},
		{name: "invalid format", config: &ReportConfig{Format: "invalid", CSVDelimiter: ','}, expectError: true},
		{name: "negative row limit", config: &ReportConfig{Format: FormatConsole, CSVDelimiter: ',', MaxRowsPerBucket: -1}, expectError: true},
		{name: "quote as delimiter", config: &ReportConfig{Format: FormatCSV, CSVDelimiter: '"'}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if generator == nil {
				t.Errorf("expected generator but got nil")
			}
		})
	}
}

func TestJSONReport(t *testing.T) {
	out := render(t, sampleResult(t), FormatJSON)

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, key := range []string{"summary", "charts", "categories", "tolerance"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}

	var summary struct {
		Count         int     `json:"count"`
		InvoiceAmount float64 `json:"invoiceAmount"`
		NetAmount     float64 `json:"netAmount"`
	}
	if err := json.Unmarshal(decoded["summary"], &summary); err != nil {
		t.Fatal(err)
	}
	if summary.Count != 4 || summary.InvoiceAmount != 1750 || summary.NetAmount != 255 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestYAMLReport(t *testing.T) {
	out := string(render(t, sampleResult(t), FormatYAML))

	for _, want := range []string{"summary:", "invoiceAmount: 1750", "transactionsByDate:", "order_payment_received:", "Within Tolerance: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in YAML output:\n%s", want, out)
		}
	}
}

func TestCSVReport(t *testing.T) {
	out := render(t, sampleResult(t), FormatCSV)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected header plus 4 rows, got %d", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(CSVHeaders, ",") {
		t.Errorf("unexpected headers %v", records[0])
	}

	byID := make(map[string][]string)
	for _, r := range records[1:] {
		byID[r[0]] = r
	}

	refund := byID["408-1111111-0000002"]
	if refund[1] != "Return" || refund[3] != "1000.00" || refund[4] != "" {
		t.Errorf("unexpected refund record %v", refund)
	}
	if refund[8] != "returns;payment_pending" {
		t.Errorf("expected buckets in reporting order, got %q", refund[8])
	}

	matched := byID["408-1111111-0000001"]
	if matched[6] != "60.00" || matched[7] != "Within Tolerance" {
		t.Errorf("unexpected tolerance columns %v", matched)
	}

	if removal := byID["0123456789"]; removal[8] != "removal_orders;payment_pending" {
		t.Errorf("expected leading zeros kept and removal bucket, got %v", removal)
	}
}

func TestConsoleReport(t *testing.T) {
	out := string(render(t, sampleResult(t), FormatConsole))

	for _, want := range []string{
		"SETTLEMENT RECONCILIATION REPORT",
		"=== CATEGORIES ===",
		"removal_orders",
		"=== RETURNS (1) ===",
		"=== PROCESSING STATISTICS ===",
		"Within Tolerance:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in console output", want)
		}
	}
}

func TestXLSXReport(t *testing.T) {
	out := render(t, sampleResult(t), FormatXLSX)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("workbook did not open: %v", err)
	}
	defer f.Close()

	sheets := strings.Join(f.GetSheetList(), ",")
	for _, want := range []string{"Summary", classifier.Returns, classifier.PaymentPending} {
		if !strings.Contains(sheets, want) {
			t.Errorf("expected sheet %s in %s", want, sheets)
		}
	}

	rows, err := f.GetRows(classifier.PaymentPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("expected header plus 2 pending rows, got %d", len(rows))
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("pipe closed")
}

func TestSafeReportGenerator(t *testing.T) {
	result := sampleResult(t)

	if _, err := NewSafeReportGenerator(&ReportConfig{Format: "pdf", CSVDelimiter: ','}, logger.Discard()); !errors.IsCode(err, errors.CodeInvalidConfig) {
		t.Errorf("expected invalid_config, got %v", err)
	}

	gen, err := NewSafeReportGenerator(nil, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gen.GenerateReportSafely(result, &buf); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected output")
	}

	if err := gen.GenerateReportSafely(nil, &buf); !errors.IsCode(err, errors.CodeProcessingError) {
		t.Errorf("expected processing_error for a missing result, got %v", err)
	}

	if err := gen.GenerateReportSafely(result, failingWriter{}); !errors.IsCode(err, errors.CodeProcessingError) {
		t.Errorf("expected processing_error for a failing writer, got %v", err)
	}
}

func TestGenerateBackupPath(t *testing.T) {
	if got := generateBackupPath("/tmp/out/report.json"); got != "/tmp/out/report_backup.json" {
		t.Errorf("unexpected backup path %s", got)
	}
}
