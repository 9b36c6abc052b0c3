package parsers

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

const paymentCSV = `date/time,order id,type,description,total
"Jan 5, 2024 10:00:00 AM UTC",A-1,Order,"Item
with newline","1,000.50"
"Jan 6, 2024 10:00:00 AM UTC",,Transfer,To bank,-500
`

func newTestLoader(t *testing.T, config *LoaderConfig) *Loader {
	t.Helper()
	loader, err := NewLoader(config, logger.Discard())
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	return loader
}

func buildWorkbook(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				t.Fatalf("SetCellValue: %v", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func TestLoadDelimited(t *testing.T) {
	loader := newTestLoader(t, nil)

	table, err := loader.Load(context.Background(), "payment.csv", models.PaymentReport, []byte(paymentCSV))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if table.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", table.Len())
	}
	if table.Backend != BackendDelimited {
		t.Errorf("expected delimited backend, got %s", table.Backend)
	}

	first := table.Records[0]
	if first["description"] != "Item\nwith newline" {
		t.Errorf("expected embedded newline to survive, got %q", first["description"])
	}
	if first["total"] != "1,000.50" {
		t.Errorf("expected raw amount text, got %v", first["total"])
	}
	if table.Records[1]["order id"] != nil {
		t.Errorf("expected empty cell to be nil, got %v", table.Records[1]["order id"])
	}
	if table.LineOf(1) != 4 {
		t.Errorf("expected second record on line 4, got %d", table.LineOf(1))
	}
}

func TestLoadDelimitedPadsShortRows(t *testing.T) {
	loader := newTestLoader(t, nil)
	data := "order id,type,total,description\nA-1,Order\n"

	table, err := loader.Load(context.Background(), "payment.csv", models.PaymentReport, []byte(data))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if v, ok := table.Records[0]["total"]; !ok || v != nil {
		t.Errorf("expected padded nil total, got %v (present=%v)", v, ok)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		kind models.SourceKind
		file string
		data string
		code errors.ErrorCode
	}{
		{
			name: "missing payment columns",
			kind: models.PaymentReport,
			file: "payment.csv",
			data: "order id,type\nA,Order\n",
			code: errors.CodeSchemaMismatch,
		},
		{
			name: "malformed quoting",
			kind: models.PaymentReport,
			file: "payment.csv",
			data: "order id,type,total,description\n\"A-1,Order,10,x\n",
			code: errors.CodeMalformedContent,
		},
		{
			name: "binary content",
			kind: models.PaymentReport,
			file: "payment.csv",
			data: "order id\x00\x01\x02",
			code: errors.CodeMalformedContent,
		},
		{
			name: "empty source",
			kind: models.PaymentReport,
			file: "payment.csv",
			data: "",
			code: errors.CodeMalformedContent,
		},
	}

	loader := newTestLoader(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Load(context.Background(), tt.file, tt.kind, []byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.IsCode(err, tt.code) {
				t.Errorf("expected code %s, got %v", tt.code, err)
			}
		})
	}
}

func TestSchemaMismatchNamesColumns(t *testing.T) {
	loader := newTestLoader(t, nil)
	data := "order id,type\nA,Order\n"

	_, err := loader.Load(context.Background(), "payment.csv", models.PaymentReport, []byte(data))
	re, ok := errors.AsReconcilerError(err)
	if !ok {
		t.Fatalf("expected ReconcilerError, got %v", err)
	}
	missing, _ := re.Context["missing_columns"].([]string)
	if strings.Join(missing, ",") != "description,total" {
		t.Errorf("expected description,total missing, got %v", missing)
	}
}

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/in/payment.csv", []byte(paymentCSV), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fs.MkdirAll("/in/dir.csv", 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	loader := newTestLoader(t, nil)

	if _, err := loader.LoadFile(context.Background(), fs, "/in/payment.csv", models.PaymentReport); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	for _, path := range []string{"/in/missing.csv", "/in/dir.csv"} {
		_, err := loader.LoadFile(context.Background(), fs, path, models.PaymentReport)
		if !errors.IsCode(err, errors.CodeSourceNotFound) {
			t.Errorf("%s: expected source_not_found, got %v", path, err)
		}
	}
}

func TestLoadSpreadsheet(t *testing.T) {
	data := buildWorkbook(t, [][]interface{}{
		{" Transaction Type ", "Order Id", "Invoice Amount", "Invoice Date"},
		{"Shipment", "0123456789", "1,000", "2024-01-05"},
		{"Refund", "B-2", 250.5, nil},
	})

	loader := newTestLoader(t, nil)
	table, err := loader.Load(context.Background(), "mtr.xlsx", models.OrderReport, data)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if table.Backend != BackendXLSX {
		t.Errorf("expected xlsx backend, got %s", table.Backend)
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", table.Len())
	}
	if table.Headers[0] != " Transaction Type " {
		t.Errorf("expected untrimmed header, got %q", table.Headers[0])
	}
	if table.Records[0]["Order Id"] != "0123456789" {
		t.Errorf("expected leading zero to survive, got %v", table.Records[0]["Order Id"])
	}
	if table.Records[1]["Invoice Amount"] != "250.5" {
		t.Errorf("expected raw numeric text 250.5, got %v", table.Records[1]["Invoice Amount"])
	}
	if table.Records[1]["Invoice Date"] != nil {
		t.Errorf("expected missing trailing cell to be nil, got %v", table.Records[1]["Invoice Date"])
	}
}

func TestSpreadsheetFallsBackToDelimited(t *testing.T) {
	data := "Transaction Type,Order Id,Invoice Amount\nShipment,A-1,100\n"

	loader := newTestLoader(t, nil)
	table, err := loader.Load(context.Background(), "mtr.xlsx", models.OrderReport, []byte(data))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if table.Backend != BackendDelimited {
		t.Errorf("expected delimited fallback, got %s", table.Backend)
	}
}

func TestSpreadsheetFallsBackToWindows1252(t *testing.T) {
	text := "Transaction Type,Order Id,Invoice Amount,Buyer\nShipment,A-1,100,Café\n"
	encoded, err := charmap.Windows1252.NewEncoder().String(text)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	loader := newTestLoader(t, nil)
	table, err := loader.Load(context.Background(), "mtr.xls", models.OrderReport, []byte(encoded))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if table.Backend != BackendDelimitedWindows1252 {
		t.Errorf("expected windows-1252 backend, got %s", table.Backend)
	}
	if table.Records[0]["Buyer"] != "Café" {
		t.Errorf("expected decoded text, got %q", table.Records[0]["Buyer"])
	}
}

func TestSpreadsheetAllBackendsFail(t *testing.T) {
	config := DefaultLoaderConfig()
	config.SpreadsheetBackends = []string{BackendDelimited, BackendXLSX}
	loader := newTestLoader(t, config)

	_, err := loader.Load(context.Background(), "mtr.xlsx", models.OrderReport, []byte("PK\x03\x04\x00\x00garbage"))
	if err == nil {
		t.Fatal("expected error")
	}
	re, ok := errors.AsReconcilerError(err)
	if !ok {
		t.Fatalf("expected ReconcilerError, got %v", err)
	}
	if re.Context["backend"] != BackendXLSX {
		t.Errorf("expected last backend xlsx to be reported, got %v", re.Context["backend"])
	}
	attempts, _ := re.Context["attempts"].([]string)
	if len(attempts) != 2 || !strings.HasPrefix(attempts[0], BackendDelimited+":") {
		t.Errorf("expected both attempts recorded in order, got %v", attempts)
	}
}

func TestDuplicateHeaders(t *testing.T) {
	loader := newTestLoader(t, nil)
	data := "order id,type,total,description,total\nA,Order,1,x,2\n"

	table, err := loader.Load(context.Background(), "payment.csv", models.PaymentReport, []byte(data))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if table.Records[0]["total"] != "1" || table.Records[0]["total.1"] != "2" {
		t.Errorf("expected duplicate header suffix, got %v", table.Records[0])
	}
}

func TestDetectFormat(t *testing.T) {
	config := DefaultLoaderConfig()
	tests := []struct {
		name     string
		kind     models.SourceKind
		expected Format
	}{
		{"report.csv", models.OrderReport, FormatDelimited},
		{"report.XLSX", models.PaymentReport, FormatSpreadsheet},
		{"upload", models.OrderReport, FormatSpreadsheet},
		{"upload", models.PaymentReport, FormatDelimited},
	}

	for _, tt := range tests {
		if got := config.DetectFormat(tt.name, tt.kind); got != tt.expected {
			t.Errorf("DetectFormat(%s, %s) = %s, want %s", tt.name, tt.kind, got, tt.expected)
		}
	}
}

func TestLoaderConfigValidate(t *testing.T) {
	config := DefaultLoaderConfig()
	config.SpreadsheetBackends = []string{"xlrd"}
	if err := config.Validate(); err == nil {
		t.Error("expected unknown backend to be rejected")
	}

	config = DefaultLoaderConfig()
	config.SpreadsheetBackends = []string{BackendXLSX, BackendXLSX}
	if err := config.Validate(); err == nil {
		t.Error("expected duplicate backend to be rejected")
	}
}
