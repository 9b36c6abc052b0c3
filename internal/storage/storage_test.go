package storage

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"settlement-reconciler/internal/reporter"
	"settlement-reconciler/internal/summary"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

func record(id string, created time.Time) *Record {
	return &Record{
		ID:          id,
		SessionID:   "session-" + id,
		OrderFile:   "mtr.xlsx",
		PaymentFile: "payments.csv",
		Status:      StatusCompleted,
		Report: &summary.Report{
			Summary: summary.Totals{Count: 2, InvoiceAmount: 1500, NetAmount: 600},
			Charts: summary.Charts{TransactionTypes: []summary.TypePoint{
				{Type: "Shipment", Amount: 600, Count: 1},
				{Type: "Return", Amount: 0, Count: 1},
			}},
			Tolerance: map[string]int{"Within Tolerance": 1},
		},
		Ledger: []reporter.LedgerRow{
			{OrderID: id + "-1", TransactionType: "Shipment", Date: "2024-01-02", Buckets: []string{"order_payment_received"}},
			{OrderID: id + "-2", TransactionType: "Return", Date: "2024-01-03", Buckets: []string{"returns"}},
		},
		CreatedAt: created,
	}
}

func TestPageValidate(t *testing.T) {
	tests := []struct {
		name    string
		page    Page
		wantErr bool
	}{
		{name: "first page", page: Page{Number: 1, Size: DefaultPageSize}},
		{name: "max size", page: Page{Number: 3, Size: MaxPageSize}},
		{name: "zero page", page: Page{Number: 0, Size: 10}, wantErr: true},
		{name: "zero size", page: Page{Number: 1, Size: 0}, wantErr: true},
		{name: "too large", page: Page{Number: 1, Size: MaxPageSize + 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.page.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsCode(err, errors.CodeInvalidConfig) {
				t.Errorf("expected invalid_config, got %v", err)
			}
		})
	}
}

func TestPagePages(t *testing.T) {
	tests := []struct {
		total, size, want int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{301, 300, 2},
	}
	for _, tt := range tests {
		if got := (Page{Number: 1, Size: tt.size}).Pages(tt.total); got != tt.want {
			t.Errorf("Pages(%d) with size %d = %d, want %d", tt.total, tt.size, got, tt.want)
		}
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	in := record("a", time.Now())
	in.Error = "partial"

	data, err := encodePayload(in)
	if err != nil {
		t.Fatal(err)
	}

	var out Record
	if err := decodePayload(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Error != "partial" || out.Report == nil || out.Report.Summary.NetAmount != 600 {
		t.Errorf("payload not restored: %+v", out)
	}
	if out.Report.Tolerance["Within Tolerance"] != 1 {
		t.Errorf("tolerance counts lost: %v", out.Report.Tolerance)
	}
	if len(out.Ledger) != 2 || out.Ledger[1].OrderID != "a-2" || out.Ledger[1].Buckets[0] != "returns" {
		t.Errorf("ledger not restored: %+v", out.Ledger)
	}

	if err := decodePayload([]byte("not snappy"), &out); err == nil {
		t.Error("expected an error for a corrupt payload")
	}
}

func TestMemoryStoreSaveGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	in := record("a", time.Now())
	if err := s.Save(ctx, in); err != nil {
		t.Fatal(err)
	}
	in.Status = StatusFailed

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("store kept a reference to the caller's record")
	}

	if _, err := s.Get(ctx, "missing"); !errors.IsCode(err, errors.CodeResultNotFound) {
		t.Errorf("expected result_not_found, got %v", err)
	}
	if err := s.Save(ctx, &Record{}); !errors.IsCode(err, errors.CodeStoreFailure) {
		t.Errorf("expected store_failure for a record without id, got %v", err)
	}
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		if err := s.Save(ctx, record(fmt.Sprintf("r%02d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		page      Page
		wantLen   int
		wantFirst string
	}{
		{name: "first page newest first", page: Page{Number: 1, Size: 10}, wantLen: 10, wantFirst: "r24"},
		{name: "last partial page", page: Page{Number: 3, Size: 10}, wantLen: 5, wantFirst: "r04"},
		{name: "beyond the end", page: Page{Number: 4, Size: 10}, wantLen: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, total, err := s.List(ctx, tt.page)
			if err != nil {
				t.Fatal(err)
			}
			if total != 25 {
				t.Errorf("total = %d, want 25", total)
			}
			if len(items) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(items), tt.wantLen)
			}
			if tt.wantLen > 0 && items[0].ID != tt.wantFirst {
				t.Errorf("first = %s, want %s", items[0].ID, tt.wantFirst)
			}
		})
	}

	if _, _, err := s.List(ctx, Page{Number: 1, Size: 0}); err == nil {
		t.Error("expected an error for an invalid page")
	}
}

func TestMySQLConfigFormatDSN(t *testing.T) {
	tests := []struct {
		name    string
		config  MySQLConfig
		want    []string
		wantErr bool
	}{
		{
			name:   "fields",
			config: MySQLConfig{Host: "db", Port: 3306, User: "rec", Password: "secret", Database: "recon"},
			want:   []string{"rec:secret@tcp(db:3306)/recon", "parseTime=true"},
		},
		{
			name:   "explicit dsn gets parseTime",
			config: MySQLConfig{DSN: "rec:pw@tcp(127.0.0.1:3307)/other"},
			want:   []string{"tcp(127.0.0.1:3307)/other", "parseTime=true"},
		},
		{name: "missing database", config: MySQLConfig{Host: "db"}, wantErr: true},
		{name: "unparseable dsn", config: MySQLConfig{DSN: "rec:pw@tcp(db"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := tt.config.FormatDSN()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got dsn %q", dsn)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			for _, w := range tt.want {
				if !strings.Contains(dsn, w) {
					t.Errorf("dsn %q does not contain %q", dsn, w)
				}
			}
		})
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), nil, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected memory store by default, got %T", s)
	}

	if _, err := Open(context.Background(), &Config{Driver: "sqlite"}, logger.Discard()); !errors.IsCode(err, errors.CodeInvalidConfig) {
		t.Errorf("expected invalid_config, got %v", err)
	}
}
