package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseSourceKind(t *testing.T) {
	tests := []struct {
		input    string
		expected SourceKind
		wantErr  bool
	}{
		{"mtr", OrderReport, false},
		{" MTR ", OrderReport, false},
		{"order_report", OrderReport, false},
		{"payment", PaymentReport, false},
		{"payment_report", PaymentReport, false},
		{"bank", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSourceKind(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSourceKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"1,000", "1000", false},
		{"1,234.50", "1234.5", false},
		{"$12.34", "12.34", false},
		{"₹ 2,500", "2500", false},
		{"Rs. 99", "99", false},
		{"-45.10", "-45.1", false},
		{"(45.10)", "-45.1", false},
		{"N/A", "", true},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input, DefaultCurrencySymbols)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestParseTimeWithFormats(t *testing.T) {
	tests := []struct {
		input string
		year  int
		month time.Month
		day   int
	}{
		{"2024-03-15", 2024, time.March, 15},
		{"2024-03-15 10:20:30", 2024, time.March, 15},
		{"Mar 5, 2024 11:02:09 PM UTC", 2024, time.March, 5},
		{"15-03-2024", 2024, time.March, 15},
		{"15/03/2024", 2024, time.March, 15},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimeWithFormats(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Year() != tt.year || got.Month() != tt.month || got.Day() != tt.day {
				t.Errorf("expected %d-%02d-%02d, got %s", tt.year, tt.month, tt.day, got.Format("2006-01-02"))
			}
		})
	}

	if _, err := ParseTimeWithFormats("yesterday"); err == nil {
		t.Error("expected error for unparseable date")
	}
}

func TestMergedRowAccessors(t *testing.T) {
	orderDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	payDate := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)

	order := &TransactionRow{OrderID: "A1", TransactionType: TypeShipment, InvoiceAmount: MustAmount("500"), Date: &orderDate, Origin: OrderReport}
	payment := &TransactionRow{OrderID: "A1", TransactionType: TypePayment, PaymentType: TypeOrder, NetAmount: MustAmount("220"), Date: &payDate, Origin: PaymentReport}

	tests := []struct {
		name        string
		row         MergedRow
		txType      string
		paymentSide string
		invoice     string
		net         string
		date        *time.Time
	}{
		{"matched", MergedRow{OrderID: "A1", Order: order, Payment: payment}, TypeShipment, TypePayment, "500", "220", &payDate},
		{"order only", MergedRow{OrderID: "A1", Order: order}, TypeShipment, "", "500", "null", &orderDate},
		{"payment only", MergedRow{OrderID: "A1", Payment: payment}, TypePayment, TypePayment, "null", "220", &payDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.row.TransactionType(); got != tt.txType {
				t.Errorf("TransactionType: expected %q, got %q", tt.txType, got)
			}
			if got := tt.row.PaymentSideType(); got != tt.paymentSide {
				t.Errorf("PaymentSideType: expected %q, got %q", tt.paymentSide, got)
			}
			if got := FormatAmount(tt.row.InvoiceAmount()); got != tt.invoice {
				t.Errorf("InvoiceAmount: expected %s, got %s", tt.invoice, got)
			}
			if got := FormatAmount(tt.row.NetAmount()); got != tt.net {
				t.Errorf("NetAmount: expected %s, got %s", tt.net, got)
			}
			if got := tt.row.Date(); got == nil || !got.Equal(*tt.date) {
				t.Errorf("Date: expected %v, got %v", tt.date, got)
			}
		})
	}
}

func TestTransactionRowClone(t *testing.T) {
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	row := TransactionRow{OrderID: "A1", Date: &d, Extra: map[string]string{"sku": "X"}}

	clone := row.Clone()
	clone.Extra["sku"] = "Y"
	*clone.Date = d.AddDate(0, 0, 1)

	if row.Extra["sku"] != "X" {
		t.Error("clone shares Extra with the original")
	}
	if !row.Date.Equal(d) {
		t.Error("clone shares Date with the original")
	}
}

func TestVerdict(t *testing.T) {
	if VerdictNotApplicable.IsApplicable() {
		t.Error("not applicable verdict reported as applicable")
	}
	if !VerdictBreached.IsApplicable() || !VerdictWithin.IsApplicable() {
		t.Error("real verdicts must be applicable")
	}
}
