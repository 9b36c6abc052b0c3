package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SourceKind identifies which report a table was read from
type SourceKind string

const (
	// OrderReport is the marketplace order/returns report (MTR)
	OrderReport SourceKind = "order_report"
	// PaymentReport is the payment settlement report
	PaymentReport SourceKind = "payment_report"
)

// String returns the string representation of SourceKind
func (k SourceKind) String() string {
	return string(k)
}

// IsValid checks if the source kind is known
func (k SourceKind) IsValid() bool {
	return k == OrderReport || k == PaymentReport
}

// ParseSourceKind accepts the canonical names and the short forms used by uploads
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "order_report", "order", "mtr":
		return OrderReport, nil
	case "payment_report", "payment", "settlement":
		return PaymentReport, nil
	default:
		return "", fmt.Errorf("unknown source kind '%s': must be mtr or payment", s)
	}
}

// Transaction types that survive normalization
const (
	TypeShipment = "Shipment"
	TypeReturn   = "Return"
	TypePayment  = "Payment"
	TypeOrder    = "Order"
)

// Raw transaction types consumed by the normalizers
const (
	TypeCancel          = "Cancel"
	TypeRefund          = "Refund"
	TypeFreeReplacement = "FreeReplacement"
	TypeTransfer        = "Transfer"
)

// RawRecord is one data row keyed by its original header.
// Values are string, float64 or nil for an empty cell.
type RawRecord map[string]interface{}

// RawTable is the loader output for one source
type RawTable struct {
	Source  string
	Kind    SourceKind
	Headers []string
	Records []RawRecord
	// Lines holds the source line of each record, 1-based, header included
	Lines   []int
	Backend string
}

// Len returns the number of data records
func (t *RawTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Records)
}

// LineOf returns the source line of record i, or 0 when unknown
func (t *RawTable) LineOf(i int) int {
	if i < 0 || i >= len(t.Lines) {
		return 0
	}
	return t.Lines[i]
}

// TransactionRow is a normalized row from either source. An empty OrderID is a null key.
type TransactionRow struct {
	OrderID         string
	TransactionType string
	// PaymentType is the mapped settlement type; empty for order rows.
	PaymentType   string
	InvoiceAmount decimal.NullDecimal
	NetAmount     decimal.NullDecimal
	Date          *time.Time
	Description   string
	Origin        SourceKind
	Line          int
	Extra         map[string]string
}

// HasOrderID reports whether the row carries a join key
func (r *TransactionRow) HasOrderID() bool {
	return r != nil && r.OrderID != ""
}

// Clone returns a deep copy of the row
func (r TransactionRow) Clone() TransactionRow {
	out := r
	if r.Date != nil {
		d := *r.Date
		out.Date = &d
	}
	if r.Extra != nil {
		out.Extra = make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func (r *TransactionRow) String() string {
	return fmt.Sprintf("TransactionRow{OrderID: %s, Type: %s, Invoice: %s, Net: %s, Origin: %s}",
		r.OrderID, r.TransactionType, FormatAmount(r.InvoiceAmount), FormatAmount(r.NetAmount), r.Origin)
}

// Verdict is the tolerance outcome for a merged row
type Verdict string

const (
	VerdictWithin        Verdict = "Within Tolerance"
	VerdictBreached      Verdict = "Tolerance Breached"
	VerdictNotApplicable Verdict = ""
)

// IsApplicable reports whether a tolerance check produced a verdict
func (v Verdict) IsApplicable() bool {
	return v != VerdictNotApplicable
}

// MergedRow is one row of the outer join. Either side may be nil, never both.
type MergedRow struct {
	OrderID string
	Order   *TransactionRow
	Payment *TransactionRow

	TolerancePercentage decimal.NullDecimal
	ToleranceStatus     Verdict
}

// HasOrderID reports whether the row carries a join key
func (m *MergedRow) HasOrderID() bool {
	return m.OrderID != ""
}

// Matched reports whether both sides are present
func (m *MergedRow) Matched() bool {
	return m.Order != nil && m.Payment != nil
}

// TransactionType is the order-side type when present, else the payment-side type
func (m *MergedRow) TransactionType() string {
	if m.Order != nil {
		return m.Order.TransactionType
	}
	if m.Payment != nil {
		return m.Payment.TransactionType
	}
	return ""
}

// PaymentSideType is the transaction type stamped on the payment side, empty when absent
func (m *MergedRow) PaymentSideType() string {
	if m.Payment == nil {
		return ""
	}
	return m.Payment.TransactionType
}

// PaymentType is the mapped settlement type of the payment side
func (m *MergedRow) PaymentType() string {
	if m.Payment == nil {
		return ""
	}
	return m.Payment.PaymentType
}

// InvoiceAmount comes from the order side only
func (m *MergedRow) InvoiceAmount() decimal.NullDecimal {
	if m.Order == nil {
		return decimal.NullDecimal{}
	}
	return m.Order.InvoiceAmount
}

// NetAmount comes from the payment side only
func (m *MergedRow) NetAmount() decimal.NullDecimal {
	if m.Payment == nil {
		return decimal.NullDecimal{}
	}
	return m.Payment.NetAmount
}

// Date prefers the settlement date, falling back to the order date
func (m *MergedRow) Date() *time.Time {
	if m.Payment != nil && m.Payment.Date != nil {
		return m.Payment.Date
	}
	if m.Order != nil {
		return m.Order.Date
	}
	return nil
}

// Amount helpers

// NewAmount wraps a decimal as a present amount
func NewAmount(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// MustAmount parses a literal amount; it panics on bad input and is meant for tests and constants
func MustAmount(s string) decimal.NullDecimal {
	return NewAmount(decimal.RequireFromString(s))
}

// FormatAmount renders a nullable amount, "null" when missing
func FormatAmount(a decimal.NullDecimal) string {
	if !a.Valid {
		return "null"
	}
	return a.Decimal.String()
}

// AmountFloat converts a nullable amount to float64 and reports presence
func AmountFloat(a decimal.NullDecimal) (float64, bool) {
	if !a.Valid {
		return 0, false
	}
	return a.Decimal.InexactFloat64(), true
}

// DefaultCurrencySymbols are stripped from settlement amounts before parsing
var DefaultCurrencySymbols = []string{"Rs.", "INR", "₹", "$", "€", "£"}

// ParseAmount parses a decimal after removing currency symbols, thousands separators and spaces
func ParseAmount(s string, currencySymbols []string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	for _, sym := range currencySymbols {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	// accounting negatives: (123.45)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	return d, nil
}

var timeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"Jan 2, 2006 3:04:05 PM MST",
	"Jan 2, 2006 3:04:05 PM",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-01-2006 15:04:05",
	"02-01-2006",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"2006/01/02",
	"02-Jan-2006",
}

// ParseTimeWithFormats attempts to parse time from string using the layouts marketplace exports use.
// Day-first numeric layouts win over month-first ones.
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	var lastErr error
	for _, format := range timeFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// NormalizeOrderID trims an order id; blank ids become the null key ""
func NormalizeOrderID(id string) string {
	return strings.TrimSpace(id)
}
