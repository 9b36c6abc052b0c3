package summary

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"settlement-reconciler/internal/classifier"
	"settlement-reconciler/internal/models"
)

func day(s string) *time.Time {
	t, _ := time.Parse(DateLayout, s)
	return &t
}

func sampleRows() []models.MergedRow {
	return []models.MergedRow{
		{
			OrderID:         "A",
			Order:           &models.TransactionRow{OrderID: "A", TransactionType: models.TypeShipment, InvoiceAmount: models.MustAmount("500"), Date: day("2024-01-02")},
			Payment:         &models.TransactionRow{OrderID: "A", TransactionType: models.TypePayment, NetAmount: models.MustAmount("300"), Date: day("2024-01-05")},
			ToleranceStatus: models.VerdictWithin,
		},
		{
			OrderID: "B",
			Order:   &models.TransactionRow{OrderID: "B", TransactionType: models.TypeReturn, InvoiceAmount: models.MustAmount("1000"), Date: day("2024-01-03")},
		},
		{
			OrderID: "C",
			Payment: &models.TransactionRow{OrderID: "C", TransactionType: models.TypePayment, NetAmount: models.MustAmount("-20.5"), Date: day("2024-01-05")},
		},
		{
			Payment: &models.TransactionRow{TransactionType: models.TypePayment, NetAmount: models.MustAmount("7")},
		},
	}
}

func TestAggregate(t *testing.T) {
	rows := sampleRows()
	buckets := classifier.New(nil, nil).Classify(rows)

	report := Aggregate(rows, buckets)

	if report.Summary.Count != 4 {
		t.Errorf("expected 4 rows, got %d", report.Summary.Count)
	}
	if report.Summary.InvoiceAmount != 1500 {
		t.Errorf("expected invoice total 1500, got %v", report.Summary.InvoiceAmount)
	}
	if report.Summary.NetAmount != 286.5 {
		t.Errorf("expected net total 286.5, got %v", report.Summary.NetAmount)
	}

	wantDates := []DatePoint{
		{Date: "2024-01-03", Amount: 0, Count: 1},
		{Date: "2024-01-05", Amount: 279.5, Count: 2},
	}
	if len(report.Charts.TransactionsByDate) != len(wantDates) {
		t.Fatalf("expected %d date points, got %+v", len(wantDates), report.Charts.TransactionsByDate)
	}
	for i, want := range wantDates {
		if got := report.Charts.TransactionsByDate[i]; got != want {
			t.Errorf("date point %d: expected %+v, got %+v", i, want, got)
		}
	}

	wantTypes := []TypePoint{
		{Type: models.TypePayment, Amount: -13.5, Count: 1},
		{Type: models.TypeReturn, Amount: 0, Count: 1},
		{Type: models.TypeShipment, Amount: 300, Count: 1},
	}
	if len(report.Charts.TransactionTypes) != len(wantTypes) {
		t.Fatalf("expected %d type points, got %+v", len(wantTypes), report.Charts.TransactionTypes)
	}
	for i, want := range wantTypes {
		if got := report.Charts.TransactionTypes[i]; got != want {
			t.Errorf("type point %d: expected %+v, got %+v", i, want, got)
		}
	}

	if len(report.Categories) != len(classifier.BucketNames) {
		t.Errorf("expected all buckets present, got %v", report.Categories)
	}
	if got := report.Categories[classifier.PaymentPending]; got.Count != 1 || got.InvoiceAmount != 1000 {
		t.Errorf("unexpected payment_pending totals %+v", got)
	}
	if got := report.Categories[classifier.NegativePayout]; got.Count != 1 || got.NetAmount != -20.5 {
		t.Errorf("unexpected negative_payout totals %+v", got)
	}
	if got := report.Categories[classifier.RemovalOrders]; got.Count != 0 {
		t.Errorf("expected no removal orders, got %+v", got)
	}

	if len(report.Tolerance) != 1 || report.Tolerance[string(models.VerdictWithin)] != 1 {
		t.Errorf("unexpected tolerance counts %v", report.Tolerance)
	}
}

func TestAggregateEmpty(t *testing.T) {
	report := Aggregate(nil, classifier.New(nil, nil).Classify(nil))

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	out := string(data)

	for _, want := range []string{
		`"summary":{"count":0,"invoiceAmount":0,"netAmount":0}`,
		`"transactionsByDate":[]`,
		`"transactionTypes":[]`,
		`"payment_pending":{"count":0,"invoice_amount":0,"net_amount":0}`,
		`"tolerance":{}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestAggregateSkipsBlankTransactionType(t *testing.T) {
	rows := []models.MergedRow{
		{Order: &models.TransactionRow{OrderID: "A", TransactionType: models.TypeShipment, InvoiceAmount: models.MustAmount("100")}},
		{Order: &models.TransactionRow{OrderID: "B", InvoiceAmount: models.MustAmount("50")}},
		{},
	}
	report := Aggregate(rows, classifier.New(nil, nil).Classify(rows))

	if len(report.Charts.TransactionTypes) != 1 {
		t.Fatalf("expected only the shipment type, got %+v", report.Charts.TransactionTypes)
	}
	if got := report.Charts.TransactionTypes[0]; got.Type != models.TypeShipment || got.Count != 1 {
		t.Errorf("unexpected type point %+v", got)
	}
	if report.Summary.Count != 3 {
		t.Errorf("expected blank rows to still count towards the summary, got %d", report.Summary.Count)
	}
}
