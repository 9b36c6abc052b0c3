package classifier

import (
	"testing"

	"github.com/shopspring/decimal"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/pkg/logger"
)

func amt(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	return models.MustAmount(s)
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		view RowView
		want map[string]bool
	}{
		{
			name: "matched shipment",
			view: RowView{OrderID: "408-1234567-1234567", TransactionType: models.TypeShipment, PaymentSideType: models.TypePayment, Invoice: amt("500"), Net: amt("230")},
			want: map[string]bool{OrderPaymentReceived: true},
		},
		{
			name: "removal order",
			view: RowView{OrderID: "AbCdEfGh12", TransactionType: models.TypeShipment, Invoice: amt("10")},
			want: map[string]bool{RemovalOrders: true, PaymentPending: true},
		},
		{
			name: "return awaiting payment",
			view: RowView{OrderID: "408-1234567-7654321", TransactionType: models.TypeReturn, Invoice: amt("1000")},
			want: map[string]bool{Returns: true, PaymentPending: true},
		},
		{
			name: "return without invoice",
			view: RowView{OrderID: "408-1234567-7654321", TransactionType: models.TypeReturn},
			want: map[string]bool{},
		},
		{
			name: "negative settlement only",
			view: RowView{OrderID: "408-0000000-0000001", TransactionType: models.TypePayment, PaymentSideType: models.TypePayment, Net: amt("-45")},
			want: map[string]bool{NegativePayout: true, OrderNotApplicable: true},
		},
		{
			name: "zero net is not negative",
			view: RowView{OrderID: "408-0000000-0000002", TransactionType: models.TypeShipment, PaymentSideType: models.TypePayment, Invoice: amt("1"), Net: amt("0")},
			want: map[string]bool{OrderPaymentReceived: true},
		},
		{
			name: "negative net on order side without payment side",
			view: RowView{OrderID: "408-0000000-0000003", TransactionType: models.TypeShipment, Net: amt("-1")},
			want: map[string]bool{OrderNotApplicable: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, rule := range DefaultRules() {
				got := rule.Match(tt.view)
				if got != tt.want[rule.Name] {
					t.Errorf("%s: expected %v, got %v", rule.Name, tt.want[rule.Name], got)
				}
			}
		})
	}
}

func TestIsRemovalOrderID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"0123456789", true},
		{"ABCDEFGHIJ", true},
		{"012345678", false},
		{"408-1234567-1234567", false},
		{"éééééééééé", true},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsRemovalOrderID(tt.id); got != tt.want {
			t.Errorf("IsRemovalOrderID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestClassifyNonExclusive(t *testing.T) {
	order := &models.TransactionRow{OrderID: "0123456789", TransactionType: models.TypeReturn, InvoiceAmount: amt("1000")}
	payment := &models.TransactionRow{OrderID: "0123456789", TransactionType: models.TypePayment, NetAmount: amt("-20")}

	rows := []models.MergedRow{
		{OrderID: "0123456789", Order: order, Payment: payment},
		{Order: &models.TransactionRow{TransactionType: models.TypeShipment, InvoiceAmount: amt("5")}},
	}

	buckets := New(nil, logger.Discard()).Classify(rows)

	for _, name := range []string{RemovalOrders, Returns, NegativePayout, OrderPaymentReceived} {
		if buckets.Count(name) != 1 || buckets[name][0] != 0 {
			t.Errorf("expected row 0 in %s, got %v", name, buckets[name])
		}
	}
	for _, name := range []string{OrderNotApplicable, PaymentPending} {
		if buckets.Count(name) != 0 {
			t.Errorf("expected %s empty, got %v", name, buckets[name])
		}
	}

	if len(buckets) != len(BucketNames) {
		t.Errorf("expected all %d buckets present, got %d", len(BucketNames), len(buckets))
	}
}

func TestClassifySkipsRowsWithoutOrderID(t *testing.T) {
	rows := []models.MergedRow{
		{Payment: &models.TransactionRow{TransactionType: models.TypePayment, NetAmount: amt("-5")}},
	}

	buckets := New(nil, logger.Discard()).Classify(rows)
	for _, name := range BucketNames {
		if buckets.Count(name) != 0 {
			t.Errorf("row without order id landed in %s", name)
		}
	}
}
