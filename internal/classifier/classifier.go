// Package classifier sorts merged rows into named, overlapping buckets.
//
// Each bucket is a pure predicate over a RowView. A row may land in any
// number of buckets, including none. Rows without an order id are never
// classified.
package classifier

import (
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/pkg/logger"
)

// Bucket names, in reporting order
const (
	RemovalOrders        = "removal_orders"
	Returns              = "returns"
	NegativePayout       = "negative_payout"
	OrderPaymentReceived = "order_payment_received"
	OrderNotApplicable   = "order_not_applicable"
	PaymentPending       = "payment_pending"
)

// BucketNames lists every bucket in reporting order
var BucketNames = []string{
	RemovalOrders,
	Returns,
	NegativePayout,
	OrderPaymentReceived,
	OrderNotApplicable,
	PaymentPending,
}

// RemovalOrderIDLength is the id length that marks a removal order
const RemovalOrderIDLength = 10

// RowView is the part of a merged row the predicates look at
type RowView struct {
	OrderID         string
	TransactionType string
	PaymentSideType string
	Invoice         decimal.NullDecimal
	Net             decimal.NullDecimal
}

// ViewOf extracts the predicate inputs from a merged row
func ViewOf(row *models.MergedRow) RowView {
	return RowView{
		OrderID:         row.OrderID,
		TransactionType: row.TransactionType(),
		PaymentSideType: row.PaymentSideType(),
		Invoice:         row.InvoiceAmount(),
		Net:             row.NetAmount(),
	}
}

// Predicate decides bucket membership
type Predicate func(RowView) bool

// Rule binds a bucket name to its predicate
type Rule struct {
	Name  string
	Match Predicate
}

// DefaultRules returns the bucket rules in reporting order
func DefaultRules() []Rule {
	return []Rule{
		{Name: RemovalOrders, Match: IsRemovalOrder},
		{Name: Returns, Match: IsReturn},
		{Name: NegativePayout, Match: IsNegativePayout},
		{Name: OrderPaymentReceived, Match: IsPaymentReceived},
		{Name: OrderNotApplicable, Match: IsOrderNotApplicable},
		{Name: PaymentPending, Match: IsPaymentPending},
	}
}

// IsRemovalOrderID marks removal orders by id length alone.
// Marketplace removal ids are exactly ten characters; regular order ids are longer.
func IsRemovalOrderID(orderID string) bool {
	return utf8.RuneCountInString(orderID) == RemovalOrderIDLength
}

// IsRemovalOrder matches rows whose id looks like a removal order id
func IsRemovalOrder(v RowView) bool {
	return IsRemovalOrderID(v.OrderID)
}

// IsReturn matches returned goods that were invoiced
func IsReturn(v RowView) bool {
	return v.TransactionType == models.TypeReturn && v.Invoice.Valid
}

// IsNegativePayout matches settlement rows that paid out less than zero
func IsNegativePayout(v RowView) bool {
	return v.PaymentSideType == models.TypePayment && v.Net.Valid && v.Net.Decimal.IsNegative()
}

// IsPaymentReceived matches invoiced orders with a settlement amount
func IsPaymentReceived(v RowView) bool {
	return v.Net.Valid && v.Invoice.Valid
}

// IsOrderNotApplicable matches settlements without an invoice
func IsOrderNotApplicable(v RowView) bool {
	return v.Net.Valid && !v.Invoice.Valid
}

// IsPaymentPending matches invoiced orders not yet settled
func IsPaymentPending(v RowView) bool {
	return !v.Net.Valid && v.Invoice.Valid
}

// Buckets maps a bucket name to the indexes of its rows in the merged slice
type Buckets map[string][]int

// Count returns the number of rows in a bucket
func (b Buckets) Count(name string) int {
	return len(b[name])
}

// Classifier applies rules to merged rows
type Classifier struct {
	rules  []Rule
	logger logger.Logger
}

// New creates a classifier; nil rules means DefaultRules
func New(rules []Rule, log logger.Logger) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{
		rules:  rules,
		logger: logger.OrGlobal(log).WithComponent("classifier"),
	}
}

// Classify evaluates every rule against every row with an order id.
// Every rule name is present in the result, possibly with no rows.
func (c *Classifier) Classify(rows []models.MergedRow) Buckets {
	buckets := make(Buckets, len(c.rules))
	for _, rule := range c.rules {
		buckets[rule.Name] = []int{}
	}

	for i := range rows {
		if !rows[i].HasOrderID() {
			continue
		}
		view := ViewOf(&rows[i])
		for _, rule := range c.rules {
			if rule.Match(view) {
				buckets[rule.Name] = append(buckets[rule.Name], i)
			}
		}
	}

	fields := logger.Fields{"rows": len(rows)}
	for _, rule := range c.rules {
		fields[rule.Name] = len(buckets[rule.Name])
	}
	c.logger.WithFields(fields).Info("Classified merged rows")

	return buckets
}
