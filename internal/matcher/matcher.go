package matcher

import (
	"sort"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/pkg/logger"
)

// Matcher performs the outer join between order rows and settlement rows
type Matcher struct {
	config *MatchingConfig
	logger logger.Logger
}

// MergeStats counts what the join did with each input row
type MergeStats struct {
	OrderRows   int `json:"order_rows"`
	PaymentRows int `json:"payment_rows"`
	Matched     int `json:"matched"`
	OrderOnly   int `json:"order_only"`
	PaymentOnly int `json:"payment_only"`
	NullKeyRows int `json:"null_key_rows"`
	OutputRows  int `json:"output_rows"`
}

// MergeResult is the joined row set with its statistics
type MergeResult struct {
	Rows       []models.MergedRow
	Stats      MergeStats
	Duplicates *DuplicateReport
}

// NewMatcher creates a matcher
func NewMatcher(config *MatchingConfig, log logger.Logger) *Matcher {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &Matcher{
		config: config,
		logger: logger.OrGlobal(log).WithComponent("matcher"),
	}
}

// Merge joins orders and payments on order id. Inputs are copied, never modified.
func (m *Matcher) Merge(orders, payments []models.TransactionRow) *MergeResult {
	orderRows := copyRows(orders)
	paymentRows := copyRows(payments)

	orderIndex := NewKeyIndex(orderRows)
	paymentIndex := NewKeyIndex(paymentRows)

	stats := MergeStats{OrderRows: len(orderRows), PaymentRows: len(paymentRows)}
	out := make([]models.MergedRow, 0, len(orderRows)+len(paymentRows))

	for i := range orderRows {
		order := &orderRows[i]
		if !order.HasOrderID() {
			stats.NullKeyRows++
			out = append(out, models.MergedRow{Order: order})
			continue
		}

		partners := paymentIndex.Lookup(order.OrderID)
		if len(partners) == 0 {
			stats.OrderOnly++
			out = append(out, models.MergedRow{OrderID: order.OrderID, Order: order})
			continue
		}
		for _, p := range partners {
			stats.Matched++
			out = append(out, models.MergedRow{
				OrderID: order.OrderID,
				Order:   order,
				Payment: paymentIndex.Row(p),
			})
		}
	}

	for i := range paymentRows {
		payment := &paymentRows[i]
		if !payment.HasOrderID() {
			stats.NullKeyRows++
			out = append(out, models.MergedRow{Payment: payment})
			continue
		}
		if len(orderIndex.Lookup(payment.OrderID)) == 0 {
			stats.PaymentOnly++
			out = append(out, models.MergedRow{OrderID: payment.OrderID, Payment: payment})
		}
	}

	if m.config.SortByOrderID {
		sortMerged(out)
	}
	stats.OutputRows = len(out)

	duplicates := DetectDuplicateKeys(orderIndex, paymentIndex)
	m.warnDuplicates(duplicates)

	m.logger.WithFields(logger.Fields{
		"order_rows":    stats.OrderRows,
		"payment_rows":  stats.PaymentRows,
		"matched":       stats.Matched,
		"order_only":    stats.OrderOnly,
		"payment_only":  stats.PaymentOnly,
		"null_key_rows": stats.NullKeyRows,
		"output_rows":   stats.OutputRows,
	}).Info("Merged order and payment rows")

	return &MergeResult{Rows: out, Stats: stats, Duplicates: duplicates}
}

func (m *Matcher) warnDuplicates(report *DuplicateReport) {
	if !m.config.WarnOnDuplicateKeys {
		return
	}
	cross := report.CrossProducts()
	if len(cross) == 0 {
		return
	}

	ids := make([]string, 0, len(cross))
	for _, g := range cross {
		if m.config.DuplicateSampleSize > 0 && len(ids) >= m.config.DuplicateSampleSize {
			break
		}
		ids = append(ids, g.OrderID)
	}

	m.logger.WithFields(logger.Fields{
		"order_ids":  ids,
		"groups":     len(cross),
		"extra_rows": report.ExtraRows,
	}).Warn("Order ids repeat in both reports; joined rows were multiplied")
}

// sortMerged orders rows by order id, id-less rows last, keeping input order for ties
func sortMerged(rows []models.MergedRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].OrderID, rows[j].OrderID
		if a == "" || b == "" {
			return a != "" && b == ""
		}
		return a < b
	})
}

func copyRows(in []models.TransactionRow) []models.TransactionRow {
	out := make([]models.TransactionRow, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
