// Package summary rolls a reconciled row set up into the report consumed by the dashboard.
package summary

import (
	"sort"

	"github.com/shopspring/decimal"

	"settlement-reconciler/internal/classifier"
	"settlement-reconciler/internal/models"
)

// DateLayout is the calendar-day key used by the per-date chart
const DateLayout = "2006-01-02"

// Report is the wire contract of a reconciliation run. Field names must not change.
type Report struct {
	Summary    Totals                    `json:"summary" yaml:"summary"`
	Charts     Charts                    `json:"charts" yaml:"charts"`
	Categories map[string]CategoryTotals `json:"categories" yaml:"categories"`
	Tolerance  map[string]int            `json:"tolerance" yaml:"tolerance"`
}

// Totals covers the whole merged set
type Totals struct {
	Count         int     `json:"count" yaml:"count"`
	InvoiceAmount float64 `json:"invoiceAmount" yaml:"invoiceAmount"`
	NetAmount     float64 `json:"netAmount" yaml:"netAmount"`
}

// Charts holds the grouped series
type Charts struct {
	TransactionsByDate []DatePoint `json:"transactionsByDate" yaml:"transactionsByDate"`
	TransactionTypes   []TypePoint `json:"transactionTypes" yaml:"transactionTypes"`
}

// DatePoint is one calendar day
type DatePoint struct {
	Date   string  `json:"date" yaml:"date"`
	Amount float64 `json:"amount" yaml:"amount"`
	Count  int     `json:"count" yaml:"count"`
}

// TypePoint is one transaction type
type TypePoint struct {
	Type   string  `json:"type" yaml:"type"`
	Amount float64 `json:"amount" yaml:"amount"`
	Count  int     `json:"count" yaml:"count"`
}

// CategoryTotals describes one classifier bucket
type CategoryTotals struct {
	Count         int     `json:"count" yaml:"count"`
	InvoiceAmount float64 `json:"invoice_amount" yaml:"invoice_amount"`
	NetAmount     float64 `json:"net_amount" yaml:"net_amount"`
}

type group struct {
	amount decimal.Decimal
	count  int
}

func (g *group) add(row *models.MergedRow) {
	if net := row.NetAmount(); net.Valid {
		g.amount = g.amount.Add(net.Decimal)
	}
	if row.HasOrderID() {
		g.count++
	}
}

// Aggregate builds the report. Amount sums skip missing values; group counts only
// include rows that carry an order id.
func Aggregate(rows []models.MergedRow, buckets classifier.Buckets) *Report {
	report := &Report{
		Summary:    Totals{Count: len(rows)},
		Charts:     Charts{TransactionsByDate: []DatePoint{}, TransactionTypes: []TypePoint{}},
		Categories: make(map[string]CategoryTotals, len(classifier.BucketNames)),
		Tolerance:  make(map[string]int),
	}

	invoiceTotal, netTotal := decimal.Zero, decimal.Zero
	byDate := make(map[string]*group)
	byType := make(map[string]*group)

	for i := range rows {
		row := &rows[i]

		if inv := row.InvoiceAmount(); inv.Valid {
			invoiceTotal = invoiceTotal.Add(inv.Decimal)
		}
		if net := row.NetAmount(); net.Valid {
			netTotal = netTotal.Add(net.Decimal)
		}

		if d := row.Date(); d != nil {
			key := d.Format(DateLayout)
			if byDate[key] == nil {
				byDate[key] = &group{}
			}
			byDate[key].add(row)
		}

		if txType := row.TransactionType(); txType != "" {
			if byType[txType] == nil {
				byType[txType] = &group{}
			}
			byType[txType].add(row)
		}

		if row.ToleranceStatus.IsApplicable() {
			report.Tolerance[string(row.ToleranceStatus)]++
		}
	}

	report.Summary.InvoiceAmount = invoiceTotal.InexactFloat64()
	report.Summary.NetAmount = netTotal.InexactFloat64()

	for _, key := range sortedKeys(byDate) {
		g := byDate[key]
		report.Charts.TransactionsByDate = append(report.Charts.TransactionsByDate, DatePoint{
			Date: key, Amount: g.amount.InexactFloat64(), Count: g.count,
		})
	}
	for _, key := range sortedKeys(byType) {
		g := byType[key]
		report.Charts.TransactionTypes = append(report.Charts.TransactionTypes, TypePoint{
			Type: key, Amount: g.amount.InexactFloat64(), Count: g.count,
		})
	}

	for _, name := range classifier.BucketNames {
		report.Categories[name] = categoryTotals(rows, buckets[name])
	}
	for name, idx := range buckets {
		if _, ok := report.Categories[name]; !ok {
			report.Categories[name] = categoryTotals(rows, idx)
		}
	}

	return report
}

func categoryTotals(rows []models.MergedRow, idx []int) CategoryTotals {
	inv, net := decimal.Zero, decimal.Zero
	for _, i := range idx {
		if a := rows[i].InvoiceAmount(); a.Valid {
			inv = inv.Add(a.Decimal)
		}
		if a := rows[i].NetAmount(); a.Valid {
			net = net.Add(a.Decimal)
		}
	}
	return CategoryTotals{
		Count:         len(idx),
		InvoiceAmount: inv.InexactFloat64(),
		NetAmount:     net.InexactFloat64(),
	}
}

func sortedKeys(m map[string]*group) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
