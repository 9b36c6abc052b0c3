package matcher

import (
	"sort"
)

// DuplicateGroup describes one order id that repeats on at least one side
type DuplicateGroup struct {
	OrderID     string `json:"order_id"`
	OrderRows   int    `json:"order_rows"`
	PaymentRows int    `json:"payment_rows"`
	// MergedRows is how many joined rows the id produces
	MergedRows int `json:"merged_rows"`
}

// BothSides reports whether the id repeats in a way that multiplies rows
func (g DuplicateGroup) BothSides() bool {
	return g.OrderRows > 1 && g.PaymentRows > 1
}

// DuplicateReport lists repeated ids found while joining
type DuplicateReport struct {
	Groups []DuplicateGroup `json:"groups"`
	// ExtraRows is how many more rows the join produced than the larger side alone would have
	ExtraRows int `json:"extra_rows"`
}

// CrossProducts returns only the groups repeated on both sides
func (r *DuplicateReport) CrossProducts() []DuplicateGroup {
	var out []DuplicateGroup
	for _, g := range r.Groups {
		if g.BothSides() {
			out = append(out, g)
		}
	}
	return out
}

// DetectDuplicateKeys finds ids repeated on either side of the join
func DetectDuplicateKeys(orders, payments *KeyIndex) *DuplicateReport {
	report := &DuplicateReport{}

	seen := make(map[string]bool)
	var ids []string
	for k := range orders.Repeated() {
		seen[k] = true
		ids = append(ids, k)
	}
	for k := range payments.Repeated() {
		if !seen[k] {
			ids = append(ids, k)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		o := len(orders.Lookup(id))
		p := len(payments.Lookup(id))

		merged := o + p
		if o > 0 && p > 0 {
			merged = o * p
		}

		larger := o
		if p > larger {
			larger = p
		}
		if o > 0 && p > 0 && merged > larger {
			report.ExtraRows += merged - larger
		}

		report.Groups = append(report.Groups, DuplicateGroup{
			OrderID:     id,
			OrderRows:   o,
			PaymentRows: p,
			MergedRows:  merged,
		})
	}

	return report
}
