package matcher

import (
	"sort"

	"settlement-reconciler/internal/models"
)

// KeyIndex maps order ids to row positions in a slice of transaction rows
type KeyIndex struct {
	// ByKey maps each order id to the positions of its rows, in input order
	ByKey map[string][]int

	// NullKeys holds positions of rows without an order id
	NullKeys []int

	rows []models.TransactionRow
}

// NewKeyIndex creates an index over rows. The slice is not copied.
func NewKeyIndex(rows []models.TransactionRow) *KeyIndex {
	index := &KeyIndex{
		ByKey: make(map[string][]int),
		rows:  rows,
	}

	for i := range rows {
		if !rows[i].HasOrderID() {
			index.NullKeys = append(index.NullKeys, i)
			continue
		}
		index.ByKey[rows[i].OrderID] = append(index.ByKey[rows[i].OrderID], i)
	}

	return index
}

// Lookup returns the positions of rows carrying key
func (ix *KeyIndex) Lookup(key string) []int {
	if key == "" {
		return nil
	}
	return ix.ByKey[key]
}

// Row returns the row at position i
func (ix *KeyIndex) Row(i int) *models.TransactionRow {
	return &ix.rows[i]
}

// Len returns the number of indexed rows
func (ix *KeyIndex) Len() int {
	return len(ix.rows)
}

// Keys returns the distinct order ids in sorted order
func (ix *KeyIndex) Keys() []string {
	keys := make([]string, 0, len(ix.ByKey))
	for k := range ix.ByKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Repeated returns ids that occur more than once, with their counts
func (ix *KeyIndex) Repeated() map[string]int {
	out := make(map[string]int)
	for k, positions := range ix.ByKey {
		if len(positions) > 1 {
			out[k] = len(positions)
		}
	}
	return out
}
