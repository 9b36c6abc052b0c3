// Package matcher joins normalized order rows with settlement rows on order id.
//
// The join is a full outer equi-join:
//  1. Settlement rows are indexed by order id
//  2. Each order row is paired with every settlement row sharing its id
//  3. Rows with no partner, and rows with no id, are emitted alone
//  4. The result is sorted by order id so matched rows sit together
//
// Rows without an order id never match each other. Repeated ids on both
// sides produce the full cross product, which is reported as a duplicate
// group so callers can see where row counts grew.
//
// Example usage:
//
//	m := matcher.NewMatcher(matcher.DefaultMatchingConfig(), log)
//	result := m.Merge(orderRows, paymentRows)
package matcher

import "fmt"

// MatchingConfig controls the join
type MatchingConfig struct {
	// SortByOrderID orders the output by order id with id-less rows last.
	SortByOrderID bool `json:"sort_by_order_id" mapstructure:"sort_by_order_id"`

	// WarnOnDuplicateKeys logs a warning when an id repeats on both sides.
	WarnOnDuplicateKeys bool `json:"warn_on_duplicate_keys" mapstructure:"warn_on_duplicate_keys"`

	// DuplicateSampleSize caps the ids listed in the warning.
	DuplicateSampleSize int `json:"duplicate_sample_size" mapstructure:"duplicate_sample_size"`
}

// DefaultMatchingConfig returns the standard join configuration
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		SortByOrderID:       true,
		WarnOnDuplicateKeys: true,
		DuplicateSampleSize: 10,
	}
}

// Validate checks the configuration
func (c *MatchingConfig) Validate() error {
	if c.DuplicateSampleSize < 0 {
		return fmt.Errorf("duplicate sample size cannot be negative: %d", c.DuplicateSampleSize)
	}
	return nil
}
