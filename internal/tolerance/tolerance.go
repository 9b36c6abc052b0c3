// Package tolerance labels merged rows by how much of the invoice was actually paid out.
//
// The net amount picks a band; the payout percentage must strictly exceed the band's
// minimum to be within tolerance. Rows without a positive net amount or a non-zero
// invoice get no verdict.
package tolerance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

var hundred = decimal.NewFromInt(100)

// Band is a net amount range (Lower, Upper] with its minimum payout percentage.
// A nil Upper means unbounded.
type Band struct {
	Lower      decimal.Decimal  `json:"lower" yaml:"lower"`
	Upper      *decimal.Decimal `json:"upper,omitempty" yaml:"upper,omitempty"`
	MinPercent decimal.Decimal  `json:"min_percent" yaml:"min_percent"`
}

// Contains reports whether net falls in (Lower, Upper]
func (b Band) Contains(net decimal.Decimal) bool {
	if !net.GreaterThan(b.Lower) {
		return false
	}
	return b.Upper == nil || net.LessThanOrEqual(*b.Upper)
}

func (b Band) String() string {
	if b.Upper == nil {
		return fmt.Sprintf("(%s, inf) > %s%%", b.Lower, b.MinPercent)
	}
	return fmt.Sprintf("(%s, %s] > %s%%", b.Lower, *b.Upper, b.MinPercent)
}

func bound(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// DefaultBands returns the marketplace payout bands
func DefaultBands() []Band {
	return []Band{
		{Lower: decimal.Zero, Upper: bound(300), MinPercent: decimal.NewFromInt(50)},
		{Lower: decimal.NewFromInt(300), Upper: bound(500), MinPercent: decimal.NewFromInt(45)},
		{Lower: decimal.NewFromInt(500), Upper: bound(900), MinPercent: decimal.NewFromInt(43)},
		{Lower: decimal.NewFromInt(900), Upper: bound(1500), MinPercent: decimal.NewFromInt(38)},
		{Lower: decimal.NewFromInt(1500), MinPercent: decimal.NewFromInt(30)},
	}
}

// ValidateBands checks that bands start at zero, are contiguous and end unbounded
func ValidateBands(bands []Band) error {
	if len(bands) == 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "tolerance.bands", "[]", fmt.Errorf("at least one band is required"))
	}
	if !bands[0].Lower.IsZero() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "tolerance.bands[0].lower", bands[0].Lower.String(), fmt.Errorf("first band must start at 0"))
	}

	for i, b := range bands {
		setting := fmt.Sprintf("tolerance.bands[%d]", i)
		if b.MinPercent.IsNegative() {
			return errors.ConfigurationError(errors.CodeInvalidConfig, setting+".min_percent", b.MinPercent.String(), fmt.Errorf("minimum percentage cannot be negative"))
		}
		last := i == len(bands)-1
		if b.Upper == nil {
			if !last {
				return errors.ConfigurationError(errors.CodeInvalidConfig, setting+".upper", "unbounded", fmt.Errorf("only the last band may be unbounded"))
			}
			continue
		}
		if !b.Upper.GreaterThan(b.Lower) {
			return errors.ConfigurationError(errors.CodeInvalidConfig, setting+".upper", b.Upper.String(), fmt.Errorf("upper bound must exceed lower bound %s", b.Lower))
		}
		if last {
			return errors.ConfigurationError(errors.CodeInvalidConfig, setting+".upper", b.Upper.String(), fmt.Errorf("last band must be unbounded"))
		}
		if !bands[i+1].Lower.Equal(*b.Upper) {
			return errors.ConfigurationError(errors.CodeInvalidConfig, fmt.Sprintf("tolerance.bands[%d].lower", i+1), bands[i+1].Lower.String(), fmt.Errorf("bands must be contiguous, expected %s", b.Upper))
		}
	}
	return nil
}

// Assessment is the tolerance result for one pair of amounts
type Assessment struct {
	Percentage decimal.NullDecimal
	Verdict    models.Verdict
}

// Engine evaluates amounts against a fixed set of bands
type Engine struct {
	bands  []Band
	logger logger.Logger
}

// NewEngine validates the bands and builds an engine; nil bands means DefaultBands
func NewEngine(bands []Band, log logger.Logger) (*Engine, error) {
	if bands == nil {
		bands = DefaultBands()
	}
	if err := ValidateBands(bands); err != nil {
		return nil, err
	}
	own := make([]Band, len(bands))
	copy(own, bands)
	return &Engine{bands: own, logger: logger.OrGlobal(log).WithComponent("tolerance")}, nil
}

// Bands returns a copy of the engine's bands
func (e *Engine) Bands() []Band {
	out := make([]Band, len(e.bands))
	copy(out, e.bands)
	return out
}

// BandFor returns the band containing net
func (e *Engine) BandFor(net decimal.Decimal) (Band, bool) {
	for _, b := range e.bands {
		if b.Contains(net) {
			return b, true
		}
	}
	return Band{}, false
}

// Evaluate computes the verdict for a net amount against an invoice amount
func (e *Engine) Evaluate(net, invoice decimal.NullDecimal) Assessment {
	if !net.Valid || !invoice.Valid || invoice.Decimal.IsZero() {
		return Assessment{}
	}
	band, ok := e.BandFor(net.Decimal)
	if !ok {
		return Assessment{}
	}

	pct := net.Decimal.Div(invoice.Decimal).Mul(hundred)
	verdict := models.VerdictBreached
	if pct.GreaterThan(band.MinPercent) {
		verdict = models.VerdictWithin
	}
	return Assessment{Percentage: models.NewAmount(pct), Verdict: verdict}
}

// Apply returns a copy of rows with verdicts filled in, plus the count per verdict
func (e *Engine) Apply(rows []models.MergedRow) ([]models.MergedRow, map[models.Verdict]int) {
	out := make([]models.MergedRow, len(rows))
	counts := make(map[models.Verdict]int)

	for i, row := range rows {
		a := e.Evaluate(row.NetAmount(), row.InvoiceAmount())
		row.TolerancePercentage = a.Percentage
		row.ToleranceStatus = a.Verdict
		out[i] = row
		if a.Verdict.IsApplicable() {
			counts[a.Verdict]++
		}
	}

	e.logger.WithFields(logger.Fields{
		"rows":     len(rows),
		"within":   counts[models.VerdictWithin],
		"breached": counts[models.VerdictBreached],
	}).Info("Tolerance calculation complete")

	return out, counts
}
