package normalizer

import (
	"strings"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// PaymentTypeMapping folds fee and adjustment lines into Order and refunds into Return
var PaymentTypeMapping = map[string]string{
	"Adjustment":            models.TypeOrder,
	"FBA Inventory Fee":     models.TypeOrder,
	"Fulfilment Fee Refund": models.TypeOrder,
	"Service Fee":           models.TypeOrder,
	models.TypeRefund:       models.TypeReturn,
}

var paymentColumns = []ColumnSpec{
	{Canonical: "order_id", Source: "order id", Required: true},
	{Canonical: "type", Source: "type", Required: true},
	{Canonical: "net_amount", Source: "total", Required: true},
	{Canonical: "description", Source: "description", Required: true},
	{Canonical: "date", Source: "date/time", Aliases: []string{"date"}},
}

// PaymentNormalizer converts a settlement report table into canonical rows
type PaymentNormalizer struct {
	logger          logger.Logger
	currencySymbols []string
}

// NewPaymentNormalizer creates a settlement report normalizer.
// A nil symbols list uses models.DefaultCurrencySymbols.
func NewPaymentNormalizer(log logger.Logger, currencySymbols []string) *PaymentNormalizer {
	if currencySymbols == nil {
		currencySymbols = models.DefaultCurrencySymbols
	}
	return &PaymentNormalizer{
		logger:          logger.OrGlobal(log).WithComponent("payment_normalizer"),
		currencySymbols: currencySymbols,
	}
}

// Normalize runs the settlement steps in order: fold headers, clean the type
// field, drop transfers, rename onto the canonical schema, coerce net
// amounts, map payment types, stamp every row as a Payment.
func (n *PaymentNormalizer) Normalize(table *models.RawTable) ([]models.TransactionRow, *Stats, error) {
	cols, err := ResolveColumns(table.Source, table.Headers, paymentColumns, SnakeKey)
	if err != nil {
		n.logger.WithError(err).WithField("source", table.Source).Error("Payment report schema mismatch")
		return nil, nil, err
	}

	stats := newStats(table.Source, table.Len())
	coercion := errors.NewCoercionCollector(table.Source)

	rows := n.extract(table, cols)
	rows = n.cleanTypes(rows)
	rows = n.dropTransfers(rows, stats)
	rows = n.coerceNet(rows, coercion)
	rows = n.mapTypes(rows, stats)
	out := n.stampPayment(rows)

	stats.OutputRows = len(out)
	stats.CoercionFailures = coercion.Count()
	stats.FailuresByColumn = coercion.CountByColumn()

	log := n.logger.WithFields(logger.Fields{
		"source":      table.Source,
		"input_rows":  stats.InputRows,
		"output_rows": stats.OutputRows,
		"dropped":     stats.DroppedRows,
	})
	if coercion.Count() > 0 {
		log = log.WithField("coercion_failures", coercion.Count())
		for _, sample := range coercion.Samples() {
			n.logger.WithFields(logger.Fields(sample.Context)).Debug(sample.Message)
		}
	}
	log.Info("Normalized payment report")

	return out, stats, nil
}

// extract covers the header fold and the rename; the type stays in PaymentType until stamped
func (n *PaymentNormalizer) extract(table *models.RawTable, cols *ColumnMap) []pending {
	idCol, _ := cols.Header("order_id")
	typeCol, _ := cols.Header("type")
	netCol, _ := cols.Header("net_amount")
	descCol, _ := cols.Header("description")
	dateCol, hasDate := cols.Header("date")

	out := make([]pending, 0, table.Len())
	for i, record := range table.Records {
		row := models.TransactionRow{
			OrderID:     models.NormalizeOrderID(text(record[idCol])),
			PaymentType: text(record[typeCol]),
			Description: text(record[descCol]),
			Origin:      models.PaymentReport,
			Line:        table.LineOf(i),
			Extra:       extras(record, cols.Passthrough),
		}
		if hasDate {
			row.Date = date(record[dateCol])
		}
		out = append(out, pending{row: row, rawAmount: record[netCol]})
	}
	return out
}

// cleanTypes removes embedded line breaks and surrounding whitespace from the type field
func (n *PaymentNormalizer) cleanTypes(in []pending) []pending {
	out := clonePending(in)
	replacer := strings.NewReplacer("\r\n", "", "\n", "", "\r", "")
	for i := range out {
		out[i].row.PaymentType = strings.TrimSpace(replacer.Replace(out[i].row.PaymentType))
	}
	return out
}

func (n *PaymentNormalizer) dropTransfers(in []pending, stats *Stats) []pending {
	out := make([]pending, 0, len(in))
	for _, p := range in {
		if p.row.PaymentType == models.TypeTransfer {
			stats.DroppedRows++
			stats.DroppedByType[models.TypeTransfer]++
			continue
		}
		out = append(out, pending{row: p.row.Clone(), rawAmount: p.rawAmount})
	}

	n.logger.Debugf("Removed %d Transfer transactions", len(in)-len(out))
	return out
}

func (n *PaymentNormalizer) coerceNet(in []pending, coercion *errors.CoercionCollector) []pending {
	out := clonePending(in)
	for i := range out {
		value, err := amount(out[i].rawAmount, n.currencySymbols)
		if err != nil {
			coercion.Add("total", out[i].row.Line, out[i].rawAmount, err)
		}
		out[i].row.NetAmount = value
		out[i].rawAmount = nil
	}
	return out
}

func (n *PaymentNormalizer) mapTypes(in []pending, stats *Stats) []pending {
	out := clonePending(in)
	for i := range out {
		if mapped, ok := PaymentTypeMapping[out[i].row.PaymentType]; ok {
			stats.MappedByType[out[i].row.PaymentType]++
			out[i].row.PaymentType = mapped
		}
	}
	return out
}

func (n *PaymentNormalizer) stampPayment(in []pending) []models.TransactionRow {
	out := make([]models.TransactionRow, len(in))
	for i, p := range in {
		row := p.row.Clone()
		row.TransactionType = models.TypePayment
		out[i] = row
	}
	return out
}
