package normalizer

import (
	"settlement-reconciler/internal/models"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// MTRTypeMapping folds order-report types that mean "goods came back" into Return
var MTRTypeMapping = map[string]string{
	models.TypeRefund:          models.TypeReturn,
	models.TypeFreeReplacement: models.TypeReturn,
}

var mtrColumns = []ColumnSpec{
	{Canonical: "transaction_type", Source: "Transaction Type", Required: true},
	{Canonical: "order_id", Source: "Order Id", Required: true},
	{Canonical: "invoice_amount", Source: "Invoice Amount", Required: true},
	{Canonical: "invoice_date", Source: "Invoice Date"},
	{Canonical: "order_date", Source: "Order Date"},
	{Canonical: "shipment_date", Source: "Shipment Date"},
	{Canonical: "description", Source: "Item Description", Aliases: []string{"Description"}},
}

// pending is a row whose amount cell has not been coerced yet
type pending struct {
	row       models.TransactionRow
	rawAmount interface{}
}

func clonePending(in []pending) []pending {
	out := make([]pending, len(in))
	for i, p := range in {
		out[i] = pending{row: p.row.Clone(), rawAmount: p.rawAmount}
	}
	return out
}

// MTRNormalizer converts an order report table into canonical rows
type MTRNormalizer struct {
	logger logger.Logger
}

// NewMTRNormalizer creates an order report normalizer
func NewMTRNormalizer(log logger.Logger) *MTRNormalizer {
	return &MTRNormalizer{logger: logger.OrGlobal(log).WithComponent("mtr_normalizer")}
}

// Normalize runs the order report steps in order: resolve columns, drop
// cancellations, fold return types, coerce invoice amounts.
func (n *MTRNormalizer) Normalize(table *models.RawTable) ([]models.TransactionRow, *Stats, error) {
	cols, err := ResolveColumns(table.Source, table.Headers, mtrColumns, TrimmedKey)
	if err != nil {
		n.logger.WithError(err).WithField("source", table.Source).Error("Order report schema mismatch")
		return nil, nil, err
	}

	stats := newStats(table.Source, table.Len())
	coercion := errors.NewCoercionCollector(table.Source)

	rows := n.extract(table, cols)
	rows = n.dropCancelled(rows, stats)
	rows = n.mapTypes(rows, stats)
	out := n.coerceInvoice(rows, coercion)

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
	log.Info("Normalized order report")

	return out, stats, nil
}

func (n *MTRNormalizer) extract(table *models.RawTable, cols *ColumnMap) []pending {
	typeCol, _ := cols.Header("transaction_type")
	idCol, _ := cols.Header("order_id")
	invoiceCol, _ := cols.Header("invoice_amount")
	descCol, hasDesc := cols.Header("description")

	var dateCols []string
	for _, c := range []string{"invoice_date", "order_date", "shipment_date"} {
		if h, ok := cols.Header(c); ok {
			dateCols = append(dateCols, h)
		}
	}

	out := make([]pending, 0, table.Len())
	for i, record := range table.Records {
		row := models.TransactionRow{
			OrderID:         models.NormalizeOrderID(text(record[idCol])),
			TransactionType: text(record[typeCol]),
			Date:            firstDate(record, dateCols),
			Origin:          models.OrderReport,
			Line:            table.LineOf(i),
			Extra:           extras(record, cols.Passthrough),
		}
		if hasDesc {
			row.Description = text(record[descCol])
		}
		out = append(out, pending{row: row, rawAmount: record[invoiceCol]})
	}
	return out
}

func (n *MTRNormalizer) dropCancelled(in []pending, stats *Stats) []pending {
	out := make([]pending, 0, len(in))
	for _, p := range in {
		if p.row.TransactionType == models.TypeCancel {
			stats.DroppedRows++
			stats.DroppedByType[models.TypeCancel]++
			continue
		}
		out = append(out, pending{row: p.row.Clone(), rawAmount: p.rawAmount})
	}

	n.logger.Debugf("Removed %d Cancel transactions", len(in)-len(out))
	return out
}

func (n *MTRNormalizer) mapTypes(in []pending, stats *Stats) []pending {
	out := clonePending(in)
	for i := range out {
		if mapped, ok := MTRTypeMapping[out[i].row.TransactionType]; ok {
			stats.MappedByType[out[i].row.TransactionType]++
			out[i].row.TransactionType = mapped
		}
	}
	return out
}

func (n *MTRNormalizer) coerceInvoice(in []pending, coercion *errors.CoercionCollector) []models.TransactionRow {
	out := make([]models.TransactionRow, len(in))
	for i, p := range in {
		row := p.row.Clone()
		// order reports never carry currency symbols; only separators are stripped
		value, err := amount(p.rawAmount, nil)
		if err != nil {
			coercion.Add("Invoice Amount", row.Line, p.rawAmount, err)
		}
		row.InvoiceAmount = value
		out[i] = row
	}
	return out
}

func extras(record models.RawRecord, passthrough map[string]string) map[string]string {
	if len(passthrough) == 0 {
		return nil
	}
	out := make(map[string]string, len(passthrough))
	for header, key := range passthrough {
		if v := text(record[header]); v != "" {
			out[key] = v
		}
	}
	return out
}
