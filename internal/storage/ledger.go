package storage

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"settlement-reconciler/internal/reporter"
	"settlement-reconciler/pkg/errors"
)

// Transaction is one reconciled row together with the result it belongs to
type Transaction struct {
	reporter.LedgerRow
	ResultID    string    `json:"result_id"`
	SessionID   string    `json:"session_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Rollup adds up the summaries of every completed result
type Rollup struct {
	Results          int                  `json:"results"`
	Failed           int                  `json:"failed"`
	Count            int                  `json:"count"`
	InvoiceAmount    float64              `json:"invoiceAmount"`
	NetAmount        float64              `json:"netAmount"`
	TransactionTypes map[string]TypeTotal `json:"transactionTypes"`
}

// TypeTotal is the rolled up count and net amount of one transaction type
type TypeTotal struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// walk visits every stored record, newest first, until fn returns false
func walk(ctx context.Context, store Store, fn func(*Record) bool) error {
	page := Page{Number: 1, Size: MaxPageSize}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, total, err := store.List(ctx, page)
		if err != nil {
			return err
		}
		for _, r := range records {
			if !fn(r) {
				return nil
			}
		}
		if len(records) == 0 || page.Number*page.Size >= total {
			return nil
		}
		page.Number++
	}
}

func transactionOf(r *Record, row reporter.LedgerRow) Transaction {
	return Transaction{LedgerRow: row, ResultID: r.ID, SessionID: r.SessionID, ProcessedAt: r.CreatedAt}
}

func queryFailure(operation string, err error) error {
	if _, ok := errors.AsReconcilerError(err); ok {
		return err
	}
	return storeFailure(operation, err)
}

// Transactions returns one page of the rows of every stored result. Rows are
// ordered by date, newest first; undated rows come last. Ties keep the newest
// result first and the merge order within a result.
func Transactions(ctx context.Context, store Store, page Page) ([]Transaction, int, error) {
	if err := page.Validate(); err != nil {
		return nil, 0, err
	}

	var all []Transaction
	if err := walk(ctx, store, func(r *Record) bool {
		for _, row := range r.Ledger {
			all = append(all, transactionOf(r, row))
		}
		return true
	}); err != nil {
		return nil, 0, queryFailure("list_transactions", err)
	}

	sort.SliceStable(all, func(i, j int) bool {
		di, dj := all[i].Date, all[j].Date
		if di == "" || dj == "" {
			return di != "" && dj == ""
		}
		return di > dj
	})

	total := len(all)
	start := page.Offset()
	if start >= total {
		return []Transaction{}, total, nil
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// FindTransaction returns the row for orderID from the newest result that has one
func FindTransaction(ctx context.Context, store Store, orderID string) (*Transaction, error) {
	var found *Transaction
	if err := walk(ctx, store, func(r *Record) bool {
		for i := range r.Ledger {
			if r.Ledger[i].OrderID == orderID {
				tx := transactionOf(r, r.Ledger[i])
				found = &tx
				return false
			}
		}
		return true
	}); err != nil {
		return nil, queryFailure("find_transaction", err)
	}

	if orderID == "" || found == nil {
		return nil, errors.ReconciliationError(errors.CodeTransactionNotFound, orderID, nil).
			WithSuggestion("list transactions to find a reconciled order id")
	}
	return found, nil
}

// Summarize rolls up the reports of all stored results. It fails with
// result_not_found when nothing has been stored yet.
func Summarize(ctx context.Context, store Store) (*Rollup, error) {
	rollup := &Rollup{TransactionTypes: make(map[string]TypeTotal)}
	invoice, net := decimal.Zero, decimal.Zero
	typeAmounts := make(map[string]decimal.Decimal)

	if err := walk(ctx, store, func(r *Record) bool {
		rollup.Results++
		if r.Status == StatusFailed || r.Report == nil {
			rollup.Failed++
			return true
		}
		rollup.Count += r.Report.Summary.Count
		invoice = invoice.Add(decimal.NewFromFloat(r.Report.Summary.InvoiceAmount))
		net = net.Add(decimal.NewFromFloat(r.Report.Summary.NetAmount))
		for _, p := range r.Report.Charts.TransactionTypes {
			t := rollup.TransactionTypes[p.Type]
			t.Count += p.Count
			rollup.TransactionTypes[p.Type] = t
			typeAmounts[p.Type] = typeAmounts[p.Type].Add(decimal.NewFromFloat(p.Amount))
		}
		return true
	}); err != nil {
		return nil, queryFailure("summarize", err)
	}

	if rollup.Results == 0 {
		return nil, errors.ReconciliationError(errors.CodeResultNotFound, "summary", nil).
			WithSuggestion("upload both reports to produce a result first")
	}

	rollup.InvoiceAmount = invoice.InexactFloat64()
	rollup.NetAmount = net.InexactFloat64()
	for name, amount := range typeAmounts {
		t := rollup.TransactionTypes[name]
		t.Amount = amount.InexactFloat64()
		rollup.TransactionTypes[name] = t
	}
	return rollup, nil
}
