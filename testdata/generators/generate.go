package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Scenario weights, out of 100
const (
	weightPaid      = 55
	weightUnderpaid = 10
	weightReturn    = 10
	weightCancel    = 5
	weightPending   = 10
	weightRemoval   = 5
)

var mtrHeaders = []string{"Transaction Type", "Order Id", "Invoice Amount", "Invoice Date", "Order Date", "Shipment Date", "Sku"}

var paymentHeaders = []string{"date/time", "settlement id", "type", "order id", "description", "total"}

// Generator produces a matching pair of order and payment reports
type Generator struct {
	Count     int
	StartDate time.Time
	rng       *rand.Rand

	mtr      [][]interface{}
	payments [][]string
}

func main() {
	var (
		outputDir = flag.String("output-dir", "generated", "output directory")
		count     = flag.Int("count", 500, "number of orders to generate")
		startDate = flag.String("start-date", "2024-01-01", "first invoice date (YYYY-MM-DD)")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "random seed for reproducible generation")
	)
	flag.Parse()

	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		log.Fatalf("Invalid start date: %v", err)
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	g := &Generator{
		Count:     *count,
		StartDate: start,
		rng:       rand.New(rand.NewSource(*seed)),
	}
	g.Generate()

	mtrPath := filepath.Join(*outputDir, "mtr.xlsx")
	if err := g.WriteMTR(mtrPath); err != nil {
		log.Fatalf("Failed to write order report: %v", err)
	}
	paymentPath := filepath.Join(*outputDir, "payments.csv")
	if err := g.WritePayments(paymentPath); err != nil {
		log.Fatalf("Failed to write payment report: %v", err)
	}

	fmt.Printf("Generated %d order rows in %s\n", len(g.mtr), mtrPath)
	fmt.Printf("Generated %d payment rows in %s\n", len(g.payments), paymentPath)
	fmt.Printf("Seed used: %d\n", *seed)
}

// Generate fills both reports. Every order falls into one scenario so the
// reconciliation buckets all receive rows.
func (g *Generator) Generate() {
	settlement := fmt.Sprintf("%011d", g.rng.Int63n(1e11))

	for i := 0; i < g.Count; i++ {
		orderID := fmt.Sprintf("408-%07d-%07d", g.rng.Intn(1e7), i+1)
		day := g.StartDate.AddDate(0, 0, g.rng.Intn(28))
		invoice := decimal.NewFromFloat(100 + g.rng.Float64()*2400).Round(2)

		roll := g.rng.Intn(100)
		switch {
		case roll < weightPaid:
			g.addOrder("Shipment", orderID, invoice, day)
			g.addPayment(day.AddDate(0, 0, 7), settlement, "Order", orderID, g.payout(invoice, 55, 75))
		case roll < weightPaid+weightUnderpaid:
			g.addOrder("Shipment", orderID, invoice, day)
			g.addPayment(day.AddDate(0, 0, 7), settlement, "Order", orderID, g.payout(invoice, 5, 25))
		case roll < weightPaid+weightUnderpaid+weightReturn:
			kind := "Refund"
			if g.rng.Intn(4) == 0 {
				kind = "FreeReplacement"
			}
			g.addOrder("Shipment", orderID, invoice, day)
			g.addOrder(kind, orderID, invoice, day.AddDate(0, 0, 3))
			g.addPayment(day.AddDate(0, 0, 10), settlement, "Refund", orderID, invoice.Neg().Mul(decimal.NewFromFloat(0.1)).Round(2))
		case roll < weightPaid+weightUnderpaid+weightReturn+weightCancel:
			g.addOrder("Cancel", orderID, invoice, day)
		case roll < weightPaid+weightUnderpaid+weightReturn+weightCancel+weightPending:
			g.addOrder("Shipment", orderID, invoice, day)
		case roll < weightPaid+weightUnderpaid+weightReturn+weightCancel+weightPending+weightRemoval:
			removal := fmt.Sprintf("%010d", g.rng.Int63n(1e10))
			g.addOrder("Shipment", removal, decimal.Zero, day)
		default:
			g.addPayment(day, settlement, "Service Fee", orderID, decimal.NewFromFloat(-(5 + g.rng.Float64()*40)).Round(2))
		}
	}

	// Transfers carry no order id and are dropped by the payment normalizer
	g.addPayment(g.StartDate.AddDate(0, 1, 0), settlement, "Transfer", "", decimal.NewFromInt(-1000))
}

func (g *Generator) payout(invoice decimal.Decimal, minPct, maxPct int) decimal.Decimal {
	pct := decimal.NewFromInt(int64(minPct + g.rng.Intn(maxPct-minPct+1)))
	return invoice.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)
}

func (g *Generator) addOrder(kind, orderID string, invoice decimal.Decimal, day time.Time) {
	amount, _ := invoice.Float64()
	g.mtr = append(g.mtr, []interface{}{
		kind,
		orderID,
		amount,
		day.Format("2006-01-02"),
		day.AddDate(0, 0, -1).Format("2006-01-02"),
		day.AddDate(0, 0, 1).Format("2006-01-02"),
		fmt.Sprintf("SKU-%04d", g.rng.Intn(500)),
	})
}

func (g *Generator) addPayment(at time.Time, settlement, kind, orderID string, total decimal.Decimal) {
	g.payments = append(g.payments, []string{
		at.Format("Jan 2, 2006 3:04:05 PM UTC"),
		settlement,
		kind,
		orderID,
		fmt.Sprintf("%s %s", kind, orderID),
		total.StringFixed(2),
	})
}

// WriteMTR writes the order report as a single-sheet workbook
func (g *Generator) WriteMTR(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	header := make([]interface{}, len(mtrHeaders))
	for i, h := range mtrHeaders {
		header[i] = h
	}
	rows := append([][]interface{}{header}, g.mtr...)

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

// WritePayments writes the settlement report as CSV
func (g *Generator) WritePayments(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(paymentHeaders); err != nil {
		return err
	}
	if err := w.WriteAll(g.payments); err != nil {
		return err
	}
	return file.Close()
}
