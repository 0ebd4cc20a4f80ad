// Package report renders completed backtests as CSV trade logs and PNG
// equity charts.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"cryptobot/internal/domain"
)

// TradesCSVHeader is the column layout of WriteTradesCSV.
var TradesCSVHeader = []string{
	"Entry Time", "Exit Time", "Entry Price", "Exit Price", "Quantity",
	"Side", "Profit", "Profit %", "Fees",
}

// WriteTradesCSV writes one row per trade after the header. Times are
// RFC3339 in UTC; amounts are rounded to 8 decimal places and percentages
// to 4.
func WriteTradesCSV(w io.Writer, trades []domain.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TradesCSVHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for i, t := range trades {
		row := []string{
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			amount(t.EntryPrice),
			amount(t.ExitPrice),
			amount(t.Quantity),
			string(t.Side),
			amount(t.Profit),
			decimal.NewFromFloat(t.ProfitPercent).Round(4).String(),
			amount(t.Fees),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func amount(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}
