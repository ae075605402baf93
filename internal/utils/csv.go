package utils

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"tradovateLedger/internal/domain"

	"github.com/shopspring/decimal"
)

// WriteTradesCSV renders trades as CSV for export and offline analysis.
func WriteTradesCSV(w io.Writer, trades []*domain.Trade) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{
		"id", "position_id", "broker_id", "symbol", "side", "quantity",
		"avg_entry_price", "exit_price", "realized_pnl",
		"max_unrealized_pnl", "max_adverse_pnl",
		"status", "open_time", "close_time", "duration_seconds",
	}); err != nil {
		return err
	}

	for _, t := range trades {
		if err := cw.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.PositionID,
			t.BrokerID,
			t.Symbol,
			string(t.Side),
			strconv.Itoa(t.TotalQuantity),
			t.AvgEntryPrice.String(),
			decimalField(t.ExitPrice),
			decimalField(t.RealizedPnL),
			decimalField(t.MaxUnrealizedPnL),
			decimalField(t.MaxAdversePnL),
			string(t.Status),
			t.OpenTime.Format(time.RFC3339),
			timeField(t.CloseTime),
			int64Field(t.DurationSeconds),
		}); err != nil {
			return err
		}
	}
	return cw.Error()
}

func decimalField(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func timeField(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func int64Field(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
