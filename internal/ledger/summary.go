package ledger

import (
	"math"

	"tradovateLedger/internal/domain"

	"github.com/shopspring/decimal"
)

// PerformanceSummary aggregates closed-trade outcomes over a trailing window.
type PerformanceSummary struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       float64         `json:"win_rate"` // Percentage of winners among all closed trades
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	AverageWin    decimal.Decimal `json:"average_win"`
	AverageLoss   decimal.Decimal `json:"average_loss"`
	ProfitFactor  float64         `json:"profit_factor"`
	MaxWin        decimal.Decimal `json:"max_win"`
	MaxLoss       decimal.Decimal `json:"max_loss"`
	PeriodDays    int             `json:"period_days"`
}

// ComputePerformanceSummary folds closed trades into the aggregate. Trades
// without a realized P&L are skipped. A trade with exactly zero P&L counts
// toward the total but is neither a win nor a loss.
//
// ProfitFactor follows the house convention: +Inf when there are wins and no
// losses, 0 when there are neither wins nor losses.
func ComputePerformanceSummary(trades []*domain.Trade, periodDays int) PerformanceSummary {
	s := PerformanceSummary{PeriodDays: periodDays}

	grossWin := decimal.Zero
	grossLoss := decimal.Zero
	for _, t := range trades {
		if t.RealizedPnL == nil {
			continue
		}
		pnl := *t.RealizedPnL
		s.TotalTrades++
		s.TotalPnL = s.TotalPnL.Add(pnl)

		switch {
		case pnl.IsPositive():
			s.WinningTrades++
			grossWin = grossWin.Add(pnl)
			if s.WinningTrades == 1 || pnl.GreaterThan(s.MaxWin) {
				s.MaxWin = pnl
			}
		case pnl.IsNegative():
			s.LosingTrades++
			grossLoss = grossLoss.Add(pnl)
			if s.LosingTrades == 1 || pnl.LessThan(s.MaxLoss) {
				s.MaxLoss = pnl
			}
		}
	}

	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	if s.WinningTrades > 0 {
		s.AverageWin = grossWin.DivRound(decimal.NewFromInt(int64(s.WinningTrades)), domain.PriceScale)
	}
	if s.LosingTrades > 0 {
		s.AverageLoss = grossLoss.DivRound(decimal.NewFromInt(int64(s.LosingTrades)), domain.PriceScale)
	}

	switch {
	case s.LosingTrades > 0:
		win, _ := grossWin.Float64()
		loss, _ := grossLoss.Abs().Float64()
		s.ProfitFactor = win / loss
	case s.WinningTrades > 0:
		s.ProfitFactor = math.Inf(1)
	default:
		s.ProfitFactor = 0
	}
	return s
}
