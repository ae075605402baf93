// Command trade_report prints a performance summary and recent trade history
// for one user straight from the ledger database. Useful for sanity checks
// without going through the service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"text/tabwriter"

	"tradovateLedger/internal/adapters/logger"
	"tradovateLedger/internal/adapters/sqlite"
	"tradovateLedger/internal/domain"
	"tradovateLedger/internal/ledger"
	"tradovateLedger/internal/utils"
)

func main() {
	dbPath := flag.String("db", "./data/trades.db", "path to the ledger database")
	userID := flag.Int64("user", 0, "user id to report on (required)")
	daysBack := flag.Int("days", 30, "trailing window in days")
	symbol := flag.String("symbol", "", "optional symbol filter for the trade listing")
	limit := flag.Int("limit", 25, "max closed trades to list")
	csvPath := flag.String("csv", "", "optional path to export the listed trades as CSV")
	flag.Parse()

	if *userID <= 0 {
		log.Fatal("a positive -user id is required")
	}

	appLogger := logger.NewStdLogger(logger.LevelWarn)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer repo.Close()

	svc, err := ledger.NewService(ledger.Config{
		Trades:     repo,
		Executions: repo,
		Strategies: repo,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("build ledger: %v", err)
	}

	ctx := context.Background()
	summary, err := svc.GetTradePerformanceSummary(ctx, *userID, *daysBack)
	if err != nil {
		log.Fatalf("load performance summary: %v", err)
	}
	printSummary(summary)

	trades, err := svc.GetHistoricalTrades(ctx, *userID, *symbol, nil, *daysBack, *limit, 0)
	if err != nil {
		log.Fatalf("load trade history: %v", err)
	}
	printTrades(trades)

	if *csvPath != "" {
		f, err := os.Create(*csvPath)
		if err != nil {
			log.Fatalf("create export file: %v", err)
		}
		defer f.Close()
		if err := utils.WriteTradesCSV(f, trades); err != nil {
			log.Fatalf("export trades: %v", err)
		}
		fmt.Printf("\nexported %d trades to %s\n", len(trades), *csvPath)
	}
}

func printSummary(s *ledger.PerformanceSummary) {
	pf := fmt.Sprintf("%.4f", s.ProfitFactor)
	if math.IsInf(s.ProfitFactor, 1) {
		pf = "inf"
	}
	fmt.Printf("Performance over the last %d days\n\n", s.PeriodDays)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "Total trades\t%d\n", s.TotalTrades)
	fmt.Fprintf(w, "Winners / losers\t%d / %d\n", s.WinningTrades, s.LosingTrades)
	fmt.Fprintf(w, "Win rate\t%.1f%%\n", s.WinRate)
	fmt.Fprintf(w, "Total P&L\t%s\n", s.TotalPnL)
	fmt.Fprintf(w, "Average win / loss\t%s / %s\n", s.AverageWin, s.AverageLoss)
	fmt.Fprintf(w, "Profit factor\t%s\n", pf)
	fmt.Fprintf(w, "Best / worst trade\t%s / %s\n", s.MaxWin, s.MaxLoss)
	w.Flush()
}

func printTrades(trades []*domain.Trade) {
	if len(trades) == 0 {
		fmt.Println("\nNo closed trades in this window.")
		return
	}
	fmt.Printf("\nRecent closed trades (%d)\n\n", len(trades))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "ID\tSymbol\tSide\tQty\tEntry\tExit\tP&L\tDuration\tClosed\t")
	for _, t := range trades {
		exit, pnl, dur, closed := "-", "-", "-", "-"
		if t.ExitPrice != nil {
			exit = t.ExitPrice.String()
		}
		if t.RealizedPnL != nil {
			pnl = t.RealizedPnL.String()
		}
		if t.DurationSeconds != nil {
			dur = fmt.Sprintf("%ds", *t.DurationSeconds)
		}
		if t.CloseTime != nil {
			closed = t.CloseTime.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t\n",
			t.ID, t.Symbol, t.Side, t.TotalQuantity, t.AvgEntryPrice, exit, pnl, dur, closed)
	}
	w.Flush()
}
