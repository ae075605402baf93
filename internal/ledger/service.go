// Package ledger turns normalized broker position events into durable,
// queryable trade history with correct P&L bookkeeping.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradovateLedger/internal/domain"
	"tradovateLedger/internal/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultHistoryLimit = 100

// Config holds the dependencies for creating a ledger service.
type Config struct {
	Trades     ports.TradeRepository
	Executions ports.ExecutionRepository
	Strategies ports.StrategyDirectory
	Logger     ports.Logger
}

// Service is the trade lifecycle service. Mutating operations swallow storage
// failures after logging them and report "did not take effect" via a nil or
// false result; query operations return errors to the caller.
//
// Operations on different position IDs are safe to run concurrently; ops on
// the same position ID are serialized internally so redelivered or racing
// events cannot create a second open trade for one position.
type Service struct {
	trades     ports.TradeRepository
	executions ports.ExecutionRepository
	strategies ports.StrategyDirectory
	logger     ports.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService validates dependencies and returns a ready service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Trades == nil {
		return nil, fmt.Errorf("ledger: trade repository is required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Executions == nil {
		return nil, fmt.Errorf("ledger: execution repository is required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Strategies == nil {
		return nil, fmt.Errorf("ledger: strategy directory is required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("ledger: logger is required: %w", ports.ErrInvalidRequest)
	}
	return &Service{
		trades:     cfg.Trades,
		executions: cfg.Executions,
		strategies: cfg.Strategies,
		logger:     cfg.Logger,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// positionLock returns the mutex serializing operations on one position ID.
func (s *Service) positionLock(positionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[positionID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[positionID] = mu
	}
	return mu
}

// CreateTrade records a newly opened position as an open trade. Redelivered
// "position opened" events are idempotent: when a trade already exists for the
// position ID, the existing record is returned unchanged. When strategyID is
// nil, attribution falls back to the most-recently-triggered active strategy
// for the symbol, then the most-recently-created active strategy, then none.
func (s *Service) CreateTrade(ctx context.Context, userID int64, pos domain.PositionUpdate, strategyID *int64) *domain.Trade {
	if pos.PositionID == "" {
		s.logger.Warn(ctx, "rejecting trade creation without position id", map[string]interface{}{
			"user_id": userID,
			"symbol":  pos.Symbol,
		})
		return nil
	}

	mu := s.positionLock(pos.PositionID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.trades.FindByPositionID(ctx, pos.PositionID)
	if err != nil {
		s.logger.Error(ctx, "failed to check for existing trade", map[string]interface{}{
			"position_id": pos.PositionID,
			"error":       err.Error(),
		})
		return nil
	}
	if existing != nil {
		s.logger.Debug(ctx, "trade already exists for position, returning existing record", map[string]interface{}{
			"position_id": pos.PositionID,
			"trade_id":    existing.ID,
		})
		return existing
	}

	if pos.NetPos == 0 {
		s.logger.Warn(ctx, "rejecting trade creation for flat position", map[string]interface{}{
			"position_id": pos.PositionID,
		})
		return nil
	}
	side := domain.Buy
	quantity := pos.NetPos
	if pos.NetPos < 0 {
		side = domain.Sell
		quantity = -pos.NetPos
	}

	trade := &domain.Trade{
		PositionID:    pos.PositionID,
		BrokerID:      pos.BrokerID,
		Symbol:        pos.Symbol,
		ContractID:    pos.ContractID,
		UserID:        userID,
		StrategyID:    s.resolveStrategy(ctx, userID, pos.Symbol, strategyID),
		Side:          side,
		TotalQuantity: quantity,
		AvgEntryPrice: pos.AveragePrice.Round(domain.PriceScale),
		Status:        domain.StatusOpen,
		OpenTime:      time.Now().UTC(),
		BrokerData:    pos.Raw,
	}
	applyPnLRatchet(trade, pos.UnrealizedPnL)

	id, err := s.trades.CreateTrade(ctx, trade)
	if err != nil {
		// A concurrent writer may have won the unique position_id race.
		if existing, ferr := s.trades.FindByPositionID(ctx, pos.PositionID); ferr == nil && existing != nil {
			return existing
		}
		s.logger.Error(ctx, "failed to persist trade", map[string]interface{}{
			"position_id": pos.PositionID,
			"error":       err.Error(),
		})
		return nil
	}
	trade.ID = id
	s.logger.Info(ctx, "trade opened", map[string]interface{}{
		"trade_id":    id,
		"position_id": pos.PositionID,
		"symbol":      trade.Symbol,
		"side":        trade.Side,
		"quantity":    trade.TotalQuantity,
	})
	return trade
}

// resolveStrategy returns the strategy to attribute a new trade to. Lookup
// failures degrade to "unattributed" rather than blocking trade creation.
func (s *Service) resolveStrategy(ctx context.Context, userID int64, symbol string, strategyID *int64) *int64 {
	if strategyID != nil {
		return strategyID
	}
	ref, err := s.strategies.FindActiveBySymbol(ctx, userID, symbol)
	if err != nil {
		s.logger.Warn(ctx, "strategy lookup by symbol failed", map[string]interface{}{
			"user_id": userID,
			"symbol":  symbol,
			"error":   err.Error(),
		})
		return nil
	}
	if ref == nil {
		ref, err = s.strategies.FindLatestActive(ctx, userID)
		if err != nil {
			s.logger.Warn(ctx, "latest-active strategy lookup failed", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
			return nil
		}
	}
	if ref == nil {
		return nil
	}
	id := ref.ID
	return &id
}

// UpdateTradeEntry applies a position-changed event to the open trade for the
// position. When the quantity is unchanged the call is a deliberate no-op and
// the stored trade is returned untouched, even if the average price moved.
// Otherwise quantity and average entry price are overwritten (averaging in)
// and any supplied unrealized P&L feeds the extrema tracker.
func (s *Service) UpdateTradeEntry(ctx context.Context, positionID string, pos domain.PositionUpdate) *domain.Trade {
	mu := s.positionLock(positionID)
	mu.Lock()
	defer mu.Unlock()

	trade, err := s.trades.FindOpenByPositionID(ctx, positionID)
	if err != nil {
		s.logger.Error(ctx, "failed to load open trade for update", map[string]interface{}{
			"position_id": positionID,
			"error":       err.Error(),
		})
		return nil
	}
	if trade == nil {
		return nil
	}

	quantity := pos.NetPos
	if quantity < 0 {
		quantity = -quantity
	}
	if quantity == trade.TotalQuantity {
		return trade
	}
	if quantity == 0 {
		s.logger.Warn(ctx, "ignoring flat-position update, expected a close event", map[string]interface{}{
			"position_id": positionID,
		})
		return trade
	}

	if pos.NetPos > 0 {
		trade.Side = domain.Buy
	} else {
		trade.Side = domain.Sell
	}
	trade.TotalQuantity = quantity
	trade.AvgEntryPrice = pos.AveragePrice.Round(domain.PriceScale)
	applyPnLRatchet(trade, pos.UnrealizedPnL)

	if err := s.trades.UpdateTrade(ctx, trade); err != nil {
		s.logger.Error(ctx, "failed to persist trade update", map[string]interface{}{
			"position_id": positionID,
			"trade_id":    trade.ID,
			"error":       err.Error(),
		})
		return nil
	}
	return trade
}

// CloseTrade finalizes the open trade for the position: exit price, realized
// P&L, close time and whole-second duration are set together with the closed
// status. Closing an unknown or already-closed position is not an error, it
// simply yields nil.
func (s *Service) CloseTrade(ctx context.Context, positionID string, pos domain.PositionUpdate) *domain.Trade {
	mu := s.positionLock(positionID)
	mu.Lock()
	defer mu.Unlock()

	trade, err := s.trades.FindOpenByPositionID(ctx, positionID)
	if err != nil {
		s.logger.Error(ctx, "failed to load open trade for close", map[string]interface{}{
			"position_id": positionID,
			"error":       err.Error(),
		})
		return nil
	}
	if trade == nil {
		s.logger.Debug(ctx, "close event for unknown or already-closed position", map[string]interface{}{
			"position_id": positionID,
		})
		return nil
	}

	closeTime := time.Now().UTC()
	duration := int64(closeTime.Sub(trade.OpenTime).Seconds())

	exit := closeExitPrice(trade, pos)
	realized := decimal.Zero
	if pos.RealizedPnL != nil {
		realized = pos.RealizedPnL.Round(domain.PriceScale)
	}

	trade.ExitPrice = &exit
	trade.RealizedPnL = &realized
	trade.CloseTime = &closeTime
	trade.DurationSeconds = &duration
	trade.Status = domain.StatusClosed

	closed, err := s.trades.CloseTrade(ctx, trade)
	if err != nil {
		s.logger.Error(ctx, "failed to persist trade close", map[string]interface{}{
			"position_id": positionID,
			"trade_id":    trade.ID,
			"error":       err.Error(),
		})
		return nil
	}
	if !closed {
		// Lost the race to another close between lookup and update.
		return nil
	}
	s.logger.Info(ctx, "trade closed", map[string]interface{}{
		"trade_id":     trade.ID,
		"position_id":  positionID,
		"realized_pnl": realized.String(),
		"duration_s":   duration,
	})
	return trade
}

// closeExitPrice picks the exit price for a close event, falling back through
// the fields a broker snapshot may or may not carry.
func closeExitPrice(trade *domain.Trade, pos domain.PositionUpdate) decimal.Decimal {
	switch {
	case pos.ExitPrice != nil:
		return pos.ExitPrice.Round(domain.PriceScale)
	case pos.CurrentPrice != nil:
		return pos.CurrentPrice.Round(domain.PriceScale)
	case !pos.AveragePrice.IsZero():
		return pos.AveragePrice.Round(domain.PriceScale)
	default:
		return trade.AvgEntryPrice
	}
}

// RecordUnrealizedPnL feeds one unrealized P&L observation into the open
// trade's extrema tracker. The maximum ratchets only upward and the adverse
// minimum only downward; neither resets until a new trade is created.
// Malformed numeric input is logged and swallowed so one bad tick cannot
// abort the position stream.
func (s *Service) RecordUnrealizedPnL(ctx context.Context, positionID string, value string) {
	pnl, err := decimal.NewFromString(value)
	if err != nil {
		s.logger.Warn(ctx, "ignoring malformed unrealized pnl value", map[string]interface{}{
			"position_id": positionID,
			"value":       value,
		})
		return
	}

	mu := s.positionLock(positionID)
	mu.Lock()
	defer mu.Unlock()

	trade, err := s.trades.FindOpenByPositionID(ctx, positionID)
	if err != nil {
		s.logger.Error(ctx, "failed to load open trade for pnl update", map[string]interface{}{
			"position_id": positionID,
			"error":       err.Error(),
		})
		return
	}
	if trade == nil {
		return
	}

	if !applyPnLRatchet(trade, &pnl) {
		return
	}
	if err := s.trades.UpdateTrade(ctx, trade); err != nil {
		s.logger.Error(ctx, "failed to persist pnl extrema", map[string]interface{}{
			"position_id": positionID,
			"trade_id":    trade.ID,
			"error":       err.Error(),
		})
	}
}

// applyPnLRatchet folds one observation into the trade's P&L extrema and
// reports whether either bound moved. A nil observation is a no-op.
func applyPnLRatchet(trade *domain.Trade, pnl *decimal.Decimal) bool {
	if pnl == nil {
		return false
	}
	v := pnl.Round(domain.PriceScale)
	changed := false
	if trade.MaxUnrealizedPnL == nil || v.GreaterThan(*trade.MaxUnrealizedPnL) {
		best := v
		trade.MaxUnrealizedPnL = &best
		changed = true
	}
	if trade.MaxAdversePnL == nil || v.LessThan(*trade.MaxAdversePnL) {
		worst := v
		trade.MaxAdversePnL = &worst
		changed = true
	}
	return changed
}

// CreateTradeExecution appends an immutable per-account fill record. It is
// independent of the trade's status, so a late-arriving execution can still
// be recorded after the trade has closed. A missing execution ID is replaced
// with a generated one.
func (s *Service) CreateTradeExecution(ctx context.Context, tradeID int64, report domain.ExecutionReport) *domain.TradeExecution {
	executionID := report.ExecutionID
	if executionID == "" {
		executionID = uuid.New().String()
	}
	exec := &domain.TradeExecution{
		TradeID:         tradeID,
		BrokerAccountID: report.AccountID,
		AccountRole:     report.Role,
		Quantity:        report.Quantity,
		ExecutionPrice:  report.Price.Round(domain.PriceScale),
		ExecutionTime:   time.Now().UTC(),
		RealizedPnL:     report.PnL,
		Commission:      report.Commission,
		Fees:            report.Fees,
		ExecutionID:     executionID,
	}
	id, err := s.executions.CreateExecution(ctx, exec)
	if err != nil {
		s.logger.Error(ctx, "failed to persist execution", map[string]interface{}{
			"trade_id":     tradeID,
			"execution_id": executionID,
			"error":        err.Error(),
		})
		return nil
	}
	exec.ID = id
	return exec
}

// GetLiveTrades returns the user's open trades, newest first.
func (s *Service) GetLiveTrades(ctx context.Context, userID int64) ([]*domain.Trade, error) {
	return s.trades.FindOpenByUser(ctx, userID)
}

// GetHistoricalTrades returns the user's closed trades, newest-closed first,
// optionally filtered by symbol, strategy and a trailing window of days.
func (s *Service) GetHistoricalTrades(ctx context.Context, userID int64, symbol string, strategyID *int64, daysBack, limit, offset int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	filter := ports.HistoryFilter{
		Symbol:     symbol,
		StrategyID: strategyID,
		Limit:      limit,
		Offset:     offset,
	}
	if daysBack > 0 {
		filter.Since = time.Now().UTC().AddDate(0, 0, -daysBack)
	}
	return s.trades.FindClosedByUser(ctx, userID, filter)
}

// GetTradeByID returns one trade, scoped to the owning user. Returns nil when
// the trade does not exist or belongs to someone else.
func (s *Service) GetTradeByID(ctx context.Context, tradeID, userID int64) (*domain.Trade, error) {
	return s.trades.FindByID(ctx, tradeID, userID)
}

// GetTradeExecutions returns all fill records for a trade, oldest first.
func (s *Service) GetTradeExecutions(ctx context.Context, tradeID int64) ([]*domain.TradeExecution, error) {
	return s.executions.FindByTrade(ctx, tradeID)
}

// GetTradePerformanceSummary aggregates the user's closed trades over the
// trailing window into win/loss statistics. An empty window yields the
// zero-valued aggregate, not an error.
func (s *Service) GetTradePerformanceSummary(ctx context.Context, userID int64, daysBack int) (*PerformanceSummary, error) {
	filter := ports.HistoryFilter{}
	if daysBack > 0 {
		filter.Since = time.Now().UTC().AddDate(0, 0, -daysBack)
	}
	trades, err := s.trades.FindClosedByUser(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	summary := ComputePerformanceSummary(trades, daysBack)
	return &summary, nil
}
