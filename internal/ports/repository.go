package ports

import (
	"context"
	"time"

	"tradovateLedger/internal/domain"
)

// HistoryFilter narrows historical trade queries. Zero values mean "no filter".
type HistoryFilter struct {
	Symbol     string
	StrategyID *int64
	Since      time.Time // Only trades closed at or after this instant
	Limit      int
	Offset     int
}

// TradeRepository defines the interface for storing and retrieving trades.
type TradeRepository interface {
	// CreateTrade saves a new trade and returns its assigned ID.
	// Returns ErrDuplicateEntry if a trade already exists for the position.
	CreateTrade(ctx context.Context, t *domain.Trade) (int64, error)
	// UpdateTrade overwrites quantity, entry price and P&L extrema of an open trade.
	UpdateTrade(ctx context.Context, t *domain.Trade) error
	// CloseTrade atomically sets exit price, realized P&L, close time, duration
	// and status on the open trade for the position. Returns false (no error)
	// when no open trade exists for the position.
	CloseTrade(ctx context.Context, t *domain.Trade) (bool, error)
	// FindByPositionID retrieves the trade for a broker position regardless of
	// status. Returns nil, nil when not found.
	FindByPositionID(ctx context.Context, positionID string) (*domain.Trade, error)
	// FindOpenByPositionID retrieves the non-closed trade for a position.
	// Returns nil, nil when not found.
	FindOpenByPositionID(ctx context.Context, positionID string) (*domain.Trade, error)
	// FindByID retrieves a trade by ID, scoped to the owning user.
	// Returns nil, nil when not found or owned by someone else.
	FindByID(ctx context.Context, tradeID, userID int64) (*domain.Trade, error)
	// FindOpenByUser retrieves all open trades for a user, newest first.
	FindOpenByUser(ctx context.Context, userID int64) ([]*domain.Trade, error)
	// FindClosedByUser retrieves closed trades for a user, newest-closed first.
	FindClosedByUser(ctx context.Context, userID int64, filter HistoryFilter) ([]*domain.Trade, error)
}

// ExecutionRepository stores per-account fill records.
type ExecutionRepository interface {
	// CreateExecution appends an immutable execution record and returns its ID.
	CreateExecution(ctx context.Context, e *domain.TradeExecution) (int64, error)
	// FindByTrade retrieves all executions for a trade, oldest first.
	FindByTrade(ctx context.Context, tradeID int64) ([]*domain.TradeExecution, error)
}

// StrategyDirectory answers strategy-attribution lookups for the ledger.
type StrategyDirectory interface {
	// FindActiveBySymbol returns the most-recently-triggered active strategy
	// matching the symbol for the user. Returns nil, nil when none exists.
	FindActiveBySymbol(ctx context.Context, userID int64, symbol string) (*domain.StrategyRef, error)
	// FindLatestActive returns the most-recently-created active strategy for
	// the user. Returns nil, nil when none exists.
	FindLatestActive(ctx context.Context, userID int64) (*domain.StrategyRef, error)
}

// TokenStore supplies broker access credentials per (user, environment).
type TokenStore interface {
	// GetValidToken returns a non-expired access token for the user and
	// environment. Returns ErrNoValidCredential when none exists.
	GetValidToken(ctx context.Context, userID int64, env domain.Environment) (string, error)
	// SaveToken stores or replaces the access token for the user and environment.
	SaveToken(ctx context.Context, userID int64, env domain.Environment, token string, expiresAt time.Time) error
}
