package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the fixed-point scale used for all stored prices and P&L values.
const PriceScale = 4

// Trade represents one open-to-close trading position.
// Exactly one non-closed Trade exists per PositionID at any time.
type Trade struct {
	ID         int64  // Unique identifier (assigned by the store)
	PositionID string // Broker-assigned position identifier, immutable, unique
	BrokerID   string // Broker venue identifier (e.g., "tradovate")
	Symbol     string // Trading symbol (e.g., "MESU5")
	ContractID string // Broker contract identifier (optional)

	UserID     int64  // Owning user (required)
	StrategyID *int64 // Attributed strategy, nil when unattributed or strategy deleted

	Side            OrderSide       // Derived from signed net position
	TotalQuantity   int             // Contracts held, always > 0
	AvgEntryPrice   decimal.Decimal // Average entry price, 4 decimal places
	ExitPrice       *decimal.Decimal // Set only on close
	RealizedPnL     *decimal.Decimal // Set only on close
	MaxUnrealizedPnL *decimal.Decimal // Most favorable unrealized P&L observed while open
	MaxAdversePnL   *decimal.Decimal // Most unfavorable unrealized P&L observed while open

	Status          TradeStatus
	OpenTime        time.Time  // Set at creation
	CloseTime       *time.Time // Set at close, together with RealizedPnL
	DurationSeconds *int64     // CloseTime − OpenTime in whole seconds

	StopLossPrice   *decimal.Decimal
	TakeProfitPrice *decimal.Decimal
	Notes           string
	Tags            string
	BrokerData      json.RawMessage // Opaque broker payload snapshot for audit
}

// IsOpen reports whether the trade has not yet been closed.
func (t *Trade) IsOpen() bool {
	return t.Status != StatusClosed
}
