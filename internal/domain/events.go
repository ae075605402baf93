package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MarketDataEvent is the canonical shape of a broker market-data tick after
// normalization. Raw retains the original payload for audit.
type MarketDataEvent struct {
	Symbol    string
	Price     decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume    int64
	Timestamp time.Time
	Broker    string
	Raw       json.RawMessage
}

// OrderUpdateEvent is a normalized order status change.
type OrderUpdateEvent struct {
	OrderID    string
	AccountID  string
	Symbol     string
	Status     string
	Side       OrderSide
	Quantity   int
	FillPrice  decimal.Decimal
	Timestamp  time.Time
	Broker     string
	Raw        json.RawMessage
}

// AccountUpdateEvent is a normalized account-level position snapshot. The
// orchestration layer derives position opened/changed/closed transitions from
// consecutive snapshots of the same position.
type AccountUpdateEvent struct {
	AccountID string
	Position  PositionUpdate
	Timestamp time.Time
	Broker    string
	Raw       json.RawMessage
}

// PositionUpdate carries the position fields the ledger consumes. NetPos is
// signed: positive means long (BUY), the magnitude is the quantity.
type PositionUpdate struct {
	PositionID    string
	BrokerID      string
	Symbol        string
	ContractID    string
	NetPos        int
	AveragePrice  decimal.Decimal
	UnrealizedPnL *decimal.Decimal
	RealizedPnL   *decimal.Decimal
	ExitPrice     *decimal.Decimal
	CurrentPrice  *decimal.Decimal
	Raw           json.RawMessage
}

// ExecutionReport carries one account-level fill for execution recording.
type ExecutionReport struct {
	AccountID   string
	Role        AccountRole
	Quantity    int
	Price       decimal.Decimal
	ExecutionID string
	PnL         *decimal.Decimal
	Commission  *decimal.Decimal
	Fees        *decimal.Decimal
}

// StrategyRef identifies a strategy for trade attribution.
type StrategyRef struct {
	ID            int64
	UserID        int64
	Symbol        string
	IsActive      bool
	LastTriggered *time.Time
	CreatedAt     time.Time
}
