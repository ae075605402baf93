package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeExecution is one account-level fill within a Trade. Records are
// append-only: created once per execution event and never mutated.
type TradeExecution struct {
	ID              int64
	TradeID         int64 // Owning trade (cascade-deleted with it)
	BrokerAccountID string
	AccountRole     AccountRole

	Quantity       int
	ExecutionPrice decimal.Decimal
	ExecutionTime  time.Time

	RealizedPnL *decimal.Decimal
	Commission  *decimal.Decimal
	Fees        *decimal.Decimal
	ExecutionID string // Broker execution id, generated locally when absent
}

// NetPnL returns realized P&L minus commission and fees. Nil commission/fees
// count as zero; a nil realized P&L yields a nil net P&L.
func (e *TradeExecution) NetPnL() *decimal.Decimal {
	if e.RealizedPnL == nil {
		return nil
	}
	net := *e.RealizedPnL
	if e.Commission != nil {
		net = net.Sub(*e.Commission)
	}
	if e.Fees != nil {
		net = net.Sub(*e.Fees)
	}
	return &net
}
