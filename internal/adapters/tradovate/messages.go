package tradovate

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tradovateLedger/internal/domain"

	"github.com/shopspring/decimal"
)

// Frame type discriminators on the broker WebSocket.
const (
	frameAuth       = "auth"
	frameMarketData = "md"
	frameOrder      = "order"
	frameAccount    = "account"
	frameError      = "error"
	frameHeartbeat  = "heartbeat"
	frameSubscribe  = "subscribe"
)

// frameHeader is the minimal envelope used to dispatch inbound frames.
type frameHeader struct {
	Type string `json:"type"`
}

// authRequest is the outbound authentication frame.
type authRequest struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Token string `json:"token"`
}

// authResponse is the broker's reply to an authRequest. Success is reported by
// the explicit flag, not by mere receipt of the frame.
type authResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// subscribeRequest is the outbound symbol subscription control frame.
type subscribeRequest struct {
	Type    string   `json:"type"`
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
}

// subscribeResponse is an asynchronous subscription acknowledgement. A
// rejection carries Success=false and the rejected symbols.
type subscribeResponse struct {
	Type    string   `json:"type"`
	Success bool     `json:"success"`
	Symbols []string `json:"symbols"`
	Message string   `json:"message"`
}

// heartbeatFrame is sent every heartbeat interval while connected.
type heartbeatFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// errorFrame is an inbound broker-reported error.
type errorFrame struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// marketDataFrame carries one broker market-data tick.
type marketDataFrame struct {
	Type      string           `json:"type"`
	Symbol    string           `json:"symbol"`
	Price     *decimal.Decimal `json:"price"`
	Bid       *decimal.Decimal `json:"bid"`
	Ask       *decimal.Decimal `json:"ask"`
	Volume    int64            `json:"volume"`
	Timestamp int64            `json:"timestamp"`
}

// orderFrame carries one broker order status change.
type orderFrame struct {
	Type      string           `json:"type"`
	OrderID   string           `json:"orderId"`
	AccountID string           `json:"accountId"`
	Symbol    string           `json:"symbol"`
	Status    string           `json:"ordStatus"`
	Action    string           `json:"action"` // "Buy" or "Sell"
	Quantity  int              `json:"qty"`
	FillPrice *decimal.Decimal `json:"avgPx"`
	Timestamp int64            `json:"timestamp"`
}

// accountFrame carries one account-level position snapshot.
type accountFrame struct {
	Type      string        `json:"type"`
	AccountID string        `json:"accountId"`
	Position  positionFrame `json:"position"`
	Timestamp int64         `json:"timestamp"`
}

// positionFrame is the broker's position shape inside an account frame.
type positionFrame struct {
	PositionID    string           `json:"positionId"`
	ContractID    string           `json:"contractId"`
	Symbol        string           `json:"symbol"`
	NetPos        int              `json:"netPos"`
	NetPrice      *decimal.Decimal `json:"netPrice"`
	UnrealizedPnL *decimal.Decimal `json:"openPnl"`
	RealizedPnL   *decimal.Decimal `json:"realizedPnl"`
	ExitPrice     *decimal.Decimal `json:"exitPrice"`
	CurrentPrice  *decimal.Decimal `json:"currentPrice"`
}

// normalizeMarketData maps a broker market-data frame into the canonical event
// shape. Malformed input yields nil so the caller can skip the frame without
// killing the receive loop.
func normalizeMarketData(raw []byte, brokerID string) *domain.MarketDataEvent {
	var f marketDataFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	if f.Symbol == "" || f.Price == nil {
		return nil
	}
	ev := &domain.MarketDataEvent{
		Symbol:    f.Symbol,
		Price:     f.Price.Round(domain.PriceScale),
		Volume:    f.Volume,
		Timestamp: frameTime(f.Timestamp),
		Broker:    brokerID,
		Raw:       append(json.RawMessage(nil), raw...),
	}
	if f.Bid != nil {
		ev.Bid = f.Bid.Round(domain.PriceScale)
	}
	if f.Ask != nil {
		ev.Ask = f.Ask.Round(domain.PriceScale)
	}
	return ev
}

// normalizeOrderUpdate maps a broker order frame into the canonical event shape.
func normalizeOrderUpdate(raw []byte, brokerID string) *domain.OrderUpdateEvent {
	var f orderFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	if f.OrderID == "" || f.Symbol == "" {
		return nil
	}
	ev := &domain.OrderUpdateEvent{
		OrderID:   f.OrderID,
		AccountID: f.AccountID,
		Symbol:    f.Symbol,
		Status:    f.Status,
		Quantity:  f.Quantity,
		Timestamp: frameTime(f.Timestamp),
		Broker:    brokerID,
		Raw:       append(json.RawMessage(nil), raw...),
	}
	if f.Action == "Sell" {
		ev.Side = domain.Sell
	} else {
		ev.Side = domain.Buy
	}
	if f.FillPrice != nil {
		ev.FillPrice = f.FillPrice.Round(domain.PriceScale)
	}
	return ev
}

// normalizeAccountUpdate maps a broker account frame into the canonical event shape.
func normalizeAccountUpdate(raw []byte, brokerID string) *domain.AccountUpdateEvent {
	var f accountFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	if f.AccountID == "" || f.Position.PositionID == "" {
		return nil
	}
	pos := domain.PositionUpdate{
		PositionID:    f.Position.PositionID,
		BrokerID:      brokerID,
		Symbol:        f.Position.Symbol,
		ContractID:    f.Position.ContractID,
		NetPos:        f.Position.NetPos,
		UnrealizedPnL: roundPtr(f.Position.UnrealizedPnL),
		RealizedPnL:   roundPtr(f.Position.RealizedPnL),
		ExitPrice:     roundPtr(f.Position.ExitPrice),
		CurrentPrice:  roundPtr(f.Position.CurrentPrice),
		Raw:           append(json.RawMessage(nil), raw...),
	}
	if f.Position.NetPrice != nil {
		pos.AveragePrice = f.Position.NetPrice.Round(domain.PriceScale)
	}
	return &domain.AccountUpdateEvent{
		AccountID: f.AccountID,
		Position:  pos,
		Timestamp: frameTime(f.Timestamp),
		Broker:    brokerID,
		Raw:       append(json.RawMessage(nil), raw...),
	}
}

// parseErrorFrame turns an inbound error frame into a Go error.
func parseErrorFrame(raw []byte) error {
	var f errorFrame
	if err := json.Unmarshal(raw, &f); err != nil || f.Message == "" {
		return errors.New("broker reported an unspecified error")
	}
	return fmt.Errorf("broker error %d: %s", f.Code, f.Message)
}

func frameTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

func roundPtr(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	r := d.Round(domain.PriceScale)
	return &r
}
