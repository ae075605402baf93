package ports

import (
	"context"

	"tradovateLedger/internal/domain"
)

// BrokerHandlers receives normalized events from a broker connection.
// Handlers are invoked from the connection's receive loop in receipt order.
type BrokerHandlers struct {
	OnMarketData    func(ev *domain.MarketDataEvent)
	OnOrderUpdate   func(ev *domain.OrderUpdateEvent)
	OnAccountUpdate func(ev *domain.AccountUpdateEvent)
	OnError         func(err error)
}

// BrokerConn is the capability contract for one authenticated, resilient
// duplex session to a broker's market-data/order WebSocket. Broker-specific
// variants implement this interface and are selected by broker id at
// construction time.
type BrokerConn interface {
	// Connect opens the transport, authenticates, starts the receive and
	// heartbeat loops and replays prior subscriptions. Serialized per instance;
	// gated by the connection's circuit breaker.
	Connect(ctx context.Context) error
	// Disconnect stops the background loops and closes the transport.
	Disconnect(ctx context.Context) error
	// Reconnect retries Connect with exponential backoff, up to the configured
	// attempt limit, then drains queued outbound messages.
	Reconnect(ctx context.Context) error

	// Subscribe sends a subscription control frame and optimistically records
	// the symbols; an asynchronous rejection prunes them again.
	Subscribe(ctx context.Context, symbols []string) error
	// Unsubscribe sends an unsubscription control frame and forgets the symbols.
	Unsubscribe(ctx context.Context, symbols []string) error

	// SendMessage transmits a raw frame. When disconnected the frame is queued
	// for replay and ErrNotConnected is returned so the caller can distinguish
	// "sent" from "queued".
	SendMessage(ctx context.Context, payload []byte) error
	// SendHeartbeat sends one heartbeat frame.
	SendHeartbeat(ctx context.Context) error

	// Status returns the current connection status.
	Status() domain.ConnectionStatus
	// Healthy reports whether the connection looks alive: a heartbeat has been
	// recorded, it is fresh, and the error counter is below its threshold.
	Healthy() bool

	// Cleanup resets all transient state (queue, breaker, subscriptions,
	// counters). Idempotent, never fails.
	Cleanup()
}
