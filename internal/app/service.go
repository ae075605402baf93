// Package app wires the broker connection to the trade ledger: it routes
// normalized broker events into ledger mutations and supervises the
// connection's lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradovateLedger/config"
	"tradovateLedger/internal/domain"
	"tradovateLedger/internal/ledger"
	"tradovateLedger/internal/ports"
)

const healthCheckInterval = 15 * time.Second

// Service orchestrates one user's broker session and trade bookkeeping.
type Service struct {
	cfg    *config.Config
	logger ports.Logger
	broker ports.BrokerConn
	ledger *ledger.Service
}

// NewService creates a new application service instance.
func NewService(cfg *config.Config, logger ports.Logger, broker ports.BrokerConn, ldg *ledger.Service) (*Service, error) {
	if cfg == nil || logger == nil || broker == nil || ldg == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}
	return &Service{
		cfg:    cfg,
		logger: logger,
		broker: broker,
		ledger: ldg,
	}, nil
}

// Handlers returns the broker event handlers that feed the ledger. They are
// invoked from the connection's receive loop, so per-position serialization
// is delegated to the ledger itself.
func (s *Service) Handlers() ports.BrokerHandlers {
	return ports.BrokerHandlers{
		OnMarketData:    s.handleMarketData,
		OnOrderUpdate:   s.handleOrderUpdate,
		OnAccountUpdate: s.handleAccountUpdate,
		OnError:         s.handleBrokerError,
	}
}

// Start connects to the broker, subscribes the configured symbols and blocks
// until the context is cancelled, a shutdown signal arrives, or the broker
// connection reaches its terminal error state.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting trade ledger service", map[string]interface{}{
		"broker":      s.cfg.BrokerID,
		"environment": s.cfg.Environment,
		"user_id":     s.cfg.UserID,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.broker.Connect(ctx); err != nil {
		s.logger.Error(ctx, "Initial broker connect failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to establish broker connection: %w", err)
	}

	if len(s.cfg.Symbols) > 0 {
		if err := s.broker.Subscribe(ctx, s.cfg.Symbols); err != nil {
			// Queued-while-reconnecting is tolerable; the frame replays later.
			s.logger.Warn(ctx, "Symbol subscription not confirmed", map[string]interface{}{
				"symbols": s.cfg.Symbols,
				"error":   err.Error(),
			})
		}
	}

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Shutting down, closing broker connection")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.broker.Disconnect(shutdownCtx)
			shutdownCancel()
			if err != nil {
				s.logger.Warn(ctx, "Broker disconnect reported an error", map[string]interface{}{"error": err.Error()})
			}
			return nil
		case <-ticker.C:
			status := s.broker.Status()
			if status == domain.ConnError {
				// Reconnect attempts are exhausted; operator intervention needed.
				return fmt.Errorf("broker connection entered terminal error state")
			}
			if !s.broker.Healthy() {
				s.logger.Warn(ctx, "Broker connection unhealthy", map[string]interface{}{"status": status})
			}
		}
	}
}

// handleAccountUpdate maps one position snapshot onto the trade lifecycle:
// a flat position closes the trade, anything else opens or adjusts it.
func (s *Service) handleAccountUpdate(ev *domain.AccountUpdateEvent) {
	ctx := context.Background()
	pos := ev.Position

	s.logger.Debug(ctx, "Account update received", map[string]interface{}{
		"account_id":  ev.AccountID,
		"position_id": pos.PositionID,
		"net_pos":     pos.NetPos,
	})

	if pos.NetPos == 0 {
		if closed := s.ledger.CloseTrade(ctx, pos.PositionID, pos); closed != nil {
			s.logger.Info(ctx, "Position closed", map[string]interface{}{
				"position_id": pos.PositionID,
				"trade_id":    closed.ID,
			})
		}
		return
	}

	// CreateTrade is idempotent, so an already-tracked position falls through
	// to the entry update.
	trade := s.ledger.CreateTrade(ctx, s.cfg.UserID, pos, nil)
	if trade == nil {
		return
	}
	s.ledger.UpdateTradeEntry(ctx, pos.PositionID, pos)
	if pos.UnrealizedPnL != nil {
		s.ledger.RecordUnrealizedPnL(ctx, pos.PositionID, pos.UnrealizedPnL.String())
	}
}

// handleOrderUpdate logs order transitions. Fills reach the ledger through
// account snapshots, so order frames are observability only.
func (s *Service) handleOrderUpdate(ev *domain.OrderUpdateEvent) {
	s.logger.Info(context.Background(), "Order update received", map[string]interface{}{
		"order_id":   ev.OrderID,
		"account_id": ev.AccountID,
		"symbol":     ev.Symbol,
		"status":     ev.Status,
		"side":       ev.Side,
		"quantity":   ev.Quantity,
	})
}

func (s *Service) handleMarketData(ev *domain.MarketDataEvent) {
	s.logger.Debug(context.Background(), "Market data tick", map[string]interface{}{
		"symbol": ev.Symbol,
		"price":  ev.Price.String(),
		"volume": ev.Volume,
	})
}

// handleBrokerError logs connection-level errors. Recovery (error counting,
// reconnect, circuit breaking) is owned by the connection itself.
func (s *Service) handleBrokerError(err error) {
	s.logger.Error(context.Background(), "Broker connection reported an error", map[string]interface{}{
		"error": err.Error(),
	})
}
