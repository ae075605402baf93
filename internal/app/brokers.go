package app

import (
	"fmt"

	"tradovateLedger/config"
	"tradovateLedger/internal/adapters/tradovate"
	"tradovateLedger/internal/ports"
)

// NewBrokerConn builds the broker connection for the configured broker id.
// Each supported venue contributes its own ports.BrokerConn implementation;
// the id selects among them at construction time.
func NewBrokerConn(cfg *config.Config, log ports.Logger, tokens ports.TokenStore, handlers ports.BrokerHandlers) (ports.BrokerConn, error) {
	switch cfg.BrokerID {
	case tradovate.BrokerID:
		return tradovate.NewConnection(tradovate.Config{
			URL:                  cfg.WSURL,
			UserID:               cfg.UserID,
			Environment:          cfg.Environment,
			Logger:               log,
			Tokens:               tokens,
			Handlers:             handlers,
			HeartbeatInterval:    cfg.HeartbeatInterval,
			HeartbeatTimeout:     cfg.HeartbeatTimeout,
			AuthTimeout:          cfg.AuthTimeout,
			MaxErrors:            cfg.MaxConnectionErrors,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			QueueCapacity:        cfg.QueueCapacity,
			BreakerThreshold:     cfg.BreakerThreshold,
			BreakerTimeout:       cfg.BreakerTimeout,
		})
	default:
		return nil, fmt.Errorf("unsupported broker %q: %w", cfg.BrokerID, ports.ErrInvalidRequest)
	}
}
