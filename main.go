package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"sync"

	"tradovateLedger/config"
	"tradovateLedger/internal/adapters/logger"
	"tradovateLedger/internal/adapters/sqlite"
	"tradovateLedger/internal/app"
	"tradovateLedger/internal/domain"
	"tradovateLedger/internal/ledger"
	"tradovateLedger/internal/ports"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), "Error closing database repository", map[string]interface{}{"error": err.Error()})
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Trade Ledger
	tradeLedger, err := ledger.NewService(ledger.Config{
		Trades:     repo,
		Executions: repo,
		Strategies: repo,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize trade ledger: %v", err)
	}
	appLogger.Info(context.Background(), "Trade ledger initialized")

	// 5. Initialize Application Service and Broker Connection.
	// The broker connection needs the service's event handlers and the service
	// needs the connection, so the service is built first with the connection
	// injected afterwards through the handler closure.
	svcHolder := &serviceHolder{}
	brokerConn, err := app.NewBrokerConn(cfg, appLogger, repo, svcHolder.handlers())
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize broker connection: %v", err)
	}
	appLogger.Info(context.Background(), "Broker connection initialized", map[string]interface{}{"broker": cfg.BrokerID})

	service, err := app.NewService(cfg, appLogger, brokerConn, tradeLedger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize application service: %v", err)
	}
	svcHolder.set(service)
	appLogger.Info(context.Background(), "Application service initialized")

	// 6. Start the Service
	if err := service.Start(context.Background()); err != nil {
		log.Fatalf("FATAL: Service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}

// serviceHolder breaks the construction cycle between the broker connection
// and the application service: the connection is created with forwarding
// handlers, and the service is plugged in once it exists. Events arriving
// before set() are dropped, which is safe because the connection only starts
// receiving after service.Start.
type serviceHolder struct {
	mu  sync.RWMutex
	svc *app.Service
}

func (h *serviceHolder) set(svc *app.Service) {
	h.mu.Lock()
	h.svc = svc
	h.mu.Unlock()
}

func (h *serviceHolder) get() *app.Service {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.svc
}

func (h *serviceHolder) handlers() ports.BrokerHandlers {
	return ports.BrokerHandlers{
		OnMarketData: func(ev *domain.MarketDataEvent) {
			if svc := h.get(); svc != nil {
				svc.Handlers().OnMarketData(ev)
			}
		},
		OnOrderUpdate: func(ev *domain.OrderUpdateEvent) {
			if svc := h.get(); svc != nil {
				svc.Handlers().OnOrderUpdate(ev)
			}
		},
		OnAccountUpdate: func(ev *domain.AccountUpdateEvent) {
			if svc := h.get(); svc != nil {
				svc.Handlers().OnAccountUpdate(ev)
			}
		},
		OnError: func(err error) {
			if svc := h.get(); svc != nil {
				svc.Handlers().OnError(err)
			}
		},
	}
}
