package app

import (
	"context"
	"testing"
	"time"

	"tradovateLedger/config"
	"tradovateLedger/internal/domain"
	"tradovateLedger/internal/ledger"
	"tradovateLedger/internal/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, msg string, fields ...map[string]interface{}) {}

// memTradeRepo is a minimal in-memory TradeRepository for routing tests.
type memTradeRepo struct {
	nextID int64
	byPos  map[string]*domain.Trade
}

func newMemTradeRepo() *memTradeRepo {
	return &memTradeRepo{byPos: make(map[string]*domain.Trade)}
}

func (m *memTradeRepo) CreateTrade(ctx context.Context, t *domain.Trade) (int64, error) {
	if _, ok := m.byPos[t.PositionID]; ok {
		return 0, ports.ErrDuplicateEntry
	}
	m.nextID++
	cp := *t
	cp.ID = m.nextID
	m.byPos[t.PositionID] = &cp
	return cp.ID, nil
}

func (m *memTradeRepo) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	stored, ok := m.byPos[t.PositionID]
	if !ok {
		return ports.ErrNotFound
	}
	cp := *t
	cp.ID = stored.ID
	m.byPos[t.PositionID] = &cp
	return nil
}

func (m *memTradeRepo) CloseTrade(ctx context.Context, t *domain.Trade) (bool, error) {
	stored, ok := m.byPos[t.PositionID]
	if !ok || stored.Status == domain.StatusClosed {
		return false, nil
	}
	cp := *t
	cp.ID = stored.ID
	m.byPos[t.PositionID] = &cp
	return true, nil
}

func (m *memTradeRepo) FindByPositionID(ctx context.Context, positionID string) (*domain.Trade, error) {
	if t, ok := m.byPos[positionID]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (m *memTradeRepo) FindOpenByPositionID(ctx context.Context, positionID string) (*domain.Trade, error) {
	if t, ok := m.byPos[positionID]; ok && t.Status != domain.StatusClosed {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (m *memTradeRepo) FindByID(ctx context.Context, tradeID, userID int64) (*domain.Trade, error) {
	return nil, nil
}

func (m *memTradeRepo) FindOpenByUser(ctx context.Context, userID int64) ([]*domain.Trade, error) {
	return nil, nil
}

func (m *memTradeRepo) FindClosedByUser(ctx context.Context, userID int64, filter ports.HistoryFilter) ([]*domain.Trade, error) {
	return nil, nil
}

type memExecutionRepo struct{}

func (m *memExecutionRepo) CreateExecution(ctx context.Context, e *domain.TradeExecution) (int64, error) {
	return 1, nil
}

func (m *memExecutionRepo) FindByTrade(ctx context.Context, tradeID int64) ([]*domain.TradeExecution, error) {
	return nil, nil
}

type memStrategyDir struct{}

func (m *memStrategyDir) FindActiveBySymbol(ctx context.Context, userID int64, symbol string) (*domain.StrategyRef, error) {
	return nil, nil
}

func (m *memStrategyDir) FindLatestActive(ctx context.Context, userID int64) (*domain.StrategyRef, error) {
	return nil, nil
}

type stubBroker struct {
	status domain.ConnectionStatus
}

func (b *stubBroker) Connect(ctx context.Context) error                      { return nil }
func (b *stubBroker) Disconnect(ctx context.Context) error                   { return nil }
func (b *stubBroker) Reconnect(ctx context.Context) error                    { return nil }
func (b *stubBroker) Subscribe(ctx context.Context, symbols []string) error  { return nil }
func (b *stubBroker) Unsubscribe(ctx context.Context, symbols []string) error { return nil }
func (b *stubBroker) SendMessage(ctx context.Context, payload []byte) error  { return nil }
func (b *stubBroker) SendHeartbeat(ctx context.Context) error                { return nil }
func (b *stubBroker) Status() domain.ConnectionStatus                        { return b.status }
func (b *stubBroker) Healthy() bool                                          { return true }
func (b *stubBroker) Cleanup()                                               {}

func newTestApp(t *testing.T) (*Service, *memTradeRepo) {
	t.Helper()
	trades := newMemTradeRepo()
	ldg, err := ledger.NewService(ledger.Config{
		Trades:     trades,
		Executions: &memExecutionRepo{},
		Strategies: &memStrategyDir{},
		Logger:     &mockLogger{},
	})
	require.NoError(t, err)
	svc, err := NewService(&config.Config{UserID: 7, BrokerID: "tradovate"}, &mockLogger{}, &stubBroker{status: domain.ConnConnected}, ldg)
	require.NoError(t, err)
	return svc, trades
}

func accountEvent(positionID string, netPos int, price string) *domain.AccountUpdateEvent {
	return &domain.AccountUpdateEvent{
		AccountID: "acc-1",
		Timestamp: time.Now(),
		Broker:    "tradovate",
		Position: domain.PositionUpdate{
			PositionID:   positionID,
			BrokerID:     "tradovate",
			Symbol:       "MESU5",
			NetPos:       netPos,
			AveragePrice: decimal.RequireFromString(price),
		},
	}
}

func TestService_AccountUpdateLifecycle(t *testing.T) {
	svc, trades := newTestApp(t)
	handlers := svc.Handlers()
	require.NotNil(t, handlers.OnAccountUpdate)

	// Position opened.
	handlers.OnAccountUpdate(accountEvent("pos-1", 2, "5012.25"))
	trade := trades.byPos["pos-1"]
	require.NotNil(t, trade)
	assert.Equal(t, domain.StatusOpen, trade.Status)
	assert.Equal(t, 2, trade.TotalQuantity)
	assert.Equal(t, int64(7), trade.UserID)

	// Redelivered open event changes nothing.
	handlers.OnAccountUpdate(accountEvent("pos-1", 2, "5012.25"))
	assert.Len(t, trades.byPos, 1)
	assert.Equal(t, 2, trades.byPos["pos-1"].TotalQuantity)

	// Averaging in adjusts the open trade.
	handlers.OnAccountUpdate(accountEvent("pos-1", 5, "5010.00"))
	trade = trades.byPos["pos-1"]
	assert.Equal(t, 5, trade.TotalQuantity)
	assert.True(t, trade.AvgEntryPrice.Equal(decimal.RequireFromString("5010")))

	// Flat snapshot closes the trade.
	ev := accountEvent("pos-1", 0, "5010.00")
	pnl := decimal.RequireFromString("25.5")
	ev.Position.RealizedPnL = &pnl
	handlers.OnAccountUpdate(ev)
	trade = trades.byPos["pos-1"]
	assert.Equal(t, domain.StatusClosed, trade.Status)
	require.NotNil(t, trade.RealizedPnL)
	assert.True(t, trade.RealizedPnL.Equal(pnl))

	// A flat snapshot for an unknown position is a quiet no-op.
	handlers.OnAccountUpdate(accountEvent("ghost", 0, "5010.00"))
	assert.Len(t, trades.byPos, 1)
}

func TestService_AccountUpdateFeedsPnLExtrema(t *testing.T) {
	svc, trades := newTestApp(t)
	handlers := svc.Handlers()

	ev := accountEvent("pos-1", 2, "5012.25")
	up := decimal.RequireFromString("12")
	ev.Position.UnrealizedPnL = &up
	handlers.OnAccountUpdate(ev)

	ev = accountEvent("pos-1", 2, "5012.25")
	down := decimal.RequireFromString("-9")
	ev.Position.UnrealizedPnL = &down
	handlers.OnAccountUpdate(ev)

	trade := trades.byPos["pos-1"]
	require.NotNil(t, trade)
	require.NotNil(t, trade.MaxUnrealizedPnL)
	require.NotNil(t, trade.MaxAdversePnL)
	assert.True(t, trade.MaxUnrealizedPnL.Equal(up))
	assert.True(t, trade.MaxAdversePnL.Equal(down))
}

func TestNewService_Validation(t *testing.T) {
	ldg, err := ledger.NewService(ledger.Config{
		Trades:     newMemTradeRepo(),
		Executions: &memExecutionRepo{},
		Strategies: &memStrategyDir{},
		Logger:     &mockLogger{},
	})
	require.NoError(t, err)

	_, err = NewService(nil, &mockLogger{}, &stubBroker{}, ldg)
	assert.Error(t, err)
	_, err = NewService(&config.Config{}, nil, &stubBroker{}, ldg)
	assert.Error(t, err)
	_, err = NewService(&config.Config{}, &mockLogger{}, nil, ldg)
	assert.Error(t, err)
	_, err = NewService(&config.Config{}, &mockLogger{}, &stubBroker{}, nil)
	assert.Error(t, err)
}

type stubTokens struct{}

func (s *stubTokens) GetValidToken(ctx context.Context, userID int64, env domain.Environment) (string, error) {
	return "tok", nil
}

func (s *stubTokens) SaveToken(ctx context.Context, userID int64, env domain.Environment, token string, expiresAt time.Time) error {
	return nil
}

func TestNewBrokerConn(t *testing.T) {
	cfg := &config.Config{
		BrokerID: "tradovate",
		WSURL:    "wss://example.invalid/ws",
		UserID:   7,
	}
	conn, err := NewBrokerConn(cfg, &mockLogger{}, &stubTokens{}, ports.BrokerHandlers{})
	require.NoError(t, err)
	assert.Equal(t, domain.ConnDisconnected, conn.Status())

	cfg.BrokerID = "unknown-venue"
	_, err = NewBrokerConn(cfg, &mockLogger{}, &stubTokens{}, ports.BrokerHandlers{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}
