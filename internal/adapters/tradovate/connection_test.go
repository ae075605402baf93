package tradovate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tradovateLedger/internal/domain"
	"tradovateLedger/internal/ports"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, msg string, fields ...map[string]interface{}) {}

type staticTokens struct {
	token string
	err   error
}

func (s *staticTokens) GetValidToken(ctx context.Context, userID int64, env domain.Environment) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

func (s *staticTokens) SaveToken(ctx context.Context, userID int64, env domain.Environment, token string, expiresAt time.Time) error {
	return nil
}

// testGateway is a minimal in-process broker endpoint. It answers the auth
// handshake and exposes every later inbound frame plus a way to push frames
// back to the client.
type testGateway struct {
	srv      *httptest.Server
	authOK   bool
	inbound  chan []byte
	mu       sync.Mutex
	sessions []*websocket.Conn
}

func newTestGateway(t *testing.T, authOK bool) *testGateway {
	t.Helper()
	g := &testGateway{authOK: authOK, inbound: make(chan []byte, 64)}
	upgrader := websocket.Upgrader{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.mu.Lock()
		g.sessions = append(g.sessions, conn)
		g.mu.Unlock()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req authRequest
		if err := json.Unmarshal(raw, &req); err != nil || req.Type != frameAuth {
			conn.Close()
			return
		}
		resp := authResponse{Type: frameAuth, ID: req.ID, Success: g.authOK}
		if !g.authOK {
			resp.Message = "bad credentials"
		}
		payload, _ := json.Marshal(resp)
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			g.inbound <- raw
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *testGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *testGateway) push(t *testing.T, v interface{}) {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.sessions, "no active session to push to")
	sess := g.sessions[len(g.sessions)-1]
	require.NoError(t, sess.WriteMessage(websocket.TextMessage, payload))
}

func (g *testGateway) nextInbound(t *testing.T) []byte {
	t.Helper()
	select {
	case raw := <-g.inbound:
		return raw
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
		return nil
	}
}

func newTestConnection(t *testing.T, url string, tokens ports.TokenStore, handlers ports.BrokerHandlers) *Connection {
	t.Helper()
	conn, err := NewConnection(Config{
		URL:         url,
		UserID:      1,
		Environment: domain.EnvDemo,
		Logger:      &mockLogger{},
		Tokens:      tokens,
		Handlers:    handlers,
		ReplayDelay: time.Millisecond,
	})
	require.NoError(t, err)
	return conn
}

func TestConnection_ConnectAuthenticates(t *testing.T) {
	gw := newTestGateway(t, true)
	conn := newTestConnection(t, gw.url(), &staticTokens{token: "tok"}, ports.BrokerHandlers{})

	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))
	defer conn.Disconnect(ctx)

	assert.Equal(t, domain.ConnConnected, conn.Status())
	assert.True(t, conn.Healthy())

	// Connecting again while connected is a no-op.
	require.NoError(t, conn.Connect(ctx))
}

func TestConnection_AuthRejection(t *testing.T) {
	gw := newTestGateway(t, false)
	conn := newTestConnection(t, gw.url(), &staticTokens{token: "tok"}, ports.BrokerHandlers{})

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrAuthenticationFailed)
	assert.Equal(t, domain.ConnDisconnected, conn.Status())
}

func TestConnection_NoCredentialFailsBeforeDialing(t *testing.T) {
	// The URL points at a closed port; a failed dial would surface as
	// ErrConnectionFailed instead of the credential error asserted here.
	conn := newTestConnection(t, "ws://127.0.0.1:1", &staticTokens{err: ports.ErrNoValidCredential}, ports.BrokerHandlers{})

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrAuthenticationFailed)
	assert.ErrorIs(t, err, ports.ErrNoValidCredential)
	assert.NotErrorIs(t, err, ports.ErrConnectionFailed)
}

func TestConnection_DispatchesEventsInOrder(t *testing.T) {
	gw := newTestGateway(t, true)

	type event struct {
		kind   string
		symbol string
	}
	events := make(chan event, 8)
	handlers := ports.BrokerHandlers{
		OnMarketData: func(ev *domain.MarketDataEvent) {
			events <- event{kind: "md", symbol: ev.Symbol}
		},
		OnOrderUpdate: func(ev *domain.OrderUpdateEvent) {
			events <- event{kind: "order", symbol: ev.Symbol}
		},
		OnAccountUpdate: func(ev *domain.AccountUpdateEvent) {
			events <- event{kind: "account", symbol: ev.Position.Symbol}
		},
	}
	conn := newTestConnection(t, gw.url(), &staticTokens{token: "tok"}, handlers)

	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))
	defer conn.Disconnect(ctx)

	price := decimal.RequireFromString("5012.25")
	gw.push(t, marketDataFrame{Type: frameMarketData, Symbol: "ESZ4", Price: &price})
	gw.push(t, orderFrame{Type: frameOrder, OrderID: "ord-1", Symbol: "ESZ4", Action: "Buy"})
	gw.push(t, accountFrame{
		Type:      frameAccount,
		AccountID: "acc-1",
		Position:  positionFrame{PositionID: "pos-1", Symbol: "ESZ4", NetPos: 1},
	})
	// A malformed frame in between must be skipped, not break the stream.
	gw.push(t, map[string]interface{}{"type": "md", "price": 1.0})
	gw.push(t, marketDataFrame{Type: frameMarketData, Symbol: "NQZ4", Price: &price})

	want := []event{
		{kind: "md", symbol: "ESZ4"},
		{kind: "order", symbol: "ESZ4"},
		{kind: "account", symbol: "ESZ4"},
		{kind: "md", symbol: "NQZ4"},
	}
	for _, w := range want {
		select {
		case got := <-events:
			assert.Equal(t, w, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %v", w)
		}
	}
}

func TestConnection_SubscribeSendsFrameAndSurvivesRejection(t *testing.T) {
	gw := newTestGateway(t, true)
	conn := newTestConnection(t, gw.url(), &staticTokens{token: "tok"}, ports.BrokerHandlers{})

	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))
	defer conn.Disconnect(ctx)

	require.NoError(t, conn.Subscribe(ctx, []string{"ESZ4", "NQZ4"}))

	var req subscribeRequest
	require.NoError(t, json.Unmarshal(gw.nextInbound(t), &req))
	assert.Equal(t, frameSubscribe, req.Type)
	assert.Equal(t, "subscribe", req.Action)
	assert.ElementsMatch(t, []string{"ESZ4", "NQZ4"}, req.Symbols)

	// The broker rejects one symbol asynchronously; the tracked set shrinks.
	gw.push(t, subscribeResponse{Type: frameSubscribe, Success: false, Symbols: []string{"NQZ4"}, Message: "unknown contract"})
	require.Eventually(t, func() bool {
		syms := conn.subscribedSymbols()
		return len(syms) == 1 && syms[0] == "ESZ4"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Unsubscribe(ctx, []string{"ESZ4"}))
	require.NoError(t, json.Unmarshal(gw.nextInbound(t), &req))
	assert.Equal(t, "unsubscribe", req.Action)
	assert.Empty(t, conn.subscribedSymbols())
}

func TestConnection_QueuesWhileDisconnectedAndReplaysOnReconnect(t *testing.T) {
	gw := newTestGateway(t, true)
	conn := newTestConnection(t, gw.url(), &staticTokens{token: "tok"}, ports.BrokerHandlers{})
	ctx := context.Background()

	err := conn.SendMessage(ctx, []byte(`{"type":"custom","seq":1}`))
	assert.ErrorIs(t, err, ports.ErrNotConnected)
	err = conn.SendMessage(ctx, []byte(`{"type":"custom","seq":2}`))
	assert.ErrorIs(t, err, ports.ErrNotConnected)

	require.NoError(t, conn.Reconnect(ctx))
	defer conn.Disconnect(ctx)

	first := gw.nextInbound(t)
	second := gw.nextInbound(t)
	assert.JSONEq(t, `{"type":"custom","seq":1}`, string(first))
	assert.JSONEq(t, `{"type":"custom","seq":2}`, string(second))
}

func TestConnection_DisconnectAbortsReconnectBackoff(t *testing.T) {
	// Unreachable endpoint keeps the reconnect loop in its backoff wait.
	conn := newTestConnection(t, "ws://127.0.0.1:1", &staticTokens{token: "tok"}, ports.BrokerHandlers{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- conn.Reconnect(ctx) }()

	// Let the loop reach the backoff wait (first delay is at least a second).
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, conn.Disconnect(ctx))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "Disconnect must not wait out the backoff")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ports.ErrNotConnected)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("reconnect loop did not stand down after Disconnect")
	}
	assert.Equal(t, domain.ConnDisconnected, conn.Status())
}

func TestConnection_ConnectAfterDisconnect(t *testing.T) {
	gw := newTestGateway(t, true)
	conn := newTestConnection(t, gw.url(), &staticTokens{token: "tok"}, ports.BrokerHandlers{})
	ctx := context.Background()

	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.Disconnect(ctx))
	assert.Equal(t, domain.ConnDisconnected, conn.Status())

	// An explicit Connect starts a fresh session after a shutdown.
	require.NoError(t, conn.Connect(ctx))
	defer conn.Disconnect(ctx)
	assert.Equal(t, domain.ConnConnected, conn.Status())

	require.NoError(t, conn.SendHeartbeat(ctx))
	var hb heartbeatFrame
	require.NoError(t, json.Unmarshal(gw.nextInbound(t), &hb))
	assert.Equal(t, frameHeartbeat, hb.Type)
}

func TestConnection_SubscribeWhileDisconnectedIsReplayed(t *testing.T) {
	gw := newTestGateway(t, true)
	conn := newTestConnection(t, gw.url(), &staticTokens{token: "tok"}, ports.BrokerHandlers{})
	ctx := context.Background()

	// Queued, but still recorded so later reconnects replay it.
	err := conn.Subscribe(ctx, []string{"ESZ4"})
	assert.ErrorIs(t, err, ports.ErrNotConnected)
	assert.Equal(t, []string{"ESZ4"}, conn.subscribedSymbols())

	require.NoError(t, conn.Reconnect(ctx))
	defer conn.Disconnect(ctx)

	var req subscribeRequest
	require.NoError(t, json.Unmarshal(gw.nextInbound(t), &req))
	assert.Equal(t, frameSubscribe, req.Type)
	assert.Equal(t, "subscribe", req.Action)
	assert.Equal(t, []string{"ESZ4"}, req.Symbols)
	assert.Equal(t, []string{"ESZ4"}, conn.subscribedSymbols())
}

func TestConnection_CircuitBreakerFailsFast(t *testing.T) {
	conn := newTestConnection(t, "ws://127.0.0.1:1", &staticTokens{token: "tok"}, ports.BrokerHandlers{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := conn.Connect(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ports.ErrConnectionFailed)
	}

	err := conn.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrCircuitOpen)
}

func TestConnection_HeartbeatRefreshesLiveness(t *testing.T) {
	gw := newTestGateway(t, true)
	conn := newTestConnection(t, gw.url(), &staticTokens{token: "tok"}, ports.BrokerHandlers{})
	ctx := context.Background()

	assert.False(t, conn.Healthy(), "never-connected session must not look healthy")

	require.NoError(t, conn.Connect(ctx))
	defer conn.Disconnect(ctx)

	require.NoError(t, conn.SendHeartbeat(ctx))
	var hb heartbeatFrame
	require.NoError(t, json.Unmarshal(gw.nextInbound(t), &hb))
	assert.Equal(t, frameHeartbeat, hb.Type)
	assert.NotZero(t, hb.Timestamp)
	assert.True(t, conn.Healthy())
}

func TestConnection_CleanupResetsState(t *testing.T) {
	gw := newTestGateway(t, true)
	conn := newTestConnection(t, gw.url(), &staticTokens{token: "tok"}, ports.BrokerHandlers{})
	ctx := context.Background()

	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.Subscribe(ctx, []string{"ESZ4"}))

	conn.Cleanup()
	assert.Equal(t, domain.ConnDisconnected, conn.Status())
	assert.False(t, conn.Healthy())
	assert.Empty(t, conn.subscribedSymbols())

	// Idempotent.
	conn.Cleanup()
	assert.Equal(t, domain.ConnDisconnected, conn.Status())
}

func TestNewConnection_Validation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "missing url", cfg: Config{Logger: &mockLogger{}, Tokens: &staticTokens{}}},
		{name: "missing logger", cfg: Config{URL: "ws://x", Tokens: &staticTokens{}}},
		{name: "missing tokens", cfg: Config{URL: "ws://x", Logger: &mockLogger{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConnection(tc.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrInvalidRequest)
		})
	}
}

func TestConnection_ErrorFrameReachesHandler(t *testing.T) {
	gw := newTestGateway(t, true)
	errs := make(chan error, 1)
	conn := newTestConnection(t, gw.url(), &staticTokens{token: "tok"}, ports.BrokerHandlers{
		OnError: func(err error) { errs <- err },
	})
	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))
	defer conn.Disconnect(ctx)

	gw.push(t, errorFrame{Type: frameError, Code: 500, Message: "engine unavailable"})
	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "engine unavailable")
	case <-time.After(2 * time.Second):
		t.Fatal("error frame never reached the handler")
	}
}
