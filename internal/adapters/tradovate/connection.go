package tradovate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradovateLedger/internal/domain"
	"tradovateLedger/internal/ports"
	"tradovateLedger/internal/resilience"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// BrokerID identifies this adapter in normalized events and trade rows.
	BrokerID = "tradovate"

	defaultHeartbeatInterval    = 20 * time.Second
	defaultHeartbeatTimeout     = 30 * time.Second
	defaultAuthTimeout          = 5 * time.Second
	defaultHandshakeTimeout     = 10 * time.Second
	defaultMaxErrors            = 3
	defaultMaxReconnectAttempts = 5
	defaultReplayDelay          = 100 * time.Millisecond
)

// Config holds the dependencies and tunables for a broker connection.
type Config struct {
	URL         string
	UserID      int64
	Environment domain.Environment

	Logger   ports.Logger
	Tokens   ports.TokenStore
	Handlers ports.BrokerHandlers

	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	AuthTimeout          time.Duration
	MaxErrors            int
	MaxReconnectAttempts int
	QueueCapacity        int
	ReplayDelay          time.Duration

	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// Connection is an authenticated, self-healing WebSocket session to the
// Tradovate real-time gateway. It implements ports.BrokerConn.
type Connection struct {
	cfg    Config
	logger ports.Logger
	tokens ports.TokenStore

	breaker *resilience.CircuitBreaker
	queue   *resilience.MessageQueue
	backoff *resilience.ReconnectBackoff

	dialer *websocket.Dialer

	// connMu serializes Connect/Disconnect/Reconnect per instance.
	connMu sync.Mutex
	// writeMu serializes frame writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	stateMu           sync.Mutex
	conn              *websocket.Conn
	status            domain.ConnectionStatus
	subscribed        map[string]struct{}
	errorCount        int
	reconnectAttempts int
	lastHeartbeat     time.Time

	loopCancel context.CancelFunc
	// shutdown is closed by Disconnect/Cleanup and re-armed by an explicit
	// Connect; the reconnect loop watches it so the backoff wait stays
	// interruptible. Guarded by stateMu.
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewConnection validates cfg, applies defaults and returns a disconnected
// Connection. Connect must be called before use.
func NewConnection(cfg Config) (*Connection, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("tradovate: websocket URL is required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("tradovate: logger is required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("tradovate: token store is required: %w", ports.ErrInvalidRequest)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = defaultMaxErrors
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.ReplayDelay <= 0 {
		cfg.ReplayDelay = defaultReplayDelay
	}
	return &Connection{
		cfg:    cfg,
		logger: cfg.Logger,
		tokens: cfg.Tokens,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Threshold: cfg.BreakerThreshold,
			Timeout:   cfg.BreakerTimeout,
			Logger:    cfg.Logger,
		}),
		queue:      resilience.NewMessageQueue(cfg.QueueCapacity),
		backoff:    resilience.NewReconnectBackoff(),
		dialer:     &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		status:     domain.ConnDisconnected,
		subscribed: make(map[string]struct{}),
		shutdown:   make(chan struct{}),
	}, nil
}

// Connect opens the transport, authenticates and starts the receive and
// heartbeat loops. Already-connected calls return nil. The attempt is gated
// by the circuit breaker, so a run of failed connects fails fast until the
// cooldown elapses.
func (c *Connection) Connect(ctx context.Context) error {
	return c.connect(ctx, true)
}

// connect holds connMu for the whole attempt. rearm controls what a prior
// shutdown means: an explicit Connect re-arms the session, while the reconnect
// loop must honor it and stand down.
func (c *Connection) connect(ctx context.Context, rearm bool) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("tradovate: connect aborted: %w: %w", ports.ErrContextCanceled, err)
	}
	c.stateMu.Lock()
	shutDown := false
	select {
	case <-c.shutdown:
		shutDown = true
	default:
	}
	if shutDown {
		if !rearm {
			c.stateMu.Unlock()
			return fmt.Errorf("tradovate: connection shut down: %w", ports.ErrNotConnected)
		}
		c.shutdown = make(chan struct{})
	}
	c.stateMu.Unlock()
	if c.Status() == domain.ConnConnected {
		return nil
	}
	c.setStatus(domain.ConnConnecting)

	err := c.breaker.Execute(func() error {
		return c.dialAndAuthenticate(ctx)
	})
	if err != nil {
		if c.Status() != domain.ConnError {
			c.setStatus(domain.ConnDisconnected)
		}
		return err
	}

	c.stateMu.Lock()
	c.errorCount = 0
	c.reconnectAttempts = 0
	c.lastHeartbeat = time.Now()
	c.status = domain.ConnConnected
	c.stateMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	c.stateMu.Lock()
	if c.loopCancel != nil {
		c.loopCancel()
	}
	c.loopCancel = cancel
	c.stateMu.Unlock()
	c.wg.Add(2)
	go c.readLoop(loopCtx)
	go c.heartbeatLoop(loopCtx)

	c.logger.Info(ctx, "broker connection established", map[string]interface{}{
		"broker": BrokerID,
		"url":    c.cfg.URL,
	})

	if symbols := c.subscribedSymbols(); len(symbols) > 0 {
		if err := c.writeFrame(subscribeRequest{Type: frameSubscribe, Action: "subscribe", Symbols: symbols}); err != nil {
			c.logger.Warn(ctx, "failed to replay subscriptions", map[string]interface{}{
				"error":   err.Error(),
				"symbols": symbols,
			})
		}
	}
	return nil
}

// dialAndAuthenticate resolves a credential, dials the gateway and completes
// the auth handshake. A missing credential fails before any network call.
func (c *Connection) dialAndAuthenticate(ctx context.Context) error {
	token, err := c.tokens.GetValidToken(ctx, c.cfg.UserID, c.cfg.Environment)
	if err != nil {
		return fmt.Errorf("tradovate: no usable credential: %w: %w", ports.ErrAuthenticationFailed, err)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("tradovate: dial %s: %w: %w", c.cfg.URL, ports.ErrConnectionFailed, err)
	}

	if err := c.authenticate(conn, token); err != nil {
		conn.Close()
		return err
	}

	c.stateMu.Lock()
	c.conn = conn
	c.stateMu.Unlock()
	return nil
}

// authenticate sends the auth frame and waits for the broker's explicit
// success flag. Any other outcome, including a timeout, is an auth failure.
func (c *Connection) authenticate(conn *websocket.Conn, token string) error {
	req := authRequest{Type: frameAuth, ID: uuid.New().String(), Token: token}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("tradovate: encode auth frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("tradovate: send auth frame: %w: %w", ports.ErrAuthenticationFailed, err)
	}

	deadline := time.Now().Add(c.cfg.AuthTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("tradovate: set auth deadline: %w", err)
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("tradovate: waiting for auth response: %w: %w", ports.ErrAuthenticationFailed, err)
		}
		var resp authResponse
		if err := json.Unmarshal(raw, &resp); err != nil || resp.Type != frameAuth {
			// Not the auth reply; keep reading until the deadline.
			continue
		}
		if resp.ID != "" && resp.ID != req.ID {
			continue
		}
		if !resp.Success {
			return fmt.Errorf("tradovate: broker rejected credentials: %s: %w", resp.Message, ports.ErrAuthenticationFailed)
		}
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			return fmt.Errorf("tradovate: clear auth deadline: %w", err)
		}
		return nil
	}
}

// Disconnect stops the loops and closes the transport.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.connMu.Lock()
	c.stateMu.Lock()
	c.signalShutdown()
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.status = domain.ConnDisconnected
	c.stateMu.Unlock()
	c.connMu.Unlock()

	c.wg.Wait()
	c.logger.Info(ctx, "broker connection closed", map[string]interface{}{"broker": BrokerID})
	return nil
}

// Reconnect retries Connect with exponential backoff until it succeeds or the
// attempt budget is spent. On success the queued outbound frames are replayed
// in their original order.
func (c *Connection) Reconnect(ctx context.Context) error {
	for {
		c.stateMu.Lock()
		if c.reconnectAttempts >= c.cfg.MaxReconnectAttempts {
			c.status = domain.ConnError
			c.stateMu.Unlock()
			c.logger.Error(ctx, "reconnect attempts exhausted", map[string]interface{}{
				"broker":   BrokerID,
				"attempts": c.cfg.MaxReconnectAttempts,
			})
			return fmt.Errorf("tradovate: gave up after %d attempts: %w", c.cfg.MaxReconnectAttempts, ports.ErrReconnectExhausted)
		}
		attempt := c.reconnectAttempts
		c.reconnectAttempts++
		c.status = domain.ConnReconnecting
		c.stateMu.Unlock()

		delay := c.backoff.Delay(attempt)
		c.logger.Info(ctx, "scheduling reconnect", map[string]interface{}{
			"broker":  BrokerID,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		})
		select {
		case <-ctx.Done():
			return fmt.Errorf("tradovate: reconnect aborted: %w: %w", ports.ErrContextCanceled, ctx.Err())
		case <-c.shutdownChan():
			// Shut down externally while waiting; do not resurrect the session.
			return fmt.Errorf("tradovate: reconnect aborted: %w", ports.ErrNotConnected)
		case <-time.After(delay):
		}

		if err := c.connect(ctx, false); err != nil {
			if errors.Is(err, ports.ErrNotConnected) {
				// Shutdown landed while the attempt was in flight.
				return err
			}
			c.logger.Warn(ctx, "reconnect attempt failed", map[string]interface{}{
				"broker":  BrokerID,
				"attempt": attempt + 1,
				"error":   err.Error(),
			})
			continue
		}

		c.drainQueue(ctx)
		return nil
	}
}

// Subscribe sends a subscription frame for the symbols and records them
// optimistically. A later asynchronous rejection prunes them again. While
// disconnected the frame is queued and the symbols are still recorded, so a
// reconnect replays the full subscription set.
func (c *Connection) Subscribe(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	payload, err := json.Marshal(subscribeRequest{Type: frameSubscribe, Action: "subscribe", Symbols: symbols})
	if err != nil {
		return fmt.Errorf("tradovate: encode subscribe frame: %w", err)
	}
	err = c.SendMessage(ctx, payload)
	if err != nil && !errors.Is(err, ports.ErrNotConnected) {
		return err
	}
	c.stateMu.Lock()
	for _, s := range symbols {
		c.subscribed[s] = struct{}{}
	}
	c.stateMu.Unlock()
	return err
}

// Unsubscribe sends an unsubscription frame and forgets the symbols.
func (c *Connection) Unsubscribe(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	payload, err := json.Marshal(subscribeRequest{Type: frameSubscribe, Action: "unsubscribe", Symbols: symbols})
	if err != nil {
		return fmt.Errorf("tradovate: encode unsubscribe frame: %w", err)
	}
	err = c.SendMessage(ctx, payload)
	if err != nil && !errors.Is(err, ports.ErrNotConnected) {
		return err
	}
	c.stateMu.Lock()
	for _, s := range symbols {
		delete(c.subscribed, s)
	}
	c.stateMu.Unlock()
	return err
}

// SendMessage transmits one raw frame. While disconnected the frame is queued
// for replay and ErrNotConnected is returned so callers can tell "sent" from
// "queued".
func (c *Connection) SendMessage(ctx context.Context, payload []byte) error {
	if c.Status() != domain.ConnConnected {
		c.queue.Add(payload)
		return fmt.Errorf("tradovate: message queued while disconnected: %w", ports.ErrNotConnected)
	}
	if err := c.sendRaw(payload); err != nil {
		c.handleError(ctx, err)
		return fmt.Errorf("tradovate: write failed: %w: %w", ports.ErrSendFailed, err)
	}
	return nil
}

// SendHeartbeat sends one heartbeat frame and, on success, refreshes the
// liveness timestamp.
func (c *Connection) SendHeartbeat(ctx context.Context) error {
	payload, err := json.Marshal(heartbeatFrame{Type: frameHeartbeat, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("tradovate: encode heartbeat: %w", err)
	}
	if err := c.SendMessage(ctx, payload); err != nil {
		return err
	}
	c.stateMu.Lock()
	c.lastHeartbeat = time.Now()
	c.stateMu.Unlock()
	return nil
}

// Status returns the current connection status.
func (c *Connection) Status() domain.ConnectionStatus {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.status
}

// Healthy reports liveness: a heartbeat has been recorded, it is fresher than
// the heartbeat timeout, and the error counter is below its threshold.
func (c *Connection) Healthy() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.lastHeartbeat.IsZero() {
		return false
	}
	if c.errorCount >= c.cfg.MaxErrors {
		return false
	}
	return time.Since(c.lastHeartbeat) <= c.cfg.HeartbeatTimeout
}

// Cleanup resets all transient state. Idempotent and safe to call from the
// receive loop during teardown, so it does not wait on the loops.
func (c *Connection) Cleanup() {
	c.stateMu.Lock()
	c.signalShutdown()
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.subscribed = make(map[string]struct{})
	c.errorCount = 0
	c.reconnectAttempts = 0
	c.lastHeartbeat = time.Time{}
	c.status = domain.ConnDisconnected
	c.stateMu.Unlock()

	c.queue.Clear()
	c.breaker.Reset()
}

// readLoop consumes inbound frames one at a time, preserving receipt order.
// A transport error triggers a reconnect; a cancelled context triggers Cleanup.
func (c *Connection) readLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		conn := c.currentConn()
		if conn == nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				c.Cleanup()
				return
			}
			c.logger.Warn(ctx, "receive loop terminated", map[string]interface{}{
				"broker": BrokerID,
				"error":  err.Error(),
			})
			c.stateMu.Lock()
			alreadyStopped := c.status == domain.ConnDisconnected || c.status == domain.ConnError
			if !alreadyStopped {
				c.status = domain.ConnReconnecting
			}
			c.stateMu.Unlock()
			if alreadyStopped {
				return
			}
			c.closeConn()
			// Detach from the loop context: Connect cancels it when swapping in
			// the next generation of loops.
			if err := c.Reconnect(context.WithoutCancel(ctx)); err != nil {
				c.logger.Error(ctx, "reconnect failed", map[string]interface{}{
					"broker": BrokerID,
					"error":  err.Error(),
				})
			}
			return
		}
		c.handleMessage(ctx, raw)
	}
}

// heartbeatLoop sends a heartbeat frame every interval while connected.
func (c *Connection) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Status() != domain.ConnConnected {
				continue
			}
			if err := c.SendHeartbeat(ctx); err != nil {
				c.logger.Warn(ctx, "heartbeat send failed", map[string]interface{}{
					"broker": BrokerID,
					"error":  err.Error(),
				})
			}
		}
	}
}

// handleMessage dispatches one inbound frame by its type discriminator.
// Unknown and malformed frames are skipped without killing the loop.
func (c *Connection) handleMessage(ctx context.Context, raw []byte) {
	var hdr frameHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		c.logger.Debug(ctx, "discarding unparseable frame", map[string]interface{}{"broker": BrokerID})
		return
	}
	switch hdr.Type {
	case frameMarketData:
		ev := normalizeMarketData(raw, BrokerID)
		if ev == nil {
			c.logger.Debug(ctx, "discarding malformed market data frame", map[string]interface{}{"broker": BrokerID})
			return
		}
		if c.cfg.Handlers.OnMarketData != nil {
			c.cfg.Handlers.OnMarketData(ev)
		}
	case frameOrder:
		ev := normalizeOrderUpdate(raw, BrokerID)
		if ev == nil {
			c.logger.Debug(ctx, "discarding malformed order frame", map[string]interface{}{"broker": BrokerID})
			return
		}
		if c.cfg.Handlers.OnOrderUpdate != nil {
			c.cfg.Handlers.OnOrderUpdate(ev)
		}
	case frameAccount:
		ev := normalizeAccountUpdate(raw, BrokerID)
		if ev == nil {
			c.logger.Debug(ctx, "discarding malformed account frame", map[string]interface{}{"broker": BrokerID})
			return
		}
		if c.cfg.Handlers.OnAccountUpdate != nil {
			c.cfg.Handlers.OnAccountUpdate(ev)
		}
	case frameHeartbeat:
		c.stateMu.Lock()
		c.lastHeartbeat = time.Now()
		c.stateMu.Unlock()
	case frameSubscribe:
		c.handleSubscribeResponse(ctx, raw)
	case frameError:
		c.handleError(ctx, parseErrorFrame(raw))
	default:
		c.logger.Debug(ctx, "ignoring unknown frame type", map[string]interface{}{
			"broker": BrokerID,
			"type":   hdr.Type,
		})
	}
}

// handleSubscribeResponse prunes symbols the broker rejected.
func (c *Connection) handleSubscribeResponse(ctx context.Context, raw []byte) {
	var resp subscribeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return
	}
	if resp.Success {
		return
	}
	c.stateMu.Lock()
	for _, s := range resp.Symbols {
		delete(c.subscribed, s)
	}
	c.stateMu.Unlock()
	c.logger.Warn(ctx, "subscription rejected by broker", map[string]interface{}{
		"broker":  BrokerID,
		"symbols": resp.Symbols,
		"message": resp.Message,
	})
}

// handleError records one connection error and, once the error threshold is
// reached, forces the receive loop into a reconnect by closing the transport.
func (c *Connection) handleError(ctx context.Context, err error) {
	c.logger.Error(ctx, "broker connection error", map[string]interface{}{
		"broker": BrokerID,
		"error":  err.Error(),
	})
	if c.cfg.Handlers.OnError != nil {
		c.cfg.Handlers.OnError(err)
	}

	c.stateMu.Lock()
	c.errorCount++
	trip := c.errorCount >= c.cfg.MaxErrors && c.status == domain.ConnConnected
	if trip {
		c.status = domain.ConnReconnecting
	}
	c.stateMu.Unlock()

	if trip {
		c.logger.Warn(ctx, "error threshold reached, recycling connection", map[string]interface{}{
			"broker": BrokerID,
			"errors": c.cfg.MaxErrors,
		})
		c.closeConn()
	}
}

// drainQueue replays queued outbound frames in their original order, with a
// short pause between frames to avoid hammering a freshly restored session.
func (c *Connection) drainQueue(ctx context.Context) {
	n := c.queue.Len()
	if n == 0 {
		return
	}
	c.logger.Info(ctx, "replaying queued messages", map[string]interface{}{
		"broker": BrokerID,
		"count":  n,
	})
	for {
		msg, ok := c.queue.Get()
		if !ok {
			return
		}
		if err := c.sendRaw(msg); err != nil {
			c.queue.Add(msg)
			c.logger.Warn(ctx, "queue replay interrupted", map[string]interface{}{
				"broker":    BrokerID,
				"remaining": c.queue.Len(),
				"error":     err.Error(),
			})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReplayDelay):
		}
	}
}

func (c *Connection) sendRaw(payload []byte) error {
	conn := c.currentConn()
	if conn == nil {
		return ports.ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Connection) writeFrame(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.sendRaw(payload)
}

func (c *Connection) currentConn() *websocket.Conn {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.conn
}

func (c *Connection) closeConn() {
	c.stateMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.stateMu.Unlock()
}

// signalShutdown closes the shutdown channel once. Callers hold stateMu.
func (c *Connection) signalShutdown() {
	select {
	case <-c.shutdown:
	default:
		close(c.shutdown)
	}
}

func (c *Connection) shutdownChan() <-chan struct{} {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.shutdown
}

func (c *Connection) setStatus(s domain.ConnectionStatus) {
	c.stateMu.Lock()
	c.status = s
	c.stateMu.Unlock()
}

func (c *Connection) subscribedSymbols() []string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	out := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		out = append(out, s)
	}
	return out
}
