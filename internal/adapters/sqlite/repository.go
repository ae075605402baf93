package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradovateLedger/internal/domain"
	"tradovateLedger/internal/ports"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.TradeRepository, ports.ExecutionRepository,
// ports.StrategyDirectory and ports.TokenStore using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trades.db" // Default path
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), "SQLite repository initialization failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	// WAL for better concurrency; foreign keys for the execution cascade.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), "SQLite repository initialization failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), "SQLite repository initialization failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	// SQLite handles concurrency internally, but the Go driver benefits from
	// limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), "SQLite repository initialization failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL UNIQUE,
		broker_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		contract_id TEXT NOT NULL DEFAULT '',
		user_id INTEGER NOT NULL,
		strategy_id INTEGER DEFAULT NULL,
		side TEXT NOT NULL,
		total_quantity INTEGER NOT NULL,
		avg_entry_price TEXT NOT NULL,
		exit_price TEXT DEFAULT NULL,
		realized_pnl TEXT DEFAULT NULL,
		max_unrealized_pnl TEXT DEFAULT NULL,
		max_adverse_pnl TEXT DEFAULT NULL,
		status TEXT NOT NULL,
		open_time TIMESTAMP NOT NULL,
		close_time TIMESTAMP DEFAULT NULL,
		duration_seconds INTEGER DEFAULT NULL,
		stop_loss_price TEXT DEFAULT NULL,
		take_profit_price TEXT DEFAULT NULL,
		notes TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		broker_data TEXT DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id INTEGER NOT NULL,
		broker_account_id TEXT NOT NULL,
		account_role TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		execution_price TEXT NOT NULL,
		execution_time TIMESTAMP NOT NULL,
		realized_pnl TEXT DEFAULT NULL,
		commission TEXT DEFAULT NULL,
		fees TEXT DEFAULT NULL,
		execution_id TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (trade_id) REFERENCES trades (id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS strategies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_triggered TIMESTAMP DEFAULT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS broker_tokens (
		user_id INTEGER NOT NULL,
		environment TEXT NOT NULL,
		access_token TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, environment)
	);

	CREATE INDEX IF NOT EXISTS idx_trades_user_strategy ON trades (user_id, strategy_id);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_open_time ON trades (symbol, open_time);
	CREATE INDEX IF NOT EXISTS idx_trades_status_open_time ON trades (status, open_time);
	CREATE INDEX IF NOT EXISTS idx_trades_user_open_time ON trades (user_id, open_time);
	CREATE INDEX IF NOT EXISTS idx_executions_trade_account ON trade_executions (trade_id, broker_account_id);
	CREATE INDEX IF NOT EXISTS idx_executions_time ON trade_executions (execution_time);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// inTx runs fn inside its own transaction scope, rolling back on failure.
func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w: %w", ports.ErrDBConnection, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error(ctx, "Transaction rollback failed", map[string]interface{}{"error": rbErr.Error()})
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// --- TradeRepository Implementation ---

const tradeColumns = `id, position_id, broker_id, symbol, contract_id, user_id, strategy_id,
       side, total_quantity, avg_entry_price, exit_price, realized_pnl,
       max_unrealized_pnl, max_adverse_pnl, status, open_time, close_time,
       duration_seconds, stop_loss_price, take_profit_price, notes, tags, broker_data`

// CreateTrade saves a new trade and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, t *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (position_id, broker_id, symbol, contract_id, user_id, strategy_id,
	                    side, total_quantity, avg_entry_price, exit_price, realized_pnl,
	                    max_unrealized_pnl, max_adverse_pnl, status, open_time, close_time,
	                    duration_seconds, stop_loss_price, take_profit_price, notes, tags, broker_data)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var id int64
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			t.PositionID, t.BrokerID, t.Symbol, t.ContractID, t.UserID, nullInt64(t.StrategyID),
			t.Side, t.TotalQuantity, t.AvgEntryPrice.String(), nullDecimal(t.ExitPrice), nullDecimal(t.RealizedPnL),
			nullDecimal(t.MaxUnrealizedPnL), nullDecimal(t.MaxAdversePnL), t.Status, t.OpenTime, nullTime(t.CloseTime),
			nullInt64(t.DurationSeconds), nullDecimal(t.StopLossPrice), nullDecimal(t.TakeProfitPrice),
			t.Notes, t.Tags, nullBytes(t.BrokerData))
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("trade for position %s already exists: %w", t.PositionID, ports.ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to insert trade for position %s: %w", t.PositionID, err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID for position %s: %w", t.PositionID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	t.ID = id
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "positionID": t.PositionID, "symbol": t.Symbol})
	return id, nil
}

// UpdateTrade overwrites the mutable entry-side fields of an open trade.
func (r *Repository) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	const query = `
	UPDATE trades
	SET total_quantity = ?, avg_entry_price = ?, max_unrealized_pnl = ?, max_adverse_pnl = ?,
	    stop_loss_price = ?, take_profit_price = ?, notes = ?, tags = ?, broker_data = ?
	WHERE id = ?`

	return r.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			t.TotalQuantity, t.AvgEntryPrice.String(), nullDecimal(t.MaxUnrealizedPnL), nullDecimal(t.MaxAdversePnL),
			nullDecimal(t.StopLossPrice), nullDecimal(t.TakeProfitPrice), t.Notes, t.Tags, nullBytes(t.BrokerData),
			t.ID)
		if err != nil {
			return fmt.Errorf("failed to update trade ID %d: %w: %w", t.ID, ports.ErrUpdateFailed, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected for trade ID %d: %w", t.ID, err)
		}
		if rows == 0 {
			return fmt.Errorf("trade ID %d not found for update: %w", t.ID, ports.ErrNotFound)
		}
		return nil
	})
}

// CloseTrade atomically closes the open trade for t.PositionID. The guard on
// status makes the close effective exactly once per position.
func (r *Repository) CloseTrade(ctx context.Context, t *domain.Trade) (bool, error) {
	const query = `
	UPDATE trades
	SET exit_price = ?, realized_pnl = ?, max_unrealized_pnl = ?, max_adverse_pnl = ?,
	    status = ?, close_time = ?, duration_seconds = ?
	WHERE position_id = ? AND status != ?`

	closed := false
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			nullDecimal(t.ExitPrice), nullDecimal(t.RealizedPnL), nullDecimal(t.MaxUnrealizedPnL), nullDecimal(t.MaxAdversePnL),
			domain.StatusClosed, nullTime(t.CloseTime), nullInt64(t.DurationSeconds),
			t.PositionID, domain.StatusClosed)
		if err != nil {
			return fmt.Errorf("failed to close trade for position %s: %w: %w", t.PositionID, ports.ErrUpdateFailed, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected closing position %s: %w", t.PositionID, err)
		}
		closed = rows > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if closed {
		r.logger.Debug(ctx, "Trade closed", map[string]interface{}{"positionID": t.PositionID})
	}
	return closed, nil
}

// FindByPositionID retrieves the trade for a broker position regardless of status.
func (r *Repository) FindByPositionID(ctx context.Context, positionID string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE position_id = ?`
	return r.queryOneTrade(ctx, query, positionID)
}

// FindOpenByPositionID retrieves the non-closed trade for a position, if any.
func (r *Repository) FindOpenByPositionID(ctx context.Context, positionID string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE position_id = ? AND status != ?`
	return r.queryOneTrade(ctx, query, positionID, domain.StatusClosed)
}

// FindByID retrieves a trade by ID, scoped to the owning user.
func (r *Repository) FindByID(ctx context.Context, tradeID, userID int64) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = ? AND user_id = ?`
	return r.queryOneTrade(ctx, query, tradeID, userID)
}

// FindOpenByUser retrieves all open trades for a user, newest first.
func (r *Repository) FindOpenByUser(ctx context.Context, userID int64) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE user_id = ? AND status != ? ORDER BY open_time DESC`
	return r.queryTrades(ctx, query, userID, domain.StatusClosed)
}

// FindClosedByUser retrieves closed trades for a user, newest-closed first.
func (r *Repository) FindClosedByUser(ctx context.Context, userID int64, filter ports.HistoryFilter) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE user_id = ? AND status = ?`
	args := []interface{}{userID, domain.StatusClosed}

	if filter.Symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, filter.Symbol)
	}
	if filter.StrategyID != nil {
		query += ` AND strategy_id = ?`
		args = append(args, *filter.StrategyID)
	}
	if !filter.Since.IsZero() {
		query += ` AND close_time >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY close_time DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}
	return r.queryTrades(ctx, query, args...)
}

func (r *Repository) queryOneTrade(ctx context.Context, query string, args ...interface{}) (*domain.Trade, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query trade: %w: %w", ports.ErrQueryFailed, err)
	}
	return t, nil
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// --- ExecutionRepository Implementation ---

// CreateExecution appends an immutable execution record and returns its ID.
func (r *Repository) CreateExecution(ctx context.Context, e *domain.TradeExecution) (int64, error) {
	const query = `
	INSERT INTO trade_executions (trade_id, broker_account_id, account_role, quantity,
	                              execution_price, execution_time, realized_pnl, commission, fees, execution_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var id int64
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			e.TradeID, e.BrokerAccountID, e.AccountRole, e.Quantity,
			e.ExecutionPrice.String(), e.ExecutionTime,
			nullDecimal(e.RealizedPnL), nullDecimal(e.Commission), nullDecimal(e.Fees), e.ExecutionID)
		if err != nil {
			return fmt.Errorf("failed to insert execution for trade %d: %w", e.TradeID, err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID for execution on trade %d: %w", e.TradeID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.ID = id
	r.logger.Debug(ctx, "Execution created", map[string]interface{}{"executionID": id, "tradeID": e.TradeID, "account": e.BrokerAccountID})
	return id, nil
}

// FindByTrade retrieves all executions for a trade, oldest first.
func (r *Repository) FindByTrade(ctx context.Context, tradeID int64) ([]*domain.TradeExecution, error) {
	const query = `
	SELECT id, trade_id, broker_account_id, account_role, quantity, execution_price,
	       execution_time, realized_pnl, commission, fees, execution_id
	FROM trade_executions WHERE trade_id = ? ORDER BY execution_time ASC`

	rows, err := r.db.QueryContext(ctx, query, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions for trade %d: %w: %w", tradeID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	executions := make([]*domain.TradeExecution, 0)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		executions = append(executions, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}
	return executions, nil
}

// --- StrategyDirectory Implementation ---

// CreateStrategy registers a strategy row. Used by provisioning and tests; the
// surrounding SaaS normally manages these records.
func (r *Repository) CreateStrategy(ctx context.Context, s *domain.StrategyRef) (int64, error) {
	const query = `
	INSERT INTO strategies (user_id, symbol, is_active, last_triggered, created_at)
	VALUES (?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query, s.UserID, s.Symbol, s.IsActive, nullTime(s.LastTriggered), s.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert strategy for user %d: %w", s.UserID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for strategy: %w", err)
	}
	s.ID = id
	return id, nil
}

// FindActiveBySymbol returns the most-recently-triggered active strategy
// matching the symbol for the user.
func (r *Repository) FindActiveBySymbol(ctx context.Context, userID int64, symbol string) (*domain.StrategyRef, error) {
	const query = `
	SELECT id, user_id, symbol, is_active, last_triggered, created_at
	FROM strategies
	WHERE user_id = ? AND symbol = ? AND is_active = 1
	ORDER BY last_triggered DESC LIMIT 1`
	return r.queryOneStrategy(ctx, query, userID, symbol)
}

// FindLatestActive returns the most-recently-created active strategy for the user.
func (r *Repository) FindLatestActive(ctx context.Context, userID int64) (*domain.StrategyRef, error) {
	const query = `
	SELECT id, user_id, symbol, is_active, last_triggered, created_at
	FROM strategies
	WHERE user_id = ? AND is_active = 1
	ORDER BY created_at DESC LIMIT 1`
	return r.queryOneStrategy(ctx, query, userID)
}

func (r *Repository) queryOneStrategy(ctx context.Context, query string, args ...interface{}) (*domain.StrategyRef, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	s := &domain.StrategyRef{}
	var lastTriggered sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.Symbol, &s.IsActive, &lastTriggered, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query strategy: %w: %w", ports.ErrQueryFailed, err)
	}
	if lastTriggered.Valid {
		s.LastTriggered = &lastTriggered.Time
	}
	return s, nil
}

// --- TokenStore Implementation ---

// GetValidToken returns a non-expired access token for the user and environment.
func (r *Repository) GetValidToken(ctx context.Context, userID int64, env domain.Environment) (string, error) {
	const query = `
	SELECT access_token FROM broker_tokens
	WHERE user_id = ? AND environment = ? AND expires_at > ?`

	var token string
	err := r.db.QueryRowContext(ctx, query, userID, env, time.Now().UTC()).Scan(&token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("no token for user %d in %s: %w", userID, env, ports.ErrNoValidCredential)
		}
		return "", fmt.Errorf("failed to query token for user %d: %w: %w", userID, ports.ErrQueryFailed, err)
	}
	return token, nil
}

// SaveToken stores or replaces the access token for the user and environment.
func (r *Repository) SaveToken(ctx context.Context, userID int64, env domain.Environment, token string, expiresAt time.Time) error {
	const query = `
	INSERT OR REPLACE INTO broker_tokens (user_id, environment, access_token, expires_at)
	VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, userID, env, token, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save token for user %d: %w: %w", userID, ports.ErrUpdateFailed, err)
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var (
		strategyID      sql.NullInt64
		avgEntry        string
		exitPrice       sql.NullString
		realizedPnL     sql.NullString
		maxUnrealized   sql.NullString
		maxAdverse      sql.NullString
		status          string
		side            string
		closeTime       sql.NullTime
		durationSeconds sql.NullInt64
		stopLoss        sql.NullString
		takeProfit      sql.NullString
		brokerData      sql.NullString
	)
	err := s.Scan(
		&t.ID, &t.PositionID, &t.BrokerID, &t.Symbol, &t.ContractID, &t.UserID, &strategyID,
		&side, &t.TotalQuantity, &avgEntry, &exitPrice, &realizedPnL,
		&maxUnrealized, &maxAdverse, &status, &t.OpenTime, &closeTime,
		&durationSeconds, &stopLoss, &takeProfit, &t.Notes, &t.Tags, &brokerData)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}

	t.Side = domain.OrderSide(side)
	t.Status = domain.TradeStatus(status)
	if strategyID.Valid {
		t.StrategyID = &strategyID.Int64
	}
	entry, err := decimal.NewFromString(avgEntry)
	if err != nil {
		return nil, fmt.Errorf("invalid stored entry price '%s': %w", avgEntry, err)
	}
	t.AvgEntryPrice = entry
	if t.ExitPrice, err = scanDecimal(exitPrice); err != nil {
		return nil, err
	}
	if t.RealizedPnL, err = scanDecimal(realizedPnL); err != nil {
		return nil, err
	}
	if t.MaxUnrealizedPnL, err = scanDecimal(maxUnrealized); err != nil {
		return nil, err
	}
	if t.MaxAdversePnL, err = scanDecimal(maxAdverse); err != nil {
		return nil, err
	}
	if t.StopLossPrice, err = scanDecimal(stopLoss); err != nil {
		return nil, err
	}
	if t.TakeProfitPrice, err = scanDecimal(takeProfit); err != nil {
		return nil, err
	}
	if closeTime.Valid {
		ct := closeTime.Time
		t.CloseTime = &ct
	}
	if durationSeconds.Valid {
		d := durationSeconds.Int64
		t.DurationSeconds = &d
	}
	if brokerData.Valid && brokerData.String != "" {
		t.BrokerData = []byte(brokerData.String)
	}
	return t, nil
}

// scanExecution scans a row into a domain.TradeExecution struct.
func scanExecution(s scanner) (*domain.TradeExecution, error) {
	e := &domain.TradeExecution{}
	var (
		role        string
		price       string
		realizedPnL sql.NullString
		commission  sql.NullString
		fees        sql.NullString
	)
	err := s.Scan(
		&e.ID, &e.TradeID, &e.BrokerAccountID, &role, &e.Quantity, &price,
		&e.ExecutionTime, &realizedPnL, &commission, &fees, &e.ExecutionID)
	if err != nil {
		return nil, err
	}
	e.AccountRole = domain.AccountRole(role)
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid stored execution price '%s': %w", price, err)
	}
	e.ExecutionPrice = p
	if e.RealizedPnL, err = scanDecimal(realizedPnL); err != nil {
		return nil, err
	}
	if e.Commission, err = scanDecimal(commission); err != nil {
		return nil, err
	}
	if e.Fees, err = scanDecimal(fees); err != nil {
		return nil, err
	}
	return e, nil
}

func scanDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, fmt.Errorf("invalid stored decimal '%s': %w", ns.String, err)
	}
	return &d, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
