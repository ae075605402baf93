package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Broker Connection Errors
	ErrConnectionFailed     = errors.New("failed to connect to the broker")
	ErrNotConnected         = errors.New("broker connection is not established")
	ErrCircuitOpen          = errors.New("circuit breaker is open")
	ErrAuthenticationFailed = errors.New("broker authentication failed")
	ErrNoValidCredential    = errors.New("no valid access credential for user")
	ErrReconnectExhausted   = errors.New("maximum reconnection attempts exhausted")
	ErrSendFailed           = errors.New("failed to send message to broker")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
