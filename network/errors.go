package network

import "errors"

var (
	ErrConnectionClosed       = errors.New("connection closed")
	ErrInvalidAddress         = errors.New("invalid address")
	ErrListenerClosed         = errors.New("listener closed")
	ErrMaxRetriesExceeded     = errors.New("max retries exceeded")
	ErrInvalidBackoffConfig   = errors.New("invalid backoff configuration")
	ErrGracefulShutdownTimeout = errors.New("graceful shutdown timeout")
)
