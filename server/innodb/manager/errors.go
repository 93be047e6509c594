package manager

import "errors"

// Transaction manager errors
var (
	ErrTxNotFound      = errors.New("transaction not found")
	ErrTxNotActive     = errors.New("transaction is not active")
	ErrTxAborted       = errors.New("transaction aborted")
	ErrInvalidTrxState = errors.New("invalid transaction state")
)

// Lock manager errors
var (
	ErrDeadlockDetected = errors.New("deadlock detected")
	ErrInvalidLockMode  = errors.New("invalid lock mode")
)

// Log manager errors
var (
	ErrInvalidLogType = errors.New("invalid log record type")
)
