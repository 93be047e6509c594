package store

import "errors"

var (
	ErrTableNotOpen     = errors.New("table is not open")
	ErrInvalidTableFile = errors.New("invalid table file")
	ErrPageOutOfRange   = errors.New("page number out of range")
	ErrShortIO          = errors.New("short page read/write")
	ErrTableLocked      = errors.New("table file is locked by another process")
	ErrStoreClosed      = errors.New("page store is closed")
)
