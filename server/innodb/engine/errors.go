package engine

import (
	"errors"

	"github.com/zhukovaskychina/xkvdb/server/innodb/btree"
	"github.com/zhukovaskychina/xkvdb/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xkvdb/server/innodb/manager"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("duplicate key")
	ErrAborted         = errors.New("transaction aborted")
	ErrNotInitialized  = errors.New("engine not initialized")
	ErrFatal           = errors.New("fatal storage error")
)

// 返回给调用方的状态码
const (
	StatusOK      = 0
	StatusFailed  = 1
	StatusAborted = 2
	StatusFatal   = -1
)

// EngineError 引擎错误, Kind为上面的哨兵错误之一, Err为下层原始错误
type EngineError struct {
	Op   string
	Kind error
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

func (e *EngineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind error, err error) error {
	return &EngineError{Op: op, Kind: kind, Err: err}
}

// classify 将下层错误归类为引擎错误
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	switch {
	case errors.Is(err, btree.ErrKeyNotFound):
		return newError(op, ErrNotFound, err)
	case errors.Is(err, btree.ErrDuplicateKey):
		return newError(op, ErrDuplicate, err)
	case errors.Is(err, btree.ErrInvalidValueSize), errors.Is(err, btree.ErrValueSizeMismatch),
		errors.Is(err, manager.ErrTxNotFound), errors.Is(err, manager.ErrTxNotActive):
		return newError(op, ErrInvalidArgument, err)
	case errors.Is(err, manager.ErrTxAborted):
		return newError(op, ErrAborted, err)
	case buffer_pool.IsBufferPoolFull(err), buffer_pool.IsIOError(err), buffer_pool.IsCorrupted(err),
		errors.Is(err, btree.ErrCorruptedNode):
		return newError(op, ErrFatal, err)
	}
	return newError(op, ErrInvalidArgument, err)
}

// Status 将错误映射为状态码: 0成功, 1失败, 2事务已回滚, -1致命错误
func Status(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrAborted):
		return StatusAborted
	case errors.Is(err, ErrFatal):
		return StatusFatal
	}
	return StatusFailed
}

// IsNotFound 检查是否为记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAborted 检查事务是否已被回滚
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}
