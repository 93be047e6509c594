package buffer_pool

import "errors"

var (
	// 页面错误
	ErrPageNotFound  = errors.New("page not found in buffer pool")
	ErrInvalidPage   = errors.New("invalid page number")
	ErrPageCorrupted = errors.New("page checksum mismatch")

	// 缓冲池错误
	ErrBufferPoolFull = errors.New("buffer pool is full and no victim frame exists")
	ErrInvalidConfig  = errors.New("invalid buffer pool configuration")
	ErrIOError        = errors.New("IO error occurred")
	ErrClosed         = errors.New("buffer pool is closed")
)

// BufferPoolError 缓冲池错误结构
type BufferPoolError struct {
	Op  string // 操作名称
	Err error  // 原始错误
}

func (e *BufferPoolError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *BufferPoolError) Unwrap() error {
	return e.Err
}

// NewError 创建新的缓冲池错误
func NewError(op string, err error) error {
	return &BufferPoolError{
		Op:  op,
		Err: err,
	}
}

// IsBufferPoolFull 检查是否为缓冲池已满错误
func IsBufferPoolFull(err error) bool {
	return errors.Is(err, ErrBufferPoolFull)
}

// IsCorrupted 检查是否为页面损坏错误
func IsCorrupted(err error) bool {
	return errors.Is(err, ErrPageCorrupted)
}

// IsIOError 检查是否为IO错误
func IsIOError(err error) bool {
	return errors.Is(err, ErrIOError)
}

// IsInvalidPage 检查是否为非法页号
func IsInvalidPage(err error) bool {
	return errors.Is(err, ErrInvalidPage)
}
