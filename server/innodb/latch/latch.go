package latch

import (
	"sync"
	"sync/atomic"
)

// Latch 短期互斥原语, 保护内存结构(缓冲帧、B+树结构), 不同于事务级的记录锁
type Latch struct {
	mu      sync.RWMutex
	holders int32 // 写持有为-1, 读持有为读者数量
}

// NewLatch 创建一个新的latch
func NewLatch() *Latch {
	return &Latch{}
}

// Lock 获取写latch, 阻塞直到其他持有者释放
func (l *Latch) Lock() {
	l.mu.Lock()
	atomic.StoreInt32(&l.holders, -1)
}

// Unlock 释放写latch
func (l *Latch) Unlock() {
	atomic.StoreInt32(&l.holders, 0)
	l.mu.Unlock()
}

// RLock 获取读latch
func (l *Latch) RLock() {
	l.mu.RLock()
	atomic.AddInt32(&l.holders, 1)
}

// RUnlock 释放读latch
func (l *Latch) RUnlock() {
	atomic.AddInt32(&l.holders, -1)
	l.mu.RUnlock()
}

// TryLock 尝试获取写latch
func (l *Latch) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}
	atomic.StoreInt32(&l.holders, -1)
	return true
}

// IsLocked 是否被写持有, 仅用于断言与统计
func (l *Latch) IsLocked() bool {
	return atomic.LoadInt32(&l.holders) == -1
}

// Readers 当前读持有者数量
func (l *Latch) Readers() int32 {
	if h := atomic.LoadInt32(&l.holders); h > 0 {
		return h
	}
	return 0
}
