package manager

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zhukovaskychina/xkvdb/logger"
)

// 事务状态
const (
	TRX_STATE_ACTIVE uint8 = iota
	TRX_STATE_COMMITTED
	TRX_STATE_ROLLED_BACK
)

// UndoEntry 一次更新的前镜像
type UndoEntry struct {
	TableID  int64
	PageNum  uint64
	Key      int64
	Offset   uint16
	OldValue []byte
	OldOwner int32
	LSN      int64 // 对应UPDATE日志的LSN
}

// UndoApplier 回滚时把前镜像写回索引, 返回写回时记录所在的页
type UndoApplier interface {
	ApplyUndo(trxID int32, entry UndoEntry) (pageNum uint64, current []byte, err error)
}

// Transaction 表示一个事务. 同一时刻只允许一个goroutine操作事务,
// 由mu保证.
type Transaction struct {
	ID        int32
	State     uint8
	StartTime time.Time

	mu       sync.Mutex
	undo     []UndoEntry
	firstLSN int64 // BEGIN记录的LSN
}

// UndoLen 未提交更新的条数
func (trx *Transaction) UndoLen() int {
	return len(trx.undo)
}

// DefaultLogRetention 日志缓冲在事务结束时开始截断的记录数
const DefaultLogRetention = 1024

// TransactionManager 事务管理器
type TransactionManager struct {
	mu        sync.RWMutex
	nextTrxID int32
	active    map[int32]*Transaction
	retention int

	lockManager *LockManager
	logManager  *LogManager
	undo        UndoApplier
}

// NewTransactionManager 创建事务管理器及其锁管理器
func NewTransactionManager(logManager *LogManager, undo UndoApplier) *TransactionManager {
	if logManager == nil {
		logManager = NewLogManager()
	}
	tm := &TransactionManager{
		nextTrxID:  1,
		active:     make(map[int32]*Transaction),
		retention:  DefaultLogRetention,
		logManager: logManager,
		undo:       undo,
	}
	tm.lockManager = NewLockManager(tm.IsActive)
	return tm
}

func (tm *TransactionManager) LockManager() *LockManager {
	return tm.lockManager
}

func (tm *TransactionManager) LogManager() *LogManager {
	return tm.logManager
}

// SetLogRetention 日志缓冲超过n条后, 每个事务结束时丢弃最老活跃事务开始之前的记录.
// n为0时每次都截断
func (tm *TransactionManager) SetLogRetention(n int) {
	if n < 0 {
		n = 0
	}
	tm.mu.Lock()
	tm.retention = n
	tm.mu.Unlock()
}

// SetUndoApplier 设置回滚时使用的索引写回器
func (tm *TransactionManager) SetUndoApplier(undo UndoApplier) {
	tm.undo = undo
}

// Begin 开始新事务, 事务号单调递增且大于0
func (tm *TransactionManager) Begin() (int32, error) {
	tm.mu.Lock()
	trxID := tm.nextTrxID
	if trxID <= 0 {
		tm.mu.Unlock()
		return 0, fmt.Errorf("%w: transaction id space exhausted", ErrInvalidTrxState)
	}
	// BEGIN在mu内写入, 截断时看到的活跃事务都已有firstLSN
	lsn, err := tm.logManager.LogBegin(trxID)
	if err != nil {
		tm.mu.Unlock()
		return 0, err
	}
	tm.nextTrxID++
	tm.active[trxID] = &Transaction{
		ID:        trxID,
		State:     TRX_STATE_ACTIVE,
		StartTime: time.Now(),
		firstLSN:  lsn,
	}
	tm.mu.Unlock()

	logger.WithTrx(trxID).Debugf("transaction started")
	return trxID, nil
}

// IsActive 事务是否存在且处于活跃状态
func (tm *TransactionManager) IsActive(trxID int32) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	trx, ok := tm.active[trxID]
	return ok && trx.State == TRX_STATE_ACTIVE
}

// ActiveCount 活跃事务数
func (tm *TransactionManager) ActiveCount() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.active)
}

// Attach 取得事务的独占使用权, 使用完毕后调用Detach
func (tm *TransactionManager) Attach(trxID int32) (*Transaction, error) {
	tm.mu.RLock()
	trx, ok := tm.active[trxID]
	tm.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTxNotFound, trxID)
	}
	trx.mu.Lock()
	if trx.State != TRX_STATE_ACTIVE {
		trx.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrTxNotActive, trxID)
	}
	return trx, nil
}

// Detach 释放Attach取得的使用权
func (tm *TransactionManager) Detach(trx *Transaction) {
	trx.mu.Unlock()
}

// LockRecord 在持有事务使用权时为记录加锁. 发生死锁时事务被回滚,
// 返回ErrTxAborted
func (tm *TransactionManager) LockRecord(trx *Transaction, tableID int64, pageNum uint64, key int64, ownerTrxID int32, mode LockMode) error {
	err := tm.lockManager.Acquire(tableID, pageNum, key, trx.ID, ownerTrxID, mode)
	if err == nil {
		return nil
	}
	if err != ErrDeadlockDetected {
		return err
	}
	if rerr := tm.rollbackLocked(trx); rerr != nil {
		return rerr
	}
	return fmt.Errorf("%w: trx %d chosen as deadlock victim", ErrTxAborted, trx.ID)
}

// RecordUpdate 记录UPDATE日志并压入undo栈
func (tm *TransactionManager) RecordUpdate(trx *Transaction, entry UndoEntry, newValue []byte) error {
	lsn, err := tm.logManager.LogUpdate(trx.ID, entry.TableID, entry.PageNum, entry.Key, entry.Offset, entry.OldValue, newValue)
	if err != nil {
		return err
	}
	entry.LSN = lsn
	entry.OldValue = append([]byte(nil), entry.OldValue...)
	trx.undo = append(trx.undo, entry)
	return nil
}

// Commit 提交事务: 释放全部锁并丢弃undo, 返回事务号.
// 事务先退出活跃集合再释放锁, 释放之后不会再有请求为它补上隐式锁
func (tm *TransactionManager) Commit(trxID int32) (int32, error) {
	trx, err := tm.Attach(trxID)
	if err != nil {
		return 0, err
	}
	defer tm.Detach(trx)

	if _, err := tm.logManager.LogCommit(trxID); err != nil {
		return 0, err
	}
	trx.undo = nil
	tm.finish(trx, TRX_STATE_COMMITTED)
	released := tm.lockManager.ReleaseAll(trxID)
	logger.WithTrx(trxID).Debugf("committed, %d locks released", released)
	return trxID, nil
}

// Abort 回滚事务, 返回事务号
func (tm *TransactionManager) Abort(trxID int32) (int32, error) {
	trx, err := tm.Attach(trxID)
	if err != nil {
		return 0, err
	}
	defer tm.Detach(trx)

	if err := tm.rollbackLocked(trx); err != nil {
		return 0, err
	}
	return trxID, nil
}

// rollbackLocked 按后进先出撤销全部更新, 然后释放锁. 调用方持有trx.mu
func (tm *TransactionManager) rollbackLocked(trx *Transaction) error {
	undone := len(trx.undo)
	for i := len(trx.undo) - 1; i >= 0; i-- {
		entry := trx.undo[i]
		if tm.undo == nil {
			return fmt.Errorf("%w: no undo applier for trx %d", ErrInvalidTrxState, trx.ID)
		}
		pageNum, current, err := tm.undo.ApplyUndo(trx.ID, entry)
		if err != nil {
			logger.WithTrx(trx.ID).Errorf("undo of key %d in table %d failed: %v", entry.Key, entry.TableID, err)
			return err
		}
		nextUndo := int64(-1)
		if i > 0 {
			nextUndo = trx.undo[i-1].LSN
		}
		if _, err := tm.logManager.LogCompensate(trx.ID, entry.TableID, pageNum, entry.Key, entry.Offset,
			current, entry.OldValue, nextUndo); err != nil {
			return err
		}
		trx.undo = trx.undo[:i]
	}
	if _, err := tm.logManager.LogRollback(trx.ID); err != nil {
		return err
	}
	tm.finish(trx, TRX_STATE_ROLLED_BACK)
	released := tm.lockManager.ReleaseAll(trx.ID)
	logger.WithTrx(trx.ID).Infof("rolled back, %d updates undone, %d locks released", undone, released)
	return nil
}

// finish 把事务移出活跃集合, 日志缓冲超过保留条数时截断
func (tm *TransactionManager) finish(trx *Transaction, state uint8) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	trx.State = state
	delete(tm.active, trx.ID)

	if tm.logManager.Len() <= tm.retention {
		return
	}
	upTo := tm.logManager.NextLSN()
	for _, t := range tm.active {
		if t.firstLSN < upTo {
			upTo = t.firstLSN
		}
	}
	if n := tm.logManager.Truncate(upTo); n > 0 {
		logger.Debugf("log buffer truncated below lsn %d, %d records dropped", upTo, n)
	}
}

// ActiveIDs 活跃事务号, 升序
func (tm *TransactionManager) ActiveIDs() []int32 {
	tm.mu.RLock()
	ids := make([]int32, 0, len(tm.active))
	for id := range tm.active {
		ids = append(ids, id)
	}
	tm.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
