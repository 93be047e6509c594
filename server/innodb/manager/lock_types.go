package manager

import (
	"fmt"
	"sync"
)

// LockMode 记录锁模式
type LockMode int

const (
	LOCK_S LockMode = iota // 共享锁
	LOCK_X                 // 排他锁
)

func (m LockMode) String() string {
	switch m {
	case LOCK_S:
		return "S"
	case LOCK_X:
		return "X"
	}
	return fmt.Sprintf("LockMode(%d)", int(m))
}

// covers 模式m是否满足请求的模式
func (m LockMode) covers(requested LockMode) bool {
	return m >= requested
}

func conflicting(a, b LockMode) bool {
	return a == LOCK_X || b == LOCK_X
}

// queueID 锁队列按(表, 页)划分
type queueID struct {
	tableID int64
	pageNum uint64
}

// Lock 记录锁. 一个锁对象可以覆盖同一页上的多条记录(锁压缩),
// 记录以逻辑键标识.
type Lock struct {
	TableID  int64
	PageNum  uint64
	Key      int64 // 创建该锁时请求的记录
	TrxID    int32
	Mode     LockMode
	Acquired bool

	covered map[int64]struct{}
	waitFor map[int32]struct{}
	cond    *sync.Cond
}

func newLock(qid queueID, key int64, trxID int32, mode LockMode, mu sync.Locker) *Lock {
	return &Lock{
		TableID: qid.tableID,
		PageNum: qid.pageNum,
		Key:     key,
		TrxID:   trxID,
		Mode:    mode,
		covered: map[int64]struct{}{key: {}},
		cond:    sync.NewCond(mu),
	}
}

// Covers 锁是否覆盖记录key
func (l *Lock) Covers(key int64) bool {
	_, ok := l.covered[key]
	return ok
}

// LockInfo 锁状态快照
type LockInfo struct {
	TableID  int64
	PageNum  uint64
	Key      int64
	TrxID    int32
	Mode     LockMode
	Acquired bool
	Covered  []int64
	WaitFor  []int32
}

// lockQueue 同一页上的锁, 按请求顺序排列
type lockQueue struct {
	locks []*Lock
}

func (q *lockQueue) append(l *Lock) {
	q.locks = append(q.locks, l)
}

func (q *lockQueue) remove(target *Lock) {
	for i, l := range q.locks {
		if l == target {
			q.locks = append(q.locks[:i:i], q.locks[i+1:]...)
			return
		}
	}
}

// heldBy trxID是否已持有覆盖key且模式不低于mode的锁.
// 其他事务已获得key上的冲突锁时视为未持有.
func (q *lockQueue) heldBy(trxID int32, key int64, mode LockMode) bool {
	held := false
	for _, l := range q.locks {
		if !l.Acquired || !l.Covers(key) {
			continue
		}
		if l.TrxID != trxID {
			if conflicting(l.Mode, mode) {
				return false
			}
			continue
		}
		if l.Mode.covers(mode) {
			held = true
		}
	}
	return held
}

// ownedBy trxID在队列中是否有任何覆盖key的锁
func (q *lockQueue) ownedBy(trxID int32, key int64) bool {
	for _, l := range q.locks {
		if l.TrxID == trxID && l.Covers(key) {
			return true
		}
	}
	return false
}

// conflictsOnKey 队列中是否存在其他事务在key上与mode冲突的锁
func (q *lockQueue) conflictsOnKey(trxID int32, key int64, mode LockMode) bool {
	for _, l := range q.locks {
		if l.TrxID != trxID && l.Covers(key) && conflicting(l.Mode, mode) {
			return true
		}
	}
	return false
}

// compressible 从队尾向前找trxID已获得的、模式与mode相同的锁.
// X锁只覆盖以X模式申请过的记录.
func (q *lockQueue) compressible(trxID int32, mode LockMode) *Lock {
	for i := len(q.locks) - 1; i >= 0; i-- {
		l := q.locks[i]
		if l.TrxID == trxID && l.Acquired && l.Mode == mode {
			return l
		}
	}
	return nil
}

// conflictsBefore 排在target之前、与target冲突的事务集合
func (q *lockQueue) conflictsBefore(target *Lock) map[int32]struct{} {
	var waits map[int32]struct{}
	for _, l := range q.locks {
		if l == target {
			break
		}
		if l.TrxID == target.TrxID || !l.Covers(target.Key) || !conflicting(l.Mode, target.Mode) {
			continue
		}
		if waits == nil {
			waits = make(map[int32]struct{})
		}
		waits[l.TrxID] = struct{}{}
	}
	return waits
}
