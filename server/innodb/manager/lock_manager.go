package manager

import (
	"sort"
	"sync"

	"github.com/zhukovaskychina/xkvdb/logger"
)

// LockManager 记录锁管理器.
//
// 每个(表, 页)一条锁队列. 请求依次经过隐式锁转换、已持有检查、锁压缩,
// 最后排队并计算等待集合; 等待前对等待图做死锁检测, 请求者即为牺牲者.
// 等待通过绑定在mu上的条件变量完成, 释放时重新评估队列中所有等待中的请求.
type LockManager struct {
	mu       sync.Mutex
	queues   map[queueID]*lockQueue
	trxLocks map[int32][]*Lock

	// isActive 判断事务是否仍活跃, 调用时持有mu
	isActive func(trxID int32) bool

	waits     int64
	deadlocks int64
}

// NewLockManager 创建锁管理器, isActive由事务管理器提供
func NewLockManager(isActive func(trxID int32) bool) *LockManager {
	if isActive == nil {
		isActive = func(int32) bool { return true }
	}
	return &LockManager{
		queues:   make(map[queueID]*lockQueue),
		trxLocks: make(map[int32][]*Lock),
		isActive: isActive,
	}
}

func (lm *LockManager) queue(qid queueID) *lockQueue {
	q, ok := lm.queues[qid]
	if !ok {
		q = &lockQueue{}
		lm.queues[qid] = q
	}
	return q
}

func (lm *LockManager) track(l *Lock) {
	lm.trxLocks[l.TrxID] = append(lm.trxLocks[l.TrxID], l)
}

func (lm *LockManager) untrack(target *Lock) {
	locks := lm.trxLocks[target.TrxID]
	for i, l := range locks {
		if l == target {
			lm.trxLocks[target.TrxID] = append(locks[:i:i], locks[i+1:]...)
			break
		}
	}
	if len(lm.trxLocks[target.TrxID]) == 0 {
		delete(lm.trxLocks, target.TrxID)
	}
}

// Acquire 为trxID在(tableID, pageNum)上的记录key获取mode锁, 必要时阻塞.
// ownerTrxID为记录上保存的最后修改者事务号, 该事务仍活跃且未在队列中持有
// 覆盖该记录的锁时, 先为其补上一个已获得的X锁.
// 检测到死锁时撤销本次请求并返回ErrDeadlockDetected, 由调用方回滚事务.
func (lm *LockManager) Acquire(tableID int64, pageNum uint64, key int64, trxID, ownerTrxID int32, mode LockMode) error {
	if mode != LOCK_S && mode != LOCK_X {
		return ErrInvalidLockMode
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	qid := queueID{tableID: tableID, pageNum: pageNum}
	q := lm.queue(qid)

	// 隐式锁转换
	if ownerTrxID != 0 && ownerTrxID != trxID && lm.isActive(ownerTrxID) && !q.ownedBy(ownerTrxID, key) {
		implicit := newLock(qid, key, ownerTrxID, LOCK_X, &lm.mu)
		implicit.Acquired = true
		q.append(implicit)
		lm.track(implicit)
		logger.Debugf("implicit lock of trx %d on (%d,%d,%d) made explicit", ownerTrxID, tableID, pageNum, key)
	}

	if q.heldBy(trxID, key, mode) {
		return nil
	}

	// 锁压缩: 没有其他事务在该记录上冲突时, 复用本事务已获得的锁
	if !q.conflictsOnKey(trxID, key, mode) {
		if l := q.compressible(trxID, mode); l != nil {
			l.covered[key] = struct{}{}
			return nil
		}
	}

	l := newLock(qid, key, trxID, mode, &lm.mu)
	q.append(l)
	lm.track(l)

	l.waitFor = q.conflictsBefore(l)
	if len(l.waitFor) == 0 {
		l.Acquired = true
		return nil
	}

	if lm.detectDeadlock(trxID) {
		lm.deadlocks++
		q.remove(l)
		lm.untrack(l)
		lm.regrant(qid, q)
		logger.WithTrx(trxID).Infof("deadlock detected on (%d,%d,%d) %s, requester is the victim",
			tableID, pageNum, key, mode)
		return ErrDeadlockDetected
	}

	lm.waits++
	logger.WithTrx(trxID).Debugf("waiting for %s lock on (%d,%d,%d) held by %v",
		mode, tableID, pageNum, key, waitList(l.waitFor))
	for !l.Acquired {
		l.cond.Wait()
	}
	return nil
}

// detectDeadlock 从trxID出发沿等待集合做深度优先搜索, 回到trxID即存在环.
// 不再活跃的事务被剪枝. 调用方持有mu.
func (lm *LockManager) detectDeadlock(trxID int32) bool {
	visited := make(map[int32]bool)
	var stack []int32
	for w := range lm.waitingOn(trxID) {
		stack = append(stack, w)
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == trxID {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if !lm.isActive(cur) {
			continue
		}
		for w := range lm.waitingOn(cur) {
			if !visited[w] {
				stack = append(stack, w)
			}
		}
	}
	return false
}

// waitingOn 事务的所有未获得锁的等待集合之并
func (lm *LockManager) waitingOn(trxID int32) map[int32]struct{} {
	out := make(map[int32]struct{})
	for _, l := range lm.trxLocks[trxID] {
		if l.Acquired {
			continue
		}
		for w := range l.waitFor {
			out[w] = struct{}{}
		}
	}
	return out
}

// regrant 按队列顺序重新评估等待中的请求, 可获得的立即授予并唤醒
func (lm *LockManager) regrant(qid queueID, q *lockQueue) {
	for _, l := range q.locks {
		if l.Acquired {
			continue
		}
		l.waitFor = q.conflictsBefore(l)
		if len(l.waitFor) == 0 {
			l.Acquired = true
			l.waitFor = nil
			l.cond.Broadcast()
		}
	}
	if len(q.locks) == 0 {
		delete(lm.queues, qid)
	}
}

// ReleaseAll 释放事务持有的全部锁, 返回释放的锁对象个数
func (lm *LockManager) ReleaseAll(trxID int32) int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	locks := lm.trxLocks[trxID]
	delete(lm.trxLocks, trxID)

	touched := make(map[queueID]*lockQueue)
	for _, l := range locks {
		qid := queueID{tableID: l.TableID, pageNum: l.PageNum}
		q, ok := lm.queues[qid]
		if !ok {
			continue
		}
		q.remove(l)
		touched[qid] = q
	}
	for qid, q := range touched {
		lm.regrant(qid, q)
	}
	return len(locks)
}

// LocksOf 事务当前的锁
func (lm *LockManager) LocksOf(trxID int32) []LockInfo {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	infos := make([]LockInfo, 0, len(lm.trxLocks[trxID]))
	for _, l := range lm.trxLocks[trxID] {
		infos = append(infos, l.info())
	}
	return infos
}

// QueueOf (表, 页)上的锁队列快照
func (lm *LockManager) QueueOf(tableID int64, pageNum uint64) []LockInfo {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	q, ok := lm.queues[queueID{tableID: tableID, pageNum: pageNum}]
	if !ok {
		return nil
	}
	infos := make([]LockInfo, 0, len(q.locks))
	for _, l := range q.locks {
		infos = append(infos, l.info())
	}
	return infos
}

// LockStats 锁等待与死锁计数
type LockStats struct {
	Waits     int64
	Deadlocks int64
	Queues    int
}

func (lm *LockManager) Stats() LockStats {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return LockStats{Waits: lm.waits, Deadlocks: lm.deadlocks, Queues: len(lm.queues)}
}

func (l *Lock) info() LockInfo {
	covered := make([]int64, 0, len(l.covered))
	for k := range l.covered {
		covered = append(covered, k)
	}
	sort.Slice(covered, func(i, j int) bool { return covered[i] < covered[j] })
	return LockInfo{
		TableID:  l.TableID,
		PageNum:  l.PageNum,
		Key:      l.Key,
		TrxID:    l.TrxID,
		Mode:     l.Mode,
		Acquired: l.Acquired,
		Covered:  covered,
		WaitFor:  waitList(l.waitFor),
	}
}

func waitList(set map[int32]struct{}) []int32 {
	out := make([]int32, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
