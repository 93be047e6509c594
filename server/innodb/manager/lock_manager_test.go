package manager

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type activeSet struct {
	mu  sync.Mutex
	ids map[int32]bool
}

func newActiveSet(ids ...int32) *activeSet {
	s := &activeSet{ids: make(map[int32]bool)}
	for _, id := range ids {
		s.ids[id] = true
	}
	return s
}

func (s *activeSet) isActive(id int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[id]
}

func (s *activeSet) set(id int32, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = active
}

func TestSharedLocksAreCompatible(t *testing.T) {
	lm := NewLockManager(newActiveSet(1, 2).isActive)

	require.NoError(t, lm.Acquire(1, 10, 5, 1, 0, LOCK_S))
	require.NoError(t, lm.Acquire(1, 10, 5, 2, 0, LOCK_S))

	queue := lm.QueueOf(1, 10)
	require.Len(t, queue, 2)
	assert.True(t, queue[0].Acquired)
	assert.True(t, queue[1].Acquired)

	assert.Equal(t, 1, lm.ReleaseAll(1))
	assert.Equal(t, 1, lm.ReleaseAll(2))
	assert.Nil(t, lm.QueueOf(1, 10))
	assert.Equal(t, 0, lm.Stats().Queues)
}

func TestExclusiveLockBlocksUntilRelease(t *testing.T) {
	lm := NewLockManager(newActiveSet(1, 2).isActive)
	require.NoError(t, lm.Acquire(1, 10, 5, 1, 0, LOCK_X))

	acquired := make(chan error, 1)
	go func() {
		acquired <- lm.Acquire(1, 10, 5, 2, 0, LOCK_S)
	}()

	require.Eventually(t, func() bool { return lm.Stats().Waits == 1 }, time.Second, time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("shared lock granted while exclusive lock is held")
	case <-time.After(30 * time.Millisecond):
	}

	queue := lm.QueueOf(1, 10)
	require.Len(t, queue, 2)
	assert.False(t, queue[1].Acquired)
	assert.Equal(t, []int32{1}, queue[1].WaitFor)

	lm.ReleaseAll(1)
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken after release")
	}
	queue = lm.QueueOf(1, 10)
	require.Len(t, queue, 1)
	assert.True(t, queue[0].Acquired)
	assert.Equal(t, int32(2), queue[0].TrxID)
}

func TestDifferentKeysDoNotConflict(t *testing.T) {
	lm := NewLockManager(newActiveSet(1, 2).isActive)
	require.NoError(t, lm.Acquire(1, 10, 5, 1, 0, LOCK_X))
	require.NoError(t, lm.Acquire(1, 10, 6, 2, 0, LOCK_X))
	require.NoError(t, lm.Acquire(1, 11, 5, 2, 0, LOCK_X))
	assert.Equal(t, int64(0), lm.Stats().Waits)
}

func TestLockCompression(t *testing.T) {
	lm := NewLockManager(newActiveSet(1, 2).isActive)
	require.NoError(t, lm.Acquire(1, 10, 5, 1, 0, LOCK_X))
	require.NoError(t, lm.Acquire(1, 10, 6, 1, 0, LOCK_X))
	require.NoError(t, lm.Acquire(1, 10, 7, 1, 0, LOCK_S))
	require.NoError(t, lm.Acquire(1, 10, 8, 1, 0, LOCK_S))

	// 只压缩进同模式的锁
	locks := lm.LocksOf(1)
	require.Len(t, locks, 2)
	assert.Equal(t, LOCK_X, locks[0].Mode)
	assert.Equal(t, []int64{5, 6}, locks[0].Covered)
	assert.Equal(t, LOCK_S, locks[1].Mode)
	assert.Equal(t, []int64{7, 8}, locks[1].Covered)

	// 已持有的锁再次请求不会新增锁对象
	require.NoError(t, lm.Acquire(1, 10, 6, 1, 0, LOCK_S))
	assert.Len(t, lm.LocksOf(1), 2)

	// S锁不能通过压缩升级为X
	require.NoError(t, lm.Acquire(1, 10, 8, 2, 0, LOCK_S))
	require.NoError(t, lm.Acquire(1, 10, 9, 2, 0, LOCK_X))
	assert.Len(t, lm.LocksOf(2), 2)
}

func TestCompressionRefusesConflictingRecord(t *testing.T) {
	lm := NewLockManager(newActiveSet(1, 2).isActive)
	require.NoError(t, lm.Acquire(1, 10, 5, 1, 0, LOCK_X))
	require.NoError(t, lm.Acquire(1, 10, 6, 2, 0, LOCK_S))

	done := make(chan error, 1)
	go func() { done <- lm.Acquire(1, 10, 6, 1, 0, LOCK_X) }()
	require.Eventually(t, func() bool { return lm.Stats().Waits == 1 }, time.Second, time.Millisecond)

	lm.ReleaseAll(2)
	require.NoError(t, <-done)
	assert.Len(t, lm.LocksOf(1), 2)
}

func TestSharedRecordNotUpgradedThroughExclusiveLock(t *testing.T) {
	lm := NewLockManager(newActiveSet(1, 2).isActive)
	require.NoError(t, lm.Acquire(1, 10, 1, 1, 0, LOCK_X))
	require.NoError(t, lm.Acquire(1, 10, 2, 2, 0, LOCK_S))
	require.NoError(t, lm.Acquire(1, 10, 2, 1, 0, LOCK_S))

	for _, l := range lm.LocksOf(1) {
		if l.Mode == LOCK_X {
			assert.Equal(t, []int64{1}, l.Covered)
		}
	}

	done := make(chan error, 1)
	go func() { done <- lm.Acquire(1, 10, 2, 1, 0, LOCK_X) }()
	require.Eventually(t, func() bool { return lm.Stats().Waits == 1 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("exclusive lock granted while another transaction holds a shared lock")
	case <-time.After(30 * time.Millisecond):
	}

	lm.ReleaseAll(2)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken after release")
	}
}

func TestHeldExclusiveIgnoredWhileOtherHoldsShared(t *testing.T) {
	lm := NewLockManager(newActiveSet(1, 2).isActive)
	require.NoError(t, lm.Acquire(1, 10, 3, 2, 0, LOCK_S))

	qid := queueID{tableID: 1, pageNum: 10}
	lm.mu.Lock()
	q := lm.queue(qid)
	forged := newLock(qid, 3, 1, LOCK_X, &lm.mu)
	forged.Acquired = true
	q.append(forged)
	held := q.heldBy(1, 3, LOCK_X)
	heldShared := q.heldBy(1, 3, LOCK_S)
	q.remove(forged)
	lm.mu.Unlock()

	assert.False(t, held)
	assert.True(t, heldShared)
}

func TestImplicitLockConversion(t *testing.T) {
	active := newActiveSet(1, 2)
	lm := NewLockManager(active.isActive)

	// 记录最后由活跃事务1修改, 事务2的请求先为事务1补上X锁
	done := make(chan error, 1)
	go func() { done <- lm.Acquire(1, 10, 5, 2, 1, LOCK_S) }()
	require.Eventually(t, func() bool { return lm.Stats().Waits == 1 }, time.Second, time.Millisecond)

	owner := lm.LocksOf(1)
	require.Len(t, owner, 1)
	assert.Equal(t, LOCK_X, owner[0].Mode)
	assert.True(t, owner[0].Acquired)

	lm.ReleaseAll(1)
	require.NoError(t, <-done)

	// 持有者已结束时不再转换
	require.NoError(t, lm.Acquire(1, 10, 6, 2, 3, LOCK_X))
	assert.Empty(t, lm.LocksOf(3))
}

func TestDeadlockRequesterIsVictim(t *testing.T) {
	lm := NewLockManager(newActiveSet(1, 2).isActive)
	require.NoError(t, lm.Acquire(1, 10, 1, 1, 0, LOCK_X))
	require.NoError(t, lm.Acquire(1, 20, 2, 2, 0, LOCK_X))

	var g errgroup.Group
	g.Go(func() error { return lm.Acquire(1, 20, 2, 1, 0, LOCK_X) })
	require.Eventually(t, func() bool { return lm.Stats().Waits == 1 }, time.Second, time.Millisecond)

	err := lm.Acquire(1, 10, 1, 2, 0, LOCK_X)
	assert.Equal(t, ErrDeadlockDetected, err)
	assert.Equal(t, int64(1), lm.Stats().Deadlocks)
	// 牺牲者的请求已从队列撤销
	assert.Len(t, lm.QueueOf(1, 10), 1)

	lm.ReleaseAll(2)
	require.NoError(t, g.Wait())
	locks := lm.LocksOf(1)
	assert.Len(t, locks, 2)
}

func TestInvalidLockMode(t *testing.T) {
	lm := NewLockManager(nil)
	assert.Equal(t, ErrInvalidLockMode, lm.Acquire(1, 1, 1, 1, 0, LockMode(7)))
	assert.Equal(t, "X", LOCK_X.String())
}

func TestFinishedOwnerStillHoldingLocks(t *testing.T) {
	active := newActiveSet(2, 5)
	lm := NewLockManager(active.isActive)
	require.NoError(t, lm.Acquire(1, 10, 7, 5, 0, LOCK_X))

	// 事务5已离开活跃集合, 锁尚未释放
	active.set(5, false)
	done := make(chan error, 1)
	go func() { done <- lm.Acquire(1, 10, 7, 2, 5, LOCK_X) }()
	require.Eventually(t, func() bool { return lm.Stats().Waits == 1 }, time.Second, time.Millisecond)
	assert.Len(t, lm.LocksOf(5), 1)

	assert.Equal(t, 1, lm.ReleaseAll(5))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken after owner released its locks")
	}
	assert.Empty(t, lm.LocksOf(5))
	require.Len(t, lm.LocksOf(2), 1)
	assert.True(t, lm.LocksOf(2)[0].Acquired)
}
