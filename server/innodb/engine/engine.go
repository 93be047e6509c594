package engine

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/zhukovaskychina/xkvdb/logger"
	"github.com/zhukovaskychina/xkvdb/server/conf"
	"github.com/zhukovaskychina/xkvdb/server/innodb/btree"
	"github.com/zhukovaskychina/xkvdb/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xkvdb/server/innodb/manager"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/page"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/store"
)

// maxRelocate 加锁期间记录被拆分移动到其他页时, 重新加锁的最大次数
const maxRelocate = 16

// Engine 存储引擎: 持有页面存储、缓冲池、各表的B+树与事务/锁管理器
type Engine struct {
	conf *conf.Cfg

	mu          sync.RWMutex
	initialized bool

	store *store.PageStore
	pool  *buffer_pool.BufferPool

	// treesMu 保护trees, 回滚路径只取treesMu
	treesMu sync.RWMutex
	trees   map[int64]*btree.BPlusTree

	logManager *manager.LogManager
	trxManager *manager.TransactionManager
}

// NewEngine 创建引擎, 使用前需调用Init
func NewEngine(cfg *conf.Cfg) *Engine {
	if cfg == nil {
		cfg = conf.NewCfg()
	}
	return &Engine{conf: cfg}
}

// Init 初始化缓冲池与事务子系统, numBuf为缓冲帧数量, 不大于0时使用配置值
func (e *Engine) Init(numBuf int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return newError("init", ErrInvalidArgument, fmt.Errorf("engine already initialized"))
	}
	if numBuf <= 0 {
		numBuf = e.conf.BufferPoolSize
	}
	if numBuf <= 0 {
		return newError("init", ErrInvalidArgument, fmt.Errorf("buffer pool size %d", numBuf))
	}
	initialPages := uint64(e.conf.InitialPages)
	if initialPages == 0 {
		initialPages = page.InitialPageCount
	}

	ps := store.NewPageStore(store.Options{
		InitialPages: initialPages,
		SyncOnWrite:  e.conf.SyncOnFlush,
	})
	pool, err := buffer_pool.NewBufferPool(buffer_pool.BufferPoolConfig{
		NumFrames:    numBuf,
		PageChecksum: e.conf.PageChecksum,
	}, ps)
	if err != nil {
		return newError("init", ErrInvalidArgument, err)
	}

	e.store = ps
	e.pool = pool
	e.treesMu.Lock()
	e.trees = make(map[int64]*btree.BPlusTree)
	e.treesMu.Unlock()
	e.logManager = manager.NewLogManager()
	e.trxManager = manager.NewTransactionManager(e.logManager, e)
	e.trxManager.SetLogRetention(e.conf.LogBufferRecords)
	e.initialized = true
	logger.Infof("engine initialized: %d buffer frames, %d initial pages per table", numBuf, initialPages)
	return nil
}

// Shutdown 回滚未结束的事务, 刷写全部脏页并关闭表文件
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil
	}

	for _, trxID := range e.trxManager.ActiveIDs() {
		if _, err := e.trxManager.Abort(trxID); err != nil {
			logger.Warnf("abort of trx %d at shutdown failed: %v", trxID, err)
		}
	}

	var firstErr error
	if err := e.pool.Close(); err != nil {
		firstErr = newError("shutdown", ErrFatal, err)
	}
	if err := e.store.CloseAll(); err != nil && firstErr == nil {
		firstErr = newError("shutdown", ErrFatal, err)
	}
	e.initialized = false
	e.treesMu.Lock()
	e.trees = nil
	e.treesMu.Unlock()
	logger.Infof("engine shut down")
	return firstErr
}

// OpenTable 打开或创建表文件, 返回表号
func (e *Engine) OpenTable(path string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return 0, newError("open_table", ErrNotInitialized, nil)
	}
	if path == "" {
		return 0, newError("open_table", ErrInvalidArgument, fmt.Errorf("empty path"))
	}
	if !filepath.IsAbs(path) && e.conf.DataDir != "" {
		path = filepath.Join(e.conf.DataDir, path)
	}

	tableID, err := e.store.OpenTable(path)
	if err != nil {
		return 0, newError("open_table", ErrInvalidArgument, err)
	}
	e.treesMu.Lock()
	if _, ok := e.trees[tableID]; !ok {
		e.trees[tableID] = btree.NewBPlusTree(tableID, e.pool)
		logger.Infof("table %d opened at %s", tableID, path)
	}
	e.treesMu.Unlock()
	return tableID, nil
}

func (e *Engine) tree(op string, tableID int64) (*btree.BPlusTree, error) {
	e.mu.RLock()
	initialized := e.initialized
	e.mu.RUnlock()
	if !initialized {
		return nil, newError(op, ErrNotInitialized, nil)
	}
	tree, err := e.lookupTree(tableID)
	if err != nil {
		return nil, newError(op, ErrInvalidArgument, err)
	}
	return tree, nil
}

func (e *Engine) lookupTree(tableID int64) (*btree.BPlusTree, error) {
	e.treesMu.RLock()
	defer e.treesMu.RUnlock()
	tree, ok := e.trees[tableID]
	if !ok {
		return nil, fmt.Errorf("table %d is not open", tableID)
	}
	return tree, nil
}

func (e *Engine) transactions(op string) (*manager.TransactionManager, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, newError(op, ErrNotInitialized, nil)
	}
	return e.trxManager, nil
}

// Insert 非事务插入
func (e *Engine) Insert(tableID int64, key int64, value []byte) error {
	tree, err := e.tree("insert", tableID)
	if err != nil {
		return err
	}
	return classify("insert", tree.Insert(key, value))
}

// Find 非事务查找, 不加锁
func (e *Engine) Find(tableID int64, key int64) ([]byte, error) {
	tree, err := e.tree("find", tableID)
	if err != nil {
		return nil, err
	}
	value, err := tree.Find(key)
	return value, classify("find", err)
}

// Delete 非事务删除
func (e *Engine) Delete(tableID int64, key int64) error {
	tree, err := e.tree("delete", tableID)
	if err != nil {
		return err
	}
	_, err = tree.Delete(key)
	return classify("delete", err)
}

// Scan 按键升序遍历表
func (e *Engine) Scan(tableID int64, fn func(key int64, value []byte) bool) error {
	tree, err := e.tree("scan", tableID)
	if err != nil {
		return err
	}
	return classify("scan", tree.Scan(func(rec page.Record) bool {
		return fn(rec.Key, rec.Value)
	}))
}

// DestroyTable 清空表中的全部记录并释放节点页
func (e *Engine) DestroyTable(tableID int64) error {
	tree, err := e.tree("destroy", tableID)
	if err != nil {
		return err
	}
	return classify("destroy", tree.Destroy())
}

// lockRecord 为记录加锁, 加锁期间记录若被拆分到其他页则在新页上重新加锁.
// 返回加锁后读到的记录.
func (e *Engine) lockRecord(tm *manager.TransactionManager, trx *manager.Transaction, tree *btree.BPlusTree,
	key int64, mode manager.LockMode) (page.Record, error) {
	rec, pageNum, err := tree.FindRecord(key)
	if err != nil {
		return page.Record{}, err
	}
	for i := 0; i < maxRelocate; i++ {
		if err := tm.LockRecord(trx, tree.TableID(), pageNum, key, rec.TrxID, mode); err != nil {
			return page.Record{}, err
		}
		current, currentPage, err := tree.FindRecord(key)
		if err != nil {
			return page.Record{}, err
		}
		if currentPage == pageNum {
			return current, nil
		}
		logger.WithTrx(trx.ID).Debugf("key %d moved from page %d to %d while locking", key, pageNum, currentPage)
		rec, pageNum = current, currentPage
	}
	return page.Record{}, fmt.Errorf("key %d keeps moving while locking", key)
}

// FindTx 事务内查找, 对记录加S锁. 死锁时事务已回滚并返回ErrAborted
func (e *Engine) FindTx(tableID int64, key int64, trxID int32) ([]byte, error) {
	tree, err := e.tree("find_tx", tableID)
	if err != nil {
		return nil, err
	}
	tm, err := e.transactions("find_tx")
	if err != nil {
		return nil, err
	}
	trx, err := tm.Attach(trxID)
	if err != nil {
		return nil, classify("find_tx", err)
	}
	defer tm.Detach(trx)

	rec, err := e.lockRecord(tm, trx, tree, key, manager.LOCK_S)
	if err != nil {
		return nil, classify("find_tx", err)
	}
	return rec.Value, nil
}

// UpdateTx 事务内原地更新, 对记录加X锁并登记undo, 返回原值长度.
// 死锁时事务已回滚并返回ErrAborted
func (e *Engine) UpdateTx(tableID int64, key int64, value []byte, trxID int32) (int, error) {
	if !btree.ValidValueSize(value) {
		return 0, newError("update_tx", ErrInvalidArgument, btree.ErrInvalidValueSize)
	}
	tree, err := e.tree("update_tx", tableID)
	if err != nil {
		return 0, err
	}
	tm, err := e.transactions("update_tx")
	if err != nil {
		return 0, err
	}
	trx, err := tm.Attach(trxID)
	if err != nil {
		return 0, classify("update_tx", err)
	}
	defer tm.Detach(trx)

	if _, err := e.lockRecord(tm, trx, tree, key, manager.LOCK_X); err != nil {
		return 0, classify("update_tx", err)
	}
	old, pageNum, err := tree.Update(key, value, trxID)
	if err != nil {
		return 0, classify("update_tx", err)
	}
	err = tm.RecordUpdate(trx, manager.UndoEntry{
		TableID:  tableID,
		PageNum:  pageNum,
		Key:      key,
		Offset:   old.Offset,
		OldValue: old.Value,
		OldOwner: old.TrxID,
	}, value)
	if err != nil {
		return 0, classify("update_tx", err)
	}
	return len(old.Value), nil
}

// ApplyUndo 回滚时写回前镜像与原持有者
func (e *Engine) ApplyUndo(trxID int32, entry manager.UndoEntry) (uint64, []byte, error) {
	tree, err := e.lookupTree(entry.TableID)
	if err != nil {
		return 0, nil, err
	}
	current, pageNum, err := tree.Update(entry.Key, entry.OldValue, entry.OldOwner)
	if err != nil {
		return 0, nil, err
	}
	return pageNum, current.Value, nil
}

// BeginTrx 开始事务
func (e *Engine) BeginTrx() (int32, error) {
	tm, err := e.transactions("begin_trx")
	if err != nil {
		return 0, err
	}
	trxID, err := tm.Begin()
	return trxID, classify("begin_trx", err)
}

// CommitTrx 提交事务, 返回事务号
func (e *Engine) CommitTrx(trxID int32) (int32, error) {
	tm, err := e.transactions("commit_trx")
	if err != nil {
		return 0, err
	}
	id, err := tm.Commit(trxID)
	return id, classify("commit_trx", err)
}

// AbortTrx 回滚事务, 返回事务号
func (e *Engine) AbortTrx(trxID int32) (int32, error) {
	tm, err := e.transactions("abort_trx")
	if err != nil {
		return 0, err
	}
	id, err := tm.Abort(trxID)
	return id, classify("abort_trx", err)
}

// Tables 已打开的表
func (e *Engine) Tables() []int64 {
	e.treesMu.RLock()
	defer e.treesMu.RUnlock()
	ids := make([]int64, 0, len(e.trees))
	for id := range e.trees {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// EngineStats 引擎运行统计
type EngineStats struct {
	BufferPool   buffer_pool.BufferPoolStats
	Locks        manager.LockStats
	ActiveTrx    int
	LogRecords   int
	OpenedTables int
}

func (e *Engine) Stats() (EngineStats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return EngineStats{}, newError("stats", ErrNotInitialized, nil)
	}
	return EngineStats{
		BufferPool:   e.pool.Stats(),
		Locks:        e.trxManager.LockManager().Stats(),
		ActiveTrx:    e.trxManager.ActiveCount(),
		LogRecords:   e.logManager.Len(),
		OpenedTables: len(e.Tables()),
	}, nil
}

// LogManager 事务日志缓冲
func (e *Engine) LogManager() *manager.LogManager {
	return e.logManager
}
