// Package btree 表文件上的B+树索引.
//
// 节点以副本方式修改: loadNode在帧latch下解码出节点后立即解除引用,
// saveNode再通过PinPage整页编码写回. 一次读-改-写期间不持有帧latch,
// 节点的一致性由树latch保证: 修改结构的操作独占树latch, 其余操作共享.
// 只有Update在共享树latch下于帧latch内原地读改写单个叶子.
// 同一棵树的页不允许绕过BPlusTree直接修改.
package btree

import (
	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xkvdb/logger"
	"github.com/zhukovaskychina/xkvdb/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xkvdb/server/innodb/latch"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/page"
)

// BPlusTree 单个表文件上的B+树索引, 键为int64, 值为定长范围内的字节串.
//
// 结构修改(Insert/Delete/Destroy)持有树latch的写模式, 查找与原地更新持有读模式;
// 原地更新之间由帧latch互斥.
type BPlusTree struct {
	tableID int64
	pool    *buffer_pool.BufferPool
	latch   *latch.Latch
}

// NewBPlusTree 在已打开的表上创建树句柄, 根页号保存在表的头页中
func NewBPlusTree(tableID int64, pool *buffer_pool.BufferPool) *BPlusTree {
	return &BPlusTree{
		tableID: tableID,
		pool:    pool,
		latch:   latch.NewLatch(),
	}
}

func (t *BPlusTree) TableID() int64 {
	return t.tableID
}

// Root 当前根页号, 空树为0
func (t *BPlusTree) Root() (uint64, error) {
	return t.pool.RootPage(t.tableID)
}

// findLeaf 从根向下定位key所在的叶子页, 空树返回0
func (t *BPlusTree) findLeaf(key int64) (uint64, *page.NodePage, error) {
	pageNum, err := t.pool.RootPage(t.tableID)
	if err != nil || pageNum == 0 {
		return 0, nil, err
	}
	for depth := 0; ; depth++ {
		node, err := t.loadNode(pageNum)
		if err != nil {
			return 0, nil, err
		}
		if node.IsLeaf {
			return pageNum, node, nil
		}
		if depth > maxTreeDepth {
			return 0, nil, errors.Wrapf(ErrCorruptedNode, "table %d: descent exceeds %d levels", t.tableID, maxTreeDepth)
		}
		pageNum = node.ChildFor(key)
	}
}

// leftmostLeaf 最左叶子页
func (t *BPlusTree) leftmostLeaf() (uint64, *page.NodePage, error) {
	pageNum, err := t.pool.RootPage(t.tableID)
	if err != nil || pageNum == 0 {
		return 0, nil, err
	}
	for depth := 0; ; depth++ {
		node, err := t.loadNode(pageNum)
		if err != nil {
			return 0, nil, err
		}
		if node.IsLeaf {
			return pageNum, node, nil
		}
		if depth > maxTreeDepth {
			return 0, nil, errors.Wrapf(ErrCorruptedNode, "table %d: descent exceeds %d levels", t.tableID, maxTreeDepth)
		}
		pageNum = node.FirstChild()
	}
}

// maxTreeDepth 超过该深度视为页面链接成环
const maxTreeDepth = 64

// Find 返回key对应值的副本
func (t *BPlusTree) Find(key int64) ([]byte, error) {
	rec, _, err := t.FindRecord(key)
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// FindRecord 返回记录(含持有者事务号)及其所在叶子页号
func (t *BPlusTree) FindRecord(key int64) (page.Record, uint64, error) {
	t.latch.RLock()
	defer t.latch.RUnlock()
	return t.findRecordLocked(key)
}

func (t *BPlusTree) findRecordLocked(key int64) (page.Record, uint64, error) {
	leafPage, leaf, err := t.findLeaf(key)
	if err != nil {
		return page.Record{}, 0, err
	}
	if leaf == nil {
		return page.Record{}, 0, ErrKeyNotFound
	}
	idx, ok := leaf.SearchRecord(key)
	if !ok {
		return page.Record{}, 0, ErrKeyNotFound
	}
	return leaf.Records[idx], leafPage, nil
}

// Update 原地替换值并记录新的持有者事务号, 新值长度必须与原值相同.
// 返回更新前的记录与所在叶子页号.
func (t *BPlusTree) Update(key int64, value []byte, trxID int32) (page.Record, uint64, error) {
	t.latch.RLock()
	defer t.latch.RUnlock()

	leafPage, leaf, err := t.findLeaf(key)
	if err != nil {
		return page.Record{}, 0, err
	}
	if leaf == nil {
		return page.Record{}, 0, ErrKeyNotFound
	}

	// 读latch下结构不变, 叶子页号依然有效; 在帧latch内完成读改写
	blk, err := t.pool.GetPage(t.tableID, leafPage)
	if err != nil {
		return page.Record{}, 0, err
	}
	node, err := page.DecodeNodePage(blk.Data())
	if err != nil {
		t.pool.UnpinPage(blk)
		return page.Record{}, 0, errors.Wrapf(err, "table %d page %d", t.tableID, leafPage)
	}
	idx, ok := node.SearchRecord(key)
	if !ok {
		t.pool.UnpinPage(blk)
		return page.Record{}, 0, ErrKeyNotFound
	}
	rec := &node.Records[idx]
	if len(rec.Value) != len(value) {
		t.pool.UnpinPage(blk)
		return page.Record{}, 0, errors.Wrapf(ErrValueSizeMismatch, "key %d: stored %d bytes, got %d", key, len(rec.Value), len(value))
	}
	old := page.NewRecord(rec.Key, rec.Value, rec.TrxID)
	old.Offset = rec.Offset

	copy(rec.Value, value)
	rec.TrxID = trxID
	if err := node.Encode(blk.Data()); err != nil {
		t.pool.UnpinPage(blk)
		return page.Record{}, 0, errors.Wrapf(err, "table %d page %d", t.tableID, leafPage)
	}
	t.pool.SetDirty(blk, true)
	return old, leafPage, nil
}

// Scan 沿right_sibling按键升序遍历全部记录, fn返回false时停止
func (t *BPlusTree) Scan(fn func(rec page.Record) bool) error {
	t.latch.RLock()
	defer t.latch.RUnlock()

	pageNum, leaf, err := t.leftmostLeaf()
	if err != nil || leaf == nil {
		return err
	}
	numPages, err := t.pool.NumPages(t.tableID)
	if err != nil {
		return err
	}
	visited := uint64(0)
	for {
		for _, rec := range leaf.Records {
			if !fn(rec) {
				return nil
			}
		}
		next := leaf.RightSibling()
		if next == 0 {
			return nil
		}
		visited++
		if next == pageNum || visited >= numPages {
			return errors.Wrapf(ErrCorruptedNode, "table %d: sibling chain loops at page %d", t.tableID, next)
		}
		pageNum = next
		if leaf, err = t.loadNode(pageNum); err != nil {
			return err
		}
		if !leaf.IsLeaf {
			return errors.Wrapf(ErrCorruptedNode, "table %d: sibling %d is not a leaf", t.tableID, pageNum)
		}
	}
}

// Count 记录总数
func (t *BPlusTree) Count() (int, error) {
	n := 0
	err := t.Scan(func(page.Record) bool {
		n++
		return true
	})
	return n, err
}

// Height 树高, 空树为0, 只有根叶子时为1
func (t *BPlusTree) Height() (int, error) {
	t.latch.RLock()
	defer t.latch.RUnlock()

	pageNum, err := t.pool.RootPage(t.tableID)
	if err != nil || pageNum == 0 {
		return 0, err
	}
	for height := 1; height <= maxTreeDepth; height++ {
		node, err := t.loadNode(pageNum)
		if err != nil {
			return 0, err
		}
		if node.IsLeaf {
			return height, nil
		}
		pageNum = node.FirstChild()
	}
	return 0, errors.Wrapf(ErrCorruptedNode, "table %d: height exceeds %d", t.tableID, maxTreeDepth)
}

// Destroy 释放所有节点页并将根页号置0
func (t *BPlusTree) Destroy() error {
	t.latch.Lock()
	defer t.latch.Unlock()

	root, err := t.pool.RootPage(t.tableID)
	if err != nil || root == 0 {
		return err
	}
	freed := 0
	stack := []uint64{root}
	for len(stack) > 0 {
		pageNum := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, err := t.loadNode(pageNum)
		if err != nil {
			return err
		}
		if !node.IsLeaf {
			stack = append(stack, node.Children()...)
		}
		if err := t.pool.FreePage(t.tableID, pageNum); err != nil {
			return err
		}
		freed++
	}
	if err := t.pool.SetRootPage(t.tableID, 0); err != nil {
		return err
	}
	logger.Infof("table %d: tree destroyed, %d pages freed", t.tableID, freed)
	return nil
}
