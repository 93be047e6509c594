package btree

import (
	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xkvdb/logger"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/page"
)

// Delete 删除key对应的记录, 返回被删除的记录.
// 叶子空闲空间达到RecordThreshold, 或内部节点的键数低于EdgeMaxCount/2时,
// 与相邻节点合并或重新分配.
func (t *BPlusTree) Delete(key int64) (page.Record, error) {
	t.latch.Lock()
	defer t.latch.Unlock()

	leafPage, leaf, err := t.findLeaf(key)
	if err != nil {
		return page.Record{}, err
	}
	if leaf == nil {
		return page.Record{}, ErrKeyNotFound
	}
	idx, ok := leaf.SearchRecord(key)
	if !ok {
		return page.Record{}, ErrKeyNotFound
	}
	removed := leaf.Records[idx]

	leaf.Records = append(leaf.Records[:idx:idx], leaf.Records[idx+1:]...)
	leaf.Correct(idx)
	return removed, t.rebalance(leafPage, leaf)
}

func isUnderflow(node *page.NodePage) bool {
	if node.IsLeaf {
		return node.FreeSpace >= page.RecordThreshold
	}
	return len(node.Edges) < page.EdgeMaxCount/2
}

// rebalance 节点删除一项之后调用, 负责写回节点
func (t *BPlusTree) rebalance(nodePage uint64, node *page.NodePage) error {
	if node.ParentPage == 0 {
		return t.adjustRoot(nodePage, node)
	}
	if err := t.saveNode(nodePage, node); err != nil {
		return err
	}
	if !isUnderflow(node) {
		return nil
	}

	parentPage := node.ParentPage
	parent, err := t.loadNode(parentPage)
	if err != nil {
		return err
	}
	if len(parent.Edges) == 0 {
		return errors.Wrapf(ErrCorruptedNode, "table %d: non-root internal %d has no keys", t.tableID, parentPage)
	}

	// 按页号定位, 节点可能已被删空
	idx := parent.ChildIndex(nodePage)
	var leftPage, rightPage uint64
	var primeIdx int
	switch {
	case idx == -2:
		return errors.Wrapf(ErrCorruptedNode, "table %d: page %d is not a child of %d", t.tableID, nodePage, parentPage)
	case idx <= 0:
		leftPage, rightPage, primeIdx = parent.FirstChild(), parent.Edges[0].Child, 0
	default:
		leftPage, rightPage, primeIdx = parent.Edges[idx-1].Child, nodePage, idx
	}

	left, err := t.loadNode(leftPage)
	if err != nil {
		return err
	}
	right, err := t.loadNode(rightPage)
	if err != nil {
		return err
	}
	if left.IsLeaf != right.IsLeaf {
		return errors.Wrapf(ErrCorruptedNode, "table %d: siblings %d and %d differ in level", t.tableID, leftPage, rightPage)
	}

	var canMerge bool
	if left.IsLeaf {
		canMerge = left.FreeSpace+right.FreeSpace > page.BodySize
	} else {
		canMerge = len(left.Edges)+len(right.Edges) < page.EdgeMaxCount
	}
	if canMerge {
		return t.mergeNodes(parentPage, parent, primeIdx, leftPage, left, rightPage, right)
	}
	return t.redistributeNodes(parentPage, parent, primeIdx, leftPage, left, rightPage, right)
}

// adjustRoot 根节点被删空时收缩: 叶子根使树变空, 内部根由其唯一子节点取代
func (t *BPlusTree) adjustRoot(rootPage uint64, root *page.NodePage) error {
	if root.NumKeys() > 0 {
		return t.saveNode(rootPage, root)
	}

	newRoot := uint64(0)
	if !root.IsLeaf {
		newRoot = root.FirstChild()
		if err := t.setParent(newRoot, 0); err != nil {
			return err
		}
	}
	if err := t.pool.SetRootPage(t.tableID, newRoot); err != nil {
		return err
	}
	logger.Debugf("table %d: root %d collapsed, new root %d", t.tableID, rootPage, newRoot)
	return t.pool.FreePage(t.tableID, rootPage)
}

// mergeNodes 把右节点并入左节点, 释放右节点并从父节点删除分隔键
func (t *BPlusTree) mergeNodes(parentPage uint64, parent *page.NodePage, primeIdx int,
	leftPage uint64, left *page.NodePage, rightPage uint64, right *page.NodePage) error {
	if left.IsLeaf {
		left.Records = append(left.Records, right.Records...)
		left.Sibling = right.Sibling
	} else {
		left.Edges = append(left.Edges, page.Edge{Key: parent.Edges[primeIdx].Key, Child: right.FirstChild()})
		left.Edges = append(left.Edges, right.Edges...)
		if err := t.reparent(right.Children(), leftPage); err != nil {
			return err
		}
	}
	left.Correct(0)
	if err := t.saveNode(leftPage, left); err != nil {
		return err
	}
	if err := t.pool.FreePage(t.tableID, rightPage); err != nil {
		return err
	}
	logger.Debugf("table %d: merged page %d into %d", t.tableID, rightPage, leftPage)

	parent.Edges = append(parent.Edges[:primeIdx:primeIdx], parent.Edges[primeIdx+1:]...)
	parent.Correct(0)
	return t.rebalance(parentPage, parent)
}

// redistributeNodes 从较满的一侧逐项借入, 之后更新父节点中的分隔键
func (t *BPlusTree) redistributeNodes(parentPage uint64, parent *page.NodePage, primeIdx int,
	leftPage uint64, left *page.NodePage, rightPage uint64, right *page.NodePage) error {
	if left.IsLeaf {
		if left.FreeSpace > right.FreeSpace {
			for left.FreeSpace >= page.RecordThreshold && len(right.Records) > 1 {
				left.Records = append(left.Records, right.Records[0])
				right.Records = append([]page.Record(nil), right.Records[1:]...)
				left.Correct(len(left.Records) - 1)
				right.Correct(0)
			}
		} else {
			for right.FreeSpace >= page.RecordThreshold && len(left.Records) > 1 {
				last := len(left.Records) - 1
				right.Records = insertRecordAt(right.Records, 0, left.Records[last])
				left.Records = left.Records[:last:last]
				left.Correct(last)
				right.Correct(0)
			}
		}
		parent.Edges[primeIdx].Key = right.Records[0].Key
	} else {
		prime := parent.Edges[primeIdx].Key
		half := page.EdgeMaxCount / 2
		var moved []uint64
		if len(left.Edges) < len(right.Edges) {
			for len(left.Edges) < half && len(right.Edges) > half {
				left.Edges = append(left.Edges, page.Edge{Key: prime, Child: right.FirstChild()})
				moved = append(moved, right.FirstChild())
				prime = right.Edges[0].Key
				right.Sibling = right.Edges[0].Child
				right.Edges = append([]page.Edge(nil), right.Edges[1:]...)
			}
			if err := t.reparent(moved, leftPage); err != nil {
				return err
			}
		} else {
			for len(right.Edges) < half && len(left.Edges) > half {
				last := len(left.Edges) - 1
				right.Edges = insertEdgeAt(right.Edges, 0, page.Edge{Key: prime, Child: right.FirstChild()})
				right.Sibling = left.Edges[last].Child
				moved = append(moved, left.Edges[last].Child)
				prime = left.Edges[last].Key
				left.Edges = left.Edges[:last:last]
			}
			if err := t.reparent(moved, rightPage); err != nil {
				return err
			}
		}
		parent.Edges[primeIdx].Key = prime
		left.Correct(0)
		right.Correct(0)
	}

	if err := t.saveNode(leftPage, left); err != nil {
		return err
	}
	if err := t.saveNode(rightPage, right); err != nil {
		return err
	}
	logger.Debugf("table %d: redistributed between %d and %d", t.tableID, leftPage, rightPage)
	return t.saveNode(parentPage, parent)
}
