package btree

import (
	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xkvdb/logger"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/page"
)

// Insert 插入新记录, 键已存在时返回ErrDuplicateKey且不做任何修改.
// 插入不属于事务, 记录的持有者事务号为0.
func (t *BPlusTree) Insert(key int64, value []byte) error {
	if !ValidValueSize(value) {
		return errors.Wrapf(ErrInvalidValueSize, "key %d: %d bytes", key, len(value))
	}

	t.latch.Lock()
	defer t.latch.Unlock()

	leafPage, leaf, err := t.findLeaf(key)
	if err != nil {
		return err
	}
	rec := page.NewRecord(key, value, 0)

	if leaf == nil {
		return t.startNewTree(rec)
	}
	if _, ok := leaf.SearchRecord(key); ok {
		return errors.Wrapf(ErrDuplicateKey, "key %d", key)
	}

	idx := leaf.FindKeyIndex(key) + 1
	if leaf.FreeSpace >= uint64(page.SlotSize+len(value)) {
		leaf.Records = insertRecordAt(leaf.Records, idx, rec)
		leaf.Correct(idx)
		return t.saveNode(leafPage, leaf)
	}
	return t.splitLeafAndInsert(leafPage, leaf, idx, rec)
}

func (t *BPlusTree) startNewTree(rec page.Record) error {
	root := page.NewLeafPage(0)
	root.Records = []page.Record{rec}
	rootPage, err := t.allocNode(root)
	if err != nil {
		return err
	}
	logger.Debugf("table %d: new root leaf %d", t.tableID, rootPage)
	return t.pool.SetRootPage(t.tableID, rootPage)
}

// splitLeafAndInsert 按字节量对半拆分叶子: 累计(槽位+值)直到达到半个页体,
// 左叶子保留到该位置(含), 其余移到新的右叶子
func (t *BPlusTree) splitLeafAndInsert(leafPage uint64, leaf *page.NodePage, idx int, rec page.Record) error {
	all := insertRecordAt(leaf.Records, idx, rec)

	split := 0
	total := 0
	for i, r := range all {
		total += page.SlotSize + len(r.Value)
		if total >= page.BodySize/2 {
			split = i
			break
		}
	}
	if split >= len(all)-1 {
		split = len(all) - 2
	}

	right := page.NewLeafPage(leaf.ParentPage)
	right.Records = append([]page.Record(nil), all[split+1:]...)
	right.Sibling = leaf.Sibling
	rightPage, err := t.allocNode(right)
	if err != nil {
		return err
	}

	leaf.Records = append([]page.Record(nil), all[:split+1]...)
	leaf.Sibling = rightPage
	leaf.Correct(0)
	if err := t.saveNode(leafPage, leaf); err != nil {
		return err
	}

	logger.Debugf("table %d: leaf %d split into %d (%d records) and %d (%d records)",
		t.tableID, leafPage, leafPage, len(leaf.Records), rightPage, len(right.Records))
	return t.insertIntoParent(leafPage, leaf.ParentPage, right.Records[0].Key, rightPage)
}

// insertIntoParent 将(key, right)插入到left的父节点, left是根时生成新根
func (t *BPlusTree) insertIntoParent(left, parentPage uint64, key int64, right uint64) error {
	if parentPage == 0 {
		return t.insertIntoNewRoot(left, key, right)
	}

	parent, err := t.loadNode(parentPage)
	if err != nil {
		return err
	}
	leftIdx := parent.ChildIndex(left)
	if leftIdx == -2 {
		return errors.Wrapf(ErrCorruptedNode, "table %d: page %d is not a child of %d", t.tableID, left, parentPage)
	}
	pos := leftIdx + 1
	edge := page.Edge{Key: key, Child: right}

	if len(parent.Edges) < page.EdgeMaxCount {
		parent.Edges = insertEdgeAt(parent.Edges, pos, edge)
		parent.Correct(0)
		return t.saveNode(parentPage, parent)
	}
	return t.splitInternalAndInsert(parentPage, parent, pos, edge)
}

func (t *BPlusTree) insertIntoNewRoot(left uint64, key int64, right uint64) error {
	root := page.NewInternalPage(0)
	root.Sibling = left
	root.Edges = []page.Edge{{Key: key, Child: right}}
	rootPage, err := t.allocNode(root)
	if err != nil {
		return err
	}
	if err := t.reparent([]uint64{left, right}, rootPage); err != nil {
		return err
	}
	logger.Debugf("table %d: tree grows, new root %d", t.tableID, rootPage)
	return t.pool.SetRootPage(t.tableID, rootPage)
}

// splitInternalAndInsert 按个数在(n+1)/2处拆分内部节点, 拆分点的键上移到父节点,
// 其子页成为右节点的最左子
func (t *BPlusTree) splitInternalAndInsert(nodePage uint64, node *page.NodePage, pos int, edge page.Edge) error {
	split := (len(node.Edges) + 1) / 2
	all := insertEdgeAt(node.Edges, pos, edge)
	prime := all[split].Key

	right := page.NewInternalPage(node.ParentPage)
	right.Sibling = all[split].Child
	right.Edges = append([]page.Edge(nil), all[split+1:]...)
	rightPage, err := t.allocNode(right)
	if err != nil {
		return err
	}
	if err := t.reparent(right.Children(), rightPage); err != nil {
		return err
	}

	node.Edges = append([]page.Edge(nil), all[:split]...)
	node.Correct(0)
	if err := t.saveNode(nodePage, node); err != nil {
		return err
	}

	logger.Debugf("table %d: internal %d split at key %d, right sibling %d", t.tableID, nodePage, prime, rightPage)
	return t.insertIntoParent(nodePage, node.ParentPage, prime, rightPage)
}
