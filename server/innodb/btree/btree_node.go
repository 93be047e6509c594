package btree

import (
	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/page"
)

// loadNode 读取并反序列化节点页, 返回的是内存副本
func (t *BPlusTree) loadNode(pageNum uint64) (*page.NodePage, error) {
	if pageNum == page.HeaderPageNum {
		return nil, errors.Wrapf(ErrCorruptedNode, "table %d: node reference to header page", t.tableID)
	}
	blk, err := t.pool.GetPage(t.tableID, pageNum)
	if err != nil {
		return nil, err
	}
	node, err := page.DecodeNodePage(blk.Data())
	t.pool.UnpinPage(blk)
	if err != nil {
		return nil, errors.Wrapf(err, "table %d page %d", t.tableID, pageNum)
	}
	return node, nil
}

// saveNode 整页覆盖写回节点
func (t *BPlusTree) saveNode(pageNum uint64, node *page.NodePage) error {
	blk, err := t.pool.PinPage(t.tableID, pageNum)
	if err != nil {
		return err
	}
	if err := node.Encode(blk.Data()); err != nil {
		t.pool.UnpinPage(blk)
		return errors.Wrapf(err, "table %d page %d", t.tableID, pageNum)
	}
	t.pool.SetDirty(blk, true)
	return nil
}

// setParent 只改写子节点的父页号
func (t *BPlusTree) setParent(child, parent uint64) error {
	blk, err := t.pool.GetPage(t.tableID, child)
	if err != nil {
		return err
	}
	page.SetParentOf(blk.Data(), parent)
	t.pool.SetDirty(blk, true)
	return nil
}

func (t *BPlusTree) reparent(children []uint64, parent uint64) error {
	for _, child := range children {
		if err := t.setParent(child, parent); err != nil {
			return err
		}
	}
	return nil
}

// allocNode 分配一个新页并写入节点
func (t *BPlusTree) allocNode(node *page.NodePage) (uint64, error) {
	pageNum, err := t.pool.AllocPage(t.tableID)
	if err != nil {
		return 0, err
	}
	node.Correct(0)
	if err := t.saveNode(pageNum, node); err != nil {
		return 0, err
	}
	return pageNum, nil
}

func insertRecordAt(records []page.Record, idx int, rec page.Record) []page.Record {
	out := make([]page.Record, 0, len(records)+1)
	out = append(out, records[:idx]...)
	out = append(out, rec)
	return append(out, records[idx:]...)
}

func insertEdgeAt(edges []page.Edge, idx int, edge page.Edge) []page.Edge {
	out := make([]page.Edge, 0, len(edges)+1)
	out = append(out, edges[:idx]...)
	out = append(out, edge)
	return append(out, edges[idx:]...)
}
