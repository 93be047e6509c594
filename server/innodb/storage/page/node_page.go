package page

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xkvdb/util"
)

var (
	ErrCorruptedNode = errors.New("corrupted node page")
	ErrInvalidBuffer = errors.New("page buffer must be PageSize bytes")
)

// Record 叶子节点中的一条记录. Size/Offset为槽位信息, 由Correct维护
type Record struct {
	Key    int64
	Size   uint16
	Offset uint16
	TrxID  int32
	Value  []byte
}

// NewRecord 创建记录, 复制value
func NewRecord(key int64, value []byte, trxID int32) Record {
	v := make([]byte, len(value))
	copy(v, value)
	return Record{Key: key, Size: uint16(len(v)), TrxID: trxID, Value: v}
}

// Edge 内部节点的一条边, Child子树中所有键 >= Key
type Edge struct {
	Key   int64
	Child uint64
}

// NodePage 内部节点或叶子节点的内存视图
type NodePage struct {
	ParentPage uint64
	IsLeaf     bool
	PageLSN    int64
	FreeSpace  uint64
	// Sibling 叶子节点为右兄弟页号, 内部节点为最左子页号
	Sibling uint64

	Records []Record
	Edges   []Edge
}

func NewLeafPage(parent uint64) *NodePage {
	n := &NodePage{ParentPage: parent, IsLeaf: true}
	n.Correct(0)
	return n
}

func NewInternalPage(parent uint64) *NodePage {
	n := &NodePage{ParentPage: parent, IsLeaf: false}
	n.Correct(0)
	return n
}

func (n *NodePage) NumKeys() int {
	if n.IsLeaf {
		return len(n.Records)
	}
	return len(n.Edges)
}

// FirstChild 内部节点的最左子页号
func (n *NodePage) FirstChild() uint64 { return n.Sibling }

// RightSibling 叶子节点的右兄弟页号
func (n *NodePage) RightSibling() uint64 { return n.Sibling }

// FindKeyIndex 返回最后一个键<=key的位置(upper_bound-1), 不存在时为-1
func (n *NodePage) FindKeyIndex(key int64) int {
	if n.IsLeaf {
		return sort.Search(len(n.Records), func(i int) bool { return n.Records[i].Key > key }) - 1
	}
	return sort.Search(len(n.Edges), func(i int) bool { return n.Edges[i].Key > key }) - 1
}

// ChildFor 内部节点中key所在子树的页号
func (n *NodePage) ChildFor(key int64) uint64 {
	idx := n.FindKeyIndex(key)
	if idx < 0 {
		return n.Sibling
	}
	return n.Edges[idx].Child
}

// ChildAt idx为-1时返回最左子页号
func (n *NodePage) ChildAt(idx int) uint64 {
	if idx < 0 {
		return n.Sibling
	}
	return n.Edges[idx].Child
}

// ChildIndex 子页在本节点中的位置, 最左子为-1, 不存在返回-2
func (n *NodePage) ChildIndex(child uint64) int {
	if n.Sibling == child {
		return -1
	}
	for i, e := range n.Edges {
		if e.Child == child {
			return i
		}
	}
	return -2
}

// Children 全部子页号(包括最左子)
func (n *NodePage) Children() []uint64 {
	children := make([]uint64, 0, len(n.Edges)+1)
	children = append(children, n.Sibling)
	for _, e := range n.Edges {
		children = append(children, e.Child)
	}
	return children
}

// SearchRecord 在叶子中精确查找key
func (n *NodePage) SearchRecord(key int64) (int, bool) {
	idx := n.FindKeyIndex(key)
	if idx < 0 || n.Records[idx].Key != key {
		return idx, false
	}
	return idx, true
}

// Correct 从from开始重算记录偏移并刷新空闲空间.
// 偏移从页尾(或前一条记录的偏移)开始, 每条记录偏移 = 前驱偏移 - 自身大小
func (n *NodePage) Correct(from int) {
	if !n.IsLeaf {
		n.FreeSpace = uint64(BodySize - EdgeSize*len(n.Edges))
		return
	}
	if from < 0 {
		from = 0
	}
	offset := uint16(PageSize)
	if from > 0 && from <= len(n.Records) {
		offset = n.Records[from-1].Offset
	}
	for i := from; i < len(n.Records); i++ {
		r := &n.Records[i]
		r.Size = uint16(len(r.Value))
		offset -= r.Size
		r.Offset = offset
	}
	n.FreeSpace = n.ComputeFreeSpace()
}

// ComputeFreeSpace 根据槽位数组从头计算空闲空间
func (n *NodePage) ComputeFreeSpace() uint64 {
	if !n.IsLeaf {
		return uint64(BodySize - EdgeSize*len(n.Edges))
	}
	used := 0
	for _, r := range n.Records {
		used += SlotSize + int(r.Size)
	}
	return uint64(BodySize - used)
}

// UsedSpace 叶子中记录占用的字节数(含槽位)
func (n *NodePage) UsedSpace() uint64 {
	return uint64(BodySize) - n.ComputeFreeSpace()
}

// Encode 序列化到4096字节的buff, buff先被清零
func (n *NodePage) Encode(buff []byte) error {
	if len(buff) != PageSize {
		return ErrInvalidBuffer
	}
	util.ZeroBytes(buff, 0, PageSize)

	util.PutUB8(buff, offParentPage, n.ParentPage)
	isLeaf := uint32(0)
	if n.IsLeaf {
		isLeaf = 1
	}
	util.PutUB4(buff, offIsLeaf, isLeaf)
	util.PutUB4(buff, offNumKeys, uint32(n.NumKeys()))
	util.PutInt8(buff, offPageLSN, n.PageLSN)
	util.PutUB8(buff, offFreeSpace, n.FreeSpace)
	util.PutUB8(buff, offSibling, n.Sibling)

	cursor := HeaderSize
	if n.IsLeaf {
		if HeaderSize+SlotSize*len(n.Records) > PageSize {
			return errors.Wrapf(ErrCorruptedNode, "leaf with %d records overflows", len(n.Records))
		}
		for i, r := range n.Records {
			if int(r.Offset) < HeaderSize+SlotSize*len(n.Records) || int(r.Offset)+len(r.Value) > PageSize {
				return errors.Wrapf(ErrCorruptedNode, "record %d (key %d) offset %d size %d out of body", i, r.Key, r.Offset, len(r.Value))
			}
			cursor = util.PutInt8(buff, cursor, r.Key)
			cursor = util.PutUB2(buff, cursor, r.Size)
			cursor = util.PutUB2(buff, cursor, r.Offset)
			cursor = util.PutInt4(buff, cursor, r.TrxID)
			util.PutBytes(buff, int(r.Offset), r.Value)
		}
		return nil
	}

	if len(n.Edges) > EdgeMaxCount {
		return errors.Wrapf(ErrCorruptedNode, "internal node with %d edges overflows", len(n.Edges))
	}
	for _, e := range n.Edges {
		cursor = util.PutInt8(buff, cursor, e.Key)
		cursor = util.PutUB8(buff, cursor, e.Child)
	}
	return nil
}

// DecodeNodePage 反序列化节点页, 记录值会被复制
func DecodeNodePage(buff []byte) (*NodePage, error) {
	if len(buff) != PageSize {
		return nil, ErrInvalidBuffer
	}
	n := &NodePage{}
	_, n.ParentPage = util.ReadUB8(buff, offParentPage)
	_, isLeaf := util.ReadUB4(buff, offIsLeaf)
	_, numKeys := util.ReadUB4(buff, offNumKeys)
	_, n.PageLSN = util.ReadInt8(buff, offPageLSN)
	_, n.FreeSpace = util.ReadUB8(buff, offFreeSpace)
	_, n.Sibling = util.ReadUB8(buff, offSibling)
	if isLeaf > 1 {
		return nil, errors.Wrapf(ErrCorruptedNode, "is_leaf field %d", isLeaf)
	}
	n.IsLeaf = isLeaf == 1

	cursor := HeaderSize
	if n.IsLeaf {
		if int(numKeys) > BodySize/SlotSize {
			return nil, errors.Wrapf(ErrCorruptedNode, "leaf number_of_keys %d", numKeys)
		}
		n.Records = make([]Record, numKeys)
		slotEnd := HeaderSize + SlotSize*int(numKeys)
		for i := range n.Records {
			r := &n.Records[i]
			cursor, r.Key = util.ReadInt8(buff, cursor)
			cursor, r.Size = util.ReadUB2(buff, cursor)
			cursor, r.Offset = util.ReadUB2(buff, cursor)
			cursor, r.TrxID = util.ReadInt4(buff, cursor)
			if int(r.Offset) < slotEnd || int(r.Offset)+int(r.Size) > PageSize {
				return nil, errors.Wrapf(ErrCorruptedNode, "record %d offset %d size %d", i, r.Offset, r.Size)
			}
			r.Value = make([]byte, r.Size)
			copy(r.Value, buff[r.Offset:int(r.Offset)+int(r.Size)])
		}
		return n, nil
	}

	if int(numKeys) > EdgeMaxCount {
		return nil, errors.Wrapf(ErrCorruptedNode, "internal number_of_keys %d", numKeys)
	}
	n.Edges = make([]Edge, numKeys)
	for i := range n.Edges {
		cursor, n.Edges[i].Key = util.ReadInt8(buff, cursor)
		cursor, n.Edges[i].Child = util.ReadUB8(buff, cursor)
	}
	return n, nil
}

// SetParentOf 只改写节点页的父页号字段
func SetParentOf(buff []byte, parent uint64) {
	util.PutUB8(buff, offParentPage, parent)
}

// ParentOf 读取节点页的父页号字段
func ParentOf(buff []byte) uint64 {
	_, parent := util.ReadUB8(buff, offParentPage)
	return parent
}
