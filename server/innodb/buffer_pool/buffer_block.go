package buffer_pool

import (
	"fmt"

	"github.com/zhukovaskychina/xkvdb/server/innodb/latch"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/page"
)

// PageKey 缓冲池中页面的唯一标识
type PageKey struct {
	TableID int64
	PageNum uint64
}

func (k PageKey) String() string {
	return fmt.Sprintf("(%d,%d)", k.TableID, k.PageNum)
}

// 淘汰优先级分区
const (
	priorityCold   = 0 // 可淘汰
	priorityPinned = 1 // 被引用, 不可淘汰
	priorityRecent = 2 // 刚解除引用
	priorityCount  = 3
)

// BufferBlock 缓冲帧: 页面数据、脏标记、引用计数与帧latch
type BufferBlock struct {
	frameID  int
	key      PageKey
	inUse    bool
	dirty    bool
	pinCount int32
	data     []byte
	latch    *latch.Latch
}

func newBufferBlock(frameID int) *BufferBlock {
	return &BufferBlock{
		frameID: frameID,
		data:    make([]byte, page.PageSize),
		latch:   latch.NewLatch(),
	}
}

// Data 页面内容, 仅在持有帧latch期间有效
func (b *BufferBlock) Data() []byte {
	return b.data
}

func (b *BufferBlock) Key() PageKey {
	return b.key
}

func (b *BufferBlock) FrameID() int {
	return b.frameID
}

// IsDirty 是否有未刷盘的修改
func (b *BufferBlock) IsDirty() bool {
	return b.dirty
}

// FrameInfo 帧状态快照
type FrameInfo struct {
	FrameID  int
	Key      PageKey
	Dirty    bool
	PinCount int32
	Priority int
}

// IsPinned 帧是否处于被引用分区
func (f FrameInfo) IsPinned() bool {
	return f.Priority == priorityPinned
}

// IsCold 帧是否可被淘汰
func (f FrameInfo) IsCold() bool {
	return f.Priority == priorityCold
}
