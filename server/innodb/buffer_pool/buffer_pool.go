package buffer_pool

import (
	"fmt"
	"sync"

	jerrors "github.com/juju/errors"
	"github.com/zhukovaskychina/xkvdb/logger"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/page"
	"github.com/zhukovaskychina/xkvdb/util"
)

// PageStore 缓冲池下层的页面读写接口
type PageStore interface {
	ReadPage(tableID int64, pageNum uint64, buff []byte) error
	WritePage(tableID int64, pageNum uint64, buff []byte) error
	ExtendFile(tableID int64, oldNum, newNum uint64) error
}

// BufferPoolConfig 缓冲池配置
type BufferPoolConfig struct {
	NumFrames    int  // 帧数量
	PageChecksum bool // 刷盘时写入校验和, 加载时校验
	RecentLimit  int  // recent分区的最大长度, 超出部分降级为cold
}

// BufferPool 固定帧数的页面缓存.
//
// 全局互斥锁mu保护页表与两条链表; 帧latch在释放mu之后获取.
// 淘汰只发生在引用计数为0的帧上, 此时帧latch必然空闲.
type BufferPool struct {
	mu sync.Mutex

	config    BufferPoolConfig
	store     PageStore
	frames    []*BufferBlock
	pageTable map[PageKey]int
	allocated int

	// lru 全部帧的访问顺序, evict 按淘汰优先级分区
	lru   *frameList
	evict *frameList

	stats  *BufferPoolStats
	closed bool

	// FatalHandler 处理不可恢复错误, 默认终止进程
	FatalHandler func(format string, args ...interface{})
}

// NewBufferPool 创建缓冲池
func NewBufferPool(config BufferPoolConfig, store PageStore) (*BufferPool, error) {
	if config.NumFrames <= 0 {
		return nil, NewError("new", ErrInvalidConfig)
	}
	if store == nil {
		return nil, NewError("new", fmt.Errorf("%w: nil page store", ErrInvalidConfig))
	}
	if config.RecentLimit <= 0 {
		config.RecentLimit = config.NumFrames / 4
		if config.RecentLimit == 0 {
			config.RecentLimit = 1
		}
	}
	bp := &BufferPool{
		config:       config,
		store:        store,
		frames:       make([]*BufferBlock, config.NumFrames),
		pageTable:    make(map[PageKey]int, config.NumFrames),
		lru:          newFrameList(config.NumFrames, 1),
		evict:        newFrameList(config.NumFrames, priorityCount),
		stats:        NewBufferPoolStats(),
		FatalHandler: logger.Fatalf,
	}
	logger.Infof("buffer pool initialized with %d frames, checksum=%v", config.NumFrames, config.PageChecksum)
	return bp, nil
}

func (bp *BufferPool) fatal(op string, err error) error {
	e := NewError(op, err)
	if bp.FatalHandler != nil {
		bp.FatalHandler("buffer pool fatal: %v\n%s", e, jerrors.ErrorStack(err))
	}
	return e
}

func ioError(err error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %v", ErrIOError, fmt.Sprintf(format, args...), err)
}

// GetPage 引用并加载页面, 返回时已持有帧latch
func (bp *BufferPool) GetPage(tableID int64, pageNum uint64) (*BufferBlock, error) {
	return bp.fetch(PageKey{TableID: tableID, PageNum: pageNum}, true)
}

// PinPage 引用页面但不从磁盘加载, 未缓存时帧内容为全零. 用于整页覆盖的场景.
func (bp *BufferPool) PinPage(tableID int64, pageNum uint64) (*BufferBlock, error) {
	return bp.fetch(PageKey{TableID: tableID, PageNum: pageNum}, false)
}

func (bp *BufferPool) fetch(key PageKey, load bool) (*BufferBlock, error) {
	bp.mu.Lock()
	if bp.closed {
		bp.mu.Unlock()
		return nil, NewError("fetch", ErrClosed)
	}
	blk, err := bp.pinLocked(key, load)
	bp.mu.Unlock()
	if err != nil {
		return nil, err
	}
	blk.latch.Lock()
	return blk, nil
}

// pinLocked 调用方持有mu.
// 换出脏帧的写盘和新页的读盘都在mu内完成, 期间其他页的引用也会等待.
// 帧数足够时这只发生在未命中路径上.
func (bp *BufferPool) pinLocked(key PageKey, load bool) (*BufferBlock, error) {
	if idx, ok := bp.pageTable[key]; ok {
		bp.stats.RecordPageRequest(true)
		blk := bp.frames[idx]
		blk.pinCount++
		bp.evict.touch(idx, priorityPinned)
		bp.lru.touch(idx, 0)
		return blk, nil
	}
	bp.stats.RecordPageRequest(false)

	idx, err := bp.victimLocked()
	if err != nil {
		return nil, err
	}
	blk := bp.frames[idx]
	if blk.inUse {
		if blk.dirty {
			if err := bp.writeFrame(blk); err != nil {
				bp.evict.touch(idx, priorityCold)
				return nil, bp.fatal("evict", err)
			}
		}
		delete(bp.pageTable, blk.key)
		bp.stats.RecordEviction()
		logger.Debugf("buffer pool evicted page %v from frame %d", blk.key, idx)
	}

	blk.key = key
	blk.dirty = false
	blk.inUse = false
	if load {
		if err := bp.readFrame(blk); err != nil {
			bp.evict.touch(idx, priorityCold)
			return nil, bp.fatal("load", err)
		}
	} else {
		util.ZeroBytes(blk.data, 0, page.PageSize)
	}
	blk.inUse = true
	blk.pinCount = 1
	bp.pageTable[key] = idx
	bp.evict.touch(idx, priorityPinned)
	bp.lru.touch(idx, 0)
	return blk, nil
}

// victimLocked 选出一个可用的帧: 先用未分配的帧, 然后是最久的cold帧, 再是最久的recent帧
func (bp *BufferPool) victimLocked() (int, error) {
	if bp.allocated < bp.config.NumFrames {
		idx := bp.allocated
		bp.frames[idx] = newBufferBlock(idx)
		bp.allocated++
		return idx, nil
	}
	if idx := bp.evict.oldestOf(priorityCold); idx != nilFrame {
		return idx, nil
	}
	if idx := bp.evict.oldestOf(priorityRecent); idx != nilFrame {
		return idx, nil
	}
	return nilFrame, bp.fatal("victim", ErrBufferPoolFull)
}

func (bp *BufferPool) readFrame(blk *BufferBlock) error {
	if err := bp.store.ReadPage(blk.key.TableID, blk.key.PageNum, blk.data); err != nil {
		return ioError(err, "read page %v", blk.key)
	}
	bp.stats.RecordPageIO(true)
	if bp.config.PageChecksum {
		_, stored := util.ReadUB8(blk.data, page.ChecksumOffset)
		if stored != 0 {
			actual := util.Checksum(blk.data, page.ChecksumOffset, page.ChecksumSize)
			if actual != stored {
				return fmt.Errorf("%w: page %v stored %x computed %x", ErrPageCorrupted, blk.key, stored, actual)
			}
		}
	}
	return nil
}

// writeFrame 调用方持有帧latch或帧未被引用
func (bp *BufferPool) writeFrame(blk *BufferBlock) error {
	if bp.config.PageChecksum {
		util.ZeroBytes(blk.data, page.ChecksumOffset, page.ChecksumSize)
		util.PutUB8(blk.data, page.ChecksumOffset, util.Checksum(blk.data, page.ChecksumOffset, page.ChecksumSize))
	} else {
		util.ZeroBytes(blk.data, page.ChecksumOffset, page.ChecksumSize)
	}
	if err := bp.store.WritePage(blk.key.TableID, blk.key.PageNum, blk.data); err != nil {
		bp.stats.RecordFlush(false)
		return ioError(err, "write page %v", blk.key)
	}
	bp.stats.RecordPageIO(false)
	bp.stats.RecordFlush(true)
	blk.dirty = false
	return nil
}

// SetDirty 标记帧为脏, unpin为true时同时释放引用
func (bp *BufferPool) SetDirty(blk *BufferBlock, unpin bool) {
	blk.dirty = true
	if unpin {
		bp.UnpinPage(blk)
	}
}

// UnpinPage 释放帧latch并减少引用计数, 计数归零时帧进入recent分区
func (bp *BufferPool) UnpinPage(blk *BufferBlock) {
	blk.latch.Unlock()

	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.unpinLocked(blk)
}

func (bp *BufferPool) unpinLocked(blk *BufferBlock) {
	if blk.pinCount <= 0 {
		logger.Warnf("unpin of unreferenced frame %d page %v", blk.frameID, blk.key)
		return
	}
	blk.pinCount--
	if blk.pinCount > 0 {
		return
	}
	bp.evict.touch(blk.frameID, priorityRecent)
	for bp.evict.lenOf(priorityRecent) > bp.config.RecentLimit {
		bp.evict.touch(bp.evict.oldestOf(priorityRecent), priorityCold)
	}
}

func (bp *BufferPool) readHeader(tableID int64) (page.HeaderPage, error) {
	hdr, err := bp.GetPage(tableID, page.HeaderPageNum)
	if err != nil {
		return page.HeaderPage{}, err
	}
	header := page.DecodeHeaderPage(hdr.data)
	bp.UnpinPage(hdr)
	return header, nil
}

// AllocPage 从头页的空闲链表取出一页, 链表为空时文件容量翻倍.
// 分配出的页面在缓冲池中被清零并标记为脏.
func (bp *BufferPool) AllocPage(tableID int64) (uint64, error) {
	hdr, err := bp.GetPage(tableID, page.HeaderPageNum)
	if err != nil {
		return 0, err
	}
	header := page.DecodeHeaderPage(hdr.data)
	if header.NextFreePage == 0 {
		if err := bp.store.ExtendFile(tableID, header.NumPages, header.NumPages*2); err != nil {
			bp.UnpinPage(hdr)
			return 0, bp.fatal("alloc", ioError(err, "extend table %d", tableID))
		}
		header.NextFreePage = header.NumPages
		header.NumPages *= 2
		header.EncodeTo(hdr.data)
		hdr.dirty = true
	}

	pageNum := header.NextFreePage
	blk, err := bp.GetPage(tableID, pageNum)
	if err != nil {
		bp.SetDirty(hdr, true)
		return 0, err
	}
	header.NextFreePage = page.NextFreeOf(blk.data)
	util.ZeroBytes(blk.data, 0, page.PageSize)
	bp.SetDirty(blk, true)

	header.EncodeTo(hdr.data)
	bp.SetDirty(hdr, true)
	return pageNum, nil
}

// FreePage 将页面放回空闲链表头部
func (bp *BufferPool) FreePage(tableID int64, pageNum uint64) error {
	hdr, err := bp.GetPage(tableID, page.HeaderPageNum)
	if err != nil {
		return err
	}
	header := page.DecodeHeaderPage(hdr.data)
	if pageNum == page.HeaderPageNum || pageNum >= header.NumPages {
		bp.UnpinPage(hdr)
		return NewError("free", fmt.Errorf("%w: page %d of table %d", ErrInvalidPage, pageNum, tableID))
	}

	blk, err := bp.PinPage(tableID, pageNum)
	if err != nil {
		bp.UnpinPage(hdr)
		return err
	}
	page.EncodeFreePage(blk.data, header.NextFreePage)
	bp.SetDirty(blk, true)

	header.NextFreePage = pageNum
	header.EncodeTo(hdr.data)
	bp.SetDirty(hdr, true)
	return nil
}

// IsValidPage 页号是否落在[1, num_pages)内
func (bp *BufferPool) IsValidPage(tableID int64, pageNum uint64) (bool, error) {
	header, err := bp.readHeader(tableID)
	if err != nil {
		return false, err
	}
	return pageNum != page.HeaderPageNum && pageNum < header.NumPages, nil
}

// RootPage 头页记录的根页号, 0表示空树
func (bp *BufferPool) RootPage(tableID int64) (uint64, error) {
	header, err := bp.readHeader(tableID)
	if err != nil {
		return 0, err
	}
	return header.RootPage, nil
}

func (bp *BufferPool) SetRootPage(tableID int64, root uint64) error {
	hdr, err := bp.GetPage(tableID, page.HeaderPageNum)
	if err != nil {
		return err
	}
	header := page.DecodeHeaderPage(hdr.data)
	header.RootPage = root
	header.EncodeTo(hdr.data)
	bp.SetDirty(hdr, true)
	return nil
}

func (bp *BufferPool) NumPages(tableID int64) (uint64, error) {
	header, err := bp.readHeader(tableID)
	if err != nil {
		return 0, err
	}
	return header.NumPages, nil
}

// FlushAll 将所有脏帧写回磁盘
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	dirty := make([]*BufferBlock, 0)
	for i := 0; i < bp.allocated; i++ {
		blk := bp.frames[i]
		if blk.inUse && blk.dirty {
			blk.pinCount++
			bp.evict.touch(i, priorityPinned)
			dirty = append(dirty, blk)
		}
	}
	bp.mu.Unlock()

	var firstErr error
	for _, blk := range dirty {
		blk.latch.Lock()
		if blk.dirty {
			if err := bp.writeFrame(blk); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		bp.UnpinPage(blk)
	}
	if firstErr != nil {
		return bp.fatal("flush", firstErr)
	}
	logger.Debugf("buffer pool flushed %d dirty frames", len(dirty))
	return nil
}

// Close 刷写所有脏帧, 之后缓冲池不可再用
func (bp *BufferPool) Close() error {
	if err := bp.FlushAll(); err != nil {
		return err
	}
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.closed = true
	s := bp.stats.Snapshot()
	logger.Infof("buffer pool closed: requests=%d hits=%d evictions=%d writes=%d",
		s.PageRequests, s.PageHits, s.PageEvictions, s.PageWrites)
	return nil
}

// Stats 统计信息快照
func (bp *BufferPool) Stats() BufferPoolStats {
	return bp.stats.Snapshot()
}

// ResetStats 清空统计
func (bp *BufferPool) ResetStats() {
	bp.stats.Reset()
}

// Frames 按最久到最近访问的顺序返回已装载帧的快照
func (bp *BufferPool) Frames() []FrameInfo {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	infos := make([]FrameInfo, 0, bp.allocated)
	bp.lru.walk(0, func(idx int) bool {
		blk := bp.frames[idx]
		if blk.inUse {
			infos = append(infos, FrameInfo{
				FrameID:  idx,
				Key:      blk.key,
				Dirty:    blk.dirty,
				PinCount: blk.pinCount,
				Priority: bp.evict.partitionOf(idx),
			})
		}
		return true
	})
	return infos
}

// NumFrames 帧数量
func (bp *BufferPool) NumFrames() int {
	return bp.config.NumFrames
}
