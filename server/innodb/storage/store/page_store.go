package store

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	jerrors "github.com/juju/errors"
	"github.com/zhukovaskychina/xkvdb/logger"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/page"
)

// Options page store配置
type Options struct {
	// InitialPages 新建表文件的页数(含头页)
	InitialPages uint64
	// SyncOnWrite 每次写页后fsync
	SyncOnWrite bool
}

func DefaultOptions() Options {
	return Options{InitialPages: page.InitialPageCount}
}

type tableFile struct {
	id   int64
	path string
	file *os.File
	// mu 保护原始分配/释放与扩展
	mu sync.Mutex
}

// PageStore 以页为单位读写表文件, 表文件第0页为头页, 空闲页通过next_free串成链表
type PageStore struct {
	mu          sync.RWMutex
	opts        Options
	tables      map[int64]*tableFile
	pathIndex   map[string]int64
	nextTableID int64
	closed      bool
}

func NewPageStore(opts Options) *PageStore {
	if opts.InitialPages < 2 {
		opts.InitialPages = 2
	}
	return &PageStore{
		opts:        opts,
		tables:      make(map[int64]*tableFile),
		pathIndex:   make(map[string]int64),
		nextTableID: 1,
	}
}

// OpenTable 打开或创建表文件, 同一路径重复打开返回相同的table id
func (s *PageStore) OpenTable(path string) (int64, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, jerrors.Annotatef(err, "resolve %s", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	if id, ok := s.pathIndex[absPath]; ok {
		return id, nil
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return 0, jerrors.Annotatef(err, "create directory for %s", absPath)
	}
	f, err := os.OpenFile(absPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, jerrors.Annotatef(err, "open %s", absPath)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return 0, jerrors.Annotatef(err, "lock %s", absPath)
	}

	tf := &tableFile{id: s.nextTableID, path: absPath, file: f}
	if err := s.validateOrInit(tf); err != nil {
		unlockFile(f)
		f.Close()
		return 0, err
	}

	s.tables[tf.id] = tf
	s.pathIndex[absPath] = tf.id
	s.nextTableID++
	logger.Infof("table %d opened: %s", tf.id, absPath)
	return tf.id, nil
}

func (s *PageStore) validateOrInit(tf *tableFile) error {
	info, err := tf.file.Stat()
	if err != nil {
		return jerrors.Annotatef(err, "stat %s", tf.path)
	}
	if info.Size() == 0 {
		return s.initTableFile(tf)
	}
	if info.Size()%page.PageSize != 0 {
		return jerrors.Annotatef(ErrInvalidTableFile, "%s size %d is not page aligned", tf.path, info.Size())
	}

	buff := make([]byte, page.PageSize)
	if err := readAt(tf, page.HeaderPageNum, buff); err != nil {
		return err
	}
	header := page.DecodeHeaderPage(buff)
	if header.NumPages*page.PageSize != uint64(info.Size()) {
		return jerrors.Annotatef(ErrInvalidTableFile, "%s header num_pages %d does not match size %d",
			tf.path, header.NumPages, info.Size())
	}
	return nil
}

// initTableFile 写入头页并把其余页串成空闲链表
func (s *PageStore) initTableFile(tf *tableFile) error {
	num := s.opts.InitialPages
	buff := make([]byte, page.PageSize)
	err := page.ExtendLinks(1, num, func(pg, next uint64) error {
		page.EncodeFreePage(buff, next)
		return writeAt(tf, pg, buff)
	})
	if err != nil {
		return err
	}

	hbuf := make([]byte, page.PageSize)
	page.HeaderPage{NextFreePage: 1, NumPages: num}.EncodeTo(hbuf)
	if err := writeAt(tf, page.HeaderPageNum, hbuf); err != nil {
		return err
	}
	logger.Debugf("table file %s initialized with %d pages", tf.path, num)
	return syncFile(tf.file)
}

func (s *PageStore) table(tableID int64) (*tableFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	tf, ok := s.tables[tableID]
	if !ok {
		return nil, jerrors.Annotatef(ErrTableNotOpen, "table %d", tableID)
	}
	return tf, nil
}

func readAt(tf *tableFile, pageNum uint64, buff []byte) error {
	n, err := tf.file.ReadAt(buff[:page.PageSize], int64(pageNum)*page.PageSize)
	if err != nil {
		return jerrors.Annotatef(err, "read page %d of %s", pageNum, tf.path)
	}
	if n != page.PageSize {
		return jerrors.Annotatef(ErrShortIO, "read page %d of %s: %d bytes", pageNum, tf.path, n)
	}
	return nil
}

func writeAt(tf *tableFile, pageNum uint64, buff []byte) error {
	n, err := tf.file.WriteAt(buff[:page.PageSize], int64(pageNum)*page.PageSize)
	if err != nil {
		return jerrors.Annotatef(err, "write page %d of %s", pageNum, tf.path)
	}
	if n != page.PageSize {
		return jerrors.Annotatef(ErrShortIO, "write page %d of %s: %d bytes", pageNum, tf.path, n)
	}
	return nil
}

// ReadPage 读取一页到buff(长度必须为PageSize)
func (s *PageStore) ReadPage(tableID int64, pageNum uint64, buff []byte) error {
	tf, err := s.table(tableID)
	if err != nil {
		return err
	}
	return readAt(tf, pageNum, buff)
}

// WritePage 将buff写入指定页
func (s *PageStore) WritePage(tableID int64, pageNum uint64, buff []byte) error {
	tf, err := s.table(tableID)
	if err != nil {
		return err
	}
	if err := writeAt(tf, pageNum, buff); err != nil {
		return err
	}
	if s.opts.SyncOnWrite {
		return jerrors.Trace(syncFile(tf.file))
	}
	return nil
}

// ExtendFile 文件从oldNum页扩展到newNum页, 新页串成以oldNum开头、以0结尾的空闲链表.
// 头页的更新由调用方负责.
func (s *PageStore) ExtendFile(tableID int64, oldNum, newNum uint64) error {
	tf, err := s.table(tableID)
	if err != nil {
		return err
	}
	buff := make([]byte, page.PageSize)
	err = page.ExtendLinks(oldNum, newNum, func(pg, next uint64) error {
		page.EncodeFreePage(buff, next)
		return writeAt(tf, pg, buff)
	})
	if err != nil {
		return err
	}
	logger.Debugf("table %d extended from %d to %d pages", tableID, oldNum, newNum)
	return nil
}

// AllocPage 直接在磁盘头页上分配一个空闲页, 空闲链表耗尽时文件容量翻倍.
// 引擎运行时经由缓冲池的同名方法分配, 该方法用于未接入缓冲池的工具场景.
func (s *PageStore) AllocPage(tableID int64) (uint64, error) {
	tf, err := s.table(tableID)
	if err != nil {
		return 0, err
	}
	tf.mu.Lock()
	defer tf.mu.Unlock()

	hbuf := make([]byte, page.PageSize)
	if err := readAt(tf, page.HeaderPageNum, hbuf); err != nil {
		return 0, err
	}
	header := page.DecodeHeaderPage(hbuf)
	if header.NextFreePage == 0 {
		if err := s.ExtendFile(tableID, header.NumPages, header.NumPages*2); err != nil {
			return 0, err
		}
		header.NextFreePage = header.NumPages
		header.NumPages *= 2
	}

	allocated := header.NextFreePage
	pbuf := make([]byte, page.PageSize)
	if err := readAt(tf, allocated, pbuf); err != nil {
		return 0, err
	}
	header.NextFreePage = page.NextFreeOf(pbuf)
	header.EncodeTo(hbuf)
	if err := writeAt(tf, page.HeaderPageNum, hbuf); err != nil {
		return 0, err
	}
	return allocated, nil
}

// FreePage 将页面放回空闲链表头部
func (s *PageStore) FreePage(tableID int64, pageNum uint64) error {
	tf, err := s.table(tableID)
	if err != nil {
		return err
	}
	tf.mu.Lock()
	defer tf.mu.Unlock()

	hbuf := make([]byte, page.PageSize)
	if err := readAt(tf, page.HeaderPageNum, hbuf); err != nil {
		return err
	}
	header := page.DecodeHeaderPage(hbuf)
	if pageNum == page.HeaderPageNum || pageNum >= header.NumPages {
		return jerrors.Annotatef(ErrPageOutOfRange, "free page %d of table %d", pageNum, tableID)
	}

	pbuf := make([]byte, page.PageSize)
	page.EncodeFreePage(pbuf, header.NextFreePage)
	if err := writeAt(tf, pageNum, pbuf); err != nil {
		return err
	}
	header.NextFreePage = pageNum
	header.EncodeTo(hbuf)
	return writeAt(tf, page.HeaderPageNum, hbuf)
}

// Sync fsync表文件
func (s *PageStore) Sync(tableID int64) error {
	tf, err := s.table(tableID)
	if err != nil {
		return err
	}
	return jerrors.Trace(syncFile(tf.file))
}

// TableIDs 已打开的表
func (s *PageStore) TableIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.tables))
	for id := range s.tables {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Path 表文件的绝对路径
func (s *PageStore) Path(tableID int64) (string, error) {
	tf, err := s.table(tableID)
	if err != nil {
		return "", err
	}
	return tf.path, nil
}

// CloseAll 同步并关闭所有表文件
func (s *PageStore) CloseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	var firstErr error
	for id, tf := range s.tables {
		if err := syncFile(tf.file); err != nil && firstErr == nil {
			firstErr = jerrors.Annotatef(err, "sync table %d", id)
		}
		unlockFile(tf.file)
		if err := tf.file.Close(); err != nil && firstErr == nil {
			firstErr = jerrors.Annotatef(err, "close table %d", id)
		}
	}
	s.tables = make(map[int64]*tableFile)
	s.pathIndex = make(map[string]int64)
	s.closed = true
	return firstErr
}
