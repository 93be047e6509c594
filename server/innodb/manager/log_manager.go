package manager

import (
	"fmt"
	"sync"
	"time"
)

// LogType 日志记录类型
type LogType uint8

const (
	LOG_TYPE_BEGIN LogType = iota
	LOG_TYPE_UPDATE
	LOG_TYPE_COMMIT
	LOG_TYPE_ROLLBACK
	LOG_TYPE_COMPENSATE // 补偿日志
)

func (t LogType) String() string {
	switch t {
	case LOG_TYPE_BEGIN:
		return "BEGIN"
	case LOG_TYPE_UPDATE:
		return "UPDATE"
	case LOG_TYPE_COMMIT:
		return "COMMIT"
	case LOG_TYPE_ROLLBACK:
		return "ROLLBACK"
	case LOG_TYPE_COMPENSATE:
		return "COMPENSATE"
	}
	return fmt.Sprintf("LogType(%d)", uint8(t))
}

// 日志记录的序列化长度, LSN按该长度递增
const (
	logBaseSize       = 8 + 8 + 8 + 4 + 4 // size, lsn, prev_lsn, trx_id, type
	logUpdateSize     = 8 + 8 + 2 + 2     // table_id, page_num, offset, length
	logCompensateSize = 8                 // next_undo_lsn
)

// LogRecord 一条日志记录
type LogRecord struct {
	LSN     int64
	PrevLSN int64 // 同一事务的上一条记录, 没有时为-1
	TrxID   int32
	Type    LogType

	// UPDATE / COMPENSATE
	TableID  int64
	PageNum  uint64
	Key      int64
	Offset   uint16
	OldImage []byte
	NewImage []byte

	// COMPENSATE: 下一条待撤销的UPDATE记录
	NextUndoLSN int64

	Timestamp time.Time
}

// Size 记录的序列化长度
func (r *LogRecord) Size() int64 {
	switch r.Type {
	case LOG_TYPE_UPDATE:
		return logBaseSize + logUpdateSize + int64(2*len(r.NewImage))
	case LOG_TYPE_COMPENSATE:
		return logBaseSize + logUpdateSize + int64(2*len(r.NewImage)) + logCompensateSize
	}
	return logBaseSize
}

// LogManager 内存日志缓冲. 只记录事务活动, 不落盘也不参与恢复.
type LogManager struct {
	mu      sync.Mutex
	records []LogRecord
	nextLSN int64
	lastLSN map[int32]int64
}

func NewLogManager() *LogManager {
	return &LogManager{lastLSN: make(map[int32]int64)}
}

// Append 分配LSN并追加记录, 返回记录的LSN
func (lm *LogManager) Append(rec LogRecord) (int64, error) {
	if rec.Type > LOG_TYPE_COMPENSATE {
		return -1, ErrInvalidLogType
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()

	rec.LSN = lm.nextLSN
	lm.nextLSN += rec.Size()
	if prev, ok := lm.lastLSN[rec.TrxID]; ok {
		rec.PrevLSN = prev
	} else {
		rec.PrevLSN = -1
	}
	if rec.Type == LOG_TYPE_COMMIT || rec.Type == LOG_TYPE_ROLLBACK {
		delete(lm.lastLSN, rec.TrxID)
	} else {
		lm.lastLSN[rec.TrxID] = rec.LSN
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	lm.records = append(lm.records, rec)
	return rec.LSN, nil
}

// LogBegin 事务开始
func (lm *LogManager) LogBegin(trxID int32) (int64, error) {
	return lm.Append(LogRecord{TrxID: trxID, Type: LOG_TYPE_BEGIN})
}

// LogUpdate 记录一次更新的前后镜像
func (lm *LogManager) LogUpdate(trxID int32, tableID int64, pageNum uint64, key int64, offset uint16, oldImage, newImage []byte) (int64, error) {
	return lm.Append(LogRecord{
		TrxID:    trxID,
		Type:     LOG_TYPE_UPDATE,
		TableID:  tableID,
		PageNum:  pageNum,
		Key:      key,
		Offset:   offset,
		OldImage: append([]byte(nil), oldImage...),
		NewImage: append([]byte(nil), newImage...),
	})
}

// LogCompensate 撤销一次更新. 新镜像为恢复后的值
func (lm *LogManager) LogCompensate(trxID int32, tableID int64, pageNum uint64, key int64, offset uint16,
	oldImage, newImage []byte, nextUndoLSN int64) (int64, error) {
	return lm.Append(LogRecord{
		TrxID:       trxID,
		Type:        LOG_TYPE_COMPENSATE,
		TableID:     tableID,
		PageNum:     pageNum,
		Key:         key,
		Offset:      offset,
		OldImage:    append([]byte(nil), oldImage...),
		NewImage:    append([]byte(nil), newImage...),
		NextUndoLSN: nextUndoLSN,
	})
}

func (lm *LogManager) LogCommit(trxID int32) (int64, error) {
	return lm.Append(LogRecord{TrxID: trxID, Type: LOG_TYPE_COMMIT})
}

func (lm *LogManager) LogRollback(trxID int32) (int64, error) {
	return lm.Append(LogRecord{TrxID: trxID, Type: LOG_TYPE_ROLLBACK})
}

// Records 缓冲区中全部记录的副本
func (lm *LogManager) Records() []LogRecord {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return append([]LogRecord(nil), lm.records...)
}

// RecordsOf 某个事务的记录, 按LSN升序
func (lm *LogManager) RecordsOf(trxID int32) []LogRecord {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	var out []LogRecord
	for _, r := range lm.records {
		if r.TrxID == trxID {
			out = append(out, r)
		}
	}
	return out
}

// NextLSN 下一条记录将分配的LSN
func (lm *LogManager) NextLSN() int64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.nextLSN
}

// LastLSN 最后一条记录的LSN, 缓冲区为空时为-1
func (lm *LogManager) LastLSN() int64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if len(lm.records) == 0 {
		return -1
	}
	return lm.records[len(lm.records)-1].LSN
}

// Truncate 丢弃LSN小于upTo的记录, 返回丢弃的条数
func (lm *LogManager) Truncate(upTo int64) int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	n := 0
	for n < len(lm.records) && lm.records[n].LSN < upTo {
		n++
	}
	lm.records = append([]LogRecord(nil), lm.records[n:]...)
	return n
}

func (lm *LogManager) Len() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.records)
}
