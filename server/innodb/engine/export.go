package engine

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	jerrors "github.com/juju/errors"
	"github.com/pierrec/lz4/v4"
	"github.com/zhukovaskychina/xkvdb/logger"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/page"
	"github.com/zhukovaskychina/xkvdb/util"
)

// 导出文件格式: 8字节头(magic 4, version 1, codec 1, 保留 2), 之后为按codec压缩的记录流,
// 每条记录为 key(8) | len(2) | value
const (
	dumpMagic      = "XKVD"
	dumpVersion    = 1
	dumpHeaderSize = 8
	dumpRecordHead = 8 + 2
)

// Compression 导出流的压缩方式
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	}
	return fmt.Sprintf("Compression(%d)", uint8(c))
}

// ParseCompression 解析配置中的压缩方式, 空串为snappy
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "snappy":
		return CompressionSnappy, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none", "raw":
		return CompressionNone, nil
	}
	return 0, fmt.Errorf("unknown compression %q", name)
}

// nopCloser 未压缩时的写端
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func compressWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopCloser{w}, nil
	case CompressionSnappy:
		return snappy.NewBufferedWriter(w), nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	}
	return nil, fmt.Errorf("unknown compression %d", c)
}

func decompressReader(r io.Reader, c Compression) (io.Reader, error) {
	switch c {
	case CompressionNone:
		return r, nil
	case CompressionSnappy:
		return snappy.NewReader(r), nil
	case CompressionLZ4:
		return lz4.NewReader(r), nil
	}
	return nil, fmt.Errorf("unknown compression %d", c)
}

// Export 按键升序把表导出到w, 返回导出的记录数
func (e *Engine) Export(tableID int64, w io.Writer, c Compression) (int, error) {
	tree, err := e.tree("export", tableID)
	if err != nil {
		return 0, err
	}

	header := make([]byte, dumpHeaderSize)
	cursor := util.PutBytes(header, 0, []byte(dumpMagic))
	header[cursor] = dumpVersion
	header[cursor+1] = byte(c)
	if _, err := w.Write(header); err != nil {
		return 0, newError("export", ErrInvalidArgument, jerrors.Annotate(err, "write dump header"))
	}

	cw, err := compressWriter(w, c)
	if err != nil {
		return 0, newError("export", ErrInvalidArgument, err)
	}
	bw := bufio.NewWriter(cw)

	count := 0
	var writeErr error
	buff := make([]byte, dumpRecordHead+page.ValueMaxSize)
	scanErr := tree.Scan(func(rec page.Record) bool {
		n := util.PutInt8(buff, 0, rec.Key)
		n = util.PutUB2(buff, n, uint16(len(rec.Value)))
		n = util.PutBytes(buff, n, rec.Value)
		if _, writeErr = bw.Write(buff[:n]); writeErr != nil {
			return false
		}
		count++
		return true
	})
	if scanErr != nil {
		return count, classify("export", scanErr)
	}
	if writeErr != nil {
		return count, newError("export", ErrInvalidArgument, jerrors.Annotatef(writeErr, "write record %d", count))
	}
	if err := bw.Flush(); err != nil {
		return count, newError("export", ErrInvalidArgument, jerrors.Trace(err))
	}
	if err := cw.Close(); err != nil {
		return count, newError("export", ErrInvalidArgument, jerrors.Trace(err))
	}
	logger.Infof("exported %d records of table %d (%s)", count, tableID, c)
	return count, nil
}

// Import 读取Export生成的流并插入表中, 返回插入的记录数. 遇到已存在的键时停止并返回ErrDuplicate
func (e *Engine) Import(tableID int64, r io.Reader) (int, error) {
	tree, err := e.tree("import", tableID)
	if err != nil {
		return 0, err
	}

	header := make([]byte, dumpHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, newError("import", ErrInvalidArgument, jerrors.Annotate(err, "read dump header"))
	}
	_, magic := util.ReadBytes(header, 0, len(dumpMagic))
	if string(magic) != dumpMagic || header[4] != dumpVersion {
		return 0, newError("import", ErrInvalidArgument, fmt.Errorf("not a dump stream"))
	}
	c := Compression(header[5])
	dr, err := decompressReader(r, c)
	if err != nil {
		return 0, newError("import", ErrInvalidArgument, err)
	}
	br := bufio.NewReader(dr)

	count := 0
	head := make([]byte, dumpRecordHead)
	for {
		if _, err := io.ReadFull(br, head); err != nil {
			if err == io.EOF {
				break
			}
			return count, newError("import", ErrInvalidArgument, jerrors.Annotatef(err, "read record %d", count))
		}
		cursor, key := util.ReadInt8(head, 0)
		_, size := util.ReadUB2(head, cursor)
		if size < page.ValueMinSize || size > page.ValueMaxSize {
			return count, newError("import", ErrInvalidArgument, fmt.Errorf("record %d: value size %d", count, size))
		}
		value := make([]byte, size)
		if _, err := io.ReadFull(br, value); err != nil {
			return count, newError("import", ErrInvalidArgument, jerrors.Annotatef(err, "read record %d", count))
		}
		if err := tree.Insert(key, value); err != nil {
			return count, classify("import", err)
		}
		count++
	}
	logger.Infof("imported %d records into table %d (%s)", count, tableID, c)
	return count, nil
}
