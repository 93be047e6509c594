package btree

import (
	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/page"
)

var (
	ErrKeyNotFound       = errors.New("key not found")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrInvalidValueSize  = errors.New("value size out of range")
	ErrValueSizeMismatch = errors.New("update value size differs from stored value")

	// ErrCorruptedNode 节点结构与树不一致
	ErrCorruptedNode = page.ErrCorruptedNode
)

// IsKeyNotFound 检查是否为键不存在
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsDuplicateKey 检查是否为重复键
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// ValidValueSize value长度是否在[ValueMinSize, ValueMaxSize]内
func ValidValueSize(value []byte) bool {
	return len(value) >= page.ValueMinSize && len(value) <= page.ValueMaxSize
}
