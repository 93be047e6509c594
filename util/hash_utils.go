package util

import (
	"github.com/OneOfOne/xxhash"
)

// 将一个键进行Hash
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// Checksum 计算页面校验和, 跳过[skipFrom, skipFrom+skipLen)区间(校验和字段本身).
// 返回值不会为0, 0保留给"未写入校验和"的页面.
func Checksum(page []byte, skipFrom int, skipLen int) uint64 {
	h := xxhash.New64()
	h.Write(page[:skipFrom])
	h.Write(page[skipFrom+skipLen:])
	sum := h.Sum64()
	if sum == 0 {
		sum = 1
	}
	return sum
}
