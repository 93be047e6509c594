package util

import (
	"math/rand"
	"sync"
	"time"
)

var (
	seedBytes = []byte{'1', '2', '3', '4', '5', '6', '7', '8', '9', '0', 'q', 'w', 'e', 'r', 't',
		'y', 'u', 'i', 'o', 'p', 'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', 'z', 'x', 'c', 'v', 'b', 'n', 'm',
		'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', 'A', 'S', 'D', 'F', 'G', 'H', 'J', 'K', 'L', 'Z', 'X',
		'C', 'V', 'B', 'N', 'M'}

	randMu = sync.Mutex{}
	rnd    = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// RandomBytes 生成size个可打印字符
func RandomBytes(size int) []byte {
	randMu.Lock()
	defer randMu.Unlock()

	result := make([]byte, size)
	for i := 0; i < size; i++ {
		result[i] = seedBytes[rnd.Intn(len(seedBytes))]
	}
	return result
}

// RandomInt 返回[min, max]之间的随机数
func RandomInt(min int, max int) int {
	randMu.Lock()
	defer randMu.Unlock()
	return min + rnd.Intn(max-min+1)
}
