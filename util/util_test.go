package util

import (
	"testing"

	"github.com/smartystreets/assertions"
	"github.com/stretchr/testify/assert"
)

func TestBufferReadWrite(t *testing.T) {
	buff := make([]byte, 32)

	cursor := PutUB8(buff, 0, 0x0102030405060708)
	cursor = PutInt4(buff, cursor, -7)
	cursor = PutUB2(buff, cursor, 4096)
	assert.Equal(t, 14, cursor)

	cursor, v8 := ReadUB8(buff, 0)
	assert.Equal(t, uint64(0x0102030405060708), v8)
	assert.Equal(t, byte(0x08), buff[0])

	cursor, v4 := ReadInt4(buff, cursor)
	assert.Equal(t, int32(-7), v4)

	_, v2 := ReadUB2(buff, cursor)
	assert.Equal(t, uint16(4096), v2)

	ZeroBytes(buff, 0, 8)
	_, v8 = ReadUB8(buff, 0)
	assert.Equal(t, "", assertions.ShouldEqual(v8, uint64(0)))
}

func TestChecksumSkipsField(t *testing.T) {
	page := RandomBytes(4096)
	sum := Checksum(page, 104, 8)

	PutUB8(page, 104, sum)
	assert.Equal(t, sum, Checksum(page, 104, 8))

	page[0] ^= 0xFF
	assert.NotEqual(t, sum, Checksum(page, 104, 8))
}

func TestRandomBytes(t *testing.T) {
	for i := 0; i < 100; i++ {
		n := RandomInt(46, 108)
		assert.True(t, n >= 46 && n <= 108)
		assert.Len(t, RandomBytes(n), n)
	}
	assert.Equal(t, "", assertions.ShouldNotEqual(HashCode([]byte("1")), HashCode([]byte("2"))))
}
