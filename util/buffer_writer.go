package util

// 以下写入函数直接覆盖buff中cursor处的字节(小端序), 返回新的游标位置

func PutBytes(buff []byte, cursor int, from []byte) int {
	return cursor + copy(buff[cursor:], from)
}

func PutUB2(buff []byte, cursor int, i uint16) int {
	buff[cursor] = byte(i)
	buff[cursor+1] = byte(i >> 8)
	return cursor + 2
}

func PutUB4(buff []byte, cursor int, i uint32) int {
	buff[cursor] = byte(i)
	buff[cursor+1] = byte(i >> 8)
	buff[cursor+2] = byte(i >> 16)
	buff[cursor+3] = byte(i >> 24)
	return cursor + 4
}

func PutUB8(buff []byte, cursor int, i uint64) int {
	buff[cursor] = byte(i)
	buff[cursor+1] = byte(i >> 8)
	buff[cursor+2] = byte(i >> 16)
	buff[cursor+3] = byte(i >> 24)
	buff[cursor+4] = byte(i >> 32)
	buff[cursor+5] = byte(i >> 40)
	buff[cursor+6] = byte(i >> 48)
	buff[cursor+7] = byte(i >> 56)
	return cursor + 8
}

func PutInt4(buff []byte, cursor int, i int32) int {
	return PutUB4(buff, cursor, uint32(i))
}

func PutInt8(buff []byte, cursor int, i int64) int {
	return PutUB8(buff, cursor, uint64(i))
}

// ZeroBytes 清空区间[cursor, cursor+length)
func ZeroBytes(buff []byte, cursor int, length int) {
	for i := cursor; i < cursor+length; i++ {
		buff[i] = 0
	}
}
