package util

// 以下读取函数均为小端序, 返回值为新的游标位置

func ReadBytes(buff []byte, cursor int, length int) (int, []byte) {
	if length <= 0 {
		return cursor, nil
	}
	return cursor + length, buff[cursor : cursor+length]
}

func ReadUB2(buff []byte, cursor int) (int, uint16) {
	i := uint16(buff[cursor])
	i |= uint16(buff[cursor+1]) << 8
	return cursor + 2, i
}

func ReadUB4(buff []byte, cursor int) (int, uint32) {
	i := uint32(buff[cursor])
	i |= uint32(buff[cursor+1]) << 8
	i |= uint32(buff[cursor+2]) << 16
	i |= uint32(buff[cursor+3]) << 24
	return cursor + 4, i
}

func ReadUB8(buff []byte, cursor int) (int, uint64) {
	i := uint64(buff[cursor])
	i |= uint64(buff[cursor+1]) << 8
	i |= uint64(buff[cursor+2]) << 16
	i |= uint64(buff[cursor+3]) << 24
	i |= uint64(buff[cursor+4]) << 32
	i |= uint64(buff[cursor+5]) << 40
	i |= uint64(buff[cursor+6]) << 48
	i |= uint64(buff[cursor+7]) << 56
	return cursor + 8, i
}

// ReadInt4 读取有符号4字节整数
func ReadInt4(buff []byte, cursor int) (int, int32) {
	cursor, v := ReadUB4(buff, cursor)
	return cursor, int32(v)
}

// ReadInt8 读取有符号8字节整数
func ReadInt8(buff []byte, cursor int) (int, int64) {
	cursor, v := ReadUB8(buff, cursor)
	return cursor, int64(v)
}
