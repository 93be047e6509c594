package page

import (
	"github.com/zhukovaskychina/xkvdb/util"
)

// HeaderPageNum 每个表文件的第0页为头页
const HeaderPageNum uint64 = 0

// HeaderPage 头页: 空闲链表头、文件页数、根页号
type HeaderPage struct {
	NextFreePage uint64
	NumPages     uint64
	RootPage     uint64
}

func DecodeHeaderPage(buff []byte) HeaderPage {
	var h HeaderPage
	_, h.NextFreePage = util.ReadUB8(buff, offNextFree)
	_, h.NumPages = util.ReadUB8(buff, offNumPages)
	_, h.RootPage = util.ReadUB8(buff, offRootPage)
	return h
}

// EncodeTo 只覆盖头页字段, 其余字节保持不变
func (h HeaderPage) EncodeTo(buff []byte) {
	util.PutUB8(buff, offNextFree, h.NextFreePage)
	util.PutUB8(buff, offNumPages, h.NumPages)
	util.PutUB8(buff, offRootPage, h.RootPage)
}

// NextFreeOf 读取空闲页中的后继空闲页号
func NextFreeOf(buff []byte) uint64 {
	_, next := util.ReadUB8(buff, offNextFree)
	return next
}

// EncodeFreePage 将buff清零并写入后继空闲页号
func EncodeFreePage(buff []byte, next uint64) {
	util.ZeroBytes(buff, 0, PageSize)
	util.PutUB8(buff, offNextFree, next)
}

// ExtendLinks 文件容量从oldNum扩展到newNum时, 新页面的链接关系:
// 页面pg指向(pg+1)%newNum, 即最后一个新页面指向0(链表结束)
func ExtendLinks(oldNum, newNum uint64, visit func(pageNum, next uint64) error) error {
	for pg := oldNum; pg < newNum; pg++ {
		if err := visit(pg, (pg+1)%newNum); err != nil {
			return err
		}
	}
	return nil
}
