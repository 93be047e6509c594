package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/zhukovaskychina/xkvdb/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/store"
)

// 用很小的缓冲池顺序访问远多于帧数的页, 观察LRU淘汰与命中率
func main() {
	dir, err := os.MkdirTemp("", "xkvdb-bp")
	if err != nil {
		log.Fatalf("创建临时目录失败: %v", err)
	}
	defer os.RemoveAll(dir)

	ps := store.NewPageStore(store.Options{InitialPages: 64})
	defer ps.CloseAll()
	table, err := ps.OpenTable(filepath.Join(dir, "lru.db"))
	if err != nil {
		log.Fatalf("打开表失败: %v", err)
	}

	pool, err := buffer_pool.NewBufferPool(buffer_pool.BufferPoolConfig{NumFrames: 8, PageChecksum: true}, ps)
	if err != nil {
		log.Fatalf("创建缓冲池失败: %v", err)
	}
	defer pool.Close()

	var pages []uint64
	for i := 0; i < 32; i++ {
		pageNum, err := pool.AllocPage(table)
		if err != nil {
			log.Fatalf("分配页失败: %v", err)
		}
		blk, err := pool.GetPage(table, pageNum)
		if err != nil {
			log.Fatalf("读取页失败: %v", err)
		}
		blk.Data()[200] = byte(i)
		pool.SetDirty(blk, true)
		pages = append(pages, pageNum)
	}

	// 热点页反复访问, 其余页只访问一次
	for round := 0; round < 10; round++ {
		for _, pageNum := range pages[:4] {
			blk, err := pool.GetPage(table, pageNum)
			if err != nil {
				log.Fatalf("读取页失败: %v", err)
			}
			pool.UnpinPage(blk)
		}
	}

	for _, f := range pool.Frames() {
		fmt.Printf("frame %d: page %d dirty=%v pin=%d cold=%v\n", f.FrameID, f.Key.PageNum, f.Dirty, f.PinCount, f.IsCold())
	}
	stats := pool.Stats()
	fmt.Printf("请求 %d, 命中 %d, 未命中 %d, 淘汰 %d, 命中率 %.2f\n",
		stats.PageRequests, stats.PageHits, stats.PageMisses, stats.PageEvictions, stats.GetHitRatio())
}
