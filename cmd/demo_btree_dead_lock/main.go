package main

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/zhukovaskychina/xkvdb/server/conf"
	"github.com/zhukovaskychina/xkvdb/server/innodb/engine"
)

// 两个事务交叉更新两条记录, 演示死锁检测: 后发起等待的事务被回滚, 另一个事务继续完成
func main() {
	dir, err := os.MkdirTemp("", "xkvdb-deadlock")
	if err != nil {
		log.Fatalf("创建临时目录失败: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg := conf.NewCfg()
	cfg.DataDir = dir
	cfg.InitialPages = 16
	e := engine.NewEngine(cfg)
	if err := e.Init(16); err != nil {
		log.Fatalf("初始化引擎失败: %v", err)
	}
	defer e.Shutdown()

	table, err := e.OpenTable("deadlock.db")
	if err != nil {
		log.Fatalf("打开表失败: %v", err)
	}
	for k := int64(1); k <= 2; k++ {
		if err := e.Insert(table, k, bytes.Repeat([]byte{'0'}, 64)); err != nil {
			log.Fatalf("插入失败: %v", err)
		}
	}

	t1, _ := e.BeginTrx()
	t2, _ := e.BeginTrx()
	mustUpdate(e, table, 1, '1', t1)
	mustUpdate(e, table, 2, '2', t2)
	fmt.Printf("trx %d 持有 key 1, trx %d 持有 key 2\n", t1, t2)

	var wg sync.WaitGroup
	run := func(trx int32, key int64, b byte) {
		defer wg.Done()
		_, err := e.UpdateTx(table, key, bytes.Repeat([]byte{b}, 64), trx)
		switch engine.Status(err) {
		case engine.StatusOK:
			fmt.Printf("trx %d 更新 key %d 成功, 提交\n", trx, key)
			if _, err := e.CommitTrx(trx); err != nil {
				fmt.Printf("trx %d 提交失败: %v\n", trx, err)
			}
		case engine.StatusAborted:
			fmt.Printf("trx %d 被选为死锁牺牲者并已回滚\n", trx)
		default:
			fmt.Printf("trx %d 更新失败: %v\n", trx, err)
		}
	}

	wg.Add(2)
	go run(t1, 2, '1')
	time.Sleep(50 * time.Millisecond)
	go run(t2, 1, '2')
	wg.Wait()

	for k := int64(1); k <= 2; k++ {
		v, _ := e.Find(table, k)
		fmt.Printf("key %d = %s\n", k, v[:8])
	}
	stats, _ := e.Stats()
	fmt.Printf("锁等待 %d 次, 死锁 %d 次\n", stats.Locks.Waits, stats.Locks.Deadlocks)
}

func mustUpdate(e *engine.Engine, table int64, key int64, b byte, trx int32) {
	if _, err := e.UpdateTx(table, key, bytes.Repeat([]byte{b}, 64), trx); err != nil {
		log.Fatalf("trx %d 更新 key %d 失败: %v", trx, key, err)
	}
}
