package main

import (
	"flag"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/zhukovaskychina/xkvdb/logger"
	"github.com/zhukovaskychina/xkvdb/server/innodb/engine"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/page"
	"github.com/zhukovaskychina/xkvdb/util"
	"golang.org/x/sync/errgroup"
)

// runBench 每个worker在互不重叠的键区间上插入, 随后随机查找已插入的键
func runBench(e *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	tablePath := fs.String("table", "bench.db", "表文件")
	workers := fs.Int("workers", 4, "并发数")
	ops := fs.Int("ops", 10000, "每个worker的插入数")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workers <= 0 || *ops <= 0 {
		return fmt.Errorf("workers and ops must be positive")
	}

	table, err := e.OpenTable(*tablePath)
	if err != nil {
		return err
	}

	var inserted, found, duplicates int64
	start := time.Now()
	var g errgroup.Group
	for w := 0; w < *workers; w++ {
		w := w
		g.Go(func() error {
			base := int64(w) * int64(*ops)
			for i := 0; i < *ops; i++ {
				value := util.RandomBytes(util.RandomInt(page.ValueMinSize, page.ValueMaxSize))
				err := e.Insert(table, base+int64(i), value)
				switch {
				case err == nil:
					atomic.AddInt64(&inserted, 1)
				case engine.Status(err) == engine.StatusFailed:
					atomic.AddInt64(&duplicates, 1)
				default:
					return err
				}
			}
			r := rand.New(rand.NewSource(int64(w) + 1))
			for i := 0; i < *ops; i++ {
				if _, err := e.Find(table, base+r.Int63n(int64(*ops))); err == nil {
					atomic.AddInt64(&found, 1)
				} else if !engine.IsNotFound(err) {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	stats, err := e.Stats()
	if err != nil {
		return err
	}
	total := 2 * (*workers) * (*ops)
	fmt.Printf("%d ops in %v (%.0f ops/s): inserted=%d duplicates=%d found=%d hit_ratio=%.2f evictions=%d\n",
		total, elapsed, float64(total)/elapsed.Seconds(), inserted, duplicates, found,
		stats.BufferPool.GetHitRatio(), stats.BufferPool.PageEvictions)
	logger.Infof("bench finished: %d workers, %d ops each, %v", *workers, *ops, elapsed)
	return nil
}
