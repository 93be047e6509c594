package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zhukovaskychina/xkvdb/server/innodb/engine"
)

const shellUsage = `o <path>          打开表并设为当前表
i <key> <value>   插入
f <key>           查找
d <key>           删除
s                 按键升序列出当前表
b                 开始事务
c <trx>           提交事务
a <trx>           回滚事务
ft <trx> <key>    事务内查找
u <trx> <key> <v> 事务内更新
st                运行统计
q                 退出
`

// shell 交互式命令解释器, 命令作用于最近一次打开的表
type shell struct {
	e     *engine.Engine
	out   io.Writer
	table int64
	open  bool
}

func runShell(e *engine.Engine, in io.Reader, out io.Writer) error {
	sh := &shell{e: e, out: out}
	fmt.Fprint(out, shellUsage)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "q" {
			return nil
		}
		if err := sh.exec(fields[0], fields[1:]); err != nil {
			fmt.Fprintf(out, "status %d: %v\n", engine.Status(err), err)
		}
	}
}

func (sh *shell) exec(cmd string, args []string) error {
	switch cmd {
	case "o":
		if len(args) != 1 {
			return errUsage(cmd)
		}
		table, err := sh.e.OpenTable(args[0])
		if err != nil {
			return err
		}
		sh.table, sh.open = table, true
		fmt.Fprintf(sh.out, "table %d\n", table)
		return nil
	case "b":
		trx, err := sh.e.BeginTrx()
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "trx %d\n", trx)
		return nil
	case "c", "a":
		if len(args) != 1 {
			return errUsage(cmd)
		}
		trx, err := parseTrx(args[0])
		if err != nil {
			return err
		}
		if cmd == "c" {
			_, err = sh.e.CommitTrx(trx)
		} else {
			_, err = sh.e.AbortTrx(trx)
		}
		if err == nil {
			fmt.Fprintln(sh.out, "ok")
		}
		return err
	case "st":
		stats, err := sh.e.Stats()
		if err != nil {
			return err
		}
		bp := stats.BufferPool
		fmt.Fprintf(sh.out, "buffer pool: requests=%d hits=%d misses=%d evictions=%d hit_ratio=%.2f\n",
			bp.PageRequests, bp.PageHits, bp.PageMisses, bp.PageEvictions, bp.GetHitRatio())
		fmt.Fprintf(sh.out, "locks: waits=%d deadlocks=%d queues=%d\n",
			stats.Locks.Waits, stats.Locks.Deadlocks, stats.Locks.Queues)
		fmt.Fprintf(sh.out, "active trx=%d log records=%d tables=%d\n",
			stats.ActiveTrx, stats.LogRecords, stats.OpenedTables)
		return nil
	}

	if !sh.open {
		return fmt.Errorf("no table opened, use: o <path>")
	}
	switch cmd {
	case "i":
		if len(args) != 2 {
			return errUsage(cmd)
		}
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		if err := sh.e.Insert(sh.table, key, []byte(args[1])); err != nil {
			return err
		}
	case "f":
		if len(args) != 1 {
			return errUsage(cmd)
		}
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		value, err := sh.e.Find(sh.table, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%s\n", value)
		return nil
	case "d":
		if len(args) != 1 {
			return errUsage(cmd)
		}
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		if err := sh.e.Delete(sh.table, key); err != nil {
			return err
		}
	case "s":
		return sh.e.Scan(sh.table, func(key int64, value []byte) bool {
			fmt.Fprintf(sh.out, "%d\t%s\n", key, value)
			return true
		})
	case "ft":
		if len(args) != 2 {
			return errUsage(cmd)
		}
		trx, err := parseTrx(args[0])
		if err != nil {
			return err
		}
		key, err := parseKey(args[1])
		if err != nil {
			return err
		}
		value, err := sh.e.FindTx(sh.table, key, trx)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%s\n", value)
		return nil
	case "u":
		if len(args) != 3 {
			return errUsage(cmd)
		}
		trx, err := parseTrx(args[0])
		if err != nil {
			return err
		}
		key, err := parseKey(args[1])
		if err != nil {
			return err
		}
		oldSize, err := sh.e.UpdateTx(sh.table, key, []byte(args[2]), trx)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "ok, old size %d\n", oldSize)
		return nil
	default:
		return errUsage(cmd)
	}
	fmt.Fprintln(sh.out, "ok")
	return nil
}

func errUsage(cmd string) error {
	return fmt.Errorf("bad command %q, commands:\n%s", cmd, shellUsage)
}

func parseKey(s string) (int64, error) {
	key, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad key %q", s)
	}
	return key, nil
}

func parseTrx(s string) (int32, error) {
	trx, err := strconv.ParseInt(s, 10, 32)
	if err != nil || trx <= 0 {
		return 0, fmt.Errorf("bad trx id %q", s)
	}
	return int32(trx), nil
}
