package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	jerrors "github.com/juju/errors"
	"github.com/zhukovaskychina/xkvdb/server/conf"
	"github.com/zhukovaskychina/xkvdb/server/innodb/engine"
)

// runDump 导出表, 压缩方式默认取[dump] compression
func runDump(e *engine.Engine, cfg *conf.Cfg, args []string) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	tablePath := fs.String("table", "", "表文件")
	out := fs.String("out", "", "导出文件")
	compression := fs.String("compression", cfg.DumpCompression, "snappy|lz4|none")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tablePath == "" || *out == "" {
		return fmt.Errorf("usage: dump -table <path> -out <file> [-compression snappy|lz4|none]")
	}
	c, err := engine.ParseCompression(*compression)
	if err != nil {
		return err
	}

	table, err := e.OpenTable(*tablePath)
	if err != nil {
		return err
	}
	f, err := os.Create(*out)
	if err != nil {
		return jerrors.Annotatef(err, "create %s", *out)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	n, err := e.Export(table, w, c)
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return jerrors.Annotatef(err, "write %s", *out)
	}
	if err := f.Sync(); err != nil {
		return jerrors.Annotatef(err, "sync %s", *out)
	}
	fmt.Printf("dumped %d records to %s (%s)\n", n, *out, c)
	return nil
}

// runLoad 导入由dump生成的文件, 压缩方式记录在文件头中
func runLoad(e *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	tablePath := fs.String("table", "", "表文件")
	in := fs.String("in", "", "导入文件")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tablePath == "" || *in == "" {
		return fmt.Errorf("usage: load -table <path> -in <file>")
	}

	table, err := e.OpenTable(*tablePath)
	if err != nil {
		return err
	}
	f, err := os.Open(*in)
	if err != nil {
		return jerrors.Annotatef(err, "open %s", *in)
	}
	defer f.Close()

	n, err := e.Import(table, bufio.NewReader(f))
	if err != nil {
		return err
	}
	fmt.Printf("loaded %d records from %s\n", n, *in)
	return nil
}
