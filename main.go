package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/zhukovaskychina/xkvdb/logger"
	"github.com/zhukovaskychina/xkvdb/server/conf"
	"github.com/zhukovaskychina/xkvdb/server/innodb/engine"
)

const help = `
******************************************************************************************
 __  ___  ____   ______  ____
 \ \/ / |/ /\ \ / /  _ \| __ )
  \  /| ' /  \ V /| | | |  _ \
  /  \| . \   | | | |_| | |_) |
 /_/\_\_|\_\  |_| |____/|____/
******************************************************************************************
*帮助:
*1. -- help
*2. -- configPath   指定xkvdb.ini配置文件
*3. shell                           交互式命令行
*4. bench  -workers N -ops N        并发插入/查找压测
*5. dump   -table path -out file    导出表
*6. load   -table path -in file     导入表
******************************************************************************************
`

func main() {
	var configPath string
	var showHelp bool
	flag.StringVar(&configPath, "configPath", "", "配置文件路径")
	flag.BoolVar(&showHelp, "help", false, "显示帮助")
	flag.Parse()

	if showHelp || flag.NArg() == 0 {
		fmt.Print(help)
		return
	}

	config := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: configPath})
	if err := logger.InitLogger(logger.LogConfig{
		ErrorLogPath: config.LogError,
		InfoLogPath:  config.LogInfos,
		LogLevel:     config.LogLevel,
	}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	logger.Debugf("Config loaded: data_dir=%s, buffer_pool_size=%d", config.DataDir, config.BufferPoolSize)

	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		logger.Fatalf("create data dir %s: %v", config.DataDir, err)
	}

	e := engine.NewEngine(config)
	if err := e.Init(config.BufferPoolSize); err != nil {
		logger.Fatalf("engine init: %v", err)
	}

	var err error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "shell":
		err = runShell(e, os.Stdin, os.Stdout)
	case "bench":
		err = runBench(e, args)
	case "dump":
		err = runDump(e, config, args)
	case "load":
		err = runLoad(e, args)
	default:
		fmt.Print(help)
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if serr := e.Shutdown(); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		logger.Errorf("%s: %v", flag.Arg(0), err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(engine.Status(err) & 0xff)
	}
}
