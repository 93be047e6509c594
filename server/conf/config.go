package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/zhukovaskychina/xkvdb/logger"
	"gopkg.in/ini.v1"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

const defaultConfigFile = "conf/xkvdb.ini"

/*
[database]
data_dir         = data
buffer_pool_size = 128
initial_pages    = 2560
page_checksum    = true
sync_on_flush    = false
log_buffer_records = 1024

[logs]
log_error = logs/error.log
log_infos = logs/xkvdb.log
log_level = info

[dump]
compression = snappy
*/
type Cfg struct {
	Raw *ini.File

	// database
	DataDir          string `default:"data" yaml:"data_dir" json:"data_dir,omitempty"`
	BufferPoolSize   int    `default:"128" yaml:"buffer_pool_size" json:"buffer_pool_size,omitempty"`
	InitialPages     int    `default:"2560" yaml:"initial_pages" json:"initial_pages,omitempty"`
	PageChecksum     bool   `default:"true" yaml:"page_checksum" json:"page_checksum,omitempty"`
	SyncOnFlush      bool   `default:"false" yaml:"sync_on_flush" json:"sync_on_flush,omitempty"`
	LogBufferRecords int    `default:"1024" yaml:"log_buffer_records" json:"log_buffer_records,omitempty"`

	// logs
	LogError string `default:"logs/error.log" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"logs/xkvdb.log" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`

	// dump
	DumpCompression string `default:"snappy" yaml:"compression" json:"compression,omitempty"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:              ini.Empty(),
		DataDir:          "data",
		BufferPoolSize:   128,
		InitialPages:     2560, // 10MiB
		PageChecksum:     true,
		SyncOnFlush:      false,
		LogBufferRecords: 1024,
		LogError:         "logs/error.log",
		LogInfos:         "logs/xkvdb.log",
		LogLevel:         "info",
		DumpCompression:  "snappy",
	}
}

// Load 读取配置文件(.ini或.toml), 文件不存在时使用默认配置
func (cfg *Cfg) Load(args *CommandLineArgs) *Cfg {
	setHomePath(args)
	iniFile, err := cfg.loadConfiguration(args)
	if err != nil {
		logger.Fatalf("加载配置文件时有异常: %v", err)
	}
	cfg.Raw = iniFile

	cfg.parseDatabaseCfg(cfg.Raw.Section("database"))
	cfg.parseLogsCfg(cfg.Raw.Section("logs"))
	cfg.parseDumpCfg(cfg.Raw.Section("dump"))
	return cfg
}

func setHomePath(args *CommandLineArgs) {
	if args.ConfigPath != "" {
		ConfigPath = args.ConfigPath
		return
	}
	ConfigPath, _ = filepath.Abs(".")
}

func (cfg *Cfg) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	configFile := defaultConfigFile
	if args.ConfigPath != "" {
		configFile = args.ConfigPath
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		logger.Debugf("配置文件不存在: %s，使用默认配置", configFile)
		return ini.Empty(), nil
	}

	if strings.HasSuffix(configFile, ".toml") {
		return loadTomlAsIni(configFile)
	}

	parsedFile, err := ini.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %v", configFile, err)
	}
	logger.Debugf("成功加载配置文件: %s", configFile)
	return parsedFile, nil
}

// loadTomlAsIni 将toml的两级表结构转换为ini section/key, 后续解析逻辑共用
func loadTomlAsIni(configFile string) (*ini.File, error) {
	tree, err := toml.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %v", configFile, err)
	}

	file := ini.Empty()
	for _, sectionName := range tree.Keys() {
		sub, ok := tree.Get(sectionName).(*toml.Tree)
		if !ok {
			file.Section("").Key(sectionName).SetValue(fmt.Sprint(tree.Get(sectionName)))
			continue
		}
		section := file.Section(sectionName)
		for _, key := range sub.Keys() {
			section.Key(key).SetValue(fmt.Sprint(sub.Get(key)))
		}
	}
	logger.Debugf("成功加载toml配置文件: %s", configFile)
	return file, nil
}

func (cfg *Cfg) parseDatabaseCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	cfg.DataDir, _ = valueAsString(section, "data_dir", cfg.DataDir)
	cfg.BufferPoolSize = section.Key("buffer_pool_size").MustInt(cfg.BufferPoolSize)
	cfg.InitialPages = section.Key("initial_pages").MustInt(cfg.InitialPages)
	cfg.PageChecksum = section.Key("page_checksum").MustBool(cfg.PageChecksum)
	cfg.SyncOnFlush = section.Key("sync_on_flush").MustBool(cfg.SyncOnFlush)
	cfg.LogBufferRecords = section.Key("log_buffer_records").MustInt(cfg.LogBufferRecords)
	return cfg
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	cfg.LogError, _ = valueAsString(section, "log_error", cfg.LogError)
	cfg.LogInfos, _ = valueAsString(section, "log_infos", cfg.LogInfos)
	cfg.LogLevel, _ = valueAsString(section, "log_level", cfg.LogLevel)
	return cfg
}

func (cfg *Cfg) parseDumpCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	cfg.DumpCompression, _ = valueAsString(section, "compression", cfg.DumpCompression)
	cfg.DumpCompression = strings.ToLower(cfg.DumpCompression)
	return cfg
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) (value string, err error) {
	if section == nil {
		return defaultValue, nil
	}
	value = section.Key(keyName).MustString(defaultValue)
	if value == "" {
		value = defaultValue
	}
	return value, nil
}

// GetString 获取配置项的字符串值, key形如 "database.data_dir"
func (cfg *Cfg) GetString(key string) string {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return ""
	}
	value, _ := valueAsString(cfg.Raw.Section(parts[0]), strings.Join(parts[1:], "."), "")
	return value
}

// GetInt 获取配置项的整数值
func (cfg *Cfg) GetInt(key string) int {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return 0
	}
	return cfg.Raw.Section(parts[0]).Key(strings.Join(parts[1:], ".")).MustInt(0)
}
