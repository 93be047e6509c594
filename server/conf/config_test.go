package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg := NewCfg().Load(&CommandLineArgs{ConfigPath: filepath.Join(t.TempDir(), "none.ini")})

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, 128, cfg.BufferPoolSize)
	assert.Equal(t, 2560, cfg.InitialPages)
	assert.True(t, cfg.PageChecksum)
	assert.Equal(t, "snappy", cfg.DumpCompression)
	assert.Equal(t, 1024, cfg.LogBufferRecords)
}

func TestLoadIni(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xkvdb.ini")
	content := `
[database]
data_dir = /tmp/xkv
buffer_pool_size = 64
initial_pages = 16
page_checksum = false
log_buffer_records = 10

[logs]
log_level = debug

[dump]
compression = LZ4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
	assert.Equal(t, "/tmp/xkv", cfg.DataDir)
	assert.Equal(t, 64, cfg.BufferPoolSize)
	assert.Equal(t, 16, cfg.InitialPages)
	assert.False(t, cfg.PageChecksum)
	assert.Equal(t, 10, cfg.LogBufferRecords)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "lz4", cfg.DumpCompression)
	assert.Equal(t, "logs/error.log", cfg.LogError)

	assert.Equal(t, 64, cfg.GetInt("database.buffer_pool_size"))
	assert.Equal(t, "/tmp/xkv", cfg.GetString("database.data_dir"))
	assert.Equal(t, "", cfg.GetString("nosection"))
}

func TestLoadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xkvdb.toml")
	content := `
[database]
data_dir = "tomldata"
buffer_pool_size = 32
sync_on_flush = true

[logs]
log_infos = "logs/info.log"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
	assert.Equal(t, "tomldata", cfg.DataDir)
	assert.Equal(t, 32, cfg.BufferPoolSize)
	assert.True(t, cfg.SyncOnFlush)
	assert.Equal(t, "logs/info.log", cfg.LogInfos)
	assert.Equal(t, 2560, cfg.InitialPages)
}
