package dbini

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"

	"github.com/rayvision-network/rendersync/internal/domain"
)

func uploadJSON(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "20240101120000")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, "upload.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"asset":[]}`), 0o644))
	return p
}

func TestCreate_SQLite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.PlatformID = "2"
	w, err := NewWriter(cfg)
	require.NoError(t, err)

	path, err := w.Create(uploadJSON(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Dir, "db_ini", "20240101120000.ini"), path)

	f, err := ini.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "true", f.Section("database").Key("on").String())
	assert.Equal(t, "2", f.Section("database").Key("platform_id").String())
	assert.Equal(t, "sqlite", f.Section("database").Key("type").String())
	assert.Equal(t, filepath.Join(cfg.Dir, "db", "20240101120000.db"), f.Section("sqlite").Key("db_path").String())
	assert.Equal(t, "false", f.Section("sqlite").Key("temporary").String())
	assert.Equal(t, "127.0.0.1", f.Section("redis").Key("host").String())
	assert.Equal(t, 6379, f.Section("redis").Key("port").MustInt(0))
	assert.Equal(t, 5000, f.Section("redis").Key("timeout").MustInt(0))
}

func TestCreate_Redis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.Type = "Redis "
	cfg.Redis.Host = "10.0.0.5"
	cfg.Redis.TableIndex = "3"
	w, err := NewWriter(cfg)
	require.NoError(t, err)

	path, err := w.Create(uploadJSON(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Dir, "db_ini", "db_redis.ini"), path)

	f, err := ini.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", f.Section("database").Key("type").String())
	assert.Equal(t, "10.0.0.5", f.Section("redis").Key("host").String())
	assert.Equal(t, "3", f.Section("redis").Key("table_index").String())
}

func TestNewWriter_UnsupportedType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.Type = "mysql"

	_, err := NewWriter(cfg)
	require.ErrorIs(t, err, domain.ErrUnsupportedDatabase)
	assert.ErrorIs(t, err, domain.ErrUnsupportedConfiguration)
	assert.Contains(t, err.Error(), "mysql")
}

func TestNewWriter_RequiresDir(t *testing.T) {
	_, err := NewWriter(DefaultConfig())
	require.ErrorIs(t, err, domain.ErrUnsupportedConfiguration)
}

func TestLoadLegacy(t *testing.T) {
	p := filepath.Join(t.TempDir(), "db_config.ini")
	require.NoError(t, os.WriteFile(p, []byte(`[DATABASE_CONFIG]
on = false
type = redis
db_path = /var/rendersync

[REDIS]
host = redis.local
port = 6380
password = secret
table_index = 1
timeout = 3000

[SQLITE]
temporary = true
`), 0o644))

	cfg, err := LoadLegacy(p)
	require.NoError(t, err)
	assert.False(t, cfg.On)
	assert.Equal(t, "redis", cfg.Type)
	assert.Equal(t, "/var/rendersync", cfg.Dir)
	assert.Equal(t, RedisConfig{Host: "redis.local", Port: 6380, Password: "secret", TableIndex: "1", Timeout: 3000}, cfg.Redis)
	assert.True(t, cfg.Temporary)
}

func TestLoadLegacy_Missing(t *testing.T) {
	_, err := LoadLegacy(filepath.Join(t.TempDir(), "nope.ini"))
	require.Error(t, err)
}
