// Package dbini writes the database ini file the transmitter reads during
// asset uploads to track which files it already sent.
//
// Layout under Dir:
//
//	<Dir>/db_ini/db_redis.ini      (type redis, shared)
//	<Dir>/db_ini/<upload-dir>.ini  (type sqlite, one per upload)
//	<Dir>/db/<upload-dir>.db       (sqlite database the transmitter fills)
package dbini

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/rayvision-network/rendersync/internal/domain"
)

// Supported database types.
const (
	TypeRedis  = "redis"
	TypeSQLite = "sqlite"
)

// RedisConfig is the [redis] section.
type RedisConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Password   string `toml:"password"`
	TableIndex string `toml:"table_index"`
	Timeout    int    `toml:"timeout"` // milliseconds
}

// Config selects the transmitter's upload database.
type Config struct {
	On         bool        `toml:"on"`
	Type       string      `toml:"type"` // redis | sqlite
	Dir        string      `toml:"db_path"`
	PlatformID string      `toml:"platform_id"`
	Temporary  bool        `toml:"temporary"` // sqlite only
	Redis      RedisConfig `toml:"-"`
}

// DefaultConfig returns the defaults the transmitter ships with.
func DefaultConfig() Config {
	return Config{
		On:   true,
		Type: TypeSQLite,
		Redis: RedisConfig{
			Host:    "127.0.0.1",
			Port:    6379,
			Timeout: 5000,
		},
	}
}

// Writer creates db ini files.
type Writer struct {
	cfg Config
}

// NewWriter validates cfg and returns a writer. The type is matched
// case-insensitively.
func NewWriter(cfg Config) (*Writer, error) {
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
	if cfg.Type == "" {
		cfg.Type = TypeSQLite
	}
	if cfg.Type != TypeRedis && cfg.Type != TypeSQLite {
		return nil, unsupported(cfg.Type)
	}
	if cfg.Dir == "" {
		return nil, &domain.ConfigError{Field: "database.db_path", Value: cfg.Dir}
	}
	return &Writer{cfg: cfg}, nil
}

// IniDir is where ini files are written.
func (w *Writer) IniDir() string { return filepath.Join(w.cfg.Dir, "db_ini") }

// DBDir is where sqlite databases are written.
func (w *Writer) DBDir() string { return filepath.Join(w.cfg.Dir, "db") }

// Create writes the ini for one upload json and returns its path. The
// upload json's parent directory name keys the sqlite files.
func (w *Writer) Create(uploadJSONPath string) (string, error) {
	if err := os.MkdirAll(w.IniDir(), 0o755); err != nil {
		return "", fmt.Errorf("create db ini dir: %w", err)
	}

	name := filepath.Base(filepath.Dir(uploadJSONPath))
	file := ini.Empty()

	db := file.Section("database")
	db.Key("on").SetValue(strconv.FormatBool(w.cfg.On))
	db.Key("platform_id").SetValue(w.cfg.PlatformID)
	db.Key("type").SetValue(w.cfg.Type)

	rd := file.Section("redis")
	rd.Key("host").SetValue(w.cfg.Redis.Host)
	rd.Key("port").SetValue(strconv.Itoa(w.cfg.Redis.Port))
	rd.Key("password").SetValue(w.cfg.Redis.Password)
	rd.Key("table_index").SetValue(w.cfg.Redis.TableIndex)
	rd.Key("timeout").SetValue(strconv.Itoa(w.cfg.Redis.Timeout))

	sq := file.Section("sqlite")
	sq.Key("db_path").SetValue(filepath.Join(w.DBDir(), name+".db"))
	sq.Key("temporary").SetValue(strconv.FormatBool(w.cfg.Temporary))

	var path string
	switch w.cfg.Type {
	case TypeRedis:
		path = filepath.Join(w.IniDir(), "db_redis.ini")
	case TypeSQLite:
		path = filepath.Join(w.IniDir(), name+".ini")
	default:
		return "", unsupported(w.cfg.Type)
	}

	if err := file.SaveTo(path); err != nil {
		return "", fmt.Errorf("write db ini %s: %w", path, err)
	}
	return path, nil
}

// LoadLegacy reads a transmitter db_config.ini with DATABASE_CONFIG, REDIS
// and SQLITE sections into a Config. Missing keys keep their defaults.
func LoadLegacy(path string) (Config, error) {
	cfg := DefaultConfig()
	file, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load db config %s: %w", path, err)
	}

	db := file.Section("DATABASE_CONFIG")
	cfg.On = db.Key("on").MustBool(cfg.On)
	cfg.Type = db.Key("type").MustString(cfg.Type)
	cfg.Dir = db.Key("db_path").MustString(cfg.Dir)

	rd := file.Section("REDIS")
	cfg.Redis.Host = rd.Key("host").MustString(cfg.Redis.Host)
	cfg.Redis.Port = rd.Key("port").MustInt(cfg.Redis.Port)
	cfg.Redis.Password = rd.Key("password").String()
	cfg.Redis.TableIndex = rd.Key("table_index").String()
	cfg.Redis.Timeout = rd.Key("timeout").MustInt(cfg.Redis.Timeout)

	cfg.Temporary = file.Section("SQLITE").Key("temporary").MustBool(cfg.Temporary)
	return cfg, nil
}

func unsupported(dbType string) error {
	return &domain.ConfigError{Field: "database.type", Value: dbType, Err: domain.ErrUnsupportedDatabase}
}
