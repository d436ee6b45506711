package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"planroom/internal/config"
)

// ErrNotFound 表示后端中还没有保存过状态。
var ErrNotFound = errors.New("state not found")

// stateKey 是保存整份状态的唯一键。
const stateKey = "state"

// Backend 是整份状态的持久化接口：读、原子写、损坏内容备份。
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	// Backup 保存无法解析的原始内容，返回备份的名称。
	Backup(ctx context.Context, data []byte, at time.Time) (string, error)
	Close() error
}

// Open 根据配置打开对应的持久化后端。
func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.StoreDriver {
	case config.DriverFile:
		return NewFileBackend(cfg.StorePath), nil
	case config.DriverPostgres:
		gdb, err := Connect(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := Migrate(gdb); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return NewGormBackend(gdb), nil
	case config.DriverSQLite:
		b, err := OpenSQLite(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return b, nil
	case config.DriverPebble:
		b, err := OpenPebble(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open pebble: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func backupKey(at time.Time) string {
	return fmt.Sprintf("broken_%d", at.UnixMilli())
}
