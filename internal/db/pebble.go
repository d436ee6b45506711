package db

import (
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// PebbleBackend 把快照保存在 Pebble KV 中，每次写入都 Sync。
type PebbleBackend struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleBackend, error) {
	pdb, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleBackend{db: pdb}, nil
}

func (b *PebbleBackend) Read(ctx context.Context) ([]byte, error) {
	v, closer, err := b.db.Get([]byte(stateKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	// Get 返回的切片在 closer 关闭后失效，需要拷贝。
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (b *PebbleBackend) Write(ctx context.Context, data []byte) error {
	return b.db.Set([]byte(stateKey), data, pebble.Sync)
}

func (b *PebbleBackend) Backup(ctx context.Context, data []byte, at time.Time) (string, error) {
	key := backupKey(at)
	if err := b.db.Set([]byte(key), data, pebble.Sync); err != nil {
		return "", err
	}
	return key, nil
}

func (b *PebbleBackend) Close() error { return b.db.Close() }
