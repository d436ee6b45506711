package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend 使用嵌入式 SQLite 保存快照，适合单机部署。
type SQLiteBackend struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// 单写者，避免 SQLITE_BUSY。
	sdb.SetMaxOpenConns(1)
	b := &SQLiteBackend{db: sdb}
	if err := b.initSchema(); err != nil {
		_ = sdb.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *SQLiteBackend) Read(ctx context.Context) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE key = ?`, stateKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *SQLiteBackend) Write(ctx context.Context, data []byte) error {
	return b.upsert(ctx, stateKey, data)
}

func (b *SQLiteBackend) Backup(ctx context.Context, data []byte, at time.Time) (string, error) {
	key := backupKey(at)
	if err := b.upsert(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

func (b *SQLiteBackend) upsert(ctx context.Context, key string, data []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO snapshots (key, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, data, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }
