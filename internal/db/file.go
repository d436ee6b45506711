package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileBackend 把状态保存为单个 JSON 文件，写入时先写临时文件再 rename，读者不会看到半写的文件。
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Read(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *FileBackend) Write(ctx context.Context, data []byte) error {
	return writeAtomic(b.path, data)
}

// Backup 写到 data.broken_<毫秒时间戳>.json。
func (b *FileBackend) Backup(ctx context.Context, data []byte, at time.Time) (string, error) {
	base := b.path
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".json") {
		base = strings.TrimSuffix(base, ext)
	}
	name := fmt.Sprintf("%s.%s.json", base, backupKey(at))
	if err := writeAtomic(name, data); err != nil {
		return "", err
	}
	return name, nil
}

func (b *FileBackend) Close() error { return nil }

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// rename 成功后临时文件已不存在，这里只清理失败的情况。
		_ = os.Remove(tmpName)
	}()
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
