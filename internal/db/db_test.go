package db

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"planroom/internal/config"
)

// backendContract 对所有后端执行同样的读写/备份检查。
func backendContract(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	if _, err := b.Read(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read() on empty backend error = %v, want ErrNotFound", err)
	}

	first := []byte(`{"meta":{"dataVersion":2}}`)
	if err := b.Write(ctx, first); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := b.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, first) {
		t.Errorf("Read() = %s, want %s", got, first)
	}

	second := []byte(`{"meta":{"dataVersion":2},"rooms":{}}`)
	if err := b.Write(ctx, second); err != nil {
		t.Fatalf("Write() overwrite error = %v", err)
	}
	got, _ = b.Read(ctx)
	if !bytes.Equal(got, second) {
		t.Errorf("Read() after overwrite = %s, want %s", got, second)
	}

	name, err := b.Backup(ctx, []byte("{broken"), time.UnixMilli(1700000000000))
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if !strings.Contains(name, "broken_1700000000000") {
		t.Errorf("Backup() name = %q, want timestamped name", name)
	}
	got, _ = b.Read(ctx)
	if !bytes.Equal(got, second) {
		t.Error("Backup() must not replace the live state")
	}
}

func TestFileBackend(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(filepath.Join(dir, "nested", "data.json"))
	backendContract(t, b)

	if _, err := os.Stat(filepath.Join(dir, "nested", "data.broken_1700000000000.json")); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "nested"))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestSQLiteBackend(t *testing.T) {
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer b.Close()
	backendContract(t, b)
}

func TestPebbleBackend(t *testing.T) {
	b, err := OpenPebble(filepath.Join(t.TempDir(), "pebble"))
	if err != nil {
		t.Fatalf("OpenPebble() error = %v", err)
	}
	defer b.Close()
	backendContract(t, b)
}

func TestGormBackend(t *testing.T) {
	dsn := os.Getenv("PLANROOM_TEST_DSN")
	if dsn == "" {
		t.Skip("skip: PLANROOM_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gdb, err := Connect(ctx, dsn)
	if err != nil {
		t.Skipf("skip: db not available: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	if err := gdb.Exec("DELETE FROM snapshots").Error; err != nil {
		t.Fatalf("reset snapshots: %v", err)
	}
	b := NewGormBackend(gdb)
	defer b.Close()
	backendContract(t, b)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"file", config.Config{StoreDriver: config.DriverFile, StorePath: filepath.Join(dir, "a.json")}, false},
		{"sqlite", config.Config{StoreDriver: config.DriverSQLite, StorePath: filepath.Join(dir, "b.db")}, false},
		{"pebble", config.Config{StoreDriver: config.DriverPebble, StorePath: filepath.Join(dir, "c")}, false},
		{"unknown", config.Config{StoreDriver: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if b != nil {
				_ = b.Close()
			}
		})
	}
}
