package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"planroom/internal/db"
	"planroom/internal/models"
)

var fixedNow = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func newFileStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	return New(db.NewFileBackend(path), WithClock(func() time.Time { return fixedNow })), path
}

func readState(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("stored state is not JSON: %v", err)
	}
	return out
}

func TestLoad_CreatesDefaultState(t *testing.T) {
	s, path := newFileStore(t)

	st, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Meta.DataVersion != models.DataVersion {
		t.Errorf("DataVersion = %d, want %d", st.Meta.DataVersion, models.DataVersion)
	}
	if len(st.Rooms) != 0 || len(st.Sessions) != 0 {
		t.Error("default state must be empty")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default state was not persisted: %v", err)
	}
}

func TestLoad_CorruptStateIsBackedUp(t *testing.T) {
	s, path := newFileStore(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(st.Rooms) != 0 {
		t.Error("corrupt state must fall back to an empty store")
	}

	backup := filepath.Join(filepath.Dir(path), "data.broken_"+itoa(fixedNow.UnixMilli())+".json")
	raw, err := os.ReadFile(backup)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(raw) != "{not json" {
		t.Errorf("backup content = %q, want the corrupt bytes", raw)
	}
	if v := readState(t, path)["meta"].(map[string]any)["dataVersion"]; v != float64(2) {
		t.Errorf("reset state dataVersion = %v", v)
	}
}

// failingBackupBackend 的 Backup 总是失败。
type failingBackupBackend struct {
	db.Backend
}

func (failingBackupBackend) Backup(ctx context.Context, data []byte, at time.Time) (string, error) {
	return "", errors.New("disk full")
}

func TestLoad_BackupFailureKeepsCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(failingBackupBackend{Backend: db.NewFileBackend(path)}, WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	if _, err := s.Load(ctx); err == nil {
		t.Fatal("Load() should fail when the backup cannot be written")
	}
	err := s.Update(ctx, func(st *models.State) error { return nil })
	if err == nil {
		t.Fatal("Update() should fail when the backup cannot be written")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "{not json" {
		t.Errorf("state file = %q, want the corrupt bytes untouched", raw)
	}
}

func TestSave_ReplacesState(t *testing.T) {
	s, path := newFileStore(t)
	ctx := context.Background()

	st := models.NewState(fixedNow)
	st.Rooms["0123456789"] = models.NewRoom("0123456789", fixedNow)
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rooms := readState(t, path)["rooms"].(map[string]any)
	if _, ok := rooms["0123456789"]; !ok {
		t.Fatalf("saved rooms = %v", rooms)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Rooms["0123456789"] == nil {
		t.Error("Load() after Save() lost the room")
	}
}

func TestLoad_NonObjectIsCorrupt(t *testing.T) {
	for _, content := range []string{"null", "[]", "42", ""} {
		t.Run(content, func(t *testing.T) {
			s, path := newFileStore(t)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			st, err := s.Load(context.Background())
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if st.Rooms == nil || st.Sessions == nil {
				t.Error("reset state must have initialised maps")
			}
		})
	}
}

func TestLoad_MigratesV1(t *testing.T) {
	s, path := newFileStore(t)
	v1 := `{
	  "cycle": {"status": "locked", "bossStartedAt": "2024-01-01T00:00:00.000Z",
	            "lockedAt": "2024-02-01T00:00:00.000Z", "unlockAt": "2025-02-01T00:00:00.000Z"},
	  "theme": {"title": "Old title", "cardRadius": "bad"},
	  "entries": {
	    "abcdef123456": {"createdAt": "2024-01-02T00:00:00.000Z", "content": {"headline": "Old  goal\nline"}},
	    "999999aaaaaa": {"createdAt": "2024-01-03T00:00:00.000Z", "deletedAt": "2024-01-04T00:00:00.000Z"}
	  }
	}`
	if err := os.WriteFile(path, []byte(v1), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	room := st.Rooms[LegacyRoomID]
	if room == nil {
		t.Fatal("legacy room missing after migration")
	}
	if room.Status != models.StatusLocked {
		t.Errorf("legacy status = %q, want locked", room.Status)
	}
	if models.Deref(room.StartedAt) != "2024-01-01T00:00:00.000Z" {
		t.Errorf("StartedAt = %q", models.Deref(room.StartedAt))
	}
	if models.Deref(room.UnlockAt) != "2025-02-01T00:00:00.000Z" {
		t.Errorf("UnlockAt = %q", models.Deref(room.UnlockAt))
	}
	if room.Theme.Title != "Old title" || room.Theme.CardRadius != models.DefaultTheme.CardRadius {
		t.Errorf("theme merge = %+v", room.Theme)
	}
	if len(room.Plans) != 1 {
		t.Fatalf("plans = %d, want 1 (deleted entries are dropped)", len(room.Plans))
	}
	plan := room.Plans["user_abcdef"]
	if plan == nil || plan.Content == nil || plan.Content.Goal != "Old goal line" {
		t.Errorf("migrated plan = %+v", plan)
	}
	if plan.UpdatedAt != "2024-01-02T00:00:00.000Z" {
		t.Errorf("UpdatedAt falls back to createdAt, got %q", plan.UpdatedAt)
	}

	persisted := readState(t, path)
	if _, ok := persisted["entries"]; ok {
		t.Error("migrated state must be persisted without v1 fields")
	}
	if _, ok := persisted["rooms"].(map[string]any)[LegacyRoomID]; !ok {
		t.Error("legacy room was not persisted")
	}
}

func TestLoad_PatchesMissingVersion(t *testing.T) {
	s, path := newFileStore(t)
	if err := os.WriteFile(path, []byte(`{"rooms":{"0123456789":{"id":"0123456789","status":"waiting"}}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	room := st.Rooms["0123456789"]
	if room == nil || room.Users == nil || room.Plans == nil {
		t.Fatalf("room not normalised: %+v", room)
	}
	if st.Sessions == nil {
		t.Error("sessions map not created")
	}
	if v := readState(t, path)["meta"].(map[string]any)["dataVersion"]; v != float64(2) {
		t.Errorf("persisted dataVersion = %v, want 2", v)
	}
}

func TestUpdate_ErrorDiscardsChanges(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()
	errReject := errors.New("rejected")

	err := s.Update(ctx, func(st *models.State) error {
		st.Rooms["0123456789"] = models.NewRoom("0123456789", fixedNow)
		return errReject
	})
	if !errors.Is(err, errReject) {
		t.Fatalf("Update() error = %v, want the callback error", err)
	}

	st, _ := s.Load(ctx)
	if len(st.Rooms) != 0 {
		t.Error("rejected update must not be saved")
	}
}

func TestUpdate_PersistsChanges(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	if err := s.Update(ctx, func(st *models.State) error {
		st.Rooms["0123456789"] = models.NewRoom("0123456789", fixedNow)
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	st, _ := s.Load(ctx)
	if st.Rooms["0123456789"] == nil {
		t.Error("update was not saved")
	}
}

// countingBackend 记录写入次数。
type countingBackend struct {
	db.Backend
	mu     sync.Mutex
	writes int
}

func (c *countingBackend) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.Backend.Write(ctx, data)
}

func TestUpdate_NoWriteWithoutChange(t *testing.T) {
	cb := &countingBackend{Backend: db.NewFileBackend(filepath.Join(t.TempDir(), "data.json"))}
	s := New(cb, WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	if _, err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}
	before := cb.writes
	if err := s.Update(ctx, func(st *models.State) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if cb.writes != before {
		t.Errorf("writes = %d, want %d for a read-only update", cb.writes, before)
	}
}

func TestUpdate_Serialized(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()
	if err := s.Update(ctx, func(st *models.State) error {
		st.Rooms["0123456789"] = models.NewRoom("0123456789", fixedNow)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Update(ctx, func(st *models.State) error {
				nick := "user" + itoa(int64(i))
				st.Rooms["0123456789"].Users[nick] = &models.User{Nickname: nick}
				return nil
			})
		}(i)
	}
	wg.Wait()

	st, _ := s.Load(ctx)
	if n := len(st.Rooms["0123456789"].Users); n != 20 {
		t.Errorf("users = %d, want 20 (no lost updates)", n)
	}
}

func TestStore_SQLiteRoundTrip(t *testing.T) {
	b, err := db.OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	s := New(b, WithClock(func() time.Time { return fixedNow }))
	defer s.Close()
	ctx := context.Background()

	if err := s.Update(ctx, func(st *models.State) error {
		st.Rooms["abcdef0123"] = models.NewRoom("abcdef0123", fixedNow)
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	st, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if room := st.Rooms["abcdef0123"]; room == nil || !strings.EqualFold(room.Status, models.StatusWaiting) {
		t.Errorf("room not round-tripped: %+v", room)
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
