// Package store 负责整份应用状态的加载与保存。
//
// 每个请求都通过 Update 完成一次“加载 → 修改 → 保存”，进程内由互斥锁串行化，
// 不存在部分写入：回调返回错误时不会写回任何内容。
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"planroom/internal/db"
	"planroom/internal/metrics"
	"planroom/internal/models"

	"github.com/rs/zerolog/log"
)

type Store struct {
	mu      sync.Mutex
	backend db.Backend
	now     func() time.Time
}

type Option func(*Store)

// WithClock 替换时间来源，测试使用。
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(backend db.Backend, opts ...Option) *Store {
	s := &Store{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load 返回当前持久化的状态。首次运行时创建空状态；内容损坏时备份原文件并重置，
// 备份失败则返回错误。
func (s *Store) Load(ctx context.Context) (*models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Save 整体写入状态。
func (s *Store) Save(ctx context.Context, st *models.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := encode(st)
	if err != nil {
		return err
	}
	return s.write(ctx, data)
}

// Update 在锁内加载状态并交给 fn 修改。fn 返回错误时不保存；
// 状态没有变化时也不写入，纯读请求因此不会产生写操作。
func (s *Store) Update(ctx context.Context, fn func(st *models.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(ctx)
	if err != nil {
		return err
	}
	before, err := encode(st)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	after, err := encode(st)
	if err != nil {
		return err
	}
	if bytes.Equal(before, after) {
		return nil
	}
	return s.write(ctx, after)
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) load(ctx context.Context) (*models.State, error) {
	now := s.now()
	raw, err := s.backend.Read(ctx)
	if errors.Is(err, db.ErrNotFound) {
		st := models.NewState(now)
		return st, s.persist(ctx, st)
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	st, migrated, err := decode(raw, now)
	if err != nil {
		// 备份失败时保留损坏的内容，不重置。
		name, berr := s.backend.Backup(ctx, raw, now)
		if berr != nil {
			return nil, fmt.Errorf("backup corrupt state: %w", berr)
		}
		log.Warn().Err(err).Str("backup", name).Msg("state unreadable, starting from an empty store")
		metrics.StoreRecoveries.Inc()
		st = models.NewState(now)
		return st, s.persist(ctx, st)
	}
	if migrated {
		log.Info().Int("data_version", models.DataVersion).Msg("state migrated")
		if err := s.persist(ctx, st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *Store) persist(ctx context.Context, st *models.State) error {
	data, err := encode(st)
	if err != nil {
		return err
	}
	return s.write(ctx, data)
}

func (s *Store) write(ctx context.Context, data []byte) error {
	if err := s.backend.Write(ctx, data); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func encode(st *models.State) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}
