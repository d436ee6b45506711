package db

import (
	"context"
	"errors"
	"time"

	"planroom/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Connect 负责建立到 Postgres 的连接，并带有简单的重试来等待容器就绪。
func Connect(ctx context.Context, dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(2)
				sqlDB.SetMaxOpenConns(5)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(500+i*200) * time.Millisecond):
		}
	}
	return nil, err
}

// Migrate 自动迁移快照表。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.Snapshot{})
}

// GormBackend 把整份状态作为一行快照保存在 snapshots 表中。
type GormBackend struct {
	db *gorm.DB
}

func NewGormBackend(gdb *gorm.DB) *GormBackend {
	return &GormBackend{db: gdb}
}

func (b *GormBackend) Read(ctx context.Context) ([]byte, error) {
	var snap models.Snapshot
	if err := b.db.WithContext(ctx).Where("key = ?", stateKey).First(&snap).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return snap.Data, nil
}

func (b *GormBackend) Write(ctx context.Context, data []byte) error {
	return b.upsert(ctx, stateKey, data)
}

func (b *GormBackend) Backup(ctx context.Context, data []byte, at time.Time) (string, error) {
	key := backupKey(at)
	if err := b.upsert(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

func (b *GormBackend) upsert(ctx context.Context, key string, data []byte) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap := models.Snapshot{Key: key, Data: data, UpdatedAt: time.Now()}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&snap).Error
	})
}

func (b *GormBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
