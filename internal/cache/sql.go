package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// subscriptionCache is one row per subscription id.
type subscriptionCache struct {
	ID           string `gorm:"primaryKey"`
	Body         []byte
	ETag         string `gorm:"column:etag"`
	LastModified string
	UpdatedAt    time.Time
}

func (subscriptionCache) TableName() string { return "subscription_cache" }

// SQLStore keeps cache entries in a single SQLite file.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore opens (and migrates) the database at path.
func OpenSQLStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, newCacheError("", "创建缓存目录失败", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, newCacheError("", "打开缓存数据库失败", err)
	}
	// SQLite allows one writer; serialize at the pool instead of retrying on SQLITE_BUSY.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&subscriptionCache{}); err != nil {
		return nil, newCacheError("", "缓存数据库迁移失败", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) Load(ctx context.Context, id string) (*Entry, error) {
	var row subscriptionCache
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, newCacheError(id, "读取缓存失败", err)
	}
	return &Entry{
		ID:           row.ID,
		Body:         row.Body,
		ETag:         row.ETag,
		LastModified: row.LastModified,
		UpdatedAt:    row.UpdatedAt,
		Size:         int64(len(row.Body)),
	}, nil
}

func (s *SQLStore) Save(ctx context.Context, e Entry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	row := subscriptionCache{
		ID:           e.ID,
		Body:         e.Body,
		ETag:         e.ETag,
		LastModified: e.LastModified,
		UpdatedAt:    e.UpdatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return newCacheError(e.ID, "写入缓存失败", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]Entry, error) {
	type listed struct {
		ID           string
		ETag         string `gorm:"column:etag"`
		LastModified string
		UpdatedAt    time.Time
		Size         int64
	}
	var rows []listed
	err := s.db.WithContext(ctx).
		Model(&subscriptionCache{}).
		Select("id, etag, last_modified, updated_at, length(body) AS size").
		Order("id").
		Scan(&rows).Error
	if err != nil {
		return nil, newCacheError("", "读取缓存列表失败", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, Entry{
			ID:           r.ID,
			ETag:         r.ETag,
			LastModified: r.LastModified,
			UpdatedAt:    r.UpdatedAt,
			Size:         r.Size,
		})
	}
	return out, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&subscriptionCache{}, "id = ?", id).Error; err != nil {
		return newCacheError(id, "删除缓存失败", err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&subscriptionCache{}).Error
	if err != nil {
		return newCacheError("", "清空缓存失败", err)
	}
	return nil
}
