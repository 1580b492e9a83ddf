package dedup

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/livechat-bridge/internal/repo"
)

// SQLiteCache is a Cache persisted in the dedup_marks table, so a restarted
// relay still rejects redeliveries of messages it admitted just before
// stopping. Sweep deletes expired marks; it is driven by RunSweeper like the
// memory backend.
type SQLiteCache struct {
	db       *gorm.DB
	cooldown time.Duration
	now      func() time.Time
}

// NewSQLiteCache wraps a migrated database. A non-positive cooldown defaults
// to 2s.
func NewSQLiteCache(db *gorm.DB, cooldown time.Duration) *SQLiteCache {
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	return &SQLiteCache{db: db, cooldown: cooldown, now: time.Now}
}

// OpenSQLiteCache opens path, applies migrations and returns a cache.
func OpenSQLiteCache(path string, cooldown time.Duration) (*SQLiteCache, error) {
	db, err := repo.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("opening dedup database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrating dedup database: %w", err)
	}
	return NewSQLiteCache(db, cooldown), nil
}

// CheckAndMark implements Cache.
func (c *SQLiteCache) CheckAndMark(ctx context.Context, key string) (bool, error) {
	ok, err := repo.MarkDedup(ctx, c.db, key, c.now(), c.cooldown)
	if err != nil {
		return false, fmt.Errorf("dedup mark: %w", err)
	}
	return ok, nil
}

// Sweep implements Cache.
func (c *SQLiteCache) Sweep(ctx context.Context, ttl time.Duration) (int, error) {
	return repo.SweepDedup(ctx, c.db, c.now().Add(-ttl))
}

// Len returns the number of stored marks, or 0 if the count fails.
func (c *SQLiteCache) Len() int {
	n, err := repo.CountDedup(context.Background(), c.db)
	if err != nil {
		return 0
	}
	return int(n)
}

// Close releases the database handle.
func (c *SQLiteCache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
