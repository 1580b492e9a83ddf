// Package repo – dedup marks
//
// Marks are stored as unix milliseconds so the cooldown comparison happens in
// SQL without depending on the driver's time formatting.
package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/livechat-bridge/internal/domain"
)

// MarkDedup admits key unless it was admitted less than cooldown before now.
// The insert-or-refresh is a single statement, so concurrent callers cannot
// both be admitted for the same key.
func MarkDedup(ctx context.Context, db *gorm.DB, key string, now time.Time, cooldown time.Duration) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, ErrEmptyKey
	}
	res := db.WithContext(ctx).Exec(
		"INSERT INTO dedup_marks (dedup_key, seen_at) VALUES (?, ?) "+
			"ON CONFLICT (dedup_key) DO UPDATE SET seen_at = excluded.seen_at "+
			"WHERE dedup_marks.seen_at <= ?",
		key, now.UnixMilli(), now.Add(-cooldown).UnixMilli(),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SweepDedup deletes marks admitted at or before cutoff.
func SweepDedup(ctx context.Context, db *gorm.DB, cutoff time.Time) (int, error) {
	res := db.WithContext(ctx).
		Where("seen_at <= ?", cutoff.UnixMilli()).
		Delete(&domain.DedupMark{})
	return int(res.RowsAffected), res.Error
}

// CountDedup returns the number of stored marks.
func CountDedup(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.DedupMark{}).Count(&n).Error
	return n, err
}
