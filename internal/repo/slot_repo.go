// Package repo – session slots
//
// A slot is one named value, overwritten as a whole and deleted as a whole.
// The token lifecycle manager keeps its ChatSession in exactly one slot.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/livechat-bridge/internal/domain"
)

// ErrNotFound is returned when a slot has no value.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrEmptyKey is returned for blank slot keys.
var ErrEmptyKey = errors.New("slot key is empty")

// GetSlot returns the stored value of key or ErrNotFound.
func GetSlot(ctx context.Context, db *gorm.DB, key string) (*domain.SessionSlot, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyKey
	}
	var s domain.SessionSlot
	if err := db.WithContext(ctx).Where("`key` = ?", key).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// PutSlot inserts or overwrites key.
func PutSlot(ctx context.Context, db *gorm.DB, key, value string, now time.Time) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	rec := domain.SessionSlot{Key: key, Value: value, UpdatedAt: now.UTC()}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&rec).Error
}

// DeleteSlot removes key. Deleting a missing key is not an error.
func DeleteSlot(ctx context.Context, db *gorm.DB, key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return db.WithContext(ctx).Where("`key` = ?", key).Delete(&domain.SessionSlot{}).Error
}

// SQLiteSlot binds one key of the slot table; it satisfies chatsession.Slot.
type SQLiteSlot struct {
	DB  *gorm.DB
	Key string
}

// Read returns the slot value; ok is false when the slot is empty.
func (s SQLiteSlot) Read(ctx context.Context) (value string, ok bool, err error) {
	rec, err := GetSlot(ctx, s.DB, s.Key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.Value, true, nil
}

// Write overwrites the slot.
func (s SQLiteSlot) Write(ctx context.Context, value string) error {
	return PutSlot(ctx, s.DB, s.Key, value, time.Now())
}

// Delete empties the slot.
func (s SQLiteSlot) Delete(ctx context.Context) error {
	return DeleteSlot(ctx, s.DB, s.Key)
}
