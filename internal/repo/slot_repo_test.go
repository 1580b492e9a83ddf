package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestSlot_PutGetOverwriteDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	if _, err := GetSlot(ctx, db, "chat_session"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty slot: %v", err)
	}
	if err := PutSlot(ctx, db, "chat_session", "v1", now); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := PutSlot(ctx, db, "chat_session", "v2", now.Add(time.Minute)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := GetSlot(ctx, db, "chat_session")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value != "v2" || !got.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("slot = %+v", got)
	}

	var n int64
	db.Table("session_slots").Count(&n)
	if n != 1 {
		t.Fatalf("rows = %d; overwrite must not add rows", n)
	}

	if err := DeleteSlot(ctx, db, "chat_session"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := DeleteSlot(ctx, db, "chat_session"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if _, err := GetSlot(ctx, db, "chat_session"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete: %v", err)
	}
}

func TestSlot_EmptyKey(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if _, err := GetSlot(ctx, db, " "); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("get: %v", err)
	}
	if err := PutSlot(ctx, db, "", "x", time.Now()); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("put: %v", err)
	}
	if err := DeleteSlot(ctx, db, ""); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("delete: %v", err)
	}
}

func TestSQLiteSlot(t *testing.T) {
	s := SQLiteSlot{DB: newTestDB(t), Key: "chat_session"}
	ctx := context.Background()

	if _, ok, err := s.Read(ctx); ok || err != nil {
		t.Fatalf("empty read: ok=%v err=%v", ok, err)
	}
	if err := s.Write(ctx, `{"token":"x"}`); err != nil {
		t.Fatalf("write: %v", err)
	}
	v, ok, err := s.Read(ctx)
	if err != nil || !ok || v != `{"token":"x"}` {
		t.Fatalf("read: v=%q ok=%v err=%v", v, ok, err)
	}
	if err := s.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Read(ctx); ok {
		t.Fatal("slot should be empty after delete")
	}
}
