package repo

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// newRepoDB opens a file-backed SQLite database in a temp dir. Passing models
// migrates only those; passing none leaves the schema empty.
func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func newMigratedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := newRepoDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func seedChat(t *testing.T, db *gorm.DB, id, a, b string, last time.Time) *domain.Chat {
	t.Helper()
	lo, hi := domain.SortPair(a, b)
	key := domain.PairKey(a, b)
	c := &domain.Chat{ID: id, UserA: lo, UserB: hi, PairKey: &key, Active: true, LastMessageAt: last}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed chat %s: %v", id, err)
	}
	return c
}

func seedMessage(t *testing.T, db *gorm.DB, id, chatID, sender string, sentAt time.Time, expiresAt *time.Time) *domain.Message {
	t.Helper()
	m := &domain.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  sender,
		Content:   "msg " + id,
		SentAt:    sentAt,
		Temporary: expiresAt != nil,
		ExpiresAt: expiresAt,
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("seed message %s: %v", id, err)
	}
	return m
}

func ptrTime(t time.Time) *time.Time { return &t }
