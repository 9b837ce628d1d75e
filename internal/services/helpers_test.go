package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dm-backend/internal/directory"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/notify"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/storage"
)

// t0 is the reference instant used across service tests.
var t0 = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recordingNotifier) Enqueue(ns ...notify.Notification) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ns...)
	return len(ns)
}

func (r *recordingNotifier) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.got...)
}

type fixture struct {
	db       *gorm.DB
	clock    *fakeClock
	notifier *recordingNotifier
	chats    *ChatService
	messages *MessageService
	session  *ChatSession
}

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

// seedUsers creates alice, bob and carol (active) and dave (inactive).
func seedUsers(t *testing.T, db *gorm.DB) {
	t.Helper()
	users := []domain.User{
		{ID: "alice", Handle: "alice", DisplayName: "Alice", Active: true},
		{ID: "bob", Handle: "bob", DisplayName: "Bob", Active: true},
		{ID: "carol", Handle: "carol", DisplayName: "Carol", Active: true},
		{ID: "dave", Handle: "dave", DisplayName: "Dave", Active: true},
	}
	if err := db.Create(&users).Error; err != nil {
		t.Fatalf("seed users: %v", err)
	}
	if err := db.Model(&domain.User{}).Where("id = ?", "dave").Update("active", false).Error; err != nil {
		t.Fatalf("deactivate dave: %v", err)
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, newServiceDB(t))
}

// newFixtureOn builds the services over an already migrated db.
func newFixtureOn(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()
	seedUsers(t, db)

	clock := &fakeClock{now: t0}
	dir := directory.NewUserDirectory(db)
	notifier := &recordingNotifier{}

	chats := NewChatService(db, GormChatRepo{}, dir)
	chats.Now = clock.Now
	msgs := NewMessageService(db, chats, dir, notifier)
	msgs.Now = clock.Now

	return &fixture{
		db:       db,
		clock:    clock,
		notifier: notifier,
		chats:    chats,
		messages: msgs,
		session:  NewChatSession(db, chats, msgs, time.Hour),
	}
}

func (f *fixture) chat(t *testing.T, a, b string) *domain.Chat {
	t.Helper()
	c, _, err := f.chats.CreateOrGet(context.Background(), a, b)
	if err != nil {
		t.Fatalf("CreateOrGet(%s,%s): %v", a, b, err)
	}
	return c
}

func (f *fixture) send(t *testing.T, chatID, sender, content string) *domain.Message {
	t.Helper()
	m, err := f.messages.Append(context.Background(), SendInput{ChatID: chatID, SenderID: sender, Content: content})
	if err != nil {
		t.Fatalf("Append(%q): %v", content, err)
	}
	return m
}

func ptrTime(t time.Time) *time.Time { return &t }

// newFileStore returns a LocalStore rooted in a temp dir.
func newFileStore(t *testing.T) *storage.LocalStore {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir(), "/uploads/", 1<<20)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return store
}

// storeFile writes data through store and returns the attachment metadata.
func storeFile(t *testing.T, store *storage.LocalStore, name, data string) domain.AttachmentInput {
	t.Helper()
	in, err := store.Store(context.Background(), bytes.NewBufferString(data), storage.FileMeta{OriginalName: name})
	if err != nil {
		t.Fatalf("Store(%s): %v", name, err)
	}
	return in
}

func fileExists(t *testing.T, store *storage.LocalStore, storedName string) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(store.Dir, storedName))
	return err == nil
}
