package domain

import (
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		Chat{}.TableName():         "chats",
		Message{}.TableName():      "messages",
		Attachment{}.TableName():   "attachments",
		User{}.TableName():         "users",
		Notification{}.TableName(): "notifications",
		Idempotency{}.TableName():  "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Chat{}, &Message{}, &Attachment{}, &User{}, &Notification{}, &Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, idx := range []struct {
		model any
		name  string
	}{
		{&Chat{}, "ux_chat_active_pair"},
		{&Chat{}, "idx_chat_activity"},
		{&Message{}, "idx_chat_msgs"},
		{&Message{}, "idx_msg_expiry"},
		{&Attachment{}, "ux_msg_attachment_pos"},
		{&Notification{}, "idx_notif_recipient"},
	} {
		if !m.HasIndex(idx.model, idx.name) {
			t.Fatalf("expected index %s on %T", idx.name, idx.model)
		}
	}
	if !m.HasColumn(&Message{}, "is_read") {
		t.Fatalf("expected messages.is_read column")
	}
}

func TestActivePairKey_IsUnique_NullsDoNotCollide(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Chat{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	now := time.Now().UTC()
	key := PairKey("u1", "u2")

	first := Chat{ID: "c1", UserA: "u1", UserB: "u2", PairKey: &key, Active: true, LastMessageAt: now}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("create first: %v", err)
	}
	dup := Chat{ID: "c2", UserA: "u1", UserB: "u2", PairKey: &key, Active: true, LastMessageAt: now}
	err := db.Create(&dup).Error
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "unique") {
		t.Fatalf("expected unique violation, got %v", err)
	}

	// Two deactivated chats for the same pair (NULL keys) can coexist.
	for _, id := range []string{"c3", "c4"} {
		c := Chat{ID: id, UserA: "u1", UserB: "u2", PairKey: nil, Active: true, LastMessageAt: now}
		if err := db.Create(&c).Error; err != nil {
			t.Fatalf("create %s with NULL key: %v", id, err)
		}
	}
}

func TestAttachmentPosition_UniquePerMessage(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Attachment{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	now := time.Now().UTC()
	if err := db.Create(&Attachment{ID: "a1", MessageID: "m1", Position: 0, Path: "/f/1", CreatedAt: now}).Error; err != nil {
		t.Fatalf("create first: %v", err)
	}
	err := db.Create(&Attachment{ID: "a2", MessageID: "m1", Position: 0, Path: "/f/2", CreatedAt: now}).Error
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "unique") {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if err := db.Create(&Attachment{ID: "a3", MessageID: "m2", Position: 0, Path: "/f/3", CreatedAt: now}).Error; err != nil {
		t.Fatalf("same position on another message: %v", err)
	}
}

func TestPairHelpers(t *testing.T) {
	if PairKey("b", "a") != PairKey("a", "b") {
		t.Fatalf("PairKey must be order independent")
	}
	if got := PairKey("b", "a"); got != "a|b" {
		t.Fatalf("PairKey = %q", got)
	}
	lo, hi := SortPair("z", "m")
	if lo != "m" || hi != "z" {
		t.Fatalf("SortPair = %q,%q", lo, hi)
	}

	c := &Chat{UserA: "a", UserB: "b"}
	if !IsParticipant(c, "a") || !IsParticipant(c, "b") {
		t.Fatalf("both users should be participants")
	}
	if IsParticipant(c, "x") || IsParticipant(c, "") || IsParticipant(nil, "a") {
		t.Fatalf("unexpected participant match")
	}
	if ids := ParticipantIDs(c); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ParticipantIDs = %v", ids)
	}
}
