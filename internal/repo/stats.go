// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (weak ETags) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// ChatsStats returns the number of active chats userID takes part in and the
// greatest UpdatedAt among them (nil when there are none).
func ChatsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Chat{}).Scopes(participantScope(userID))
	return latest(q)
}

// MessagesStats returns the number of messages of chatID visible at now and
// the greatest UpdatedAt among them. Because the count only includes visible
// rows, a temporary message expiring changes the result even before the
// reaper deletes it.
func MessagesStats(ctx context.Context, db *gorm.DB, chatID string, now time.Time) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Scopes(VisibleAt(now)).Where("chat_id = ?", chatID)
	return latest(q)
}

// latest counts q and loads its newest updated_at.
func latest(q *gorm.DB) (int64, *time.Time, error) {
	var count int64
	if err := q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Avoid MAX() -> TEXT in SQLite.
	var row struct {
		UpdatedAt time.Time
	}
	if err := q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
