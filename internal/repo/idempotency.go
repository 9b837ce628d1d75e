// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores the Idempotency records that make message
// sends safe to retry.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// idemTuple scopes a query to one (user, chat, key) record.
func idemTuple(userID, chatID, key string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ? AND chat_id = ? AND key = ?", userID, chatID, key)
	}
}

// GetIdempotency returns the record for (userID, chatID, key) that is still
// valid at now, or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, chatID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(chatID) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Scopes(idemTuple(userID, chatID, key)).
		Where("expires_at > ?", now).
		Take(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency stores the message produced for a key. An expired record
// for the same tuple is replaced; a live one yields ErrDuplicate.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, chatID, key, messageID string, status int, now time.Time, ttl time.Duration) (*domain.Idempotency, error) {
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChatID:    chatID,
		Key:       key,
		MessageID: messageID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Scopes(idemTuple(userID, chatID, key)).Where("expires_at <= ?", now)
		if err := stale.Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ReserveIdempotency claims (userID, chatID, key) for a send that has not run
// yet. The record stays pending until CompleteIdempotency or
// ReleaseIdempotency. ErrDuplicate means a live record already holds the key.
func ReserveIdempotency(ctx context.Context, db *gorm.DB, userID, chatID, key string, now time.Time, ttl time.Duration) (*domain.Idempotency, error) {
	return CreateIdempotency(ctx, db, userID, chatID, key, "", 0, now, ttl)
}

// CompleteIdempotency attaches the message produced under a reservation.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, id, messageID string, status int) error {
	res := db.WithContext(ctx).
		Model(&domain.Idempotency{}).
		Where("id = ? AND message_id = ''", id).
		UpdateColumns(map[string]any{"message_id": messageID, "status": status})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseIdempotency drops a pending reservation so the key can be used
// again. Completed records are left alone.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Where("id = ? AND message_id = ''", id).
		Delete(&domain.Idempotency{}).Error
}

// PurgeIdempotency deletes records that expired at or before now.
func PurgeIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
