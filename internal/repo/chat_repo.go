// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition.
//
// Error semantics:
//   - When a chat is not found (or is inactive, or the user is not one of
//     its participants), functions return ErrNotFound.
//   - CreateChat returns ErrDuplicate when another active chat already holds
//     the same participant pair (unique index on pair_key).
//   - On other DB errors the raw gorm error is propagated.
//
// Functions:
//
//   - CreateChat(ctx, db, chat) -> error
//   - FindActiveChatByPair(ctx, db, a, b) -> *domain.Chat, error
//   - GetActiveChat(ctx, db, id, userID) -> *domain.Chat, error
//   - CountChats(ctx, db, userID) -> int64, error
//   - ListChatsPage(ctx, db, userID, offset, limit) -> []domain.Chat, error
//   - DeactivateChat(ctx, db, id, userID) -> error
//   - TouchChat(ctx, db, id, at) -> error
//
// Usage:
//
//	chat, err := repo.GetActiveChat(ctx, db, chatID, userID)
//	if errors.Is(err, repo.ErrNotFound) {
//	    // missing, deleted, or caller is not a participant
//	}
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique constraint violation, e.g. a second active
// chat for the same pair or a reused idempotency key.
var ErrDuplicate = errors.New("duplicate")

// participantScope restricts a chat query to active chats that userID takes
// part in.
func participantScope(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("active = ? AND (user_a = ? OR user_b = ?)", true, userID, userID)
	}
}

// CreateChat inserts a new chat row. The caller fills ID, participants,
// PairKey and timestamps. A concurrent insert for the same pair surfaces as
// ErrDuplicate.
func CreateChat(ctx context.Context, db *gorm.DB, c *domain.Chat) error {
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// FindActiveChatByPair returns the active chat between a and b regardless of
// argument order, or ErrNotFound.
func FindActiveChatByPair(ctx context.Context, db *gorm.DB, a, b string) (*domain.Chat, error) {
	var c domain.Chat
	err := db.WithContext(ctx).
		Where("pair_key = ? AND active = ?", domain.PairKey(a, b), true).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetActiveChat fetches an active chat by id that userID participates in.
// Missing, inactive and foreign chats are indistinguishable (ErrNotFound).
func GetActiveChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	var c domain.Chat
	err := db.WithContext(ctx).
		Scopes(participantScope(userID)).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountChats returns the number of active chats userID participates in.
func CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Scopes(participantScope(userID)).
		Count(&total).Error
	return total, err
}

// ListChatsPage returns a page of active chats for userID, most recent
// activity first (ties broken by id for stable paging).
func ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Scopes(participantScope(userID)).
		Order("last_message_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeactivateChat soft-deletes a chat visible to userID and releases its pair
// key so a later create for the same pair starts a fresh chat. Returns
// ErrNotFound when nothing matched.
func DeactivateChat(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Scopes(participantScope(userID)).
		Where("id = ?", id).
		Updates(map[string]any{
			"active":     false,
			"pair_key":   nil,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchChat moves last_message_at forward to at. Older timestamps never
// overwrite newer ones, so out-of-order concurrent sends keep the maximum.
func TouchChat(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ? AND last_message_at < ?", id, at).
		UpdateColumns(map[string]any{
			"last_message_at": at,
			"updated_at":      at,
		}).Error
}

// isUniqueViolation detects unique-constraint failures across drivers that
// may not map to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// SQLite: "UNIQUE constraint failed"; Postgres: "duplicate key value".
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
