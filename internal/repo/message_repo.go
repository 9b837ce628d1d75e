// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// and Attachment models.
//
// Read paths apply VisibleAt(now): temporary messages whose expiry has
// passed are filtered out whether or not the reaper already removed them.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// VisibleAt is a GORM scope matching permanent messages and temporary
// messages that have not expired at now.
func VisibleAt(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("(temporary = ? OR expires_at > ?)", false, now)
	}
}

// orderedAttachments preloads attachments in append order.
func orderedAttachments(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// CreateMessage inserts a message row together with any attachments already
// set on it.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	return db.WithContext(ctx).Create(m).Error
}

// GetMessage fetches a message by ID with its attachments.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Preload("Attachments", orderedAttachments).
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetSenderMessage fetches a message only if it belongs to chatID and was
// written by senderID; any mismatch yields ErrNotFound.
func GetSenderMessage(ctx context.Context, db *gorm.DB, id, chatID, senderID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("id = ? AND chat_id = ? AND sender_id = ?", id, chatID, senderID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages uses a raw COUNT over every stored row of a chat, expired or
// not, so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE chat_id = ?", chatID).Scan(&total).Error
	return total, err
}

// CountVisibleMessages returns the number of messages of a chat visible at now.
func CountVisibleMessages(ctx context.Context, db *gorm.DB, chatID string, now time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Scopes(VisibleAt(now)).
		Where("chat_id = ?", chatID).
		Count(&total).Error
	return total, err
}

// ListVisibleMessagesPage returns a page of visible messages ordered newest
// first (SentAt DESC, ID DESC). Callers re-order the page for display.
func ListVisibleMessagesPage(ctx context.Context, db *gorm.DB, chatID string, now time.Time, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Preload("Attachments", orderedAttachments).
		Scopes(VisibleAt(now)).
		Where("chat_id = ?", chatID).
		Order("sent_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkChatRead flags every unread message in chatID that was not written by
// readerID. It returns the number of rows changed; zero is not an error.
func MarkChatRead(ctx context.Context, db *gorm.DB, chatID, readerID string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("chat_id = ? AND sender_id <> ? AND is_read = ?", chatID, readerID, false).
		UpdateColumns(map[string]any{
			"is_read":    true,
			"read_at":    now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// DeleteSenderMessage hard-deletes a message (and its attachment rows) only
// when senderID wrote it. Returns ErrNotFound otherwise. The stored names of
// the removed attachments are returned so the caller can drop the files.
func DeleteSenderMessage(ctx context.Context, db *gorm.DB, id, senderID string) ([]string, error) {
	var stored []string
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m domain.Message
		if err := tx.Select("id").Where("id = ? AND sender_id = ?", id, senderID).First(&m).Error; err != nil {
			return err
		}
		if err := storedNames(tx, &stored, "message_id = ?", m.ID); err != nil {
			return err
		}
		if err := tx.Where("message_id = ?", m.ID).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", m.ID).Delete(&domain.Message{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// DeleteExpiredMessages removes temporary messages whose expiry is before
// now, together with their attachment rows, and returns the number of
// messages removed and the stored names of the removed attachments. Running
// it twice is harmless.
func DeleteExpiredMessages(ctx context.Context, db *gorm.DB, now time.Time) (int64, []string, error) {
	var (
		removed int64
		stored  []string
	)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&domain.Message{}).
			Select("id").
			Where("temporary = ? AND expires_at < ?", true, now)
		if err := storedNames(tx, &stored, "message_id IN (?)", expired); err != nil {
			return err
		}
		if err := tx.Where("message_id IN (?)", expired).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		res := tx.Where("temporary = ? AND expires_at < ?", true, now).Delete(&domain.Message{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return removed, stored, nil
}

// storedNames collects the non-empty stored_name values of the attachments
// matching the condition.
func storedNames(tx *gorm.DB, out *[]string, cond string, args ...any) error {
	return tx.Model(&domain.Attachment{}).
		Where(cond, args...).
		Where("stored_name <> ''").
		Pluck("stored_name", out).Error
}

// ListAttachments returns the attachments of a message in append order.
func ListAttachments(ctx context.Context, db *gorm.DB, messageID string) ([]domain.Attachment, error) {
	var out []domain.Attachment
	err := db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("position ASC").
		Find(&out).Error
	return out, err
}

// appendAttempts bounds the retries of AppendAttachments when a concurrent
// append claimed the same positions.
const appendAttempts = 3

// AppendAttachments appends files after the current last position of a
// message and returns the complete, ordered attachment list. Existing rows
// are never modified. Positions are unique per message; a racing append that
// took the same slots is retried, and ErrDuplicate is returned once the
// attempts run out.
func AppendAttachments(ctx context.Context, db *gorm.DB, messageID string, files []domain.AttachmentInput, now time.Time) ([]domain.Attachment, error) {
	for attempt := 1; ; attempt++ {
		out, err := appendAttachmentsOnce(ctx, db, messageID, files, now)
		if !isUniqueViolation(err) {
			return out, err
		}
		if attempt == appendAttempts {
			return nil, ErrDuplicate
		}
	}
}

func appendAttachmentsOnce(ctx context.Context, db *gorm.DB, messageID string, files []domain.AttachmentInput, now time.Time) ([]domain.Attachment, error) {
	var out []domain.Attachment
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int
		if err := tx.Model(&domain.Attachment{}).
			Where("message_id = ?", messageID).
			Select("COALESCE(MAX(position), -1)").
			Scan(&last).Error; err != nil {
			return err
		}

		rows := make([]domain.Attachment, 0, len(files))
		for i, f := range files {
			rows = append(rows, domain.Attachment{
				ID:           uuid.NewString(),
				MessageID:    messageID,
				Position:     last + 1 + i,
				Path:         f.Path,
				OriginalName: f.OriginalName,
				StoredName:   f.StoredName,
				ContentType:  f.ContentType,
				Size:         f.Size,
				CreatedAt:    now,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.Message{}).Where("id = ?", messageID).UpdateColumn("updated_at", now).Error; err != nil {
			return err
		}

		var err error
		out, err = ListAttachments(ctx, tx, messageID)
		return err
	})
	return out, err
}
