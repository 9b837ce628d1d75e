package domain

import "time"

// Idempotency records the message produced by a send request so that a retry
// carrying the same Idempotency-Key returns the original message instead of
// posting (and notifying) twice. Records are scoped to (user_id, chat_id, key)
// and stop matching once ExpiresAt has passed. A record with no MessageID is
// a reservation held by a send that has not finished yet.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_chat_key,priority:1"`
	ChatID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_chat_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_chat_key,priority:3"`
	MessageID string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Pending reports whether the send holding this record is still running.
func (r *Idempotency) Pending() bool { return r.MessageID == "" }
