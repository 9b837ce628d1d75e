// Package domain defines the persistence models for direct-message chats,
// messages, attachments, directory users and notifications. These types are
// mapped with GORM and form the core data layer of the messaging service.
//
// Records carry data only. Business rules (participant checks, visibility of
// temporary messages, expiry validation) live in the services package and
// operate on these plain records.
package domain

import (
	"time"
)

// Chat is a conversation between exactly two users.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserA / UserB: participant ids stored in canonical (sorted) order.
//   - PairKey: canonical "a|b" key while the chat is active, NULL once it is
//     deactivated. The unique index on this column guarantees at most one
//     active chat per unordered pair; NULLs never collide.
//   - Active: false means soft-deleted; inactive chats are invisible.
//   - LastMessageAt: bumped on every successful send; drives list ordering.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Chat struct {
	ID            string    `json:"id"              gorm:"type:char(36);primaryKey"`
	UserA         string    `json:"-"               gorm:"type:varchar(64);not null;index:idx_chat_user_a"`
	UserB         string    `json:"-"               gorm:"type:varchar(64);not null;index:idx_chat_user_b"`
	PairKey       *string   `json:"-"               gorm:"type:varchar(140);uniqueIndex:ux_chat_active_pair"`
	Active        bool      `json:"active"          gorm:"not null;default:true"`
	LastMessageAt time.Time `json:"last_message_at" gorm:"not null;index:idx_chat_activity"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Participants holds resolved display projections; never persisted.
	Participants []Profile `json:"participants" gorm:"-"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// Message is a single entry in a chat log.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ChatID: owning chat (immutable parent reference).
//   - SenderID: author; a participant of the chat at send time.
//   - Content: trimmed text, 1..2000 characters.
//   - SentAt: creation instant, immutable.
//   - Read / ReadAt: read state, only changed by mark-as-read.
//   - Temporary / ExpiresAt: optional self-destruct timer. ExpiresAt is nil
//     for permanent messages.
//   - Attachments: ordered, append-only file references.
type Message struct {
	ID        string     `json:"id"                   gorm:"type:char(36);primaryKey"`
	ChatID    string     `json:"chat_id"              gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	SenderID  string     `json:"sender_id"            gorm:"type:varchar(64);not null;index"`
	Content   string     `json:"content"              gorm:"type:text;not null"`
	SentAt    time.Time  `json:"sent_at"              gorm:"not null;index:idx_chat_msgs,priority:2"`
	Read      bool       `json:"read"                 gorm:"column:is_read;not null;default:false"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	Temporary bool       `json:"temporary"            gorm:"not null;default:false;index:idx_msg_expiry,priority:1"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" gorm:"index:idx_msg_expiry,priority:2"`
	CreatedAt time.Time  `json:"-"`
	UpdatedAt time.Time  `json:"-"`

	Attachments []Attachment `json:"attachments" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`

	// Sender is the resolved display projection of SenderID; never persisted.
	Sender *Profile `json:"sender,omitempty" gorm:"-"`

	// Chat is the parent conversation. Messages are cascade-deleted with it.
	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Attachment references a stored file appended to a message.
// Position keeps the append order stable.
type Attachment struct {
	ID           string    `json:"id"                      gorm:"type:char(36);primaryKey"`
	MessageID    string    `json:"-"                       gorm:"type:char(36);not null;uniqueIndex:ux_msg_attachment_pos,priority:1"`
	Position     int       `json:"position"                gorm:"not null;uniqueIndex:ux_msg_attachment_pos,priority:2"`
	Path         string    `json:"path"                    gorm:"type:varchar(512);not null"`
	OriginalName string    `json:"original_name,omitempty" gorm:"type:varchar(255)"`
	StoredName   string    `json:"stored_name,omitempty"   gorm:"type:varchar(255)"`
	ContentType  string    `json:"content_type,omitempty"  gorm:"type:varchar(127)"`
	Size         int64     `json:"size,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for Attachment.
func (Attachment) TableName() string { return "attachments" }

// AttachmentInput is the metadata returned by the attachment store for a
// file that has already been written.
type AttachmentInput struct {
	Path         string
	OriginalName string
	StoredName   string
	ContentType  string
	Size         int64
}

// User is the directory record owned by the user service. This service only
// reads it to validate participants and build display projections.
type User struct {
	ID          string    `json:"id"           gorm:"type:varchar(64);primaryKey"`
	Handle      string    `json:"handle"       gorm:"type:varchar(64);index"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(128)"`
	AvatarURL   string    `json:"avatar_url"   gorm:"type:varchar(512)"`
	Active      bool      `json:"active"       gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Profile is the public projection of a user shown next to chats and messages.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Handle      string `json:"handle,omitempty"`
}

// Notification is a row in the generic notification store.
type Notification struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	RecipientID string    `json:"recipient_id" gorm:"type:varchar(64);not null;index:idx_notif_recipient"`
	OriginID    string    `json:"origin_id"    gorm:"type:varchar(64);not null"`
	Kind        string    `json:"kind"         gorm:"type:varchar(32);not null"`
	Text        string    `json:"text"         gorm:"type:varchar(512);not null"`
	Link        string    `json:"link"         gorm:"type:varchar(512)"`
	Read        bool      `json:"read"         gorm:"column:is_read;not null;default:false"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }
