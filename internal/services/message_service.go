// Package services – MessageService
//
// This file implements MessageService, the message store. It validates and
// persists messages, keeps the owning chat's activity timestamp current,
// triggers the notification fan-out and serves visibility-filtered reads.
//
// Visibility: a temporary message whose expiry has passed is excluded from
// every read path at request time, whether or not the reaper has already
// deleted it.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// chat, user and pagination attributes.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-dm-backend/internal/directory"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/notify"
	"github.com/tbourn/go-dm-backend/internal/observability"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

const (
	// DefaultMaxContentRunes is the upper bound on message length.
	DefaultMaxContentRunes = 2000
	// DefaultMaxTTL is the longest lifetime of a temporary message.
	DefaultMaxTTL = 24 * time.Hour
)

// Enqueuer accepts notifications for asynchronous delivery.
type Enqueuer interface {
	Enqueue(ns ...notify.Notification) int
}

// FileRemover deletes stored attachment files by their stored name.
type FileRemover interface {
	Remove(ctx context.Context, storedName string) error
}

// removeStored drops the files behind deleted attachment rows. The rows are
// already gone, so a failure only leaves an orphan file and is logged.
func removeStored(ctx context.Context, files FileRemover, names []string, l *zerolog.Logger) {
	if files == nil {
		return
	}
	for _, name := range names {
		if err := files.Remove(ctx, name); err != nil {
			l.Warn().Err(err).Str("stored_name", name).Msg("attachment file not removed")
		}
	}
}

// SendInput carries the arguments of MessageService.Append.
type SendInput struct {
	ChatID    string
	SenderID  string
	Content   string
	Temporary bool
	// ExpiresAt is required when Temporary and ignored otherwise.
	ExpiresAt   *time.Time
	Attachments []domain.AttachmentInput
}

// MessageService coordinates message persistence and retrieval.
type MessageService struct {
	DB    *gorm.DB
	Chats *ChatService
	Dir   directory.Directory
	Now   func() time.Time

	// Notifier receives the fan-out of each successful send. Nil disables it.
	Notifier Enqueuer
	// LinkBase prefixes the chat id in notification links.
	LinkBase string
	// Files removes attachment files of deleted messages. Nil keeps them.
	Files FileRemover

	MaxContentRunes int
	MaxTTL          time.Duration

	DefaultPageSize int
	MaxPageSize     int
}

// NewMessageService returns a MessageService with default limits.
func NewMessageService(db *gorm.DB, chats *ChatService, dir directory.Directory, notifier Enqueuer) *MessageService {
	return &MessageService{
		DB:              db,
		Chats:           chats,
		Dir:             dir,
		Now:             time.Now,
		Notifier:        notifier,
		LinkBase:        "/chats/",
		MaxContentRunes: DefaultMaxContentRunes,
		MaxTTL:          DefaultMaxTTL,
		DefaultPageSize: 50,
		MaxPageSize:     100,
	}
}

func (s *MessageService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// NormalizeContent converts text to NFC and trims surrounding whitespace.
func NormalizeContent(raw string) string {
	return strings.TrimSpace(norm.NFC.String(raw))
}

// ValidateContent enforces the [1, maxRunes] length rule on normalized text.
func ValidateContent(content string, maxRunes int) error {
	if content == "" {
		return ErrEmptyContent
	}
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		return ErrContentTooLong
	}
	return nil
}

// ValidateExpiry checks the temporary-message timer against sentAt. It
// returns the expiry to store: nil for permanent messages, otherwise the
// UTC instant. The upper bound is inclusive.
func ValidateExpiry(temporary bool, expiresAt *time.Time, sentAt time.Time, maxTTL time.Duration) (*time.Time, error) {
	if !temporary {
		return nil, nil
	}
	if expiresAt == nil || expiresAt.IsZero() {
		return nil, ErrExpiryMissing
	}
	if !expiresAt.After(sentAt) {
		return nil, ErrExpiryNotFuture
	}
	if maxTTL > 0 && expiresAt.Sub(sentAt) > maxTTL {
		return nil, ErrExpiryTooFar
	}
	at := expiresAt.UTC()
	return &at, nil
}

// Append validates and persists a message, then moves the chat's activity
// timestamp and emits notifications. The message is committed before the
// chat is touched, so a failure in between only leaves the chat timestamp
// stale; it is logged and not reported to the caller.
func (s *MessageService) Append(ctx context.Context, in SendInput) (*domain.Message, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("chat.id", in.ChatID),
			attribute.String("user.id", in.SenderID),
			attribute.Bool("message.temporary", in.Temporary),
		),
	)
	defer span.End()

	chat, err := s.Chats.lookup(ctx, in.ChatID, in.SenderID)
	if err != nil {
		return nil, err
	}

	content := NormalizeContent(in.Content)
	if err := ValidateContent(content, s.maxRunes()); err != nil {
		return nil, err
	}

	sentAt := s.now()
	expiresAt, err := ValidateExpiry(in.Temporary, in.ExpiresAt, sentAt, s.maxTTL())
	if err != nil {
		return nil, err
	}

	m := &domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		SenderID:  in.SenderID,
		Content:   content,
		SentAt:    sentAt,
		Temporary: in.Temporary,
		ExpiresAt: expiresAt,
		CreatedAt: sentAt,
		UpdatedAt: sentAt,
	}
	m.Attachments = lo.Map(in.Attachments, func(f domain.AttachmentInput, i int) domain.Attachment {
		return newAttachment(m.ID, i, f, sentAt)
	})
	if err := repo.CreateMessage(ctx, s.DB, m); err != nil {
		return nil, storeErr(err)
	}

	if err := s.Chats.Touch(ctx, chat.ID, sentAt); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("chat_id", chat.ID).Msg("last_message_at not updated")
	}
	observability.MessagesSent.WithLabelValues(messageKind(m)).Inc()

	sender := s.profile(ctx, m.SenderID)
	m.Sender = &sender
	s.fanOut(chat, m, sender.DisplayName)
	return m, nil
}

// ListPage returns the visible messages of one page in chronological order
// and the total number of visible messages. Paging windows the most recent
// messages: page 1 holds the newest pageSize messages.
func (s *MessageService) ListPage(ctx context.Context, chatID, userID string, page, pageSize int) ([]domain.Message, int64, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := s.Chats.lookup(ctx, chatID, userID); err != nil {
		return nil, 0, err
	}

	page, pageSize = clampPage(page, pageSize, s.DefaultPageSize, s.MaxPageSize)
	offset := (page - 1) * pageSize
	now := s.now()

	total, err := repo.CountVisibleMessages(ctx, s.DB, chatID, now)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListVisibleMessagesPage(ctx, s.DB, chatID, now, offset, pageSize)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	items = lo.Reverse(items)
	s.resolveSenders(ctx, items)
	return items, total, nil
}

// MarkRead flags every unread message in the chat that userID did not write
// and returns how many changed. Zero is a valid result.
func (s *MessageService) MarkRead(ctx context.Context, chatID, userID string) (int64, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.Chats.lookup(ctx, chatID, userID); err != nil {
		return 0, err
	}
	n, err := repo.MarkChatRead(ctx, s.DB, chatID, userID, s.now())
	if err != nil {
		return 0, storeErr(err)
	}
	span.SetAttributes(attribute.Int64("messages.updated", n))
	return n, nil
}

// Delete hard-deletes a message written by userID.
func (s *MessageService) Delete(ctx context.Context, messageID, userID string) error {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if strings.TrimSpace(messageID) == "" || strings.TrimSpace(userID) == "" {
		return ErrMessageNotFound
	}
	stored, err := repo.DeleteSenderMessage(ctx, s.DB, messageID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return storeErr(err)
	}
	removeStored(ctx, s.Files, stored, log.Ctx(ctx))
	return nil
}

// AppendAttachments appends already stored files to a message written by
// senderID in chatID and returns the full attachment list.
func (s *MessageService) AppendAttachments(ctx context.Context, chatID, messageID, senderID string, files []domain.AttachmentInput) ([]domain.Attachment, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "AppendAttachments",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("message.id", messageID),
			attribute.Int("files", len(files)),
		),
	)
	defer span.End()

	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	now := s.now()
	m, err := s.attachable(ctx, chatID, messageID, senderID, now)
	if err != nil {
		return nil, err
	}

	out, err := repo.AppendAttachments(ctx, s.DB, m.ID, files, now)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// CheckAttachable reports whether senderID may attach files to messageID in
// chatID right now, with the errors AppendAttachments would return.
func (s *MessageService) CheckAttachable(ctx context.Context, chatID, messageID, senderID string) error {
	_, err := s.attachable(ctx, chatID, messageID, senderID, s.now())
	return err
}

// attachable loads a visible message written by senderID in an active chat
// of theirs. A chat miss is reported as a message miss; store failures keep
// their class.
func (s *MessageService) attachable(ctx context.Context, chatID, messageID, senderID string, now time.Time) (*domain.Message, error) {
	if _, err := s.Chats.lookup(ctx, chatID, senderID); err != nil {
		if errors.Is(err, ErrChatNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	m, err := repo.GetSenderMessage(ctx, s.DB, messageID, chatID, senderID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if !visible(m, now) {
		return nil, ErrMessageNotFound
	}
	return m, nil
}

// Get returns a visible message of a chat the caller participates in.
func (s *MessageService) Get(ctx context.Context, chatID, messageID, userID string) (*domain.Message, error) {
	if _, err := s.Chats.lookup(ctx, chatID, userID); err != nil {
		return nil, err
	}
	m, err := repo.GetMessage(ctx, s.DB, messageID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if m.ChatID != chatID || !visible(m, s.now()) {
		return nil, ErrMessageNotFound
	}
	sender := s.profile(ctx, m.SenderID)
	m.Sender = &sender
	return m, nil
}

func (s *MessageService) maxRunes() int {
	if s.MaxContentRunes <= 0 || s.MaxContentRunes > DefaultMaxContentRunes {
		return DefaultMaxContentRunes
	}
	return s.MaxContentRunes
}

func (s *MessageService) maxTTL() time.Duration {
	if s.MaxTTL <= 0 || s.MaxTTL > DefaultMaxTTL {
		return DefaultMaxTTL
	}
	return s.MaxTTL
}

func (s *MessageService) fanOut(chat *domain.Chat, m *domain.Message, senderName string) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Enqueue(notify.DirectMessage(chat, m, senderName, s.LinkBase)...)
}

func (s *MessageService) profile(ctx context.Context, id string) domain.Profile {
	profiles, err := s.Dir.Profiles(ctx, id)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("sender projection failed")
	}
	if p, ok := profiles[id]; ok {
		return p
	}
	return directory.Placeholder(id)
}

func (s *MessageService) resolveSenders(ctx context.Context, items []domain.Message) {
	ids := lo.Uniq(lo.Map(items, func(m domain.Message, _ int) string { return m.SenderID }))
	profiles, err := s.Dir.Profiles(ctx, ids...)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("sender projection failed")
	}
	for i := range items {
		p, ok := profiles[items[i].SenderID]
		if !ok {
			p = directory.Placeholder(items[i].SenderID)
		}
		items[i].Sender = &p
	}
}

// visible mirrors repo.VisibleAt for a loaded message.
func visible(m *domain.Message, now time.Time) bool {
	return !m.Temporary || (m.ExpiresAt != nil && m.ExpiresAt.After(now))
}

func messageKind(m *domain.Message) string {
	if m.Temporary {
		return "temporary"
	}
	return "permanent"
}

func newAttachment(messageID string, pos int, f domain.AttachmentInput, at time.Time) domain.Attachment {
	return domain.Attachment{
		ID:           uuid.NewString(),
		MessageID:    messageID,
		Position:     pos,
		Path:         f.Path,
		OriginalName: f.OriginalName,
		StoredName:   f.StoredName,
		ContentType:  f.ContentType,
		Size:         f.Size,
		CreatedAt:    at,
	}
}
