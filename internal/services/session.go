// Package services – ChatSession
//
// ChatSession is the facade callers use for every direct-message operation.
// It composes the chat registry and the message store and adds the request
// level concerns that span both: idempotent sends and conditional-response
// tags.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

// ChatSession orchestrates ChatService and MessageService.
type ChatSession struct {
	DB       *gorm.DB
	Chats    *ChatService
	Messages *MessageService

	// IdempotencyTTL bounds how long a send key is remembered.
	IdempotencyTTL time.Duration
}

// NewChatSession wires a facade over the given services.
func NewChatSession(db *gorm.DB, chats *ChatService, messages *MessageService, idemTTL time.Duration) *ChatSession {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &ChatSession{DB: db, Chats: chats, Messages: messages, IdempotencyTTL: idemTTL}
}

// CreateChat returns the chat between the caller and otherID, creating it on
// first use. created is false when an existing chat was returned.
func (s *ChatSession) CreateChat(ctx context.Context, callerID, otherID string) (*domain.Chat, bool, error) {
	return s.Chats.CreateOrGet(ctx, callerID, otherID)
}

// ListChats returns a page of the caller's chats and the total.
func (s *ChatSession) ListChats(ctx context.Context, callerID string, page, pageSize int) ([]domain.Chat, int64, error) {
	return s.Chats.ListPage(ctx, callerID, page, pageSize)
}

// GetChat returns one chat of the caller.
func (s *ChatSession) GetChat(ctx context.Context, chatID, callerID string) (*domain.Chat, error) {
	return s.Chats.Get(ctx, chatID, callerID)
}

// DeleteChat soft-deletes a chat of the caller.
func (s *ChatSession) DeleteChat(ctx context.Context, chatID, callerID string) error {
	return s.Chats.Deactivate(ctx, chatID, callerID)
}

// Pending reservations are polled at this interval for at most pendingWait.
const (
	pendingPoll = 20 * time.Millisecond
	pendingWait = 3 * time.Second
)

// SendMessage appends a message. With a non-empty idemKey, a repeated call
// by the same sender to the same chat within IdempotencyTTL returns the
// first message and replayed=true, without a second insert or notification.
// Concurrent calls with one key produce a single message: the key is claimed
// before the insert and the others wait for the claim to resolve.
func (s *ChatSession) SendMessage(ctx context.Context, in SendInput, idemKey string) (msg *domain.Message, replayed bool, err error) {
	idemKey = strings.TrimSpace(idemKey)
	var claim *domain.Idempotency
	if idemKey != "" {
		var prev *domain.Message
		claim, prev, err = s.claim(ctx, in, idemKey)
		if err != nil {
			return nil, false, err
		}
		if prev != nil {
			return prev, true, nil
		}
	}

	m, err := s.Messages.Append(ctx, in)
	if err != nil {
		if claim != nil {
			if rerr := repo.ReleaseIdempotency(context.WithoutCancel(ctx), s.DB, claim.ID); rerr != nil {
				log.Ctx(ctx).Warn().Err(rerr).Str("chat_id", in.ChatID).Msg("idempotency reservation not released")
			}
		}
		return nil, false, err
	}

	if claim != nil {
		if cerr := repo.CompleteIdempotency(ctx, s.DB, claim.ID, m.ID, 201); cerr != nil {
			log.Ctx(ctx).Warn().Err(cerr).Str("chat_id", in.ChatID).Msg("idempotency record not stored")
		}
	}
	return m, false, nil
}

// claim reserves key for this send, or returns the message an earlier send
// with the same key produced. A reservation held by a concurrent send is
// waited on. When the key cannot be recorded at all, both results are nil
// and the send goes ahead unguarded.
func (s *ChatSession) claim(ctx context.Context, in SendInput, key string) (*domain.Idempotency, *domain.Message, error) {
	deadline := time.Now().Add(pendingWait)
	for {
		now := s.Messages.now()
		rec, err := repo.ReserveIdempotency(ctx, s.DB, in.SenderID, in.ChatID, key, now, s.IdempotencyTTL)
		if err == nil {
			return rec, nil, nil
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			log.Ctx(ctx).Warn().Err(err).Str("chat_id", in.ChatID).Msg("idempotency reservation failed")
			return nil, nil, nil
		}

		held, err := repo.GetIdempotency(ctx, s.DB, in.SenderID, in.ChatID, key, now)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			// Released between the two calls; claim it again.
			if time.Now().After(deadline) {
				return nil, nil, ErrSendInProgress
			}
			continue
		case err != nil:
			return nil, nil, storeErr(err)
		case !held.Pending():
			m, err := s.Messages.Get(ctx, in.ChatID, held.MessageID, in.SenderID)
			if errors.Is(err, ErrStoreUnavailable) {
				return nil, nil, err
			}
			if err != nil {
				// The original message is gone; send a new one.
				return nil, nil, nil
			}
			return nil, m, nil
		}

		if time.Now().After(deadline) {
			return nil, nil, ErrSendInProgress
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(pendingPoll):
		}
	}
}

// HasIdempotentResult reports whether key already produced a message for the
// sender in chatID. A pending reservation has not.
func (s *ChatSession) HasIdempotentResult(ctx context.Context, userID, chatID, key string, now time.Time) (bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, chatID, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err)
	}
	return !rec.Pending(), nil
}

// CanAttach reports whether the caller may attach files to the message, so
// uploads can be refused before any byte is written.
func (s *ChatSession) CanAttach(ctx context.Context, chatID, messageID, senderID string) error {
	return s.Messages.CheckAttachable(ctx, chatID, messageID, senderID)
}

// AttachFiles appends stored files to a message of the caller.
func (s *ChatSession) AttachFiles(ctx context.Context, chatID, messageID, senderID string, files []domain.AttachmentInput) ([]domain.Attachment, error) {
	return s.Messages.AppendAttachments(ctx, chatID, messageID, senderID, files)
}

// ListMessages returns a chronological page of visible messages.
func (s *ChatSession) ListMessages(ctx context.Context, chatID, callerID string, page, pageSize int) ([]domain.Message, int64, error) {
	return s.Messages.ListPage(ctx, chatID, callerID, page, pageSize)
}

// MarkRead marks the counterpart's messages as read.
func (s *ChatSession) MarkRead(ctx context.Context, chatID, callerID string) (int64, error) {
	return s.Messages.MarkRead(ctx, chatID, callerID)
}

// DeleteMessage removes a message written by the caller.
func (s *ChatSession) DeleteMessage(ctx context.Context, messageID, callerID string) error {
	return s.Messages.Delete(ctx, messageID, callerID)
}

// ChatsETag returns a weak ETag over the caller's active chats.
func (s *ChatSession) ChatsETag(ctx context.Context, callerID string) (string, error) {
	count, maxTS, err := repo.ChatsStats(ctx, s.DB, callerID)
	if err != nil {
		return "", storeErr(err)
	}
	return weakETag("chats", callerID, count, maxTS), nil
}

// MessagesETag returns a weak ETag over the messages visible now in a chat
// of the caller. The tag changes when a temporary message expires.
func (s *ChatSession) MessagesETag(ctx context.Context, chatID, callerID string) (string, error) {
	if _, err := s.Chats.lookup(ctx, chatID, callerID); err != nil {
		return "", err
	}
	count, maxTS, err := repo.MessagesStats(ctx, s.DB, chatID, s.Messages.now())
	if err != nil {
		return "", storeErr(err)
	}
	return weakETag("messages", chatID, count, maxTS), nil
}

func weakETag(kind, id string, count int64, maxTS *time.Time) string {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf(`W/"%s:%s:%d:%d"`, kind, id, count, ts)
}
