// Package services – ChatService
//
// This file implements ChatService, the chat registry. It owns chat
// creation and the "one active chat per unordered pair" rule, participant
// scoped lookups, paginated listing and soft deletion.
//
// Missing, inactive and foreign chats all surface as ErrChatNotFound so that
// non-participants learn nothing about existence.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dm-backend/internal/directory"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

// ChatRepo defines the repository contract required by ChatService.
type ChatRepo interface {
	// CreateChat inserts a chat; a concurrent insert for the same pair
	// yields repo.ErrDuplicate.
	CreateChat(ctx context.Context, db *gorm.DB, c *domain.Chat) error

	// FindActiveChatByPair returns the active chat for an unordered pair.
	FindActiveChatByPair(ctx context.Context, db *gorm.DB, a, b string) (*domain.Chat, error)

	// GetActiveChat fetches an active chat the user participates in.
	GetActiveChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error)

	// CountChats returns the number of active chats for pagination.
	CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListChatsPage returns a page of active chats, most recent activity first.
	ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error)

	// DeactivateChat soft-deletes a chat the user participates in.
	DeactivateChat(ctx context.Context, db *gorm.DB, id, userID string) error

	// TouchChat moves last_message_at forward.
	TouchChat(ctx context.Context, db *gorm.DB, id string, at time.Time) error
}

// GormChatRepo adapts the repository free functions to ChatRepo.
type GormChatRepo struct{}

// CreateChat proxies repo.CreateChat.
func (GormChatRepo) CreateChat(ctx context.Context, db *gorm.DB, c *domain.Chat) error {
	return repo.CreateChat(ctx, db, c)
}

// FindActiveChatByPair proxies repo.FindActiveChatByPair.
func (GormChatRepo) FindActiveChatByPair(ctx context.Context, db *gorm.DB, a, b string) (*domain.Chat, error) {
	return repo.FindActiveChatByPair(ctx, db, a, b)
}

// GetActiveChat proxies repo.GetActiveChat.
func (GormChatRepo) GetActiveChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	return repo.GetActiveChat(ctx, db, id, userID)
}

// CountChats proxies repo.CountChats.
func (GormChatRepo) CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountChats(ctx, db, userID)
}

// ListChatsPage proxies repo.ListChatsPage.
func (GormChatRepo) ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error) {
	return repo.ListChatsPage(ctx, db, userID, offset, limit)
}

// DeactivateChat proxies repo.DeactivateChat.
func (GormChatRepo) DeactivateChat(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.DeactivateChat(ctx, db, id, userID)
}

// TouchChat proxies repo.TouchChat.
func (GormChatRepo) TouchChat(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return repo.TouchChat(ctx, db, id, at)
}

// ChatService provides chat-level operations.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the chat repository used by this service.
	Repo ChatRepo
	// Dir validates participants and resolves display projections.
	Dir directory.Directory
	// Now is the clock; tests replace it.
	Now func() time.Time

	// DefaultPageSize applies when the caller passes pageSize <= 0.
	DefaultPageSize int
	// MaxPageSize caps pageSize.
	MaxPageSize int
}

// NewChatService constructs a ChatService with default paging.
func NewChatService(db *gorm.DB, r ChatRepo, dir directory.Directory) *ChatService {
	return &ChatService{
		DB:              db,
		Repo:            r,
		Dir:             dir,
		Now:             time.Now,
		DefaultPageSize: 20,
		MaxPageSize:     100,
	}
}

func (s *ChatService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// CreateOrGet returns the active chat between callerID and otherID, creating
// it when none exists. created reports whether a new chat was inserted.
// Calls with the pair in either order return the same chat.
func (s *ChatService) CreateOrGet(ctx context.Context, callerID, otherID string) (chat *domain.Chat, created bool, err error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "CreateOrGet",
		trace.WithAttributes(
			attribute.String("user.id", callerID),
			attribute.String("participant.id", otherID),
		),
	)
	defer span.End()

	callerID, otherID = strings.TrimSpace(callerID), strings.TrimSpace(otherID)
	if otherID == "" || callerID == "" {
		return nil, false, ErrMissingParticipant
	}
	if otherID == callerID {
		return nil, false, ErrSelfChat
	}

	valid, err := s.Dir.ValidUsers(ctx, callerID, otherID)
	if err != nil {
		return nil, false, storeErr(err)
	}
	if len(valid) != 2 {
		return nil, false, ErrParticipantsInvalid
	}

	existing, err := s.Repo.FindActiveChatByPair(ctx, s.DB, callerID, otherID)
	switch {
	case err == nil:
		return s.withParticipants(ctx, existing), false, nil
	case !errors.Is(err, repo.ErrNotFound):
		return nil, false, storeErr(err)
	}

	now := s.now()
	a, b := domain.SortPair(callerID, otherID)
	key := domain.PairKey(a, b)
	c := &domain.Chat{
		ID:            uuid.NewString(),
		UserA:         a,
		UserB:         b,
		PairKey:       &key,
		Active:        true,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Repo.CreateChat(ctx, s.DB, c); err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, false, storeErr(err)
		}
		// Lost the race for this pair: hand back the winner.
		winner, ferr := s.Repo.FindActiveChatByPair(ctx, s.DB, a, b)
		if ferr != nil {
			return nil, false, storeErr(ferr)
		}
		return s.withParticipants(ctx, winner), false, nil
	}
	return s.withParticipants(ctx, c), true, nil
}

// Get returns an active chat that userID participates in.
func (s *ChatService) Get(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	c, err := s.lookup(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	return s.withParticipants(ctx, c), nil
}

// ListPage returns a page of the user's active chats (most recent activity
// first) and the total count. page is 1-indexed; pageSize is clamped.
func (s *ChatService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Chat, int64, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize = clampPage(page, pageSize, s.DefaultPageSize, s.MaxPageSize)
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountChats(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	if total == 0 {
		return []domain.Chat{}, 0, nil
	}

	items, err := s.Repo.ListChatsPage(ctx, s.DB, userID, offset, pageSize)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	s.resolveParticipants(ctx, items)
	return items, total, nil
}

// Deactivate soft-deletes a chat. A second call reports ErrChatNotFound
// because inactive chats are invisible.
func (s *ChatService) Deactivate(ctx context.Context, chatID, userID string) error {
	err := s.Repo.DeactivateChat(ctx, s.DB, chatID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrChatNotFound
	}
	return storeErr(err)
}

// Touch records activity on a chat at the given instant.
func (s *ChatService) Touch(ctx context.Context, chatID string, at time.Time) error {
	return storeErr(s.Repo.TouchChat(ctx, s.DB, chatID, at.UTC()))
}

// lookup is the participant access check shared with MessageService.
func (s *ChatService) lookup(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	if strings.TrimSpace(chatID) == "" || strings.TrimSpace(userID) == "" {
		return nil, ErrChatNotFound
	}
	c, err := s.Repo.GetActiveChat(ctx, s.DB, chatID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if !domain.IsParticipant(c, userID) {
		return nil, ErrChatNotFound
	}
	return c, nil
}

func (s *ChatService) withParticipants(ctx context.Context, c *domain.Chat) *domain.Chat {
	items := []domain.Chat{*c}
	s.resolveParticipants(ctx, items)
	*c = items[0]
	return c
}

// resolveParticipants fills Participants with one directory round-trip.
// Projection is cosmetic: on directory failure placeholders are used.
func (s *ChatService) resolveParticipants(ctx context.Context, chats []domain.Chat) {
	ids := lo.Uniq(lo.FlatMap(chats, func(c domain.Chat, _ int) []string {
		return domain.ParticipantIDs(&c)
	}))
	profiles, err := s.Dir.Profiles(ctx, ids...)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("participant projection failed")
		profiles = nil
	}
	for i := range chats {
		chats[i].Participants = lo.Map(domain.ParticipantIDs(&chats[i]), func(id string, _ int) domain.Profile {
			if p, ok := profiles[id]; ok {
				return p
			}
			return directory.Placeholder(id)
		})
	}
}

// clampPage applies 1-indexed page defaults and the [1, max] page size bound.
func clampPage(page, pageSize, def, max int) (int, int) {
	if page < 1 {
		page = 1
	}
	if def <= 0 {
		def = 20
	}
	if pageSize <= 0 {
		pageSize = def
	}
	if max > 0 && pageSize > max {
		pageSize = max
	}
	return page, pageSize
}
