package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/storage"
)

// Session is the direct-message facade consumed by the handlers.
// *services.ChatSession satisfies it.
type Session interface {
	CreateChat(ctx context.Context, callerID, otherID string) (*domain.Chat, bool, error)
	ListChats(ctx context.Context, callerID string, page, pageSize int) ([]domain.Chat, int64, error)
	GetChat(ctx context.Context, chatID, callerID string) (*domain.Chat, error)
	DeleteChat(ctx context.Context, chatID, callerID string) error

	SendMessage(ctx context.Context, in services.SendInput, idemKey string) (*domain.Message, bool, error)
	CanAttach(ctx context.Context, chatID, messageID, senderID string) error
	AttachFiles(ctx context.Context, chatID, messageID, senderID string, files []domain.AttachmentInput) ([]domain.Attachment, error)
	ListMessages(ctx context.Context, chatID, callerID string, page, pageSize int) ([]domain.Message, int64, error)
	MarkRead(ctx context.Context, chatID, callerID string) (int64, error)
	DeleteMessage(ctx context.Context, messageID, callerID string) error

	ChatsETag(ctx context.Context, callerID string) (string, error)
	MessagesETag(ctx context.Context, chatID, callerID string) (string, error)
}

// FileStore persists uploaded attachment bytes. *storage.LocalStore
// satisfies it.
type FileStore interface {
	Store(ctx context.Context, r io.Reader, meta storage.FileMeta) (domain.AttachmentInput, error)
	Remove(ctx context.Context, storedName string) error
}

// Options tunes handler behavior.
type Options struct {
	// ExposeErrors forwards storage error detail to clients.
	ExposeErrors bool
	// MaxFilesPerUpload bounds one attachment request. Defaults to 10.
	MaxFilesPerUpload int
}

// Handlers groups the HTTP endpoints for chats, messages and attachments.
type Handlers struct {
	session Session
	files   FileStore
	opts    Options
}

// New binds handlers to a session and an attachment store. files may be nil,
// in which case uploads answer 503.
func New(session Session, files FileStore, opts Options) *Handlers {
	if opts.MaxFilesPerUpload <= 0 {
		opts.MaxFilesPerUpload = 10
	}
	return &Handlers{session: session, files: files, opts: opts}
}

// caller returns the authenticated user, answering 401 when the route was
// mounted without authentication.
func caller(c *gin.Context) (string, bool) {
	uid := middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return "", false
	}
	return uid, true
}
