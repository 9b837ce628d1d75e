package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dm-backend/internal/directory"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/storage"
)

var t0 = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
	RegisterValidators()
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// env is a handler stack over a real ChatSession on a temp SQLite file.
type env struct {
	db        *gorm.DB
	clock     *clock
	session   *services.ChatSession
	uploadDir string
	r         *gin.Engine
}

func newEnv(t *testing.T) *env {
	return newEnvWithStore(t, 1<<20)
}

func newEnvWithStore(t *testing.T, maxUpload int64) *env {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "handlers.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	users := []domain.User{
		{ID: "alice", Handle: "alice", DisplayName: "Alice", Active: true},
		{ID: "bob", Handle: "bob", DisplayName: "Bob", Active: true},
		{ID: "carol", Handle: "carol", DisplayName: "Carol", Active: true},
		{ID: "dave", Handle: "dave", DisplayName: "Dave", Active: true},
	}
	if err := db.Create(&users).Error; err != nil {
		t.Fatalf("seed users: %v", err)
	}
	if err := db.Model(&domain.User{}).Where("id = ?", "dave").Update("active", false).Error; err != nil {
		t.Fatalf("deactivate dave: %v", err)
	}

	clk := &clock{now: t0}
	dir := directory.NewUserDirectory(db)
	chats := services.NewChatService(db, services.GormChatRepo{}, dir)
	chats.Now = clk.Now
	msgs := services.NewMessageService(db, chats, dir, nil)
	msgs.Now = clk.Now
	session := services.NewChatSession(db, chats, msgs, time.Hour)

	uploadDir := t.TempDir()
	store, err := storage.NewLocalStore(uploadDir, "/uploads", maxUpload)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	e := &env{db: db, clock: clk, session: session, uploadDir: uploadDir}
	e.r = newRouter(New(session, store, Options{MaxFilesPerUpload: 3}), session.HasIdempotentResult, clk.Now)
	return e
}

// newRouter mounts every handler behind header authentication.
func newRouter(h *Handlers, lookup middleware.IdempotencyLookup, now func() time.Time) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	api := r.Group("", middleware.Authenticate(middleware.AuthOptions{AllowUserHeader: true}))
	api.POST("/chats", h.CreateChat)
	api.GET("/chats", h.ListChats)
	api.GET("/chats/:id", h.GetChat)
	api.DELETE("/chats/:id", h.DeleteChat)
	api.GET("/chats/:id/messages", h.ListMessages)
	api.POST("/chats/:id/messages",
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{Now: now}, lookup),
		h.PostMessage)
	api.POST("/chats/:id/read", h.MarkRead)
	api.POST("/chats/:id/messages/:messageId/attachments", h.UploadAttachments)
	api.DELETE("/messages/:id", h.DeleteMessage)
	return r
}

func call(r http.Handler, method, target, user string, body any, hdr ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d; want %d (%s)", w.Code, status, w.Body.String())
	}
	var er ErrorResponse
	decodeInto(t, w, &er)
	if er.Code != code {
		t.Fatalf("code = %q; want %q (%s)", er.Code, code, er.Message)
	}
	if er.RequestID == "" {
		t.Fatalf("error envelope without request id")
	}
	return er
}

// mustChat opens a chat between a and b through the API.
func (e *env) mustChat(t *testing.T, a, b string) domain.Chat {
	t.Helper()
	w := call(e.r, http.MethodPost, "/chats", a, CreateChatRequest{ParticipantID: b})
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("create chat: %d %s", w.Code, w.Body.String())
	}
	var c domain.Chat
	decodeInto(t, w, &c)
	return c
}

// mustSend posts a permanent message through the API.
func (e *env) mustSend(t *testing.T, chatID, sender, content string) domain.Message {
	t.Helper()
	w := call(e.r, http.MethodPost, "/chats/"+chatID+"/messages", sender, PostMessageRequest{Content: content})
	if w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}
	var resp PostMessageResponse
	decodeInto(t, w, &resp)
	return *resp.Message
}

type upload struct {
	name string
	data []byte
}

func multipartBody(t *testing.T, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		fw, err := mw.CreateFormFile("files", f.name)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		if _, err := fw.Write(f.data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func postFiles(r http.Handler, target, user string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(middleware.HeaderUserID, user)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// stubSession returns canned values; nil funcs panic so unexpected calls fail
// loudly, except canAttach, which allows by default.
type stubSession struct {
	canAttach    func(ctx context.Context, chatID, messageID, sender string) error
	attach       func(ctx context.Context, chatID, messageID, sender string, files []domain.AttachmentInput) ([]domain.Attachment, error)
	createChat   func(ctx context.Context, caller, other string) (*domain.Chat, bool, error)
	listChats    func(ctx context.Context, caller string, page, size int) ([]domain.Chat, int64, error)
	chatsETag    func(ctx context.Context, caller string) (string, error)
	send         func(ctx context.Context, in services.SendInput, key string) (*domain.Message, bool, error)
	messagesETag func(ctx context.Context, chatID, caller string) (string, error)
}

func (s stubSession) CreateChat(ctx context.Context, caller, other string) (*domain.Chat, bool, error) {
	return s.createChat(ctx, caller, other)
}
func (s stubSession) ListChats(ctx context.Context, caller string, page, size int) ([]domain.Chat, int64, error) {
	return s.listChats(ctx, caller, page, size)
}
func (s stubSession) GetChat(context.Context, string, string) (*domain.Chat, error) {
	return nil, fmt.Errorf("unexpected GetChat")
}
func (s stubSession) DeleteChat(context.Context, string, string) error {
	return fmt.Errorf("unexpected DeleteChat")
}
func (s stubSession) SendMessage(ctx context.Context, in services.SendInput, key string) (*domain.Message, bool, error) {
	return s.send(ctx, in, key)
}
func (s stubSession) CanAttach(ctx context.Context, chatID, messageID, sender string) error {
	if s.canAttach == nil {
		return nil
	}
	return s.canAttach(ctx, chatID, messageID, sender)
}
func (s stubSession) AttachFiles(ctx context.Context, chatID, messageID, sender string, files []domain.AttachmentInput) ([]domain.Attachment, error) {
	if s.attach == nil {
		return nil, fmt.Errorf("unexpected AttachFiles")
	}
	return s.attach(ctx, chatID, messageID, sender, files)
}
func (s stubSession) ListMessages(context.Context, string, string, int, int) ([]domain.Message, int64, error) {
	return nil, 0, fmt.Errorf("unexpected ListMessages")
}
func (s stubSession) MarkRead(context.Context, string, string) (int64, error) {
	return 0, fmt.Errorf("unexpected MarkRead")
}
func (s stubSession) DeleteMessage(context.Context, string, string) error {
	return fmt.Errorf("unexpected DeleteMessage")
}
func (s stubSession) ChatsETag(ctx context.Context, caller string) (string, error) {
	return s.chatsETag(ctx, caller)
}
func (s stubSession) MessagesETag(ctx context.Context, chatID, caller string) (string, error) {
	return s.messagesETag(ctx, chatID, caller)
}
