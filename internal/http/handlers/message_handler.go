// Message HTTP handlers.
//
// This file exposes REST endpoints for chat messages:
//   - POST   /chats/{id}/messages  (send, optionally temporary)
//   - GET    /chats/{id}/messages  (chronological pages, ETag support)
//   - POST   /chats/{id}/read      (mark the counterpart's messages read)
//   - DELETE /messages/{id}        (sender deletes own message)
//
// Idempotency: when the client sends an Idempotency-Key that already
// produced a message for (caller, chat), the stored message is returned with
// 200 and `Idempotency-Replayed: true` instead of 201.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/utils"
)

const defaultMessagePageSize = 50

// PostMessageRequest is the JSON payload for sending a message.
type PostMessageRequest struct {
	// Content is the message text; trimmed, 1..2000 characters.
	Content string `json:"content" example:"See you at 6?"`
	// Temporary marks a self-destructing message.
	Temporary bool `json:"temporary" example:"false"`
	// ExpiresAt is required for temporary messages: in the future and at
	// most 24h after sending.
	ExpiresAt *time.Time `json:"expires_at,omitempty" example:"2025-07-01T12:00:00Z"`
}

// PostMessageResponse is the JSON envelope for a sent message.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse contains a page of chat messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// MarkReadResponse reports how many messages changed state.
type MarkReadResponse struct {
	Updated int64 `json:"updated" example:"3"`
}

// normalizeNewlines converts CRLF and CR line endings to LF.
func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message
// @Description Appends a message to the chat and notifies the other participant.
// @Description Supports idempotent retries via the Idempotency-Key header.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Chat ID"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.PostMessageResponse  "Created"
// @Success     200  {object}  handlers.PostMessageResponse  "Idempotent replay"
// @Header      200  {string}  Idempotency-Replayed "true"
// @Failure     400  {object}  handlers.ErrorResponse  "invalid_content, invalid_expiry or bad_request"
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /chats/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	uid, authed := caller(c)
	if !authed {
		return
	}
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	msg, replayed, err := h.session.SendMessage(c.Request.Context(), services.SendInput{
		ChatID:    c.Param("id"),
		SenderID:  uid,
		Content:   normalizeNewlines(req.Content),
		Temporary: req.Temporary,
		ExpiresAt: req.ExpiresAt,
	}, key)
	if err != nil {
		h.writeErr(c, err)
		return
	}

	if replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		ok(c, http.StatusOK, PostMessageResponse{Message: msg})
		return
	}
	ok(c, http.StatusCreated, PostMessageResponse{Message: msg})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chat
// @Description Returns visible messages in chronological order. Page 1 holds the newest messages.
// @Description Expired temporary messages are never returned. Supports weak ETag via If-None-Match.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       id             path    string  true  "Chat ID"         format(uuid)
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(50)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	uid, authed := caller(c)
	if !authed {
		return
	}
	ctx := c.Request.Context()
	chatID := c.Param("id")
	page, size := utils.PageParams(c.Query("page"), c.Query("page_size"), defaultMessagePageSize, maxPageSize)

	etag, err := h.session.MessagesETag(ctx, chatID, uid)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	if notModified(c, etag) {
		return
	}

	items, total, err := h.session.ListMessages(ctx, chatID, uid, page, size)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: newPagination(page, size, total),
	})
}

// MarkRead godoc
// @ID          markRead
// @Summary     Mark a chat as read
// @Description Marks every unread message written by the other participant as read.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Chat ID"  format(uuid)
//
// @Success     200  {object} handlers.MarkReadResponse
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/read [post]
func (h *Handlers) MarkRead(c *gin.Context) {
	uid, authed := caller(c)
	if !authed {
		return
	}
	n, err := h.session.MarkRead(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, MarkReadResponse{Updated: n})
}

// DeleteMessage godoc
// @ID          deleteMessage
// @Summary     Delete a message
// @Description Removes a message written by the caller together with its attachments.
// @Tags        Messages
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Message ID"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Router      /messages/{id} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	uid, authed := caller(c)
	if !authed {
		return
	}
	if err := h.session.DeleteMessage(c.Request.Context(), c.Param("id"), uid); err != nil {
		h.writeErr(c, err)
		return
	}
	noContent(c)
}
