// Chat HTTP handlers.
//
// This file exposes REST endpoints for direct-message chats:
//   - POST   /chats       (create or return the existing chat with a user)
//   - GET    /chats       (list, paginated, ETag support)
//   - GET    /chats/{id}  (get one)
//   - DELETE /chats/{id}  (soft-delete)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/utils"
)

const (
	defaultChatPageSize = 20
	maxPageSize         = 100
)

// CreateChatRequest is the JSON payload for starting a chat.
type CreateChatRequest struct {
	// ParticipantID is the other user of the conversation.
	ParticipantID string `json:"participant_id" binding:"required,notblank,max=64" example:"user-bob"`
}

// ListChatsResponse wraps a page of chats and pagination information.
type ListChatsResponse struct {
	Chats      []domain.Chat `json:"chats"`
	Pagination Pagination    `json:"pagination"`
}

// CreateChat godoc
// @ID          createChat
// @Summary     Start a direct-message chat
// @Description Returns the active chat between the caller and participant_id, creating it on first use.
// @Description 201 means a new chat was created, 200 that an existing one was returned.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateChatRequest  true  "Create chat payload"
//
// @Success     201  {object}  domain.Chat
// @Success     200  {object}  domain.Chat
// @Failure     400  {object}  handlers.ErrorResponse  "Missing participant or self chat"
// @Failure     404  {object}  handlers.ErrorResponse  "Participant unknown or inactive"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /chats [post]
func (h *Handlers) CreateChat(c *gin.Context) {
	uid, authed := caller(c)
	if !authed {
		return
	}
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}

	chat, created, err := h.session.CreateChat(c.Request.Context(), uid, strings.TrimSpace(req.ParticipantID))
	if err != nil {
		h.writeErr(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ok(c, status, chat)
}

// ListChats godoc
// @ID          listChats
// @Summary     List chats (paginated)
// @Description Returns the caller's active chats, most recent activity first. Supports weak ETag via If-None-Match.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     503  {object} handlers.ErrorResponse "Storage unavailable"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	uid, authed := caller(c)
	if !authed {
		return
	}
	ctx := c.Request.Context()
	page, size := utils.PageParams(c.Query("page"), c.Query("page_size"), defaultChatPageSize, maxPageSize)

	etag, err := h.session.ChatsETag(ctx, uid)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	if notModified(c, etag) {
		return
	}

	items, total, err := h.session.ListChats(ctx, uid, page, size)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListChatsResponse{
		Chats:      items,
		Pagination: newPagination(page, size, total),
	})
}

// GetChat godoc
// @ID          getChat
// @Summary     Get a chat
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Chat ID"  format(uuid)
//
// @Success     200  {object} domain.Chat
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	uid, authed := caller(c)
	if !authed {
		return
	}
	chat, err := h.session.GetChat(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	ok(c, http.StatusOK, chat)
}

// DeleteChat godoc
// @ID          deleteChat
// @Summary     Delete a chat
// @Description Soft-deletes the chat for both participants. A later create for the same pair starts a new chat.
// @Tags        Chats
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Chat ID"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id} [delete]
func (h *Handlers) DeleteChat(c *gin.Context) {
	uid, authed := caller(c)
	if !authed {
		return
	}
	if err := h.session.DeleteChat(c.Request.Context(), c.Param("id"), uid); err != nil {
		h.writeErr(c, err)
		return
	}
	noContent(c)
}
