package handlers

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/storage"
)

// AttachmentsResponse lists every attachment of the message after an append.
type AttachmentsResponse struct {
	Attachments []domain.Attachment `json:"attachments"`
}

// UploadAttachments godoc
// @ID          uploadAttachments
// @Summary     Attach files to a message
// @Description Stores the uploaded files and appends them, in upload order, to a message the caller sent.
// @Tags        Messages
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
//
// @Param       id         path      string  true  "Chat ID"     format(uuid)
// @Param       messageId  path      string  true  "Message ID"  format(uuid)
// @Param       files      formData  file    true  "One or more files"
//
// @Success     201  {object} handlers.AttachmentsResponse
// @Failure     400  {object} handlers.ErrorResponse "No files"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Failure     413  {object} handlers.ErrorResponse "File too large"
// @Router      /chats/{id}/messages/{messageId}/attachments [post]
func (h *Handlers) UploadAttachments(c *gin.Context) {
	uid, authed := caller(c)
	if !authed {
		return
	}
	if h.files == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "attachment storage is not configured")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		h.badBody(c, err)
		return
	}
	parts := form.File["files"]
	if len(parts) == 0 {
		h.writeErr(c, services.ErrNoFiles)
		return
	}
	if len(parts) > h.opts.MaxFilesPerUpload {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("at most %d files per request", h.opts.MaxFilesPerUpload))
		return
	}

	ctx := c.Request.Context()
	// Nothing is written for a caller who could not attach anyway.
	if err := h.session.CanAttach(ctx, c.Param("id"), c.Param("messageId"), uid); err != nil {
		h.writeErr(c, err)
		return
	}

	stored := make([]domain.AttachmentInput, 0, len(parts))
	for _, fh := range parts {
		in, err := h.storeOne(ctx, fh)
		if err != nil {
			h.discard(c, stored)
			h.writeErr(c, err)
			return
		}
		stored = append(stored, in)
	}

	atts, err := h.session.AttachFiles(ctx, c.Param("id"), c.Param("messageId"), uid, stored)
	if err != nil {
		h.discard(c, stored)
		h.writeErr(c, err)
		return
	}
	ok(c, http.StatusCreated, AttachmentsResponse{Attachments: atts})
}

func (h *Handlers) storeOne(ctx context.Context, fh *multipart.FileHeader) (domain.AttachmentInput, error) {
	f, err := fh.Open()
	if err != nil {
		return domain.AttachmentInput{}, err
	}
	defer f.Close()
	return h.files.Store(ctx, f, storage.FileMeta{OriginalName: fh.Filename})
}

// discard removes files written for a request that did not complete.
func (h *Handlers) discard(c *gin.Context, files []domain.AttachmentInput) {
	for _, f := range files {
		if err := h.files.Remove(c.Request.Context(), f.StoredName); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("file", f.StoredName).Msg("orphaned upload not removed")
		}
	}
}
