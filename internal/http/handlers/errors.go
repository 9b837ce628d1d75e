// Package handlers defines the HTTP error taxonomy used across endpoints.
//
// Codes are lowercase snake_case. Generic codes mirror HTTP semantics; the
// domain codes (invalid_content, invalid_expiry, participants_invalid,
// store_unavailable) carry the service error classes to clients, which are
// expected to branch on the code rather than on the message.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/storage"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeInvalidContent      = "invalid_content"
	ErrCodeInvalidExpiry       = "invalid_expiry"
	ErrCodeParticipantsInvalid = "participants_invalid"
	ErrCodeStoreUnavailable    = "store_unavailable"
)

// writeErr maps a service or storage error to status and code and writes
// the envelope. Storage failure detail only reaches the client when the
// handlers were built with ExposeErrors.
func (h *Handlers) writeErr(c *gin.Context, err error) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, services.ErrInvalidContent):
		fail(c, http.StatusBadRequest, ErrCodeInvalidContent, err.Error())
	case errors.Is(err, services.ErrInvalidExpiry):
		fail(c, http.StatusBadRequest, ErrCodeInvalidExpiry, err.Error())
	case errors.Is(err, services.ErrInvalidRequest), errors.Is(err, storage.ErrEmptyFile):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrParticipantsInvalid):
		fail(c, http.StatusNotFound, ErrCodeParticipantsInvalid, err.Error())
	case errors.Is(err, services.ErrNotFoundOrForbidden):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, storage.ErrTooLarge), errors.As(err, &tooBig):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "payload too large")
	case errors.Is(err, services.ErrStoreUnavailable):
		_ = c.Error(err)
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, h.detail(err, "storage temporarily unavailable"))
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, h.detail(err, "internal server error"))
	}
}

// badBody answers a request whose body could not be bound.
func (h *Handlers) badBody(c *gin.Context, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "payload too large")
		return
	}
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, bindMessage(err))
}

func (h *Handlers) detail(err error, generic string) string {
	if h.opts.ExposeErrors {
		return err.Error()
	}
	return generic
}
