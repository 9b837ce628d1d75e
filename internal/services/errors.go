// Package services defines the business logic for direct-message chats and
// messages. This file centralizes the service-level error values.
//
// Errors are arranged by class. Every specific error wraps exactly one class
// sentinel, so callers can branch on the class with errors.Is:
//
//	switch {
//	case errors.Is(err, services.ErrNotFoundOrForbidden): // 404
//	case errors.Is(err, services.ErrInvalidContent):      // 400
//	}
//
// Translation into HTTP status codes happens in the handlers package.
package services

import (
	"errors"
	"fmt"
)

// Error classes.
var (
	// ErrInvalidRequest covers missing or self-referential input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrParticipantsInvalid means a referenced user does not exist or is
	// inactive in the directory.
	ErrParticipantsInvalid = errors.New("participants invalid")

	// ErrNotFoundOrForbidden merges "does not exist" and "not allowed" so
	// non-participants cannot learn whether a resource exists.
	ErrNotFoundOrForbidden = errors.New("not found")

	// ErrInvalidContent is a message body validation failure.
	ErrInvalidContent = errors.New("invalid content")

	// ErrInvalidExpiry is a temporary-message expiry validation failure.
	ErrInvalidExpiry = errors.New("invalid expiry")

	// ErrStoreUnavailable wraps persistence failures. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Specific errors.
var (
	ErrMissingParticipant = fmt.Errorf("%w: participant id is required", ErrInvalidRequest)
	ErrSelfChat           = fmt.Errorf("%w: cannot start a chat with yourself", ErrInvalidRequest)
	ErrNoFiles            = fmt.Errorf("%w: at least one file is required", ErrInvalidRequest)

	ErrChatNotFound    = fmt.Errorf("%w: chat not found", ErrNotFoundOrForbidden)
	ErrMessageNotFound = fmt.Errorf("%w: message not found", ErrNotFoundOrForbidden)

	ErrEmptyContent   = fmt.Errorf("%w: content is empty", ErrInvalidContent)
	ErrContentTooLong = fmt.Errorf("%w: content too long", ErrInvalidContent)

	ErrExpiryMissing   = fmt.Errorf("%w: expires_at is required for temporary messages", ErrInvalidExpiry)
	ErrExpiryNotFuture = fmt.Errorf("%w: expires_at must be in the future", ErrInvalidExpiry)
	ErrExpiryTooFar    = fmt.Errorf("%w: expires_at exceeds the maximum lifetime", ErrInvalidExpiry)

	ErrSendInProgress = fmt.Errorf("%w: a send with this idempotency key is still in progress", ErrStoreUnavailable)
)

// storeErr tags a persistence failure with ErrStoreUnavailable while keeping
// the cause reachable through errors.Is / errors.As.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
