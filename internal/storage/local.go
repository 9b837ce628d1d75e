// Package storage is the attachment storage collaborator. It writes uploaded
// bytes to a local directory and reports the metadata recorded on a message
// attachment.
package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

var (
	// ErrTooLarge is returned when a file exceeds the configured size limit.
	ErrTooLarge = errors.New("file too large")
	// ErrEmptyFile is returned for zero-byte uploads.
	ErrEmptyFile = errors.New("file is empty")
)

// sniffLen is how many leading bytes are inspected for content detection.
const sniffLen = 3072

// FileMeta describes an upload as received from the client.
type FileMeta struct {
	OriginalName string
}

// LocalStore writes attachments under Dir and exposes them under URLPrefix.
type LocalStore struct {
	Dir       string
	URLPrefix string
	MaxBytes  int64
}

// NewLocalStore creates dir when needed and returns a store for it.
func NewLocalStore(dir, urlPrefix string, maxBytes int64) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if urlPrefix == "" {
		urlPrefix = "/uploads/"
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &LocalStore{Dir: dir, URLPrefix: urlPrefix, MaxBytes: maxBytes}, nil
}

// Store copies r into a new uniquely named file. The extension and content
// type come from the bytes, not from the client supplied name.
func (s *LocalStore) Store(ctx context.Context, r io.Reader, meta FileMeta) (domain.AttachmentInput, error) {
	if err := ctx.Err(); err != nil {
		return domain.AttachmentInput{}, err
	}

	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return domain.AttachmentInput{}, err
	}
	if len(head) == 0 {
		return domain.AttachmentInput{}, ErrEmptyFile
	}
	mt := mimetype.Detect(head)

	stored := uuid.NewString() + mt.Extension()
	full := filepath.Join(s.Dir, stored)
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.AttachmentInput{}, err
	}

	var src io.Reader = br
	if s.MaxBytes > 0 {
		src = io.LimitReader(br, s.MaxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.MaxBytes > 0 && n > s.MaxBytes {
		err = fmt.Errorf("%w: limit %d bytes", ErrTooLarge, s.MaxBytes)
	}
	if err != nil {
		_ = os.Remove(full)
		return domain.AttachmentInput{}, err
	}

	return domain.AttachmentInput{
		Path:         path.Join(s.URLPrefix, stored),
		OriginalName: filepath.Base(meta.OriginalName),
		StoredName:   stored,
		ContentType:  mt.String(),
		Size:         n,
	}, nil
}

// Remove deletes a file previously returned by Store. Missing files are not
// an error.
func (s *LocalStore) Remove(_ context.Context, storedName string) error {
	if storedName == "" || storedName != filepath.Base(storedName) {
		return fmt.Errorf("invalid stored name %q", storedName)
	}
	err := os.Remove(filepath.Join(s.Dir, storedName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
