package notify

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

// GormSink writes notifications into the notifications table.
type GormSink struct {
	DB *gorm.DB
}

// NewGormSink returns a Sink backed by db.
func NewGormSink(db *gorm.DB) *GormSink { return &GormSink{DB: db} }

// Write implements Sink.
func (s *GormSink) Write(ctx context.Context, n Notification) error {
	return repo.CreateNotification(ctx, s.DB, &domain.Notification{
		RecipientID: n.Recipient,
		OriginID:    n.Origin,
		Kind:        n.Kind,
		Text:        n.Text,
		Link:        n.Link,
	})
}
