// Package notify implements the notification fan-out that follows every
// successful send: one "direct_message" notification per chat participant
// other than the sender, written to the generic notification store off the
// request path.
package notify

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// KindDirectMessage is the notification kind written for new messages.
const KindDirectMessage = "direct_message"

// Notification is the write accepted by a Sink.
type Notification struct {
	Recipient string
	Origin    string
	Kind      string
	Text      string
	Link      string
}

// Sink persists notifications. Implementations must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

// Write implements Sink.
func (f SinkFunc) Write(ctx context.Context, n Notification) error { return f(ctx, n) }

// DirectMessage builds the notifications for msg sent in chat: one for each
// participant except the sender.
func DirectMessage(chat *domain.Chat, msg *domain.Message, senderName, linkBase string) []Notification {
	if chat == nil || msg == nil {
		return nil
	}
	if senderName == "" {
		senderName = msg.SenderID
	}
	text := fmt.Sprintf("%s sent you a message", senderName)
	if msg.Temporary {
		text = fmt.Sprintf("%s sent you a temporary message", senderName)
	}
	link := linkBase + chat.ID

	recipients := lo.Without(lo.Uniq(domain.ParticipantIDs(chat)), msg.SenderID)
	return lo.Map(recipients, func(r string, _ int) Notification {
		return Notification{
			Recipient: r,
			Origin:    msg.SenderID,
			Kind:      KindDirectMessage,
			Text:      text,
			Link:      link,
		}
	})
}
