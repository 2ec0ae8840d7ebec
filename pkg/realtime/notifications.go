package realtime

import (
	"context"

	"github.com/platinummonkey/ptbhub/pkg/models"
)

const notificationPageSize = 20

// NotificationStore reads and marks a recipient's notifications
type NotificationStore interface {
	List(ctx context.Context, recipientID int64, includeArchived bool, limit, offset int) ([]*models.Notification, int, error)
	UnreadCount(ctx context.Context, recipientID int64) (int, error)
	MarkRead(ctx context.Context, recipientID, id int64) error
	MarkAllRead(ctx context.Context, recipientID int64) (int64, error)
}

// NotificationConsumer serves the per-user notification channel
type NotificationConsumer struct {
	store NotificationStore
}

// NewNotificationConsumer creates the notification consumer
func NewNotificationConsumer(store NotificationStore) *NotificationConsumer {
	return &NotificationConsumer{store: store}
}

func (n *NotificationConsumer) Name() string { return "notifications" }

func (n *NotificationConsumer) Connect(ctx context.Context, s *Session) error {
	s.Join(models.NotificationsGroup(s.Principal.ID()))
	count, err := n.store.UnreadCount(ctx, s.Principal.ID())
	if err != nil {
		return err
	}
	return s.Send(Frame{"type": "unread_count", "unread_count": count})
}

func (n *NotificationConsumer) Disconnect(ctx context.Context, s *Session) {}

func (n *NotificationConsumer) Receive(ctx context.Context, s *Session, msg Message) error {
	uid := s.Principal.ID()
	switch msg.Type {
	case "mark_read":
		var body struct {
			NotificationID *int64 `json:"notification_id"`
		}
		if err := msg.Decode(&body); err != nil {
			return err
		}
		id, err := requireID("notification_id", body.NotificationID)
		if err != nil {
			return err
		}
		if err := n.store.MarkRead(ctx, uid, id); err != nil {
			return err
		}
		count, err := n.store.UnreadCount(ctx, uid)
		if err != nil {
			return err
		}
		return s.Send(Frame{"type": "notification_marked_read", "notification_id": id, "unread_count": count})

	case "mark_all_read":
		updated, err := n.store.MarkAllRead(ctx, uid)
		if err != nil {
			return err
		}
		return s.Send(Frame{"type": "all_notifications_marked_read", "updated": updated, "unread_count": 0})

	case "get_notifications":
		items, _, err := n.store.List(ctx, uid, false, notificationPageSize, 0)
		if err != nil {
			return err
		}
		count, err := n.store.UnreadCount(ctx, uid)
		if err != nil {
			return err
		}
		if items == nil {
			items = []*models.Notification{}
		}
		return s.Send(Frame{"type": "notifications_list", "notifications": items, "unread_count": count})

	default:
		return unknownType(msg.Type)
	}
}
