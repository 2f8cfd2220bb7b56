package automation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/core/eventbus"
	"github.com/colonyops/autopilot/internal/core/notify"
	"github.com/colonyops/autopilot/internal/core/settings"
)

// NotificationService stores notices in the same call that produced them and
// serves the inbox. The bus only announces a notice after it is persisted.
type NotificationService struct {
	store    notify.Store
	settings settings.Store
	bus      *eventbus.EventBus
	log      zerolog.Logger
}

// NewNotificationService creates a new NotificationService. Preferences are read
// from prefs on every notice.
func NewNotificationService(store notify.Store, prefs settings.Store, bus *eventbus.EventBus, log zerolog.Logger) *NotificationService {
	return &NotificationService{
		store:    store,
		settings: prefs,
		bus:      bus,
		log:      log.With().Str("component", "notification-service").Logger(),
	}
}

// prefs returns the workspace settings, falling back to defaults when the store
// is unreadable so a notice is never lost to a settings read.
func (s *NotificationService) prefs(ctx context.Context, workspaceID string) settings.Settings {
	values, err := s.settings.Load(ctx, workspaceID)
	if err != nil {
		s.log.Warn().Err(err).Str("workspace_id", workspaceID).Msg("load settings for notification prefs")
		return settings.Defaults()
	}
	return settings.FromValues(values)
}

// ApprovalCreated notifies that an item is waiting for review.
func (s *NotificationService) ApprovalCreated(ctx context.Context, workspaceID string, item approval.Item) {
	if n, ok := notify.ForApprovalCreated(item, s.prefs(ctx, workspaceID)); ok {
		s.deliver(ctx, workspaceID, n)
	}
}

// ApprovalResolved notifies every approve and reject.
func (s *NotificationService) ApprovalResolved(ctx context.Context, workspaceID string, item approval.Item) {
	s.deliver(ctx, workspaceID, notify.ForApprovalResolved(item))
}

// ActionRecorded notifies a finished, failed or rate limited action.
func (s *NotificationService) ActionRecorded(ctx context.Context, workspaceID string, entry actionlog.Entry) {
	if n, ok := notify.ForAction(entry, s.prefs(ctx, workspaceID)); ok {
		s.deliver(ctx, workspaceID, n)
	}
}

// Paused notifies that pauseAll turned on.
func (s *NotificationService) Paused(ctx context.Context, workspaceID string, snapshotted int) {
	s.deliver(ctx, workspaceID, notify.ForPaused(snapshotted))
}

// Resumed notifies that pauseAll turned off.
func (s *NotificationService) Resumed(ctx context.Context, workspaceID string, restored int) {
	s.deliver(ctx, workspaceID, notify.ForResumed(restored))
}

// deliver persists n. The state it describes is already committed, so a save
// failure is logged rather than returned.
func (s *NotificationService) deliver(ctx context.Context, workspaceID string, n notify.Notification) {
	n.CreatedAt = time.Now()
	id, err := s.store.Save(context.WithoutCancel(ctx), workspaceID, n)
	if err != nil {
		s.log.Error().Err(err).Str("workspace_id", workspaceID).Str("type", string(n.Type)).Msg("save notification")
		return
	}
	n.ID = id

	s.bus.PublishNotificationPublished(eventbus.NotificationPublishedPayload{
		WorkspaceID:  workspaceID,
		Notification: n,
	})
}

// Inbox is one page of notifications plus the derived unread count.
type Inbox struct {
	Notifications []notify.Notification `json:"notifications"`
	UnreadCount   int64                 `json:"unreadCount"`
}

// List returns the newest notifications. A non-positive limit uses notify.DefaultLimit.
func (s *NotificationService) List(ctx context.Context, workspaceID string, limit int, unreadOnly bool) (Inbox, error) {
	if limit <= 0 {
		limit = notify.DefaultLimit
	}

	items, err := s.store.List(ctx, workspaceID, limit, unreadOnly)
	if err != nil {
		return Inbox{}, err
	}
	unread, err := s.store.CountUnread(ctx, workspaceID)
	if err != nil {
		return Inbox{}, err
	}
	if items == nil {
		items = []notify.Notification{}
	}
	return Inbox{Notifications: items, UnreadCount: unread}, nil
}

// UnreadCount returns the number of unread notifications.
func (s *NotificationService) UnreadCount(ctx context.Context, workspaceID string) (int64, error) {
	return s.store.CountUnread(ctx, workspaceID)
}

// MarkRead marks one notification read.
func (s *NotificationService) MarkRead(ctx context.Context, workspaceID string, id int64) error {
	return s.store.MarkRead(ctx, workspaceID, id)
}

// MarkAllRead marks every notification read and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, workspaceID string) (int64, error) {
	n, err := s.store.MarkAllRead(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	s.log.Debug().Str("workspace_id", workspaceID).Int64("count", n).Msg("notifications marked read")
	return n, nil
}
