package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/colonyops/autopilot/internal/core/notify"
	"github.com/colonyops/autopilot/internal/data/db"
)

// NotifyStore implements notify.Store using SQLite.
type NotifyStore struct {
	db *db.DB
}

var _ notify.Store = (*NotifyStore)(nil)

// NewNotifyStore creates a new SQLite-backed notification store.
func NewNotifyStore(db *db.DB) *NotifyStore {
	return &NotifyStore{db: db}
}

type notificationRow struct {
	ID        int64  `db:"id"`
	Type      string `db:"type"`
	Title     string `db:"title"`
	Message   string `db:"message"`
	ModuleID  string `db:"module_id"`
	Read      bool   `db:"read"`
	CreatedAt int64  `db:"created_at"`
}

// Save persists a notification and returns its auto-generated ID.
func (s *NotifyStore) Save(ctx context.Context, workspaceID string, n notify.Notification) (int64, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	result, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO notifications (workspace_id, type, title, message, module_id, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		workspaceID, string(n.Type), n.Title, n.Message, n.ModuleID, n.Read, nanos(n.CreatedAt),
	)
	if err != nil {
		return 0, writeError("insert notification", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

// List returns notifications ordered by newest first.
func (s *NotifyStore) List(ctx context.Context, workspaceID string, limit int, unreadOnly bool) ([]notify.Notification, error) {
	if limit <= 0 {
		limit = notify.DefaultLimit
	}

	w := newWhere(workspaceID)
	w.addIf(unreadOnly, "read = 0")

	var rows []notificationRow
	err := s.db.Conn().SelectContext(ctx, &rows,
		"SELECT id, type, title, message, module_id, read, created_at FROM notifications"+w.String()+
			" ORDER BY created_at DESC, id DESC LIMIT ?",
		append(w.args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	result := make([]notify.Notification, 0, len(rows))
	for _, row := range rows {
		result = append(result, rowToNotification(row))
	}
	return result, nil
}

// MarkRead sets the read flag on one notification.
func (s *NotifyStore) MarkRead(ctx context.Context, workspaceID string, id int64) error {
	result, err := s.db.Conn().ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE workspace_id = ? AND id = ?", workspaceID, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notify.ErrNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification read.
func (s *NotifyStore) MarkAllRead(ctx context.Context, workspaceID string) (int64, error) {
	result, err := s.db.Conn().ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE workspace_id = ? AND read = 0", workspaceID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return n, nil
}

// CountUnread returns the number of unread notifications.
func (s *NotifyStore) CountUnread(ctx context.Context, workspaceID string) (int64, error) {
	var count int64
	err := s.db.Conn().GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE workspace_id = ? AND read = 0", workspaceID)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func rowToNotification(row notificationRow) notify.Notification {
	return notify.Notification{
		ID:        row.ID,
		Type:      notify.Type(row.Type),
		Title:     row.Title,
		Message:   row.Message,
		ModuleID:  row.ModuleID,
		Read:      row.Read,
		CreatedAt: fromNanos(row.CreatedAt),
	}
}
