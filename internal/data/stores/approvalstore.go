package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/data/db"
)

// ApprovalStore implements approval.Store using SQLite.
type ApprovalStore struct {
	db *db.DB
}

var _ approval.Store = (*ApprovalStore)(nil)

// NewApprovalStore creates a new SQLite-backed approval queue store.
func NewApprovalStore(db *db.DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

type approvalRow struct {
	ID           string          `db:"id"`
	ModuleID     string          `db:"module_id"`
	ActionType   string          `db:"action_type"`
	Title        string          `db:"title"`
	Description  string          `db:"description"`
	Payload      string          `db:"payload"`
	AIConfidence sql.NullFloat64 `db:"ai_confidence"`
	Priority     string          `db:"priority"`
	Status       string          `db:"status"`
	ReviewedBy   string          `db:"reviewed_by"`
	ReviewNotes  string          `db:"review_notes"`
	Source       string          `db:"source"`
	RuleID       string          `db:"rule_id"`
	CreatedAt    int64           `db:"created_at"`
	ReviewedAt   sql.NullInt64   `db:"reviewed_at"`
}

const approvalColumns = `id, module_id, action_type, title, description, payload, ai_confidence,
	priority, status, reviewed_by, review_notes, source, rule_id, created_at, reviewed_at`

// priorityOrder ranks urgent first; ties go to the newest item.
const priorityOrder = ` ORDER BY CASE priority
	WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END,
	created_at DESC, rowid DESC`

// Create persists a new item, filling ID, Status and CreatedAt when unset.
func (s *ApprovalStore) Create(ctx context.Context, workspaceID string, item *approval.Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = approval.StatusPending
	}
	if item.Priority == "" {
		item.Priority = approval.PriorityMedium
	}
	if item.Source == "" {
		item.Source = approval.SourceManual
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}

	var confidence sql.NullFloat64
	if item.AIConfidence != nil {
		confidence = sql.NullFloat64{Float64: *item.AIConfidence, Valid: true}
	}

	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO approval_queue (id, workspace_id, module_id, action_type, title, description, payload,
			ai_confidence, priority, status, reviewed_by, review_notes, source, rule_id, created_at, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, workspaceID, item.ModuleID, item.ActionType, item.Title, item.Description,
		jsonText(item.Payload, "{}"), confidence, string(item.Priority), string(item.Status),
		item.ReviewedBy, item.ReviewNotes, string(item.Source), item.RuleID,
		nanos(item.CreatedAt), nullNanos(item.ReviewedAt),
	)
	if err != nil {
		return writeError("insert approval item", err)
	}
	return nil
}

// Get returns an item. Returns approval.ErrNotFound if it does not exist in the workspace.
func (s *ApprovalStore) Get(ctx context.Context, workspaceID, id string) (approval.Item, error) {
	var row approvalRow
	err := s.db.Conn().GetContext(ctx, &row,
		"SELECT "+approvalColumns+" FROM approval_queue WHERE workspace_id = ? AND id = ?", workspaceID, id)
	if IsNotFoundError(err) {
		return approval.Item{}, approval.ErrNotFound
	}
	if err != nil {
		return approval.Item{}, fmt.Errorf("get approval item: %w", err)
	}
	return rowToApprovalItem(row), nil
}

func approvalFilter(workspaceID string, f approval.ListFilter) *where {
	w := newWhere(workspaceID)
	w.addIf(f.ModuleID != "", "module_id = ?", f.ModuleID)
	w.addIf(f.Status != "", "status = ?", string(f.Status))
	w.addIf(f.Priority != "", "priority = ?", string(f.Priority))
	return w
}

// List returns items ordered by priority rank, then created_at descending.
func (s *ApprovalStore) List(ctx context.Context, workspaceID string, f approval.ListFilter) ([]approval.Item, error) {
	w := approvalFilter(workspaceID, f)
	args := append(w.args, clampLimit(f.Limit), max(f.Offset, 0))

	var rows []approvalRow
	err := s.db.Conn().SelectContext(ctx, &rows,
		"SELECT "+approvalColumns+" FROM approval_queue"+w.String()+priorityOrder+" LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, fmt.Errorf("list approval items: %w", err)
	}

	items := make([]approval.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, rowToApprovalItem(row))
	}
	return items, nil
}

// Count returns the number of items matching the filter, ignoring paging.
func (s *ApprovalStore) Count(ctx context.Context, workspaceID string, f approval.ListFilter) (int64, error) {
	w := approvalFilter(workspaceID, f)
	var n int64
	if err := s.db.Conn().GetContext(ctx, &n, "SELECT COUNT(*) FROM approval_queue"+w.String(), w.args...); err != nil {
		return 0, fmt.Errorf("count approval items: %w", err)
	}
	return n, nil
}

// CountByPriority returns pending counts keyed by priority. Every priority is present.
func (s *ApprovalStore) CountByPriority(ctx context.Context, workspaceID string) (map[approval.Priority]int64, error) {
	var rows []struct {
		Priority string `db:"priority"`
		N        int64  `db:"n"`
	}
	err := s.db.Conn().SelectContext(ctx, &rows, `
		SELECT priority, COUNT(*) AS n FROM approval_queue
		WHERE workspace_id = ? AND status = 'pending'
		GROUP BY priority`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("count approval items by priority: %w", err)
	}

	out := map[approval.Priority]int64{
		approval.PriorityUrgent: 0,
		approval.PriorityHigh:   0,
		approval.PriorityMedium: 0,
		approval.PriorityLow:    0,
	}
	for _, r := range rows {
		out[approval.Priority(r.Priority)] = r.N
	}
	return out, nil
}

// Resolve applies res only if the item is still pending. The status guard lives in
// the UPDATE itself so two concurrent reviewers cannot both succeed.
func (s *ApprovalStore) Resolve(ctx context.Context, workspaceID, id string, res approval.Resolution) (approval.Item, error) {
	if res.ReviewedAt.IsZero() {
		res.ReviewedAt = time.Now()
	}

	var payload sql.NullString
	if len(res.Payload) > 0 {
		payload = sql.NullString{String: string(res.Payload), Valid: true}
	}

	result, err := s.db.Conn().ExecContext(ctx, `
		UPDATE approval_queue
		SET status = ?, reviewed_by = ?, review_notes = ?, reviewed_at = ?, payload = COALESCE(?, payload)
		WHERE workspace_id = ? AND id = ? AND status = 'pending'`,
		string(res.Status), res.ReviewedBy, res.Notes, nanos(res.ReviewedAt), payload, workspaceID, id,
	)
	if err != nil {
		return approval.Item{}, writeError("resolve approval item", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return approval.Item{}, fmt.Errorf("resolve approval item: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, workspaceID, id); err != nil {
			return approval.Item{}, err
		}
		return approval.Item{}, approval.ErrNotPending
	}

	return s.Get(ctx, workspaceID, id)
}

func rowToApprovalItem(row approvalRow) approval.Item {
	item := approval.Item{
		ID:          row.ID,
		ModuleID:    row.ModuleID,
		ActionType:  row.ActionType,
		Title:       row.Title,
		Description: row.Description,
		Payload:     []byte(row.Payload),
		Priority:    approval.Priority(row.Priority),
		Status:      approval.Status(row.Status),
		ReviewedBy:  row.ReviewedBy,
		ReviewNotes: row.ReviewNotes,
		Source:      approval.Source(row.Source),
		RuleID:      row.RuleID,
		CreatedAt:   fromNanos(row.CreatedAt),
		ReviewedAt:  fromNullNanos(row.ReviewedAt),
	}
	if row.AIConfidence.Valid {
		c := row.AIConfidence.Float64
		item.AIConfidence = &c
	}
	return item
}
