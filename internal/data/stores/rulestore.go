package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/autopilot/internal/core/rule"
	"github.com/colonyops/autopilot/internal/data/db"
)

// RuleStore implements rule.Store using SQLite.
type RuleStore struct {
	db *db.DB
}

var _ rule.Store = (*RuleStore)(nil)

// NewRuleStore creates a new SQLite-backed rule store.
func NewRuleStore(db *db.DB) *RuleStore {
	return &RuleStore{db: db}
}

type ruleRow struct {
	ID               string        `db:"id"`
	ModuleID         string        `db:"module_id"`
	Name             string        `db:"name"`
	Description      string        `db:"description"`
	TriggerType      string        `db:"trigger_type"`
	TriggerConfig    string        `db:"trigger_config"`
	ActionType       string        `db:"action_type"`
	ActionConfig     string        `db:"action_config"`
	RequiresApproval bool          `db:"requires_approval"`
	Status           string        `db:"status"`
	LastTriggered    sql.NullInt64 `db:"last_triggered"`
	RunCount         int64         `db:"run_count"`
	CreatedAt        int64         `db:"created_at"`
	UpdatedAt        int64         `db:"updated_at"`
}

const ruleColumns = `id, module_id, name, description, trigger_type, trigger_config, action_type,
	action_config, requires_approval, status, last_triggered, run_count, created_at, updated_at`

// Create persists a new rule, filling ID, Status and timestamps when unset.
func (s *RuleStore) Create(ctx context.Context, workspaceID string, r *rule.Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = rule.StatusActive
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}

	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO rules (id, workspace_id, module_id, name, description, trigger_type, trigger_config,
			action_type, action_config, requires_approval, status, last_triggered, run_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, workspaceID, r.ModuleID, r.Name, r.Description, string(r.TriggerType),
		jsonText(r.TriggerConfig, "{}"), r.ActionType, jsonText(r.ActionConfig, "{}"),
		r.RequiresApproval, string(r.Status), nullNanos(r.LastTriggered), r.RunCount,
		nanos(r.CreatedAt), nanos(r.UpdatedAt),
	)
	if err != nil {
		return writeError("insert rule", err)
	}
	return nil
}

// Get returns a rule. Returns rule.ErrNotFound if missing.
func (s *RuleStore) Get(ctx context.Context, workspaceID, id string) (rule.Rule, error) {
	var row ruleRow
	err := s.db.Conn().GetContext(ctx, &row,
		"SELECT "+ruleColumns+" FROM rules WHERE workspace_id = ? AND id = ?", workspaceID, id)
	if IsNotFoundError(err) {
		return rule.Rule{}, rule.ErrNotFound
	}
	if err != nil {
		return rule.Rule{}, fmt.Errorf("get rule: %w", err)
	}
	return rowToRule(row), nil
}

// List returns rules ordered by created_at descending.
func (s *RuleStore) List(ctx context.Context, workspaceID string, f rule.ListFilter) ([]rule.Rule, error) {
	w := newWhere(workspaceID)
	w.addIf(f.ModuleID != "", "module_id = ?", f.ModuleID)
	w.addIf(f.Status != "", "status = ?", string(f.Status))
	w.addIf(f.TriggerType != "", "trigger_type = ?", string(f.TriggerType))

	var rows []ruleRow
	err := s.db.Conn().SelectContext(ctx, &rows,
		"SELECT "+ruleColumns+" FROM rules"+w.String()+" ORDER BY created_at DESC, rowid DESC", w.args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	out := make([]rule.Rule, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToRule(row))
	}
	return out, nil
}

// Update replaces the user-editable fields. Run bookkeeping is left untouched.
func (s *RuleStore) Update(ctx context.Context, workspaceID string, r rule.Rule) (rule.Rule, error) {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}

	result, err := s.db.Conn().ExecContext(ctx, `
		UPDATE rules
		SET module_id = ?, name = ?, description = ?, trigger_type = ?, trigger_config = ?,
			action_type = ?, action_config = ?, requires_approval = ?, status = ?, updated_at = ?
		WHERE workspace_id = ? AND id = ?`,
		r.ModuleID, r.Name, r.Description, string(r.TriggerType), jsonText(r.TriggerConfig, "{}"),
		r.ActionType, jsonText(r.ActionConfig, "{}"), r.RequiresApproval, string(r.Status), nanos(r.UpdatedAt),
		workspaceID, r.ID,
	)
	if err != nil {
		return rule.Rule{}, writeError("update rule", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return rule.Rule{}, fmt.Errorf("update rule: %w", err)
	}
	if n == 0 {
		return rule.Rule{}, rule.ErrNotFound
	}
	return s.Get(ctx, workspaceID, r.ID)
}

// Delete removes a rule.
func (s *RuleStore) Delete(ctx context.Context, workspaceID, id string) error {
	result, err := s.db.Conn().ExecContext(ctx, "DELETE FROM rules WHERE workspace_id = ? AND id = ?", workspaceID, id)
	if err != nil {
		return writeError("delete rule", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n == 0 {
		return rule.ErrNotFound
	}
	return nil
}

// ActiveWorkspaces returns workspaces that own at least one active rule.
func (s *RuleStore) ActiveWorkspaces(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.Conn().SelectContext(ctx, &ids,
		"SELECT DISTINCT workspace_id FROM rules WHERE status = 'active' ORDER BY workspace_id")
	if err != nil {
		return nil, fmt.Errorf("list active workspaces: %w", err)
	}
	return ids, nil
}

// MarkFired bumps run_count and last_triggered only if last_triggered still equals
// prev, so two evaluators of the same period cannot both fire.
func (s *RuleStore) MarkFired(ctx context.Context, workspaceID, id string, prev *time.Time, firedAt time.Time) (rule.Rule, error) {
	query := `UPDATE rules SET run_count = run_count + 1, last_triggered = ?
		WHERE workspace_id = ? AND id = ? AND status = 'active' AND `
	args := []any{nanos(firedAt), workspaceID, id}
	if prev == nil {
		query += "last_triggered IS NULL"
	} else {
		query += "last_triggered = ?"
		args = append(args, nanos(*prev))
	}

	result, err := s.db.Conn().ExecContext(ctx, query, args...)
	if err != nil {
		return rule.Rule{}, writeError("mark rule fired", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return rule.Rule{}, fmt.Errorf("mark rule fired: %w", err)
	}
	if n == 0 {
		current, err := s.Get(ctx, workspaceID, id)
		if err != nil {
			return rule.Rule{}, err
		}
		if !current.IsActive() {
			return rule.Rule{}, rule.ErrInactive
		}
		return rule.Rule{}, rule.ErrAlreadyFired
	}

	return s.Get(ctx, workspaceID, id)
}

func rowToRule(row ruleRow) rule.Rule {
	return rule.Rule{
		ID:               row.ID,
		ModuleID:         row.ModuleID,
		Name:             row.Name,
		Description:      row.Description,
		TriggerType:      rule.TriggerType(row.TriggerType),
		TriggerConfig:    []byte(row.TriggerConfig),
		ActionType:       row.ActionType,
		ActionConfig:     []byte(row.ActionConfig),
		RequiresApproval: row.RequiresApproval,
		Status:           rule.Status(row.Status),
		LastTriggered:    fromNullNanos(row.LastTriggered),
		RunCount:         row.RunCount,
		CreatedAt:        fromNanos(row.CreatedAt),
		UpdatedAt:        fromNanos(row.UpdatedAt),
	}
}
