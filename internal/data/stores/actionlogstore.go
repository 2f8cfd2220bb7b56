package stores

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/internal/data/db"
)

// ActionLogStore implements actionlog.Store using SQLite.
type ActionLogStore struct {
	db *db.DB
}

var _ actionlog.Store = (*ActionLogStore)(nil)

// NewActionLogStore creates a new SQLite-backed action log store.
func NewActionLogStore(db *db.DB) *ActionLogStore {
	return &ActionLogStore{db: db}
}

type actionRow struct {
	ID          string         `db:"id"`
	ModuleID    string         `db:"module_id"`
	ActionType  string         `db:"action_type"`
	Mode        string         `db:"mode"`
	Description string         `db:"description"`
	InputData   sql.NullString `db:"input_data"`
	OutputData  sql.NullString `db:"output_data"`
	Status      string         `db:"status"`
	Error       string         `db:"error"`
	ApprovalID  string         `db:"approval_id"`
	RuleID      string         `db:"rule_id"`
	DurationMS  int64          `db:"duration_ms"`
	CreatedAt   int64          `db:"created_at"`
	CompletedAt sql.NullInt64  `db:"completed_at"`
}

const actionColumns = `id, module_id, action_type, mode, description, input_data, output_data,
	status, error, approval_id, rule_id, duration_ms, created_at, completed_at`

// Append writes a new entry. Terminal entries without CompletedAt complete at CreatedAt.
func (s *ActionLogStore) Append(ctx context.Context, workspaceID string, e *actionlog.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Status.IsTerminal() && e.CompletedAt == nil {
		at := e.CreatedAt
		e.CompletedAt = &at
	}

	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO action_log (id, workspace_id, module_id, action_type, mode, description, input_data,
			output_data, status, error, approval_id, rule_id, duration_ms, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, workspaceID, e.ModuleID, e.ActionType, string(e.Mode), e.Description,
		nullJSON(e.InputData), nullJSON(e.OutputData), string(e.Status), e.Error,
		e.ApprovalID, e.RuleID, e.DurationMS, nanos(e.CreatedAt), nullNanos(e.CompletedAt),
	)
	if err != nil {
		return writeError("insert action log entry", err)
	}
	return nil
}

// Complete finalizes a queued entry.
func (s *ActionLogStore) Complete(ctx context.Context, workspaceID, id string, out actionlog.Outcome) (actionlog.Entry, error) {
	if out.CompletedAt.IsZero() {
		out.CompletedAt = time.Now()
	}

	result, err := s.db.Conn().ExecContext(ctx, `
		UPDATE action_log
		SET status = ?, output_data = ?, error = ?, duration_ms = ?, completed_at = ?
		WHERE workspace_id = ? AND id = ? AND status = 'queued'`,
		string(out.Status), nullJSON(out.OutputData), out.Error, out.DurationMS, nanos(out.CompletedAt),
		workspaceID, id,
	)
	if err != nil {
		return actionlog.Entry{}, writeError("complete action log entry", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return actionlog.Entry{}, fmt.Errorf("complete action log entry: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, workspaceID, id); err != nil {
			return actionlog.Entry{}, err
		}
		return actionlog.Entry{}, actionlog.ErrAlreadyFinal
	}

	return s.Get(ctx, workspaceID, id)
}

// Get returns an entry. Returns actionlog.ErrNotFound if missing.
func (s *ActionLogStore) Get(ctx context.Context, workspaceID, id string) (actionlog.Entry, error) {
	var row actionRow
	err := s.db.Conn().GetContext(ctx, &row,
		"SELECT "+actionColumns+" FROM action_log WHERE workspace_id = ? AND id = ?", workspaceID, id)
	if IsNotFoundError(err) {
		return actionlog.Entry{}, actionlog.ErrNotFound
	}
	if err != nil {
		return actionlog.Entry{}, fmt.Errorf("get action log entry: %w", err)
	}
	return rowToEntry(row), nil
}

func actionFilter(workspaceID string, f actionlog.Filter) *where {
	w := newWhere(workspaceID)
	w.addIf(f.ModuleID != "", "module_id = ?", f.ModuleID)
	w.addIf(f.Status != "", "status = ?", string(f.Status))
	w.addIf(f.ActionType != "", "action_type = ?", f.ActionType)
	w.addIf(!f.Since.IsZero(), "created_at >= ?", nanos(f.Since))
	w.addIf(!f.Until.IsZero(), "created_at < ?", nanos(f.Until))
	if f.Query != "" {
		like := "%" + f.Query + "%"
		w.add("(description LIKE ? OR action_type LIKE ? OR module_id LIKE ?)", like, like, like)
	}
	return w
}

// List returns entries newest first.
func (s *ActionLogStore) List(ctx context.Context, workspaceID string, f actionlog.Filter) ([]actionlog.Entry, error) {
	w := actionFilter(workspaceID, f)
	args := append(w.args, clampLimit(f.Limit), max(f.Offset, 0))

	var rows []actionRow
	err := s.db.Conn().SelectContext(ctx, &rows,
		"SELECT "+actionColumns+" FROM action_log"+w.String()+" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		args...)
	if err != nil {
		return nil, fmt.Errorf("list action log: %w", err)
	}

	out := make([]actionlog.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToEntry(row))
	}
	return out, nil
}

// Count returns the number of entries matching f, ignoring paging.
func (s *ActionLogStore) Count(ctx context.Context, workspaceID string, f actionlog.Filter) (int64, error) {
	w := actionFilter(workspaceID, f)
	var n int64
	if err := s.db.Conn().GetContext(ctx, &n, "SELECT COUNT(*) FROM action_log"+w.String(), w.args...); err != nil {
		return 0, fmt.Errorf("count action log: %w", err)
	}
	return n, nil
}

// CountExecutedSince counts completed and in-flight attempts since t, excluding
// mode-change audit entries.
func (s *ActionLogStore) CountExecutedSince(ctx context.Context, workspaceID string, since time.Time) (int64, error) {
	var n int64
	err := s.db.Conn().GetContext(ctx, &n, `
		SELECT COUNT(*) FROM action_log
		WHERE workspace_id = ? AND created_at >= ? AND status IN ('completed', 'queued') AND action_type != ?`,
		workspaceID, nanos(since), actionlog.ActionModeChange)
	if err != nil {
		return 0, fmt.Errorf("count executed actions: %w", err)
	}
	return n, nil
}

// Stats aggregates entries created in [since, until). Mode-change audit entries are excluded.
func (s *ActionLogStore) Stats(ctx context.Context, workspaceID string, since, until time.Time) (actionlog.Stats, error) {
	w := actionFilter(workspaceID, actionlog.Filter{Since: since, Until: until})
	w.add("action_type != ?", actionlog.ActionModeChange)

	stats := actionlog.Stats{
		ByStatus: map[actionlog.Status]int64{},
		ByModule: map[string]int64{},
	}

	var byStatus []struct {
		Status string `db:"status"`
		N      int64  `db:"n"`
	}
	if err := s.db.Conn().SelectContext(ctx, &byStatus,
		"SELECT status, COUNT(*) AS n FROM action_log"+w.String()+" GROUP BY status", w.args...); err != nil {
		return stats, fmt.Errorf("action stats by status: %w", err)
	}
	for _, r := range byStatus {
		stats.ByStatus[actionlog.Status(r.Status)] = r.N
		stats.Total += r.N
	}

	var byModule []struct {
		ModuleID string `db:"module_id"`
		N        int64  `db:"n"`
	}
	if err := s.db.Conn().SelectContext(ctx, &byModule,
		"SELECT module_id, COUNT(*) AS n FROM action_log"+w.String()+" GROUP BY module_id", w.args...); err != nil {
		return stats, fmt.Errorf("action stats by module: %w", err)
	}
	for _, r := range byModule {
		stats.ByModule[r.ModuleID] = r.N
	}

	var avg sql.NullFloat64
	if err := s.db.Conn().GetContext(ctx, &avg,
		"SELECT AVG(duration_ms) FROM action_log"+w.String()+" AND status IN ('completed', 'failed')", w.args...); err != nil {
		return stats, fmt.Errorf("action stats duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	completed := stats.ByStatus[actionlog.StatusCompleted]
	if ran := completed + stats.ByStatus[actionlog.StatusFailed]; ran > 0 {
		stats.SuccessRate = float64(completed) / float64(ran)
	}

	return stats, nil
}

// CountByDay returns per-day entry counts since t, bucketed by calendar day in loc.
func (s *ActionLogStore) CountByDay(ctx context.Context, workspaceID string, since time.Time, loc *time.Location) ([]actionlog.DayCount, error) {
	if loc == nil {
		loc = time.UTC
	}

	var created []int64
	err := s.db.Conn().SelectContext(ctx, &created, `
		SELECT created_at FROM action_log
		WHERE workspace_id = ? AND created_at >= ? AND action_type != ?`,
		workspaceID, nanos(since), actionlog.ActionModeChange)
	if err != nil {
		return nil, fmt.Errorf("count actions by day: %w", err)
	}

	counts := map[string]int64{}
	for _, c := range created {
		counts[fromNanos(c).In(loc).Format(time.DateOnly)]++
	}

	out := make([]actionlog.DayCount, 0, len(counts))
	for day, n := range counts {
		out = append(out, actionlog.DayCount{Day: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func rowToEntry(row actionRow) actionlog.Entry {
	return actionlog.Entry{
		ID:          row.ID,
		ModuleID:    row.ModuleID,
		ActionType:  row.ActionType,
		Mode:        mode.Mode(row.Mode),
		Description: row.Description,
		InputData:   fromNullJSON(row.InputData),
		OutputData:  fromNullJSON(row.OutputData),
		Status:      actionlog.Status(row.Status),
		Error:       row.Error,
		ApprovalID:  row.ApprovalID,
		RuleID:      row.RuleID,
		DurationMS:  row.DurationMS,
		CreatedAt:   fromNanos(row.CreatedAt),
		CompletedAt: fromNullNanos(row.CompletedAt),
	}
}
