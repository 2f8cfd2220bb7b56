package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/internal/data/db"
)

// ModeStore implements mode.Store using SQLite.
type ModeStore struct {
	db *db.DB
}

var _ mode.Store = (*ModeStore)(nil)

// NewModeStore creates a new SQLite-backed mode store.
func NewModeStore(db *db.DB) *ModeStore {
	return &ModeStore{db: db}
}

type modeRow struct {
	ModuleID  string `db:"module_id"`
	Mode      string `db:"mode"`
	RiskLevel string `db:"risk_level"`
	Config    string `db:"config"`
	UpdatedAt int64  `db:"updated_at"`
}

const modeColumns = "module_id, mode, risk_level, config, updated_at"

// List returns every stored mode row for the workspace.
func (s *ModeStore) List(ctx context.Context, workspaceID string) ([]mode.ModuleMode, error) {
	var rows []modeRow
	err := s.db.Conn().SelectContext(ctx, &rows,
		"SELECT "+modeColumns+" FROM module_modes WHERE workspace_id = ? ORDER BY module_id", workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list module modes: %w", err)
	}

	out := make([]mode.ModuleMode, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToModuleMode(row))
	}
	return out, nil
}

// Get returns the stored row. Returns mode.ErrNotFound if the module was never set.
func (s *ModeStore) Get(ctx context.Context, workspaceID, moduleID string) (mode.ModuleMode, error) {
	var row modeRow
	err := s.db.Conn().GetContext(ctx, &row,
		"SELECT "+modeColumns+" FROM module_modes WHERE workspace_id = ? AND module_id = ?", workspaceID, moduleID)
	if IsNotFoundError(err) {
		return mode.ModuleMode{}, mode.ErrNotFound
	}
	if err != nil {
		return mode.ModuleMode{}, fmt.Errorf("get module mode: %w", err)
	}
	return rowToModuleMode(row), nil
}

// Upsert creates or replaces the row keyed by (workspace, module).
func (s *ModeStore) Upsert(ctx context.Context, workspaceID string, m mode.ModuleMode) error {
	cfg := m.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal module config: %w", err)
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO module_modes (workspace_id, module_id, mode, risk_level, config, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, module_id) DO UPDATE SET
			mode = excluded.mode,
			risk_level = excluded.risk_level,
			config = excluded.config,
			updated_at = excluded.updated_at`,
		workspaceID, m.ModuleID, string(m.Mode), string(m.RiskLevel), string(cfgJSON), nanos(m.UpdatedAt),
	)
	if err != nil {
		return writeError("upsert module mode", err)
	}
	return nil
}

func rowToModuleMode(row modeRow) mode.ModuleMode {
	cfg := map[string]any{}
	_ = json.Unmarshal([]byte(row.Config), &cfg)
	return mode.ModuleMode{
		ModuleID:  row.ModuleID,
		Mode:      mode.Mode(row.Mode),
		RiskLevel: mode.RiskLevel(row.RiskLevel),
		Config:    cfg,
		UpdatedAt: fromNanos(row.UpdatedAt),
	}
}
