package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/colonyops/autopilot/internal/core/settings"
	"github.com/colonyops/autopilot/internal/data/db"
)

// SettingsStore implements settings.Store as a per-workspace key/value table.
type SettingsStore struct {
	db *db.DB
}

var _ settings.Store = (*SettingsStore)(nil)

// NewSettingsStore creates a new SQLite-backed settings store.
func NewSettingsStore(db *db.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Load returns every stored value for the workspace.
func (s *SettingsStore) Load(ctx context.Context, workspaceID string) (map[string]json.RawMessage, error) {
	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	err := s.db.Conn().SelectContext(ctx, &rows,
		"SELECT key, value FROM settings WHERE workspace_id = ?", workspaceID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	out := make(map[string]json.RawMessage, len(rows))
	for _, r := range rows {
		out[r.Key] = json.RawMessage(r.Value)
	}
	return out, nil
}

// Save upserts all values in one transaction.
func (s *SettingsStore) Save(ctx context.Context, workspaceID string, values map[string]json.RawMessage) error {
	if len(values) == 0 {
		return nil
	}

	now := time.Now().UnixNano()
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for key, value := range values {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO settings (workspace_id, key, value, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (workspace_id, key) DO UPDATE SET
					value = excluded.value,
					updated_at = excluded.updated_at`,
				workspaceID, key, string(value), now,
			)
			if err != nil {
				return fmt.Errorf("save setting %q: %w", key, err)
			}
		}
		return nil
	})
}
