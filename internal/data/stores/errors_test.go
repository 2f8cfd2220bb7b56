package stores

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/internal/data/db"
)

func TestErrorClassifiers_plainErrors(t *testing.T) {
	plain := errors.New("boom")

	assert.False(t, IsBusyError(nil))
	assert.False(t, IsBusyError(plain))
	assert.False(t, IsConstraintError(plain))
	assert.False(t, IsCorruptionError(nil))
	assert.False(t, IsCorruptionError(plain))
	assert.True(t, IsCorruptionError(fmt.Errorf("open: %w", errors.New("file is not a database"))))
	assert.True(t, IsNotFoundError(fmt.Errorf("get: %w", sql.ErrNoRows)))
}

func TestWriteError(t *testing.T) {
	err := writeError("insert thing", errors.New("disk full"))
	assert.EqualError(t, err, "insert thing: disk full")
	assert.False(t, errors.Is(err, apperr.ErrStateConflict))
}

func TestRuleStore_DuplicateIDIsConflict(t *testing.T) {
	ctx := context.Background()
	store := NewRuleStore(openTestDB(t))

	r := newScheduleRule()
	require.NoError(t, store.Create(ctx, wsA, r))

	dup := newScheduleRule()
	dup.ID = r.ID
	err := store.Create(ctx, wsA, dup)
	require.Error(t, err)
	assert.True(t, IsConstraintError(err))
	assert.ErrorIs(t, err, apperr.ErrStateConflict)
}

func TestOpenDB_recoversCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, db.FileName)

	garbage := bytes.Repeat([]byte("this is not a sqlite database "), 200)
	require.NoError(t, os.WriteFile(dbPath, garbage, 0o644))
	require.NoError(t, os.WriteFile(dbPath+"-wal", garbage, 0o644))

	_, err := db.Open(dir, db.DefaultOpenOptions())
	require.Error(t, err)
	require.True(t, IsCorruptionError(err), "got %v", err)

	database, err := OpenDB(dir, db.DefaultOpenOptions(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, NewModeStore(database).Upsert(context.Background(), wsA, mode.Default("ad_manager")))

	backups, err := filepath.Glob(filepath.Join(dir, db.FileName+".corrupt.*-wal"))
	require.NoError(t, err)
	require.Len(t, backups, 1, "WAL moved aside")

	moved, err := os.ReadFile(backups[0][:len(backups[0])-len("-wal")])
	require.NoError(t, err)
	assert.Equal(t, garbage, moved)
}

func TestRecoverFromCorruption_missingFile(t *testing.T) {
	require.NoError(t, RecoverFromCorruption(t.TempDir()))
}
