package stores

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/data/db"
)

// IsBusyError returns true if the error is a SQLITE_BUSY error.
func IsBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_BUSY
	}
	return false
}

// IsConstraintError returns true if the error is a constraint violation
// (primary key, unique or check).
func IsConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

// IsCorruptionError returns true if the error indicates database corruption.
func IsCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xff
		return code == sqlite3.SQLITE_CORRUPT ||
			code == sqlite3.SQLITE_NOTADB ||
			code == sqlite3.SQLITE_CANTOPEN
	}

	errStr := err.Error()
	return strings.Contains(errStr, "database disk image is malformed") ||
		strings.Contains(errStr, "file is not a database")
}

// writeError wraps a failed write. Constraint violations and lock timeouts are
// classified as apperr.ErrStateConflict so callers can retry after re-fetching.
func writeError(op string, err error) error {
	switch {
	case IsConstraintError(err):
		return fmt.Errorf("%s: %w: %w", op, apperr.ErrStateConflict, err)
	case IsBusyError(err):
		return fmt.Errorf("%s: database busy: %w: %w", op, apperr.ErrStateConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsNotFoundError returns true if the error is a "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// RecoverFromCorruption moves a corrupted database and its WAL/SHM files aside so
// the next Open starts from an empty schema.
func RecoverFromCorruption(dbDir string) error {
	dbPath := filepath.Join(dbDir, db.FileName)
	backupPath := filepath.Join(dbDir, fmt.Sprintf("%s.corrupt.%s", db.FileName, time.Now().Format("20060102-150405")))

	if err := os.Rename(dbPath, backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to backup corrupted database: %w", err)
	}

	// Orphaned WAL/SHM files would be replayed into the fresh database.
	for _, suffix := range []string{"-wal", "-shm"} {
		path := dbPath + suffix
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Rename(path, backupPath+suffix); err != nil {
			if delErr := os.Remove(path); delErr != nil {
				return fmt.Errorf("failed to backup or remove %s file: %w", suffix, err)
			}
		}
	}

	return nil
}

// OpenDB opens the database in dir. A corrupted file is moved aside with
// RecoverFromCorruption and the open is retried once against a fresh schema.
func OpenDB(dir string, opts db.OpenOptions, log zerolog.Logger) (*db.DB, error) {
	database, err := db.Open(dir, opts)
	if err == nil || !IsCorruptionError(err) {
		return database, err
	}

	log.Warn().Err(err).Str("dir", dir).Msg("database corrupted, moving it aside")
	if err := RecoverFromCorruption(dir); err != nil {
		return nil, err
	}
	return db.Open(dir, opts)
}
