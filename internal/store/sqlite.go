package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kination/alkeeper/internal/task"
)

// SQLiteStore persists rotation state and history in a SQLite file.
// Rows are keyed by keeper name so several keepers can share one file.
type SQLiteStore struct {
	db     *sql.DB
	keeper string
	dbPath string
}

// NewSQLiteStore opens (or creates) the database at path
func NewSQLiteStore(path, keeper string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; sqlite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, keeper: keeper, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rotation_state (
		keeper TEXT PRIMARY KEY,
		current_task_index INTEGER NOT NULL CHECK (current_task_index BETWEEN 0 AND 2),
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS perform_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		keeper TEXT NOT NULL,
		task TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		performed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_perform_log_keeper ON perform_log(keeper, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (task.Task, error) {
	var idx int
	err := s.db.QueryRowContext(ctx,
		`SELECT current_task_index FROM rotation_state WHERE keeper = ?`, s.keeper).Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return task.HarvestTransmuter, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load rotation state: %w", err)
	}
	return decodeIndex(idx)
}

func (s *SQLiteStore) Save(ctx context.Context, next task.Task) error {
	if !next.Valid() {
		return decodeErr(next)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rotation_state (keeper, current_task_index, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(keeper) DO UPDATE SET
			current_task_index = excluded.current_task_index,
			updated_at = CURRENT_TIMESTAMP`,
		s.keeper, next.Index())
	if err != nil {
		return fmt.Errorf("save rotation state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	keeper := rec.Keeper
	if keeper == "" {
		keeper = s.keeper
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO perform_log (keeper, task, outcome, error, performed_at) VALUES (?, ?, ?, ?, ?)`,
		keeper, rec.Task.String(), rec.Outcome, rec.Error, rec.At.UnixNano())
	if err != nil {
		return fmt.Errorf("append perform log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT keeper, task, outcome, COALESCE(error, ''), performed_at
		FROM perform_log WHERE keeper = ? ORDER BY id DESC LIMIT ?`, s.keeper, limit)
	if err != nil {
		return nil, fmt.Errorf("list perform log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var name string
		var at int64
		if err := rows.Scan(&rec.Keeper, &name, &rec.Outcome, &rec.Error, &at); err != nil {
			return nil, fmt.Errorf("scan perform log: %w", err)
		}
		t, err := task.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
		}
		rec.Task = t
		rec.At = time.Unix(0, at).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
