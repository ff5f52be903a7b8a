package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vidtrain/internal/config"
)

// Store manages the run registry backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the run registry.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.RegistryPath())
}

// OpenPath opens the registry database at dbPath.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, now: func() time.Time { return time.Now().UTC() }}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path is the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewRun is the information recorded when a session starts.
type NewRun struct {
	Name      string
	SessionID string
	Model     string
	RunDir    string
	Resumed   bool
	MaxEpochs int
	// EpochsDone is the epoch a resumed session continues from.
	EpochsDone int
}

// Begin registers a running session.
func (s *Store) Begin(ctx context.Context, in NewRun) (*Run, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.SessionID) == "" {
		return nil, errors.New("run name and session id are required")
	}
	timestamp := s.now().Format(timestampLayout)
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
            name, session_id, model, run_dir, status, resumed,
            max_epochs, epochs_done, started_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Name,
		in.SessionID,
		in.Model,
		in.RunDir,
		StatusRunning,
		boolToInt(in.Resumed),
		in.MaxEpochs,
		in.EpochsDone,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// RecordEpoch stores the stats of one epoch and advances the run's progress.
// Re-recording an epoch replaces the earlier row.
func (s *Store) RecordEpoch(ctx context.Context, runID int64, stat EpochStat) error {
	now := s.now()
	timestamp := now.Format(timestampLayout)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin epoch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO epoch_stats (
            run_id, epoch, train_loss, valid_loss, train_acc1, valid_acc1,
            train_acc3, valid_acc3, duration_ms, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		stat.Epoch,
		nullableFloat(stat.TrainLoss),
		nullableFloat(stat.ValidLoss),
		nullableFloat(stat.TrainAcc1),
		nullableFloat(stat.ValidAcc1),
		nullableFloat(stat.TrainAcc3),
		nullableFloat(stat.ValidAcc3),
		stat.Duration.Milliseconds(),
		timestamp,
	); err != nil {
		return fmt.Errorf("insert epoch stats: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET epochs_done = MAX(epochs_done, ?), updated_at = ? WHERE id = ?`,
		stat.Epoch, timestamp, runID,
	)
	if err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("run %d not found", runID)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit epoch stats: %w", err)
	}
	return nil
}

// Finish marks a run terminal with status and an optional error message.
func (s *Store) Finish(ctx context.Context, runID int64, status Status, message string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	timestamp := s.now().Format(timestampLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, updated_at = ?, finished_at = ? WHERE id = ?`,
		status, nullableString(message), timestamp, timestamp, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("run %d not found", runID)
	}
	return nil
}

// GetByID fetches a run by identifier. A missing run returns nil, nil.
func (s *Store) GetByID(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// Latest returns the most recent session of the named run, or nil.
func (s *Store) Latest(ctx context.Context, name string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE name = ? ORDER BY id DESC LIMIT 1`, name)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// List returns sessions newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Epochs returns the recorded epochs of a run in order.
func (s *Store) Epochs(ctx context.Context, runID int64) ([]EpochStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+epochColumns+` FROM epoch_stats WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("list epochs: %w", err)
	}
	defer rows.Close()

	var out []EpochStat
	for rows.Next() {
		stat, err := scanEpoch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}

// MarkStale finishes running sessions last updated before cutoff as
// interrupted. It returns the number of sessions changed.
func (s *Store) MarkStale(ctx context.Context, cutoff time.Time) (int64, error) {
	timestamp := s.now().Format(timestampLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, updated_at = ?, finished_at = ?
         WHERE status = ? AND updated_at < ?`,
		StatusInterrupted, "session stopped reporting", timestamp, timestamp,
		StatusRunning, cutoff.UTC().Format(timestampLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("mark stale runs: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes every session of the named run with its epoch stats.
func (s *Store) Remove(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE name = ?`, name)
	if err != nil {
		return 0, fmt.Errorf("remove run: %w", err)
	}
	return res.RowsAffected()
}
