package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// FlashHistoryRepository stores firmware update attempts.
type FlashHistoryRepository interface {
	StartJob(ctx context.Context, job FlashJob) error
	FinishJob(ctx context.Context, id string, exitCode int, at time.Time) error
	ListJobs(ctx context.Context, limit int) ([]FlashJob, error)
}

// SQLiteFlashHistoryRepository implements FlashHistoryRepository using the
// arduino_flash_jobs table.
type SQLiteFlashHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteFlashHistoryRepository creates a new SQLite flash history repository.
func NewSQLiteFlashHistoryRepository(db *sql.DB) *SQLiteFlashHistoryRepository {
	return &SQLiteFlashHistoryRepository{db: db}
}

// StartJob records a flash job that has just been spawned.
func (r *SQLiteFlashHistoryRepository) StartJob(ctx context.Context, job FlashJob) error {
	if job.ID == "" {
		return fmt.Errorf("flash job id is required")
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO arduino_flash_jobs (id, selector, started_at) VALUES (?, ?, ?)",
		job.ID,
		job.Selector,
		job.StartedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting flash job: %w", err)
	}
	return nil
}

// FinishJob stores the flasher exit code.
func (r *SQLiteFlashHistoryRepository) FinishJob(ctx context.Context, id string, exitCode int, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE arduino_flash_jobs SET finished_at = ?, exit_code = ? WHERE id = ?",
		at.UTC().Format(timeFormat),
		exitCode,
		id,
	)
	if err != nil {
		return fmt.Errorf("updating flash job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrFlashJobNotFound
	}
	return nil
}

// ListJobs returns recent jobs, newest first (default 20, max 200).
func (r *SQLiteFlashHistoryRepository) ListJobs(ctx context.Context, limit int) ([]FlashJob, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, selector, started_at, finished_at, exit_code
		FROM arduino_flash_jobs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying flash jobs: %w", err)
	}
	defer rows.Close()

	var jobs []FlashJob
	for rows.Next() {
		var (
			job        FlashJob
			startedAt  string
			finishedAt sql.NullString
			exitCode   sql.NullInt64
		)
		if err := rows.Scan(&job.ID, &job.Selector, &startedAt, &finishedAt, &exitCode); err != nil {
			return nil, fmt.Errorf("scanning flash job: %w", err)
		}
		if job.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if finishedAt.Valid {
			t, err := time.Parse(timeFormat, finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing finished_at: %w", err)
			}
			job.FinishedAt = &t
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			job.ExitCode = &code
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating flash jobs: %w", err)
	}
	return jobs, nil
}
