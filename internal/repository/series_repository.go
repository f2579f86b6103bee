package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maheshrc27/seriesflow/internal/models"
)

type SeriesRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Series, error)
	ListDue(ctx context.Context, now time.Time) ([]*models.Series, error)
	AcquireLock(ctx context.Context, id int64, holder string, now, staleBefore time.Time) (bool, error)
	Update(ctx context.Context, id int64, holder string, u *models.SeriesUpdate) error
	ReleaseLock(ctx context.Context, id int64, holder string) error
}

type seriesRepository struct {
	db *sql.DB
}

func NewSeriesRepository(db *sql.DB) SeriesRepository {
	return &seriesRepository{db: db}
}

const seriesColumns = `
	id, user_id, name, platforms, profile_ref, queue_profile_ref, folder_id, prompt,
	interval_minutes, current_file_index, current_pending_post_id, is_processing,
	lock_holder, locked_at, last_processed_at, loop_enabled, status,
	delete_after_posting, created_at, updated_at`

func scanSeries(row interface{ Scan(...any) error }) (*models.Series, error) {
	var s models.Series
	err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.Platforms, &s.ProfileRef, &s.QueueProfileRef,
		&s.FolderID, &s.Prompt, &s.IntervalMinutes, &s.CurrentFileIndex, &s.CurrentPendingPostID,
		&s.IsProcessing, &s.LockHolder, &s.LockedAt, &s.LastProcessedAt, &s.LoopEnabled, &s.Status,
		&s.DeleteAfterPosting, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *seriesRepository) GetByID(ctx context.Context, id int64) (*models.Series, error) {
	query := `SELECT ` + seriesColumns + ` FROM series WHERE id = $1`

	s, err := scanSeries(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return s, nil
}

// ListDue returns active series whose cadence has elapsed.
func (r *seriesRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Series, error) {
	query := `SELECT ` + seriesColumns + ` FROM series
		WHERE status = $1
		AND (last_processed_at IS NULL
			OR last_processed_at + make_interval(mins => interval_minutes) <= $2)
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, models.SeriesStatusActive, now)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var series []*models.Series
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		series = append(series, s)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return series, nil
}

// AcquireLock takes the processing lease in a single conditional update. A lease
// older than staleBefore is taken over.
func (r *seriesRepository) AcquireLock(ctx context.Context, id int64, holder string, now, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE series
		SET is_processing = true,
			lock_holder = $2,
			locked_at = $3,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		AND (
			is_processing = false
			OR COALESCE(locked_at, last_processed_at) IS NULL
			OR COALESCE(locked_at, last_processed_at) <= $4
		)`

	result, err := r.db.ExecContext(ctx, query, id, holder, now, staleBefore)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

// Update applies a partial update. It only touches the row while holder owns the lease.
func (r *seriesRepository) Update(ctx context.Context, id int64, holder string, u *models.SeriesUpdate) error {
	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{id, holder}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.CurrentFileIndex != nil {
		add("current_file_index", *u.CurrentFileIndex)
	}
	if u.CurrentPendingPostID != nil {
		add("current_pending_post_id", *u.CurrentPendingPostID)
	}
	if u.LastProcessedAt != nil {
		add("last_processed_at", *u.LastProcessedAt)
	}
	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.ReleaseLock {
		sets = append(sets, "is_processing = false", "lock_holder = ''", "locked_at = NULL")
	}

	query := fmt.Sprintf(`UPDATE series SET %s WHERE id = $1 AND lock_holder = $2`, strings.Join(sets, ", "))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected != 1 {
		return fmt.Errorf("series %d: lease no longer held by %s", id, holder)
	}
	return nil
}

func (r *seriesRepository) ReleaseLock(ctx context.Context, id int64, holder string) error {
	query := `
		UPDATE series
		SET is_processing = false,
			lock_holder = '',
			locked_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND lock_holder = $2`

	_, err := r.db.ExecContext(ctx, query, id, holder)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
