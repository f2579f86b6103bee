package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// RateLimitRepository stores one row per successful publish. It satisfies ratelimit.Store.
type RateLimitRepository struct {
	db *sql.DB
}

func NewRateLimitRepository(db *sql.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

func (r *RateLimitRepository) Append(ctx context.Context, platform, accountID string, at time.Time) error {
	query := `INSERT INTO rate_limit_records (platform, account_id, posted_at) VALUES ($1, $2, $3)`
	_, err := r.db.ExecContext(ctx, query, platform, accountID, at)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// Since returns the post timestamps after the given instant, oldest first.
func (r *RateLimitRepository) Since(ctx context.Context, platform, accountID string, after time.Time) ([]time.Time, error) {
	query := `SELECT posted_at FROM rate_limit_records
		WHERE platform = $1 AND account_id = $2 AND posted_at > $3
		ORDER BY posted_at ASC`

	rows, err := r.db.QueryContext(ctx, query, platform, accountID, after)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var stamps []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		stamps = append(stamps, t)
	}
	return stamps, rows.Err()
}

func (r *RateLimitRepository) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM rate_limit_records WHERE posted_at <= $1`, before)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return result.RowsAffected()
}
