package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/seriesflow/internal/models"
)

type SeriesRunRepository interface {
	Create(ctx context.Context, run *models.SeriesRun) (int64, error)
	ListBySeriesID(ctx context.Context, seriesID int64, limit int) ([]*models.SeriesRun, error)
}

type seriesRunRepository struct {
	db *sql.DB
}

func NewSeriesRunRepository(db *sql.DB) SeriesRunRepository {
	return &seriesRunRepository{db: db}
}

func (r *seriesRunRepository) Create(ctx context.Context, run *models.SeriesRun) (int64, error) {
	query := `
		INSERT INTO series_runs (series_id, outcome, success, message, file_index, post_id, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, run.SeriesID, run.Outcome, run.Success, run.Message,
		run.FileIndex, run.PostID, run.ErrorMessage).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}

func (r *seriesRunRepository) ListBySeriesID(ctx context.Context, seriesID int64, limit int) ([]*models.SeriesRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, series_id, outcome, success, message, file_index, post_id, error_message, created_at
		FROM series_runs WHERE series_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, seriesID, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var runs []*models.SeriesRun
	for rows.Next() {
		var run models.SeriesRun
		err := rows.Scan(&run.ID, &run.SeriesID, &run.Outcome, &run.Success, &run.Message,
			&run.FileIndex, &run.PostID, &run.ErrorMessage, &run.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
