package models

import "time"

// SeriesRun is one orchestrator attempt against a series, kept for the run history.
type SeriesRun struct {
	ID           int64     `db:"id" json:"id"`
	SeriesID     int64     `db:"series_id" json:"series_id"`
	Outcome      string    `db:"outcome" json:"outcome"`
	Success      bool      `db:"success" json:"success"`
	Message      string    `db:"message" json:"message"`
	FileIndex    int       `db:"file_index" json:"file_index"`
	PostID       string    `db:"post_id" json:"post_id"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
