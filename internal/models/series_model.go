package models

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

type SeriesStatus string

const (
	SeriesStatusActive    SeriesStatus = "ACTIVE"
	SeriesStatusPaused    SeriesStatus = "PAUSED"
	SeriesStatusCompleted SeriesStatus = "COMPLETED"
)

type Series struct {
	ID                   int64          `db:"id" json:"id"`
	UserID               int64          `db:"user_id" json:"user_id" validate:"required"`
	Name                 string         `db:"name" json:"name"`
	Platforms            pq.StringArray `db:"platforms" json:"platforms" validate:"required,min=1,dive,required"`
	ProfileRef           string         `db:"profile_ref" json:"profile_ref" validate:"required"`
	QueueProfileRef      string         `db:"queue_profile_ref" json:"queue_profile_ref"`
	FolderID             string         `db:"folder_id" json:"folder_id" validate:"required"`
	Prompt               string         `db:"prompt" json:"prompt" validate:"required"`
	IntervalMinutes      int            `db:"interval_minutes" json:"interval_minutes"`
	CurrentFileIndex     int            `db:"current_file_index" json:"current_file_index"`
	CurrentPendingPostID string         `db:"current_pending_post_id" json:"current_pending_post_id"`
	IsProcessing         bool           `db:"is_processing" json:"is_processing"`
	LockHolder           string         `db:"lock_holder" json:"-"`
	LockedAt             sql.NullTime   `db:"locked_at" json:"-"`
	LastProcessedAt      sql.NullTime   `db:"last_processed_at" json:"last_processed_at"`
	LoopEnabled          bool           `db:"loop_enabled" json:"loop_enabled"`
	Status               SeriesStatus   `db:"status" json:"status"`
	DeleteAfterPosting   bool           `db:"delete_after_posting" json:"delete_after_posting"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updated_at"`
}

// LockAge reports how long the current lock has been held. Rows written before
// locked_at existed fall back to last_processed_at.
func (s *Series) LockAge(now time.Time) time.Duration {
	switch {
	case s.LockedAt.Valid:
		return now.Sub(s.LockedAt.Time)
	case s.LastProcessedAt.Valid:
		return now.Sub(s.LastProcessedAt.Time)
	default:
		// no timestamp at all: treat as infinitely old
		return time.Duration(1<<63 - 1)
	}
}

// SeriesUpdate is a partial update; nil fields are left untouched.
type SeriesUpdate struct {
	CurrentFileIndex     *int
	CurrentPendingPostID *string
	LastProcessedAt      *time.Time
	Status               *SeriesStatus
	ReleaseLock          bool
}
