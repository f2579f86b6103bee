package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/maheshrc27/seriesflow/internal/models"
)

type CloudCredentialRepository interface {
	GetByUserID(ctx context.Context, userID int64, provider string) (*models.CloudCredential, error)
	ListExpiring(ctx context.Context, provider string, before time.Time) ([]*models.CloudCredential, error)
	SetToken(ctx context.Context, userID int64, oldAccessToken string, c *models.CloudCredential) error
}

type cloudCredentialRepository struct {
	db *sql.DB
}

func NewCloudCredentialRepository(db *sql.DB) CloudCredentialRepository {
	return &cloudCredentialRepository{db: db}
}

func (r *cloudCredentialRepository) GetByUserID(ctx context.Context, userID int64, provider string) (*models.CloudCredential, error) {
	query := `SELECT id, user_id, provider, access_token, refresh_token, token_expires_at, created_at, updated_at
		FROM cloud_credentials WHERE user_id = $1 AND provider = $2`

	var c models.CloudCredential
	err := r.db.QueryRowContext(ctx, query, userID, provider).Scan(&c.ID, &c.UserID, &c.Provider,
		&c.AccessToken, &c.RefreshToken, &c.TokenExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &c, nil
}

// ListExpiring returns credentials that expire before the given time and can be refreshed.
func (r *cloudCredentialRepository) ListExpiring(ctx context.Context, provider string, before time.Time) ([]*models.CloudCredential, error) {
	query := `SELECT id, user_id, provider, access_token, refresh_token, token_expires_at, created_at, updated_at
		FROM cloud_credentials
		WHERE provider = $1 AND token_expires_at < $2 AND refresh_token <> ''`

	rows, err := r.db.QueryContext(ctx, query, provider, before)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var creds []*models.CloudCredential
	for rows.Next() {
		var c models.CloudCredential
		if err := rows.Scan(&c.ID, &c.UserID, &c.Provider, &c.AccessToken, &c.RefreshToken,
			&c.TokenExpiresAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		creds = append(creds, &c)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return creds, nil
}

// SetToken swaps in a refreshed token, but only if nobody replaced oldAccessToken first.
func (r *cloudCredentialRepository) SetToken(ctx context.Context, userID int64, oldAccessToken string, c *models.CloudCredential) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE cloud_credentials
		SET
			access_token = COALESCE(NULLIF($4, ''), access_token),
			refresh_token = COALESCE(NULLIF($5, ''), refresh_token),
			token_expires_at = COALESCE($6, token_expires_at),
			updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $1 AND provider = $2 AND access_token = $3;
	`
	result, err := tx.ExecContext(ctx, query, userID, c.Provider, oldAccessToken, c.AccessToken, c.RefreshToken, c.TokenExpiresAt)
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
		slog.Info("no rows affected; credential was replaced concurrently")
		return errors.New("no rows affected; credential was replaced concurrently")
	}

	if err = tx.Commit(); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
