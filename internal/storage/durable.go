package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/seriesflow/internal/media"
	"github.com/maheshrc27/seriesflow/internal/models"
	"github.com/maheshrc27/seriesflow/pkg/utils"
)

// CredentialStore is the persisted credential for the cloud store.
type CredentialStore interface {
	GetByUserID(ctx context.Context, userID int64, provider string) (*models.CloudCredential, error)
	SetToken(ctx context.Context, userID int64, oldAccessToken string, c *models.CloudCredential) error
}

// DurableClient wraps a Backend so an expired access token is refreshed once,
// persisted, and the call retried once before failing.
type DurableClient struct {
	backend   Backend
	creds     CredentialStore
	refresher Refresher
	provider  string
	secret    []byte
	now       func() time.Time
}

func NewDurableClient(backend Backend, creds CredentialStore, refresher Refresher, secretKey string) *DurableClient {
	return &DurableClient{
		backend:   backend,
		creds:     creds,
		refresher: refresher,
		provider:  models.ProviderGoogleDrive,
		secret:    []byte(secretKey),
		now:       time.Now,
	}
}

type credential struct {
	stored  *models.CloudCredential
	access  string
	refresh string
}

func (c *DurableClient) load(ctx context.Context, userID int64) (*credential, error) {
	stored, err := c.creds.GetByUserID(ctx, userID, c.provider)
	if err != nil {
		return nil, fmt.Errorf("failed to load cloud credential: %w", err)
	}
	if stored == nil {
		return nil, ErrNotConnected
	}

	access, err := utils.Decrypt(stored.AccessToken, c.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := utils.DecryptOptional(stored.RefreshToken, c.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	cred := &credential{stored: stored, access: access, refresh: refresh}
	if cred.refresh == "" && c.expired(stored) {
		return nil, ErrCredentialExpired
	}
	return cred, nil
}

func (c *DurableClient) expired(stored *models.CloudCredential) bool {
	return !stored.TokenExpiresAt.IsZero() && !c.now().Before(stored.TokenExpiresAt)
}

// do runs op with the current token, and on an authorization failure refreshes
// the token exactly once and retries exactly once.
func (c *DurableClient) do(ctx context.Context, userID int64, op func(accessToken string) error) error {
	cred, err := c.load(ctx, userID)
	if err != nil {
		return err
	}

	err = op(cred.access)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	if cred.refresh == "" {
		return fmt.Errorf("%w: %v", ErrCredentialExpired, err)
	}

	slog.Info("cloud credential rejected, refreshing", "user_id", userID)
	access, err := c.refresh(ctx, cred)
	if err != nil {
		return err
	}

	if err := op(access); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return fmt.Errorf("%w: rejected after refresh: %v", ErrCredentialExpired, err)
		}
		return err
	}
	return nil
}

func (c *DurableClient) refresh(ctx context.Context, cred *credential) (string, error) {
	token, err := c.refresher.Refresh(ctx, cred.refresh)
	if err != nil {
		return "", fmt.Errorf("%w: refresh failed: %v", ErrCredentialExpired, err)
	}

	if err := c.persist(ctx, cred.stored, token.AccessToken, token.RefreshToken, token.Expiry); err != nil {
		// the fresh token is still usable for this call
		slog.Warn("failed to persist refreshed cloud credential", "user_id", cred.stored.UserID, "error", err)
	}
	return token.AccessToken, nil
}

func (c *DurableClient) persist(ctx context.Context, stored *models.CloudCredential, access, refresh string, expiry time.Time) error {
	encryptedAccess, err := utils.Encrypt([]byte(access), c.secret)
	if err != nil {
		return err
	}

	updated := &models.CloudCredential{
		Provider:       stored.Provider,
		AccessToken:    encryptedAccess,
		TokenExpiresAt: expiry,
	}
	if refresh != "" {
		if updated.RefreshToken, err = utils.Encrypt([]byte(refresh), c.secret); err != nil {
			return err
		}
	}
	if updated.Provider == "" {
		updated.Provider = c.provider
	}
	return c.creds.SetToken(ctx, stored.UserID, stored.AccessToken, updated)
}

// RefreshCredential refreshes a stored credential ahead of expiry.
func (c *DurableClient) RefreshCredential(ctx context.Context, stored *models.CloudCredential) error {
	refresh, err := utils.DecryptOptional(stored.RefreshToken, c.secret)
	if err != nil {
		return fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	if refresh == "" {
		return ErrCredentialExpired
	}
	_, err = c.refresh(ctx, &credential{stored: stored, refresh: refresh})
	return err
}

func (c *DurableClient) ListFiles(ctx context.Context, userID int64, folderID string) ([]FileMeta, error) {
	var files []FileMeta
	err := c.do(ctx, userID, func(token string) error {
		var err error
		files, err = c.backend.List(ctx, token, folderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return keepMedia(files), nil
}

func (c *DurableClient) Download(ctx context.Context, userID int64, path string) ([]byte, string, error) {
	var (
		data     []byte
		mimeType string
	)
	err := c.do(ctx, userID, func(token string) error {
		var err error
		data, mimeType, err = c.backend.Download(ctx, token, path)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return data, media.ResolveMime(mimeType, data), nil
}

func (c *DurableClient) Delete(ctx context.Context, userID int64, path string) error {
	return c.do(ctx, userID, func(token string) error {
		return c.backend.Delete(ctx, token, path)
	})
}

// CheckCredential reports whether a usable credential exists without calling the store.
func (c *DurableClient) CheckCredential(ctx context.Context, userID int64) error {
	_, err := c.load(ctx, userID)
	return err
}
