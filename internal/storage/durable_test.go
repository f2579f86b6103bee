package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/maheshrc27/seriesflow/internal/models"
	"github.com/maheshrc27/seriesflow/pkg/utils"
)

const testSecret = "test-secret"

type fakeBackend struct {
	validToken string
	listCalls  []string
	files      []FileMeta
	data       []byte
	mime       string
	deleted    []string
}

func (b *fakeBackend) check(token string) error {
	if token != b.validToken {
		return ErrUnauthorized
	}
	return nil
}

func (b *fakeBackend) List(_ context.Context, token, _ string) ([]FileMeta, error) {
	b.listCalls = append(b.listCalls, token)
	if err := b.check(token); err != nil {
		return nil, err
	}
	return append([]FileMeta(nil), b.files...), nil
}

func (b *fakeBackend) Download(_ context.Context, token, _ string) ([]byte, string, error) {
	if err := b.check(token); err != nil {
		return nil, "", err
	}
	return b.data, b.mime, nil
}

func (b *fakeBackend) Delete(_ context.Context, token, path string) error {
	if err := b.check(token); err != nil {
		return err
	}
	b.deleted = append(b.deleted, path)
	return nil
}

type fakeCredStore struct {
	cred    *models.CloudCredential
	updates []*models.CloudCredential
	setErr  error
}

func (s *fakeCredStore) GetByUserID(_ context.Context, _ int64, _ string) (*models.CloudCredential, error) {
	return s.cred, nil
}

func (s *fakeCredStore) SetToken(_ context.Context, _ int64, old string, c *models.CloudCredential) error {
	if s.setErr != nil {
		return s.setErr
	}
	if old != s.cred.AccessToken {
		return errors.New("stale token")
	}
	s.updates = append(s.updates, c)
	s.cred.AccessToken = c.AccessToken
	s.cred.TokenExpiresAt = c.TokenExpiresAt
	return nil
}

type fakeRefresher struct {
	calls int
	token *oauth2.Token
	err   error
}

func (r *fakeRefresher) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.token, nil
}

func seal(t *testing.T, v string) string {
	t.Helper()
	if v == "" {
		return ""
	}
	s, err := utils.Encrypt([]byte(v), []byte(testSecret))
	require.NoError(t, err)
	return s
}

func newClient(t *testing.T, access, refresh string, expires time.Time, backend *fakeBackend, refresher *fakeRefresher) (*DurableClient, *fakeCredStore) {
	store := &fakeCredStore{cred: &models.CloudCredential{
		UserID:         7,
		Provider:       models.ProviderGoogleDrive,
		AccessToken:    seal(t, access),
		RefreshToken:   seal(t, refresh),
		TokenExpiresAt: expires,
	}}
	return NewDurableClient(backend, store, refresher, testSecret), store
}

func TestDurableClient_ValidTokenNoRefresh(t *testing.T) {
	backend := &fakeBackend{validToken: "good", files: []FileMeta{{Name: "1.jpg"}, {Name: "notes.txt"}, {Name: "2.mp4"}}}
	refresher := &fakeRefresher{}
	client, _ := newClient(t, "good", "r", time.Now().Add(time.Hour), backend, refresher)

	files, err := client.ListFiles(context.Background(), 7, "folder")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "image", string(files[0].Kind))
	assert.Equal(t, "video", string(files[1].Kind))
	assert.Equal(t, 0, refresher.calls)
}

func TestDurableClient_RefreshesOnceAndRetries(t *testing.T) {
	backend := &fakeBackend{validToken: "fresh"}
	refresher := &fakeRefresher{token: &oauth2.Token{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}}
	client, store := newClient(t, "old", "refresh-me", time.Now().Add(-time.Minute), backend, refresher)

	_, err := client.ListFiles(context.Background(), 7, "folder")
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "fresh"}, backend.listCalls)
	assert.Equal(t, 1, refresher.calls)

	require.Len(t, store.updates, 1)
	persisted, err := utils.Decrypt(store.updates[0].AccessToken, []byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, "fresh", persisted)
}

func TestDurableClient_RetryOnlyOnce(t *testing.T) {
	backend := &fakeBackend{validToken: "never"}
	refresher := &fakeRefresher{token: &oauth2.Token{AccessToken: "still-bad"}}
	client, _ := newClient(t, "old", "refresh-me", time.Time{}, backend, refresher)

	_, err := client.ListFiles(context.Background(), 7, "folder")
	assert.ErrorIs(t, err, ErrCredentialExpired)
	assert.Len(t, backend.listCalls, 2)
	assert.Equal(t, 1, refresher.calls)
}

func TestDurableClient_ExpiredWithoutRefreshFailsFast(t *testing.T) {
	backend := &fakeBackend{validToken: "good"}
	client, _ := newClient(t, "good", "", time.Now().Add(-time.Minute), backend, &fakeRefresher{})

	_, err := client.ListFiles(context.Background(), 7, "folder")
	assert.ErrorIs(t, err, ErrCredentialExpired)
	assert.Empty(t, backend.listCalls, "must not call the store with an expired credential")

	assert.ErrorIs(t, client.CheckCredential(context.Background(), 7), ErrCredentialExpired)
}

func TestDurableClient_UnauthorizedWithoutRefresh(t *testing.T) {
	backend := &fakeBackend{validToken: "other"}
	client, _ := newClient(t, "good", "", time.Now().Add(time.Hour), backend, &fakeRefresher{})

	err := client.Delete(context.Background(), 7, "file-1")
	assert.ErrorIs(t, err, ErrCredentialExpired)
}

func TestDurableClient_RefreshFailure(t *testing.T) {
	backend := &fakeBackend{validToken: "x"}
	refresher := &fakeRefresher{err: errors.New("invalid_grant")}
	client, _ := newClient(t, "old", "revoked", time.Now(), backend, refresher)

	_, _, err := client.Download(context.Background(), 7, "file-1")
	assert.ErrorIs(t, err, ErrCredentialExpired)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestDurableClient_PersistFailureStillRetries(t *testing.T) {
	backend := &fakeBackend{validToken: "fresh", data: []byte{0xFF, 0xD8, 0xFF, 0xE0}, mime: ""}
	refresher := &fakeRefresher{token: &oauth2.Token{AccessToken: "fresh"}}
	client, store := newClient(t, "old", "r", time.Time{}, backend, refresher)
	store.setErr = errors.New("db down")

	data, mimeType, err := client.Download(context.Background(), 7, "file-1")
	require.NoError(t, err)
	assert.Len(t, data, 4)
	assert.Equal(t, "image/jpeg", mimeType)
}

func TestDurableClient_NotConnected(t *testing.T) {
	client := NewDurableClient(&fakeBackend{}, &fakeCredStore{}, &fakeRefresher{}, testSecret)
	assert.ErrorIs(t, client.CheckCredential(context.Background(), 1), ErrNotConnected)
}

func TestDriveBackend_ListAndUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
			return
		}
		assert.Contains(t, r.URL.Query().Get("q"), "'folder-1' in parents")
		json.NewEncoder(w).Encode(map[string]any{
			"files": []map[string]any{
				{"id": "a", "name": "001_intro.jpg", "mimeType": "image/jpeg", "modifiedTime": "2026-01-02T03:04:05Z"},
				{"id": "b", "name": "002_clip.mp4", "mimeType": "video/mp4"},
			},
		})
	}))
	defer srv.Close()

	backend := NewDriveBackend(option.WithEndpoint(srv.URL + "/"))

	files, err := backend.List(context.Background(), "good", "folder-1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a", files[0].Path)
	assert.Equal(t, 2026, files[0].ModifiedAt.Year())

	_, err = backend.List(context.Background(), "bad", "folder-1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
