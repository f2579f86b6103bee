// Package storage reads series media from the user's cloud file store and keeps
// the stored OAuth credential fresh.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/maheshrc27/seriesflow/internal/media"
)

var (
	// ErrUnauthorized is returned by a Backend when the access token was rejected.
	ErrUnauthorized = errors.New("cloud storage rejected the credential")
	// ErrCredentialExpired means the user has to reconnect the cloud store.
	ErrCredentialExpired = errors.New("cloud storage credential expired, reconnect required")
	// ErrNotConnected means no credential was ever stored for the user.
	ErrNotConnected = errors.New("cloud storage not connected, reconnect required")
)

type FileMeta struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	MimeType   string     `json:"mime_type"`
	Kind       media.Kind `json:"kind"`
	Size       int64      `json:"size"`
	ModifiedAt time.Time  `json:"modified_at"`
}

// Backend is a single cloud store API, called with a plain access token.
type Backend interface {
	List(ctx context.Context, accessToken, folderID string) ([]FileMeta, error)
	Download(ctx context.Context, accessToken, path string) ([]byte, string, error)
	Delete(ctx context.Context, accessToken, path string) error
}

// Client is what the orchestrator needs from the file store.
type Client interface {
	ListFiles(ctx context.Context, userID int64, folderID string) ([]FileMeta, error)
	Download(ctx context.Context, userID int64, path string) ([]byte, string, error)
	Delete(ctx context.Context, userID int64, path string) error
	CheckCredential(ctx context.Context, userID int64) error
}

// keepMedia drops anything that is not a recognised image or video.
func keepMedia(files []FileMeta) []FileMeta {
	out := files[:0]
	for _, f := range files {
		kind := media.KindFromName(f.Name)
		if kind == media.KindUnknown {
			continue
		}
		f.Kind = kind
		out = append(out, f)
	}
	return out
}
