package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const driveListFields = "nextPageToken, files(id, name, mimeType, size, modifiedTime)"

// DriveBackend talks to Google Drive v3.
type DriveBackend struct {
	extra []option.ClientOption
}

// NewDriveBackend accepts extra client options, such as an endpoint override.
func NewDriveBackend(opts ...option.ClientOption) *DriveBackend {
	return &DriveBackend{extra: opts}
}

func (b *DriveBackend) service(ctx context.Context, accessToken string) (*drive.Service, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, b.extra...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating drive service: %w", err)
	}
	return svc, nil
}

func (b *DriveBackend) List(ctx context.Context, accessToken, folderID string) ([]FileMeta, error) {
	svc, err := b.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	var files []FileMeta
	pageToken := ""
	for {
		call := svc.Files.List().Q(q).Fields(driveListFields).PageSize(1000).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, mapDriveError(err)
		}

		for _, f := range resp.Files {
			modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
			files = append(files, FileMeta{
				ID:         f.Id,
				Name:       f.Name,
				Path:       f.Id,
				MimeType:   f.MimeType,
				Size:       f.Size,
				ModifiedAt: modified,
			})
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return files, nil
}

func (b *DriveBackend) Download(ctx context.Context, accessToken, path string) ([]byte, string, error) {
	svc, err := b.service(ctx, accessToken)
	if err != nil {
		return nil, "", err
	}

	resp, err := svc.Files.Get(path).Context(ctx).Download()
	if err != nil {
		return nil, "", mapDriveError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("error reading file %s: %w", path, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (b *DriveBackend) Delete(ctx context.Context, accessToken, path string) error {
	svc, err := b.service(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := svc.Files.Delete(path).Context(ctx).Do(); err != nil {
		return mapDriveError(err)
	}
	return nil
}

func mapDriveError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	slog.Info(err.Error())
	return err
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

type GoogleRefresher struct {
	conf *oauth2.Config
}

func NewGoogleRefresher(clientID, clientSecret string) *GoogleRefresher {
	return &GoogleRefresher{conf: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{drive.DriveScope},
		Endpoint:     google.Endpoint,
	}}
}

func (r *GoogleRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	token, err := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return token, nil
}
