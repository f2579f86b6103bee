// Package publishing hands media and captions to the external scheduling
// service, or to a platform's native API for platforms that bypass it.
package publishing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maheshrc27/seriesflow/internal/media"
)

type PostStatus string

const (
	StatusScheduled PostStatus = "scheduled"
	StatusPublished PostStatus = "published"
	StatusDraft     PostStatus = "draft"
	StatusFailed    PostStatus = "failed"
	StatusDeleted   PostStatus = "deleted"
)

// Pending reports whether the post still blocks the next advance. Anything
// other than scheduled, unknown values included, is safe to advance past.
func (s PostStatus) Pending() bool {
	return s == StatusScheduled
}

var ErrPublishFailed = errors.New("publishing service request failed")

type Post struct {
	ID          string     `json:"id"`
	Status      PostStatus `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

type CreatePostRequest struct {
	Platforms   []string   `json:"platforms"`
	Caption     string     `json:"caption"`
	MediaURL    string     `json:"media_url"`
	ProfileRef  string     `json:"profile,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// Adapter is the HTTP client for the scheduling service.
type Adapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	compressor *media.Router
}

func NewAdapter(baseURL, apiKey string, timeout time.Duration, compressor *media.Router) *Adapter {
	return &Adapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		compressor: compressor,
	}
}

// UploadMedia compresses data to the tightest envelope of the target
// platforms and uploads it, returning the hosted media URL.
func (a *Adapter) UploadMedia(ctx context.Context, data []byte, mimeType, fileName string, platforms []string) (string, error) {
	if a.compressor != nil {
		env := media.EnvelopeFor(platforms, media.KindFromMime(mimeType))
		compressed, compressedMime, err := a.compressor.Compress(ctx, data, mimeType, env)
		if err != nil {
			return "", fmt.Errorf("failed to compress media: %w", err)
		}
		data, mimeType = compressed, compressedMime
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(formFileHeader(fileName, mimeType))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := a.do(ctx, http.MethodPost, "/media", writer.FormDataContentType(), body, &result); err != nil {
		return "", err
	}
	if result.URL == "" {
		return "", fmt.Errorf("%w: no media url returned", ErrPublishFailed)
	}
	return result.URL, nil
}

// NextSlot asks the service's queue for the next open time slot of a profile.
func (a *Adapter) NextSlot(ctx context.Context, queueProfileRef string) (time.Time, error) {
	var result struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	path := "/queue/" + url.PathEscape(queueProfileRef) + "/next-slot"
	if err := a.do(ctx, http.MethodGet, path, "", nil, &result); err != nil {
		return time.Time{}, err
	}
	if result.ScheduledAt.IsZero() {
		return time.Time{}, fmt.Errorf("%w: no open slot for queue profile %s", ErrPublishFailed, queueProfileRef)
	}
	return result.ScheduledAt, nil
}

// CreatePost creates a post. With a queue profile reference the post is placed
// in the next open queue slot, otherwise the service decides when it goes out.
func (a *Adapter) CreatePost(ctx context.Context, req CreatePostRequest, queueProfileRef string) (*Post, error) {
	if queueProfileRef != "" {
		slot, err := a.NextSlot(ctx, queueProfileRef)
		if err != nil {
			return nil, fmt.Errorf("failed to get next queue slot: %w", err)
		}
		req.ScheduledAt = &slot
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var post Post
	if err := a.do(ctx, http.MethodPost, "/posts", "application/json", bytes.NewReader(payload), &post); err != nil {
		return nil, err
	}
	if post.ID == "" {
		return nil, fmt.Errorf("%w: no post id returned", ErrPublishFailed)
	}
	return &post, nil
}

// GetStatus reports a post's status. A 404 means the post was deleted, which
// is a terminal status and not an error.
func (a *Adapter) GetStatus(ctx context.Context, postID string) (PostStatus, error) {
	var post Post
	err := a.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(postID), "", nil, &post)
	if errors.Is(err, errNotFound) {
		return StatusDeleted, nil
	}
	if err != nil {
		return "", err
	}
	return PostStatus(strings.ToLower(string(post.Status))), nil
}

// DeletePost removes a post. Deleting a post that is already gone succeeds.
func (a *Adapter) DeletePost(ctx context.Context, postID string) error {
	err := a.do(ctx, http.MethodDelete, "/posts/"+url.PathEscape(postID), "", nil, nil)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

var errNotFound = errors.New("not found")

func (a *Adapter) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrPublishFailed, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		slog.Info("publishing service error", "method", method, "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrPublishFailed, method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}

func formFileHeader(fileName, mimeType string) map[string][]string {
	if fileName == "" {
		fileName = "upload"
	}
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(fileName))},
		"Content-Type":        {mimeType},
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
