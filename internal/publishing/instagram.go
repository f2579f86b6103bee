package publishing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maheshrc27/seriesflow/internal/media"
	"github.com/maheshrc27/seriesflow/internal/models"
	"github.com/maheshrc27/seriesflow/pkg/utils"
)

const PlatformInstagram = "instagram"

// AccountStore resolves the platform account a direct publisher posts as.
type AccountStore interface {
	ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
}

// InstagramPublisher posts through the Instagram Graph API: the media is
// staged at a public URL, a container is created from it, then published.
type InstagramPublisher struct {
	graphURL     string
	accounts     AccountStore
	stager       Stager
	compressor   *media.Router
	secret       []byte
	httpClient   *http.Client
	pollInterval time.Duration
	pollAttempts int
}

func NewInstagramPublisher(graphURL string, accounts AccountStore, stager Stager, compressor *media.Router, secretKey string) *InstagramPublisher {
	return &InstagramPublisher{
		graphURL:     strings.TrimRight(graphURL, "/"),
		accounts:     accounts,
		stager:       stager,
		compressor:   compressor,
		secret:       []byte(secretKey),
		httpClient:   &http.Client{Timeout: time.Minute},
		pollInterval: 5 * time.Second,
		pollAttempts: 24,
	}
}

func (p *InstagramPublisher) Name() string { return PlatformInstagram }

func (p *InstagramPublisher) Queued() bool { return false }

func (p *InstagramPublisher) Publish(ctx context.Context, req Request) (*Result, error) {
	account, err := p.resolveAccount(ctx, req.UserID, req.ProfileRef)
	if err != nil {
		return nil, err
	}

	accessToken, err := utils.Decrypt(account.AccessToken, p.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt instagram token: %w", err)
	}

	data, mimeType := req.Data, req.MimeType
	if p.compressor != nil {
		env := media.EnvelopeFor([]string{PlatformInstagram}, media.KindFromMime(mimeType))
		data, mimeType, err = p.compressor.Compress(ctx, data, mimeType, env)
		if err != nil {
			return nil, fmt.Errorf("failed to compress media for instagram: %w", err)
		}
	}

	publicURL, key, err := p.stager.Stage(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.stager.Remove(context.WithoutCancel(ctx), key); err != nil {
			slog.Warn("failed to remove staged media", "key", key, "error", err)
		}
	}()

	payload := map[string]any{
		"caption":      req.Caption,
		"access_token": accessToken,
	}
	video := media.KindFromMime(mimeType) == media.KindVideo
	if video {
		payload["media_type"] = "REELS"
		payload["video_url"] = publicURL
	} else {
		payload["image_url"] = publicURL
	}

	containerID, err := p.post(ctx, fmt.Sprintf("%s/%s/media", p.graphURL, account.AccountID), payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create instagram container: %w", err)
	}

	if video {
		if err := p.waitForContainer(ctx, containerID, accessToken); err != nil {
			return nil, err
		}
	}

	mediaID, err := p.post(ctx, fmt.Sprintf("%s/%s/media_publish", p.graphURL, account.AccountID), map[string]any{
		"creation_id":  containerID,
		"access_token": accessToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish instagram container: %w", err)
	}

	slog.Info("published to instagram", "account", account.AccountUsername, "media_id", mediaID)
	return &Result{
		Publisher: p.Name(),
		Platforms: []string{PlatformInstagram},
		PostID:    mediaID,
		Status:    StatusPublished,
	}, nil
}

// resolveAccount matches the series profile against the account name or
// username, falling back to the user's only connected Instagram account.
func (p *InstagramPublisher) resolveAccount(ctx context.Context, userID int64, profileRef string) (*models.SocialAccount, error) {
	accounts, err := p.accounts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load social accounts: %w", err)
	}

	var candidates []*models.SocialAccount
	for _, a := range accounts {
		if !strings.EqualFold(a.Platform, PlatformInstagram) || !a.Connected(time.Now()) {
			continue
		}
		if profileRef != "" && (strings.EqualFold(a.AccountName, profileRef) || strings.EqualFold(a.AccountUsername, profileRef)) {
			return a, nil
		}
		candidates = append(candidates, a)
	}

	if len(candidates) == 1 {
		return candidates[0], nil
	}
	return nil, fmt.Errorf("no connected instagram account matches %q, reconnect instagram", profileRef)
}

func (p *InstagramPublisher) waitForContainer(ctx context.Context, containerID, accessToken string) error {
	url := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s", p.graphURL, containerID, accessToken)

	for attempt := 0; attempt < p.pollAttempts; attempt++ {
		var result struct {
			StatusCode string `json:"status_code"`
		}
		if err := p.get(ctx, url, &result); err != nil {
			return fmt.Errorf("failed to check instagram container: %w", err)
		}

		switch result.StatusCode {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR", "EXPIRED":
			return fmt.Errorf("instagram container %s ended with status %s", containerID, result.StatusCode)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
	return fmt.Errorf("instagram container %s not ready after %d checks", containerID, p.pollAttempts)
}

type graphError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		IsTransient  bool   `json:"is_transient"`
		ErrorUserMsg string `json:"error_user_msg"`
		FbtraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

func (p *InstagramPublisher) post(ctx context.Context, url string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("error marshalling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		ID string `json:"id"`
	}
	if err := p.send(req, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", errors.New("no media ID returned from Instagram")
	}
	return result.ID, nil
}

func (p *InstagramPublisher) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	return p.send(req, out)
}

func (p *InstagramPublisher) send(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var ge graphError
		if json.Unmarshal(respBody, &ge) == nil && ge.Error.Message != "" {
			return fmt.Errorf("instagram error %d: %s", ge.Error.Code, ge.Error.Message)
		}
		return fmt.Errorf("unexpected status code from Instagram: %d", resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}
