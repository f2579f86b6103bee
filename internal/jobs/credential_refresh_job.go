package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/seriesflow/internal/models"
)

type ExpiringLister interface {
	ListExpiring(ctx context.Context, provider string, before time.Time) ([]*models.CloudCredential, error)
}

type CredentialRefresher interface {
	RefreshCredential(ctx context.Context, stored *models.CloudCredential) error
}

// CredentialRefreshJob refreshes cloud credentials shortly before they expire
// so runs rarely hit the refresh-and-retry path.
type CredentialRefreshJob struct {
	cr          ExpiringLister
	refresher   CredentialRefresher
	provider    string
	lookahead   time.Duration
	concurrency int
}

func NewCredentialRefreshJob(cr ExpiringLister, refresher CredentialRefresher, concurrency int) *CredentialRefreshJob {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &CredentialRefreshJob{
		cr:          cr,
		refresher:   refresher,
		provider:    models.ProviderGoogleDrive,
		lookahead:   30 * time.Minute,
		concurrency: concurrency,
	}
}

func (c *CredentialRefreshJob) RefreshCredentials() {
	ctx := context.Background()

	creds, err := c.cr.ListExpiring(ctx, c.provider, time.Now().Add(c.lookahead))
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, c.concurrency)

	for _, cred := range creds {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(cred *models.CloudCredential) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := c.refresher.RefreshCredential(ctx, cred); err != nil {
				slog.Info("Unable to refresh cloud credential", "user_id", cred.UserID, "error", err)
			}
		}(cred)
	}

	wg.Wait()
}
