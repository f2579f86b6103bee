package models

import (
	"time"
)

const (
	AccountStatusConnected    = "connected"
	AccountStatusDisconnected = "disconnected"
)

// SocialAccount is a platform account linked to a user. Tokens are stored encrypted.
type SocialAccount struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	Platform        string    `db:"platform" json:"platform"`
	AccountID       string    `db:"account_id" json:"account_id"`
	AccountName     string    `db:"account_name" json:"account_name"`
	AccountUsername string    `db:"account_username" json:"account_username"`
	AccessToken     string    `db:"access_token" json:"-"`
	TokenExpiresAt  time.Time `db:"token_expires_at" json:"token_expires_at"`
	AccountStatus   string    `db:"account_status" json:"account_status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

func (a *SocialAccount) Connected(now time.Time) bool {
	if a.AccountStatus != AccountStatusConnected {
		return false
	}
	return a.TokenExpiresAt.IsZero() || a.TokenExpiresAt.After(now)
}
