package models

import "time"

// AuthorizationCode is a single-use code binding an (app, account) pair to
// the redirect URI it was issued for. The code value itself is a secret and
// must only ever be logged by prefix.
type AuthorizationCode struct {
	ID          int64
	Code        string
	AppID       int64
	AccountID   int64
	RedirectURI string
	Scope       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time
}

// Valid reports whether the code is still exchangeable at the given instant.
// A code exactly at its expiry is no longer valid.
func (c *AuthorizationCode) Valid(now time.Time) bool {
	return c.UsedAt == nil && now.Before(c.ExpiresAt)
}

// CodePrefix returns the loggable prefix of a code value.
func CodePrefix(code string) string {
	if len(code) <= 8 {
		return code
	}
	return code[:8]
}
