package models

import (
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type AccountStatus string

const (
	// AccountStatusPending means credentials were verified and stored but no
	// token exchange has completed yet.
	AccountStatusPending AccountStatus = "pending"
	// AccountStatusActive means the grant was handed out and the account is
	// eligible for watching.
	AccountStatusActive AccountStatus = "active"
	// AccountStatusDisabled is the soft-delete state.
	AccountStatusDisabled AccountStatus = "disabled"
	// AccountStatusFailed is set after the listener exhausts its failure
	// ceiling; operator intervention required.
	AccountStatusFailed AccountStatus = "failed"
)

// Account is a user mail account connected through an App. The UUID doubles
// as the grant id returned from the token exchange.
type Account struct {
	ID                   int64         `json:"-"`
	UUID                 uuid.UUID     `json:"id"`
	AppID                int64         `json:"-"`
	Email                string        `json:"email"`
	Provider             string        `json:"provider"`
	EncryptedCredentials []byte        `json:"-"`
	IMAPHost             string        `json:"imap_host"`
	IMAPPort             int           `json:"imap_port"`
	SMTPHost             string        `json:"smtp_host"`
	SMTPPort             int           `json:"smtp_port"`
	Status               AccountStatus `json:"status"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// Addr returns the dial address of the account's IMAP endpoint.
func (a *Account) Addr() string {
	return net.JoinHostPort(a.IMAPHost, strconv.Itoa(a.IMAPPort))
}
