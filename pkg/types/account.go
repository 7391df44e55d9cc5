package types

import (
	"fmt"
	"time"
)

// Auth methods accepted for an account's IMAP login.
const (
	AuthPlain   = "PLAIN"
	AuthLogin   = "LOGIN"
	AuthXOAuth2 = "XOAUTH2"
)

// Account identifies one mailbox on a third-party IMAP server. Accounts are
// created and deleted by the HTTP layer; IsConnected and Folders are owned
// and mutated only by the connection supervisor.
type Account struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	IMAPHost    string    `json:"imap_host"`
	IMAPPort    int       `json:"imap_port"`
	Username    string    `json:"username"`
	Password    string    `json:"-"`
	AuthMethod  string    `json:"auth_method"`
	Folders     []string  `json:"folders"`
	IsConnected bool      `json:"is_connected"`
	LastSync    time.Time `json:"last_sync"`
	CreatedAt   time.Time `json:"created_at"`
}

// Addr returns the host:port dial target for the account's IMAP server.
func (a *Account) Addr() string {
	return fmt.Sprintf("%s:%d", a.IMAPHost, a.IMAPPort)
}
