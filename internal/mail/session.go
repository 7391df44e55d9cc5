// Package mail contains the connection supervisor and the folder sync
// engine: one live IMAP session per connected account, automatic
// reconnection, and batched message ingestion.
package mail

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"

	"github.com/brandon/mailwatch/pkg/types"
)

// RawMessage is one fetched message before normalization: the full RFC822
// byte stream plus the attributes reported alongside it.
type RawMessage struct {
	SeqNum       uint32
	Flags        []string
	InternalDate time.Time
	Raw          []byte
}

// Session is the capability set the supervisor and sync engine need from a
// live mailbox connection. The production implementation wraps a go-imap
// client; tests substitute fakes.
type Session interface {
	// Mailboxes lists all folders as flattened path strings.
	Mailboxes() ([]string, error)
	// SelectReadOnly opens a folder without permitting flag mutations and
	// returns its total message count.
	SelectReadOnly(folder string) (uint32, error)
	// FetchRange fetches messages by sequence number from the currently
	// selected folder, inclusive on both ends.
	FetchRange(from, to uint32) ([]RawMessage, error)
	// Terminated is closed when the session ends, expectedly or not.
	Terminated() <-chan struct{}
	// Close logs out and tears the connection down.
	Close() error
}

// Dialer opens a session for an account's stored credentials.
type Dialer func(acc *types.Account) (Session, error)

// NewIMAPDialer returns the production dialer: TLS to the account's IMAP
// endpoint with the given handshake timeout, authenticating according to
// the account's preferred auth method.
func NewIMAPDialer(timeout time.Duration) Dialer {
	return func(acc *types.Account) (Session, error) {
		dialer := &net.Dialer{Timeout: timeout}
		c, err := client.DialWithDialerTLS(dialer, acc.Addr(), &tls.Config{
			ServerName: acc.IMAPHost,
			MinVersion: tls.VersionTLS12,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
		}

		if err := login(c, acc); err != nil {
			c.Logout() //nolint:errcheck
			return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
		}

		return &imapSession{client: c}, nil
	}
}

func login(c *client.Client, acc *types.Account) error {
	switch acc.AuthMethod {
	case types.AuthLogin:
		return c.Authenticate(sasl.NewLoginClient(acc.Username, acc.Password))
	case types.AuthXOAuth2:
		return c.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: acc.Username,
			Token:    acc.Password,
		}))
	default:
		return c.Login(acc.Username, acc.Password)
	}
}

// imapSession adapts a go-imap client to the Session interface.
type imapSession struct {
	client *client.Client
}

func (s *imapSession) Mailboxes() ([]string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var folders []string
	for m := range mailboxes {
		name := m.Name
		// Normalize the server's hierarchy delimiter so folder paths always
		// join levels with "/".
		if m.Delimiter != "" && m.Delimiter != "/" {
			name = strings.ReplaceAll(name, m.Delimiter, "/")
		}
		folders = append(folders, name)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

func (s *imapSession) SelectReadOnly(folder string) (uint32, error) {
	mbox, err := s.client.Select(folder, true)
	if err != nil {
		return 0, fmt.Errorf("failed to open folder %s: %w", folder, err)
	}
	return mbox.Messages, nil
}

func (s *imapSession) FetchRange(from, to uint32) ([]RawMessage, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, to)

	items := []imap.FetchItem{imap.FetchFlags, imap.FetchInternalDate, imap.FetchRFC822}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.client.Fetch(seqSet, items, messages)
	}()

	var raws []RawMessage
	for msg := range messages {
		raw := RawMessage{
			SeqNum:       msg.SeqNum,
			Flags:        append([]string(nil), msg.Flags...),
			InternalDate: msg.InternalDate,
		}
		for _, literal := range msg.Body {
			raw.Raw = readLiteral(literal)
			if len(raw.Raw) > 0 {
				break
			}
		}
		raws = append(raws, raw)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return raws, nil
}

func (s *imapSession) Terminated() <-chan struct{} {
	return s.client.LoggedOut()
}

func (s *imapSession) Close() error {
	return s.client.Logout()
}

func readLiteral(literal imap.Literal) []byte {
	if literal == nil {
		return nil
	}
	// A short read still yields the bytes received so far; the parser
	// decides whether they are usable.
	data, _ := io.ReadAll(literal)
	return data
}
