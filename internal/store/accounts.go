package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brandon/mailwatch/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// CreateAccount inserts a new account record.
func (s *Store) CreateAccount(acc *types.Account) error {
	foldersJSON, err := json.Marshal(acc.Folders)
	if err != nil {
		return fmt.Errorf("failed to marshal folders: %w", err)
	}

	query := `
		INSERT INTO accounts (id, email, imap_host, imap_port, username, password, auth_method, folders, is_connected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
	`
	_, err = s.db.Exec(query, acc.ID, acc.Email, acc.IMAPHost, acc.IMAPPort, acc.Username, acc.Password, acc.AuthMethod, string(foldersJSON))
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount returns the account with the given id.
func (s *Store) GetAccount(id string) (*types.Account, error) {
	query := `
		SELECT id, email, imap_host, imap_port, username, password, auth_method, folders, is_connected, last_sync, created_at
		FROM accounts WHERE id = ?
	`
	return s.scanAccount(s.db.QueryRow(query, id))
}

// ListAccounts returns all accounts ordered by creation time.
func (s *Store) ListAccounts() ([]*types.Account, error) {
	query := `
		SELECT id, email, imap_host, imap_port, username, password, auth_method, folders, is_connected, last_sync, created_at
		FROM accounts ORDER BY created_at
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*types.Account
	for rows.Next() {
		acc, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes an account and, via cascade, its messages.
func (s *Store) DeleteAccount(id string) error {
	result, err := s.db.Exec("DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	return nil
}

// SetConnected updates the account's connectivity flag.
func (s *Store) SetConnected(id string, connected bool) error {
	val := 0
	if connected {
		val = 1
	}
	if _, err := s.db.Exec("UPDATE accounts SET is_connected = ? WHERE id = ?", val, id); err != nil {
		return fmt.Errorf("failed to update connectivity: %w", err)
	}
	return nil
}

// SetFolders replaces the account's known folder list.
func (s *Store) SetFolders(id string, folders []string) error {
	foldersJSON, err := json.Marshal(folders)
	if err != nil {
		return fmt.Errorf("failed to marshal folders: %w", err)
	}
	if _, err := s.db.Exec("UPDATE accounts SET folders = ? WHERE id = ?", string(foldersJSON), id); err != nil {
		return fmt.Errorf("failed to update folders: %w", err)
	}
	return nil
}

// SetLastSync records the time of the last successful sync pass.
func (s *Store) SetLastSync(id string, at time.Time) error {
	if _, err := s.db.Exec("UPDATE accounts SET last_sync = ? WHERE id = ?", at.UTC().Format(time.RFC3339Nano), id); err != nil {
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	return nil
}

// ResetConnections clears every connectivity flag. Sessions are runtime-only,
// so no account can be connected at process start.
func (s *Store) ResetConnections() error {
	if _, err := s.db.Exec("UPDATE accounts SET is_connected = 0"); err != nil {
		return fmt.Errorf("failed to reset connectivity flags: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanAccount(row rowScanner) (*types.Account, error) {
	var acc types.Account
	var foldersJSON string
	var connected int
	var lastSync sql.NullString
	var createdAt string

	err := row.Scan(
		&acc.ID,
		&acc.Email,
		&acc.IMAPHost,
		&acc.IMAPPort,
		&acc.Username,
		&acc.Password,
		&acc.AuthMethod,
		&foldersJSON,
		&connected,
		&lastSync,
		&createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	acc.IsConnected = connected != 0
	if err := json.Unmarshal([]byte(foldersJSON), &acc.Folders); err != nil {
		return nil, fmt.Errorf("failed to unmarshal folders: %w", err)
	}
	if lastSync.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastSync.String); err == nil {
			acc.LastSync = t
		}
	}
	if t, err := parseStoredTime(createdAt); err == nil {
		acc.CreatedAt = t
	}
	return &acc, nil
}

// parseStoredTime handles both the SQLite CURRENT_TIMESTAMP format and RFC3339.
func parseStoredTime(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
