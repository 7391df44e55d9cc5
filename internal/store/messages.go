package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brandon/mailwatch/pkg/types"
)

// UpsertMessage inserts a message or updates it in place when a record with
// the same (message_id, account_id) already exists. Running a sync any number
// of times therefore yields exactly one stored record per message.
func (s *Store) UpsertMessage(msg *types.Message) error {
	toJSON, err := json.Marshal(msg.To)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}
	ccJSON, err := json.Marshal(msg.Cc)
	if err != nil {
		return fmt.Errorf("failed to marshal cc: %w", err)
	}
	bccJSON, err := json.Marshal(msg.Bcc)
	if err != nil {
		return fmt.Errorf("failed to marshal bcc: %w", err)
	}
	headersJSON, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}
	flagsJSON, err := json.Marshal(msg.Flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}
	analyticsJSON, err := json.Marshal(msg.Analytics)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics: %w", err)
	}

	processed := 0
	if msg.Processed {
		processed = 1
	}

	query := `
		INSERT INTO messages (message_id, account_id, folder, sender, recipients_to, recipients_cc, recipients_bcc,
			subject, sent_date, received_date, body, headers, flags, analytics, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id, account_id) DO UPDATE SET
			folder = excluded.folder,
			sender = excluded.sender,
			recipients_to = excluded.recipients_to,
			recipients_cc = excluded.recipients_cc,
			recipients_bcc = excluded.recipients_bcc,
			subject = excluded.subject,
			sent_date = excluded.sent_date,
			received_date = excluded.received_date,
			body = excluded.body,
			headers = excluded.headers,
			flags = excluded.flags,
			analytics = excluded.analytics,
			processed = excluded.processed,
			stored_at = CURRENT_TIMESTAMP
	`
	_, err = s.db.Exec(query,
		msg.MessageID,
		msg.AccountID,
		msg.Folder,
		msg.From,
		string(toJSON),
		string(ccJSON),
		string(bccJSON),
		msg.Subject,
		msg.SentDate.UTC().Format(time.RFC3339Nano),
		msg.ReceivedDate.UTC().Format(time.RFC3339Nano),
		msg.Body,
		string(headersJSON),
		string(flagsJSON),
		string(analyticsJSON),
		processed,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a single message by its (message_id, account_id) key.
func (s *Store) GetMessage(messageID, accountID string) (*types.Message, error) {
	query := selectMessageColumns + ` WHERE message_id = ? AND account_id = ?`
	return s.scanMessage(s.db.QueryRow(query, messageID, accountID))
}

// ListMessages returns messages for an account, optionally filtered by
// folder, newest first.
func (s *Store) ListMessages(accountID, folder string, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	query := selectMessageColumns + ` WHERE account_id = ?`
	args := []interface{}{accountID}
	if folder != "" {
		query += ` AND folder = ?`
		args = append(args, folder)
	}
	query += ` ORDER BY sent_date DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		msg, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CountMessages returns the number of stored messages for an account,
// optionally narrowed to one folder.
func (s *Store) CountMessages(accountID, folder string) (int, error) {
	query := "SELECT COUNT(*) FROM messages WHERE account_id = ?"
	args := []interface{}{accountID}
	if folder != "" {
		query += " AND folder = ?"
		args = append(args, folder)
	}

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

const selectMessageColumns = `
	SELECT id, message_id, account_id, folder, sender, recipients_to, recipients_cc, recipients_bcc,
		subject, sent_date, received_date, body, headers, flags, analytics, processed
	FROM messages
`

func (s *Store) scanMessage(row rowScanner) (*types.Message, error) {
	var msg types.Message
	var sender, toJSON, ccJSON, bccJSON, subject, body sql.NullString
	var headersJSON, flagsJSON, analyticsJSON sql.NullString
	var sentDate, receivedDate string
	var processed int

	err := row.Scan(
		&msg.ID,
		&msg.MessageID,
		&msg.AccountID,
		&msg.Folder,
		&sender,
		&toJSON,
		&ccJSON,
		&bccJSON,
		&subject,
		&sentDate,
		&receivedDate,
		&body,
		&headersJSON,
		&flagsJSON,
		&analyticsJSON,
		&processed,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.From = sender.String
	msg.Subject = subject.String
	msg.Body = body.String
	msg.Processed = processed != 0

	if t, err := time.Parse(time.RFC3339Nano, sentDate); err == nil {
		msg.SentDate = t
	}
	if t, err := time.Parse(time.RFC3339Nano, receivedDate); err == nil {
		msg.ReceivedDate = t
	}

	for _, f := range []struct {
		raw  sql.NullString
		dest interface{}
	}{
		{toJSON, &msg.To},
		{ccJSON, &msg.Cc},
		{bccJSON, &msg.Bcc},
		{headersJSON, &msg.Headers},
		{flagsJSON, &msg.Flags},
		{analyticsJSON, &msg.Analytics},
	} {
		if f.raw.Valid && f.raw.String != "" {
			if err := json.Unmarshal([]byte(f.raw.String), f.dest); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message field: %w", err)
			}
		}
	}

	return &msg, nil
}
