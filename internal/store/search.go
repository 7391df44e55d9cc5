package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/brandon/mailwatch/pkg/types"
)

// AdvancedSearchOptions contains field-level search criteria.
type AdvancedSearchOptions struct {
	AccountID string
	From      string
	To        string
	Subject   string
	Body      string
	DateFrom  *time.Time
	DateTo    *time.Time
	Limit     int
}

// Search performs a full-text search over subject, sender and body using FTS5.
func (s *Store) Search(query, accountID string, limit, offset int) ([]types.MessageSummary, error) {
	// Quote the query as an FTS5 phrase so user input is never parsed as
	// match syntax.
	query = `"` + strings.ReplaceAll(query, `"`, `""`) + `"`

	conditions := []string{"m.id IN (SELECT rowid FROM messages_fts WHERE messages_fts MATCH ?)"}
	args := []interface{}{query}

	if accountID != "" {
		conditions = append(conditions, "m.account_id = ?")
		args = append(args, accountID)
	}

	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	sqlQuery := fmt.Sprintf(`
		SELECT m.id, m.account_id, m.folder, m.sender, m.subject, m.sent_date, m.body
		FROM messages m
		WHERE %s
		ORDER BY m.sent_date DESC
		LIMIT ? OFFSET ?
	`, strings.Join(conditions, " AND "))
	args = append(args, limit, offset)

	return s.querySummaries(sqlQuery, args...)
}

// AdvancedSearch searches messages by individual envelope fields.
func (s *Store) AdvancedSearch(opts AdvancedSearchOptions) ([]types.MessageSummary, error) {
	var conditions []string
	var args []interface{}

	if opts.AccountID != "" {
		conditions = append(conditions, "m.account_id = ?")
		args = append(args, opts.AccountID)
	}
	if opts.From != "" {
		conditions = append(conditions, "m.sender LIKE ?")
		args = append(args, "%"+opts.From+"%")
	}
	if opts.To != "" {
		conditions = append(conditions, "m.recipients_to LIKE ?")
		args = append(args, "%"+opts.To+"%")
	}
	if opts.Subject != "" {
		conditions = append(conditions, "m.subject LIKE ?")
		args = append(args, "%"+opts.Subject+"%")
	}
	if opts.Body != "" {
		conditions = append(conditions, "m.body LIKE ?")
		args = append(args, "%"+opts.Body+"%")
	}
	if opts.DateFrom != nil {
		conditions = append(conditions, "m.sent_date >= ?")
		args = append(args, opts.DateFrom.UTC().Format(time.RFC3339Nano))
	}
	if opts.DateTo != nil {
		conditions = append(conditions, "m.sent_date <= ?")
		args = append(args, opts.DateTo.UTC().Format(time.RFC3339Nano))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := fmt.Sprintf(`
		SELECT m.id, m.account_id, m.folder, m.sender, m.subject, m.sent_date, m.body
		FROM messages m
		%s
		ORDER BY m.sent_date DESC
		LIMIT ?
	`, whereClause)
	args = append(args, limit)

	return s.querySummaries(query, args...)
}

func (s *Store) querySummaries(query string, args ...interface{}) ([]types.MessageSummary, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	var results []types.MessageSummary
	for rows.Next() {
		var summary types.MessageSummary
		var sender, subject, body sql.NullString
		var sentDate string

		err := rows.Scan(
			&summary.ID,
			&summary.AccountID,
			&summary.Folder,
			&sender,
			&subject,
			&sentDate,
			&body,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}

		summary.From = sender.String
		summary.Subject = subject.String
		if t, err := time.Parse(time.RFC3339Nano, sentDate); err == nil {
			summary.SentDate = t
		}

		if body.Valid && len(body.String) > 0 {
			summary.Snippet = snippet(body.String)
		}

		results = append(results, summary)
	}

	return results, rows.Err()
}

const snippetLimit = 200

// snippet truncates a body for search results, backing up to a rune boundary
// so a multi-byte character is never split.
func snippet(body string) string {
	if len(body) <= snippetLimit {
		return body
	}
	cut := snippetLimit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
