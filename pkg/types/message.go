package types

import "time"

// Message is a normalized email message pulled from an IMAP folder.
// Identity for deduplication is the pair (MessageID, AccountID): syncing a
// folder twice updates in place, it never creates a second record.
type Message struct {
	ID           int64               `json:"id,omitempty"`
	MessageID    string              `json:"message_id"`
	AccountID    string              `json:"account_id"`
	Folder       string              `json:"folder"`
	From         string              `json:"from"`
	To           []string            `json:"to"`
	Cc           []string            `json:"cc,omitempty"`
	Bcc          []string            `json:"bcc,omitempty"`
	Subject      string              `json:"subject"`
	SentDate     time.Time           `json:"sent_date"`
	ReceivedDate time.Time           `json:"received_date"`
	Body         string              `json:"body,omitempty"`
	Headers      map[string][]string `json:"headers,omitempty"`
	Flags        Flags               `json:"flags"`
	Analytics    Analytics           `json:"analytics"`
	Processed    bool                `json:"processed"`
}

// Flags mirrors the five standard IMAP system flags as booleans. Absence of
// a flag token in the server's fetch response means false.
type Flags struct {
	Read     bool `json:"read"`
	Answered bool `json:"answered"`
	Flagged  bool `json:"flagged"`
	Deleted  bool `json:"deleted"`
	Draft    bool `json:"draft"`
}

// Analytics carries the provenance signals attached to every stored message.
// Probe failures degrade to "Unknown"/false values, never to missing fields.
type Analytics struct {
	SenderDomain string           `json:"sender_domain"`
	ESP          string           `json:"esp"`
	TimeDeltaMS  int64            `json:"time_delta_ms"`
	MailServer   MailServerReport `json:"mail_server"`
}

// MailServerReport describes the trust posture of the last relaying mail
// server observed in the message's Received chain. All probe results are
// best-effort signals, not authoritative verdicts.
type MailServerReport struct {
	Server       string `json:"server"`
	IsOpenRelay  bool   `json:"is_open_relay"`
	SupportsTLS  bool   `json:"supports_tls"`
	HasValidCert bool   `json:"has_valid_cert"`
}

// MessageSummary is a trimmed message view returned by search endpoints.
type MessageSummary struct {
	ID        int64     `json:"id"`
	AccountID string    `json:"account_id"`
	Folder    string    `json:"folder"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	SentDate  time.Time `json:"sent_date"`
	Snippet   string    `json:"snippet,omitempty"`
}
