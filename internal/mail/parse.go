package mail

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"github.com/brandon/mailwatch/pkg/types"
)

// Analyzer is the slice of the analytics probe the sync engine invokes for
// every message.
type Analyzer interface {
	IdentifyService(ctx context.Context, domain string) string
	AnalyzeMailServer(ctx context.Context, headers map[string][]string) types.MailServerReport
}

// buildMessage decodes one raw message and assembles the normalized Message,
// including its analytics result. Decode failures are returned so the caller
// can log and skip the message without aborting the batch.
func buildMessage(ctx context.Context, analyzer Analyzer, accountID, folder string, raw RawMessage) (*types.Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw.Raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	now := time.Now()
	msg := &types.Message{
		MessageID:    messageID(env),
		AccountID:    accountID,
		Folder:       folder,
		From:         env.GetHeader("From"),
		To:           addressList(env, "To"),
		Cc:           addressList(env, "Cc"),
		Bcc:          addressList(env, "Bcc"),
		Subject:      env.GetHeader("Subject"),
		SentDate:     now,
		ReceivedDate: now,
		Body:         env.Text,
		Headers:      headerMap(env),
		Flags:        parseFlags(raw.Flags),
		Processed:    true,
	}

	if msg.Body == "" {
		msg.Body = env.HTML
	}
	if sent, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		msg.SentDate = sent
	}

	domain := senderDomain(msg.From)
	msg.Analytics = types.Analytics{
		SenderDomain: domain,
		ESP:          analyzer.IdentifyService(ctx, domain),
		TimeDeltaMS:  msg.ReceivedDate.Sub(msg.SentDate).Milliseconds(),
		MailServer:   analyzer.AnalyzeMailServer(ctx, msg.Headers),
	}

	return msg, nil
}

// buildDisplayMessage decodes a raw message without running analytics or
// marking it processed; used by the raw per-folder fetch path.
func buildDisplayMessage(accountID, folder string, raw RawMessage) (*types.Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw.Raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	msg := &types.Message{
		MessageID:    messageID(env),
		AccountID:    accountID,
		Folder:       folder,
		From:         env.GetHeader("From"),
		To:           addressList(env, "To"),
		Cc:           addressList(env, "Cc"),
		Subject:      env.GetHeader("Subject"),
		SentDate:     raw.InternalDate,
		ReceivedDate: raw.InternalDate,
		Body:         env.Text,
		Flags:        parseFlags(raw.Flags),
	}
	if msg.Body == "" {
		msg.Body = env.HTML
	}
	if sent, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		msg.SentDate = sent
	}
	return msg, nil
}

// messageID returns the Message-Id header, or synthesizes an identifier from
// the current time plus a random component when the header is absent. The
// fallback avoids collisions under normal operation but is not
// cryptographically unique.
func messageID(env *enmime.Envelope) string {
	id := strings.Trim(env.GetHeader("Message-Id"), "<> ")
	if id != "" {
		return id
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString())
}

// parseFlags derives the five boolean flags from the server's reported flag
// set. A flag token that was not reported defaults to false.
func parseFlags(flags []string) types.Flags {
	var f types.Flags
	for _, flag := range flags {
		switch flag {
		case imap.SeenFlag:
			f.Read = true
		case imap.AnsweredFlag:
			f.Answered = true
		case imap.FlaggedFlag:
			f.Flagged = true
		case imap.DeletedFlag:
			f.Deleted = true
		case imap.DraftFlag:
			f.Draft = true
		}
	}
	return f
}

// senderDomain extracts the domain portion of a From header value.
func senderDomain(from string) string {
	addr := from
	if parsed, err := mail.ParseAddress(from); err == nil {
		addr = parsed.Address
	}
	idx := strings.LastIndex(addr, "@")
	if idx < 0 || idx == len(addr)-1 {
		return ""
	}
	return strings.Trim(addr[idx+1:], "> ")
}

func addressList(env *enmime.Envelope, key string) []string {
	addrs, err := env.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

func headerMap(env *enmime.Envelope) map[string][]string {
	if env.Root == nil || env.Root.Header == nil {
		return map[string][]string{}
	}
	headers := make(map[string][]string, len(env.Root.Header))
	for k, v := range env.Root.Header {
		headers[k] = append([]string(nil), v...)
	}
	return headers
}
