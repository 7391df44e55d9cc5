// Package probe resolves provenance signals for synced messages: the
// sending service behind a domain and the trust posture of the last
// relaying mail server. Every probe is best-effort; failures degrade to
// "Unknown"/false results and are never returned as errors.
package probe

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailwatch/internal/metrics"
)

// UnknownService is returned when no table entry matches the domain or its
// mail exchangers, or when DNS resolution fails.
const UnknownService = "Unknown"

// espEntry maps a domain substring to a sending-service name. Matching walks
// the table in slice order, so the first matching entry wins.
type espEntry struct {
	pattern string
	service string
}

var espTable = []espEntry{
	{"gmail.com", "Gmail"},
	{"outlook.com", "Outlook"},
	{"yahoo.com", "Yahoo"},
	{"amazonses.com", "Amazon SES"},
	{"mailgun.org", "Mailgun"},
	{"sendgrid.net", "SendGrid"},
	{"mandrill.com", "Mandrill"},
	{"sparkpost.com", "SparkPost"},
}

// MXResolver resolves a domain's mail-exchange records. *net.Resolver
// satisfies it; tests substitute a stub.
type MXResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Prober runs the analytics probes with bounded time budgets.
type Prober struct {
	logger   *logrus.Logger
	resolver MXResolver
	timeout  time.Duration

	// Probe target ports, overridable in tests.
	relayPort      string
	submissionPort string
}

// NewProber creates a prober. timeout bounds each individual network
// operation (DNS lookup, relay handshake, TLS handshake).
func NewProber(logger *logrus.Logger, timeout time.Duration) *Prober {
	return &Prober{
		logger:         logger,
		resolver:       net.DefaultResolver,
		timeout:        timeout,
		relayPort:      "25",
		submissionPort: "587",
	}
}

// IdentifyService maps a sending domain to a known service name. The static
// table is consulted first; only when no entry matches directly are the
// domain's MX records resolved and checked against the same table. DNS
// failures are logged and yield UnknownService.
func (p *Prober) IdentifyService(ctx context.Context, domain string) string {
	if domain == "" {
		return UnknownService
	}

	for _, e := range espTable {
		if strings.Contains(domain, e.pattern) {
			return e.service
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	records, err := p.resolver.LookupMX(lookupCtx, domain)
	if err != nil {
		metrics.ProbeFailuresTotal.WithLabelValues("mx").Inc()
		p.logger.WithError(err).WithField("domain", domain).Debug("MX lookup failed")
		return UnknownService
	}

	for _, mx := range records {
		for _, e := range espTable {
			if strings.Contains(mx.Host, e.pattern) {
				return e.service
			}
		}
	}

	return UnknownService
}
