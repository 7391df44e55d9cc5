package probe

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type stubResolver struct {
	records map[string][]*net.MX
	err     error
	calls   int
}

func (r *stubResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.records[name], nil
}

func newTestProber(resolver MXResolver) *Prober {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	p := NewProber(logger, time.Second)
	if resolver != nil {
		p.resolver = resolver
	}
	return p
}

func TestIdentifyServiceDirectMatch(t *testing.T) {
	resolver := &stubResolver{}
	p := newTestProber(resolver)

	service := p.IdentifyService(context.Background(), "mail.gmail.com")

	assert.Equal(t, "Gmail", service)
	assert.Equal(t, 0, resolver.calls, "direct match must not issue a DNS query")
}

func TestIdentifyServiceMXFallback(t *testing.T) {
	resolver := &stubResolver{
		records: map[string][]*net.MX{
			"corp.example.org": {
				{Host: "mx1.corp.example.org.", Pref: 10},
				{Host: "smtp.sendgrid.net.", Pref: 20},
			},
		},
	}
	p := newTestProber(resolver)

	service := p.IdentifyService(context.Background(), "corp.example.org")

	assert.Equal(t, "SendGrid", service)
	assert.Equal(t, 1, resolver.calls)
}

func TestIdentifyServiceNoMatch(t *testing.T) {
	resolver := &stubResolver{
		records: map[string][]*net.MX{
			"corp.example.org": {{Host: "mx1.corp.example.org.", Pref: 10}},
		},
	}
	p := newTestProber(resolver)

	assert.Equal(t, UnknownService, p.IdentifyService(context.Background(), "corp.example.org"))
}

func TestIdentifyServiceDNSFailure(t *testing.T) {
	resolver := &stubResolver{err: errors.New("dns: server misbehaving")}
	p := newTestProber(resolver)

	assert.Equal(t, UnknownService, p.IdentifyService(context.Background(), "no-such-domain.example"))
}

func TestIdentifyServiceEmptyDomain(t *testing.T) {
	resolver := &stubResolver{}
	p := newTestProber(resolver)

	assert.Equal(t, UnknownService, p.IdentifyService(context.Background(), ""))
	assert.Equal(t, 0, resolver.calls)
}

func TestTableOrderIsDeterministic(t *testing.T) {
	// "gmail.com" appears before other patterns; a domain matching several
	// entries resolves to the first one in table order.
	p := newTestProber(&stubResolver{})
	assert.Equal(t, "Gmail", p.IdentifyService(context.Background(), "gmail.com.outlook.com"))
}
