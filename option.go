package stablepay

import (
	"time"

	"github.com/vitwit/stablepay/clients"
	"github.com/vitwit/stablepay/logger"
	"github.com/vitwit/stablepay/metrics"
	"github.com/vitwit/stablepay/session"
	"github.com/vitwit/stablepay/types"
)

type Option func(*Provider)

func WithLogger(l logger.Logger) Option {
	return func(p *Provider) {
		p.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(p *Provider) {
		p.metrics = r
	}
}

// WithTimeout bounds each RPC call and status lookup. It overrides rpcTimeout
// from the config.
func WithTimeout(t time.Duration) Option {
	return func(p *Provider) {
		p.timeout = t
	}
}

// WithLedger replaces the JSON-RPC ledger, e.g. with a fake in tests.
func WithLedger(l clients.Ledger) Option {
	return func(p *Provider) {
		p.ledger = l
	}
}

// WithStore persists sessions somewhere other than process memory.
func WithStore(s session.Store) Option {
	return func(p *Provider) {
		p.store = s
	}
}

func WithConfirmationPolicy(policy types.ConfirmationPolicy) Option {
	return func(p *Provider) {
		p.policy = &policy
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}
