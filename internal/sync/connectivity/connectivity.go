// Package connectivity decides whether the remote store is worth trying.
package connectivity

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/wishwell/backend/internal/logging"
)

// DefaultProbeURL answers 204 to anyone on the public internet.
const DefaultProbeURL = "https://clients3.google.com/generate_204"

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 2500 * time.Millisecond

// Prober reports whether the network is reachable. It never fails: anything
// that prevents a definite answer counts as offline.
type Prober interface {
	Online(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

// Online implements Prober.
func (f ProberFunc) Online(ctx context.Context) bool { return f(ctx) }

// Static always reports the same answer.
type Static bool

// Online implements Prober.
func (s Static) Online(context.Context) bool { return bool(s) }

// Reported holds the online flag the host platform pushes to us, e.g. from
// OS network-change notifications. The zero value reports online.
type Reported struct {
	offline atomic.Bool
}

// NewReported creates a Reported signal with an initial state.
func NewReported(online bool) *Reported {
	r := &Reported{}
	r.SetOnline(online)
	return r
}

// SetOnline records the latest platform signal.
func (r *Reported) SetOnline(online bool) {
	r.offline.Store(!online)
}

// Online implements Prober.
func (r *Reported) Online(context.Context) bool {
	return !r.offline.Load()
}

// HTTPProber checks reachability with a HEAD request against a public
// endpoint. Any HTTP response counts as reachable; transport errors and
// timeouts count as offline.
type HTTPProber struct {
	url      string
	client   *http.Client
	timeout  time.Duration
	fallback Prober
	logger   *logging.Logger
}

// Option configures an HTTPProber.
type Option func(*HTTPProber)

// WithURL sets the probe endpoint. An empty URL disables the network check
// and leaves the answer to the fallback.
func WithURL(url string) Option {
	return func(p *HTTPProber) { p.url = url }
}

// WithTimeout sets the hard probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *HTTPProber) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(p *HTTPProber) {
		if c != nil {
			p.client = c
		}
	}
}

// WithFallback sets the signal consulted when there is no probe endpoint, and
// which short-circuits the probe when it already reports offline.
func WithFallback(f Prober) Option {
	return func(p *HTTPProber) { p.fallback = f }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *HTTPProber) { p.logger = l }
}

// NewHTTPProber creates an HTTPProber against DefaultProbeURL unless
// configured otherwise.
func NewHTTPProber(opts ...Option) *HTTPProber {
	p := &HTTPProber{
		url:     DefaultProbeURL,
		client:  &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Get()
	}
	return p
}

// Online implements Prober.
func (p *HTTPProber) Online(ctx context.Context) bool {
	if p.fallback != nil && !p.fallback.Online(ctx) {
		return false
	}
	if p.url == "" {
		// no endpoint to observe: no signal against us means reachable
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Warn("Connectivity probe misconfigured", map[string]interface{}{
			"url":   p.url,
			"error": err.Error(),
		})
		return false
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Connectivity probe failed", map[string]interface{}{
			"url":   p.url,
			"error": err.Error(),
		})
		return false
	}
	resp.Body.Close()
	return true
}

var (
	_ Prober = (*HTTPProber)(nil)
	_ Prober = (*Reported)(nil)
	_ Prober = Static(false)
	_ Prober = ProberFunc(nil)
)
