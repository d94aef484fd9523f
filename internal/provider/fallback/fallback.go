// Package fallback resolves one price by walking endpoints in priority order
// and falling back to the last known historical price.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"giftvalue/internal/history"
	"giftvalue/internal/logger"
	"giftvalue/internal/provider"
	"giftvalue/internal/provider/endpoint"
)

var (
	// ErrNoLivePrice is returned when every candidate endpoint failed.
	ErrNoLivePrice = errors.New("no live price")
	// ErrNoHistory is returned when the live step failed and history is empty.
	ErrNoHistory = errors.New("no historical price")
)

// RetryConfig holds options for retry logic.
type RetryConfig struct {
	Attempts       int           // tries per endpoint
	InitialBackoff time.Duration // wait after the first failure; doubles after each
	MaxBackoff     time.Duration // cap for the doubled wait; zero means no cap
}

// DefaultRetry is three tries per endpoint starting at one second.
func DefaultRetry() RetryConfig {
	return RetryConfig{Attempts: 3, InitialBackoff: time.Second, MaxBackoff: 8 * time.Second}
}

// Orchestrator runs the priority walk. It holds no state between calls.
type Orchestrator struct {
	fetcher provider.Fetcher
	band    provider.Band
	retry   RetryConfig
	log     logger.Logger
	wait    func(ctx context.Context, d time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBand sets the accepted price band.
func WithBand(b provider.Band) Option {
	return func(o *Orchestrator) { o.band = b }
}

// WithRetry sets per-endpoint retry behavior.
func WithRetry(r RetryConfig) Option {
	return func(o *Orchestrator) { o.retry = r }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithWait replaces the backoff wait, mostly for tests.
func WithWait(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.wait = fn }
}

// New builds an orchestrator over f with a [10, 200] band and DefaultRetry.
func New(f provider.Fetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher: f,
		band:    provider.Band{Min: 10, Max: 200},
		retry:   DefaultRetry(),
		log:     logger.Nop(),
		wait:    sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retry.Attempts <= 0 {
		o.retry.Attempts = 1
	}
	return o
}

// Candidates drops endpoints whose credential is absent from creds and
// orders the rest by ascending priority, then name, then input order.
func Candidates(eps []provider.Endpoint, creds url.Values) []provider.Endpoint {
	out := make([]provider.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if ep.Satisfiable(creds) {
			out = append(out, ep)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Live returns the first in-band sample from the candidates, or an error
// wrapping ErrNoLivePrice and the last endpoint failure.
func (o *Orchestrator) Live(ctx context.Context, eps []provider.Endpoint, creds url.Values) (provider.Sample, error) {
	candidates := Candidates(eps, creds)
	if skipped := len(eps) - len(candidates); skipped > 0 {
		o.log.Debugf("fallback: skipped %d endpoint(s) without credentials", skipped)
	}

	var lastErr error
	for _, ep := range candidates {
		if err := ctx.Err(); err != nil {
			return provider.Sample{}, fmt.Errorf("%w: %w", ErrNoLivePrice, err)
		}
		s, err := o.tryEndpoint(ctx, ep, creds)
		if err == nil {
			o.log.Infof("fallback: %s returned %g", ep.Name, s.Price)
			return s, nil
		}
		lastErr = err
		o.log.Warnf("fallback: giving up on %s: %v", ep.Name, err)
	}
	if lastErr == nil {
		return provider.Sample{}, fmt.Errorf("%w: no usable endpoint", ErrNoLivePrice)
	}
	return provider.Sample{}, fmt.Errorf("%w: %w", ErrNoLivePrice, lastErr)
}

// tryEndpoint calls the endpoint up to Attempts times with doubling backoff.
// Out-of-band values and missing credentials are not retried.
func (o *Orchestrator) tryEndpoint(ctx context.Context, ep provider.Endpoint, creds url.Values) (provider.Sample, error) {
	backoff := o.retry.InitialBackoff
	var err error
	for attempt := 1; attempt <= o.retry.Attempts; attempt++ {
		var s provider.Sample
		s, err = o.fetcher.Fetch(ctx, ep, creds)
		if err == nil {
			err = o.band.Check(s.Price)
			if err == nil {
				s.Live, s.LastKnown = true, false
				if s.Source == "" {
					s.Source = ep.Name
				}
				return s, nil
			}
		}
		if permanent(err) || attempt == o.retry.Attempts {
			return provider.Sample{}, err
		}
		o.log.Warnf("fallback: %s attempt %d/%d failed: %v; retrying in %s", ep.Name, attempt, o.retry.Attempts, err, backoff)
		if werr := o.wait(ctx, backoff); werr != nil {
			return provider.Sample{}, werr
		}
		backoff *= 2
		if o.retry.MaxBackoff > 0 && backoff > o.retry.MaxBackoff {
			backoff = o.retry.MaxBackoff
		}
	}
	return provider.Sample{}, err
}

func permanent(err error) bool {
	return errors.Is(err, provider.ErrOutOfBand) || errors.Is(err, endpoint.ErrMissingCredential)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LastKnown turns the newest history point into a sample.
func LastKnown(series history.Series) (provider.Sample, error) {
	p, err := series.Latest()
	if err != nil {
		return provider.Sample{}, fmt.Errorf("%w: %w", ErrNoHistory, err)
	}
	return provider.Sample{
		Price:     p.Price,
		Source:    "history",
		Timestamp: p.Date,
		Live:      false,
		LastKnown: true,
	}, nil
}

// Resolve tries the live endpoints and substitutes the last known price
// when none succeeds.
func (o *Orchestrator) Resolve(ctx context.Context, eps []provider.Endpoint, series history.Series, creds url.Values) (provider.Sample, error) {
	s, err := o.Live(ctx, eps, creds)
	if err == nil {
		return s, nil
	}
	o.log.Infof("fallback: using last known price: %v", err)
	s, herr := LastKnown(series)
	if herr != nil {
		return provider.Sample{}, errors.Join(err, herr)
	}
	return s, nil
}
