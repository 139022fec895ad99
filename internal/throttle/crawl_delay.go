// Package throttle spaces out checks against the same domain and suspends
// domains that signal rate limiting.
package throttle

import (
	"context"
	"sync"
	"time"

	"linkcheck/internal/logger"
	"linkcheck/internal/metrics"
	"linkcheck/internal/pattern"
)

// Suspension is a domain pause shared between processes.
type Suspension struct {
	ResumeAt time.Time // zero = until cleared
	Reason   string
}

// Active reports whether the suspension still applies at now.
func (s Suspension) Active(now time.Time) bool {
	return s.ResumeAt.IsZero() || !now.After(s.ResumeAt)
}

// SuspensionStore externalises suspensions so every process honours them.
type SuspensionStore interface {
	Suspend(ctx context.Context, domain string, s Suspension) error
	Lookup(ctx context.Context, domain string) (Suspension, bool, error)
	Clear(ctx context.Context, domain string) error
}

// DomainState is a snapshot of one domain's throttle state.
type DomainState struct {
	LastCheckedAt time.Time
	Suspended     bool
	ResumeAt      time.Time
	SuspendReason string
}

type domainState struct {
	// gate serialises AllowCheck per domain, including the wait.
	gate sync.Mutex
	DomainState
}

// CrawlDelay enforces a minimum gap between checks of the same domain.
// Different domains never wait on each other.
type CrawlDelay struct {
	delay   time.Duration
	noDelay *pattern.Set
	shared  SuspensionStore
	log     logger.Logger

	mu      sync.Mutex
	domains map[string]*domainState

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customises a CrawlDelay.
type Option func(*CrawlDelay)

// WithSharedSuspensions mirrors suspensions into store.
func WithSharedSuspensions(store SuspensionStore) Option {
	return func(c *CrawlDelay) { c.shared = store }
}

// WithClock replaces the clock and sleep function, for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *CrawlDelay) {
		c.now = now
		c.sleep = sleep
	}
}

// New returns a throttle with the given default delay. noDelay lists domains
// (or a "regex:" pattern) that are never delayed.
func New(delay time.Duration, noDelay string, log logger.Logger, opts ...Option) (*CrawlDelay, error) {
	set, err := pattern.Parse(noDelay, pattern.Equal)
	if err != nil {
		return nil, err
	}
	c := &CrawlDelay{
		delay:   delay,
		noDelay: set,
		log:     log,
		domains: make(map[string]*domainState),
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *CrawlDelay) state(domain string) *domainState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.domains[domain]
	if !ok {
		st = &domainState{}
		c.domains[domain] = st
	}
	return st
}

// DelayFor returns the minimum gap applied to domain.
func (c *CrawlDelay) DelayFor(domain string) time.Duration {
	if c.noDelay.Match(domain) {
		return 0
	}
	return c.delay
}

// AllowCheck blocks until domain may be checked again and returns true, or
// returns false if the domain is suspended or ctx ends while waiting.
func (c *CrawlDelay) AllowCheck(ctx context.Context, domain string) bool {
	st := c.state(domain)
	st.gate.Lock()
	defer st.gate.Unlock()

	if c.suspended(ctx, domain, st) {
		return false
	}

	if delay := c.DelayFor(domain); delay > 0 {
		c.mu.Lock()
		last := st.LastCheckedAt
		c.mu.Unlock()

		if !last.IsZero() {
			if wait := delay - c.now().Sub(last); wait > 0 {
				metrics.ObserveCrawlDelayWait(wait)
				if err := c.sleep(ctx, wait); err != nil {
					return false
				}
				// a suspension may have landed while we slept
				if c.suspended(ctx, domain, st) {
					return false
				}
			}
		}
	}

	c.mu.Lock()
	st.LastCheckedAt = c.now()
	c.mu.Unlock()
	return true
}

// suspended reports whether domain is paused, resuming it when its time has come.
func (c *CrawlDelay) suspended(ctx context.Context, domain string, st *domainState) bool {
	now := c.now()

	c.mu.Lock()
	if st.Suspended {
		if !st.ResumeAt.IsZero() && now.After(st.ResumeAt) {
			st.Suspended = false
			st.ResumeAt = time.Time{}
			st.SuspendReason = ""
		} else {
			c.mu.Unlock()
			return true
		}
	}
	c.mu.Unlock()

	if c.shared == nil {
		return false
	}
	s, ok, err := c.shared.Lookup(ctx, domain)
	if err != nil {
		c.log.Warn("Shared suspension lookup failed", logger.String("domain", domain), logger.Error(err))
		return false
	}
	if !ok || !s.Active(now) {
		return false
	}

	c.mu.Lock()
	st.Suspended = true
	st.ResumeAt = s.ResumeAt
	st.SuspendReason = s.Reason
	c.mu.Unlock()
	return true
}

// RecordChecked marks domain as just checked.
func (c *CrawlDelay) RecordChecked(domain string) {
	st := c.state(domain)
	c.mu.Lock()
	st.LastCheckedAt = c.now()
	c.mu.Unlock()
}

// Suspend stops checks against domain until resumeAt, or until Resume is
// called when resumeAt is zero.
func (c *CrawlDelay) Suspend(ctx context.Context, domain string, resumeAt time.Time, reason string) {
	st := c.state(domain)
	c.mu.Lock()
	st.Suspended = true
	st.ResumeAt = resumeAt
	st.SuspendReason = reason
	c.mu.Unlock()

	metrics.RecordSuspension(reason)
	c.log.Info("Domain suspended",
		logger.String("domain", domain),
		logger.Time("resume_at", resumeAt),
		logger.String("reason", reason),
	)

	if c.shared != nil {
		if err := c.shared.Suspend(ctx, domain, Suspension{ResumeAt: resumeAt, Reason: reason}); err != nil {
			c.log.Warn("Failed to share suspension", logger.String("domain", domain), logger.Error(err))
		}
	}
}

// Resume clears a suspension.
func (c *CrawlDelay) Resume(ctx context.Context, domain string) {
	st := c.state(domain)
	c.mu.Lock()
	st.Suspended = false
	st.ResumeAt = time.Time{}
	st.SuspendReason = ""
	c.mu.Unlock()

	if c.shared != nil {
		if err := c.shared.Clear(ctx, domain); err != nil {
			c.log.Warn("Failed to clear shared suspension", logger.String("domain", domain), logger.Error(err))
		}
	}
}

// State returns a snapshot of domain's state and whether it has been seen.
func (c *CrawlDelay) State(domain string) (DomainState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.domains[domain]
	if !ok {
		return DomainState{}, false
	}
	return st.DomainState, true
}

// ClearIndefinite lifts every suspension that has no resume time. Those last
// for the rest of a checking pass, so the pass calls this when it ends.
func (c *CrawlDelay) ClearIndefinite(ctx context.Context) int {
	c.mu.Lock()
	var domains []string
	for domain, st := range c.domains {
		if st.Suspended && st.ResumeAt.IsZero() {
			st.Suspended = false
			st.SuspendReason = ""
			domains = append(domains, domain)
		}
	}
	c.mu.Unlock()

	if c.shared != nil {
		for _, domain := range domains {
			if err := c.shared.Clear(ctx, domain); err != nil {
				c.log.Warn("Failed to clear shared suspension", logger.String("domain", domain), logger.Error(err))
			}
		}
	}
	return len(domains)
}
