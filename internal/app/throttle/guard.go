// Package throttle implements per-source admission control: connection caps,
// an auth-failure lockout and a per-message token bucket.
package throttle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/sigrelay/internal/domain"
)

var (
	ErrBlocked            = errors.New("source blocked after repeated auth failures")
	ErrTooManyConnections = errors.New("too many connections from source")
)

type Config struct {
	MaxConnectionsPerSource int
	MessagesPerMinute       int
	MaxAuthFailures         int
	AuthLockout             time.Duration
	// IdleTTL is how long an untouched message bucket survives Sweep.
	IdleTTL time.Duration
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type Guard struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	failures map[string][]time.Time
	conns    map[string]map[domain.ConnID]struct{}
	buckets  map[string]*bucket
}

func NewGuard(cfg Config) *Guard {
	if cfg.MaxConnectionsPerSource <= 0 {
		cfg.MaxConnectionsPerSource = 5
	}
	if cfg.MessagesPerMinute <= 0 {
		cfg.MessagesPerMinute = 60
	}
	if cfg.MaxAuthFailures <= 0 {
		cfg.MaxAuthFailures = 5
	}
	if cfg.AuthLockout <= 0 {
		cfg.AuthLockout = 5 * time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &Guard{
		cfg:      cfg,
		now:      time.Now,
		failures: make(map[string][]time.Time),
		conns:    make(map[string]map[domain.ConnID]struct{}),
		buckets:  make(map[string]*bucket),
	}
}

// freshFailures drops attempts older than the lockout window. Caller holds mu.
func (g *Guard) freshFailures(source string, now time.Time) []time.Time {
	attempts := g.failures[source]
	windowStart := now.Add(-g.cfg.AuthLockout)

	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		delete(g.failures, source)
		return nil
	}
	g.failures[source] = fresh
	return fresh
}

func (g *Guard) blocked(source string, now time.Time) bool {
	return len(g.freshFailures(source, now)) >= g.cfg.MaxAuthFailures
}

// Admit is the connect-time admission check. It tracks id against source
// when the source is neither locked out nor at its connection cap.
func (g *Guard) Admit(source string, id domain.ConnID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.blocked(source, g.now()) {
		log.Warn().Str("module", "throttle").Str("source", source).Msg("source blocked after auth failures")
		return ErrBlocked
	}
	set, ok := g.conns[source]
	if len(set) >= g.cfg.MaxConnectionsPerSource {
		log.Warn().Str("module", "throttle").Str("source", source).Int("conns", len(set)).Msg("too many connections")
		return ErrTooManyConnections
	}
	if !ok {
		set = make(map[domain.ConnID]struct{})
		g.conns[source] = set
	}
	set[id] = struct{}{}
	return nil
}

func (g *Guard) Release(source string, id domain.ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.conns[source]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(g.conns, source)
	}
}

// AllowMessage consumes one token from the source's message bucket.
func (g *Guard) AllowMessage(source string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	b, ok := g.buckets[source]
	if !ok {
		n := g.cfg.MessagesPerMinute
		b = &bucket{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)}
		g.buckets[source] = b
	}
	b.lastSeen = now
	if !b.lim.AllowN(now, 1) {
		log.Warn().Str("module", "throttle").Str("source", source).Msg("message rate exceeded")
		return false
	}
	return true
}

func (g *Guard) RecordFailure(source string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[source] = append(g.failures[source], g.now())
	log.Warn().Str("module", "throttle").Str("source", source).Int("failures", len(g.failures[source])).Msg("auth failure recorded")
}

func (g *Guard) ClearFailures(source string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, source)
}

// Sweep drops expired failure logs and idle message buckets.
func (g *Guard) Sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for source := range g.failures {
		g.freshFailures(source, now)
	}
	for source, b := range g.buckets {
		if now.Sub(b.lastSeen) > g.cfg.IdleTTL && len(g.conns[source]) == 0 {
			delete(g.buckets, source)
		}
	}
}

// Run sweeps every interval until ctx is done.
func (g *Guard) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			g.Sweep()
		}
	}
}
