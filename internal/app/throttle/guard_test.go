package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGuard(cfg Config) (*Guard, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	g := NewGuard(cfg)
	g.now = clk.now
	return g, clk
}

func connCount(g *Guard, source string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns[source])
}

func TestGuard_AuthLockout(t *testing.T) {
	g, clk := newTestGuard(Config{MaxAuthFailures: 3, AuthLockout: time.Minute})

	for i := 0; i < 2; i++ {
		g.RecordFailure("1.2.3.4")
	}
	require.NoError(t, g.Admit("1.2.3.4", "c1"))
	g.Release("1.2.3.4", "c1")

	g.RecordFailure("1.2.3.4")
	assert.ErrorIs(t, g.Admit("1.2.3.4", "c2"), ErrBlocked)
	assert.Zero(t, connCount(g, "1.2.3.4"))
	assert.NoError(t, g.Admit("5.6.7.8", "c3"), "other sources unaffected")

	clk.advance(61 * time.Second)
	assert.NoError(t, g.Admit("1.2.3.4", "c4"), "failures expire after the lockout window")
}

func TestGuard_ClearFailures(t *testing.T) {
	g, _ := newTestGuard(Config{MaxAuthFailures: 2, AuthLockout: time.Minute})
	g.RecordFailure("ip")
	g.RecordFailure("ip")
	require.ErrorIs(t, g.Admit("ip", "c1"), ErrBlocked)

	g.ClearFailures("ip")
	assert.NoError(t, g.Admit("ip", "c1"))
}

func TestGuard_ConnectionCap(t *testing.T) {
	g, _ := newTestGuard(Config{MaxConnectionsPerSource: 2})

	require.NoError(t, g.Admit("ip", "c1"))
	require.NoError(t, g.Admit("ip", "c2"))
	assert.ErrorIs(t, g.Admit("ip", "c3"), ErrTooManyConnections)
	assert.Equal(t, 2, connCount(g, "ip"))

	g.Release("ip", "c1")
	assert.NoError(t, g.Admit("ip", "c3"))

	g.Release("ip", "c2")
	g.Release("ip", "c3")
	g.Release("ip", "c3")
	assert.Zero(t, connCount(g, "ip"))
	g.mu.Lock()
	assert.NotContains(t, g.conns, "ip")
	g.mu.Unlock()
}

func TestGuard_MessageRate(t *testing.T) {
	g, clk := newTestGuard(Config{MessagesPerMinute: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, g.AllowMessage("ip"), "message %d", i)
	}
	assert.False(t, g.AllowMessage("ip"))
	assert.True(t, g.AllowMessage("other"))

	clk.advance(21 * time.Second)
	assert.True(t, g.AllowMessage("ip"), "one token refilled")
	assert.False(t, g.AllowMessage("ip"))
}

func TestGuard_SweepDropsIdleState(t *testing.T) {
	g, clk := newTestGuard(Config{MessagesPerMinute: 10, AuthLockout: time.Minute, IdleTTL: time.Minute})
	g.AllowMessage("idle")
	g.AllowMessage("busy")
	require.NoError(t, g.Admit("busy", "c1"))
	g.RecordFailure("idle")

	clk.advance(2 * time.Minute)
	g.Sweep()

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.NotContains(t, g.buckets, "idle")
	assert.Contains(t, g.buckets, "busy")
	assert.Empty(t, g.failures)
}
