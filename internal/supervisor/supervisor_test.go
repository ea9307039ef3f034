package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (c *collector) reap(o Outcome) {
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	c.mu.Unlock()
}

func (c *collector) byID() map[string]Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := make(map[string]Outcome, len(c.outcomes))
	for _, o := range c.outcomes {
		m[o.ID] = o
	}
	return m
}

func TestSupervisor_ReapsEveryOutcome(t *testing.T) {
	var c collector
	s := New(4, nil, c.reap)
	ctx := context.Background()
	boom := errors.New("boom")

	s.Go(ctx, "ok", func(context.Context) error { return nil })
	s.Go(ctx, "fail", func(context.Context) error { return boom })
	s.Go(ctx, "panic", func(context.Context) error { panic("bad row") })
	s.Go(ctx, "after", func(context.Context) error { return nil })
	s.Wait()

	got := c.byID()
	require.Len(t, got, 4)
	assert.NoError(t, got["ok"].Err)
	assert.ErrorIs(t, got["fail"].Err, boom)
	assert.True(t, got["panic"].Panicked)
	assert.Error(t, got["panic"].Err)
	assert.NoError(t, got["after"].Err, "a failing sibling does not affect later workers")

	assert.Equal(t, 0, s.Active())
	assert.Equal(t, 4, s.Total())
}

func TestSupervisor_BoundsConcurrency(t *testing.T) {
	const limit = 3
	s := New(limit, nil, nil)
	ctx := context.Background()

	var running, peak atomic.Int64
	release := make(chan struct{})

	for i := 0; i < 10; i++ {
		go s.Go(ctx, fmt.Sprintf("w%d", i), func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		})
	}

	require.Eventually(t, func() bool { return s.Active() == limit }, time.Second, 5*time.Millisecond)
	assert.False(t, s.TryGo(ctx, "extra", func(context.Context) error { return nil }))

	close(release)
	require.Eventually(t, func() bool { return s.Total() == 10 && s.Active() == 0 }, 2*time.Second, 5*time.Millisecond)
	s.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(limit))
}

func TestSupervisor_PassesContext(t *testing.T) {
	s := New(0, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen error
	s.Go(ctx, "ctx", func(ctx context.Context) error {
		seen = ctx.Err()
		return nil
	})
	s.Wait()
	assert.ErrorIs(t, seen, context.Canceled)
}
