// Package supervisor runs a bounded number of connection workers and reaps
// each one explicitly, whatever way it ends.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// #region types
// Outcome describes how a worker ended. Err is nil on success; a recovered
// panic is reported as an error with Panicked set.
type Outcome struct {
	ID       string
	Err      error
	Panicked bool
}

// ReapFunc observes every finished worker. It runs on the worker's goroutine
// after the worker returned, so it must not block.
type ReapFunc func(Outcome)

// Supervisor spawns workers up to a fixed limit. A worker failure never
// cancels its siblings.
type Supervisor struct {
	group  errgroup.Group
	log    *slog.Logger
	reap   ReapFunc
	active atomic.Int64
	total  atomic.Int64
}

// #endregion types

// #region constructor
// New returns a Supervisor allowing at most limit concurrent workers. A
// limit <= 0 means unbounded.
func New(limit int, log *slog.Logger, reap ReapFunc) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{log: log, reap: reap}
	if limit > 0 {
		s.group.SetLimit(limit)
	}
	return s
}

// #endregion constructor

// #region spawn
// Go runs fn as a worker. When the pool is full it blocks until a slot frees
// up, so callers should acquire a slot before taking on new work.
func (s *Supervisor) Go(ctx context.Context, id string, fn func(context.Context) error) {
	s.group.Go(func() error {
		s.run(ctx, id, fn)
		return nil
	})
}

// TryGo is Go without waiting; it reports false if the pool is full.
func (s *Supervisor) TryGo(ctx context.Context, id string, fn func(context.Context) error) bool {
	return s.group.TryGo(func() error {
		s.run(ctx, id, fn)
		return nil
	})
}

func (s *Supervisor) run(ctx context.Context, id string, fn func(context.Context) error) {
	s.active.Add(1)
	s.total.Add(1)

	out := Outcome{ID: id}
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("worker panic: %v", r)
			out.Panicked = true
			s.log.Error("worker panicked", "worker", id, "panic", r, "stack", string(debug.Stack()))
		}
		s.active.Add(-1)
		if s.reap != nil {
			s.reap(out)
		}
	}()

	out.Err = fn(ctx)
}

// #endregion spawn

// #region observe
// Wait blocks until every spawned worker has been reaped.
func (s *Supervisor) Wait() {
	_ = s.group.Wait()
}

// Active reports the number of running workers.
func (s *Supervisor) Active() int { return int(s.active.Load()) }

// Total reports the number of workers ever started.
func (s *Supervisor) Total() int { return int(s.total.Load()) }

// #endregion observe
