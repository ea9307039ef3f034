package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/danielpatrickdp/inference-eval/internal/framing"
)

// #region constants
const (
	maxRetries         = 2 // max 2 retries = 3 total attempts
	defaultDialTimeout = 5 * time.Second
	defaultBackoff     = 200 * time.Millisecond
)

// #endregion constants

// #region forwarder
// Forwarder delivers a copy of each prediction batch to the metrics
// controller over a fresh connection.
type Forwarder struct {
	Addr        string
	DialTimeout time.Duration
	Backoff     time.Duration // wait before retry n is n*Backoff
}

// Forward sends reply, retrying a failed attempt up to maxRetries times.
func (f *Forwarder) Forward(ctx context.Context, reply framing.Reply) error {
	var attempts []error
	for {
		err := f.send(ctx, reply)
		if err == nil {
			return nil
		}
		attempts = append(attempts, err)
		if !shouldRetry(ctx, attempts) {
			return fmt.Errorf("forward to %s failed after %d attempts: %w", f.Addr, len(attempts), errors.Join(attempts...))
		}

		backoff := f.Backoff
		if backoff <= 0 {
			backoff = defaultBackoff
		}
		select {
		case <-time.After(time.Duration(len(attempts)) * backoff):
		case <-ctx.Done():
			attempts = append(attempts, ctx.Err())
			return fmt.Errorf("forward to %s: %w", f.Addr, errors.Join(attempts...))
		}
	}
}

func (f *Forwarder) send(ctx context.Context, reply framing.Reply) error {
	timeout := f.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", f.Addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	return framing.WriteReply(conn, reply)
}

// #endregion forwarder

// #region should-retry
// shouldRetry reports whether another attempt is allowed. attempts holds the
// errors of every attempt so far, including the one just made.
func shouldRetry(ctx context.Context, attempts []error) bool {
	if len(attempts) == 0 {
		return false
	}
	if len(attempts) > maxRetries {
		return false
	}
	return ctx.Err() == nil
}

// #endregion should-retry
