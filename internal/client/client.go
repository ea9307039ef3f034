// Package client streams a feature dataset to the inference server and
// collects the predicted labels. It makes exactly one attempt.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/danielpatrickdp/inference-eval/internal/dataset"
	"github.com/danielpatrickdp/inference-eval/internal/framing"
)

// #region errors
// ConnectError reports that the server could not be reached.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// #endregion errors

// #region client
// Config configures a Client.
type Config struct {
	Addr         string
	Dim          int // when > 0 every row is validated before it is sent
	DialTimeout  time.Duration
	ReplyTimeout time.Duration // 0 waits forever
	MaxReplySize int
}

// Client is a single-attempt evaluation client.
type Client struct {
	cfg Config
	log *slog.Logger
}

// New returns a Client.
func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, log: log}
}

// #endregion client

// #region run
// Run sends every non-blank line of datasetPath as one frame, then the
// end-of-stream sentinel, and returns the server's reply. The reply has one
// label per row sent, in file order.
func (c *Client) Run(ctx context.Context, datasetPath string) (framing.Reply, error) {
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return framing.Reply{}, &ConnectError{Addr: c.cfg.Addr, Err: err}
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	rows, err := dataset.OpenRows(datasetPath)
	if err != nil {
		return framing.Reply{}, err
	}
	defer rows.Close()

	sent, err := c.send(conn, rows)
	if err != nil {
		// the server may have failed first and left a reason on the wire
		if reply, rerr := c.readReply(conn, time.Second); rerr != nil && isRemote(rerr) {
			return reply, rerr
		}
		return framing.Reply{}, err
	}
	c.log.Debug("dataset sent", "rows", sent, "path", datasetPath)

	reply, err := c.readReply(conn, c.cfg.ReplyTimeout)
	if err != nil {
		return reply, err
	}
	if len(reply.Labels) != sent {
		return reply, &framing.FramingError{
			Op:  "read reply",
			Err: fmt.Errorf("%w: %d labels for %d rows", framing.ErrMalformedReply, len(reply.Labels), sent),
		}
	}
	return reply, nil
}

func (c *Client) send(conn net.Conn, rows *dataset.Rows) (int, error) {
	enc := framing.NewEncoder(conn)
	parser := framing.RowParser{Dim: c.cfg.Dim}
	sent := 0
	for rows.Next() {
		if c.cfg.Dim > 0 {
			if _, err := parser.Parse(rows.Bytes()); err != nil {
				return sent, fmt.Errorf("line %d: %w", rows.Line(), err)
			}
		}
		if err := enc.WritePayload(rows.Bytes()); err != nil {
			return sent, fmt.Errorf("send row %d: %w", sent, err)
		}
		sent++
	}
	if err := rows.Err(); err != nil {
		return sent, err
	}
	if err := enc.WriteEnd(); err != nil {
		return sent, fmt.Errorf("send end of stream: %w", err)
	}
	return sent, nil
}

func (c *Client) readReply(conn net.Conn, timeout time.Duration) (framing.Reply, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return framing.Reply{}, fmt.Errorf("set read deadline: %w", err)
		}
	}
	return framing.ReadReply(conn, c.cfg.MaxReplySize)
}

func isRemote(err error) bool {
	var re *framing.RemoteError
	return errors.As(err, &re)
}

// #endregion run
