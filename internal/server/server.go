// Package server implements the inference server: it accepts framed feature
// rows, runs each through a model executor and replies with the predicted
// labels, one worker per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/inference-eval/internal/executor"
	"github.com/danielpatrickdp/inference-eval/internal/framing"
	"github.com/danielpatrickdp/inference-eval/internal/supervisor"
)

// errorReplyTimeout bounds the best-effort write of a failure indication.
const errorReplyTimeout = 2 * time.Second

// #region server
// Server owns the listener loop. Each accepted connection gets its own
// worker and its own executor instance.
type Server struct {
	cfg    Config
	loader executor.Loader
	log    *slog.Logger
	parser framing.RowParser
	fwd    *Forwarder

	handled atomic.Int64
	failed  atomic.Int64
}

// New returns a Server that loads executors through loader.
func New(cfg Config, loader executor.Loader, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		loader: loader,
		log:    log,
		parser: framing.RowParser{Dim: cfg.Dim},
	}
	if cfg.ControllerAddr != "" {
		s.fwd = &Forwarder{Addr: cfg.ControllerAddr}
	}
	return s
}

// Handled reports the number of connections that completed successfully.
func (s *Server) Handled() int { return int(s.handled.Load()) }

// Failed reports the number of connections that ended in FAILED.
func (s *Server) Failed() int { return int(s.failed.Load()) }

// #endregion server

// #region serve
// ListenAndServe binds addr and serves until ctx is cancelled. A bind
// failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes the
// listener and waits for in-flight workers. Workers run detached from ctx so
// a shutdown lets them finish; each is still bounded by IdleTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	sup := supervisor.New(s.cfg.MaxWorkers, s.log, s.reap)
	workCtx := context.WithoutCancel(ctx)
	s.log.Info("inference server listening", "addr", ln.Addr().String(), "max_workers", s.cfg.MaxWorkers)

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				acceptErr = fmt.Errorf("accept: %w", err)
			}
			break
		}
		id := uuid.NewString()
		// blocks while the pool is full
		sup.Go(workCtx, id, func(ctx context.Context) error {
			return s.handle(ctx, id, conn)
		})
	}

	s.log.Info("listener closed, waiting for workers", "active", sup.Active())
	sup.Wait()
	s.log.Info("inference server stopped", "connections", sup.Total())
	return acceptErr
}

func (s *Server) reap(out supervisor.Outcome) {
	switch {
	case out.Panicked:
		s.failed.Add(1)
		connectionsTotal.WithLabelValues("panic").Inc()
	case out.Err != nil:
		s.failed.Add(1)
		connectionsTotal.WithLabelValues("failed").Inc()
	default:
		s.handled.Add(1)
		connectionsTotal.WithLabelValues("ok").Inc()
	}
}

// #endregion serve

// #region handle
// handle drives one connection through ACCEPTED, RECEIVING, INFERRING,
// REPLYING and CLOSED. Any error moves it to FAILED; the executor and socket
// are released on every path.
func (s *Server) handle(ctx context.Context, id string, conn net.Conn) (err error) {
	log := s.log.With("conn_id", id, "remote", conn.RemoteAddr().String())
	sess := newSession(id, log)
	activeWorkers.Inc()
	defer func() {
		if err != nil {
			sess.fail(err)
			s.sendError(conn, err, log)
		}
		conn.Close()
		if err == nil {
			sess.advance(StateClosed)
		}
		activeWorkers.Dec()
	}()

	exec, err := s.loader.Load(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := exec.Close(); cerr != nil {
			log.Warn("executor close failed", "error", cerr)
		}
	}()

	batch, err := s.stream(ctx, conn, exec, sess)
	if err != nil {
		return err
	}
	log.Debug("stream complete", "rows", batch.Len())

	sess.advance(StateReplying)
	reply := batch.Reply()
	if s.cfg.IdleTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if err := framing.WriteReply(conn, reply); err != nil {
		return err
	}
	log.Info("batch answered", "rows", batch.Len())

	if s.fwd != nil {
		if ferr := s.fwd.Forward(ctx, reply); ferr != nil {
			forwardFailures.Inc()
			log.Error("forward to controller failed", "controller", s.fwd.Addr, "error", ferr)
		}
	}
	return nil
}

// stream alternates RECEIVING and INFERRING: every decoded row is run
// through exec before the next frame is read, so only labels accumulate.
// Every frame read is bounded by IdleTimeout.
func (s *Server) stream(ctx context.Context, conn net.Conn, exec executor.Executor, sess *session) (PredictionBatch, error) {
	dec := framing.NewDecoder(conn, s.cfg.MaxRecordSize)
	var batch PredictionBatch
	for i := 0; ; i++ {
		sess.advance(StateReceiving)
		if s.cfg.IdleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
				return PredictionBatch{}, fmt.Errorf("set read deadline: %w", err)
			}
		}
		row, err := dec.NextRow(s.parser)
		if errors.Is(err, framing.ErrEndOfStream) {
			return batch, nil
		}
		if err != nil {
			return PredictionBatch{}, fmt.Errorf("row %d: %w", i, err)
		}

		sess.advance(StateInferring)
		label, err := s.inferRow(ctx, exec, row)
		if err != nil {
			return PredictionBatch{}, fmt.Errorf("row %d: %w", i, err)
		}
		batch.Records = append(batch.Records, PredictionRecord{Index: i, Label: label})
	}
}

func (s *Server) inferRow(ctx context.Context, exec executor.Executor, row framing.FeatureRow) (int, error) {
	start := time.Now()
	scores, err := exec.Infer(ctx, row)
	inferenceSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, asInferenceError(err)
	}
	label, err := executor.Argmax(scores)
	if err != nil {
		return 0, asInferenceError(err)
	}
	rowsInferred.Inc()
	return label, nil
}

// sendError writes a failure indication if the peer is still listening.
func (s *Server) sendError(conn net.Conn, cause error, log *slog.Logger) {
	if err := conn.SetWriteDeadline(time.Now().Add(errorReplyTimeout)); err != nil {
		return
	}
	if err := framing.WriteReply(conn, framing.Reply{Error: cause.Error()}); err != nil {
		log.Debug("error reply not delivered", "error", err)
	}
}

func asInferenceError(err error) error {
	var ie *executor.InferenceError
	if errors.As(err, &ie) {
		return err
	}
	return &executor.InferenceError{Err: err}
}

// #endregion handle
